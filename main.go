package main

import (
	"WaRelay/config"
	mgo "WaRelay/data/database/mgo/mongoutil"
	"WaRelay/global"
	"WaRelay/logger"
	"WaRelay/middleware"
	midsec "WaRelay/middleware/security"
	"WaRelay/module/concat"
	"WaRelay/module/inbound"
	"WaRelay/module/message"
	"WaRelay/service/kafka"
	mgoSrv "WaRelay/service/mgo"
	"WaRelay/service/nacos"
	"WaRelay/service/natsx"
	"WaRelay/service/pg"
	redisSrv "WaRelay/service/storage/redis"
	"WaRelay/tools"
	"WaRelay/tools/ids"
	"WaRelay/tools/safe"
	jwtsec "WaRelay/tools/security"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shopify/sarama"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const natsReadyBiz = "ready"

func main() {
	if err := run(); err != nil {
		logger.Error("exit", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

// app 持有需要在退出时释放的资源
type app struct {
	cfg     *global.AppConfig
	log     *zap.Logger
	rdb     redis.UniversalClient
	nats    *natsx.NatsManager
	kclient sarama.Client
	closers []func()
}

func (a *app) onClose(f func()) { a.closers = append(a.closers, f) }

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func run() error {
	cfg, err := global.LoadConfig()
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.Log.Level)
	ids.SetNodeID(cfg.NodeID)
	a := &app{cfg: cfg, log: logger.Named("main")}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// redis
	a.rdb, err = redisSrv.NewClient(ctx, redisSrv.Config{
		Addrs: cfg.Redis.Addrs, Password: cfg.Redis.Password, DB: cfg.Redis.DB, PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return err
	}
	a.onClose(func() { _ = a.rdb.Close() })

	// 传输层先起连接，通知发布要用
	if cfg.Nats.Enabled {
		if err := a.startNats(); err != nil {
			return err
		}
	}
	if cfg.Kafka.Enabled {
		if err := a.startKafkaClient(); err != nil {
			return err
		}
	}

	// 持久层 + 通知
	base, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	sink, err := a.wrapNotify(base)
	if err != nil {
		return err
	}

	// 引擎
	var pipe *inbound.Pipeline
	opts := []concat.Option{
		concat.WithLogger(logger.Named("concat")),
		concat.WithMetrics(concat.NewMetrics(nil)),
	}
	if cfg.SinglePassthrough {
		opts = append(opts, concat.WithDiscardHook(func(ctx context.Context, b *concat.Block) error {
			return pipe.PassthroughHook()(ctx, b)
		}))
	}
	engine, err := concat.NewEngine(concat.NewRedisStore(a.rdb), sink, cfg.Concat, opts...)
	if err != nil {
		return err
	}

	var popts []inbound.PipelineOption
	if cfg.Dedupe.Enabled {
		popts = append(popts, inbound.WithDeduper(inbound.NewSeenIndex(a.rdb, inbound.WithTTL(cfg.Dedupe.TTL))))
	}
	pipe = inbound.NewPipeline(engine, sink, logger.Named("inbound"), popts...)

	safe.SafeGo("concat-sweeper", func() { engine.RunSweeper(ctx) })

	if cfg.Nacos.Enabled {
		a.startNacos(ctx, engine)
	}
	if cfg.Nats.Enabled {
		if err := a.subscribeNats(pipe); err != nil {
			return err
		}
	}
	if cfg.Kafka.Enabled {
		reg := kafka.NewRegistry()
		reg.Register(cfg.Kafka.InboundTopic, pipe.KafkaHandler())
		kc := a.kafkaConfig()
		safe.SafeGo("kafka-consumer", func() {
			if err := kafka.RunConsumerGroup(ctx, kc, reg, logger.Named("kafka")); err != nil {
				a.log.Error("kafka consumer stopped", zap.Error(err))
			}
		})
	}

	return a.serveHTTP(ctx, pipe, engine)
}

func (a *app) openStore(ctx context.Context) (message.Store, error) {
	switch a.cfg.Store.Driver {
	case global.StorePostgres:
		pool, err := pg.Open(ctx, pg.Config{DSN: a.cfg.Postgres.DSN, MaxConns: a.cfg.Postgres.MaxConns})
		if err != nil {
			return nil, err
		}
		a.onClose(pool.Close)
		s := message.NewPgStore(pool)
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return s, nil

	case global.StoreMongo:
		mc := a.cfg.Mongo
		mctx, cancel := context.WithCancel(context.Background())
		a.onClose(cancel)
		mgoSrv.StartAsync(mctx, &mgo.Config{
			Uri: mc.URI, Address: mc.Address, Database: mc.Database,
			Username: mc.Username, Password: mc.Password, AuthSource: mc.AuthSource, MaxPoolSize: mc.MaxPoolSize,
		})
		wctx, wcancel := context.WithTimeout(ctx, 30*time.Second)
		defer wcancel()
		if err := mgoSrv.WaitReady(wctx, mgoSrv.Manager()); err != nil {
			return nil, err
		}
		db, _ := mgoSrv.TryGetDB()
		s := message.NewMongoStore(db)
		if err := s.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return s, nil

	default:
		a.log.Warn("memory message store in use, rows are lost on restart")
		return message.NewMemStore(), nil
	}
}

func (a *app) wrapNotify(s message.Store) (message.Store, error) {
	var pub message.Publisher
	switch a.cfg.Notify.Driver {
	case global.NotifyNats:
		pub = message.NewNatsPublisher(a.nats, natsReadyBiz)
	case global.NotifyKafka:
		p, err := kafka.NewSyncProducer(a.kclient)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = p.Close() })
		topic := a.cfg.Notify.Target
		if topic == "" {
			topic = a.cfg.Kafka.ReadyTopic
		}
		pub = message.NewKafkaPublisher(p, topic)
	case global.NotifyRedis:
		channel := a.cfg.Notify.Target
		if channel == "" {
			channel = "message:ready"
		}
		pub = message.NewRedisPublisher(a.rdb, channel)
	default:
		return s, nil
	}
	return message.NewNotifyingStore(s, pub, logger.Named("notify")), nil
}

func (a *app) startNats() error {
	c := a.cfg.Nats
	mgr, err := natsx.NewNatsManager(natsx.NatsxConfig{
		Servers: c.Servers, Name: "warelay", User: c.User, Password: c.Password,
	}, natsx.NatsxIdemMiddleware(natsx.NewRedisIdem(a.rdb, "natsx:idem:", time.Hour), 0, logger.Named("natsx")))
	if err != nil {
		return err
	}
	a.nats = mgr
	a.onClose(func() { _ = mgr.Close() })

	mode := tools.ParseMode(c.Mode)
	ready := c.ReadySubject
	if a.cfg.Notify.Target != "" && a.cfg.Notify.Driver == global.NotifyNats {
		ready = a.cfg.Notify.Target
	}
	return mgr.RegisterRoute(natsx.NatsxRoute{Biz: natsReadyBiz, Subject: ready, Mode: mode, Durable: c.Durable + "-ready"})
}

func (a *app) subscribeNats(pipe *inbound.Pipeline) error {
	c := a.cfg.Nats
	if err := a.nats.RegisterRoute(natsx.NatsxRoute{
		Biz:     "inbound",
		Subject: c.Subject,
		Mode:    tools.ParseMode(c.Mode),
		Queue:   c.Queue,
		Durable: c.Durable,
		AckWait: 30 * time.Second,
	}); err != nil {
		return err
	}
	return a.nats.Subscribe("inbound", pipe.NatsHandler())
}

func (a *app) kafkaConfig() kafka.Config {
	kc := kafka.DefaultConfig()
	kc.Brokers = a.cfg.Kafka.Brokers
	kc.GroupID = a.cfg.Kafka.GroupID
	kc.InboundTopic = a.cfg.Kafka.InboundTopic
	kc.ReadyTopic = a.cfg.Kafka.ReadyTopic
	kc.AutoCreateTopics = a.cfg.Kafka.AutoCreateTopics
	return kc
}

func (a *app) startKafkaClient() error {
	kc := a.kafkaConfig()
	client, err := kafka.NewClient(kc)
	if err != nil {
		return err
	}
	a.kclient = client
	a.onClose(func() { _ = client.Close() })

	if kc.AutoCreateTopics {
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			return err
		}
		// admin 与 client 共享连接，不单独 Close
		if err := kafka.EnsureTopics(admin, []string{kc.InboundTopic, kc.ReadyTopic}, kc, logger.Named("kafka")); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) startNacos(ctx context.Context, engine *concat.Engine) {
	n := a.cfg.Nacos
	client, err := nacos.NewConfigClient(nacos.Config{
		Host: n.Host, Port: n.Port, Namespace: n.Namespace, Username: n.Username, Password: n.Password,
	})
	if err != nil {
		a.log.Warn("nacos disabled", zap.Error(err))
		return
	}
	w := config.NewWatcher(client, n.DataID, n.Group, engine, logger.Named("nacos"))
	if err := w.Start(ctx); err != nil {
		// 配置中心不可用时用本地配置继续运行
		a.log.Warn("nacos watch failed, using local config", zap.Error(err))
	}
}

func (a *app) serveHTTP(ctx context.Context, pipe *inbound.Pipeline, engine *concat.Engine) error {
	if a.cfg.Admin.JWTSecret != "" {
		midsec.Configure(jwtsec.Options{Secret: []byte(a.cfg.Admin.JWTSecret), Alg: a.cfg.Admin.Alg, TTL: a.cfg.Admin.TokenTTL})
	} else {
		a.log.Warn("ADMIN_JWT_SECRET empty, admin routes will reject every request")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	middleware.Manager().Add(middleware.AccessLog(logger.Named("http"), "/metrics", "/healthz"))
	r.Use(gin.Recovery(), middleware.Manager().Use())
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	inbound.RegisterRoutes(r, inbound.NewHTTPHandler(pipe, engine, logger.Named("http")))

	srv := &http.Server{Addr: a.cfg.HTTP.Addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	safe.SafeGo("http", func() {
		a.log.Info("http listening", zap.String("addr", a.cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	a.log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
