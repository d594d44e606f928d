package global

import (
	"WaRelay/module/concat"
	"WaRelay/tools"
	"WaRelay/tools/errs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"

	NotifyNone  = "none"
	NotifyNats  = "nats"
	NotifyKafka = "kafka"
	NotifyRedis = "redis"
)

type AppConfig struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	NodeID   int64          `yaml:"nodeId"` // 雪花节点号
	Admin    AdminConfig    `yaml:"admin"`
	Redis    RedisConfig    `yaml:"redis"`
	Store    StoreConfig    `yaml:"store"`
	Postgres PostgresConfig `yaml:"postgres"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Notify   NotifyConfig   `yaml:"notify"`
	Nats     NatsConfig     `yaml:"nats"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Nacos    NacosConfig    `yaml:"nacos"`
	Concat   concat.Config  `yaml:"concat"`

	// SinglePassthrough 单条消息的 block 按原消息落库，而不是丢弃
	SinglePassthrough bool         `yaml:"singlePassthrough"`
	Dedupe            DedupeConfig `yaml:"dedupe"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type AdminConfig struct {
	JWTSecret string        `yaml:"jwtSecret"`
	Alg       string        `yaml:"alg"`
	TokenTTL  time.Duration `yaml:"tokenTTL"`
}

type RedisConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	PoolSize int      `yaml:"poolSize"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"` // memory/postgres/mongo
}

type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
}

type MongoConfig struct {
	URI         string   `yaml:"uri"`
	Address     []string `yaml:"address"`
	Database    string   `yaml:"database"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	AuthSource  string   `yaml:"authSource"`
	MaxPoolSize int      `yaml:"maxPoolSize"`
}

type NotifyConfig struct {
	Driver string `yaml:"driver"` // none/nats/kafka/redis
	// Target NATS biz / Kafka topic / Redis channel
	Target string `yaml:"target"`
}

type NatsConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Servers      []string `yaml:"servers"`
	User         string   `yaml:"user"`
	Password     string   `yaml:"password"`
	Mode         string   `yaml:"mode"` // core/js_push
	Subject      string   `yaml:"subject"`
	Queue        string   `yaml:"queue"`
	Durable      string   `yaml:"durable"`
	ReadySubject string   `yaml:"readySubject"`
}

type KafkaConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Brokers          []string `yaml:"brokers"`
	GroupID          string   `yaml:"groupId"`
	InboundTopic     string   `yaml:"inboundTopic"`
	ReadyTopic       string   `yaml:"readyTopic"`
	AutoCreateTopics bool     `yaml:"autoCreateTopics"`
}

type NacosConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      uint64 `yaml:"port"`
	Namespace string `yaml:"namespace"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	DataID    string `yaml:"dataId"`
	Group     string `yaml:"group"`
}

type DedupeConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

func Default() *AppConfig {
	return &AppConfig{
		HTTP:   HTTPConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info"},
		NodeID: 1,
		Admin:  AdminConfig{Alg: "HS256", TokenTTL: 2 * time.Hour},
		Redis:  RedisConfig{Addrs: []string{"127.0.0.1:6379"}, PoolSize: 32},
		Store:  StoreConfig{Driver: StoreMemory},
		Mongo:  MongoConfig{Database: "warelay", MaxPoolSize: 20},
		Notify: NotifyConfig{Driver: NotifyNone},
		Nats: NatsConfig{
			Servers:      []string{"nats://127.0.0.1:4222"},
			Mode:         "core",
			Subject:      "wa.inbound",
			Queue:        "warelay",
			Durable:      "warelay-inbound",
			ReadySubject: "wa.message.ready",
		},
		Kafka: KafkaConfig{
			Brokers:          []string{"127.0.0.1:9092"},
			GroupID:          "warelay-inbound",
			InboundTopic:     "wa.inbound",
			ReadyTopic:       "wa.message.ready",
			AutoCreateTopics: true,
		},
		Nacos:  NacosConfig{Host: "127.0.0.1", Port: 8848, DataID: "warelay-concat.yaml", Group: "DEFAULT_GROUP"},
		Concat: concat.DefaultConfig(),
		Dedupe: DedupeConfig{TTL: 24 * time.Hour},
	}
}

// LoadConfig 默认值 -> CONFIG_FILE(YAML) -> 环境变量
func LoadConfig() (*AppConfig, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.WrapMsg(err, "read config file", "path", path)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errs.ErrArgs.WrapMsg(err.Error(), "path", path)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(c *AppConfig) {
	c.HTTP.Addr = tools.GetEnv("HTTP_ADDR", c.HTTP.Addr)
	c.Log.Level = tools.GetEnv("LOG_LEVEL", c.Log.Level)
	c.NodeID = int64(tools.GetEnvInt("NODE_ID", int(c.NodeID)))
	c.Admin.JWTSecret = tools.GetEnv("ADMIN_JWT_SECRET", c.Admin.JWTSecret)

	c.Redis.Addrs = tools.GetEnvList("REDIS_ADDRS", c.Redis.Addrs)
	c.Redis.Password = tools.GetEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = tools.GetEnvInt("REDIS_DB", c.Redis.DB)

	c.Store.Driver = tools.GetEnv("STORE_DRIVER", c.Store.Driver)
	c.Postgres.DSN = tools.GetEnv("PG_DSN", c.Postgres.DSN)
	c.Mongo.URI = tools.GetEnv("MONGO_URI", c.Mongo.URI)
	c.Mongo.Database = tools.GetEnv("MONGO_DATABASE", c.Mongo.Database)

	c.Notify.Driver = tools.GetEnv("NOTIFY_DRIVER", c.Notify.Driver)
	c.Notify.Target = tools.GetEnv("NOTIFY_TARGET", c.Notify.Target)

	c.Nats.Enabled = tools.GetEnvBool("NATS_ENABLED", c.Nats.Enabled)
	c.Nats.Servers = tools.GetEnvList("NATS_SERVERS", c.Nats.Servers)
	c.Nats.Mode = tools.GetEnv("NATS_MODE", c.Nats.Mode)
	c.Nats.Subject = tools.GetEnv("NATS_SUBJECT", c.Nats.Subject)

	c.Kafka.Enabled = tools.GetEnvBool("KAFKA_ENABLED", c.Kafka.Enabled)
	c.Kafka.Brokers = tools.GetEnvList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.GroupID = tools.GetEnv("KAFKA_GROUP_ID", c.Kafka.GroupID)
	c.Kafka.InboundTopic = tools.GetEnv("KAFKA_INBOUND_TOPIC", c.Kafka.InboundTopic)

	c.Nacos.Enabled = tools.GetEnvBool("NACOS_ENABLED", c.Nacos.Enabled)
	c.Nacos.Host = tools.GetEnv("NACOS_HOST", c.Nacos.Host)
	c.Nacos.Namespace = tools.GetEnv("NACOS_NAMESPACE", c.Nacos.Namespace)
	c.Nacos.Username = tools.GetEnv("NACOS_USERNAME", c.Nacos.Username)
	c.Nacos.Password = tools.GetEnv("NACOS_PASSWORD", c.Nacos.Password)

	c.Concat.IdleWindow = tools.GetEnvDuration("CONCAT_IDLE_WINDOW", c.Concat.IdleWindow)
	c.Concat.TTLCeiling = tools.GetEnvDuration("CONCAT_TTL_CEILING", c.Concat.TTLCeiling)
	c.Concat.MaxMessages = tools.GetEnvInt("CONCAT_MAX_MESSAGES", c.Concat.MaxMessages)
	c.Concat.SweepInterval = tools.GetEnvDuration("CONCAT_SWEEP_INTERVAL", c.Concat.SweepInterval)
	c.Concat.SameTypeOnly = tools.GetEnvBool("CONCAT_SAME_TYPE_ONLY", c.Concat.SameTypeOnly)
	c.Concat.Location = tools.GetEnv("CONCAT_LOCATION", c.Concat.Location)
	c.SinglePassthrough = tools.GetEnvBool("CONCAT_SINGLE_PASSTHROUGH", c.SinglePassthrough)
	c.Dedupe.Enabled = tools.GetEnvBool("DEDUPE_ENABLED", c.Dedupe.Enabled)
}

func (c *AppConfig) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return errs.ErrArgs.WrapMsg("postgres dsn required", "driver", c.Store.Driver)
		}
	case StoreMongo:
		if c.Mongo.URI == "" && len(c.Mongo.Address) == 0 {
			return errs.ErrArgs.WrapMsg("mongo uri or address required", "driver", c.Store.Driver)
		}
	default:
		return errs.ErrArgs.WrapMsg("unknown store driver", "driver", c.Store.Driver)
	}
	switch c.Notify.Driver {
	case NotifyNone, NotifyRedis:
	case NotifyNats:
		if !c.Nats.Enabled {
			return errs.ErrArgs.WrapMsg("nats notify requires nats.enabled")
		}
	case NotifyKafka:
		if !c.Kafka.Enabled {
			return errs.ErrArgs.WrapMsg("kafka notify requires kafka.enabled")
		}
	default:
		return errs.ErrArgs.WrapMsg("unknown notify driver", "driver", c.Notify.Driver)
	}
	if len(c.Redis.Addrs) == 0 {
		return errs.ErrArgs.WrapMsg("redis addrs required")
	}
	return c.Concat.Validate()
}
