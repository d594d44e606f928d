package mgo

import (
	mgo "WaRelay/data/database/mgo/mongoutil"
	"WaRelay/logger"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type MongoManager struct {
	mu        sync.RWMutex
	client    *mgo.Client
	readyCh   chan struct{} // 首次就绪通知；只 close 一次
	readyOnce sync.Once

	lastErr atomic.Value // error
}

var globalMgr = MongoManager{readyCh: make(chan struct{})}

// StartAsync 运行到 ctx.Done()；首次连上 close readyCh，掉线后自动重连
func StartAsync(ctx context.Context, cfg *mgo.Config) {
	log := logger.Named("mongo")
	go func() {
		const (
			baseBackoff = 200 * time.Millisecond
			maxBackoff  = 5 * time.Second
			healthEvery = 10 * time.Second
			failThresh  = 3
		)

		for {
			// 连接阶段（退避重试）
			attempt := 0
			for {
				if ctx.Err() != nil {
					return
				}
				cli, err := mgo.NewMongoDB(ctx, cfg)
				if err == nil {
					globalMgr.setClient(cli)
					globalMgr.readyOnce.Do(func() { close(globalMgr.readyCh) })
					log.Info("mongo connected", zap.String("database", cfg.Database))
					break
				}
				globalMgr.lastErr.Store(err)
				log.Warn("mongo connect failed", zap.Int("attempt", attempt), zap.Error(err))

				backoff := baseBackoff << attempt
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				jitter := time.Duration(rand.Int63n(int64(backoff / 5))) // 0~20%
				timer := time.NewTimer(backoff - jitter/2)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
				if attempt < 6 {
					attempt++
				}
			}

			// 健康检查阶段；连续失败则回到连接阶段
			if stop := globalMgr.watch(ctx, healthEvery, failThresh, log); stop {
				return
			}
		}
	}()
}

func (m *MongoManager) setClient(c *mgo.Client) {
	m.mu.Lock()
	m.client = c
	m.mu.Unlock()
}

func (m *MongoManager) drop() {
	m.mu.Lock()
	if m.client != nil {
		_ = m.client.Disconnect(context.Background())
		m.client = nil
	}
	m.mu.Unlock()
}

func (m *MongoManager) watch(ctx context.Context, every time.Duration, thresh int, log *zap.Logger) (stop bool) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	fail := 0
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return true
		case <-ticker.C:
			m.mu.RLock()
			c := m.client
			m.mu.RUnlock()
			if c == nil {
				return false
			}
			if err := c.GetDB().Client().Ping(ctx, nil); err != nil {
				fail++
				m.lastErr.Store(err)
				if fail >= thresh {
					log.Warn("mongo unhealthy, reconnecting", zap.Error(err))
					m.drop()
					return false
				}
				continue
			}
			fail = 0
		}
	}
}

func Manager() *MongoManager {
	return &globalMgr
}

// Err 最近一次错误
func Err() error {
	if v := globalMgr.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func TryGetDB() (*mongo.Database, bool) {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	if globalMgr.client == nil {
		return nil, false
	}
	return globalMgr.client.GetDB(), true
}

// WaitReady 阻塞到首次连接成功或 ctx 结束
func WaitReady(ctx context.Context, m *MongoManager) error {
	m.mu.RLock()
	ready := m.client != nil
	m.mu.RUnlock()
	if ready {
		return nil
	}
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		if err := Err(); err != nil {
			return fmt.Errorf("mongo not ready: %w", err)
		}
		return ctx.Err()
	}
}
