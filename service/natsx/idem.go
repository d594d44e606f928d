package natsx

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// IdemStore 首次见到 key 返回 false 并记录，ttl 内再次出现返回 true
type IdemStore interface {
	SeenOnce(ctx context.Context, key string, ttl time.Duration) (seen bool, err error)
}

// ----- 内存实现（单进程） -----
type memIdem struct {
	mu  sync.Mutex
	m   map[string]time.Time // key -> expireAt
	ttl time.Duration
	now func() time.Time
}

func NewMemIdem(defaultTTL time.Duration) IdemStore {
	return &memIdem{m: make(map[string]time.Time), ttl: defaultTTL, now: time.Now}
}

func (mi *memIdem) SeenOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	now := mi.now()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if exp, ok := mi.m[key]; ok && exp.After(now) {
		return true, nil
	}
	// 顺手清理过期项
	if len(mi.m) > 4096 {
		for k, exp := range mi.m {
			if !exp.After(now) {
				delete(mi.m, k)
			}
		}
	}
	mi.m[key] = now.Add(ttl)
	return false, nil
}

// ----- Redis 实现（多实例共享） -----
type redisIdem struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisIdem(rdb redis.UniversalClient, prefix string, defaultTTL time.Duration) IdemStore {
	return &redisIdem{rdb: rdb, prefix: prefix, ttl: defaultTTL}
}

func (ri *redisIdem) SeenOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = ri.ttl
	}
	ok, err := ri.rdb.SetNX(ctx, ri.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// msgIDFromHeader 标准头 Nats-Msg-Id，兼容 X-Msg-Id
func msgIDFromHeader(h map[string]string) string {
	for _, k := range []string{"Nats-Msg-Id", "nats-msg-id", "X-Msg-Id", "x-msg-id"} {
		if v, ok := h[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// NatsxIdemMiddleware 按消息头去重；无 id 的消息直接放行。
// 存储出错时放行，由下游持久层兜底去重。
func NatsxIdemMiddleware(store IdemStore, ttl time.Duration, log *zap.Logger) NatsxMiddleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			id := msgIDFromHeader(msg.Header)
			if id == "" {
				return next(ctx, msg)
			}
			seen, err := store.SeenOnce(ctx, msg.Subject+"|"+id, ttl)
			if err != nil {
				log.Warn("idem store failed", zap.String("id", id), zap.Error(err))
				return next(ctx, msg)
			}
			if seen {
				log.Debug("duplicate skipped", zap.String("subject", msg.Subject), zap.String("id", id))
				return nil
			}
			return next(ctx, msg)
		}
	}
}
