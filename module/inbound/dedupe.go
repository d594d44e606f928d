package inbound

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper 入站重投去重：同一 (session, sender, messageID) 在窗口内只处理一次
type Deduper interface {
	// Claim 首次返回 true；已被处理过返回 false
	Claim(ctx context.Context, sessionID, sender, messageID string) (bool, error)
	// Release 处理失败时释放，允许上游重投
	Release(ctx context.Context, sessionID, sender, messageID string) error
}

// SeenIndex Redis 实现，key 规范 {prefix}:{session}:{sender}:{messageID}
type SeenIndex struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

type IndexOption func(*SeenIndex)

// WithPrefix 默认 "concat:seen"
func WithPrefix(prefix string) IndexOption {
	return func(s *SeenIndex) { s.prefix = prefix }
}

// WithTTL 去重窗口，默认 24h
func WithTTL(ttl time.Duration) IndexOption {
	return func(s *SeenIndex) { s.ttl = ttl }
}

func NewSeenIndex(rdb redis.UniversalClient, opts ...IndexOption) *SeenIndex {
	s := &SeenIndex{rdb: rdb, prefix: "concat:seen", ttl: 24 * time.Hour}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *SeenIndex) key(sessionID, sender, messageID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", s.prefix, sessionID, sender, messageID)
}

func (s *SeenIndex) Claim(ctx context.Context, sessionID, sender, messageID string) (bool, error) {
	return s.rdb.SetNX(ctx, s.key(sessionID, sender, messageID), 1, s.ttl).Result()
}

func (s *SeenIndex) Release(ctx context.Context, sessionID, sender, messageID string) error {
	return s.rdb.Del(ctx, s.key(sessionID, sender, messageID)).Err()
}
