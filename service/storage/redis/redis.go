package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config 单节点填 Addrs[0]；多个地址走 Cluster
type Config struct {
	Addrs    []string
	Password string
	DB       int
	PoolSize int
}

// NewClient 建连接并 Ping；返回 UniversalClient，单机/集群对调用方透明
func NewClient(ctx context.Context, c Config) (redis.UniversalClient, error) {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    c.Addrs,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
