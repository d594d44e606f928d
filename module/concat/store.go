package concat

import (
	"context"
	"time"
)

// SettleResult finalize 之后收尾的结果
type SettleResult int

const (
	// SettleAbsent block 已不存在，或首条消息已变（被别的 finalize 收走后重开）
	SettleAbsent SettleResult = iota
	// SettleDeleted 快照覆盖了全部消息，block 与索引一起删除
	SettleDeleted
	// SettleTrimmed 快照之后又有追加，只移除快照内的前 n 条
	SettleTrimmed
)

func (r SettleResult) String() string {
	switch r {
	case SettleDeleted:
		return "deleted"
	case SettleTrimmed:
		return "trimmed"
	default:
		return "absent"
	}
}

// AppendOptions 由 Engine 按当前配置填写
type AppendOptions struct {
	TTL         time.Duration
	MaxMessages int
	SameType    bool

	// ActivityAt 写入 lastActivityAt 与索引分数；零值取消息时间戳
	ActivityAt time.Time
}

func (o AppendOptions) activity(msg Message) time.Time {
	if o.ActivityAt.IsZero() {
		return msg.Timestamp
	}
	return o.ActivityAt
}

// AppendResult Count 为追加后的条数，Created 表示本次新建了 block
type AppendResult struct {
	Count   int
	Created bool
}

// BlockStore 聚合态存储 + 活跃索引。
// 所有写操作必须是针对单个 block key 的原子操作。
type BlockStore interface {
	// Get 不存在返回 (nil, nil)
	Get(ctx context.Context, key string) (*Block, error)
	// Append 不存在则新建；已满返回 errs.ErrBlockFull，类型不符（SameType）返回 errs.ErrTypeMismatch
	Append(ctx context.Context, sessionID, sender string, msg Message, opt AppendOptions) (AppendResult, error)
	// Settle 移除快照中的前 n 条；firstID 不匹配视为已被处理
	Settle(ctx context.Context, key, firstID string, n int) (SettleResult, error)
	// Delete 丢弃 block（不落库）
	Delete(ctx context.Context, key string) (bool, error)
	// IdleKeys 活跃索引中 lastActivityAt <= cutoff 的 key，最多 limit 个
	IdleKeys(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	// Forget key 已过期不存在时，清掉残留的索引项；返回是否清理
	Forget(ctx context.Context, key string) (bool, error)
	// TryLock / Unlock finalize 互斥，token 防误删
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) error
	// TTL 剩余存活时间；不存在返回 0
	TTL(ctx context.Context, key string) (time.Duration, error)
}
