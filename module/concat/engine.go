package concat

import (
	"WaRelay/module/message"
	"WaRelay/tools/errs"
	"WaRelay/tools/ids"
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	maxIngestAttempts = 3
	ingestSpinWait    = 50 * time.Millisecond
)

// DiscardHook 单条消息的 block 被丢弃前调用；返回错误则保留 block 等待下次 finalize
type DiscardHook func(ctx context.Context, b *Block) error

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithDiscardHook(h DiscardHook) Option {
	return func(e *Engine) { e.onDiscard = h }
}

func WithIDFunc(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

type runtimeConfig struct {
	Config
	loc *time.Location
}

// Engine 决策 + 聚合 + finalize。
// 同一 key 的并发安全由 BlockStore 的原子操作与 finalize 锁保证，Engine 自身无状态。
type Engine struct {
	store     BlockStore
	sink      message.Store
	cfg       atomic.Pointer[runtimeConfig]
	now       func() time.Time
	log       *zap.Logger
	metrics   *Metrics
	onDiscard DiscardHook
	newID     func() string
}

func NewEngine(store BlockStore, sink message.Store, cfg Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		store: store,
		sink:  sink,
		now:   time.Now,
		log:   zap.NewNop(),
		newID: ids.GenerateString,
	}
	for _, o := range opts {
		o(e)
	}
	if err := e.UpdateConfig(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// Config 当前生效配置
func (e *Engine) Config() Config {
	return e.cfg.Load().Config
}

// UpdateConfig 热更新；非法配置不生效
func (e *Engine) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	loc, _ := cfg.location()
	e.cfg.Store(&runtimeConfig{Config: cfg, loc: loc})
	return nil
}

// ShouldConcatenate 只读：新消息能否并入 (session, sender) 的当前 block
func (e *Engine) ShouldConcatenate(ctx context.Context, sender, sessionID, msgType string) (Decision, error) {
	return e.shouldConcatenateAt(ctx, sender, sessionID, msgType, e.now())
}

// shouldConcatenateAt 以 at 作为新消息的活跃时间判定空闲
func (e *Engine) shouldConcatenateAt(ctx context.Context, sender, sessionID, msgType string, at time.Time) (Decision, error) {
	b, err := e.load(ctx, BlockKey(sessionID, sender))
	if err != nil {
		return Decision{}, err
	}
	return decide(b, msgType, at, e.Config()), nil
}

// activityAt 消息时间戳不晚于服务端时钟。
// 超前的时间戳若直接用作活跃时间，TTL 会先于空闲窗口到期，block 在 sweep 前被原生删除。
func activityAt(ts, now time.Time) time.Time {
	if ts.After(now) {
		return now
	}
	return ts
}

// load 读取 block；无法解码的条目移除后视为不存在
func (e *Engine) load(ctx context.Context, key string) (*Block, error) {
	b, err := e.store.Get(ctx, key)
	if err != nil && errors.Is(err, &errs.ErrCorruptBlock) {
		return nil, e.evictCorrupt(ctx, key, err)
	}
	return b, err
}

func (e *Engine) evictCorrupt(ctx context.Context, key string, cause error) error {
	if _, err := e.store.Delete(ctx, key); err != nil {
		return err
	}
	e.metrics.incCorruptEvicted()
	e.log.Warn("corrupt block evicted", zap.String("block", key), zap.Error(cause))
	return nil
}

// AddToBlock 追加（无 block 时新建），刷新 TTL 与活跃索引
func (e *Engine) AddToBlock(ctx context.Context, sender, sessionID string, msg Message) error {
	cfg := e.Config()
	res, err := e.store.Append(ctx, sessionID, sender, msg, AppendOptions{
		TTL:         cfg.TTLCeiling,
		MaxMessages: cfg.MaxMessages,
		SameType:    cfg.SameTypeOnly,
		ActivityAt:  activityAt(msg.Timestamp, e.now()),
	})
	if err != nil {
		return err
	}
	if res.Created {
		e.metrics.incOpened()
	}
	e.metrics.incAppended()
	e.log.Debug("appended",
		zap.String("block", BlockKey(sessionID, sender)),
		zap.String("message", msg.ID),
		zap.Int("count", res.Count),
		zap.Bool("created", res.Created))
	return nil
}

// FinalizeBlock 外部触发的 finalize；block 已不存在时为 no-op
func (e *Engine) FinalizeBlock(ctx context.Context, blockKey string, snapshot *Block) error {
	return e.finalize(ctx, blockKey, snapshot, ReasonManual)
}

// Ingest 完整入站流程：决策 -> (先 finalize 旧块) -> 追加。
// 决策与追加之间被其他写入者占满/改类型时重试。
func (e *Engine) Ingest(ctx context.Context, sender, sessionID string, msg Message) error {
	var lastErr error
	for attempt := 0; attempt < maxIngestAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(ingestSpinWait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		// 以消息自身时间判定：积压补投的同一轮消息不会被逐条判为空闲
		d, err := e.shouldConcatenateAt(ctx, sender, sessionID, msg.Type, activityAt(msg.Timestamp, e.now()))
		if err != nil {
			return err
		}
		if !d.Concatenate && d.Block != nil {
			if err := e.finalize(ctx, d.BlockID, d.Block, d.Reason); err != nil {
				return err
			}
		}

		err = e.AddToBlock(ctx, sender, sessionID, msg)
		if err == nil {
			return nil
		}
		if !errors.Is(err, &errs.ErrBlockFull) && !errors.Is(err, &errs.ErrTypeMismatch) {
			return err
		}
		lastErr = err
		e.log.Debug("append refused, retry",
			zap.String("block", BlockKey(sessionID, sender)), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return errs.WrapMsg(lastErr, "ingest contention", "message", msg.ID)
}

// Pending 当前缓冲中的 block；无则返回 nil
func (e *Engine) Pending(ctx context.Context, sessionID, sender string) (*Block, error) {
	return e.load(ctx, BlockKey(sessionID, sender))
}

// Flush 立即 finalize (session, sender) 的 block
func (e *Engine) Flush(ctx context.Context, sessionID, sender string) error {
	key := BlockKey(sessionID, sender)
	b, err := e.load(ctx, key)
	if err != nil || b == nil {
		return err
	}
	return e.finalize(ctx, key, b, ReasonManual)
}

// Clear 丢弃 block，不落库
func (e *Engine) Clear(ctx context.Context, sessionID, sender string) (bool, error) {
	key := BlockKey(sessionID, sender)
	ok, err := e.store.Delete(ctx, key)
	if err != nil {
		return false, err
	}
	if ok {
		e.log.Info("block cleared", zap.String("block", key))
	}
	return ok, nil
}
