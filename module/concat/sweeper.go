package concat

import (
	"WaRelay/tools/errs"
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// SweepStats 一次扫描的结果
type SweepStats struct {
	Candidates int
	Finalized  int
	Expired    int // 索引里还在，block 已被原生过期删除
	Skipped    int // 重读后已不空闲（刚有追加）
	Evicted    int // 无法解码，已移除
	Errors     int
}

// Sweep 扫描活跃索引中超过空闲窗口的 block 并 finalize。
// 单个 block 出错只记录并跳过。
func (e *Engine) Sweep(ctx context.Context) (SweepStats, error) {
	var st SweepStats
	cfg := e.Config()
	now := e.now()

	keys, err := e.store.IdleKeys(ctx, now.Add(-cfg.IdleWindow), cfg.SweepBatch)
	if err != nil {
		return st, err
	}
	st.Candidates = len(keys)
	e.metrics.setSweepCandidates(len(keys))

	for _, key := range keys {
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		e.sweepOne(ctx, key, now, cfg, &st)
	}
	if st.Finalized+st.Expired+st.Evicted+st.Errors > 0 {
		e.log.Info("sweep done",
			zap.Int("candidates", st.Candidates),
			zap.Int("finalized", st.Finalized),
			zap.Int("expired", st.Expired),
			zap.Int("skipped", st.Skipped),
			zap.Int("evicted", st.Evicted),
			zap.Int("errors", st.Errors))
	}
	return st, nil
}

func (e *Engine) sweepOne(ctx context.Context, key string, now time.Time, cfg Config, st *SweepStats) {
	// 重新读取，避免用过期快照
	b, err := e.store.Get(ctx, key)
	if err != nil && errors.Is(err, &errs.ErrCorruptBlock) {
		if err = e.evictCorrupt(ctx, key, err); err == nil {
			st.Evicted++
			return
		}
	}
	if err != nil {
		st.Errors++
		e.metrics.incSweepError()
		e.log.Warn("sweep read failed", zap.String("block", key), zap.Error(err))
		return
	}
	if b == nil {
		removed, ferr := e.store.Forget(ctx, key)
		if ferr != nil {
			st.Errors++
			e.metrics.incSweepError()
			e.log.Warn("sweep forget failed", zap.String("block", key), zap.Error(ferr))
			return
		}
		if removed {
			st.Expired++
			e.metrics.incExpiredBeforeSweep()
			e.log.Warn("block expired before sweep", zap.String("block", key))
		}
		return
	}
	if !b.IsIdle(now, cfg.IdleWindow) {
		st.Skipped++
		return
	}
	if err := e.finalize(ctx, key, b, ReasonIdle); err != nil {
		st.Errors++
		e.metrics.incSweepError()
		e.log.Warn("sweep finalize failed", zap.String("block", key), zap.Error(err))
		return
	}
	st.Finalized++
}

// RunSweeper 按 SweepInterval 周期执行，直到 ctx 取消。
// 每轮重新读取间隔，热更新后下一轮生效。
func (e *Engine) RunSweeper(ctx context.Context) {
	interval := e.Config().SweepInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.log.Info("sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			e.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			if _, err := e.Sweep(ctx); err != nil && ctx.Err() == nil {
				e.metrics.incSweepError()
				e.log.Warn("sweep failed", zap.Error(err))
			}
			if next := e.Config().SweepInterval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}
