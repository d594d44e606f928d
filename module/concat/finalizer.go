package concat

import (
	"WaRelay/tools/errs"
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// finalize 把 block 转为一条持久化消息并收尾。
//   - 快照为空、block 已不存在、或首条消息已变：no-op
//   - 另一个 finalize 持有锁：no-op，由持锁者完成
//   - 锁内重读，以最新内容为准（只会比快照多，不会少）
//   - 条数 <= 1 不落库；落库失败保留 block，等下一次决策或 sweep 重试
func (e *Engine) finalize(ctx context.Context, key string, snap *Block, reason Reason) error {
	if snap == nil || len(snap.Messages) == 0 {
		return nil
	}
	cur, err := e.load(ctx, key)
	if err != nil {
		return err
	}
	if cur == nil || cur.FirstID() != snap.FirstID() {
		return nil
	}

	token := uuid.NewString()
	ok, err := e.store.TryLock(ctx, key, token, e.Config().LockTTL)
	if err != nil {
		return err
	}
	if !ok {
		e.log.Debug("finalize in progress elsewhere", zap.String("block", key))
		return nil
	}
	defer func() {
		if uerr := e.store.Unlock(context.WithoutCancel(ctx), key, token); uerr != nil {
			e.log.Warn("unlock failed", zap.String("block", key), zap.Error(uerr))
		}
	}()

	// 双检
	cur, err = e.load(ctx, key)
	if err != nil {
		return err
	}
	if cur == nil || cur.FirstID() != snap.FirstID() {
		return nil
	}

	n := len(cur.Messages)
	if n <= 1 {
		if e.onDiscard != nil {
			if err := e.onDiscard(ctx, cur); err != nil {
				e.metrics.incPersistFailed()
				return errs.ErrPersist.WrapMsg(err.Error(), "block", key, "stage", "discard")
			}
		}
		e.metrics.incDiscarded()
	} else {
		rc := e.cfg.Load()
		msg := buildConcatenated(cur, e.newID(), rc.loc, e.now())
		inserted, err := e.sink.Insert(ctx, msg)
		if err != nil {
			e.metrics.incPersistFailed()
			e.log.Warn("persist concatenated failed, block kept",
				zap.String("block", key), zap.Int("count", n), zap.Error(err))
			return errs.ErrPersist.WrapMsg(err.Error(), "block", key)
		}
		if inserted {
			e.metrics.incFinalized(reason)
		}
		e.log.Info("block finalized",
			zap.String("block", key),
			zap.String("reason", string(reason)),
			zap.Int("count", n),
			zap.String("message", msg.ID),
			zap.Bool("duplicate", !inserted))
	}

	res, err := e.store.Settle(ctx, key, cur.FirstID(), n)
	if err != nil {
		return err
	}
	if res == SettleTrimmed {
		e.log.Debug("block trimmed, later messages kept", zap.String("block", key), zap.Int("finalized", n))
	}
	return nil
}
