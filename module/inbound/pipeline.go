package inbound

import (
	"WaRelay/module/concat"
	"WaRelay/module/message"
	"WaRelay/tools/errs"
	"WaRelay/tools/ids"
	"context"

	"go.uber.org/zap"
)

// Engine Pipeline 依赖的引擎能力
type Engine interface {
	Ingest(ctx context.Context, sender, sessionID string, msg concat.Message) error
}

// Pipeline 入站处理：自己发出的消息直接落库，收到的消息进入合并引擎
type Pipeline struct {
	engine Engine
	store  message.Store
	log    *zap.Logger
	newID  func() string
	dedupe Deduper
}

type PipelineOption func(*Pipeline)

// WithDeduper 开启重投去重；不设置时每次投递都会处理
func WithDeduper(d Deduper) PipelineOption {
	return func(p *Pipeline) { p.dedupe = d }
}

func NewPipeline(engine Engine, store message.Store, log *zap.Logger, opts ...PipelineOption) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{engine: engine, store: store, log: log, newID: ids.GenerateString}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pipeline) Handle(ctx context.Context, ev *Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if p.dedupe != nil {
		claimed, err := p.dedupe.Claim(ctx, ev.SessionID, ev.Sender, ev.Message.ID)
		switch {
		case err != nil:
			// 去重不可用时照常处理，重复由持久层唯一键兜底
			p.log.Warn("dedupe claim failed", zap.String("message", ev.Message.ID), zap.Error(err))
		case !claimed:
			p.log.Debug("redelivered event skipped",
				zap.String("session", ev.SessionID), zap.String("message", ev.Message.ID))
			return nil
		}
	}

	err := p.dispatch(ctx, ev)
	if err != nil && p.dedupe != nil {
		if rerr := p.dedupe.Release(context.WithoutCancel(ctx), ev.SessionID, ev.Sender, ev.Message.ID); rerr != nil {
			p.log.Warn("dedupe release failed", zap.String("message", ev.Message.ID), zap.Error(rerr))
		}
	}
	return err
}

func (p *Pipeline) dispatch(ctx context.Context, ev *Event) error {
	if ev.FromMe {
		return p.persistRaw(ctx, ev.SessionID, ev.Sender, message.DirectionOutbound, ev.concatMessage())
	}
	return p.engine.Ingest(ctx, ev.Sender, ev.SessionID, ev.concatMessage())
}

// PassthroughHook 单条消息的 block 被丢弃时按原消息落库
func (p *Pipeline) PassthroughHook() concat.DiscardHook {
	return func(ctx context.Context, b *concat.Block) error {
		for _, m := range b.Messages {
			if err := p.persistRaw(ctx, b.SessionID, b.Sender, message.DirectionInbound, m); err != nil {
				return err
			}
		}
		return nil
	}
}

func (p *Pipeline) persistRaw(ctx context.Context, sessionID, sender, direction string, m concat.Message) error {
	row := &message.Message{
		ID:         p.newID(),
		SessionID:  sessionID,
		Sender:     sender,
		Direction:  direction,
		Type:       m.Type,
		Content:    m.Content,
		ExternalID: m.ID,
		CreatedAt:  m.Timestamp,
	}
	inserted, err := p.store.Insert(ctx, row)
	if err != nil {
		return errs.ErrPersist.WrapMsg(err.Error(), "session", sessionID, "message", m.ID)
	}
	p.log.Debug("raw message stored",
		zap.String("session", sessionID),
		zap.String("direction", direction),
		zap.String("external", m.ID),
		zap.Bool("duplicate", !inserted))
	return nil
}
