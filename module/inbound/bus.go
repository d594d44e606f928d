package inbound

import (
	"WaRelay/service/kafka"
	"WaRelay/service/natsx"
	"WaRelay/tools/errs"
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
)

// decode 解码失败与校验失败都属于毒消息：记录后丢弃，不重投
func (p *Pipeline) handleRaw(ctx context.Context, source string, data []byte) error {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		p.log.Warn("drop undecodable event", zap.String("source", source), zap.Error(err))
		return nil
	}
	err := p.Handle(ctx, &ev)
	if err == nil {
		return nil
	}
	if errors.Is(err, &errs.ErrArgs) {
		p.log.Warn("drop invalid event", zap.String("source", source), zap.Error(err))
		return nil
	}
	p.log.Warn("event not processed", zap.String("source", source),
		zap.String("session", ev.SessionID), zap.String("message", ev.Message.ID), zap.Error(err))
	return err
}

// NatsHandler JetStream 下返回错误会 Nak 触发重投
func (p *Pipeline) NatsHandler() natsx.NatsxHandler {
	return func(ctx context.Context, msg natsx.NatsxMessage) error {
		return p.handleRaw(ctx, "nats:"+msg.Subject, msg.Data)
	}
}

// KafkaHandler 消费组处理函数
func (p *Pipeline) KafkaHandler() kafka.MessageHandler {
	return func(ctx context.Context, topic string, key, value []byte) error {
		return p.handleRaw(ctx, "kafka:"+topic, value)
	}
}
