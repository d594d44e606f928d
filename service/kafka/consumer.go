package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

type ConsumerGroupHandler struct {
	reg *Registry
	log *zap.Logger
}

func NewConsumerGroupHandler(reg *Registry, log *zap.Logger) *ConsumerGroupHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConsumerGroupHandler{reg: reg, log: log}
}

func (h *ConsumerGroupHandler) Setup(s sarama.ConsumerGroupSession) error {
	h.log.Info("consumer group setup", zap.Any("claims", s.Claims()))
	return nil
}

func (h *ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.log.Info("consumer group cleanup")
	return nil
}

// ConsumeClaim 处理失败只记录，offset 照常提交；重投依赖上游重发
func (h *ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.handle(session.Context(), msg)
			session.MarkMessage(msg, "")
		}
	}
}

func (h *ConsumerGroupHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) {
	handler, err := h.reg.Get(msg.Topic)
	if err != nil {
		h.log.Warn("no handler", zap.String("topic", msg.Topic), zap.Error(err))
		return
	}
	if err := handler(ctx, msg.Topic, msg.Key, msg.Value); err != nil {
		h.log.Error("handler error",
			zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
	}
}

// RunConsumerGroup 阻塞消费直到 ctx 取消；rebalance 后自动重新加入
func RunConsumerGroup(ctx context.Context, c Config, reg *Registry, log *zap.Logger) error {
	group, err := sarama.NewConsumerGroup(c.Brokers, c.GroupID, BuildBaseConfig(c))
	if err != nil {
		return err
	}
	defer group.Close()

	if log == nil {
		log = zap.NewNop()
	}
	go func() {
		for err := range group.Errors() {
			log.Warn("consumer group error", zap.Error(err))
		}
	}()

	topics := reg.Topics()
	handler := NewConsumerGroupHandler(reg, log)
	for {
		if err := group.Consume(ctx, topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			log.Warn("consume error", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
