package message

import (
	"context"

	"github.com/Shopify/sarama"
	"github.com/redis/go-redis/v9"
)

// natsOncePublisher natsx.NatsManager 满足此接口
type natsOncePublisher interface {
	PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error
}

// NewNatsPublisher 以消息 id 作为 Nats-Msg-Id，JetStream 侧去重
func NewNatsPublisher(p natsOncePublisher, biz string) Publisher {
	return PublisherFunc(func(ctx context.Context, ev *ReadyEvent) error {
		return p.PublishOnce(ctx, biz, ev.Encode(), map[string]string{"X-Session-Id": ev.SessionID}, ev.MessageID)
	})
}

// NewKafkaPublisher key=sessionId，同一会话落在同一分区，保证顺序
func NewKafkaPublisher(p sarama.SyncProducer, topic string) Publisher {
	return PublisherFunc(func(ctx context.Context, ev *ReadyEvent) error {
		_, _, err := p.SendMessage(&sarama.ProducerMessage{
			Topic: topic,
			Key:   sarama.StringEncoder(ev.SessionID),
			Value: sarama.ByteEncoder(ev.Encode()),
		})
		return err
	})
}

// NewRedisPublisher Redis pub/sub 频道
func NewRedisPublisher(rdb redis.UniversalClient, channel string) Publisher {
	return PublisherFunc(func(ctx context.Context, ev *ReadyEvent) error {
		return rdb.Publish(ctx, channel, ev.Encode()).Err()
	})
}
