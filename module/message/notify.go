package message

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// ReadyEvent 新消息落库后通知下游（人工坐席 / 自动化）
type ReadyEvent struct {
	MessageID    string `json:"messageId"`
	SessionID    string `json:"sessionId"`
	Sender       string `json:"sender"`
	Type         string `json:"type"`
	Content      string `json:"content"`
	Concatenated bool   `json:"concatenated"`
}

// Encode JSON 负载，各 Publisher 共用
func (ev *ReadyEvent) Encode() []byte {
	b, _ := json.Marshal(ev)
	return b
}

// Publisher 下游通知通道（NATS / Kafka / Redis pub/sub，见 publisher.go）
type Publisher interface {
	Publish(ctx context.Context, ev *ReadyEvent) error
}

// PublisherFunc 适配普通函数
type PublisherFunc func(ctx context.Context, ev *ReadyEvent) error

func (f PublisherFunc) Publish(ctx context.Context, ev *ReadyEvent) error {
	return f(ctx, ev)
}

// NotifyingStore 装饰 Store：仅在真正新写入时发布 ReadyEvent。
// 发布失败只记录日志，不影响写入结果。
type NotifyingStore struct {
	Store
	pub Publisher
	log *zap.Logger
}

func NewNotifyingStore(s Store, pub Publisher, log *zap.Logger) *NotifyingStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &NotifyingStore{Store: s, pub: pub, log: log}
}

func (n *NotifyingStore) Insert(ctx context.Context, m *Message) (bool, error) {
	inserted, err := n.Store.Insert(ctx, m)
	if err != nil || !inserted || n.pub == nil {
		return inserted, err
	}
	ev := &ReadyEvent{
		MessageID:    m.ID,
		SessionID:    m.SessionID,
		Sender:       m.Sender,
		Type:         m.Type,
		Content:      m.Content,
		Concatenated: m.Metadata != nil && m.Metadata.Concatenated,
	}
	if perr := n.pub.Publish(ctx, ev); perr != nil {
		n.log.Warn("publish message.ready failed",
			zap.String("message", m.ID), zap.String("session", m.SessionID), zap.Error(perr))
	}
	return true, nil
}
