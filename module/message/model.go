package message

import (
	"context"
	"time"
)

const (
	DirectionInbound  = "INBOUND"
	DirectionOutbound = "OUTBOUND"

	TypeConcatenated = "concatenated"
)

// Metadata 合并消息的元数据，下游据此还原时间线
type Metadata struct {
	Concatenated          bool      `json:"concatenated" bson:"concatenated"`
	OriginalMessagesCount int       `json:"originalMessagesCount" bson:"original_messages_count"`
	FirstMessageAt        time.Time `json:"firstMessageAt" bson:"first_message_at"`
	LastMessageAt         time.Time `json:"lastMessageAt" bson:"last_message_at"`
	MessageIDs            []string  `json:"messageIds,omitempty" bson:"message_ids,omitempty"`
	OriginalType          string    `json:"originalType,omitempty" bson:"original_type,omitempty"`
}

// Message 持久化消息行（会话维度，只追加）
type Message struct {
	ID            string    `json:"id" bson:"message_id"`
	SessionID     string    `json:"sessionId" bson:"session_id"`
	Sender        string    `json:"sender" bson:"sender"`
	Direction     string    `json:"direction" bson:"direction"`
	Type          string    `json:"type" bson:"type"`
	Content       string    `json:"content" bson:"content"`
	Metadata      *Metadata `json:"metadata,omitempty" bson:"metadata,omitempty"`
	ConcatGroupID string    `json:"concatGroupId,omitempty" bson:"concat_group_id,omitempty"`
	ExternalID    string    `json:"externalId,omitempty" bson:"external_id,omitempty"`
	CreatedAt     time.Time `json:"createdAt" bson:"created_at"`
}

// DedupKey 合并消息按 ConcatGroupID 去重，普通消息按 ExternalID
func (m *Message) DedupKey() string {
	if m.ConcatGroupID != "" {
		return "g:" + m.ConcatGroupID
	}
	if m.ExternalID != "" {
		return "x:" + m.SessionID + ":" + m.ExternalID
	}
	return ""
}

// Store 持久化抽象：生产实现 Postgres / Mongo；测试用内存实现（store_mem.go）。
// Insert 对同一 DedupKey 幂等：重复写入返回 inserted=false 且无错误。
type Store interface {
	Insert(ctx context.Context, m *Message) (inserted bool, err error)
	ListBySession(ctx context.Context, sessionID string) ([]*Message, error)
}
