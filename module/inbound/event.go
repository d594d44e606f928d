package inbound

import (
	"WaRelay/module/concat"
	"WaRelay/tools/errs"
	"time"
)

// Payload 入站消息体
type Payload struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Event 归一化后的入站事件（webhook / NATS / Kafka 共用）
type Event struct {
	Sender    string  `json:"sender"`
	SessionID string  `json:"sessionId"`
	FromMe    bool    `json:"fromMe,omitempty"`
	Message   Payload `json:"message"`
}

// Validate 边界校验，缺字段直接拒绝，不进入引擎
func (e *Event) Validate() error {
	switch {
	case e.Sender == "":
		return errs.ErrArgs.WrapMsg("sender required")
	case e.SessionID == "":
		return errs.ErrArgs.WrapMsg("sessionId required")
	case e.Message.ID == "":
		return errs.ErrArgs.WrapMsg("message.id required", "session", e.SessionID)
	case e.Message.Type == "":
		return errs.ErrArgs.WrapMsg("message.type required", "message", e.Message.ID)
	case e.Message.Timestamp.IsZero():
		return errs.ErrArgs.WrapMsg("message.timestamp required", "message", e.Message.ID)
	}
	return nil
}

func (e *Event) concatMessage() concat.Message {
	return concat.Message{
		ID:        e.Message.ID,
		Content:   e.Message.Content,
		Type:      e.Message.Type,
		Timestamp: e.Message.Timestamp,
	}
}
