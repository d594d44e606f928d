package concat

import "time"

// Reason 为什么当前 block 必须先 finalize
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonLimit      Reason = "limit"
	ReasonTypeChange Reason = "type_change"
	ReasonIdle       Reason = "idle"
	ReasonManual     Reason = "manual"
)

// Decision shouldConcatenate 的结果。
// Concatenate=false 且 Block!=nil 时，调用方需先 finalize Block 再开新块。
type Decision struct {
	Concatenate bool
	BlockID     string
	Reason      Reason
	Block       *Block
}

// decide 纯函数，只读；判定顺序：空闲 > 满 > 类型变化
func decide(b *Block, msgType string, now time.Time, cfg Config) Decision {
	if b == nil || len(b.Messages) == 0 {
		return Decision{}
	}
	d := Decision{BlockID: BlockKey(b.SessionID, b.Sender), Block: b}
	switch {
	case b.IsIdle(now, cfg.IdleWindow):
		d.Reason = ReasonIdle
	case len(b.Messages) >= cfg.MaxMessages:
		d.Reason = ReasonLimit
	case cfg.SameTypeOnly && b.MessageType != msgType:
		d.Reason = ReasonTypeChange
	default:
		d.Concatenate = true
	}
	return d
}
