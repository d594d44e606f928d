package concat

import (
	"WaRelay/module/message"
	"strings"
	"time"
)

const lineTimeLayout = "15:04"

// Render 每条一行 "[HH:MM] 内容"，按到达顺序，换行分隔
func Render(b *Block, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	var sb strings.Builder
	for i, m := range b.Messages {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteByte('[')
		sb.WriteString(m.Timestamp.In(loc).Format(lineTimeLayout))
		sb.WriteString("] ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}

// BuildMetadata 下游据此还原时间线，无需回读 block
func BuildMetadata(b *Block) *message.Metadata {
	ids := make([]string, 0, len(b.Messages))
	for _, m := range b.Messages {
		ids = append(ids, m.ID)
	}
	meta := &message.Metadata{
		Concatenated:          true,
		OriginalMessagesCount: len(b.Messages),
		MessageIDs:            ids,
		OriginalType:          b.MessageType,
	}
	if n := len(b.Messages); n > 0 {
		meta.FirstMessageAt = b.Messages[0].Timestamp
		meta.LastMessageAt = b.Messages[n-1].Timestamp
	}
	return meta
}

// buildConcatenated block -> 持久化行；ConcatGroupID 用于去重
func buildConcatenated(b *Block, id string, loc *time.Location, now time.Time) *message.Message {
	return &message.Message{
		ID:            id,
		SessionID:     b.SessionID,
		Sender:        b.Sender,
		Direction:     message.DirectionInbound,
		Type:          message.TypeConcatenated,
		Content:       Render(b, loc),
		Metadata:      BuildMetadata(b),
		ConcatGroupID: b.GroupID(),
		CreatedAt:     now,
	}
}
