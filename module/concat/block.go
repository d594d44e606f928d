package concat

import (
	"WaRelay/tools/errs"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const (
	keyPrefix    = "concat:block:"
	indexKey     = "concat:idx"
	lockPrefix   = "concat:lock:"
	keySeparator = ":"
)

// Message 入站消息（进入 block 的最小单元）
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Block 一个 (session, sender) 上正在聚合的消息块。
// Messages 按到达顺序排列，Count 恒等于 len(Messages)。
type Block struct {
	SessionID      string    `json:"sessionId"`
	Sender         string    `json:"sender"`
	MessageType    string    `json:"messageType"`
	Messages       []Message `json:"messages"`
	Count          int       `json:"count"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// BlockKey concat:block:<session>:<sender>
func BlockKey(sessionID, sender string) string {
	return keyPrefix + sessionID + keySeparator + sender
}

// ParseBlockKey 反解 BlockKey；sender 可能含 ':'，session 不含
func ParseBlockKey(key string) (sessionID, sender string, ok bool) {
	rest, found := strings.CutPrefix(key, keyPrefix)
	if !found {
		return "", "", false
	}
	sessionID, sender, ok = strings.Cut(rest, keySeparator)
	if !ok || sessionID == "" || sender == "" {
		return "", "", false
	}
	return sessionID, sender, true
}

func lockKey(blockKey string) string { return lockPrefix + blockKey }

// IsIdle 距最后一条消息已达到空闲窗口
func (b *Block) IsIdle(now time.Time, window time.Duration) bool {
	return now.Sub(b.LastActivityAt) >= window
}

// FirstID 第一条消息 id；空 block 返回 ""
func (b *Block) FirstID() string {
	if b == nil || len(b.Messages) == 0 {
		return ""
	}
	return b.Messages[0].ID
}

// GroupID block 的持久化去重标识：<key>:<firstMessageID>:<count>。
// 带上条数，落库成功但收尾失败后又有追加时不会被误判为重复。
func (b *Block) GroupID() string {
	return BlockKey(b.SessionID, b.Sender) + keySeparator + b.FirstID() + keySeparator + strconv.Itoa(len(b.Messages))
}

func (b *Block) clone() *Block {
	if b == nil {
		return nil
	}
	cp := *b
	cp.Messages = append([]Message(nil), b.Messages...)
	return &cp
}

func decodeBlock(raw string) (*Block, error) {
	var b Block
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, errs.ErrCorruptBlock.WrapMsg(err.Error())
	}
	// count 以 messages 为准
	b.Count = len(b.Messages)
	return &b, nil
}
