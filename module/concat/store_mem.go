package concat

import (
	"WaRelay/tools/errs"
	"context"
	"sort"
	"sync"
	"time"
)

type memEntry struct {
	block    *Block
	expireAt time.Time
}

type memLock struct {
	token    string
	expireAt time.Time
}

// MemStore 单进程实现：一把互斥锁保证每个操作原子，过期按注入的时钟惰性判断。
// 用于测试与无 Redis 的本地调试。
type MemStore struct {
	mu     sync.Mutex
	now    func() time.Time
	blocks map[string]*memEntry
	index  map[string]time.Time // key -> lastActivityAt
	locks  map[string]memLock
}

func NewMemStore(now func() time.Time) *MemStore {
	if now == nil {
		now = time.Now
	}
	return &MemStore{
		now:    now,
		blocks: make(map[string]*memEntry),
		index:  make(map[string]time.Time),
		locks:  make(map[string]memLock),
	}
}

// live 需持有 mu；过期条目直接移除（索引保留，模拟原生过期）
func (s *MemStore) live(key string) *memEntry {
	e, ok := s.blocks[key]
	if !ok {
		return nil
	}
	if !e.expireAt.IsZero() && !s.now().Before(e.expireAt) {
		delete(s.blocks, key)
		return nil
	}
	return e
}

func (s *MemStore) Get(ctx context.Context, key string) (*Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.live(key); e != nil {
		return e.block.clone(), nil
	}
	return nil, nil
}

func (s *MemStore) Append(ctx context.Context, sessionID, sender string, msg Message, opt AppendOptions) (AppendResult, error) {
	key := BlockKey(sessionID, sender)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	created := false
	if e == nil {
		e = &memEntry{block: &Block{
			SessionID:   sessionID,
			Sender:      sender,
			MessageType: msg.Type,
			CreatedAt:   msg.Timestamp,
		}}
		created = true
	} else {
		n := len(e.block.Messages)
		if n >= opt.MaxMessages {
			return AppendResult{Count: n}, errs.ErrBlockFull.WrapMsg("", "block", key, "count", n)
		}
		if opt.SameType && e.block.MessageType != msg.Type {
			return AppendResult{Count: n}, errs.ErrTypeMismatch.WrapMsg("", "block", key, "type", msg.Type)
		}
	}

	b := e.block
	b.Messages = append(b.Messages, msg)
	b.Count = len(b.Messages)
	at := opt.activity(msg)
	b.LastActivityAt = at
	e.expireAt = s.now().Add(opt.TTL)
	s.blocks[key] = e
	s.index[key] = at
	return AppendResult{Count: b.Count, Created: created}, nil
}

func (s *MemStore) Settle(ctx context.Context, key, firstID string, n int) (SettleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		delete(s.index, key)
		return SettleAbsent, nil
	}
	if e.block.FirstID() != firstID {
		return SettleAbsent, nil
	}
	if len(e.block.Messages) <= n {
		delete(s.blocks, key)
		delete(s.index, key)
		return SettleDeleted, nil
	}
	b := e.block
	b.Messages = append([]Message(nil), b.Messages[n:]...)
	b.Count = len(b.Messages)
	b.MessageType = b.Messages[0].Type
	b.CreatedAt = b.Messages[0].Timestamp
	return SettleTrimmed, nil
}

func (s *MemStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existed := s.live(key) != nil
	delete(s.blocks, key)
	delete(s.index, key)
	return existed, nil
}

func (s *MemStore) IdleKeys(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type scored struct {
		key string
		at  time.Time
	}
	var hits []scored
	for k, at := range s.index {
		if !at.After(cutoff) {
			hits = append(hits, scored{k, at})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].at.Equal(hits[j].at) {
			return hits[i].key < hits[j].key
		}
		return hits[i].at.Before(hits[j].at)
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.key)
	}
	return out, nil
}

func (s *MemStore) Forget(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live(key) != nil {
		return false, nil
	}
	if _, ok := s.index[key]; !ok {
		return false, nil
	}
	delete(s.index, key)
	return true, nil
}

func (s *MemStore) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if l, ok := s.locks[key]; ok && now.Before(l.expireAt) {
		return false, nil
	}
	s.locks[key] = memLock{token: token, expireAt: now.Add(ttl)}
	return true, nil
}

func (s *MemStore) Unlock(ctx context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[key]; ok && l.token == token {
		delete(s.locks, key)
	}
	return nil
}

func (s *MemStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.live(key)
	if e == nil {
		return 0, nil
	}
	return e.expireAt.Sub(s.now()), nil
}
