package message

import (
	"context"
	"errors"
	"sync"
)

var ErrMissingSession = errors.New("message: session id required")

// MemStore 进程内实现，测试与单机调试用
type MemStore struct {
	mu        sync.RWMutex
	bySession map[string][]*Message // session -> 按写入顺序
	byDedup   map[string]*Message
	failNext  error
}

func NewMemStore() *MemStore {
	return &MemStore{
		bySession: make(map[string][]*Message),
		byDedup:   make(map[string]*Message),
	}
}

// FailNext 下一次 Insert 返回 err（测试用）
func (s *MemStore) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

func (s *MemStore) Insert(ctx context.Context, m *Message) (bool, error) {
	if m.SessionID == "" {
		return false, ErrMissingSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failNext; err != nil {
		s.failNext = nil
		return false, err
	}
	k := m.DedupKey()
	if k != "" {
		if _, ok := s.byDedup[k]; ok {
			return false, nil
		}
	}
	cp := *m
	s.bySession[m.SessionID] = append(s.bySession[m.SessionID], &cp)
	if k != "" {
		s.byDedup[k] = &cp
	}
	return true, nil
}

func (s *MemStore) ListBySession(ctx context.Context, sessionID string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.bySession[sessionID]
	out := make([]*Message, 0, len(src))
	for _, m := range src {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

// Count 全部会话的消息总数
func (s *MemStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, v := range s.bySession {
		n += len(v)
	}
	return n
}
