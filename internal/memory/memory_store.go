package memory

import (
	"context"
	"sync"
)

// MemoryStore 是基于进程内存的记忆存储，适合测试与单机部署。
type MemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string][]Entry
	maxEntries int
}

// NewMemoryStore 创建内存存储。maxEntries 限制每个会话保留的条数，
// 超出后丢弃最旧的条目。
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 200
	}
	return &MemoryStore{
		sessions:   make(map[string][]Entry),
		maxEntries: maxEntries,
	}
}

// Append 实现 Store 接口。
func (s *MemoryStore) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := append(s.sessions[entry.SessionID], entry)
	if len(entries) > s.maxEntries {
		entries = entries[len(entries)-s.maxEntries:]
	}
	s.sessions[entry.SessionID] = entries
	return nil
}

// Recent 实现 Store 接口。
func (s *MemoryStore) Recent(_ context.Context, sessionID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.sessions[sessionID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// Search 实现 Store 接口。
func (s *MemoryStore) Search(_ context.Context, sessionID, query string, limit int) ([]Entry, error) {
	s.mu.RLock()
	entries := make([]Entry, len(s.sessions[sessionID]))
	copy(entries, s.sessions[sessionID])
	s.mu.RUnlock()
	return rank(entries, query, limit), nil
}

// Clear 实现 Store 接口。
func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

var _ Store = (*MemoryStore)(nil)
