package session

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemoryCapacity = 10_000

// MemoryStore keeps sessions in a bounded LRU. The least recently used
// sessions are dropped first when it fills up.
type MemoryStore struct {
	sessions *lru.Cache[string, memoryEntry]
	now      func() time.Time
}

type memoryEntry struct {
	data      Data
	expiresAt time.Time
}

func NewMemoryStore(capacity int) (*MemoryStore, error) {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	sessions, err := lru.New[string, memoryEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{sessions: sessions, now: time.Now}, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Data, bool) {
	entry, ok := s.sessions.Get(key)
	if !ok {
		return nil, false
	}
	if !s.now().Before(entry.expiresAt) {
		s.sessions.Remove(key)
		return nil, false
	}
	data := entry.data
	return &data, true
}

func (s *MemoryStore) Set(_ context.Context, key string, data *Data, ttl time.Duration) error {
	if key == "" || data == nil {
		return fmt.Errorf("session key and data are required")
	}
	s.sessions.Add(key, memoryEntry{
		data:      *data,
		expiresAt: s.now().Add(ttl),
	})
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.sessions.Remove(key)
	return nil
}

func (s *MemoryStore) Close() error {
	s.sessions.Purge()
	return nil
}
