package memory

import (
	"context"
	"sync"

	"workly/internal/app/services/messaging"
)

// IdempotencyStore remembers delivered sends in memory.
type IdempotencyStore struct {
	mu    sync.RWMutex
	items map[string]messaging.SendRecord
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{items: make(map[string]messaging.SendRecord)}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (messaging.SendRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.items[key]
	return rec, ok, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, rec messaging.SendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[rec.Key] = rec
	return nil
}

var _ messaging.IdempotencyStore = (*IdempotencyStore)(nil)
