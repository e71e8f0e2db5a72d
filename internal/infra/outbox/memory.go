package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	appoutbox "workly/internal/app/outbox"
)

var ErrDuplicateEntry = errors.New("outbox: duplicate event id")

// MemoryStore keeps entries in process. It backs chatd when no Mongo URI is
// configured and the worker tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry), now: time.Now}
}

func (s *MemoryStore) Add(_ context.Context, record appoutbox.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[record.ID]; ok {
		return ErrDuplicateEntry
	}
	e := newEntry(record, s.now().UTC())
	s.entries[record.ID] = &e
	s.order = append(s.order, record.ID)
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, workerID string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	var e *Entry
	for _, id := range s.order {
		cand := s.entries[id]
		if cand.State != stateNew && cand.State != stateFailed || cand.NextAttempt.After(now) {
			continue
		}
		if e == nil || cand.NextAttempt.Before(e.NextAttempt) {
			e = cand
		}
	}
	if e == nil {
		return nil, nil
	}
	e.State = stateClaimed
	e.ClaimedBy = workerID
	e.ClaimedAt = now
	out := *e
	return &out, nil
}

func (s *MemoryStore) MarkSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.State = stateSent
		e.SentAt = s.now().UTC()
	}
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id string, next time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.State = stateFailed
		e.NextAttempt = next
		e.LastError = errMsg
		e.Attempts++
	}
	return nil
}

// Entries returns a snapshot in insertion order.
func (s *MemoryStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.entries[id])
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
