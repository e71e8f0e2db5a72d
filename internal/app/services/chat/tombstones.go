package chat

import (
	"context"
	"sync"

	domainchat "workly/internal/domain/chat"
)

// MemoryTombstones keeps markers for the life of the process.
type MemoryTombstones struct {
	mu    sync.Mutex
	marks map[string]Tombstone
}

func NewMemoryTombstones() *MemoryTombstones {
	return &MemoryTombstones{marks: make(map[string]Tombstone)}
}

func (m *MemoryTombstones) Load(_ context.Context, owner domainchat.Participant) ([]Tombstone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Tombstone
	for _, t := range m.marks {
		if t.Owner == owner {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryTombstones) Save(_ context.Context, t Tombstone) error {
	if t.Owner.IsZero() || t.ConversationID == "" {
		return domainchat.ErrConversationIDRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := markKey(t.Owner, t.ConversationID)
	m.marks[key] = mergeTombstone(m.marks[key], t)
	return nil
}
