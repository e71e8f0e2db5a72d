package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"

	"workly/internal/app/services/chat"
	domainchat "workly/internal/domain/chat"
)

const tombstonePrefix = "tomb:"

// Tombstones persists hidden/cleared markers in a Pebble database so they
// survive client restarts.
type Tombstones struct {
	db *pebble.DB
}

func OpenTombstones(dir string) (*Tombstones, error) {
	if err := os.MkdirAll(filepath.Dir(dir), 0o700); err != nil {
		return nil, err
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open tombstones: %w", err)
	}
	return &Tombstones{db: db}, nil
}

func (s *Tombstones) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Tombstones) Load(_ context.Context, owner domainchat.Participant) ([]chat.Tombstone, error) {
	prefix := ownerPrefix(owner)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []chat.Tombstone
	for ok := it.First(); ok; ok = it.Next() {
		var t chat.Tombstone
		if err := json.Unmarshal(it.Value(), &t); err != nil {
			return nil, fmt.Errorf("%w: tombstone %q: %v", domainchat.ErrMalformedPayload, it.Key(), err)
		}
		out = append(out, t)
	}
	return out, it.Error()
}

func (s *Tombstones) Save(_ context.Context, t chat.Tombstone) error {
	if t.Owner.IsZero() || t.ConversationID == "" {
		return domainchat.ErrConversationIDRequired
	}
	key := append(ownerPrefix(t.Owner), t.ConversationID...)
	cur, closer, err := s.db.Get(key)
	switch {
	case err == nil:
		var prev chat.Tombstone
		uerr := json.Unmarshal(cur, &prev)
		closer.Close()
		if uerr == nil {
			t = prev.Merge(t)
		}
	case !errors.Is(err, pebble.ErrNotFound):
		return err
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.db.Set(key, raw, pebble.Sync)
}

func ownerPrefix(owner domainchat.Participant) []byte {
	return []byte(tombstonePrefix + owner.Key() + "|")
}

func upperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	end[len(end)-1]++
	return end
}

var _ chat.TombstoneStore = (*Tombstones)(nil)
