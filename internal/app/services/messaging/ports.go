package messaging

import (
	"context"
	"time"

	domainchat "workly/internal/domain/chat"
)

// Directory resolves participants to their public profiles.
type Directory interface {
	// Profile returns domainchat.ErrProfileNotFound for unknown participants.
	Profile(ctx context.Context, p domainchat.Participant) (domainchat.Profile, error)
}

// SendRecord remembers the message stored for one (sender, client id) pair.
type SendRecord struct {
	Key        string
	Payload    []byte
	OccurredAt time.Time
}

// IdempotencyStore drops retried sends that already reached the repository.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (SendRecord, bool, error)
	Save(ctx context.Context, rec SendRecord) error
}
