package chat

import (
	"context"
	"time"
)

// Repository persists conversations and messages for the chat backend.
type Repository interface {
	ConversationByID(ctx context.Context, id string) (*Conversation, error)
	ConversationByPair(ctx context.Context, a, b Participant) (*Conversation, error)
	SaveConversation(ctx context.Context, conv *Conversation) error
	ConversationsFor(ctx context.Context, p Participant) ([]Conversation, error)

	AppendMessage(ctx context.Context, msg Message) error
	// Messages returns history newest first, skipping messages created at or
	// before notAfter when it is set.
	Messages(ctx context.Context, conversationID string, notAfter time.Time, offset, limit int) ([]Message, error)
	// MarkRead stores receipts for reader on every message the other side
	// sent and returns the ids that changed.
	MarkRead(ctx context.Context, conversationID string, reader Participant, at time.Time) ([]string, error)
}
