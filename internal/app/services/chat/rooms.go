package chat

import (
	"context"
	"errors"
	"fmt"

	domainchat "workly/internal/domain/chat"
)

// Open makes a conversation the active one for the acting identity and
// joins its room. Opening another conversation leaves the previous room.
func (s *Store) Open(ctx context.Context, conversationID string, mode ViewMode) error {
	as, err := s.acting()
	if err != nil {
		return err
	}
	var (
		prev    string
		missing bool
	)
	s.update(func() []Change {
		conv, ok := s.conversations[conversationID]
		if !ok || !conv.Has(as) {
			missing = true
			return nil
		}
		if s.active != nil && s.active.Owner == as && s.active.ID != conversationID {
			prev = s.active.ID
		}
		s.active = &ActiveConversation{ID: conversationID, Mode: mode, Owner: as}
		return []Change{{Kind: ChangeActive, ConversationID: conversationID}}
	})
	if missing {
		return domainchat.ErrConversationNotFound
	}
	if !s.Connected() {
		return nil
	}
	var errs []error
	if prev != "" {
		if err := s.transport.LeaveConversation(ctx, prev); err != nil {
			errs = append(errs, fmt.Errorf("leave %s: %w", prev, err))
		}
		_ = s.StopTyping(ctx, prev)
	}
	if err := s.transport.JoinConversation(ctx, conversationID); err != nil {
		errs = append(errs, fmt.Errorf("join %s: %w", conversationID, err))
	}
	return errors.Join(errs...)
}

// Close clears the active conversation and leaves its room.
func (s *Store) Close(ctx context.Context) error {
	as, err := s.acting()
	if err != nil {
		return err
	}
	var prev string
	s.update(func() []Change {
		if s.active == nil || s.active.Owner != as {
			return nil
		}
		prev = s.active.ID
		s.active = nil
		return []Change{{Kind: ChangeActive, ConversationID: prev}}
	})
	if prev == "" {
		return nil
	}
	_ = s.StopTyping(ctx, prev)
	if !s.Connected() {
		return nil
	}
	if err := s.transport.LeaveConversation(ctx, prev); err != nil {
		return fmt.Errorf("leave %s: %w", prev, err)
	}
	return nil
}
