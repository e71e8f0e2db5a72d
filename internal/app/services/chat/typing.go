package chat

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

type outgoingTyping struct {
	limiter *rate.Limiter
	stop    *time.Timer
}

// NotifyTyping is called on every keystroke. It emits typing_start at most
// once per refresh interval and schedules typing_stop once the user goes
// quiet for the typing window.
func (s *Store) NotifyTyping(ctx context.Context, conversationID string) error {
	if conversationID == "" || !s.Connected() {
		return nil
	}
	s.typingMu.Lock()
	st, ok := s.outgoing[conversationID]
	if !ok {
		st = &outgoingTyping{limiter: rate.NewLimiter(rate.Every(s.typingRefresh), 1)}
		s.outgoing[conversationID] = st
	}
	emit := st.limiter.Allow()
	if st.stop != nil {
		st.stop.Stop()
	}
	st.stop = time.AfterFunc(s.typingWindow, func() { s.expireOutgoing(conversationID, st) })
	s.typingMu.Unlock()

	if !emit {
		return nil
	}
	if err := s.transport.StartTyping(ctx, conversationID); err != nil {
		return fmt.Errorf("typing start: %w", err)
	}
	return nil
}

// StopTyping ends the local typing state right away, e.g. when a message
// is sent.
func (s *Store) StopTyping(ctx context.Context, conversationID string) error {
	if !s.dropOutgoing(conversationID, nil) || !s.Connected() {
		return nil
	}
	if err := s.transport.StopTyping(ctx, conversationID); err != nil {
		return fmt.Errorf("typing stop: %w", err)
	}
	return nil
}

func (s *Store) expireOutgoing(conversationID string, st *outgoingTyping) {
	if !s.dropOutgoing(conversationID, st) || !s.Connected() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.loadTimeout)
	defer cancel()
	if err := s.transport.StopTyping(ctx, conversationID); err != nil {
		s.debug("typing stop failed", "conversation_id", conversationID, "error", err)
	}
}

// dropOutgoing removes the typing state of a conversation. When want is set
// it only removes that exact state.
func (s *Store) dropOutgoing(conversationID string, want *outgoingTyping) bool {
	s.typingMu.Lock()
	defer s.typingMu.Unlock()
	st, ok := s.outgoing[conversationID]
	if !ok || (want != nil && st != want) {
		return false
	}
	delete(s.outgoing, conversationID)
	if st.stop != nil {
		st.stop.Stop()
	}
	return true
}

func (s *Store) stopAllTyping() {
	s.typingMu.Lock()
	defer s.typingMu.Unlock()
	for id, st := range s.outgoing {
		if st.stop != nil {
			st.stop.Stop()
		}
		delete(s.outgoing, id)
	}
}
