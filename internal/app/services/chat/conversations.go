package chat

import (
	"context"
	"fmt"
	"strconv"

	domainchat "workly/internal/domain/chat"
)

// LoadConversations fetches one page of the acting identity's inbox and
// merges it into the store.
func (s *Store) LoadConversations(ctx context.Context, page PageRequest) (ConversationPage, error) {
	as, err := s.acting()
	if err != nil {
		return ConversationPage{}, err
	}
	page = page.normalize(s.pageSize)
	res, err := s.backend.ListConversations(ctx, as, page)
	if err != nil {
		return ConversationPage{}, fmt.Errorf("load conversations: %w", err)
	}
	s.update(func() []Change {
		for _, c := range res.Items {
			if !c.Has(as) {
				s.warn("conversation outside acting identity dropped", "conversation_id", c.ID, "identity", as.Key())
				continue
			}
			s.upsertLocked(c)
		}
		return []Change{{Kind: ChangeConversations}}
	})
	return res, nil
}

// EnsureConversations loads the first inbox page at most once per
// connection. Concurrent callers share one request.
func (s *Store) EnsureConversations(ctx context.Context) error {
	s.mu.RLock()
	identity, gen, loaded := s.identity, s.gen, s.loadedGen
	s.mu.RUnlock()
	if identity == nil {
		return domainchat.ErrNoIdentity
	}
	if loaded == gen {
		return nil
	}
	key := "inbox:" + identity.Participant().Key() + ":" + strconv.FormatUint(gen, 10)
	_, err := s.shared(ctx, key, func(ctx context.Context) (any, error) {
		s.mu.RLock()
		done := s.loadedGen == gen
		s.mu.RUnlock()
		if done {
			return nil, nil
		}
		if _, err := s.LoadConversations(ctx, PageRequest{Page: 1}); err != nil {
			return nil, err
		}
		s.mu.Lock()
		if s.gen == gen {
			s.loadedGen = gen
		}
		s.mu.Unlock()
		return nil, nil
	})
	return err
}

// CreateOrGetConversation returns the single conversation between the acting
// identity and other, creating it on the server when none exists yet.
func (s *Store) CreateOrGetConversation(ctx context.Context, otherID string, otherType domainchat.ParticipantType) (domainchat.Conversation, error) {
	as, err := s.acting()
	if err != nil {
		return domainchat.Conversation{}, err
	}
	other, err := domainchat.NewParticipant(otherID, otherType)
	if err != nil {
		return domainchat.Conversation{}, err
	}
	if other == as {
		return domainchat.Conversation{}, domainchat.ErrSelfConversation
	}
	if conv, ok := s.findByPair(as, other); ok {
		return conv, nil
	}

	key := "pair:" + as.Key() + ":" + domainchat.PairKey(as, other)
	v, err := s.shared(ctx, key, func(ctx context.Context) (any, error) {
		conv, err := s.backend.CreateOrGetConversation(ctx, as, other)
		if err != nil {
			return nil, err
		}
		if !conv.Has(as) || !conv.Has(other) {
			return nil, fmt.Errorf("%w: conversation %s is not between %s and %s", domainchat.ErrMalformedPayload, conv.ID, as, other)
		}
		s.update(func() []Change {
			s.upsertLocked(conv)
			return []Change{{Kind: ChangeConversations, ConversationID: conv.ID}}
		})
		return conv, nil
	})
	if err != nil {
		return domainchat.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	conv := v.(domainchat.Conversation)
	return conv.Clone(), nil
}

func (s *Store) findByPair(a, b domainchat.Participant) (domainchat.Conversation, bool) {
	key := domainchat.PairKey(a, b)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.PairKey() == key {
			return c.Clone(), true
		}
	}
	return domainchat.Conversation{}, false
}

// DeleteConversation soft-deletes the conversation for the acting identity
// only. The other participant keeps seeing it.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	as, err := s.acting()
	if err != nil {
		return err
	}
	if _, ok := s.ConversationFor(as, conversationID); !ok {
		return domainchat.ErrConversationNotFound
	}
	conv, err := s.backend.DeleteConversation(ctx, as, conversationID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	at, ok := conv.DeletedAt(as.ID)
	if !ok {
		at = s.now()
	}
	mark := Tombstone{Owner: as, ConversationID: conversationID, HiddenAt: at, ClearedAt: at}
	s.update(func() []Change {
		if conv.ID != "" {
			s.upsertLocked(conv)
		}
		key := markKey(as, conversationID)
		s.marks[key] = mergeTombstone(s.marks[key], mark)
		mark = s.marks[key]
		changes := []Change{
			{Kind: ChangeConversations, ConversationID: conversationID},
			{Kind: ChangeMessages, ConversationID: conversationID},
		}
		if s.active != nil && s.active.ID == conversationID && s.active.Owner == as {
			s.active = nil
			changes = append(changes, Change{Kind: ChangeActive})
		}
		return changes
	})
	if err := s.tombstoneStore.Save(ctx, mark); err != nil {
		s.warn("tombstone persist failed", "conversation_id", conversationID, "error", err)
	}
	return nil
}

// ClearHistory hides every message currently in the conversation for the
// acting identity. It never touches the server.
func (s *Store) ClearHistory(ctx context.Context, conversationID string) error {
	as, err := s.acting()
	if err != nil {
		return err
	}
	var (
		mark    Tombstone
		missing bool
	)
	s.update(func() []Change {
		conv, ok := s.conversations[conversationID]
		if !ok || !conv.Has(as) {
			missing = true
			return nil
		}
		at := s.now()
		if conv.LastMessageAt.After(at) {
			at = conv.LastMessageAt
		}
		key := markKey(as, conversationID)
		s.marks[key] = mergeTombstone(s.marks[key], Tombstone{Owner: as, ConversationID: conversationID, ClearedAt: at})
		mark = s.marks[key]
		return []Change{{Kind: ChangeMessages, ConversationID: conversationID}}
	})
	if missing {
		return domainchat.ErrConversationNotFound
	}
	if err := s.tombstoneStore.Save(ctx, mark); err != nil {
		s.warn("tombstone persist failed", "conversation_id", conversationID, "error", err)
	}
	return nil
}

// UnreadCount is the acting identity's unread counter for one conversation.
func (s *Store) UnreadCount(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return 0
	}
	c, ok := s.conversations[conversationID]
	if !ok {
		return 0
	}
	return c.UnreadFor(s.identity.Participant().ID)
}

// upsertLocked stores the server snapshot, keeping a newer local preview.
func (s *Store) upsertLocked(incoming domainchat.Conversation) {
	c := incoming.Clone()
	if cur, ok := s.conversations[c.ID]; ok && cur.LastMessage != nil {
		if c.LastMessage == nil || cur.LastMessage.CreatedAt.After(c.LastMessage.CreatedAt) {
			last := cur.LastMessage.Clone()
			c.LastMessage = &last
			c.LastMessageAt = cur.LastMessageAt
		}
	}
	if c.UnreadCount == nil {
		c.UnreadCount = make(map[string]int)
	}
	s.conversations[c.ID] = &c
}
