package chat

import (
	"context"
	"fmt"

	domainchat "workly/internal/domain/chat"
)

// LoadMessages fetches one page of history and merges it by id.
func (s *Store) LoadMessages(ctx context.Context, conversationID string, page PageRequest) (MessagePage, error) {
	as, err := s.acting()
	if err != nil {
		return MessagePage{}, err
	}
	if conversationID == "" {
		return MessagePage{}, domainchat.ErrConversationIDRequired
	}
	page = page.normalize(s.pageSize)
	res, err := s.backend.ListMessages(ctx, as, conversationID, page)
	if err != nil {
		return MessagePage{}, fmt.Errorf("load messages: %w", err)
	}
	s.update(func() []Change {
		items := make([]domainchat.Message, 0, len(res.Items))
		for _, m := range res.Items {
			if m.ConversationID != conversationID {
				continue
			}
			items = append(items, m)
		}
		list := dropSupersededTemps(s.messages[conversationID], items)
		s.messages[conversationID] = domainchat.MergeMessages(list, items)
		changes := []Change{{Kind: ChangeMessages, ConversationID: conversationID}}
		if conv := s.conversations[conversationID]; conv != nil && len(items) > 0 {
			if conv.ApplyMessage(latest(items)) {
				changes = append(changes, Change{Kind: ChangeConversations, ConversationID: conversationID})
			}
		}
		return changes
	})
	return res, nil
}

// SendMessage appends an optimistic entry and blocks until the server acks
// it. On failure the entry stays in the list marked FAILED and the error is
// returned with it.
func (s *Store) SendMessage(ctx context.Context, conversationID, content string) (domainchat.Message, error) {
	as, err := s.acting()
	if err != nil {
		return domainchat.Message{}, err
	}
	if !s.Connected() {
		return domainchat.Message{}, domainchat.ErrNotConnected
	}
	var pending domainchat.Message
	var failure error
	s.update(func() []Change {
		conv, ok := s.conversations[conversationID]
		switch {
		case !ok:
			failure = domainchat.ErrConversationNotFound
			return nil
		case !conv.Has(as):
			failure = domainchat.ErrNotParticipant
			return nil
		}
		pending, failure = domainchat.NewPendingMessage(conversationID, as, content, s.now())
		if failure != nil {
			return nil
		}
		s.messages[conversationID] = domainchat.MergeMessages(s.messages[conversationID], []domainchat.Message{pending})
		conv.ApplyMessage(pending)
		return []Change{
			{Kind: ChangeMessages, ConversationID: conversationID},
			{Kind: ChangeConversations, ConversationID: conversationID},
		}
	})
	if failure != nil {
		return domainchat.Message{}, failure
	}
	return s.deliver(ctx, pending)
}

// RetryMessage resends a FAILED message under its original client id so the
// server can drop duplicates.
func (s *Store) RetryMessage(ctx context.Context, conversationID, messageID string) (domainchat.Message, error) {
	if _, err := s.acting(); err != nil {
		return domainchat.Message{}, err
	}
	if !s.Connected() {
		return domainchat.Message{}, domainchat.ErrNotConnected
	}
	var pending domainchat.Message
	var failure error
	s.update(func() []Change {
		list := s.messages[conversationID]
		i := indexOf(list, messageID)
		if i < 0 {
			failure = domainchat.ErrMessageNotFound
			return nil
		}
		if list[i].Status != domainchat.StatusFailed {
			failure = domainchat.ErrMessageNotRetryable
			return nil
		}
		list[i].Status = domainchat.StatusSending
		list[i].UpdatedAt = s.now()
		pending = list[i].Clone()
		return []Change{{Kind: ChangeMessages, ConversationID: conversationID}}
	})
	if failure != nil {
		return domainchat.Message{}, failure
	}
	return s.deliver(ctx, pending)
}

func (s *Store) deliver(ctx context.Context, pending domainchat.Message) (domainchat.Message, error) {
	acked, err := s.transport.SendMessage(ctx, SendRequest{
		ConversationID: pending.ConversationID,
		Content:        pending.Content,
		ClientID:       pending.ClientID,
	})
	if err == nil && (acked.ID == "" || domainchat.IsTempID(acked.ID)) {
		err = fmt.Errorf("%w: ack without server id", domainchat.ErrMalformedPayload)
	}
	if err != nil {
		if confirmed, ok := s.confirmed(pending.ConversationID, pending.ClientID); ok {
			return confirmed, nil
		}
		failed := s.markFailed(pending)
		s.warn("message send failed", "conversation_id", pending.ConversationID, "client_id", pending.ClientID, "error", err)
		return failed, fmt.Errorf("send message: %w", err)
	}
	if acked.ClientID == "" {
		acked.ClientID = pending.ClientID
	}
	if acked.ConversationID == "" {
		acked.ConversationID = pending.ConversationID
	}
	if acked.Status == "" || acked.Status == domainchat.StatusSending || acked.Status == domainchat.StatusFailed {
		acked.Status = domainchat.StatusSent
	}
	s.update(func() []Change {
		s.reconcileLocked(acked)
		return []Change{
			{Kind: ChangeMessages, ConversationID: acked.ConversationID},
			{Kind: ChangeConversations, ConversationID: acked.ConversationID},
		}
	})
	return acked.Clone(), nil
}

// confirmed finds a server copy of clientID that arrived by broadcast while
// the ack was lost.
func (s *Store) confirmed(conversationID, clientID string) (domainchat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages[conversationID] {
		if m.ClientID == clientID && !domainchat.IsTempID(m.ID) {
			return m.Clone(), true
		}
	}
	return domainchat.Message{}, false
}

func (s *Store) markFailed(pending domainchat.Message) domainchat.Message {
	failed := pending.Clone()
	failed.Status = domainchat.StatusFailed
	failed.UpdatedAt = s.now()
	s.update(func() []Change {
		list := s.messages[pending.ConversationID]
		if i := indexOf(list, pending.ID); i >= 0 {
			list[i].Status = domainchat.StatusFailed
			list[i].UpdatedAt = failed.UpdatedAt
			failed = list[i].Clone()
		} else {
			s.messages[pending.ConversationID] = domainchat.MergeMessages(list, []domainchat.Message{failed})
		}
		if conv := s.conversations[pending.ConversationID]; conv != nil && conv.LastMessage != nil && conv.LastMessage.ID == pending.ID {
			conv.LastMessage.Status = domainchat.StatusFailed
		}
		return []Change{{Kind: ChangeMessages, ConversationID: pending.ConversationID}}
	})
	return failed
}

// reconcileLocked swaps the optimistic entry carrying m.ClientID for the
// server copy and reports whether m was already known.
func (s *Store) reconcileLocked(m domainchat.Message) bool {
	cid := m.ConversationID
	list := dropSupersededTemps(s.messages[cid], []domainchat.Message{m})
	existed := indexOf(list, m.ID) >= 0
	s.messages[cid] = domainchat.MergeMessages(list, []domainchat.Message{m})
	if conv := s.conversations[cid]; conv != nil {
		if conv.LastMessage != nil && m.ClientID != "" && conv.LastMessage.ClientID == m.ClientID {
			conv.LastMessage = nil
		}
		conv.ApplyMessage(m)
	}
	return existed
}

// MarkMessagesAsRead records read receipts for the acting identity on every
// message the other side sent, resets the unread counter and tells the
// server when connected.
func (s *Store) MarkMessagesAsRead(ctx context.Context, conversationID string) error {
	as, err := s.acting()
	if err != nil {
		return err
	}
	now := s.now()
	var missing bool
	s.update(func() []Change {
		conv, ok := s.conversations[conversationID]
		if !ok || !conv.Has(as) {
			missing = true
			return nil
		}
		list := s.messages[conversationID]
		for i := range list {
			if list[i].Sender != as {
				list[i].MarkRead(as.ID, now)
			}
		}
		if conv.LastMessage != nil && conv.LastMessage.Sender != as {
			conv.LastMessage.MarkRead(as.ID, now)
		}
		conv.SetUnread(as.ID, 0)
		return []Change{
			{Kind: ChangeMessages, ConversationID: conversationID},
			{Kind: ChangeConversations, ConversationID: conversationID},
		}
	})
	if missing {
		return domainchat.ErrConversationNotFound
	}
	if !s.Connected() {
		return nil
	}
	if err := s.transport.MarkRead(ctx, conversationID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func dropSupersededTemps(list, incoming []domainchat.Message) []domainchat.Message {
	clientIDs := make(map[string]struct{}, len(incoming))
	for _, m := range incoming {
		if m.ClientID != "" && !domainchat.IsTempID(m.ID) {
			clientIDs[m.ClientID] = struct{}{}
		}
	}
	if len(clientIDs) == 0 {
		return list
	}
	out := make([]domainchat.Message, 0, len(list))
	for _, m := range list {
		if _, ok := clientIDs[m.ClientID]; ok && domainchat.IsTempID(m.ID) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func indexOf(list []domainchat.Message, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func latest(ms []domainchat.Message) domainchat.Message {
	out := ms[0]
	for _, m := range ms[1:] {
		if m.CreatedAt.After(out.CreatedAt) {
			out = m
		}
	}
	return out
}
