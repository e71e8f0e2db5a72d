package chat

import (
	"context"
	"time"

	domainchat "workly/internal/domain/chat"
)

var _ Listener = (*Store)(nil)

type remoteTyping struct {
	participant domainchat.Participant
	seq         uint64
}

// OnStateChange follows the socket of the acting identity. Callbacks from a
// connection that no longer matches the identity are dropped.
func (s *Store) OnStateChange(identity domainchat.Participant, state ConnState) {
	var (
		connected bool
		rejoin    string
	)
	s.update(func() []Change {
		if s.identity == nil || s.identity.Participant() != identity || s.state == state {
			return nil
		}
		s.state = state
		changes := []Change{{Kind: ChangeConnection}}
		switch state {
		case StateConnected:
			s.gen++
			connected = true
			if s.active != nil && s.active.Owner == identity {
				rejoin = s.active.ID
			}
		case StateDisconnected:
			s.typing = make(map[string]map[string]remoteTyping)
			s.online = make(map[string]bool)
			changes = append(changes, Change{Kind: ChangeTyping}, Change{Kind: ChangePresence})
		}
		return changes
	})
	if connected {
		go s.afterConnect(rejoin)
	}
}

func (s *Store) afterConnect(rejoin string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.loadTimeout)
	defer cancel()
	if rejoin != "" {
		if err := s.transport.JoinConversation(ctx, rejoin); err != nil {
			s.warn("rejoin conversation failed", "conversation_id", rejoin, "error", err)
		}
	}
	if err := s.EnsureConversations(ctx); err != nil {
		s.warn("conversation load after connect failed", "error", err)
	}
}

// OnInbound applies a server push for identity.
func (s *Store) OnInbound(identity domainchat.Participant, ev Inbound) {
	current := s.Identity()
	if current == nil || current.Participant() != identity {
		s.debug("inbound event for stale identity dropped", "identity", identity.Key())
		return
	}
	switch e := ev.(type) {
	case MessageReceived:
		s.applyMessage(e)
	case MessagesRead:
		s.applyRead(e)
	case TypingChanged:
		s.applyTyping(e)
	case PresenceChanged:
		s.update(func() []Change {
			if s.online[e.Participant.Key()] == e.Online {
				return nil
			}
			if e.Online {
				s.online[e.Participant.Key()] = true
			} else {
				delete(s.online, e.Participant.Key())
			}
			return []Change{{Kind: ChangePresence}}
		})
	default:
		s.debug("unknown inbound event ignored")
	}
}

func (s *Store) applyMessage(e MessageReceived) {
	m := e.Message
	if m.ID == "" || m.ConversationID == "" || domainchat.IsTempID(m.ID) {
		s.warn("malformed message push ignored", "message_id", m.ID)
		return
	}
	if m.Status == "" || m.Status == domainchat.StatusSending || m.Status == domainchat.StatusFailed {
		m.Status = domainchat.StatusSent
	}
	cid := m.ConversationID
	s.update(func() []Change {
		changes := []Change{
			{Kind: ChangeMessages, ConversationID: cid},
			{Kind: ChangeConversations, ConversationID: cid},
		}
		snapshot := e.Conversation != nil && e.Conversation.ID == cid
		if snapshot {
			s.upsertLocked(*e.Conversation)
		}
		existed := s.reconcileLocked(m)
		conv := s.conversations[cid]
		if conv != nil && !existed && !snapshot {
			if recipient, ok := conv.Other(m.Sender); ok {
				conv.SetUnread(recipient.ID, conv.UnreadFor(recipient.ID)+1)
			}
		}
		if typers := s.typing[cid]; typers != nil {
			if _, ok := typers[m.Sender.Key()]; ok {
				delete(typers, m.Sender.Key())
				changes = append(changes, Change{Kind: ChangeTyping, ConversationID: cid})
			}
		}
		return changes
	})
}

func (s *Store) applyRead(e MessagesRead) {
	at := e.ReadAt
	if at.IsZero() {
		at = s.now()
	}
	want := make(map[string]struct{}, len(e.MessageIDs))
	for _, id := range e.MessageIDs {
		want[id] = struct{}{}
	}
	s.update(func() []Change {
		list := s.messages[e.ConversationID]
		for i := range list {
			if list[i].Sender == e.Reader {
				continue
			}
			if _, ok := want[list[i].ID]; len(want) > 0 && !ok {
				continue
			}
			list[i].MarkRead(e.Reader.ID, at)
		}
		changes := []Change{{Kind: ChangeMessages, ConversationID: e.ConversationID}}
		if conv := s.conversations[e.ConversationID]; conv != nil {
			if conv.LastMessage != nil && conv.LastMessage.Sender != e.Reader {
				if _, ok := want[conv.LastMessage.ID]; len(want) == 0 || ok {
					conv.LastMessage.MarkRead(e.Reader.ID, at)
				}
			}
			conv.SetUnread(e.Reader.ID, 0)
			changes = append(changes, Change{Kind: ChangeConversations, ConversationID: e.ConversationID})
		}
		return changes
	})
}

func (s *Store) applyTyping(e TypingChanged) {
	key := e.Participant.Key()
	var seq uint64
	s.update(func() []Change {
		typers := s.typing[e.ConversationID]
		if !e.Typing {
			if _, ok := typers[key]; !ok {
				return nil
			}
			delete(typers, key)
			return []Change{{Kind: ChangeTyping, ConversationID: e.ConversationID}}
		}
		if typers == nil {
			typers = make(map[string]remoteTyping)
			s.typing[e.ConversationID] = typers
		}
		s.typingSeq++
		seq = s.typingSeq
		typers[key] = remoteTyping{participant: e.Participant, seq: seq}
		return []Change{{Kind: ChangeTyping, ConversationID: e.ConversationID}}
	})
	if e.Typing {
		time.AfterFunc(s.typingWindow, func() { s.expireTyping(e.ConversationID, key, seq) })
	}
}

// expireTyping drops an indicator that was not refreshed within the window.
func (s *Store) expireTyping(conversationID, key string, seq uint64) {
	s.update(func() []Change {
		typers := s.typing[conversationID]
		cur, ok := typers[key]
		if !ok || cur.seq != seq {
			return nil
		}
		delete(typers, key)
		return []Change{{Kind: ChangeTyping, ConversationID: conversationID}}
	})
}

// TypingIn lists who other than scope is typing in a conversation.
func (s *Store) TypingIn(scope domainchat.Participant, conversationID string) []domainchat.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	typers := s.typing[conversationID]
	out := make([]domainchat.Participant, 0, len(typers))
	for _, t := range typers {
		if t.participant != scope {
			out = append(out, t.participant)
		}
	}
	return out
}
