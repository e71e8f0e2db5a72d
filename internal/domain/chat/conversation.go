package chat

import (
	"strings"
	"time"
)

// Conversation is the two-party container for messages.
type Conversation struct {
	ID                  string               `json:"id"`
	Participants        [2]Participant       `json:"participants"`
	LastMessage         *Message             `json:"last_message,omitempty"`
	LastMessageAt       time.Time            `json:"last_message_at,omitempty"`
	UnreadCount         map[string]int       `json:"unread_count"`
	DeletedParticipants map[string]time.Time `json:"deleted_participants,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

type CreateConversationParams struct {
	ID           string
	Participants []Participant
	Now          time.Time
}

// NewConversation validates the participant pair. Participants keep the
// initiator-first order they were given; identity is the order-independent
// PairKey.
func NewConversation(params CreateConversationParams) (*Conversation, error) {
	id := strings.TrimSpace(params.ID)
	if id == "" {
		return nil, ErrConversationIDRequired
	}
	pair, err := ValidatePair(params.Participants)
	if err != nil {
		return nil, err
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	return &Conversation{
		ID:           id,
		Participants: pair,
		UnreadCount: map[string]int{
			pair[0].ID: 0,
			pair[1].ID: 0,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ValidatePair checks that exactly two distinct, valid participants are given.
func ValidatePair(ps []Participant) ([2]Participant, error) {
	var pair [2]Participant
	if len(ps) != 2 {
		return pair, ErrParticipantsInvalid
	}
	for i, p := range ps {
		norm, err := NewParticipant(p.ID, p.Type)
		if err != nil {
			return pair, err
		}
		pair[i] = norm
	}
	if pair[0] == pair[1] {
		return pair, ErrParticipantsInvalid
	}
	return pair, nil
}

func (c *Conversation) PairKey() string {
	return PairKey(c.Participants[0], c.Participants[1])
}

// Has reports whether p is one of the two sides, matching id and type.
func (c *Conversation) Has(p Participant) bool {
	return c.Participants[0] == p || c.Participants[1] == p
}

// Other returns the counterpart of p.
func (c *Conversation) Other(p Participant) (Participant, bool) {
	switch p {
	case c.Participants[0]:
		return c.Participants[1], true
	case c.Participants[1]:
		return c.Participants[0], true
	default:
		return Participant{}, false
	}
}

func (c *Conversation) UnreadFor(participantID string) int {
	if c.UnreadCount == nil {
		return 0
	}
	return c.UnreadCount[participantID]
}

func (c *Conversation) SetUnread(participantID string, n int) {
	if c.UnreadCount == nil {
		c.UnreadCount = make(map[string]int, 2)
	}
	if n < 0 {
		n = 0
	}
	c.UnreadCount[participantID] = n
}

// DeletedAt returns the tombstone recorded for participantID, if any.
func (c *Conversation) DeletedAt(participantID string) (time.Time, bool) {
	if c.DeletedParticipants == nil {
		return time.Time{}, false
	}
	at, ok := c.DeletedParticipants[participantID]
	return at, ok
}

func (c *Conversation) MarkDeleted(participantID string, at time.Time) {
	if c.DeletedParticipants == nil {
		c.DeletedParticipants = make(map[string]time.Time, 1)
	}
	c.DeletedParticipants[participantID] = at.UTC()
	c.SetUnread(participantID, 0)
}

// VisibleTo applies the per-participant tombstone: a deleted conversation
// comes back once activity happens after the deletion.
func (c *Conversation) VisibleTo(p Participant) bool {
	if !c.Has(p) {
		return false
	}
	at, deleted := c.DeletedAt(p.ID)
	if !deleted {
		return true
	}
	return c.LastMessageAt.After(at)
}

// LastActivity is the ordering key for inbox listings.
func (c *Conversation) LastActivity() time.Time {
	if !c.LastMessageAt.IsZero() {
		return c.LastMessageAt
	}
	return c.CreatedAt
}

// ApplyMessage records m as the latest message when it is newer than the
// current one.
func (c *Conversation) ApplyMessage(m Message) bool {
	if c.LastMessage != nil && m.CreatedAt.Before(c.LastMessage.CreatedAt) {
		return false
	}
	msg := m.Clone()
	c.LastMessage = &msg
	c.LastMessageAt = m.CreatedAt
	if m.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = m.CreatedAt
	}
	return true
}

// Clone deep-copies maps and the last message so callers can hand out
// snapshots.
func (c Conversation) Clone() Conversation {
	out := c
	if c.LastMessage != nil {
		msg := c.LastMessage.Clone()
		out.LastMessage = &msg
	}
	if c.UnreadCount != nil {
		out.UnreadCount = make(map[string]int, len(c.UnreadCount))
		for k, v := range c.UnreadCount {
			out.UnreadCount[k] = v
		}
	}
	if c.DeletedParticipants != nil {
		out.DeletedParticipants = make(map[string]time.Time, len(c.DeletedParticipants))
		for k, v := range c.DeletedParticipants {
			out.DeletedParticipants[k] = v
		}
	}
	return out
}
