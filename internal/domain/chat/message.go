package chat

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageStatus tracks delivery. Sending and Failed are client-only.
type MessageStatus string

const (
	StatusSending   MessageStatus = "SENDING"
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
	StatusFailed    MessageStatus = "FAILED"
)

// TempIDPrefix marks ids minted locally for optimistic entries.
const TempIDPrefix = "temp-"

func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

type ReadReceipt struct {
	ParticipantID string    `json:"participant_id"`
	ReadAt        time.Time `json:"read_at"`
}

type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	ClientID       string        `json:"client_id,omitempty"`
	Sender         Participant   `json:"sender"`
	Content        string        `json:"content"`
	Status         MessageStatus `json:"status"`
	ReadBy         []ReadReceipt `json:"read_by"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// NewPendingMessage builds the optimistic entry for a local send. The temp id
// doubles as the correlation id the server echoes back.
func NewPendingMessage(conversationID string, sender Participant, content string, now time.Time) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, ErrEmptyContent
	}
	if strings.TrimSpace(conversationID) == "" {
		return Message{}, ErrConversationIDRequired
	}
	id := NewTempID()
	now = now.UTC()
	return Message{
		ID:             id,
		ConversationID: conversationID,
		ClientID:       id,
		Sender:         sender,
		Content:        content,
		Status:         StatusSending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (m Message) IsReadBy(participantID string) bool {
	for _, r := range m.ReadBy {
		if r.ParticipantID == participantID {
			return true
		}
	}
	return false
}

// MarkRead adds a receipt for participantID. It returns false when the
// receipt already exists.
func (m *Message) MarkRead(participantID string, at time.Time) bool {
	if m.IsReadBy(participantID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, ReadReceipt{ParticipantID: participantID, ReadAt: at.UTC()})
	if m.Status != StatusSending && m.Status != StatusFailed {
		m.Status = StatusRead
	}
	if at.After(m.UpdatedAt) {
		m.UpdatedAt = at.UTC()
	}
	return true
}

func (m Message) Clone() Message {
	out := m
	if m.ReadBy != nil {
		out.ReadBy = append([]ReadReceipt(nil), m.ReadBy...)
	}
	return out
}

// MergeMessages keys both batches by id, lets incoming win on conflict and
// returns the union ordered by creation time (ties broken by id).
func MergeMessages(existing, incoming []Message) []Message {
	byID := make(map[string]Message, len(existing)+len(incoming))
	for _, m := range existing {
		byID[m.ID] = m
	}
	for _, m := range incoming {
		byID[m.ID] = m
	}
	out := make([]Message, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	SortMessages(out)
	return out
}

func SortMessages(ms []Message) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.Before(ms[j].CreatedAt)
		}
		return ms[i].ID < ms[j].ID
	})
}
