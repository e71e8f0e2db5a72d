package chat

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrParticipantIDRequired  = errors.New("chat: participant id is required")
	ErrInvalidParticipantType = errors.New("chat: invalid participant type")
	ErrParticipantsInvalid    = errors.New("chat: conversation needs exactly two distinct participants")
	ErrNotParticipant         = errors.New("chat: not a conversation participant")
	ErrConversationIDRequired = errors.New("chat: conversation id is required")
	ErrConversationNotFound   = errors.New("chat: conversation not found")
	ErrEmptyContent           = errors.New("chat: message content is required")
	ErrSelfConversation       = errors.New("chat: cannot start a conversation with yourself")
	ErrNoIdentity             = errors.New("chat: no acting identity")
	ErrNotConnected           = errors.New("chat: not connected")
	ErrMessageNotFound        = errors.New("chat: message not found")
	ErrMessageNotRetryable    = errors.New("chat: only failed messages can be retried")
	ErrIdentityNotAuthorized  = errors.New("chat: identity not authorized for this session")
	ErrProfileNotFound        = errors.New("chat: profile not found")
	ErrMalformedPayload       = errors.New("chat: malformed payload")
	ErrIdentityMismatch       = errors.New("chat: view scope is not the acting identity")
)

// ParticipantType namespaces participant ids.
type ParticipantType string

const (
	ParticipantUser    ParticipantType = "USER"
	ParticipantCompany ParticipantType = "COMPANY"
)

// ParseParticipantType accepts the canonical names case-insensitively.
func ParseParticipantType(raw string) (ParticipantType, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(ParticipantUser):
		return ParticipantUser, nil
	case string(ParticipantCompany):
		return ParticipantCompany, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidParticipantType, raw)
	}
}

func (t ParticipantType) Valid() bool {
	return t == ParticipantUser || t == ParticipantCompany
}

// Participant is one side of a conversation.
type Participant struct {
	ID   string          `json:"id"`
	Type ParticipantType `json:"type"`
}

// NewParticipant validates and normalizes a participant reference.
func NewParticipant(id string, typ ParticipantType) (Participant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Participant{}, ErrParticipantIDRequired
	}
	if !typ.Valid() {
		return Participant{}, fmt.Errorf("%w: %q", ErrInvalidParticipantType, typ)
	}
	return Participant{ID: id, Type: typ}, nil
}

func User(id string) Participant {
	return Participant{ID: id, Type: ParticipantUser}
}

func CompanyParticipant(id string) Participant {
	return Participant{ID: id, Type: ParticipantCompany}
}

// Key renders the participant as TYPE:ID.
func (p Participant) Key() string {
	return string(p.Type) + ":" + p.ID
}

func (p Participant) IsZero() bool {
	return p.ID == "" && p.Type == ""
}

func (p Participant) String() string {
	return p.Key()
}

// PairKey identifies a participant pair regardless of order.
func PairKey(a, b Participant) string {
	keys := []string{a.Key(), b.Key()}
	sort.Strings(keys)
	return keys[0] + "|" + keys[1]
}
