package chat

import (
	"context"
	"time"

	domainchat "workly/internal/domain/chat"
)

// PageRequest selects a 1-based page of results.
type PageRequest struct {
	Page  int
	Limit int
}

func (p PageRequest) normalize(defLimit int) PageRequest {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = defLimit
	}
	return p
}

type ConversationPage struct {
	Items   []domainchat.Conversation
	Page    int
	HasMore bool
}

// MessagePage holds history newest first, as the API returns it.
type MessagePage struct {
	Items   []domainchat.Message
	Page    int
	HasMore bool
}

// Backend is the REST API the chat core reconciles against.
type Backend interface {
	ListConversations(ctx context.Context, as domainchat.Participant, page PageRequest) (ConversationPage, error)
	CreateOrGetConversation(ctx context.Context, as, other domainchat.Participant) (domainchat.Conversation, error)
	DeleteConversation(ctx context.Context, as domainchat.Participant, conversationID string) (domainchat.Conversation, error)
	ListMessages(ctx context.Context, as domainchat.Participant, conversationID string, page PageRequest) (MessagePage, error)
	// Profile never fails with not-found; a missing participant yields
	// domainchat.DeletedProfile.
	Profile(ctx context.Context, p domainchat.Participant) (domainchat.Profile, error)
}

type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// SendRequest carries the correlation id the server echoes in its ack.
type SendRequest struct {
	ConversationID string
	Content        string
	ClientID       string
}

// Transport is one live socket bound to one acting identity.
type Transport interface {
	Connect(ctx context.Context, identity domainchat.Participant, token string) error
	Disconnect() error
	State() ConnState
	// SendMessage blocks until the server acknowledges req.ClientID.
	SendMessage(ctx context.Context, req SendRequest) (domainchat.Message, error)
	JoinConversation(ctx context.Context, conversationID string) error
	LeaveConversation(ctx context.Context, conversationID string) error
	StartTyping(ctx context.Context, conversationID string) error
	StopTyping(ctx context.Context, conversationID string) error
	MarkRead(ctx context.Context, conversationID string) error
	SetListener(l Listener)
}

// Listener receives transport callbacks tagged with the identity of the
// connection that produced them.
type Listener interface {
	OnStateChange(identity domainchat.Participant, state ConnState)
	OnInbound(identity domainchat.Participant, ev Inbound)
}

// Inbound is a server push decoded by the transport.
type Inbound interface {
	inbound()
}

// MessageReceived is a new or updated message. Conversation, when present,
// is the server snapshot after the message was stored.
type MessageReceived struct {
	Message      domainchat.Message
	Conversation *domainchat.Conversation
}

type TypingChanged struct {
	ConversationID string
	Participant    domainchat.Participant
	Typing         bool
}

type MessagesRead struct {
	ConversationID string
	Reader         domainchat.Participant
	MessageIDs     []string
	ReadAt         time.Time
}

type PresenceChanged struct {
	Participant domainchat.Participant
	Online      bool
}

func (MessageReceived) inbound() {}
func (TypingChanged) inbound()   {}
func (MessagesRead) inbound()    {}
func (PresenceChanged) inbound() {}

// Tombstone is a local, per-owner marker over a shared conversation. Zero
// times mean the marker is unset.
type Tombstone struct {
	Owner          domainchat.Participant `json:"owner"`
	ConversationID string                 `json:"conversation_id"`
	HiddenAt       time.Time              `json:"hidden_at,omitempty"`
	ClearedAt      time.Time              `json:"cleared_at,omitempty"`
}

// Merge keeps the later of each marker.
func (t Tombstone) Merge(next Tombstone) Tombstone {
	return mergeTombstone(t, next)
}

// TombstoneStore persists hidden/cleared markers across restarts.
type TombstoneStore interface {
	Load(ctx context.Context, owner domainchat.Participant) ([]Tombstone, error)
	Save(ctx context.Context, t Tombstone) error
}

// TokenSource yields the bearer token of the authenticated human.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for a fixed token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}
