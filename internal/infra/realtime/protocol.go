package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"workly/internal/app/dto"
	domainchat "workly/internal/domain/chat"
)

// Client to server events.
const (
	EventSendMessage       = "send_message"
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMarkRead          = "mark_read"
)

// Server to client events. Typing events reuse the client names.
const (
	EventMessageAck         = "message_ack"
	EventMessageError       = "message_error"
	EventNewMessage         = "new_message"
	EventMessagesRead       = "messages_read"
	EventParticipantOnline  = "participant_online"
	EventParticipantOffline = "participant_offline"
)

// Envelope is the frame every websocket message travels in.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type SendMessagePayload struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	ClientID       string `json:"client_id"`
}

type ConversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

type AckPayload struct {
	ClientID string             `json:"client_id"`
	Message  domainchat.Message `json:"message"`
}

type ErrorPayload struct {
	ClientID       string `json:"client_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Code           string `json:"code"`
	Error          string `json:"error"`
}

type NewMessagePayload struct {
	Message      domainchat.Message       `json:"message"`
	Conversation *domainchat.Conversation `json:"conversation,omitempty"`
}

type TypingPayload struct {
	ConversationID string                 `json:"conversation_id"`
	Participant    domainchat.Participant `json:"participant"`
}

type ReadPayload struct {
	ConversationID string                 `json:"conversation_id"`
	Reader         domainchat.Participant `json:"reader"`
	ReadAt         time.Time              `json:"read_at"`
	MessageIDs     []string               `json:"message_ids"`
}

type PresencePayload struct {
	Participant domainchat.Participant `json:"participant"`
}

func Encode(event string, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", domainchat.ErrMalformedPayload, err)
	}
	env.Event = strings.TrimSpace(env.Event)
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event", domainchat.ErrMalformedPayload)
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into dst.
func (e Envelope) DecodeData(dst any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s without data", domainchat.ErrMalformedPayload, e.Event)
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", domainchat.ErrMalformedPayload, e.Event, err)
	}
	return nil
}

// Err rebuilds the sentinel behind a message_error payload.
func (p ErrorPayload) Err() error {
	return dto.ErrorFromCode(p.Code, p.Error)
}
