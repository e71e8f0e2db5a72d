package chat

import (
	"time"

	"workly/internal/domain/shared/events"
)

type ConversationCreatedEvent struct {
	ConversationID string         `json:"conversation_id"`
	Participants   [2]Participant `json:"participants"`
	At             time.Time      `json:"at"`
}

func (e ConversationCreatedEvent) EventName() string     { return "chat.conversation_created" }
func (e ConversationCreatedEvent) AggregateID() string   { return e.ConversationID }
func (e ConversationCreatedEvent) OccurredAt() time.Time { return e.At }

type ConversationDeletedEvent struct {
	ConversationID string      `json:"conversation_id"`
	Participant    Participant `json:"participant"`
	At             time.Time   `json:"at"`
}

func (e ConversationDeletedEvent) EventName() string     { return "chat.conversation_deleted" }
func (e ConversationDeletedEvent) AggregateID() string   { return e.ConversationID }
func (e ConversationDeletedEvent) OccurredAt() time.Time { return e.At }

type MessageSentEvent struct {
	ConversationID string      `json:"conversation_id"`
	MessageID      string      `json:"message_id"`
	Sender         Participant `json:"sender"`
	Recipient      Participant `json:"recipient"`
	At             time.Time   `json:"at"`
}

func (e MessageSentEvent) EventName() string     { return "chat.message_sent" }
func (e MessageSentEvent) AggregateID() string   { return e.ConversationID }
func (e MessageSentEvent) OccurredAt() time.Time { return e.At }

type MessagesReadEvent struct {
	ConversationID string      `json:"conversation_id"`
	Reader         Participant `json:"reader"`
	MessageIDs     []string    `json:"message_ids"`
	At             time.Time   `json:"at"`
}

func (e MessagesReadEvent) EventName() string     { return "chat.messages_read" }
func (e MessagesReadEvent) AggregateID() string   { return e.ConversationID }
func (e MessagesReadEvent) OccurredAt() time.Time { return e.At }

var (
	_ events.DomainEvent = ConversationCreatedEvent{}
	_ events.DomainEvent = ConversationDeletedEvent{}
	_ events.DomainEvent = MessageSentEvent{}
	_ events.DomainEvent = MessagesReadEvent{}
)
