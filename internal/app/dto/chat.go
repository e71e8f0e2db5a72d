package dto

import (
	"time"

	domainchat "workly/internal/domain/chat"
)

// ConversationList is one page of the inbox.
type ConversationList struct {
	Items   []domainchat.Conversation `json:"items"`
	Page    int                       `json:"page"`
	HasMore bool                      `json:"has_more"`
}

// MessageList is one page of history, newest first.
type MessageList struct {
	Items   []domainchat.Message `json:"items"`
	Page    int                  `json:"page"`
	HasMore bool                 `json:"has_more"`
}

type StartConversationRequest struct {
	ParticipantID   string `json:"participant_id" binding:"required"`
	ParticipantType string `json:"participant_type" binding:"required"`
}

type ReadReceipts struct {
	ConversationID string                 `json:"conversation_id"`
	Reader         domainchat.Participant `json:"reader"`
	MessageIDs     []string               `json:"message_ids"`
	ReadAt         time.Time              `json:"read_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
