package dto

import (
	"errors"
	"fmt"

	domainchat "workly/internal/domain/chat"
)

// ErrRemote wraps failures the peer reported without a known code.
var ErrRemote = errors.New("chat: remote error")

var errorCodes = []struct {
	code string
	err  error
}{
	{"empty_content", domainchat.ErrEmptyContent},
	{"not_participant", domainchat.ErrNotParticipant},
	{"conversation_not_found", domainchat.ErrConversationNotFound},
	{"conversation_id_required", domainchat.ErrConversationIDRequired},
	{"self_conversation", domainchat.ErrSelfConversation},
	{"invalid_participant_type", domainchat.ErrInvalidParticipantType},
	{"participant_id_required", domainchat.ErrParticipantIDRequired},
	{"participants_invalid", domainchat.ErrParticipantsInvalid},
	{"identity_not_authorized", domainchat.ErrIdentityNotAuthorized},
	{"profile_not_found", domainchat.ErrProfileNotFound},
	{"malformed_payload", domainchat.ErrMalformedPayload},
}

// ErrorCode names err for the wire; unknown errors are "internal".
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// ErrorFromCode rebuilds the sentinel behind a wire error so callers can
// use errors.Is across the network.
func ErrorFromCode(code, msg string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return fmt.Errorf("%w: %s", c.err, msg)
		}
	}
	return fmt.Errorf("%w: %s", ErrRemote, msg)
}
