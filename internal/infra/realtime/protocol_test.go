package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workly/internal/app/dto"
	domainchat "workly/internal/domain/chat"
)

func TestDecodeRejectsBadFrames(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.ErrorIs(t, err, domainchat.ErrMalformedPayload)

	_, err = Decode([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, domainchat.ErrMalformedPayload)

	env, err := Decode([]byte(`{"event":"mark_read"}`))
	require.NoError(t, err)
	var p ConversationPayload
	assert.ErrorIs(t, env.DecodeData(&p), domainchat.ErrMalformedPayload)
}

func TestEncodeWrapsPayload(t *testing.T) {
	raw, err := Encode(EventTypingStart, ConversationPayload{ConversationID: "k1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"typing_start","data":{"conversation_id":"k1"}}`, string(raw))

	env, err := Decode(raw)
	require.NoError(t, err)
	var p ConversationPayload
	require.NoError(t, env.DecodeData(&p))
	assert.Equal(t, "k1", p.ConversationID)
}

func TestErrorPayloadKeepsSentinel(t *testing.T) {
	err := ErrorPayload{Code: dto.ErrorCode(domainchat.ErrNotParticipant), Error: "nope"}.Err()
	assert.ErrorIs(t, err, domainchat.ErrNotParticipant)

	err = ErrorPayload{Code: "teapot", Error: "short and stout"}.Err()
	assert.ErrorIs(t, err, dto.ErrRemote)
	assert.Contains(t, err.Error(), "short and stout")
}
