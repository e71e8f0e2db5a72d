package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, offset time.Duration, content string) Message {
	return Message{
		ID:             id,
		ConversationID: "c1",
		Sender:         User("u1"),
		Content:        content,
		Status:         StatusSent,
		CreatedAt:      base.Add(offset),
		UpdatedAt:      base.Add(offset),
	}
}

func ids(ms []Message) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}

func TestMergeMessagesOrdersByCreation(t *testing.T) {
	existing := []Message{msg("m3", 3*time.Second, "c"), msg("m1", time.Second, "a")}
	incoming := []Message{msg("m2", 2*time.Second, "b"), msg("m0", 0, "z")}

	merged := MergeMessages(existing, incoming)

	assert.Equal(t, []string{"m0", "m1", "m2", "m3"}, ids(merged))
}

func TestMergeMessagesIncomingWins(t *testing.T) {
	old := msg("m1", time.Second, "a")
	updated := old
	updated.Status = StatusRead
	updated.ReadBy = []ReadReceipt{{ParticipantID: "u2", ReadAt: base}}

	merged := MergeMessages([]Message{old}, []Message{updated})

	require.Len(t, merged, 1)
	assert.Equal(t, StatusRead, merged[0].Status)
	assert.True(t, merged[0].IsReadBy("u2"))
}

func TestMergeMessagesIsIdempotent(t *testing.T) {
	a := []Message{msg("m1", time.Second, "a"), msg("m4", 4*time.Second, "d")}
	b := []Message{msg("m2", 2*time.Second, "b"), msg("m4", 4*time.Second, "d"), msg("m3", 2*time.Second, "tie")}

	once := MergeMessages(a, b)
	twice := MergeMessages(once, b)

	assert.Equal(t, once, twice)
}

func TestMergeMessagesArrivalOrderDoesNotMatter(t *testing.T) {
	page := []Message{msg("m1", time.Second, "a"), msg("m2", 2*time.Second, "b")}
	push := []Message{msg("m3", 3*time.Second, "c")}

	pushFirst := MergeMessages(MergeMessages(nil, push), page)
	pageFirst := MergeMessages(MergeMessages(nil, page), push)

	assert.Equal(t, ids(pageFirst), ids(pushFirst))
	for i := 1; i < len(pushFirst); i++ {
		assert.False(t, pushFirst[i].CreatedAt.Before(pushFirst[i-1].CreatedAt))
	}
}

func TestNewPendingMessage(t *testing.T) {
	m, err := NewPendingMessage("c1", CompanyParticipant("acme"), "  Hello ", base)
	require.NoError(t, err)

	assert.True(t, IsTempID(m.ID))
	assert.Equal(t, m.ID, m.ClientID)
	assert.Equal(t, "Hello", m.Content)
	assert.Equal(t, StatusSending, m.Status)

	_, err = NewPendingMessage("c1", User("u1"), "   ", base)
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestMarkReadKeepsPendingStatus(t *testing.T) {
	sent := msg("m1", 0, "hi")
	assert.True(t, sent.MarkRead("u2", base.Add(time.Minute)))
	assert.False(t, sent.MarkRead("u2", base.Add(2*time.Minute)))
	assert.Equal(t, StatusRead, sent.Status)
	assert.Len(t, sent.ReadBy, 1)

	pending, err := NewPendingMessage("c1", User("u1"), "hi", base)
	require.NoError(t, err)
	pending.MarkRead("u2", base)
	assert.Equal(t, StatusSending, pending.Status)
}
