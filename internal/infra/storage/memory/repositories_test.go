package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainchat "workly/internal/domain/chat"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func seedConversation(t *testing.T, r *ChatRepository) *domainchat.Conversation {
	t.Helper()
	conv, err := domainchat.NewConversation(domainchat.CreateConversationParams{
		ID:           "k1",
		Participants: []domainchat.Participant{domainchat.User("u"), domainchat.CompanyParticipant("c")},
		Now:          t0,
	})
	require.NoError(t, err)
	require.NoError(t, r.SaveConversation(context.Background(), conv))
	return conv
}

func TestChatRepositoryLooksUpPairInEitherOrder(t *testing.T) {
	r := NewChatRepository()
	seedConversation(t, r)
	ctx := context.Background()

	got, err := r.ConversationByPair(ctx, domainchat.CompanyParticipant("c"), domainchat.User("u"))
	require.NoError(t, err)
	assert.Equal(t, "k1", got.ID)

	_, err = r.ConversationByPair(ctx, domainchat.User("c"), domainchat.User("u"))
	assert.ErrorIs(t, err, domainchat.ErrConversationNotFound)

	got.SetUnread("u", 9)
	again, err := r.ConversationByID(ctx, "k1")
	require.NoError(t, err)
	assert.Zero(t, again.UnreadFor("u"), "callers get copies")
}

func TestChatRepositoryMessagesNewestFirst(t *testing.T) {
	r := NewChatRepository()
	seedConversation(t, r)
	ctx := context.Background()
	for i, id := range []string{"m1", "m2", "m3", "m4"} {
		require.NoError(t, r.AppendMessage(ctx, domainchat.Message{
			ID:             id,
			ConversationID: "k1",
			Sender:         domainchat.User("u"),
			Content:        id,
			CreatedAt:      t0.Add(time.Duration(i+1) * time.Minute),
		}))
	}

	page, err := r.Messages(ctx, "k1", time.Time{}, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m2"}, ids(page))

	page, err = r.Messages(ctx, "k1", t0.Add(2*time.Minute), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"m4", "m3"}, ids(page))

	assert.ErrorIs(t, r.AppendMessage(ctx, domainchat.Message{ID: "x", ConversationID: "nope"}), domainchat.ErrConversationNotFound)
}

func TestChatRepositoryMarkReadSkipsOwnMessages(t *testing.T) {
	r := NewChatRepository()
	seedConversation(t, r)
	ctx := context.Background()
	require.NoError(t, r.AppendMessage(ctx, domainchat.Message{ID: "m1", ConversationID: "k1", Sender: domainchat.User("u"), CreatedAt: t0.Add(time.Minute), Status: domainchat.StatusSent}))
	require.NoError(t, r.AppendMessage(ctx, domainchat.Message{ID: "m2", ConversationID: "k1", Sender: domainchat.CompanyParticipant("c"), CreatedAt: t0.Add(2 * time.Minute), Status: domainchat.StatusSent}))

	changed, err := r.MarkRead(ctx, "k1", domainchat.User("u"), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, changed)

	changed, err = r.MarkRead(ctx, "k1", domainchat.User("u"), t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestLoadDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"users": [{"id": "u1", "name": "Ada"}],
		"companies": [{"id": "acme", "name": "Acme", "managers": ["u1"]}]
	}`), 0o600))

	d, err := LoadDirectory(path)
	require.NoError(t, err)
	prof, err := d.Profile(context.Background(), domainchat.CompanyParticipant("acme"))
	require.NoError(t, err)
	assert.Equal(t, "Acme", prof.DisplayName)
	assert.Equal(t, []string{"acme"}, d.CompaniesOf("u1"))

	_, err = d.Profile(context.Background(), domainchat.User("acme"))
	assert.ErrorIs(t, err, domainchat.ErrProfileNotFound)
}

func ids(ms []domainchat.Message) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}
