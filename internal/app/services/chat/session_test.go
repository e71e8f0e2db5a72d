package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainchat "workly/internal/domain/chat"
)

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	assert.Equal(t, SessionNoIdentity, h.session.State())

	err := h.session.ActAsCompany(ctx, "acme")
	assert.ErrorIs(t, err, domainchat.ErrNoIdentity)

	require.NoError(t, h.session.ActAsPersonal(ctx, "u"))
	assert.Equal(t, SessionReady, h.session.State())

	require.NoError(t, h.session.ActAsCompany(ctx, "acme"))
	assert.Equal(t, domainchat.Company{CompanyID: "acme", OperatorID: "u"}, h.store.Identity())

	require.NoError(t, h.session.LeaveCompany(ctx))
	assert.Equal(t, domainchat.Personal{UserID: "u"}, h.store.Identity())
	assert.Equal(t, SessionReady, h.session.State())
	assert.Equal(t, []domainchat.Participant{
		domainchat.User("u"),
		domainchat.CompanyParticipant("acme"),
		domainchat.User("u"),
	}, h.transport.connects)

	require.NoError(t, h.session.Close())
	assert.Equal(t, SessionNoIdentity, h.session.State())
	assert.Equal(t, StateDisconnected, h.transport.State())
}

func TestSessionRevertsWhenCompanyRefused(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.transport.deny = map[string]bool{domainchat.CompanyParticipant("other").Key(): true}
	require.NoError(t, h.session.ActAsPersonal(ctx, "u"))

	err := h.session.ActAsCompany(ctx, "other")
	require.ErrorIs(t, err, domainchat.ErrIdentityNotAuthorized)
	assert.Equal(t, domainchat.Personal{UserID: "u"}, h.store.Identity())
	assert.True(t, h.store.Personal("u").IsConnected())
}

func TestSwitchIdentityPublishesChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var (
		mu    sync.Mutex
		kinds []ChangeKind
	)
	cancel := h.store.Subscribe(func(c Change) {
		mu.Lock()
		kinds = append(kinds, c.Kind)
		mu.Unlock()
	})
	defer cancel()

	require.NoError(t, h.session.ActAsPersonal(ctx, "u"))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, kinds, ChangeIdentity)
	assert.Contains(t, kinds, ChangeConnection)
	assert.Contains(t, kinds, ChangeConversations)
}

func TestFacadeMemoizesConversations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.backend.addConversation("k1", domainchat.User("u"), domainchat.User("v"), t0)
	require.NoError(t, h.session.ActAsPersonal(ctx, "u"))
	f := h.store.Personal("u")

	first := f.Conversations()
	version := f.memoVersion
	second := f.Conversations()
	assert.Equal(t, first, second)
	assert.Equal(t, version, f.memoVersion)

	h.transport.push(MessageReceived{Message: messageFrom("m1", "k1", domainchat.User("v"), t0.Add(time.Minute), "hi")})
	third := f.Conversations()
	require.Len(t, third, 1)
	require.NotNil(t, third[0].LastMessage)
	assert.Equal(t, "m1", third[0].LastMessage.ID)
	assert.NotEqual(t, version, f.memoVersion)
}

func TestFacadeConversationsAreIsolatedFromMemo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.backend.addConversation("k1", domainchat.User("u"), domainchat.User("v"), t0)
	require.NoError(t, h.session.ActAsPersonal(ctx, "u"))
	f := h.store.Personal("u")

	first := f.Conversations()
	require.Len(t, first, 1)
	first[0].SetUnread("u", 42)
	first[0].MarkDeleted("u", t0.Add(time.Hour))

	again := f.Conversations()
	require.Len(t, again, 1)
	assert.Equal(t, 0, again[0].UnreadFor("u"))
	_, deleted := again[0].DeletedAt("u")
	assert.False(t, deleted)
}
