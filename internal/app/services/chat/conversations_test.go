package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainchat "workly/internal/domain/chat"
)

func TestLoadConversationsUnionsPages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := domainchat.User("u")
	var want []string
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("k%d", i)
		h.backend.addConversation(id, u, domainchat.CompanyParticipant(fmt.Sprintf("c%d", i)), t0.Add(time.Duration(i)*time.Minute))
		want = append(want, id)
	}
	h.store.SetIdentity(ctx, domainchat.Personal{UserID: "u"})

	for _, page := range []int{2, 1, 3, 2, 1} {
		_, err := h.store.LoadConversations(ctx, PageRequest{Page: page, Limit: 2})
		require.NoError(t, err)
	}

	got := conversationIDs(h.store.ConversationsFor(u))
	assert.ElementsMatch(t, want, got)
	assert.Len(t, got, 5)
	assert.Equal(t, "k4", got[0], "most recent activity first")
}

func TestLoadConversationsRequiresIdentity(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.LoadConversations(context.Background(), PageRequest{})
	assert.ErrorIs(t, err, domainchat.ErrNoIdentity)
}

func TestCreateOrGetConversationSharesInFlightRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.session.ActAsPersonal(ctx, "u"))
	h.backend.mu.Lock()
	h.backend.createGate = make(chan struct{})
	h.backend.mu.Unlock()

	var (
		wg      sync.WaitGroup
		results [2]domainchat.Conversation
		errs    [2]error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.store.CreateOrGetConversation(ctx, "c", domainchat.ParticipantCompany)
		}(i)
	}
	require.Eventually(t, func() bool {
		_, creates := h.backend.counts()
		return creates >= 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(h.backend.createGate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	_, creates := h.backend.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, results[0].ID, results[1].ID)
}

func TestCreateOrGetConversationRejectsSelf(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.session.ActAsPersonal(ctx, "u"))

	_, err := h.store.CreateOrGetConversation(ctx, "u", domainchat.ParticipantUser)
	assert.ErrorIs(t, err, domainchat.ErrSelfConversation)

	_, err = h.store.CreateOrGetConversation(ctx, "u", domainchat.ParticipantCompany)
	assert.NoError(t, err, "same id under another type is a different participant")
}

func TestStartConversationWaitsForConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.transport.connectErr = errors.New("dial refused")
	require.NoError(t, h.session.ActAsPersonal(ctx, "U"))
	f := h.store.Personal("U")

	_, err := f.StartConversation(ctx, "C", domainchat.ParticipantCompany, true)
	require.ErrorIs(t, err, domainchat.ErrNotConnected)
	_, creates := h.backend.counts()
	assert.Zero(t, creates)

	h.transport.mu.Lock()
	h.transport.connectErr = nil
	h.transport.mu.Unlock()
	require.NoError(t, h.session.ActAsPersonal(ctx, "U"))
	require.True(t, f.IsConnected())

	conv, err := f.StartConversation(ctx, "C", domainchat.ParticipantCompany, true)
	require.NoError(t, err)
	assert.Equal(t, [2]domainchat.Participant{domainchat.User("U"), domainchat.CompanyParticipant("C")}, conv.Participants)
	assert.Equal(t, 0, conv.UnreadFor("U"))

	active, ok := f.Active()
	require.True(t, ok)
	assert.Equal(t, conv.ID, active.ID)
	assert.Equal(t, ViewFull, active.Mode)
	assert.Contains(t, h.transport.events(), "join:"+conv.ID)
}

func TestDeleteConversationIsScopedToParticipant(t *testing.T) {
	tombstones := NewMemoryTombstones()
	h := newHarness(t, func(c *Config) { c.Tombstones = tombstones })
	ctx := context.Background()
	u, c := domainchat.User("u"), domainchat.CompanyParticipant("c")
	h.backend.addConversation("k1", u, c, t0)
	h.backend.addMessage(messageFrom("m1", "k1", c, t0.Add(time.Minute), "hello"))
	require.NoError(t, h.session.ActAsPersonal(ctx, "u"))

	fu, fc := h.store.Personal("u"), h.store.Company("c")
	_, err := fu.LoadMessages(ctx, "k1", PageRequest{})
	require.NoError(t, err)
	require.Equal(t, []string{"k1"}, conversationIDs(fu.Conversations()))

	require.NoError(t, fu.DeleteConversation(ctx, "k1"))

	assert.Empty(t, fu.Conversations())
	assert.Empty(t, fu.Messages("k1"))
	assert.Equal(t, []string{"k1"}, conversationIDs(fc.Conversations()))
	assert.Len(t, fc.Messages("k1"), 1)

	saved, err := tombstones.Load(ctx, u)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "k1", saved[0].ConversationID)

	h.transport.push(MessageReceived{Message: messageFrom("m2", "k1", c, t0.Add(2*time.Hour), "still there?")})
	assert.Equal(t, []string{"k1"}, conversationIDs(fu.Conversations()))
	msgs := fu.Messages("k1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m2", msgs[0].ID)
}

func TestTombstonesSurviveRestart(t *testing.T) {
	tombstones := NewMemoryTombstones()
	ctx := context.Background()
	u, c := domainchat.User("u"), domainchat.CompanyParticipant("c")
	require.NoError(t, tombstones.Save(ctx, Tombstone{Owner: u, ConversationID: "k1", HiddenAt: t0.Add(time.Hour)}))

	h := newHarness(t, func(cfg *Config) { cfg.Tombstones = tombstones })
	h.backend.addConversation("k1", u, c, t0)
	require.NoError(t, h.session.ActAsPersonal(ctx, "u"))

	assert.Empty(t, h.store.Personal("u").Conversations())
}

func TestCompanyFacadeFollowsActingCompany(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.backend.addConversation("x1", domainchat.CompanyParticipant("X"), domainchat.User("p1"), t0)
	h.backend.addConversation("y1", domainchat.CompanyParticipant("Y"), domainchat.User("p2"), t0)

	require.NoError(t, h.session.ActAsPersonal(ctx, "admin"))
	require.NoError(t, h.session.ActAsCompany(ctx, "X"))
	fx := h.store.Company("X")
	assert.Equal(t, []string{"x1"}, conversationIDs(fx.Conversations()))

	require.NoError(t, h.session.ActAsCompany(ctx, "Y"))
	fy := h.store.Company("Y")
	assert.Equal(t, []string{"y1"}, conversationIDs(fy.Conversations()))
	assert.True(t, fy.IsConnected())
	assert.False(t, fx.IsConnected())

	_, err := fx.SendMessage(ctx, "x1", "hi")
	assert.ErrorIs(t, err, domainchat.ErrIdentityMismatch)
}

func TestClearHistoryHidesOnlyExistingMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u, c := domainchat.User("u"), domainchat.CompanyParticipant("c")
	h.backend.addConversation("k1", u, c, t0)
	h.backend.addMessage(messageFrom("m1", "k1", c, t0.Add(time.Minute), "old"))
	require.NoError(t, h.session.ActAsPersonal(ctx, "u"))
	f := h.store.Personal("u")
	_, err := f.LoadMessages(ctx, "k1", PageRequest{})
	require.NoError(t, err)

	require.NoError(t, f.ClearHistory(ctx, "k1"))
	assert.Empty(t, f.Messages("k1"))
	assert.Equal(t, []string{"k1"}, conversationIDs(f.Conversations()))

	h.transport.push(MessageReceived{Message: messageFrom("m2", "k1", c, t0.Add(2*time.Minute), "new")})
	msgs := f.Messages("k1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m2", msgs[0].ID)
}

func TestEnsureConversationsOncePerConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.backend.addConversation("k1", domainchat.User("u"), domainchat.User("v"), t0)

	require.NoError(t, h.session.ActAsPersonal(ctx, "u"))
	assert.Equal(t, SessionReady, h.session.State())
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, h.store.EnsureConversations(ctx))
	list, _ := h.backend.counts()
	assert.Equal(t, 1, list)

	require.NoError(t, h.transport.Disconnect())
	assert.Equal(t, SessionIdentitySet, h.session.State())
	require.NoError(t, h.transport.Connect(ctx, domainchat.User("u"), "token"))
	require.Eventually(t, func() bool {
		list, _ := h.backend.counts()
		return list == 2
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.session.State() == SessionReady }, time.Second, 5*time.Millisecond)
}

func TestProfileFallsBackToPlaceholder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	known := domainchat.User("u2")
	h.backend.profiles[known.Key()] = domainchat.Profile{Participant: known, DisplayName: "Ada"}

	prof, err := h.store.Profile(ctx, known)
	require.NoError(t, err)
	assert.Equal(t, "Ada", prof.DisplayName)

	gone, err := h.store.Profile(ctx, domainchat.CompanyParticipant("gone"))
	require.NoError(t, err)
	assert.True(t, gone.IsDeleted)
	assert.Equal(t, "Deleted company", gone.DisplayName)

	h.backend.mu.Lock()
	h.backend.profiles[known.Key()] = domainchat.Profile{Participant: known, DisplayName: "Ada L."}
	h.backend.mu.Unlock()
	prof, err = h.store.Profile(ctx, known)
	require.NoError(t, err)
	assert.Equal(t, "Ada", prof.DisplayName, "served from cache")

	h.store.ForgetProfile(known)
	prof, err = h.store.Profile(ctx, known)
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", prof.DisplayName)
}

func TestSendAfterDeleteStaysVisibleWhenClientClockLags(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u, c := domainchat.User("u"), domainchat.CompanyParticipant("c")
	h.backend.addConversation("k1", u, c, t0)
	require.NoError(t, h.session.ActAsPersonal(ctx, "u"))
	f := h.store.Personal("u")

	require.NoError(t, f.DeleteConversation(ctx, "k1"))
	require.Empty(t, f.Conversations())

	conv, err := f.StartConversation(ctx, "c", domainchat.ParticipantCompany, true)
	require.NoError(t, err)
	require.Equal(t, "k1", conv.ID)

	h.transport.sendFn = func(SendRequest) (domainchat.Message, error) {
		return domainchat.Message{}, errors.New("boom")
	}
	failed, err := f.SendMessage(ctx, "k1", "are you there?")
	require.Error(t, err)

	msgs := f.Messages("k1")
	require.Len(t, msgs, 1)
	assert.Equal(t, failed.ID, msgs[0].ID)
	assert.Equal(t, domainchat.StatusFailed, msgs[0].Status)
	assert.Equal(t, []string{"k1"}, conversationIDs(f.Conversations()))

	h.transport.sendFn = func(req SendRequest) (domainchat.Message, error) {
		return domainchat.Message{
			ID:             "m9",
			ConversationID: "k1",
			ClientID:       req.ClientID,
			Sender:         u,
			Content:        req.Content,
			Status:         domainchat.StatusSent,
			CreatedAt:      t0.Add(2 * time.Hour),
		}, nil
	}
	_, err = f.RetryMessage(ctx, "k1", failed.ID)
	require.NoError(t, err)
	msgs = f.Messages("k1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m9", msgs[0].ID)
	assert.Equal(t, []string{"k1"}, conversationIDs(f.Conversations()))
}

func TestCreateOrGetConversationOutlivesFirstCallerCancel(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.session.ActAsPersonal(context.Background(), "u"))
	gate := make(chan struct{})
	h.backend.mu.Lock()
	h.backend.createGate = gate
	h.backend.mu.Unlock()

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := h.store.CreateOrGetConversation(firstCtx, "c", domainchat.ParticipantCompany)
		firstErr <- err
	}()
	require.Eventually(t, func() bool {
		_, creates := h.backend.counts()
		return creates >= 1
	}, time.Second, 5*time.Millisecond)

	type result struct {
		conv domainchat.Conversation
		err  error
	}
	second := make(chan result, 1)
	go func() {
		conv, err := h.store.CreateOrGetConversation(context.Background(), "c", domainchat.ParticipantCompany)
		second <- result{conv, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(gate)

	res := <-second
	require.NoError(t, res.err)
	assert.NotEmpty(t, res.conv.ID)
	_, creates := h.backend.counts()
	assert.Equal(t, 1, creates)
}
