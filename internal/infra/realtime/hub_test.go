package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workly/internal/app/services/chat"
	"workly/internal/app/services/messaging"
	domainchat "workly/internal/domain/chat"
	"workly/internal/infra/storage/memory"
)

type hubFixture struct {
	svc *messaging.Service
	hub *Hub
	url string
}

// newHubFixture serves the hub without auth; the identity comes from the
// query string the client sends anyway.
func newHubFixture(t *testing.T) hubFixture {
	t.Helper()
	dir := memory.NewDirectory()
	for _, id := range []string{"u", "v", "w"} {
		dir.Put(domainchat.Profile{Participant: domainchat.User(id), DisplayName: id})
	}
	svc := &messaging.Service{
		Repo:        memory.NewChatRepository(),
		Directory:   dir,
		Idempotency: memory.NewIdempotencyStore(),
	}
	hub := NewHub(svc, nil, nil)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		typ, err := domainchat.ParseParticipantType(r.URL.Query().Get("identity_type"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.Header.Get("Authorization") == "Bearer denied" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(r.Context(), ws, domainchat.Participant{ID: r.URL.Query().Get("identity_id"), Type: typ})
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hubFixture{svc: svc, hub: hub, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

type events struct {
	mu     sync.Mutex
	states []chat.ConnState
	in     []chat.Inbound
}

func (e *events) OnStateChange(_ domainchat.Participant, s chat.ConnState) {
	e.mu.Lock()
	e.states = append(e.states, s)
	e.mu.Unlock()
}

func (e *events) OnInbound(_ domainchat.Participant, ev chat.Inbound) {
	e.mu.Lock()
	e.in = append(e.in, ev)
	e.mu.Unlock()
}

func (e *events) typing() []chat.TypingChanged {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []chat.TypingChanged
	for _, ev := range e.in {
		if tc, ok := ev.(chat.TypingChanged); ok {
			out = append(out, tc)
		}
	}
	return out
}

func (e *events) presence() []chat.PresenceChanged {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []chat.PresenceChanged
	for _, ev := range e.in {
		if pc, ok := ev.(chat.PresenceChanged); ok {
			out = append(out, pc)
		}
	}
	return out
}

func (f hubFixture) connect(t *testing.T, p domainchat.Participant, cfg ClientConfig) (*Client, *events) {
	t.Helper()
	cfg.URL = f.url
	c := NewClient(cfg)
	ev := &events{}
	c.SetListener(ev)
	require.NoError(t, c.Connect(context.Background(), p, "token"))
	t.Cleanup(func() { _ = c.Disconnect() })
	return c, ev
}

func TestHubRelaysTypingToJoinedPeersOnly(t *testing.T) {
	f := newHubFixture(t)
	u, v := domainchat.User("u"), domainchat.User("v")
	conv, _, err := f.svc.GetOrCreate(context.Background(), u, v)
	require.NoError(t, err)

	cu, _ := f.connect(t, u, ClientConfig{})
	cv, evV := f.connect(t, v, ClientConfig{})
	ctx := context.Background()

	require.NoError(t, cu.JoinConversation(ctx, conv.ID))
	require.NoError(t, cu.StartTyping(ctx, conv.ID))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, evV.typing(), "v has not joined the room")

	require.NoError(t, cv.JoinConversation(ctx, conv.ID))
	require.Eventually(t, func() bool {
		_ = cu.StartTyping(ctx, conv.ID)
		return len(evV.typing()) > 0
	}, 2*time.Second, 20*time.Millisecond)
	got := evV.typing()[0]
	assert.Equal(t, u, got.Participant)
	assert.True(t, got.Typing)

	require.NoError(t, cu.StopTyping(ctx, conv.ID))
	require.Eventually(t, func() bool {
		all := evV.typing()
		return !all[len(all)-1].Typing
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubRejectsJoinOfForeignConversation(t *testing.T) {
	f := newHubFixture(t)
	u, v := domainchat.User("u"), domainchat.User("v")
	conv, _, err := f.svc.GetOrCreate(context.Background(), u, v)
	require.NoError(t, err)

	ws, _, err := websocket.DefaultDialer.Dial(f.url+"?identity_type=USER&identity_id=w", nil)
	require.NoError(t, err)
	defer ws.Close()

	raw, err := Encode(EventJoinConversation, ConversationPayload{ConversationID: conv.ID})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, raw))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"event":`)))

	var codes []string
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for len(codes) < 2 {
		_, frame, err := ws.ReadMessage()
		require.NoError(t, err)
		env, err := Decode(frame)
		require.NoError(t, err)
		if env.Event != EventMessageError {
			continue
		}
		var p ErrorPayload
		require.NoError(t, json.Unmarshal(env.Data, &p))
		codes = append(codes, p.Code)
	}
	assert.Equal(t, []string{"not_participant", "malformed_payload"}, codes)
}

func TestHubAnnouncesPresenceToPartners(t *testing.T) {
	f := newHubFixture(t)
	u, v := domainchat.User("u"), domainchat.User("v")
	_, _, err := f.svc.GetOrCreate(context.Background(), u, v)
	require.NoError(t, err)

	_, evU := f.connect(t, u, ClientConfig{})
	cv, _ := f.connect(t, v, ClientConfig{})
	require.Eventually(t, func() bool {
		p := evU.presence()
		return len(p) > 0 && p[len(p)-1].Participant == v && p[len(p)-1].Online
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, f.hub.Online(v))

	require.NoError(t, cv.Disconnect())
	require.Eventually(t, func() bool {
		p := evU.presence()
		return !p[len(p)-1].Online
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, f.hub.Online(v))
}

func TestClientReconnectsAfterServerDrop(t *testing.T) {
	f := newHubFixture(t)
	u := domainchat.User("u")
	c, ev := f.connect(t, u, ClientConfig{Backoff: []time.Duration{10 * time.Millisecond}})
	require.Equal(t, chat.StateConnected, c.State())

	f.hub.Close()
	require.Eventually(t, func() bool {
		ev.mu.Lock()
		defer ev.mu.Unlock()
		seenDrop := false
		for _, s := range ev.states {
			if s == chat.StateDisconnected {
				seenDrop = true
			}
		}
		return seenDrop && ev.states[len(ev.states)-1] == chat.StateConnected
	}, 3*time.Second, 10*time.Millisecond)
}

func TestClientSurfacesForbiddenHandshake(t *testing.T) {
	f := newHubFixture(t)
	c := NewClient(ClientConfig{URL: f.url, Backoff: []time.Duration{time.Millisecond}})
	c.SetListener(&events{})
	err := c.Connect(context.Background(), domainchat.User("u"), "denied")
	assert.ErrorIs(t, err, domainchat.ErrIdentityNotAuthorized)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, chat.StateDisconnected, c.State(), "authorization failures are not retried")
}

func TestSendWithoutConnectionFails(t *testing.T) {
	c := NewClient(ClientConfig{URL: "ws://127.0.0.1:1/ws"})
	_, err := c.SendMessage(context.Background(), chat.SendRequest{ConversationID: "k1", Content: "hi", ClientID: "c1"})
	assert.ErrorIs(t, err, domainchat.ErrNotConnected)
}
