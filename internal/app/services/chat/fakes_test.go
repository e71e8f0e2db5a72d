package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domainchat "workly/internal/domain/chat"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu       sync.Mutex
	convs    map[string]domainchat.Conversation
	history  map[string][]domainchat.Message
	profiles map[string]domainchat.Profile
	seq      int

	listCalls   int
	createCalls int
	createGate  chan struct{}
	listErr     error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		convs:    make(map[string]domainchat.Conversation),
		history:  make(map[string][]domainchat.Message),
		profiles: make(map[string]domainchat.Profile),
	}
}

func (b *fakeBackend) addConversation(id string, a, c domainchat.Participant, at time.Time) domainchat.Conversation {
	conv, err := domainchat.NewConversation(domainchat.CreateConversationParams{
		ID:           id,
		Participants: []domainchat.Participant{a, c},
		Now:          at,
	})
	if err != nil {
		panic(err)
	}
	b.mu.Lock()
	b.convs[id] = *conv
	b.mu.Unlock()
	return conv.Clone()
}

func (b *fakeBackend) addMessage(m domainchat.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history[m.ConversationID] = append(b.history[m.ConversationID], m)
	if conv, ok := b.convs[m.ConversationID]; ok {
		conv.ApplyMessage(m)
		b.convs[m.ConversationID] = conv
	}
}

func (b *fakeBackend) ListConversations(_ context.Context, as domainchat.Participant, page PageRequest) (ConversationPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	if b.listErr != nil {
		return ConversationPage{}, b.listErr
	}
	var all []domainchat.Conversation
	for _, c := range b.convs {
		if c.Has(as) {
			all = append(all, c.Clone())
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	from := (page.Page - 1) * page.Limit
	if from > len(all) {
		from = len(all)
	}
	to := from + page.Limit
	if to > len(all) {
		to = len(all)
	}
	return ConversationPage{Items: all[from:to], Page: page.Page, HasMore: to < len(all)}, nil
}

func (b *fakeBackend) CreateOrGetConversation(ctx context.Context, as, other domainchat.Participant) (domainchat.Conversation, error) {
	b.mu.Lock()
	b.createCalls++
	gate := b.createGate
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domainchat.Conversation{}, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := domainchat.PairKey(as, other)
	for _, c := range b.convs {
		if c.PairKey() == key {
			return c.Clone(), nil
		}
	}
	b.seq++
	conv, err := domainchat.NewConversation(domainchat.CreateConversationParams{
		ID:           fmt.Sprintf("conv-%d", b.seq),
		Participants: []domainchat.Participant{as, other},
		Now:          t0,
	})
	if err != nil {
		return domainchat.Conversation{}, err
	}
	b.convs[conv.ID] = *conv
	return conv.Clone(), nil
}

func (b *fakeBackend) DeleteConversation(_ context.Context, as domainchat.Participant, id string) (domainchat.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	conv, ok := b.convs[id]
	if !ok {
		return domainchat.Conversation{}, domainchat.ErrConversationNotFound
	}
	conv = conv.Clone()
	conv.MarkDeleted(as.ID, t0.Add(time.Hour))
	b.convs[id] = conv
	return conv.Clone(), nil
}

func (b *fakeBackend) ListMessages(_ context.Context, _ domainchat.Participant, id string, page PageRequest) (MessagePage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	all := append([]domainchat.Message(nil), b.history[id]...)
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	from := (page.Page - 1) * page.Limit
	if from > len(all) {
		from = len(all)
	}
	to := from + page.Limit
	if to > len(all) {
		to = len(all)
	}
	return MessagePage{Items: all[from:to], Page: page.Page, HasMore: to < len(all)}, nil
}

func (b *fakeBackend) Profile(_ context.Context, p domainchat.Participant) (domainchat.Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prof, ok := b.profiles[p.Key()]
	if !ok {
		return domainchat.Profile{}, domainchat.ErrProfileNotFound
	}
	return prof, nil
}

func (b *fakeBackend) counts() (list, create int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listCalls, b.createCalls
}

type fakeTransport struct {
	mu         sync.Mutex
	listener   Listener
	identity   domainchat.Participant
	state      ConnState
	connectErr error
	deny       map[string]bool
	connects   []domainchat.Participant
	emitted    []string
	sends      []SendRequest
	sendFn     func(SendRequest) (domainchat.Message, error)
}

func (t *fakeTransport) SetListener(l Listener) {
	t.mu.Lock()
	t.listener = l
	t.mu.Unlock()
}

func (t *fakeTransport) Connect(_ context.Context, identity domainchat.Participant, _ string) error {
	t.mu.Lock()
	t.connects = append(t.connects, identity)
	if t.connectErr != nil {
		err := t.connectErr
		t.mu.Unlock()
		return err
	}
	if t.deny[identity.Key()] {
		t.mu.Unlock()
		return domainchat.ErrIdentityNotAuthorized
	}
	t.identity = identity
	t.state = StateConnected
	l := t.listener
	t.mu.Unlock()
	l.OnStateChange(identity, StateConnecting)
	l.OnStateChange(identity, StateConnected)
	return nil
}

func (t *fakeTransport) Disconnect() error {
	t.mu.Lock()
	if t.state == StateDisconnected {
		t.mu.Unlock()
		return nil
	}
	t.state = StateDisconnected
	identity, l := t.identity, t.listener
	t.mu.Unlock()
	l.OnStateChange(identity, StateDisconnected)
	return nil
}

func (t *fakeTransport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *fakeTransport) SendMessage(_ context.Context, req SendRequest) (domainchat.Message, error) {
	t.mu.Lock()
	t.sends = append(t.sends, req)
	fn, identity := t.sendFn, t.identity
	t.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return domainchat.Message{
		ID:             "srv-" + req.ClientID,
		ConversationID: req.ConversationID,
		ClientID:       req.ClientID,
		Sender:         identity,
		Content:        req.Content,
		Status:         domainchat.StatusSent,
		CreatedAt:      t0.Add(time.Minute),
	}, nil
}

func (t *fakeTransport) emit(event, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitted = append(t.emitted, event+":"+id)
	return nil
}

func (t *fakeTransport) JoinConversation(_ context.Context, id string) error  { return t.emit("join", id) }
func (t *fakeTransport) LeaveConversation(_ context.Context, id string) error { return t.emit("leave", id) }
func (t *fakeTransport) StartTyping(_ context.Context, id string) error       { return t.emit("typing_start", id) }
func (t *fakeTransport) StopTyping(_ context.Context, id string) error        { return t.emit("typing_stop", id) }
func (t *fakeTransport) MarkRead(_ context.Context, id string) error          { return t.emit("mark_read", id) }

func (t *fakeTransport) push(ev Inbound) {
	t.mu.Lock()
	identity, l := t.identity, t.listener
	t.mu.Unlock()
	l.OnInbound(identity, ev)
}

func (t *fakeTransport) events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.emitted...)
}

func (t *fakeTransport) count(event string) int {
	n := 0
	for _, e := range t.events() {
		if len(e) > len(event) && e[:len(event)+1] == event+":" {
			n++
		}
	}
	return n
}

type harness struct {
	backend   *fakeBackend
	transport *fakeTransport
	store     *Store
	session   *Session
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{backend: newFakeBackend(), transport: &fakeTransport{}}
	cfg := Config{
		Backend:      h.backend,
		Transport:    h.transport,
		TypingWindow: 50 * time.Millisecond,
		Now:          func() time.Time { return t0.Add(30 * time.Second) },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	store, err := NewStore(cfg)
	require.NoError(t, err)
	h.store = store
	h.session = NewSession(store, StaticToken("token"))
	return h
}

func messageFrom(id, convID string, sender domainchat.Participant, at time.Time, content string) domainchat.Message {
	return domainchat.Message{
		ID:             id,
		ConversationID: convID,
		Sender:         sender,
		Content:        content,
		Status:         domainchat.StatusSent,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

func conversationIDs(cs []domainchat.Conversation) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}
