package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	domainchat "workly/internal/domain/chat"
)

type ChangeKind int

const (
	ChangeConnection ChangeKind = iota + 1
	ChangeIdentity
	ChangeConversations
	ChangeMessages
	ChangeTyping
	ChangePresence
	ChangeActive
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeConnection:
		return "connection"
	case ChangeIdentity:
		return "identity"
	case ChangeConversations:
		return "conversations"
	case ChangeMessages:
		return "messages"
	case ChangeTyping:
		return "typing"
	case ChangePresence:
		return "presence"
	case ChangeActive:
		return "active"
	default:
		return "unknown"
	}
}

// Change is published to subscribers after every committed mutation.
type Change struct {
	Kind           ChangeKind
	ConversationID string
	Version        uint64
}

type ViewMode int

const (
	ViewInline ViewMode = iota
	ViewFull
)

// ActiveConversation is the conversation currently opened by Owner.
type ActiveConversation struct {
	ID    string
	Mode  ViewMode
	Owner domainchat.Participant
}

// Config wires the store to its collaborators.
type Config struct {
	Backend    Backend
	Transport  Transport
	Tombstones TombstoneStore
	Logger     *slog.Logger

	PageSize         int
	TypingWindow     time.Duration
	TypingRefresh    time.Duration
	ProfileCacheSize int
	LoadTimeout      time.Duration
	Now              func() time.Time
}

// Store is the single owner of chat state. All mutations go through its
// methods; subscribers are notified after the lock is released.
type Store struct {
	backend        Backend
	transport      Transport
	tombstoneStore TombstoneStore
	logger         *slog.Logger

	pageSize      int
	typingWindow  time.Duration
	typingRefresh time.Duration
	loadTimeout   time.Duration
	now           func() time.Time

	mu            sync.RWMutex
	version       uint64
	identity      domainchat.Identity
	state         ConnState
	gen           uint64
	loadedGen     uint64
	conversations map[string]*domainchat.Conversation
	messages      map[string][]domainchat.Message
	marks         map[string]Tombstone
	marksLoaded   map[string]bool
	typing        map[string]map[string]remoteTyping
	typingSeq     uint64
	online        map[string]bool
	active        *ActiveConversation

	typingMu sync.Mutex
	outgoing map[string]*outgoingTyping

	subsMu  sync.Mutex
	subs    map[int]func(Change)
	nextSub int

	flight   singleflight.Group
	profiles *lru.Cache[string, domainchat.Profile]
}

// NewStore builds a store and registers it as the transport listener.
func NewStore(cfg Config) (*Store, error) {
	switch {
	case cfg.Backend == nil:
		return nil, errors.New("chat: backend required")
	case cfg.Transport == nil:
		return nil, errors.New("chat: transport required")
	}
	tombstones := cfg.Tombstones
	if tombstones == nil {
		tombstones = NewMemoryTombstones()
	}
	cacheSize := cfg.ProfileCacheSize
	if cacheSize <= 0 {
		cacheSize = 256
	}
	profiles, err := lru.New[string, domainchat.Profile](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("chat: profile cache: %w", err)
	}
	s := &Store{
		backend:        cfg.Backend,
		transport:      cfg.Transport,
		tombstoneStore: tombstones,
		logger:         cfg.Logger,
		pageSize:       positiveOr(cfg.PageSize, 20),
		typingWindow:   durationOr(cfg.TypingWindow, 3*time.Second),
		typingRefresh:  durationOr(cfg.TypingRefresh, 2*time.Second),
		loadTimeout:    durationOr(cfg.LoadTimeout, 10*time.Second),
		now:            cfg.Now,
		conversations:  make(map[string]*domainchat.Conversation),
		messages:       make(map[string][]domainchat.Message),
		marks:          make(map[string]Tombstone),
		marksLoaded:    make(map[string]bool),
		typing:         make(map[string]map[string]remoteTyping),
		online:         make(map[string]bool),
		outgoing:       make(map[string]*outgoingTyping),
		subs:           make(map[int]func(Change)),
		profiles:       profiles,
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	cfg.Transport.SetListener(s)
	return s, nil
}

// Subscribe registers fn for change notifications and returns the
// unsubscribe function.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()
	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// update runs fn under the write lock, stamps the resulting changes with a
// new version and publishes them once the lock is released.
func (s *Store) update(fn func() []Change) {
	s.mu.Lock()
	changes := fn()
	if len(changes) > 0 {
		s.version++
		for i := range changes {
			changes[i].Version = s.version
		}
	}
	s.mu.Unlock()
	s.publish(changes)
}

func (s *Store) publish(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.subsMu.Lock()
	subs := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsMu.Unlock()
	for _, c := range changes {
		for _, fn := range subs {
			fn(c)
		}
	}
}

func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) Identity() domainchat.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *Store) ConnState() ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) Connected() bool {
	return s.ConnState() == StateConnected
}

// Loaded reports whether conversations were fetched for the current
// identity since the last (re)connection.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity != nil && s.loadedGen == s.gen
}

func (s *Store) acting() (domainchat.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return domainchat.Participant{}, domainchat.ErrNoIdentity
	}
	return s.identity.Participant(), nil
}

// SetIdentity binds the store to a new acting identity. Transport handling is
// the session's job; the store only resets per-connection state.
func (s *Store) SetIdentity(ctx context.Context, id domainchat.Identity) {
	s.update(func() []Change {
		if domainchat.SameIdentity(s.identity, id) {
			return nil
		}
		s.identity = id
		s.state = StateDisconnected
		s.gen++
		s.typing = make(map[string]map[string]remoteTyping)
		s.online = make(map[string]bool)
		if id == nil || (s.active != nil && s.active.Owner != id.Participant()) {
			s.active = nil
		}
		return []Change{{Kind: ChangeIdentity}, {Kind: ChangeConnection}}
	})
	s.stopAllTyping()
	if id != nil {
		s.ensureMarks(ctx, id.Participant())
	}
}

func (s *Store) ensureMarks(ctx context.Context, owner domainchat.Participant) {
	s.mu.RLock()
	loaded := s.marksLoaded[owner.Key()]
	s.mu.RUnlock()
	if loaded {
		return
	}
	marks, err := s.tombstoneStore.Load(ctx, owner)
	if err != nil {
		s.warn("tombstones load failed", "owner", owner.Key(), "error", err)
		return
	}
	s.update(func() []Change {
		if s.marksLoaded[owner.Key()] {
			return nil
		}
		s.marksLoaded[owner.Key()] = true
		for _, t := range marks {
			key := markKey(owner, t.ConversationID)
			s.marks[key] = mergeTombstone(s.marks[key], t)
		}
		if len(marks) == 0 {
			return nil
		}
		return []Change{{Kind: ChangeConversations}}
	})
}

func (s *Store) visibleLocked(c *domainchat.Conversation, scope domainchat.Participant) bool {
	if c.Has(scope) && s.hasPendingLocked(c.ID, scope) {
		return true
	}
	if !c.VisibleTo(scope) {
		return false
	}
	t, ok := s.marks[markKey(scope, c.ID)]
	if !ok || t.HiddenAt.IsZero() {
		return true
	}
	return c.LastMessageAt.After(t.HiddenAt)
}

// hasPendingLocked reports whether scope has an unacknowledged local send in
// the conversation. Such entries carry the client clock and must outlive any
// server-stamped delete marker.
func (s *Store) hasPendingLocked(conversationID string, scope domainchat.Participant) bool {
	for _, m := range s.messages[conversationID] {
		if domainchat.IsTempID(m.ID) && m.Sender == scope {
			return true
		}
	}
	return false
}

// ConversationsFor returns the conversations visible to scope, most recent
// activity first.
func (s *Store) ConversationsFor(scope domainchat.Participant) []domainchat.Conversation {
	s.mu.RLock()
	out := make([]domainchat.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		if s.visibleLocked(c, scope) {
			out = append(out, c.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].LastActivity(), out[j].LastActivity()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ConversationFor returns one conversation if scope takes part in it.
func (s *Store) ConversationFor(scope domainchat.Participant, id string) (domainchat.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok || !c.Has(scope) {
		return domainchat.Conversation{}, false
	}
	return c.Clone(), true
}

// MessagesFor returns the history of a conversation as seen by scope, oldest
// first, minus anything scope cleared.
func (s *Store) MessagesFor(scope domainchat.Participant, conversationID string) []domainchat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok || !c.Has(scope) {
		return nil
	}
	var clearedAt time.Time
	if t, ok := s.marks[markKey(scope, conversationID)]; ok {
		clearedAt = t.ClearedAt
	}
	if at, ok := c.DeletedAt(scope.ID); ok && at.After(clearedAt) {
		clearedAt = at
	}
	list := s.messages[conversationID]
	out := make([]domainchat.Message, 0, len(list))
	for _, m := range list {
		if !clearedAt.IsZero() && !m.CreatedAt.After(clearedAt) && !domainchat.IsTempID(m.ID) {
			continue
		}
		out = append(out, m.Clone())
	}
	return out
}

func (s *Store) Online(p domainchat.Participant) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online[p.Key()]
}

func (s *Store) ActiveFor(scope domainchat.Participant) (ActiveConversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil || s.active.Owner != scope {
		return ActiveConversation{}, false
	}
	return *s.active, true
}

func (s *Store) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Store) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func markKey(owner domainchat.Participant, conversationID string) string {
	return owner.Key() + "|" + conversationID
}

func mergeTombstone(cur, next Tombstone) Tombstone {
	if cur.ConversationID == "" {
		return next
	}
	if next.HiddenAt.After(cur.HiddenAt) {
		cur.HiddenAt = next.HiddenAt
	}
	if next.ClearedAt.After(cur.ClearedAt) {
		cur.ClearedAt = next.ClearedAt
	}
	return cur
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func durationOr(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

// shared runs fn once per key for all concurrent callers. The flight is
// detached from any single caller's cancellation and bounded by loadTimeout;
// each caller stops waiting when its own ctx ends.
func (s *Store) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := s.flight.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()
		return fn(fctx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
