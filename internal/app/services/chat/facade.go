package chat

import (
	"context"
	"sync"

	domainchat "workly/internal/domain/chat"
)

// Facade is a view of the store scoped to one participant, personal or
// company. Views are read-only snapshots; actions require the facade scope to
// be the acting identity.
type Facade struct {
	store *Store
	scope domainchat.Participant

	memoMu      sync.Mutex
	memoVersion uint64
	memoValid   bool
	memo        []domainchat.Conversation
}

// Personal returns the facade for a user's own inbox.
func (s *Store) Personal(userID string) *Facade {
	return s.facade(domainchat.User(userID))
}

// Company returns the facade for a company inbox.
func (s *Store) Company(companyID string) *Facade {
	return s.facade(domainchat.CompanyParticipant(companyID))
}

func (s *Store) facade(scope domainchat.Participant) *Facade {
	s.ensureMarks(context.Background(), scope)
	return &Facade{store: s, scope: scope}
}

func (f *Facade) Scope() domainchat.Participant {
	return f.scope
}

func (f *Facade) Subscribe(fn func(Change)) func() {
	return f.store.Subscribe(fn)
}

// Conversations is the visible inbox, recomputed only when the store changed.
func (f *Facade) Conversations() []domainchat.Conversation {
	version := f.store.Version()
	f.memoMu.Lock()
	defer f.memoMu.Unlock()
	if !f.memoValid || f.memoVersion != version {
		f.memo = f.store.ConversationsFor(f.scope)
		f.memoVersion = version
		f.memoValid = true
	}
	out := make([]domainchat.Conversation, len(f.memo))
	for i, c := range f.memo {
		out[i] = c.Clone()
	}
	return out
}

func (f *Facade) Conversation(id string) (domainchat.Conversation, bool) {
	return f.store.ConversationFor(f.scope, id)
}

func (f *Facade) Messages(conversationID string) []domainchat.Message {
	return f.store.MessagesFor(f.scope, conversationID)
}

// UnreadCount totals the scope's unread counters across visible
// conversations.
func (f *Facade) UnreadCount() int {
	total := 0
	for _, c := range f.Conversations() {
		total += c.UnreadFor(f.scope.ID)
	}
	return total
}

func (f *Facade) ConversationUnread(conversationID string) int {
	c, ok := f.store.ConversationFor(f.scope, conversationID)
	if !ok {
		return 0
	}
	return c.UnreadFor(f.scope.ID)
}

func (f *Facade) Typing(conversationID string) []domainchat.Participant {
	return f.store.TypingIn(f.scope, conversationID)
}

func (f *Facade) Online(p domainchat.Participant) bool {
	return f.store.Online(p)
}

// IsConnected is true only while the socket belongs to this scope.
func (f *Facade) IsConnected() bool {
	return f.acting() == nil && f.store.Connected()
}

func (f *Facade) Active() (ActiveConversation, bool) {
	return f.store.ActiveFor(f.scope)
}

func (f *Facade) acting() error {
	id := f.store.Identity()
	if id == nil {
		return domainchat.ErrNoIdentity
	}
	if id.Participant() != f.scope {
		return domainchat.ErrIdentityMismatch
	}
	return nil
}

// StartConversation gets or creates the conversation with another
// participant and opens it inline or in the full view.
func (f *Facade) StartConversation(ctx context.Context, participantID string, participantType domainchat.ParticipantType, openFullView bool) (domainchat.Conversation, error) {
	if err := f.acting(); err != nil {
		return domainchat.Conversation{}, err
	}
	if !f.store.Connected() {
		return domainchat.Conversation{}, domainchat.ErrNotConnected
	}
	conv, err := f.store.CreateOrGetConversation(ctx, participantID, participantType)
	if err != nil {
		return domainchat.Conversation{}, err
	}
	mode := ViewInline
	if openFullView {
		mode = ViewFull
	}
	return conv, f.store.Open(ctx, conv.ID, mode)
}

func (f *Facade) Open(ctx context.Context, conversationID string, mode ViewMode) error {
	if err := f.acting(); err != nil {
		return err
	}
	return f.store.Open(ctx, conversationID, mode)
}

func (f *Facade) Close(ctx context.Context) error {
	if err := f.acting(); err != nil {
		return err
	}
	return f.store.Close(ctx)
}

// SendMessage ends the typing indicator before sending.
func (f *Facade) SendMessage(ctx context.Context, conversationID, content string) (domainchat.Message, error) {
	if err := f.acting(); err != nil {
		return domainchat.Message{}, err
	}
	if err := f.store.StopTyping(ctx, conversationID); err != nil {
		f.store.debug("typing stop before send failed", "conversation_id", conversationID, "error", err)
	}
	return f.store.SendMessage(ctx, conversationID, content)
}

func (f *Facade) RetryMessage(ctx context.Context, conversationID, messageID string) (domainchat.Message, error) {
	if err := f.acting(); err != nil {
		return domainchat.Message{}, err
	}
	return f.store.RetryMessage(ctx, conversationID, messageID)
}

func (f *Facade) LoadMessages(ctx context.Context, conversationID string, page PageRequest) (MessagePage, error) {
	if err := f.acting(); err != nil {
		return MessagePage{}, err
	}
	return f.store.LoadMessages(ctx, conversationID, page)
}

func (f *Facade) LoadConversations(ctx context.Context, page PageRequest) (ConversationPage, error) {
	if err := f.acting(); err != nil {
		return ConversationPage{}, err
	}
	return f.store.LoadConversations(ctx, page)
}

func (f *Facade) MarkAsRead(ctx context.Context, conversationID string) error {
	if err := f.acting(); err != nil {
		return err
	}
	return f.store.MarkMessagesAsRead(ctx, conversationID)
}

func (f *Facade) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := f.acting(); err != nil {
		return err
	}
	return f.store.DeleteConversation(ctx, conversationID)
}

func (f *Facade) ClearHistory(ctx context.Context, conversationID string) error {
	if err := f.acting(); err != nil {
		return err
	}
	return f.store.ClearHistory(ctx, conversationID)
}

func (f *Facade) NotifyTyping(ctx context.Context, conversationID string) error {
	if err := f.acting(); err != nil {
		return err
	}
	return f.store.NotifyTyping(ctx, conversationID)
}

func (f *Facade) StopTyping(ctx context.Context, conversationID string) error {
	if err := f.acting(); err != nil {
		return err
	}
	return f.store.StopTyping(ctx, conversationID)
}

// Profile works for any scope; profiles are not identity bound.
func (f *Facade) Profile(ctx context.Context, p domainchat.Participant) (domainchat.Profile, error) {
	return f.store.Profile(ctx, p)
}
