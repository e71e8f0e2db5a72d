package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domainchat "workly/internal/domain/chat"
)

// ChatRepository keeps conversations and messages in memory. Not suitable
// for production.
type ChatRepository struct {
	mu       sync.RWMutex
	convs    map[string]*domainchat.Conversation
	byPair   map[string]string
	messages map[string][]domainchat.Message
}

func NewChatRepository() *ChatRepository {
	return &ChatRepository{
		convs:    make(map[string]*domainchat.Conversation),
		byPair:   make(map[string]string),
		messages: make(map[string][]domainchat.Message),
	}
}

func (r *ChatRepository) ConversationByID(ctx context.Context, id string) (*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.convs[id]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	out := conv.Clone()
	return &out, nil
}

func (r *ChatRepository) ConversationByPair(ctx context.Context, a, b domainchat.Participant) (*domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPair[domainchat.PairKey(a, b)]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	out := r.convs[id].Clone()
	return &out, nil
}

func (r *ChatRepository) SaveConversation(ctx context.Context, conv *domainchat.Conversation) error {
	if conv == nil || conv.ID == "" {
		return domainchat.ErrConversationIDRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := conv.Clone()
	r.convs[conv.ID] = &stored
	r.byPair[conv.PairKey()] = conv.ID
	return nil
}

func (r *ChatRepository) ConversationsFor(ctx context.Context, p domainchat.Participant) ([]domainchat.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domainchat.Conversation
	for _, conv := range r.convs {
		if conv.Has(p) {
			out = append(out, conv.Clone())
		}
	}
	return out, nil
}

func (r *ChatRepository) AppendMessage(ctx context.Context, msg domainchat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.convs[msg.ConversationID]; !ok {
		return domainchat.ErrConversationNotFound
	}
	r.messages[msg.ConversationID] = domainchat.MergeMessages(r.messages[msg.ConversationID], []domainchat.Message{msg.Clone()})
	return nil
}

func (r *ChatRepository) Messages(ctx context.Context, conversationID string, notAfter time.Time, offset, limit int) ([]domainchat.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.messages[conversationID]
	out := make([]domainchat.Message, 0, limit)
	skipped := 0
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		m := all[i]
		if !notAfter.IsZero() && !m.CreatedAt.After(notAfter) {
			break
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, m.Clone())
	}
	return out, nil
}

func (r *ChatRepository) MarkRead(ctx context.Context, conversationID string, reader domainchat.Participant, at time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.convs[conversationID]; !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	msgs := r.messages[conversationID]
	var changed []string
	for i := range msgs {
		if msgs[i].Sender == reader {
			continue
		}
		if msgs[i].MarkRead(reader.ID, at) {
			changed = append(changed, msgs[i].ID)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

var _ domainchat.Repository = (*ChatRepository)(nil)
