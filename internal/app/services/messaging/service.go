package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	appoutbox "workly/internal/app/outbox"
	domainchat "workly/internal/domain/chat"
	"workly/internal/domain/shared/events"
)

var ErrUnavailable = errors.New("messaging: repository unavailable")

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Service is the chat backend: conversations between two participants,
// message history, unread counters and per-participant soft deletes.
type Service struct {
	Repo        domainchat.Repository
	Directory   Directory
	Idempotency IdempotencyStore
	Outbox      appoutbox.Outbox
	Encoder     appoutbox.EventEncoder
	Logger      *slog.Logger
	Now         func() time.Time
	NewID       func() string

	// mu serializes read-modify-write cycles on conversations.
	mu sync.Mutex
}

type ConversationPage struct {
	Items   []domainchat.Conversation
	Page    int
	HasMore bool
}

type MessagePage struct {
	Items   []domainchat.Message
	Page    int
	HasMore bool
}

type SendInput struct {
	ConversationID string
	Content        string
	ClientID       string
}

type SendResult struct {
	Message      domainchat.Message
	Conversation domainchat.Conversation
	Recipient    domainchat.Participant
	// Duplicate is set when the client id was already stored; nothing new
	// was written.
	Duplicate bool
}

type ReadResult struct {
	ConversationID string
	Reader         domainchat.Participant
	Other          domainchat.Participant
	MessageIDs     []string
	ReadAt         time.Time
}

// GetOrCreate returns the conversation between as and other, creating it
// with as as the initiator. created reports whether a new one was stored.
func (s *Service) GetOrCreate(ctx context.Context, as, other domainchat.Participant) (domainchat.Conversation, bool, error) {
	if s.Repo == nil {
		return domainchat.Conversation{}, false, ErrUnavailable
	}
	other, err := domainchat.NewParticipant(other.ID, other.Type)
	if err != nil {
		return domainchat.Conversation{}, false, err
	}
	if other == as {
		return domainchat.Conversation{}, false, domainchat.ErrSelfConversation
	}
	if s.Directory != nil {
		if _, err := s.Directory.Profile(ctx, other); err != nil {
			return domainchat.Conversation{}, false, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.Repo.ConversationByPair(ctx, as, other)
	if err == nil {
		return existing.Clone(), false, nil
	}
	if !errors.Is(err, domainchat.ErrConversationNotFound) {
		return domainchat.Conversation{}, false, fmt.Errorf("lookup conversation: %w", err)
	}
	now := s.now()
	conv, err := domainchat.NewConversation(domainchat.CreateConversationParams{
		ID:           s.newID(),
		Participants: []domainchat.Participant{as, other},
		Now:          now,
	})
	if err != nil {
		return domainchat.Conversation{}, false, err
	}
	if err := s.Repo.SaveConversation(ctx, conv); err != nil {
		return domainchat.Conversation{}, false, fmt.Errorf("save conversation: %w", err)
	}
	var rec events.Recorder
	rec.Record(domainchat.ConversationCreatedEvent{ConversationID: conv.ID, Participants: conv.Participants, At: now})
	s.flush(ctx, &rec)
	if s.Logger != nil {
		s.Logger.Info("conversation created", "conversation_id", conv.ID, "initiator", as.Key(), "other", other.Key())
	}
	return conv.Clone(), true, nil
}

// List pages the conversations visible to as, most recent activity first.
func (s *Service) List(ctx context.Context, as domainchat.Participant, page, limit int) (ConversationPage, error) {
	if s.Repo == nil {
		return ConversationPage{}, ErrUnavailable
	}
	page, limit = normalizePage(page, limit)
	all, err := s.Repo.ConversationsFor(ctx, as)
	if err != nil {
		return ConversationPage{}, fmt.Errorf("list conversations: %w", err)
	}
	visible := all[:0]
	for _, c := range all {
		if c.VisibleTo(as) {
			visible = append(visible, c)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		ai, aj := visible[i].LastActivity(), visible[j].LastActivity()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return visible[i].ID < visible[j].ID
	})
	from := (page - 1) * limit
	if from > len(visible) {
		from = len(visible)
	}
	to := from + limit
	if to > len(visible) {
		to = len(visible)
	}
	items := make([]domainchat.Conversation, 0, to-from)
	for _, c := range visible[from:to] {
		items = append(items, c.Clone())
	}
	return ConversationPage{Items: items, Page: page, HasMore: to < len(visible)}, nil
}

// Get returns the conversation when as is one of its participants.
func (s *Service) Get(ctx context.Context, as domainchat.Participant, conversationID string) (domainchat.Conversation, error) {
	conv, err := s.load(ctx, as, conversationID)
	if err != nil {
		return domainchat.Conversation{}, err
	}
	return conv.Clone(), nil
}

// Delete soft-deletes the conversation for as only. The counterpart keeps
// seeing it and a later message brings it back for as.
func (s *Service) Delete(ctx context.Context, as domainchat.Participant, conversationID string) (domainchat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, err := s.load(ctx, as, conversationID)
	if err != nil {
		return domainchat.Conversation{}, err
	}
	now := s.now()
	conv.MarkDeleted(as.ID, now)
	conv.UpdatedAt = now
	if err := s.Repo.SaveConversation(ctx, conv); err != nil {
		return domainchat.Conversation{}, fmt.Errorf("save conversation: %w", err)
	}
	var rec events.Recorder
	rec.Record(domainchat.ConversationDeletedEvent{ConversationID: conv.ID, Participant: as, At: now})
	s.flush(ctx, &rec)
	return conv.Clone(), nil
}

// ListMessages pages history newest first. Messages from before the caller's
// deletion stay hidden.
func (s *Service) ListMessages(ctx context.Context, as domainchat.Participant, conversationID string, page, limit int) (MessagePage, error) {
	conv, err := s.load(ctx, as, conversationID)
	if err != nil {
		return MessagePage{}, err
	}
	page, limit = normalizePage(page, limit)
	notAfter, _ := conv.DeletedAt(as.ID)
	msgs, err := s.Repo.Messages(ctx, conv.ID, notAfter, (page-1)*limit, limit+1)
	if err != nil {
		return MessagePage{}, fmt.Errorf("list messages: %w", err)
	}
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	return MessagePage{Items: msgs, Page: page, HasMore: hasMore}, nil
}

// Send stores a message from as. A repeated client id returns the message
// stored the first time.
func (s *Service) Send(ctx context.Context, as domainchat.Participant, in SendInput) (SendResult, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return SendResult{}, domainchat.ErrEmptyContent
	}
	clientID := strings.TrimSpace(in.ClientID)

	s.mu.Lock()
	defer s.mu.Unlock()
	conv, err := s.load(ctx, as, in.ConversationID)
	if err != nil {
		return SendResult{}, err
	}
	recipient, _ := conv.Other(as)

	key := sendKey(as, clientID)
	if key != "" && s.Idempotency != nil {
		prev, ok, err := s.Idempotency.Get(ctx, key)
		if err != nil {
			return SendResult{}, fmt.Errorf("idempotency lookup: %w", err)
		}
		if ok {
			var msg domainchat.Message
			if err := json.Unmarshal(prev.Payload, &msg); err != nil {
				return SendResult{}, fmt.Errorf("%w: %v", domainchat.ErrMalformedPayload, err)
			}
			return SendResult{Message: msg, Conversation: conv.Clone(), Recipient: recipient, Duplicate: true}, nil
		}
	}

	now := s.now()
	// Keep history strictly ordered even when the clock does not advance.
	if !conv.LastMessageAt.IsZero() && !now.After(conv.LastMessageAt) {
		now = conv.LastMessageAt.Add(time.Microsecond)
	}
	msg := domainchat.Message{
		ID:             s.newID(),
		ConversationID: conv.ID,
		ClientID:       clientID,
		Sender:         as,
		Content:        content,
		Status:         domainchat.StatusSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Repo.AppendMessage(ctx, msg); err != nil {
		return SendResult{}, fmt.Errorf("append message: %w", err)
	}
	conv.ApplyMessage(msg)
	conv.SetUnread(recipient.ID, conv.UnreadFor(recipient.ID)+1)
	if err := s.Repo.SaveConversation(ctx, conv); err != nil {
		return SendResult{}, fmt.Errorf("save conversation: %w", err)
	}
	if key != "" && s.Idempotency != nil {
		payload, err := json.Marshal(msg)
		if err == nil {
			err = s.Idempotency.Save(ctx, SendRecord{Key: key, Payload: payload, OccurredAt: now})
		}
		if err != nil && s.Logger != nil {
			s.Logger.Warn("idempotency save failed", "conversation_id", conv.ID, "client_id", clientID, "error", err)
		}
	}
	var rec events.Recorder
	rec.Record(domainchat.MessageSentEvent{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Sender:         as,
		Recipient:      recipient,
		At:             now,
	})
	s.flush(ctx, &rec)
	return SendResult{Message: msg, Conversation: conv.Clone(), Recipient: recipient}, nil
}

// MarkRead records receipts for everything the other side sent and resets
// the caller's unread counter.
func (s *Service) MarkRead(ctx context.Context, as domainchat.Participant, conversationID string) (ReadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, err := s.load(ctx, as, conversationID)
	if err != nil {
		return ReadResult{}, err
	}
	now := s.now()
	ids, err := s.Repo.MarkRead(ctx, conv.ID, as, now)
	if err != nil {
		return ReadResult{}, fmt.Errorf("mark read: %w", err)
	}
	other, _ := conv.Other(as)
	res := ReadResult{ConversationID: conv.ID, Reader: as, Other: other, MessageIDs: ids, ReadAt: now}
	if conv.UnreadFor(as.ID) == 0 && len(ids) == 0 {
		return res, nil
	}
	conv.SetUnread(as.ID, 0)
	if err := s.Repo.SaveConversation(ctx, conv); err != nil {
		return ReadResult{}, fmt.Errorf("save conversation: %w", err)
	}
	if len(ids) > 0 {
		var rec events.Recorder
		rec.Record(domainchat.MessagesReadEvent{ConversationID: conv.ID, Reader: as, MessageIDs: ids, At: now})
		s.flush(ctx, &rec)
	}
	return res, nil
}

// Profile resolves a participant card through the directory.
func (s *Service) Profile(ctx context.Context, p domainchat.Participant) (domainchat.Profile, error) {
	if s.Directory == nil {
		return domainchat.Profile{}, domainchat.ErrProfileNotFound
	}
	return s.Directory.Profile(ctx, p)
}

// Partners lists everyone p shares a conversation with.
func (s *Service) Partners(ctx context.Context, p domainchat.Participant) ([]domainchat.Participant, error) {
	if s.Repo == nil {
		return nil, ErrUnavailable
	}
	convs, err := s.Repo.ConversationsFor(ctx, p)
	if err != nil {
		return nil, err
	}
	seen := make(map[domainchat.Participant]struct{}, len(convs))
	out := make([]domainchat.Participant, 0, len(convs))
	for _, c := range convs {
		other, ok := c.Other(p)
		if !ok {
			continue
		}
		if _, dup := seen[other]; dup {
			continue
		}
		seen[other] = struct{}{}
		out = append(out, other)
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, as domainchat.Participant, conversationID string) (*domainchat.Conversation, error) {
	if s.Repo == nil {
		return nil, ErrUnavailable
	}
	id := strings.TrimSpace(conversationID)
	if id == "" {
		return nil, domainchat.ErrConversationIDRequired
	}
	conv, err := s.Repo.ConversationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.Has(as) {
		return nil, domainchat.ErrNotParticipant
	}
	return conv, nil
}

// flush writes recorded events to the outbox. State is already stored, so a
// failure here is logged rather than returned.
func (s *Service) flush(ctx context.Context, rec *events.Recorder) {
	err := appoutbox.RecordDomainEvents(ctx, s.Outbox, s.Encoder, rec.Pending())
	rec.Clear()
	if err != nil && s.Logger != nil {
		s.Logger.Error("outbox record failed", "error", err)
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func sendKey(sender domainchat.Participant, clientID string) string {
	if clientID == "" {
		return ""
	}
	return sender.Key() + "|" + clientID
}

func normalizePage(page, limit int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}
