package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/gocql/gocql"

	domainchat "workly/internal/domain/chat"
)

var errNoSession = errors.New("scylla: session not initialized")

// Store implements domainchat.Repository on Scylla.
type Store struct {
	session *gocql.Session
	logger  *slog.Logger
}

func NewStore(session *gocql.Session, logger *slog.Logger) *Store {
	return &Store{session: session, logger: logger}
}

const conversationColumns = `id, participant_a, participant_b, last_message, last_message_at, unread, deleted, created_at, updated_at`

type conversationRow struct {
	ID            string
	A, B          string
	LastMessage   string
	LastMessageAt time.Time
	Unread        map[string]int
	Deleted       map[string]time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (r *conversationRow) dest() []any {
	return []any{&r.ID, &r.A, &r.B, &r.LastMessage, &r.LastMessageAt, &r.Unread, &r.Deleted, &r.CreatedAt, &r.UpdatedAt}
}

func (s *Store) ConversationByID(ctx context.Context, id string) (*domainchat.Conversation, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	var row conversationRow
	err := s.session.
		Query(`SELECT `+conversationColumns+` FROM conversations WHERE id = ? LIMIT 1`, strings.TrimSpace(id)).
		WithContext(ctx).
		Consistency(gocql.One).
		Scan(row.dest()...)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, err
	}
	return row.toDomain()
}

func (s *Store) ConversationByPair(ctx context.Context, a, b domainchat.Participant) (*domainchat.Conversation, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	var id string
	err := s.session.
		Query(`SELECT conversation_id FROM conversation_pairs WHERE pair_key = ?`, domainchat.PairKey(a, b)).
		WithContext(ctx).
		Consistency(gocql.One).
		Scan(&id)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, domainchat.ErrConversationNotFound
		}
		return nil, err
	}
	return s.ConversationByID(ctx, id)
}

func (s *Store) SaveConversation(ctx context.Context, conv *domainchat.Conversation) error {
	if s.session == nil {
		return errNoSession
	}
	row, err := fromDomain(conv)
	if err != nil {
		return err
	}
	members := []string{row.A, row.B}
	if err := s.session.
		Query(`INSERT INTO conversations (`+conversationColumns+`, members) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.ID, row.A, row.B, row.LastMessage, row.LastMessageAt, row.Unread, row.Deleted, row.CreatedAt, row.UpdatedAt, members).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return err
	}
	return s.session.
		Query(`INSERT INTO conversation_pairs (pair_key, conversation_id) VALUES (?, ?)`, conv.PairKey(), conv.ID).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec()
}

func (s *Store) ConversationsFor(ctx context.Context, p domainchat.Participant) ([]domainchat.Conversation, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	iter := s.session.
		Query(`SELECT `+conversationColumns+` FROM conversations WHERE members CONTAINS ? ALLOW FILTERING`, p.Key()).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()
	var (
		row conversationRow
		out []domainchat.Conversation
	)
	for iter.Scan(row.dest()...) {
		conv, err := row.toDomain()
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("skipping unreadable conversation", "conversation_id", row.ID, "error", err)
			}
			row = conversationRow{}
			continue
		}
		out = append(out, *conv)
		row = conversationRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) AppendMessage(ctx context.Context, msg domainchat.Message) error {
	if s.session == nil {
		return errNoSession
	}
	return s.session.
		Query(`INSERT INTO messages (conversation_id, created_at, message_id, client_id, sender, content, status, read_by, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ConversationID, msg.CreatedAt.UTC(), msg.ID, msg.ClientID, msg.Sender.Key(), msg.Content, string(msg.Status), receiptsToMap(msg.ReadBy), msg.UpdatedAt.UTC()).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec()
}

const messageColumns = `conversation_id, created_at, message_id, client_id, sender, content, status, read_by, updated_at`

type messageRow struct {
	ConversationID string
	CreatedAt      time.Time
	ID             string
	ClientID       string
	Sender         string
	Content        string
	Status         string
	ReadBy         map[string]time.Time
	UpdatedAt      time.Time
}

func (r *messageRow) dest() []any {
	return []any{&r.ConversationID, &r.CreatedAt, &r.ID, &r.ClientID, &r.Sender, &r.Content, &r.Status, &r.ReadBy, &r.UpdatedAt}
}

func (s *Store) Messages(ctx context.Context, conversationID string, notAfter time.Time, offset, limit int) ([]domainchat.Message, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	if limit <= 0 {
		return nil, nil
	}
	var q *gocql.Query
	if notAfter.IsZero() {
		q = s.session.Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? LIMIT ?`, conversationID, offset+limit)
	} else {
		q = s.session.Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND created_at > ? LIMIT ?`, conversationID, notAfter.UTC(), offset+limit)
	}
	rows, err := s.scanMessages(q.WithContext(ctx).Consistency(gocql.One).Iter())
	if err != nil {
		return nil, err
	}
	if offset >= len(rows) {
		return []domainchat.Message{}, nil
	}
	return rows[offset:], nil
}

func (s *Store) MarkRead(ctx context.Context, conversationID string, reader domainchat.Participant, at time.Time) ([]string, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	iter := s.session.
		Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ?`, conversationID).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()
	msgs, err := s.scanMessages(iter)
	if err != nil {
		return nil, err
	}
	at = at.UTC()
	var changed []string
	for _, m := range msgs {
		if m.Sender == reader || !m.MarkRead(reader.ID, at) {
			continue
		}
		if err := s.session.
			Query(`UPDATE messages SET read_by[?] = ?, status = ?, updated_at = ? WHERE conversation_id = ? AND created_at = ? AND message_id = ?`,
				reader.ID, at, string(m.Status), m.UpdatedAt, conversationID, m.CreatedAt, m.ID).
			WithContext(ctx).
			Consistency(gocql.Quorum).
			Exec(); err != nil {
			return changed, err
		}
		changed = append(changed, m.ID)
	}
	sort.Strings(changed)
	return changed, nil
}

func (s *Store) scanMessages(iter *gocql.Iter) ([]domainchat.Message, error) {
	var (
		row messageRow
		out []domainchat.Message
	)
	for iter.Scan(row.dest()...) {
		msg, err := row.toDomain()
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("skipping unreadable message", "message_id", row.ID, "error", err)
			}
		} else {
			out = append(out, msg)
		}
		row = messageRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func fromDomain(conv *domainchat.Conversation) (conversationRow, error) {
	if conv == nil || conv.ID == "" {
		return conversationRow{}, domainchat.ErrConversationIDRequired
	}
	row := conversationRow{
		ID:            conv.ID,
		A:             conv.Participants[0].Key(),
		B:             conv.Participants[1].Key(),
		LastMessageAt: conv.LastMessageAt.UTC(),
		Unread:        conv.UnreadCount,
		Deleted:       conv.DeletedParticipants,
		CreatedAt:     conv.CreatedAt.UTC(),
		UpdatedAt:     conv.UpdatedAt.UTC(),
	}
	if conv.LastMessage != nil {
		raw, err := json.Marshal(conv.LastMessage)
		if err != nil {
			return conversationRow{}, err
		}
		row.LastMessage = string(raw)
	}
	return row, nil
}

func (r conversationRow) toDomain() (*domainchat.Conversation, error) {
	a, err := parseKey(r.A)
	if err != nil {
		return nil, err
	}
	b, err := parseKey(r.B)
	if err != nil {
		return nil, err
	}
	conv := &domainchat.Conversation{
		ID:                  r.ID,
		Participants:        [2]domainchat.Participant{a, b},
		LastMessageAt:       r.LastMessageAt,
		UnreadCount:         r.Unread,
		DeletedParticipants: r.Deleted,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if conv.UnreadCount == nil {
		conv.UnreadCount = map[string]int{a.ID: 0, b.ID: 0}
	}
	if len(conv.DeletedParticipants) == 0 {
		conv.DeletedParticipants = nil
	}
	if r.LastMessage != "" {
		var last domainchat.Message
		if err := json.Unmarshal([]byte(r.LastMessage), &last); err != nil {
			return nil, fmt.Errorf("%w: last message: %v", domainchat.ErrMalformedPayload, err)
		}
		conv.LastMessage = &last
	}
	return conv, nil
}

func (r messageRow) toDomain() (domainchat.Message, error) {
	sender, err := parseKey(r.Sender)
	if err != nil {
		return domainchat.Message{}, err
	}
	msg := domainchat.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		ClientID:       r.ClientID,
		Sender:         sender,
		Content:        r.Content,
		Status:         domainchat.MessageStatus(r.Status),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	for pid, at := range r.ReadBy {
		msg.ReadBy = append(msg.ReadBy, domainchat.ReadReceipt{ParticipantID: pid, ReadAt: at})
	}
	sort.Slice(msg.ReadBy, func(i, j int) bool { return msg.ReadBy[i].ReadAt.Before(msg.ReadBy[j].ReadAt) })
	return msg, nil
}

func receiptsToMap(rs []domainchat.ReadReceipt) map[string]time.Time {
	if len(rs) == 0 {
		return nil
	}
	out := make(map[string]time.Time, len(rs))
	for _, r := range rs {
		out[r.ParticipantID] = r.ReadAt.UTC()
	}
	return out
}

// parseKey reverses Participant.Key.
func parseKey(key string) (domainchat.Participant, error) {
	typ, id, ok := strings.Cut(key, ":")
	if !ok {
		return domainchat.Participant{}, fmt.Errorf("%w: participant key %q", domainchat.ErrMalformedPayload, key)
	}
	return domainchat.NewParticipant(id, domainchat.ParticipantType(typ))
}

var _ domainchat.Repository = (*Store)(nil)
