package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	domainchat "workly/internal/domain/chat"
)

type SessionState int

const (
	SessionNoIdentity SessionState = iota
	SessionIdentitySet
	SessionSocketConnecting
	SessionSocketConnected
	SessionReady
)

func (s SessionState) String() string {
	switch s {
	case SessionIdentitySet:
		return "IDENTITY_SET"
	case SessionSocketConnecting:
		return "SOCKET_CONNECTING"
	case SessionSocketConnected:
		return "SOCKET_CONNECTED"
	case SessionReady:
		return "READY"
	default:
		return "NO_IDENTITY"
	}
}

// Session decides which identity the store acts as and keeps exactly one
// socket open for it.
type Session struct {
	store     *Store
	transport Transport
	tokens    TokenSource
	Logger    *slog.Logger

	mu       sync.Mutex
	personal string
}

func NewSession(store *Store, tokens TokenSource) *Session {
	return &Session{store: store, transport: store.transport, tokens: tokens, Logger: store.logger}
}

// State derives the lifecycle state from the store.
func (s *Session) State() SessionState {
	if s.store.Identity() == nil {
		return SessionNoIdentity
	}
	switch s.store.ConnState() {
	case StateConnecting:
		return SessionSocketConnecting
	case StateConnected:
		if s.store.Loaded() {
			return SessionReady
		}
		return SessionSocketConnected
	default:
		return SessionIdentitySet
	}
}

// ActAsPersonal signs in as the user and remembers them as the identity to
// fall back to when leaving a company.
func (s *Session) ActAsPersonal(ctx context.Context, userID string) error {
	if userID == "" {
		return domainchat.ErrParticipantIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.personal = userID
	return s.switchTo(ctx, domainchat.Personal{UserID: userID})
}

// ActAsCompany switches to acting as a company the current user manages. If
// the server refuses the identity the session reverts to the personal one.
func (s *Session) ActAsCompany(ctx context.Context, companyID string) error {
	if companyID == "" {
		return domainchat.ErrParticipantIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.personal == "" {
		return domainchat.ErrNoIdentity
	}
	err := s.switchTo(ctx, domainchat.Company{CompanyID: companyID, OperatorID: s.personal})
	if errors.Is(err, domainchat.ErrIdentityNotAuthorized) {
		if revertErr := s.switchTo(ctx, domainchat.Personal{UserID: s.personal}); revertErr != nil {
			return errors.Join(err, revertErr)
		}
	}
	return err
}

// LeaveCompany restores the remembered personal identity.
func (s *Session) LeaveCompany(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.personal == "" {
		return domainchat.ErrNoIdentity
	}
	return s.switchTo(ctx, domainchat.Personal{UserID: s.personal})
}

// Close drops the socket and the identity.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.transport.Disconnect()
	s.store.SetIdentity(context.Background(), nil)
	s.personal = ""
	return err
}

// switchTo tears down the old socket before the store adopts the new
// identity, so no event of the old connection is applied under the new one.
func (s *Session) switchTo(ctx context.Context, id domainchat.Identity) error {
	if domainchat.SameIdentity(s.store.Identity(), id) && s.transport.State() != StateDisconnected {
		return nil
	}
	if s.store.Identity() != nil {
		if err := s.transport.Disconnect(); err != nil {
			s.logWarn("socket disconnect failed", "error", err)
		}
	}
	s.store.SetIdentity(ctx, id)

	token, err := s.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("session token: %w", err)
	}
	if err := s.transport.Connect(ctx, id.Participant(), token); err != nil {
		if errors.Is(err, domainchat.ErrIdentityNotAuthorized) {
			return err
		}
		s.logWarn("socket connect failed", "identity", id.Participant().Key(), "error", err)
		return nil
	}
	if s.Logger != nil {
		s.Logger.Info("chat identity active", "identity", id.Participant().Key())
	}
	if !s.store.Connected() {
		return nil
	}
	if err := s.store.EnsureConversations(ctx); err != nil {
		return fmt.Errorf("session load: %w", err)
	}
	return nil
}

func (s *Session) logWarn(msg string, args ...any) {
	if s.Logger != nil {
		s.Logger.Warn(msg, args...)
	}
}
