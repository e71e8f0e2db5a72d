package chat

import (
	"context"
	"errors"
	"fmt"

	domainchat "workly/internal/domain/chat"
)

// Profile resolves display data for a participant. Missing participants are
// cached as placeholders so a deleted account renders without refetching.
func (s *Store) Profile(ctx context.Context, p domainchat.Participant) (domainchat.Profile, error) {
	if p.IsZero() {
		return domainchat.Profile{}, domainchat.ErrParticipantIDRequired
	}
	if prof, ok := s.profiles.Get(p.Key()); ok {
		return prof, nil
	}
	v, err := s.shared(ctx, "profile:"+p.Key(), func(ctx context.Context) (any, error) {
		prof, err := s.backend.Profile(ctx, p)
		if errors.Is(err, domainchat.ErrProfileNotFound) {
			prof, err = domainchat.DeletedProfile(p), nil
		}
		if err != nil {
			return nil, err
		}
		s.profiles.Add(p.Key(), prof)
		return prof, nil
	})
	if err != nil {
		return domainchat.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	return v.(domainchat.Profile), nil
}

// ForgetProfile evicts a cached profile after the participant changed it.
func (s *Store) ForgetProfile(p domainchat.Participant) {
	s.profiles.Remove(p.Key())
}
