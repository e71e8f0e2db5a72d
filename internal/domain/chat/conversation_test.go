package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConversationValidatesPair(t *testing.T) {
	tests := []struct {
		name    string
		pair    []Participant
		wantErr error
	}{
		{"user and company", []Participant{User("u1"), CompanyParticipant("c1")}, nil},
		{"same id different type", []Participant{User("x"), CompanyParticipant("x")}, nil},
		{"single participant", []Participant{User("u1")}, ErrParticipantsInvalid},
		{"duplicate participant", []Participant{User("u1"), User("u1")}, ErrParticipantsInvalid},
		{"missing id", []Participant{User(""), User("u2")}, ErrParticipantIDRequired},
		{"bad type", []Participant{{ID: "u1", Type: "BOT"}, User("u2")}, ErrInvalidParticipantType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConversation(CreateConversationParams{ID: "conv", Participants: tt.pair, Now: base})
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPairKeyIsOrderIndependent(t *testing.T) {
	u, c := User("u1"), CompanyParticipant("c1")
	assert.Equal(t, PairKey(u, c), PairKey(c, u))
	assert.NotEqual(t, PairKey(User("x"), User("y")), PairKey(User("x"), CompanyParticipant("y")))
}

func TestConversationKeepsInitiatorOrder(t *testing.T) {
	conv, err := NewConversation(CreateConversationParams{
		ID:           "conv",
		Participants: []Participant{User("u1"), CompanyParticipant("c1")},
		Now:          base,
	})
	require.NoError(t, err)

	assert.Equal(t, User("u1"), conv.Participants[0])
	assert.Equal(t, CompanyParticipant("c1"), conv.Participants[1])
	assert.Equal(t, 0, conv.UnreadFor("u1"))

	other, ok := conv.Other(User("u1"))
	assert.True(t, ok)
	assert.Equal(t, CompanyParticipant("c1"), other)

	_, ok = conv.Other(CompanyParticipant("u1"))
	assert.False(t, ok)
}

func TestVisibleToHonoursTombstone(t *testing.T) {
	conv, err := NewConversation(CreateConversationParams{
		ID:           "conv",
		Participants: []Participant{User("a"), User("b")},
		Now:          base,
	})
	require.NoError(t, err)
	conv.ApplyMessage(msg("m1", time.Minute, "hi"))

	conv.MarkDeleted("a", base.Add(2*time.Minute))
	assert.False(t, conv.VisibleTo(User("a")))
	assert.True(t, conv.VisibleTo(User("b")))
	assert.False(t, conv.VisibleTo(CompanyParticipant("b")))

	conv.ApplyMessage(msg("m2", 3*time.Minute, "again"))
	assert.True(t, conv.VisibleTo(User("a")))
}

func TestApplyMessageIgnoresOlder(t *testing.T) {
	conv, err := NewConversation(CreateConversationParams{
		ID:           "conv",
		Participants: []Participant{User("a"), User("b")},
		Now:          base,
	})
	require.NoError(t, err)

	assert.True(t, conv.ApplyMessage(msg("m2", 2*time.Minute, "new")))
	assert.False(t, conv.ApplyMessage(msg("m1", time.Minute, "old")))
	assert.Equal(t, "m2", conv.LastMessage.ID)
}

func TestCloneIsDeep(t *testing.T) {
	conv, err := NewConversation(CreateConversationParams{
		ID:           "conv",
		Participants: []Participant{User("a"), User("b")},
		Now:          base,
	})
	require.NoError(t, err)

	cp := conv.Clone()
	cp.SetUnread("a", 5)
	assert.Equal(t, 0, conv.UnreadFor("a"))
}

func TestIdentity(t *testing.T) {
	var personal Identity = Personal{UserID: "u1"}
	var company Identity = Company{CompanyID: "c1", OperatorID: "u1"}

	assert.Equal(t, User("u1"), personal.Participant())
	assert.Equal(t, CompanyParticipant("c1"), company.Participant())
	assert.Equal(t, "u1", company.PersonalUserID())
	assert.False(t, SameIdentity(personal, company))
	assert.True(t, SameIdentity(company, Company{CompanyID: "c1"}))
}
