package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/realtime-sync/internal/errs"
)

type stubMembership struct {
	members map[string]bool
	err     error
}

func (s stubMembership) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.members[conversationID+":"+userID], nil
}

func TestAssertParticipantAllowsMember(t *testing.T) {
	gate := NewGate(stubMembership{members: map[string]bool{"conv-1:user-1": true}})

	assert.NoError(t, gate.AssertParticipant(context.Background(), "conv-1", "user-1"))
}

func TestAssertParticipantDeniesNonMember(t *testing.T) {
	gate := NewGate(stubMembership{members: map[string]bool{}})

	err := gate.AssertParticipant(context.Background(), "conv-1", "user-1")
	assert.ErrorIs(t, err, errs.ErrNotAuthorized)
}

func TestAssertParticipantStoreFailureIsNotDenial(t *testing.T) {
	cause := errs.Transient("membership query", errors.New("connection refused"))
	gate := NewGate(stubMembership{err: cause})

	err := gate.AssertParticipant(context.Background(), "conv-1", "user-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errs.ErrNotAuthorized, "transient failures must not read as denials")
	assert.ErrorIs(t, err, errs.ErrTransientStore)
}

func TestIsParticipantPassthrough(t *testing.T) {
	gate := NewGate(stubMembership{members: map[string]bool{"conv-1:user-1": true}})

	ok, err := gate.IsParticipant(context.Background(), "conv-1", "user-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = gate.IsParticipant(context.Background(), "conv-1", "user-2")
	require.NoError(t, err)
	assert.False(t, ok)
}
