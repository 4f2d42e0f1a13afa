// Package authz decides conversation membership. Every mutating operation
// re-checks membership immediately before its write; decisions are never
// cached because membership can change concurrently with a send. The
// backing store's own row-level policies remain the defense-in-depth
// backstop behind this gate.
package authz

import (
	"context"

	"github.com/capitalize-ai/realtime-sync/internal/errs"
)

// MembershipStore is the point-query slice of the store the gate needs.
type MembershipStore interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// Gate is the AuthorizationGate.
type Gate struct {
	store MembershipStore
}

// NewGate creates a gate over a membership store.
func NewGate(store MembershipStore) *Gate {
	return &Gate{store: store}
}

// IsParticipant reports whether the user currently holds a participant row
// for the conversation.
func (g *Gate) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	return g.store.IsParticipant(ctx, conversationID, userID)
}

// AssertParticipant fails with ErrNotAuthorized when the user is not a
// current participant. Store failures surface as transient, not as denials.
func (g *Gate) AssertParticipant(ctx context.Context, conversationID, userID string) error {
	ok, err := g.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.NotAuthorized("user %s is not a participant of conversation %s", userID, conversationID)
	}
	return nil
}
