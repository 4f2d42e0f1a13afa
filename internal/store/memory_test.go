package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/realtime-sync/internal/errs"
	"github.com/capitalize-ai/realtime-sync/internal/model"
	"github.com/capitalize-ai/realtime-sync/pkg/logger"
)

// capturePublisher records every change event the store emits.
type capturePublisher struct {
	mu     sync.Mutex
	events []model.ChangeEvent
}

func (p *capturePublisher) PublishChange(ctx context.Context, ev model.ChangeEvent) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *capturePublisher) byRelation(relation model.Relation) []model.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.ChangeEvent
	for _, ev := range p.events {
		if ev.Relation == relation {
			out = append(out, ev)
		}
	}
	return out
}

func seedConversation(t *testing.T, s *MemoryStore, convID string, userIDs ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, model.Conversation{ID: convID, CreatedAt: time.Now().UTC()}))
	for _, userID := range userIDs {
		require.NoError(t, s.AddParticipant(ctx, model.Participant{ConversationID: convID, UserID: userID}))
	}
}

func TestGetConversationNotFound(t *testing.T) {
	s := NewMemoryStore(nil, logger.NewNop())
	_, err := s.GetConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestParticipantMembership(t *testing.T) {
	s := NewMemoryStore(nil, logger.NewNop())
	ctx := context.Background()
	seedConversation(t, s, "conv-1", "user-1")

	ok, err := s.IsParticipant(ctx, "conv-1", "user-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsParticipant(ctx, "conv-1", "user-2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RemoveParticipant(ctx, "conv-1", "user-1"))
	ok, err = s.IsParticipant(ctx, "conv-1", "user-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddParticipantIdempotent(t *testing.T) {
	s := NewMemoryStore(nil, logger.NewNop())
	ctx := context.Background()
	seedConversation(t, s, "conv-1", "user-1")

	require.NoError(t, s.AddParticipant(ctx, model.Participant{ConversationID: "conv-1", UserID: "user-1"}))

	participants, err := s.ListParticipants(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, participants, 1)
}

func TestDeleteConversationCascades(t *testing.T) {
	s := NewMemoryStore(nil, logger.NewNop())
	ctx := context.Background()
	seedConversation(t, s, "conv-1", "user-1", "user-2")

	require.NoError(t, s.DeleteConversation(ctx, "conv-1"))

	participants, err := s.ListParticipants(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, participants, "participant rows go with the conversation")
}

func TestMessageCRUDEmitsChangeEvents(t *testing.T) {
	pub := &capturePublisher{}
	s := NewMemoryStore(pub, logger.NewNop())
	ctx := context.Background()
	seedConversation(t, s, "conv-1", "user-1")

	msg := model.Message{ID: "msg-1", ConversationID: "conv-1", SenderID: "user-1", Content: "hi"}
	require.NoError(t, s.InsertMessage(ctx, msg))

	liked := true
	_, err := s.UpdateMessage(ctx, "msg-1", model.MessagePatch{IsLiked: &liked})
	require.NoError(t, err)

	events := pub.byRelation(model.RelationMessages)
	require.Len(t, events, 2)
	assert.Equal(t, model.ChangeInsert, events[0].Kind)
	assert.Equal(t, model.ChangeUpdate, events[1].Kind)
	assert.Equal(t, "conv-1", events[0].Scope, "message events are scoped by conversation")

	var payload model.Message
	require.NoError(t, events[1].DecodePayload(&payload))
	assert.True(t, payload.IsLiked, "update events carry the new row")
}

func TestListMessagesPagination(t *testing.T) {
	s := NewMemoryStore(nil, logger.NewNop())
	ctx := context.Background()
	seedConversation(t, s, "conv-1", "user-1")

	for _, id := range []string{"msg-1", "msg-2", "msg-3"} {
		require.NoError(t, s.InsertMessage(ctx, model.Message{ID: id, ConversationID: "conv-1", SenderID: "user-1"}))
	}

	page, err := s.ListMessages(ctx, "conv-1", 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "msg-1", page[0].ID)

	page, err = s.ListMessages(ctx, "conv-1", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "msg-3", page[0].ID)

	page, err = s.ListMessages(ctx, "conv-1", 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestInsertReactionUniqueConstraint(t *testing.T) {
	s := NewMemoryStore(nil, logger.NewNop())
	ctx := context.Background()

	r := model.Reaction{MessageID: "msg-1", UserID: "user-1", Emoji: "👍"}
	require.NoError(t, s.InsertReaction(ctx, r))
	assert.ErrorIs(t, s.InsertReaction(ctx, r), errs.ErrDuplicateReaction)

	// A different emoji from the same user is a distinct row.
	r.Emoji = "❤️"
	assert.NoError(t, s.InsertReaction(ctx, r))
}

func TestDeleteReactionReportsExistence(t *testing.T) {
	s := NewMemoryStore(nil, logger.NewNop())
	ctx := context.Background()

	removed, err := s.DeleteReaction(ctx, "msg-1", "user-1", "👍")
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, s.InsertReaction(ctx, model.Reaction{MessageID: "msg-1", UserID: "user-1", Emoji: "👍"}))
	removed, err = s.DeleteReaction(ctx, "msg-1", "user-1", "👍")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestReactionEventsScopedByConversation(t *testing.T) {
	pub := &capturePublisher{}
	s := NewMemoryStore(pub, logger.NewNop())
	ctx := context.Background()
	seedConversation(t, s, "conv-1", "user-1")
	require.NoError(t, s.InsertMessage(ctx, model.Message{ID: "msg-1", ConversationID: "conv-1", SenderID: "user-1"}))

	require.NoError(t, s.InsertReaction(ctx, model.Reaction{MessageID: "msg-1", UserID: "user-1", Emoji: "👍"}))

	events := pub.byRelation(model.RelationReactions)
	require.Len(t, events, 1)
	assert.Equal(t, "conv-1", events[0].Scope)
}

func TestGetReactionAggregateDefaultsEmpty(t *testing.T) {
	s := NewMemoryStore(nil, logger.NewNop())

	agg, err := s.GetReactionAggregate(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", agg.MessageID)
	assert.Empty(t, agg.Counts)
}

func TestNotificationsNewestFirst(t *testing.T) {
	s := NewMemoryStore(nil, logger.NewNop())
	ctx := context.Background()

	for _, id := range []string{"n-1", "n-2", "n-3"} {
		require.NoError(t, s.InsertNotification(ctx, model.Notification{ID: id, TargetUserID: "user-1"}))
	}

	rows, err := s.ListNotifications(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "n-3", rows[0].ID)
	assert.Equal(t, "n-2", rows[1].ID)
}

func TestMarkNotificationRead(t *testing.T) {
	s := NewMemoryStore(nil, logger.NewNop())
	ctx := context.Background()

	require.NoError(t, s.InsertNotification(ctx, model.Notification{ID: "n-1", TargetUserID: "user-1"}))

	require.NoError(t, s.MarkNotificationRead(ctx, "n-1", "user-1"))
	rows, err := s.ListNotifications(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.True(t, rows[0].Read)

	assert.ErrorIs(t, s.MarkNotificationRead(ctx, "n-1", "someone-else"), errs.ErrNotFound)
}

func TestNotificationEventsScopedByUser(t *testing.T) {
	pub := &capturePublisher{}
	s := NewMemoryStore(pub, logger.NewNop())

	require.NoError(t, s.InsertNotification(context.Background(), model.Notification{ID: "n-1", TargetUserID: "user-1"}))

	events := pub.byRelation(model.RelationNotifications)
	require.Len(t, events, 1)
	assert.Equal(t, "user-1", events[0].Scope)
}
