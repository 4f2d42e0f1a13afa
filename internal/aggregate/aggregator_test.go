package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/realtime-sync/internal/model"
	"github.com/capitalize-ai/realtime-sync/internal/store"
	"github.com/capitalize-ai/realtime-sync/pkg/logger"
)

func reaction(userID, emoji string) model.Reaction {
	return model.Reaction{
		MessageID: "msg-1",
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: time.Now().UTC(),
	}
}

func TestFoldEmpty(t *testing.T) {
	agg := Fold("msg-1", nil)

	assert.Equal(t, "msg-1", agg.MessageID)
	assert.Empty(t, agg.Counts)
	assert.False(t, agg.ComputedAt.IsZero())
}

func TestFoldGroupsByEmoji(t *testing.T) {
	rows := []model.Reaction{
		reaction("user-1", "👍"),
		reaction("user-2", "👍"),
		reaction("user-1", "❤️"),
	}

	agg := Fold("msg-1", rows)

	require.Len(t, agg.Counts, 2)
	assert.Equal(t, 2, agg.Counts["👍"].Count)
	assert.Equal(t, []string{"user-1", "user-2"}, agg.Counts["👍"].UserIDs)
	assert.Equal(t, 1, agg.Counts["❤️"].Count)
	assert.Equal(t, []string{"user-1"}, agg.Counts["❤️"].UserIDs)
}

func TestFoldCountMatchesUserIDs(t *testing.T) {
	rows := []model.Reaction{
		reaction("user-1", "👍"),
		reaction("user-2", "👍"),
		reaction("user-3", "🎉"),
	}

	agg := Fold("msg-1", rows)

	for emoji, ec := range agg.Counts {
		assert.Equal(t, ec.Count, len(ec.UserIDs), "count mismatch for %s", emoji)
	}
}

func TestFoldPreservesInsertionOrder(t *testing.T) {
	rows := []model.Reaction{
		reaction("user-3", "👍"),
		reaction("user-1", "👍"),
		reaction("user-2", "👍"),
	}

	agg := Fold("msg-1", rows)

	assert.Equal(t, []string{"user-3", "user-1", "user-2"}, agg.Counts["👍"].UserIDs)
}

func TestRecomputeReplacesAggregate(t *testing.T) {
	st := store.NewMemoryStore(nil, logger.NewNop())
	agg := NewAggregator(st, logger.NewNop())
	ctx := context.Background()

	require.NoError(t, st.InsertMessage(ctx, model.Message{ID: "msg-1", ConversationID: "conv-1"}))
	require.NoError(t, st.InsertReaction(ctx, reaction("user-1", "👍")))
	require.NoError(t, st.InsertReaction(ctx, reaction("user-2", "👍")))

	result := agg.Recompute(ctx, "msg-1")
	assert.Equal(t, 2, result.Counts["👍"].Count)

	stored, err := st.GetReactionAggregate(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, result.Counts, stored.Counts)

	// Remove one row; the next recompute fully replaces, never decrements.
	removed, err := st.DeleteReaction(ctx, "msg-1", "user-1", "👍")
	require.NoError(t, err)
	require.True(t, removed)

	result = agg.Recompute(ctx, "msg-1")
	assert.Equal(t, 1, result.Counts["👍"].Count)
	assert.Equal(t, []string{"user-2"}, result.Counts["👍"].UserIDs)
}

func TestRecomputeNeverFailsCaller(t *testing.T) {
	stored := model.ReactionAggregate{
		MessageID: "msg-1",
		Counts: map[string]model.EmojiCount{
			"👍": {Count: 2, UserIDs: []string{"user-1", "user-2"}},
		},
	}

	mockStore := new(store.MockStore)
	mockStore.On("ListReactions", mock.Anything, "msg-1").
		Return([]model.Reaction{}, errors.New("connection reset"))
	mockStore.On("GetReactionAggregate", mock.Anything, "msg-1").
		Return(stored, nil)

	agg := NewAggregator(mockStore, logger.NewNop())

	result := agg.Recompute(context.Background(), "msg-1")

	assert.Equal(t, stored.Counts, result.Counts,
		"a failed recompute returns the last stored aggregate, not zero counts")
	mockStore.AssertExpectations(t)
}

func TestRecomputeListAndStoredFetchFailReturnsEmpty(t *testing.T) {
	mockStore := new(store.MockStore)
	mockStore.On("ListReactions", mock.Anything, "msg-1").
		Return([]model.Reaction{}, errors.New("connection reset"))
	mockStore.On("GetReactionAggregate", mock.Anything, "msg-1").
		Return(model.ReactionAggregate{}, errors.New("connection reset"))

	agg := NewAggregator(mockStore, logger.NewNop())

	result := agg.Recompute(context.Background(), "msg-1")

	assert.Equal(t, "msg-1", result.MessageID)
	assert.Empty(t, result.Counts)
	mockStore.AssertExpectations(t)
}

func TestRecomputeUpsertFailureStillReturnsFold(t *testing.T) {
	mockStore := new(store.MockStore)
	mockStore.On("ListReactions", mock.Anything, "msg-1").
		Return([]model.Reaction{reaction("user-1", "👍")}, nil)
	mockStore.On("UpsertReactionAggregate", mock.Anything, mock.Anything).
		Return(errors.New("write timeout"))

	agg := NewAggregator(mockStore, logger.NewNop())

	result := agg.Recompute(context.Background(), "msg-1")

	assert.Equal(t, 1, result.Counts["👍"].Count)
	mockStore.AssertExpectations(t)
}
