// Package aggregate maintains the per-message reaction materialization.
package aggregate

import (
	"context"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-sync/internal/model"
	"github.com/capitalize-ai/realtime-sync/pkg/logger"
	"github.com/capitalize-ai/realtime-sync/pkg/metrics"
)

// ReactionStore is the slice of the store the aggregator needs.
type ReactionStore interface {
	ListReactions(ctx context.Context, messageID string) ([]model.Reaction, error)
	GetReactionAggregate(ctx context.Context, messageID string) (model.ReactionAggregate, error)
	UpsertReactionAggregate(ctx context.Context, agg model.ReactionAggregate) error
}

// Aggregator rebuilds the per-emoji count and userIDs materialization for a
// message. Every rebuild is wholesale, never an incremental patch: a full
// replace tolerates redelivery and reordering without drift, and a stale
// write from a racing recompute is corrected by the next one.
type Aggregator struct {
	store  ReactionStore
	logger *logger.Logger
}

// NewAggregator creates an aggregator over a reaction store.
func NewAggregator(store ReactionStore, log *logger.Logger) *Aggregator {
	return &Aggregator{store: store, logger: log}
}

// Recompute reads all reaction rows for a message, folds them, and replaces
// the aggregate row. It never fails the caller: the aggregate is a read
// optimization, so failures are logged, the stale row stays in place until
// the next successful recompute, and the stale row is what gets returned.
func (a *Aggregator) Recompute(ctx context.Context, messageID string) model.ReactionAggregate {
	rows, err := a.store.ListReactions(ctx, messageID)
	if err != nil {
		a.recomputeFailed(messageID, "list reactions", err)
		return a.stored(ctx, messageID)
	}

	agg := Fold(messageID, rows)

	if err := a.store.UpsertReactionAggregate(ctx, agg); err != nil {
		a.recomputeFailed(messageID, "upsert aggregate", err)
	}
	return agg
}

// Fold groups reaction rows by emoji, counting occurrences and collecting
// user ids in row insertion order.
func Fold(messageID string, rows []model.Reaction) model.ReactionAggregate {
	grouped := lo.GroupBy(rows, func(r model.Reaction) string { return r.Emoji })

	counts := make(map[string]model.EmojiCount, len(grouped))
	for emoji, reactions := range grouped {
		counts[emoji] = model.EmojiCount{
			Count:   len(reactions),
			UserIDs: lo.Map(reactions, func(r model.Reaction, _ int) string { return r.UserID }),
		}
	}

	return model.ReactionAggregate{
		MessageID:  messageID,
		Counts:     counts,
		ComputedAt: time.Now().UTC(),
	}
}

// stored returns the aggregate row as last written, so a failed recompute
// hands the caller the stale-but-real counts rather than an empty set.
func (a *Aggregator) stored(ctx context.Context, messageID string) model.ReactionAggregate {
	agg, err := a.store.GetReactionAggregate(ctx, messageID)
	if err != nil {
		return model.ReactionAggregate{MessageID: messageID, Counts: map[string]model.EmojiCount{}}
	}
	return agg
}

func (a *Aggregator) recomputeFailed(messageID, op string, err error) {
	metrics.AggregateRecomputeFailures.Inc()
	if a.logger != nil {
		a.logger.Warn("reaction aggregate recompute failed",
			zap.String("message_id", messageID),
			zap.String("op", op),
			zap.Error(err),
		)
	}
}
