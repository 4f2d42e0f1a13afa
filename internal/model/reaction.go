package model

import (
	"time"
)

// Reaction is a single (message, user, emoji) row. A user may react to a
// message with a given emoji at most once; rows are created and destroyed,
// never updated in place.
type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// EmojiCount is the per-emoji slot of the materialized aggregate: the count
// and the reacting users in row insertion order.
type EmojiCount struct {
	Count   int      `json:"count"`
	UserIDs []string `json:"user_ids"`
}

// ReactionAggregate is the derived, eventually-consistent materialization of
// all Reaction rows for one message, keyed by message. Rebuilt wholesale on
// every add/remove, never patched incrementally, so redelivery and
// reordering cannot make it drift.
type ReactionAggregate struct {
	MessageID  string                `json:"message_id"`
	Counts     map[string]EmojiCount `json:"counts"`
	ComputedAt time.Time             `json:"computed_at"`
}

// Emojis returns the emoji keys present in the aggregate.
func (a ReactionAggregate) Emojis() []string {
	keys := make([]string, 0, len(a.Counts))
	for e := range a.Counts {
		keys = append(keys, e)
	}
	return keys
}

// ReactionRequest is the request to add or remove a reaction.
type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

// ReactionResponse returns the aggregate state after a reaction mutation,
// consistent with the caller's own write.
type ReactionResponse struct {
	Aggregate ReactionAggregate `json:"aggregate"`
}
