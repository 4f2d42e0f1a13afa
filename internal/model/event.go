package model

import (
	"encoding/json"
	"time"
)

// Relation names a synchronized relation in the backing store.
type Relation string

const (
	RelationMessages      Relation = "messages"
	RelationReactions     Relation = "reactions"
	RelationAggregates    Relation = "reaction_aggregates"
	RelationParticipants  Relation = "participants"
	RelationUsers         Relation = "users"
	RelationNotifications Relation = "notifications"
)

// ChangeKind classifies a change-stream notification.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"

	// ChangeResync is a synthetic marker delivered after a transport
	// reconnect. Events emitted during the gap were not replayed; the
	// subscriber must reconcile by re-fetching current state.
	ChangeResync ChangeKind = "resync"
)

// ChangeEvent is a typed change-stream notification for one committed row
// change, scoped by the filter value it was published under (conversation id
// for conversation-scoped relations, user id for notifications).
type ChangeEvent struct {
	ID          string          `json:"id"`
	Relation    Relation        `json:"relation"`
	Kind        ChangeKind      `json:"kind"`
	Scope       string          `json:"scope"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CommittedAt time.Time       `json:"committed_at"`
}

// DecodePayload unmarshals the event payload into v.
func (e ChangeEvent) DecodePayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}
