// Package store defines the backing relational store boundary and its
// implementations. Every committed write is followed by a change-event
// publication so subscribers observe row-level inserts, updates, and
// deletes; publication failures never fail the write.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/realtime-sync/internal/model"
)

// ChangePublisher receives one event per committed row change. The store is
// the sole serialization point for writes, so per-relation+scope publication
// order matches commit order.
type ChangePublisher interface {
	PublishChange(ctx context.Context, ev model.ChangeEvent) error
}

// NopPublisher discards change events.
type NopPublisher struct{}

// PublishChange implements ChangePublisher.
func (NopPublisher) PublishChange(context.Context, model.ChangeEvent) error { return nil }

// Store is the row CRUD surface of the backing relational store. Writes are
// atomic at row level only; multi-row operations compose compensation at the
// pipeline layer.
type Store interface {
	CreateConversation(ctx context.Context, conv model.Conversation) error
	GetConversation(ctx context.Context, id string) (model.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	AddParticipant(ctx context.Context, p model.Participant) error
	RemoveParticipant(ctx context.Context, conversationID, userID string) error
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ListParticipants(ctx context.Context, conversationID string) ([]model.Participant, error)

	InsertMessage(ctx context.Context, msg model.Message) error
	GetMessage(ctx context.Context, id string) (model.Message, error)
	UpdateMessage(ctx context.Context, id string, patch model.MessagePatch) (model.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error)

	InsertReaction(ctx context.Context, r model.Reaction) error
	DeleteReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	ListReactions(ctx context.Context, messageID string) ([]model.Reaction, error)

	UpsertReactionAggregate(ctx context.Context, agg model.ReactionAggregate) error
	GetReactionAggregate(ctx context.Context, messageID string) (model.ReactionAggregate, error)

	InsertNotification(ctx context.Context, n model.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID string) error
}

// newChangeEvent builds the event envelope for a committed row change.
func newChangeEvent(relation model.Relation, kind model.ChangeKind, scope string, payload any) model.ChangeEvent {
	data, _ := json.Marshal(payload)
	return model.ChangeEvent{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Relation:    relation,
		Kind:        kind,
		Scope:       scope,
		Payload:     data,
		CommittedAt: time.Now().UTC(),
	}
}
