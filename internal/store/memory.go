package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-sync/internal/errs"
	"github.com/capitalize-ai/realtime-sync/internal/model"
	"github.com/capitalize-ai/realtime-sync/pkg/logger"
)

// MemoryStore is an in-memory Store used for tests and local development.
type MemoryStore struct {
	publisher ChangePublisher
	logger    *logger.Logger

	mu            sync.RWMutex
	conversations map[string]model.Conversation
	participants  map[string][]model.Participant       // conversationID -> rows
	messages      map[string]model.Message             // messageID -> row
	messageOrder  map[string][]string                  // conversationID -> messageIDs in insert order
	reactions     map[string][]model.Reaction          // messageID -> rows in insert order
	aggregates    map[string]model.ReactionAggregate   // messageID -> row
	notifications map[string][]model.Notification      // userID -> rows in insert order
}

// NewMemoryStore creates an in-memory store publishing change events to pub.
func NewMemoryStore(pub ChangePublisher, log *logger.Logger) *MemoryStore {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &MemoryStore{
		publisher:     pub,
		logger:        log,
		conversations: make(map[string]model.Conversation),
		participants:  make(map[string][]model.Participant),
		messages:      make(map[string]model.Message),
		messageOrder:  make(map[string][]string),
		reactions:     make(map[string][]model.Reaction),
		aggregates:    make(map[string]model.ReactionAggregate),
		notifications: make(map[string][]model.Notification),
	}
}

func (s *MemoryStore) publish(ctx context.Context, ev model.ChangeEvent) {
	if err := s.publisher.PublishChange(ctx, ev); err != nil && s.logger != nil {
		s.logger.Warn("change event publish failed",
			zap.String("relation", string(ev.Relation)),
			zap.String("scope", ev.Scope),
			zap.Error(err),
		)
	}
}

// CreateConversation inserts a conversation row.
func (s *MemoryStore) CreateConversation(ctx context.Context, conv model.Conversation) error {
	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()
	return nil
}

// GetConversation fetches a conversation row by id.
func (s *MemoryStore) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	s.mu.RLock()
	conv, ok := s.conversations[id]
	s.mu.RUnlock()
	if !ok {
		return model.Conversation{}, errs.NotFound("conversation %s", id)
	}
	return conv, nil
}

// DeleteConversation removes the conversation and its participant rows. Used
// as the compensating action when participant attachment fails partway.
func (s *MemoryStore) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.conversations, id)
	delete(s.participants, id)
	s.mu.Unlock()
	return nil
}

// AddParticipant inserts a participant row. Inserting an existing pair is a
// no-op success.
func (s *MemoryStore) AddParticipant(ctx context.Context, p model.Participant) error {
	s.mu.Lock()
	for _, existing := range s.participants[p.ConversationID] {
		if existing.UserID == p.UserID {
			s.mu.Unlock()
			return nil
		}
	}
	s.participants[p.ConversationID] = append(s.participants[p.ConversationID], p)
	s.mu.Unlock()

	s.publish(ctx, newChangeEvent(model.RelationParticipants, model.ChangeInsert, p.ConversationID, p))
	return nil
}

// RemoveParticipant deletes a participant row. Missing rows are a no-op.
func (s *MemoryStore) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	s.mu.Lock()
	rows := s.participants[conversationID]
	var removed *model.Participant
	for i, p := range rows {
		if p.UserID == userID {
			removed = &rows[i]
			s.participants[conversationID] = append(rows[:i:i], rows[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if removed != nil {
		s.publish(ctx, newChangeEvent(model.RelationParticipants, model.ChangeDelete, conversationID, *removed))
	}
	return nil
}

// IsParticipant is the membership point query used by the authorization gate.
func (s *MemoryStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.participants[conversationID] {
		if p.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

// ListParticipants returns all participant rows for a conversation.
func (s *MemoryStore) ListParticipants(ctx context.Context, conversationID string) ([]model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.participants[conversationID]
	out := make([]model.Participant, len(rows))
	copy(out, rows)
	return out, nil
}

// InsertMessage inserts a message row.
func (s *MemoryStore) InsertMessage(ctx context.Context, msg model.Message) error {
	s.mu.Lock()
	s.messages[msg.ID] = msg
	s.messageOrder[msg.ConversationID] = append(s.messageOrder[msg.ConversationID], msg.ID)
	s.mu.Unlock()

	s.publish(ctx, newChangeEvent(model.RelationMessages, model.ChangeInsert, msg.ConversationID, msg))
	return nil
}

// GetMessage fetches a message row by id.
func (s *MemoryStore) GetMessage(ctx context.Context, id string) (model.Message, error) {
	s.mu.RLock()
	msg, ok := s.messages[id]
	s.mu.RUnlock()
	if !ok {
		return model.Message{}, errs.NotFound("message %s", id)
	}
	return msg, nil
}

// UpdateMessage applies a patch to the mutable message fields.
func (s *MemoryStore) UpdateMessage(ctx context.Context, id string, patch model.MessagePatch) (model.Message, error) {
	s.mu.Lock()
	msg, ok := s.messages[id]
	if !ok {
		s.mu.Unlock()
		return model.Message{}, errs.NotFound("message %s", id)
	}
	if patch.IsLiked != nil {
		msg.IsLiked = *patch.IsLiked
	}
	if patch.IsSaved != nil {
		msg.IsSaved = *patch.IsSaved
	}
	if patch.Transcription != nil {
		msg.Transcription = patch.Transcription
	}
	if patch.TranscriptionStatus != nil {
		msg.TranscriptionStatus = *patch.TranscriptionStatus
	}
	msg.UpdatedAt = time.Now().UTC()
	s.messages[id] = msg
	s.mu.Unlock()

	s.publish(ctx, newChangeEvent(model.RelationMessages, model.ChangeUpdate, msg.ConversationID, msg))
	return msg, nil
}

// ListMessages returns messages for a conversation in insertion order.
func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.messageOrder[conversationID]
	if offset > len(ids) {
		offset = len(ids)
	}
	end := offset + limit
	if limit <= 0 || end > len(ids) {
		end = len(ids)
	}

	out := make([]model.Message, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, s.messages[id])
	}
	return out, nil
}

// InsertReaction inserts a reaction row, enforcing the unique
// (message, user, emoji) constraint.
func (s *MemoryStore) InsertReaction(ctx context.Context, r model.Reaction) error {
	s.mu.Lock()
	for _, existing := range s.reactions[r.MessageID] {
		if existing.UserID == r.UserID && existing.Emoji == r.Emoji {
			s.mu.Unlock()
			return errs.ErrDuplicateReaction
		}
	}
	s.reactions[r.MessageID] = append(s.reactions[r.MessageID], r)
	s.mu.Unlock()

	scope := s.scopeForMessage(r.MessageID)
	s.publish(ctx, newChangeEvent(model.RelationReactions, model.ChangeInsert, scope, r))
	return nil
}

// DeleteReaction removes a reaction row, reporting whether one existed.
func (s *MemoryStore) DeleteReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	s.mu.Lock()
	rows := s.reactions[messageID]
	var removed *model.Reaction
	for i, r := range rows {
		if r.UserID == userID && r.Emoji == emoji {
			removed = &rows[i]
			s.reactions[messageID] = append(rows[:i:i], rows[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if removed == nil {
		return false, nil
	}
	scope := s.scopeForMessage(messageID)
	s.publish(ctx, newChangeEvent(model.RelationReactions, model.ChangeDelete, scope, *removed))
	return true, nil
}

// ListReactions returns reaction rows for a message in insertion order.
func (s *MemoryStore) ListReactions(ctx context.Context, messageID string) ([]model.Reaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.reactions[messageID]
	out := make([]model.Reaction, len(rows))
	copy(out, rows)
	return out, nil
}

// UpsertReactionAggregate replaces the aggregate row for a message.
// Concurrent recomputes are safe: each write is a full replace, so the last
// writer wins and the next recompute self-heals a stale materialization.
func (s *MemoryStore) UpsertReactionAggregate(ctx context.Context, agg model.ReactionAggregate) error {
	s.mu.Lock()
	s.aggregates[agg.MessageID] = agg
	s.mu.Unlock()

	scope := s.scopeForMessage(agg.MessageID)
	s.publish(ctx, newChangeEvent(model.RelationAggregates, model.ChangeUpdate, scope, agg))
	return nil
}

// GetReactionAggregate fetches the aggregate row for a message. A message
// with no reactions yet has an empty aggregate, not a missing one.
func (s *MemoryStore) GetReactionAggregate(ctx context.Context, messageID string) (model.ReactionAggregate, error) {
	s.mu.RLock()
	agg, ok := s.aggregates[messageID]
	s.mu.RUnlock()
	if !ok {
		return model.ReactionAggregate{
			MessageID: messageID,
			Counts:    map[string]model.EmojiCount{},
		}, nil
	}
	return agg, nil
}

// InsertNotification inserts a notification row.
func (s *MemoryStore) InsertNotification(ctx context.Context, n model.Notification) error {
	s.mu.Lock()
	s.notifications[n.TargetUserID] = append(s.notifications[n.TargetUserID], n)
	s.mu.Unlock()

	s.publish(ctx, newChangeEvent(model.RelationNotifications, model.ChangeInsert, n.TargetUserID, n))
	return nil
}

// ListNotifications returns a user's notifications, newest first.
func (s *MemoryStore) ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.notifications[userID]
	out := make([]model.Notification, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, rows[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkNotificationRead sets the read flag on a user's notification.
func (s *MemoryStore) MarkNotificationRead(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	rows := s.notifications[userID]
	var updated *model.Notification
	for i := range rows {
		if rows[i].ID == id {
			rows[i].Read = true
			updated = &rows[i]
			break
		}
	}
	s.mu.Unlock()

	if updated == nil {
		return errs.NotFound("notification %s", id)
	}
	s.publish(ctx, newChangeEvent(model.RelationNotifications, model.ChangeUpdate, userID, *updated))
	return nil
}

// scopeForMessage resolves the conversation scope a reaction or aggregate
// event is published under.
func (s *MemoryStore) scopeForMessage(messageID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if msg, ok := s.messages[messageID]; ok {
		return msg.ConversationID
	}
	return messageID
}
