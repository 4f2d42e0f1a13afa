// Package pipeline orchestrates multi-step conversation mutations: every
// write re-checks membership through the authorization gate immediately
// before touching the store, and multi-row creation compensates on partial
// failure. The store is the sole serialization point; nothing here holds
// shared-memory locks.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-sync/internal/aggregate"
	"github.com/capitalize-ai/realtime-sync/internal/authz"
	"github.com/capitalize-ai/realtime-sync/internal/errs"
	"github.com/capitalize-ai/realtime-sync/internal/model"
	"github.com/capitalize-ai/realtime-sync/internal/store"
	"github.com/capitalize-ai/realtime-sync/pkg/logger"
	"github.com/capitalize-ai/realtime-sync/pkg/metrics"
)

const maxContentLength = 100000

// Pipeline is the ConversationMutationPipeline.
type Pipeline struct {
	store      store.Store
	gate       *authz.Gate
	aggregator *aggregate.Aggregator
	logger     *logger.Logger
}

// New creates a mutation pipeline.
func New(st store.Store, gate *authz.Gate, agg *aggregate.Aggregator, log *logger.Logger) *Pipeline {
	return &Pipeline{
		store:      st,
		gate:       gate,
		aggregator: agg,
		logger:     log,
	}
}

// CreateConversation creates the conversation row, then attaches all
// participants. If participant attachment fails partway, the just-created
// conversation is deleted (compensating action) and the call fails with
// ErrCreateFailed, never leaving a partial participant set behind. Not
// idempotent across retries: calling twice creates two conversations.
func (p *Pipeline) CreateConversation(ctx context.Context, participantIDs []string) (*model.ConversationResponse, error) {
	ids := dedupe(participantIDs)
	if len(ids) == 0 {
		metrics.RecordMutation("create_conversation", "validation_error")
		return nil, errs.Validation("participant set is empty")
	}

	now := time.Now().UTC()
	conv := model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := p.store.CreateConversation(ctx, conv); err != nil {
		metrics.RecordMutation("create_conversation", "error")
		return nil, err
	}

	participants := make([]model.Participant, 0, len(ids))
	for _, userID := range ids {
		participant := model.Participant{
			ConversationID: conv.ID,
			UserID:         userID,
			CreatedAt:      now,
		}
		if err := p.store.AddParticipant(ctx, participant); err != nil {
			p.compensateCreate(ctx, conv.ID, err)
			metrics.RecordMutation("create_conversation", "compensated")
			return nil, fmt.Errorf("%w: attaching participant %s: %v", errs.ErrCreateFailed, userID, err)
		}
		participants = append(participants, participant)
	}

	p.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.Int("participants", len(participants)),
	)
	metrics.RecordMutation("create_conversation", "ok")

	return &model.ConversationResponse{Conversation: conv, Participants: participants}, nil
}

// compensateCreate removes the conversation and any participant rows
// attached so far. The delete cascades over participants, so no partial
// state survives even when compensation interleaves with the failure.
func (p *Pipeline) compensateCreate(ctx context.Context, conversationID string, cause error) {
	if err := p.store.DeleteConversation(ctx, conversationID); err != nil {
		p.logger.Error("compensating delete failed, conversation may be orphaned",
			zap.String("conversation_id", conversationID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	p.logger.Warn("conversation creation compensated",
		zap.String("conversation_id", conversationID),
		zap.NamedError("cause", cause),
	)
}

// AddParticipant attaches a user to an existing conversation. The acting
// user must be a current participant.
func (p *Pipeline) AddParticipant(ctx context.Context, conversationID, actingUserID, userID string) error {
	if err := p.gate.AssertParticipant(ctx, conversationID, actingUserID); err != nil {
		metrics.RecordMutation("add_participant", "denied")
		return err
	}
	if _, err := p.store.GetConversation(ctx, conversationID); err != nil {
		return err
	}

	err := p.store.AddParticipant(ctx, model.Participant{
		ConversationID: conversationID,
		UserID:         userID,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		metrics.RecordMutation("add_participant", "error")
		return err
	}
	metrics.RecordMutation("add_participant", "ok")
	return nil
}

// RemoveParticipant detaches a user from a conversation. Authorization is
// evaluated at call time against current membership only, so the removed
// user loses access immediately, including to history.
func (p *Pipeline) RemoveParticipant(ctx context.Context, conversationID, actingUserID, userID string) error {
	if err := p.gate.AssertParticipant(ctx, conversationID, actingUserID); err != nil {
		metrics.RecordMutation("remove_participant", "denied")
		return err
	}

	if err := p.store.RemoveParticipant(ctx, conversationID, userID); err != nil {
		metrics.RecordMutation("remove_participant", "error")
		return err
	}
	metrics.RecordMutation("remove_participant", "ok")
	return nil
}

// SendMessage validates the content, re-checks membership, and inserts the
// message row. The change stream delivers the insert to subscribers
// asynchronously; a successful return does not mean subscribers have
// observed it yet. Notification fan-out to the other participants is
// best-effort and never fails the send.
func (p *Pipeline) SendMessage(ctx context.Context, conversationID, senderID string, req *model.SendMessageRequest) (*model.Message, error) {
	if err := validateContent(req.Content); err != nil {
		metrics.RecordMutation("send_message", "validation_error")
		return nil, err
	}

	if err := p.gate.AssertParticipant(ctx, conversationID, senderID); err != nil {
		metrics.RecordMutation("send_message", "denied")
		return nil, err
	}

	now := time.Now().UTC()
	msg := model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        req.Content,
		MediaKey:       req.MediaKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := p.store.InsertMessage(ctx, msg); err != nil {
		metrics.RecordMutation("send_message", "error")
		return nil, err
	}

	p.notifyParticipants(ctx, msg)
	metrics.RecordMutation("send_message", "ok")
	return &msg, nil
}

// UpdateMessage resolves the message's conversation, re-checks membership
// for the acting user, and applies the patch. Flag mutation is scoped to
// conversation membership, not authorship.
func (p *Pipeline) UpdateMessage(ctx context.Context, messageID, actingUserID string, patch model.MessagePatch) (*model.Message, error) {
	if patch.IsZero() {
		metrics.RecordMutation("update_message", "validation_error")
		return nil, errs.Validation("empty patch")
	}

	msg, err := p.store.GetMessage(ctx, messageID)
	if err != nil {
		metrics.RecordMutation("update_message", "not_found")
		return nil, err
	}

	if err := p.gate.AssertParticipant(ctx, msg.ConversationID, actingUserID); err != nil {
		metrics.RecordMutation("update_message", "denied")
		return nil, err
	}

	updated, err := p.store.UpdateMessage(ctx, messageID, patch)
	if err != nil {
		metrics.RecordMutation("update_message", "error")
		return nil, err
	}
	metrics.RecordMutation("update_message", "ok")
	return &updated, nil
}

// AddReaction inserts the reaction row and synchronously recomputes the
// aggregate before returning, so the caller's read-after-write of the
// aggregate is consistent ahead of the async event round-trip. Adding an
// existing (message, user, emoji) fails with ErrDuplicateReaction.
func (p *Pipeline) AddReaction(ctx context.Context, messageID, userID, emoji string) (*model.ReactionAggregate, error) {
	if strings.TrimSpace(emoji) == "" {
		metrics.RecordMutation("add_reaction", "validation_error")
		return nil, errs.Validation("emoji is empty")
	}

	msg, err := p.store.GetMessage(ctx, messageID)
	if err != nil {
		metrics.RecordMutation("add_reaction", "not_found")
		return nil, err
	}
	if err := p.gate.AssertParticipant(ctx, msg.ConversationID, userID); err != nil {
		metrics.RecordMutation("add_reaction", "denied")
		return nil, err
	}

	if err := p.store.InsertReaction(ctx, model.Reaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		metrics.RecordMutation("add_reaction", "error")
		return nil, err
	}

	agg := p.aggregator.Recompute(ctx, messageID)
	metrics.RecordMutation("add_reaction", "ok")
	return &agg, nil
}

// RemoveReaction deletes the reaction row if present; removing a reaction
// that does not exist is a no-op success. Either way the aggregate is
// recomputed synchronously.
func (p *Pipeline) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (*model.ReactionAggregate, error) {
	msg, err := p.store.GetMessage(ctx, messageID)
	if err != nil {
		metrics.RecordMutation("remove_reaction", "not_found")
		return nil, err
	}
	if err := p.gate.AssertParticipant(ctx, msg.ConversationID, userID); err != nil {
		metrics.RecordMutation("remove_reaction", "denied")
		return nil, err
	}

	if _, err := p.store.DeleteReaction(ctx, messageID, userID, emoji); err != nil {
		metrics.RecordMutation("remove_reaction", "error")
		return nil, err
	}

	agg := p.aggregator.Recompute(ctx, messageID)
	metrics.RecordMutation("remove_reaction", "ok")
	return &agg, nil
}

// ListMessages returns messages for a conversation, membership-gated. Used
// by clients reconciling after a delivery gap.
func (p *Pipeline) ListMessages(ctx context.Context, conversationID, actingUserID string, limit, offset int) ([]model.Message, error) {
	if err := p.gate.AssertParticipant(ctx, conversationID, actingUserID); err != nil {
		return nil, err
	}
	return p.store.ListMessages(ctx, conversationID, limit, offset)
}

// GetConversation returns a conversation and its participants,
// membership-gated.
func (p *Pipeline) GetConversation(ctx context.Context, conversationID, actingUserID string) (*model.ConversationResponse, error) {
	if err := p.gate.AssertParticipant(ctx, conversationID, actingUserID); err != nil {
		return nil, err
	}
	conv, err := p.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	participants, err := p.store.ListParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return &model.ConversationResponse{Conversation: conv, Participants: participants}, nil
}

// GetMessage returns a single message, membership-gated.
func (p *Pipeline) GetMessage(ctx context.Context, messageID, actingUserID string) (*model.Message, error) {
	msg, err := p.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := p.gate.AssertParticipant(ctx, msg.ConversationID, actingUserID); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetReactionAggregate returns the current aggregate for a message,
// membership-gated.
func (p *Pipeline) GetReactionAggregate(ctx context.Context, messageID, actingUserID string) (*model.ReactionAggregate, error) {
	msg, err := p.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := p.gate.AssertParticipant(ctx, msg.ConversationID, actingUserID); err != nil {
		return nil, err
	}
	agg, err := p.store.GetReactionAggregate(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

// ListNotifications returns the caller's notification inbox, newest first,
// with the unread count across the returned page.
func (p *Pipeline) ListNotifications(ctx context.Context, userID string, limit int) (*model.ListNotificationsResponse, error) {
	notifications, err := p.store.ListNotifications(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	unread := 0
	for _, n := range notifications {
		if !n.Read {
			unread++
		}
	}
	return &model.ListNotificationsResponse{Notifications: notifications, Unread: unread}, nil
}

// MarkNotificationRead marks one of the caller's notifications as read.
func (p *Pipeline) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	if err := p.store.MarkNotificationRead(ctx, notificationID, userID); err != nil {
		metrics.RecordMutation("mark_notification_read", "error")
		return err
	}
	metrics.RecordMutation("mark_notification_read", "ok")
	return nil
}

// notifyParticipants inserts notification rows for the other participants.
// Failures are logged, never surfaced to the sender.
func (p *Pipeline) notifyParticipants(ctx context.Context, msg model.Message) {
	participants, err := p.store.ListParticipants(ctx, msg.ConversationID)
	if err != nil {
		p.logger.Warn("notification fan-out skipped",
			zap.String("conversation_id", msg.ConversationID),
			zap.Error(err),
		)
		return
	}

	for _, participant := range participants {
		if participant.UserID == msg.SenderID {
			continue
		}
		notification := model.Notification{
			ID:             uuid.Must(uuid.NewV7()).String(),
			TargetUserID:   participant.UserID,
			Kind:           model.NotificationMessage,
			Body:           "New message",
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			CreatedAt:      time.Now().UTC(),
		}
		if err := p.store.InsertNotification(ctx, notification); err != nil {
			p.logger.Warn("notification insert failed",
				zap.String("target_user_id", participant.UserID),
				zap.Error(err),
			)
		}
	}
}

func validateContent(content string) error {
	if len(content) == 0 {
		return errs.Validation("content cannot be empty")
	}
	if len(content) > maxContentLength {
		return errs.Validation("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errs.Validation("content must be valid UTF-8")
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
