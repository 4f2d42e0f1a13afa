package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-sync/internal/errs"
	"github.com/capitalize-ai/realtime-sync/internal/model"
	"github.com/capitalize-ai/realtime-sync/pkg/logger"
)

const pqUniqueViolation = "23505"

// PostgresStore is the production Store backed by Postgres. Row-level access
// policies in the database remain the defense-in-depth backstop; this layer
// still re-checks membership before every write via the authorization gate.
type PostgresStore struct {
	conn      *sql.DB
	publisher ChangePublisher
	logger    *logger.Logger
}

// NewPostgresStore opens a Postgres connection and verifies it.
func NewPostgresStore(dsn string, pub ChangePublisher, log *logger.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if pub == nil {
		pub = NopPublisher{}
	}
	return &PostgresStore{conn: db, publisher: pub, logger: log}, nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.conn.Close()
}

// Ping verifies connectivity.
func (s *PostgresStore) Ping() error {
	return s.conn.Ping()
}

func (s *PostgresStore) publish(ctx context.Context, ev model.ChangeEvent) {
	if err := s.publisher.PublishChange(ctx, ev); err != nil && s.logger != nil {
		s.logger.Warn("change event publish failed",
			zap.String("relation", string(ev.Relation)),
			zap.String("scope", ev.Scope),
			zap.Error(err),
		)
	}
}

// CreateConversation inserts a conversation row.
func (s *PostgresStore) CreateConversation(ctx context.Context, conv model.Conversation) error {
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO conversations (id, created_at, updated_at) VALUES ($1, $2, $3)",
		conv.ID, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return errs.Transient("create conversation", err)
	}
	return nil
}

// GetConversation fetches a conversation row by id.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT id, created_at, updated_at FROM conversations WHERE id = $1",
		id,
	)

	var conv model.Conversation
	if err := row.Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Conversation{}, errs.NotFound("conversation %s", id)
		}
		return model.Conversation{}, errs.Transient("get conversation", err)
	}
	return conv, nil
}

// DeleteConversation removes a conversation; participant rows cascade.
func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM conversations WHERE id = $1", id); err != nil {
		return errs.Transient("delete conversation", err)
	}
	return nil
}

// AddParticipant inserts a participant row; an existing pair is a no-op.
func (s *PostgresStore) AddParticipant(ctx context.Context, p model.Participant) error {
	res, err := s.conn.ExecContext(ctx,
		"INSERT INTO participants (conversation_id, user_id, created_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (conversation_id, user_id) DO NOTHING",
		p.ConversationID, p.UserID, p.CreatedAt,
	)
	if err != nil {
		return errs.Transient("add participant", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.publish(ctx, newChangeEvent(model.RelationParticipants, model.ChangeInsert, p.ConversationID, p))
	}
	return nil
}

// RemoveParticipant deletes a participant row. Missing rows are a no-op.
func (s *PostgresStore) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	res, err := s.conn.ExecContext(ctx,
		"DELETE FROM participants WHERE conversation_id = $1 AND user_id = $2",
		conversationID, userID,
	)
	if err != nil {
		return errs.Transient("remove participant", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.publish(ctx, newChangeEvent(model.RelationParticipants, model.ChangeDelete, conversationID,
			model.Participant{ConversationID: conversationID, UserID: userID}))
	}
	return nil
}

// IsParticipant is the membership point query used by the authorization gate.
func (s *PostgresStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM participants WHERE conversation_id = $1 AND user_id = $2)",
		conversationID, userID,
	)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, errs.Transient("membership check", err)
	}
	return exists, nil
}

// ListParticipants returns all participant rows for a conversation.
func (s *PostgresStore) ListParticipants(ctx context.Context, conversationID string) ([]model.Participant, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT conversation_id, user_id, created_at FROM participants "+
			"WHERE conversation_id = $1 ORDER BY created_at, user_id",
		conversationID,
	)
	if err != nil {
		return nil, errs.Transient("list participants", err)
	}
	defer rows.Close()

	var out []model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.CreatedAt); err != nil {
			return nil, errs.Transient("list participants", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertMessage inserts a message row.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg model.Message) error {
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO messages (id, conversation_id, sender_id, content, media_key, "+
			"is_liked, is_saved, transcription, transcription_status, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.MediaKey,
		msg.IsLiked, msg.IsSaved, msg.Transcription, msg.TranscriptionStatus,
		msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		return errs.Transient("insert message", err)
	}
	s.publish(ctx, newChangeEvent(model.RelationMessages, model.ChangeInsert, msg.ConversationID, msg))
	return nil
}

// GetMessage fetches a message row by id.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (model.Message, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT id, conversation_id, sender_id, content, media_key, is_liked, is_saved, "+
			"transcription, transcription_status, created_at, updated_at "+
			"FROM messages WHERE id = $1",
		id,
	)
	return scanMessage(row)
}

// UpdateMessage applies a patch to the mutable message fields and returns the
// updated row.
func (s *PostgresStore) UpdateMessage(ctx context.Context, id string, patch model.MessagePatch) (model.Message, error) {
	row := s.conn.QueryRowContext(ctx,
		"UPDATE messages SET "+
			"is_liked = COALESCE($2, is_liked), "+
			"is_saved = COALESCE($3, is_saved), "+
			"transcription = COALESCE($4, transcription), "+
			"transcription_status = COALESCE($5, transcription_status), "+
			"updated_at = $6 "+
			"WHERE id = $1 "+
			"RETURNING id, conversation_id, sender_id, content, media_key, is_liked, is_saved, "+
			"transcription, transcription_status, created_at, updated_at",
		id, patch.IsLiked, patch.IsSaved, patch.Transcription, patch.TranscriptionStatus,
		time.Now().UTC(),
	)

	msg, err := scanMessage(row)
	if err != nil {
		return model.Message{}, err
	}
	s.publish(ctx, newChangeEvent(model.RelationMessages, model.ChangeUpdate, msg.ConversationID, msg))
	return msg, nil
}

// ListMessages returns messages for a conversation in commit order.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.QueryContext(ctx,
		"SELECT id, conversation_id, sender_id, content, media_key, is_liked, is_saved, "+
			"transcription, transcription_status, created_at, updated_at "+
			"FROM messages WHERE conversation_id = $1 ORDER BY created_at, id LIMIT $2 OFFSET $3",
		conversationID, limit, offset,
	)
	if err != nil {
		return nil, errs.Transient("list messages", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// InsertReaction inserts a reaction row. The unique (message, user, emoji)
// constraint maps to ErrDuplicateReaction.
func (s *PostgresStore) InsertReaction(ctx context.Context, r model.Reaction) error {
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO reactions (message_id, user_id, emoji, created_at) VALUES ($1, $2, $3, $4)",
		r.MessageID, r.UserID, r.Emoji, r.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return errs.ErrDuplicateReaction
		}
		return errs.Transient("insert reaction", err)
	}

	s.publish(ctx, newChangeEvent(model.RelationReactions, model.ChangeInsert, s.conversationOf(ctx, r.MessageID), r))
	return nil
}

// DeleteReaction removes a reaction row, reporting whether one existed.
func (s *PostgresStore) DeleteReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		"DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3",
		messageID, userID, emoji,
	)
	if err != nil {
		return false, errs.Transient("delete reaction", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}

	s.publish(ctx, newChangeEvent(model.RelationReactions, model.ChangeDelete, s.conversationOf(ctx, messageID),
		model.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji}))
	return true, nil
}

// ListReactions returns reaction rows for a message in insertion order.
func (s *PostgresStore) ListReactions(ctx context.Context, messageID string) ([]model.Reaction, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT message_id, user_id, emoji, created_at FROM reactions "+
			"WHERE message_id = $1 ORDER BY created_at, user_id",
		messageID,
	)
	if err != nil {
		return nil, errs.Transient("list reactions", err)
	}
	defer rows.Close()

	var out []model.Reaction
	for rows.Next() {
		var r model.Reaction
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, errs.Transient("list reactions", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertReactionAggregate replaces the aggregate row for a message.
func (s *PostgresStore) UpsertReactionAggregate(ctx context.Context, agg model.ReactionAggregate) error {
	counts, err := json.Marshal(agg.Counts)
	if err != nil {
		return errs.Transient("marshal aggregate", err)
	}

	_, err = s.conn.ExecContext(ctx,
		"INSERT INTO reaction_aggregates (message_id, counts, computed_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (message_id) DO UPDATE SET counts = EXCLUDED.counts, computed_at = EXCLUDED.computed_at",
		agg.MessageID, counts, agg.ComputedAt,
	)
	if err != nil {
		return errs.Transient("upsert aggregate", err)
	}

	s.publish(ctx, newChangeEvent(model.RelationAggregates, model.ChangeUpdate, s.conversationOf(ctx, agg.MessageID), agg))
	return nil
}

// GetReactionAggregate fetches the aggregate row for a message; a missing
// row reads back as an empty aggregate.
func (s *PostgresStore) GetReactionAggregate(ctx context.Context, messageID string) (model.ReactionAggregate, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT message_id, counts, computed_at FROM reaction_aggregates WHERE message_id = $1",
		messageID,
	)

	var agg model.ReactionAggregate
	var counts []byte
	if err := row.Scan(&agg.MessageID, &counts, &agg.ComputedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ReactionAggregate{
				MessageID: messageID,
				Counts:    map[string]model.EmojiCount{},
			}, nil
		}
		return model.ReactionAggregate{}, errs.Transient("get aggregate", err)
	}
	if err := json.Unmarshal(counts, &agg.Counts); err != nil {
		return model.ReactionAggregate{}, errs.Transient("decode aggregate", err)
	}
	return agg, nil
}

// InsertNotification inserts a notification row.
func (s *PostgresStore) InsertNotification(ctx context.Context, n model.Notification) error {
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO notifications (id, target_user_id, kind, body, conversation_id, message_id, read, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		n.ID, n.TargetUserID, n.Kind, n.Body, n.ConversationID, n.MessageID, n.Read, n.CreatedAt,
	)
	if err != nil {
		return errs.Transient("insert notification", err)
	}
	s.publish(ctx, newChangeEvent(model.RelationNotifications, model.ChangeInsert, n.TargetUserID, n))
	return nil
}

// ListNotifications returns a user's notifications, newest first.
func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.QueryContext(ctx,
		"SELECT id, target_user_id, kind, body, conversation_id, message_id, read, created_at "+
			"FROM notifications WHERE target_user_id = $1 ORDER BY created_at DESC LIMIT $2",
		userID, limit,
	)
	if err != nil {
		return nil, errs.Transient("list notifications", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.TargetUserID, &n.Kind, &n.Body,
			&n.ConversationID, &n.MessageID, &n.Read, &n.CreatedAt); err != nil {
			return nil, errs.Transient("list notifications", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead sets the read flag on a user's notification.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, id, userID string) error {
	res, err := s.conn.ExecContext(ctx,
		"UPDATE notifications SET read = TRUE WHERE id = $1 AND target_user_id = $2",
		id, userID,
	)
	if err != nil {
		return errs.Transient("mark notification read", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("notification %s", id)
	}

	s.publish(ctx, newChangeEvent(model.RelationNotifications, model.ChangeUpdate, userID,
		model.Notification{ID: id, TargetUserID: userID, Read: true}))
	return nil
}

// conversationOf resolves the conversation scope for message-keyed events.
func (s *PostgresStore) conversationOf(ctx context.Context, messageID string) string {
	row := s.conn.QueryRowContext(ctx, "SELECT conversation_id FROM messages WHERE id = $1", messageID)
	var conversationID string
	if err := row.Scan(&conversationID); err != nil {
		return messageID
	}
	return conversationID
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (model.Message, error) {
	var msg model.Message
	var mediaKey, status sql.NullString
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &mediaKey,
		&msg.IsLiked, &msg.IsSaved, &msg.Transcription, &status,
		&msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Message{}, errs.NotFound("message")
		}
		return model.Message{}, errs.Transient("scan message", err)
	}
	msg.MediaKey = mediaKey.String
	msg.TranscriptionStatus = status.String
	return msg, nil
}
