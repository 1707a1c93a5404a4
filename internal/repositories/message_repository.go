package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"realtime-chat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// InsertMessageParams describes a message to persist.
type InsertMessageParams struct {
	ChannelID string
	SenderID  string
	ParentID  string
	Content   string
}

// MessageRepository persists chat messages. Insert is the only operation that
// must complete before a broadcast is emitted; it is transactional with the
// parent reply-counter bump.
type MessageRepository interface {
	Insert(ctx context.Context, params InsertMessageParams) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	ListChannelMessages(ctx context.Context, channelID string) ([]models.Message, error)
	ListThreadMessages(ctx context.Context, parentID string) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, channel_id, sender_id, COALESCE(parent_id::text, '') AS parent_id, content, reply_count, has_replies, created_at`

// Insert stores a message; when ParentID is set it also bumps the parent's
// reply counter and has_replies flag in the same transaction.
func (r *MessageRepo) Insert(ctx context.Context, params InsertMessageParams) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	var parent any
	if params.ParentID != "" {
		parent = params.ParentID
	}

	var msg models.Message
	err = tx.QueryRowxContext(ctx, `INSERT INTO messages (channel_id, sender_id, parent_id, content) VALUES ($1, $2, $3, $4)
        RETURNING `+messageColumns, params.ChannelID, params.SenderID, parent, params.Content).
		StructScan(&msg)
	if err != nil {
		return models.Message{}, err
	}

	if params.ParentID != "" {
		res, err := tx.ExecContext(ctx, `UPDATE messages SET reply_count = reply_count + 1, has_replies = TRUE WHERE id=$1`, params.ParentID)
		if err != nil {
			return models.Message{}, err
		}
		count, err := res.RowsAffected()
		if err != nil {
			return models.Message{}, err
		}
		if count == 0 {
			return models.Message{}, ErrMessageNotFound
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListChannelMessages returns the channel's top-level messages, oldest first.
func (r *MessageRepo) ListChannelMessages(ctx context.Context, channelID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE channel_id=$1 AND parent_id IS NULL
        ORDER BY created_at ASC`, channelID)
	return msgs, err
}

// ListThreadMessages returns the replies under a parent, oldest first.
func (r *MessageRepo) ListThreadMessages(ctx context.Context, parentID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE parent_id=$1
        ORDER BY created_at ASC`, parentID)
	return msgs, err
}
