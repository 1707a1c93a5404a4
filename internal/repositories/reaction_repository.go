package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"realtime-chat/internal/models"
)

// ReactionRepository mutates and reads per-message emoji reactions. The
// composite primary key (message_id, user_id, emoji) makes a toggle an
// insert-or-delete.
type ReactionRepository interface {
	Toggle(ctx context.Context, messageID, userID, emoji string) (string, error)
	ListForMessages(ctx context.Context, messageIDs []string) (map[string]map[string][]string, error)
}

// ReactionRepo is a sqlx implementation of ReactionRepository.
type ReactionRepo struct {
	db *sqlx.DB
}

// NewReactionRepo constructs a ReactionRepo.
func NewReactionRepo(db *sqlx.DB) *ReactionRepo {
	return &ReactionRepo{db: db}
}

// Toggle flips the user's reaction on a message and reports which way it
// went: models.ReactionAdded or models.ReactionRemoved.
func (r *ReactionRepo) Toggle(ctx context.Context, messageID, userID, emoji string) (string, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM reactions WHERE message_id=$1 AND user_id=$2 AND emoji=$3`, messageID, userID, emoji)
	if err != nil {
		return "", err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if count > 0 {
		return models.ReactionRemoved, nil
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)`, messageID, userID, emoji)
	if err != nil {
		return "", err
	}
	return models.ReactionAdded, nil
}

// ListForMessages returns message id -> emoji -> user ids for the given set.
func (r *ReactionRepo) ListForMessages(ctx context.Context, messageIDs []string) (map[string]map[string][]string, error) {
	result := map[string]map[string][]string{}
	if len(messageIDs) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`SELECT message_id, user_id, emoji FROM reactions WHERE message_id IN (?) ORDER BY created_at ASC`, messageIDs)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var messageID, userID, emoji string
		if err := rows.Scan(&messageID, &userID, &emoji); err != nil {
			return nil, err
		}
		if _, ok := result[messageID]; !ok {
			result[messageID] = map[string][]string{}
		}
		result[messageID][emoji] = append(result[messageID][emoji], userID)
	}
	return result, rows.Err()
}
