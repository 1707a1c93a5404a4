package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"realtime-chat/internal/models"
)

var ErrChannelNotFound = errors.New("channel not found")

// ChannelRepository is the membership oracle plus basic channel lookups.
// Membership is consulted at join time only; the realtime layer never
// re-checks it per broadcast.
type ChannelRepository interface {
	IsMember(ctx context.Context, channelID string, userID string) (bool, error)
	GetChannel(ctx context.Context, channelID string) (models.Channel, error)
}

// ChannelRepo is a sqlx implementation of ChannelRepository.
type ChannelRepo struct {
	db *sqlx.DB
}

// NewChannelRepo constructs a ChannelRepo.
func NewChannelRepo(db *sqlx.DB) *ChannelRepo {
	return &ChannelRepo{db: db}
}

// IsMember checks whether a user belongs to the channel.
func (r *ChannelRepo) IsMember(ctx context.Context, channelID string, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM channel_members WHERE channel_id=$1 AND user_id=$2)`, channelID, userID)
	return exists, err
}

// GetChannel fetches a channel by id.
func (r *ChannelRepo) GetChannel(ctx context.Context, channelID string) (models.Channel, error) {
	var ch models.Channel
	err := r.db.GetContext(ctx, &ch, `SELECT id, name, is_dm, created_at FROM channels WHERE id=$1`, channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Channel{}, ErrChannelNotFound
	}
	return ch, err
}
