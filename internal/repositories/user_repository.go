package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository resolves display names for user ids.
type UserRepository interface {
	ResolveUsername(ctx context.Context, userID string) (string, error)
	ResolveUsernames(ctx context.Context, userIDs []string) (map[string]string, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// ResolveUsername returns the display name for one user.
func (r *UserRepo) ResolveUsername(ctx context.Context, userID string) (string, error) {
	var username string
	err := r.db.GetContext(ctx, &username, `SELECT username FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUserNotFound
	}
	return username, err
}

// ResolveUsernames returns id -> display name for the given set.
func (r *UserRepo) ResolveUsernames(ctx context.Context, userIDs []string) (map[string]string, error) {
	result := map[string]string{}
	if len(userIDs) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`SELECT id, username FROM users WHERE id IN (?)`, userIDs)
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
		var id, username string
		if err := rows.Scan(&id, &username); err != nil {
			return nil, err
		}
		result[id] = username
	}
	return result, rows.Err()
}
