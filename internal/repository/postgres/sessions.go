package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pagestack/platform/internal/domain"
	"github.com/pagestack/platform/internal/repository"
)

// CreateSession inserts a session row.
func (r *Repository) CreateSession(ctx context.Context, session *domain.Session) error {
	const query = `INSERT INTO sessions (id, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, session.ID, session.UserID, session.ExpiresAt, session.CreatedAt)
	return mapError(err)
}

// GetSession fetches a session by identifier.
func (r *Repository) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	const query = `SELECT id, user_id, expires_at, created_at FROM sessions WHERE id = $1`
	var s domain.Session
	if err := r.pool.QueryRow(ctx, query, id).Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// DeleteSession removes a session, revoking its tokens.
func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	const query = `DELETE FROM sessions WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// DeleteSessionsByUser removes every session for a user.
func (r *Repository) DeleteSessionsByUser(ctx context.Context, userID string) error {
	const query = `DELETE FROM sessions WHERE user_id = $1`
	_, err := r.pool.Exec(ctx, query, userID)
	return err
}

// DeleteExpiredSessions sweeps sessions past their expiry.
func (r *Repository) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM sessions WHERE expires_at < $1`
	tag, err := r.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
