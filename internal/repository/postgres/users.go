package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/pagestack/platform/internal/domain"
	"github.com/pagestack/platform/internal/repository"
)

const userColumns = `id, email, name, password_hash, failed_attempts, locked_at,
	email_verified, activation_token, activation_expires_at, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.FailedAttempts,
		&u.LockedAt, &u.EmailVerified, &u.ActivationToken, &u.ActivationExpiresAt,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, name, password_hash, failed_attempts,
			locked_at, email_verified, activation_token, activation_expires_at, created_at, updated_at)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.Name, user.PasswordHash,
		user.FailedAttempts, user.LockedAt, user.EmailVerified, user.ActivationToken,
		user.ActivationExpiresAt, user.CreatedAt, user.UpdatedAt)
	return mapError(err)
}

// GetUserByEmail fetches a user by email, case-insensitively.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = lower($1)`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// GetUserByActivationToken retrieves a user by its activation token.
func (r *Repository) GetUserByActivationToken(ctx context.Context, token string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE activation_token = $1`
	return scanUser(r.pool.QueryRow(ctx, query, token))
}

// UpdateUser persists profile fields.
func (r *Repository) UpdateUser(ctx context.Context, user *domain.User) error {
	const query = `UPDATE users SET email = lower($2), name = $3, updated_at = $4 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.Name, user.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteUser removes a user. Sessions cascade at the schema level.
func (r *Repository) DeleteUser(ctx context.Context, id string) error {
	const query = `DELETE FROM users WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// RecordFailedLogin bumps the failed-attempt counter and locks the account in
// the same statement once the counter reaches threshold.
func (r *Repository) RecordFailedLogin(ctx context.Context, id string, threshold int) (int, bool, error) {
	const query = `UPDATE users SET
			failed_attempts = failed_attempts + 1,
			locked_at = CASE WHEN failed_attempts + 1 >= $2 AND locked_at IS NULL
				THEN now() ELSE locked_at END,
			updated_at = now()
		WHERE id = $1
		RETURNING failed_attempts, locked_at IS NOT NULL`
	var attempts int
	var locked bool
	if err := r.pool.QueryRow(ctx, query, id, threshold).Scan(&attempts, &locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, repository.ErrNotFound
		}
		return 0, false, err
	}
	return attempts, locked, nil
}

// ResetFailedLogins clears the counter after a successful login.
func (r *Repository) ResetFailedLogins(ctx context.Context, id string) error {
	const query = `UPDATE users SET failed_attempts = 0, updated_at = now() WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// UnlockUser clears the lockout marker and counter.
func (r *Repository) UnlockUser(ctx context.Context, id string) error {
	const query = `UPDATE users SET locked_at = NULL, failed_attempts = 0, updated_at = now() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkEmailVerified flips the verification flag and burns the token.
func (r *Repository) MarkEmailVerified(ctx context.Context, id string) error {
	const query = `UPDATE users SET email_verified = TRUE, activation_token = '', updated_at = now() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
