// Package device tracks registered gate reader devices and their refresh
// tokens.
package device

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists gate reader registrations in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Upsert ensures a reader record exists for the school.
func (r *Repository) Upsert(ctx context.Context, deviceID, schoolID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO gate_devices (device_id, school_id)
		VALUES ($1, $2)
		ON CONFLICT (device_id) DO UPDATE SET school_id = EXCLUDED.school_id, last_seen = NOW()
	`, deviceID, schoolID)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (device_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, deviceID, token, expiresAt)
	return err
}

// RefreshTokenUsable reports whether the token is on file, unexpired,
// and not revoked. Access tokens are never stored here, so they can
// never pass this check.
func (r *Repository) RefreshTokenUsable(ctx context.Context, token string, now time.Time) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT expires_at, revoked FROM refresh_tokens WHERE token = $1
	`, token)
	var expiresAt time.Time
	var revoked bool
	if err := row.Scan(&expiresAt, &revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return !revoked && now.Before(expiresAt), nil
}

// RevokeRefreshToken marks a token revoked.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return err
}
