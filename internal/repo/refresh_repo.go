package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/owlette/server/internal/model"
)

// RefreshTokenRepo defines the interface for refresh token repository operations.
// Records are keyed by the SHA-256 hex of the raw token; the raw value is
// never stored.
type RefreshTokenRepo interface {
	Create(ctx context.Context, token model.RefreshToken) error
	GetByHash(ctx context.Context, tokenHash string) (model.RefreshToken, error)
	TouchLastUsed(ctx context.Context, tokenHash string, at time.Time) error
	Delete(ctx context.Context, tokenHash string) error
	DeleteByMachine(ctx context.Context, siteID, machineID string) (int64, error)
	DeleteBySite(ctx context.Context, siteID string) (int64, error)
	ListBySite(ctx context.Context, siteID string) ([]model.RefreshToken, error)
}

type refreshTokenRepo struct {
	db *sql.DB
}

// NewRefreshTokenRepo creates a new RefreshTokenRepo instance
func NewRefreshTokenRepo(db *sql.DB) RefreshTokenRepo {
	return &refreshTokenRepo{db: db}
}

// Create inserts a new refresh token record
func (r *refreshTokenRepo) Create(ctx context.Context, token model.RefreshToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token_hash, site_id, machine_id, agent_uid, version, created_by, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, token.TokenHash, token.SiteID, token.MachineID, token.AgentUID, token.Version,
		token.CreatedBy, token.CreatedAt, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// GetByHash returns the token record regardless of expiry; expiry is the
// service's decision so the expired row can be deleted as a side effect.
func (r *refreshTokenRepo) GetByHash(ctx context.Context, tokenHash string) (model.RefreshToken, error) {
	var t model.RefreshToken
	var createdByStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT token_hash, site_id, machine_id, agent_uid, version, created_by, created_at, expires_at, last_used
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&t.TokenHash,
		&t.SiteID,
		&t.MachineID,
		&t.AgentUID,
		&t.Version,
		&createdByStr,
		&t.CreatedAt,
		&t.ExpiresAt,
		&t.LastUsed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RefreshToken{}, fmt.Errorf("refresh token: %w", ErrNotFound)
		}
		return model.RefreshToken{}, fmt.Errorf("query refresh token: %w", err)
	}
	t.CreatedBy, err = uuid.Parse(createdByStr)
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("parse created_by: %w", err)
	}
	return t, nil
}

// TouchLastUsed sets last_used for the token
func (r *refreshTokenRepo) TouchLastUsed(ctx context.Context, tokenHash string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET last_used = $2 WHERE token_hash = $1
	`, tokenHash, at)
	if err != nil {
		return fmt.Errorf("touch last_used: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("refresh token: %w", ErrNotFound)
	}
	return nil
}

// Delete removes a single token by hash
func (r *refreshTokenRepo) Delete(ctx context.Context, tokenHash string) error {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM refresh_tokens WHERE token_hash = $1
	`, tokenHash)
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("refresh token: %w", ErrNotFound)
	}
	return nil
}

// DeleteByMachine removes every token bound to one machine in a site
func (r *refreshTokenRepo) DeleteByMachine(ctx context.Context, siteID, machineID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM refresh_tokens WHERE site_id = $1 AND machine_id = $2
	`, siteID, machineID)
	if err != nil {
		return 0, fmt.Errorf("delete tokens for machine: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// DeleteBySite removes every token for a site
func (r *refreshTokenRepo) DeleteBySite(ctx context.Context, siteID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM refresh_tokens WHERE site_id = $1
	`, siteID)
	if err != nil {
		return 0, fmt.Errorf("delete tokens for site: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// ListBySite returns all token records for a site, newest first
func (r *refreshTokenRepo) ListBySite(ctx context.Context, siteID string) ([]model.RefreshToken, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT token_hash, site_id, machine_id, agent_uid, version, created_by, created_at, expires_at, last_used
		FROM refresh_tokens
		WHERE site_id = $1
		ORDER BY created_at DESC
	`, siteID)
	if err != nil {
		return nil, fmt.Errorf("list tokens for site: %w", err)
	}
	defer rows.Close()

	var tokens []model.RefreshToken
	for rows.Next() {
		var t model.RefreshToken
		var createdByStr string
		if err := rows.Scan(
			&t.TokenHash,
			&t.SiteID,
			&t.MachineID,
			&t.AgentUID,
			&t.Version,
			&createdByStr,
			&t.CreatedAt,
			&t.ExpiresAt,
			&t.LastUsed,
		); err != nil {
			return nil, fmt.Errorf("scan refresh token: %w", err)
		}
		t.CreatedBy, err = uuid.Parse(createdByStr)
		if err != nil {
			return nil, fmt.Errorf("parse created_by: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return tokens, nil
}
