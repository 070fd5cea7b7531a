package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/owlette/server/internal/model"
)

// MfaSetupRepo defines the interface for pending MFA setup repository operations
type MfaSetupRepo interface {
	// Upsert replaces any existing pending setup for the user; restarting
	// setup always supersedes the previous window.
	Upsert(ctx context.Context, setup model.MfaPendingSetup) error
	Get(ctx context.Context, userID uuid.UUID) (model.MfaPendingSetup, error)
	Delete(ctx context.Context, userID uuid.UUID) error
}

type mfaSetupRepo struct {
	db *sql.DB
}

// NewMfaSetupRepo creates a new MfaSetupRepo instance
func NewMfaSetupRepo(db *sql.DB) MfaSetupRepo {
	return &mfaSetupRepo{db: db}
}

// Upsert inserts or replaces the pending setup row for the user
func (r *mfaSetupRepo) Upsert(ctx context.Context, setup model.MfaPendingSetup) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mfa_pending_setups (user_id, secret, email, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET secret = EXCLUDED.secret, email = EXCLUDED.email,
		    created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
	`, setup.UserID, setup.Secret, setup.Email, setup.CreatedAt, setup.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert pending setup: %w", err)
	}
	return nil
}

// Get retrieves the pending setup for a user
func (r *mfaSetupRepo) Get(ctx context.Context, userID uuid.UUID) (model.MfaPendingSetup, error) {
	var s model.MfaPendingSetup
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, secret, email, created_at, expires_at
		FROM mfa_pending_setups
		WHERE user_id = $1
	`, userID).Scan(&idStr, &s.Secret, &s.Email, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.MfaPendingSetup{}, fmt.Errorf("pending setup: %w", ErrNotFound)
		}
		return model.MfaPendingSetup{}, fmt.Errorf("query pending setup: %w", err)
	}
	s.UserID, err = uuid.Parse(idStr)
	if err != nil {
		return model.MfaPendingSetup{}, fmt.Errorf("parse user ID: %w", err)
	}
	return s, nil
}

// Delete removes the pending setup for a user
func (r *mfaSetupRepo) Delete(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM mfa_pending_setups WHERE user_id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("delete pending setup: %w", err)
	}
	return nil
}
