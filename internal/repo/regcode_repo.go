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

// RegCodeRepo defines the interface for registration code repository operations
type RegCodeRepo interface {
	Create(ctx context.Context, code model.RegistrationCode) error
	GetByCode(ctx context.Context, code string) (model.RegistrationCode, error)
	// Consume marks the code used exactly once. It returns false when the
	// code was already used (the WHERE used = FALSE guard lost the race).
	Consume(ctx context.Context, code, machineID, agentUID string, usedAt time.Time) (bool, error)
}

type regCodeRepo struct {
	db *sql.DB
}

// NewRegCodeRepo creates a new RegCodeRepo instance
func NewRegCodeRepo(db *sql.DB) RegCodeRepo {
	return &regCodeRepo{db: db}
}

// Create inserts a new registration code
func (r *regCodeRepo) Create(ctx context.Context, code model.RegistrationCode) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO registration_codes (code, site_id, created_by, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, FALSE)
	`, code.Code, code.SiteID, code.CreatedBy, code.CreatedAt, code.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert registration code: %w", err)
	}
	return nil
}

// GetByCode retrieves a registration code by its primary key
func (r *regCodeRepo) GetByCode(ctx context.Context, code string) (model.RegistrationCode, error) {
	var rc model.RegistrationCode
	var createdByStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT code, site_id, created_by, created_at, expires_at, used, used_at, machine_id, agent_uid
		FROM registration_codes
		WHERE code = $1
	`, code).Scan(
		&rc.Code,
		&rc.SiteID,
		&createdByStr,
		&rc.CreatedAt,
		&rc.ExpiresAt,
		&rc.Used,
		&rc.UsedAt,
		&rc.MachineID,
		&rc.AgentUID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RegistrationCode{}, fmt.Errorf("registration code: %w", ErrNotFound)
		}
		return model.RegistrationCode{}, fmt.Errorf("query registration code: %w", err)
	}
	rc.CreatedBy, err = uuid.Parse(createdByStr)
	if err != nil {
		return model.RegistrationCode{}, fmt.Errorf("parse created_by: %w", err)
	}
	return rc, nil
}

// Consume performs the unused -> used transition with a conditional update
// so concurrent redemptions cannot both succeed.
func (r *regCodeRepo) Consume(ctx context.Context, code, machineID, agentUID string, usedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE registration_codes
		SET used = TRUE, used_at = $2, machine_id = $3, agent_uid = $4
		WHERE code = $1 AND used = FALSE
	`, code, usedAt, machineID, agentUID)
	if err != nil {
		return false, fmt.Errorf("consume registration code: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}
