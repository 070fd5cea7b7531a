package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/owlette/server/internal/model"
)

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	Create(ctx context.Context, email string, isAdmin bool) (model.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	// SetMfaEnrollment flips the user to enrolled with an encrypted secret
	// and hashed backup codes in a single write.
	SetMfaEnrollment(ctx context.Context, id uuid.UUID, encryptedSecret string, backupCodeHashes []string, enrolledAt time.Time) error
	// UpdateMfaSecret replaces the stored secret (legacy re-encryption path).
	UpdateMfaSecret(ctx context.Context, id uuid.UUID, encryptedSecret string) error
	// ConsumeBackupCode removes one backup code hash; returns false when the
	// hash was not present (already used or never issued).
	ConsumeBackupCode(ctx context.Context, id uuid.UUID, codeHash string) (bool, error)
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

// Create inserts a new user
func (r *userRepo) Create(ctx context.Context, email string, isAdmin bool) (model.User, error) {
	var user model.User
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (email, is_admin)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, email, isAdmin).Scan(&idStr, &user.CreatedAt)
	if err != nil {
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}
	user.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.User{}, fmt.Errorf("parse user ID: %w", err)
	}
	user.Email = email
	user.IsAdmin = isAdmin
	return user, nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	var user model.User
	var idStr string
	var mfaSecret sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, is_admin, mfa_enrolled, mfa_secret, mfa_backup_codes, mfa_enrolled_at, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(
		&idStr,
		&user.Email,
		&user.IsAdmin,
		&user.MfaEnrolled,
		&mfaSecret,
		pq.Array(&user.BackupCodes),
		&user.MfaEnrolledAt,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("user: %w", ErrNotFound)
		}
		return model.User{}, fmt.Errorf("query user: %w", err)
	}
	user.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.User{}, fmt.Errorf("parse user ID: %w", err)
	}
	user.MfaSecret = mfaSecret.String
	return user, nil
}

// SetMfaEnrollment writes the full enrollment state in one statement
func (r *userRepo) SetMfaEnrollment(ctx context.Context, id uuid.UUID, encryptedSecret string, backupCodeHashes []string, enrolledAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET mfa_enrolled = TRUE, mfa_secret = $2, mfa_backup_codes = $3, mfa_enrolled_at = $4
		WHERE id = $1
	`, id, encryptedSecret, pq.Array(backupCodeHashes), enrolledAt)
	if err != nil {
		return fmt.Errorf("set mfa enrollment: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user: %w", ErrNotFound)
	}
	return nil
}

// UpdateMfaSecret replaces the stored secret
func (r *userRepo) UpdateMfaSecret(ctx context.Context, id uuid.UUID, encryptedSecret string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET mfa_secret = $2 WHERE id = $1
	`, id, encryptedSecret)
	if err != nil {
		return fmt.Errorf("update mfa secret: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user: %w", ErrNotFound)
	}
	return nil
}

// ConsumeBackupCode removes the hash from the array only if present, so a
// code cannot validate twice even under concurrent submissions.
func (r *userRepo) ConsumeBackupCode(ctx context.Context, id uuid.UUID, codeHash string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET mfa_backup_codes = array_remove(mfa_backup_codes, $2)
		WHERE id = $1 AND $2 = ANY(mfa_backup_codes)
	`, id, codeHash)
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}
