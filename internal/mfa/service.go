package mfa

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/owlette/server/internal/model"
	"github.com/owlette/server/internal/repo"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	setupTTL   = 10 * time.Minute
	totpPeriod = 30
	totpDigits = otp.DigitsSix
	// totpSkew tolerates one step of clock drift either side (±30s).
	totpSkew = 1
)

var (
	// ErrInvalidCode is the uniform verification failure. It deliberately
	// does not reveal whether a secret or code exists.
	ErrInvalidCode = errors.New("invalid verification code")
	// ErrSetupNotFound means no pending setup exists for the user.
	ErrSetupNotFound = errors.New("no pending mfa setup")
	// ErrSetupExpired means the 10-minute setup window elapsed; the pending
	// row is deleted when this is detected.
	ErrSetupExpired = errors.New("mfa setup expired")
	// ErrNotEnrolled means the user has not completed MFA enrollment.
	ErrNotEnrolled = errors.New("mfa not enrolled")
	// ErrUserNotFound means the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// SetupResult is returned from Setup: the raw secret for manual entry and
// the provisioning URI for QR rendering.
type SetupResult struct {
	Secret    string
	QRCodeURL string
}

// LoginResult reports a successful login verification.
type LoginResult struct {
	Success        bool
	BackupCodeUsed bool
}

// Service implements the per-user MFA state machine:
// NotEnrolled -> PendingSetup -> Enrolled.
type Service struct {
	users   repo.UserRepo
	setups  repo.MfaSetupRepo
	crypter *Crypter
	issuer  string
}

// NewService creates a new MFA service
func NewService(users repo.UserRepo, setups repo.MfaSetupRepo, crypter *Crypter, issuer string) *Service {
	return &Service{
		users:   users,
		setups:  setups,
		crypter: crypter,
		issuer:  issuer,
	}
}

// Setup generates a TOTP secret and provisioning URI and opens a 10-minute
// setup window. Enrollment state is not mutated until VerifySetup succeeds.
func (s *Service) Setup(ctx context.Context, userID uuid.UUID, email string) (SetupResult, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: email,
		Period:      totpPeriod,
		Digits:      totpDigits,
	})
	if err != nil {
		return SetupResult{}, fmt.Errorf("generate totp secret: %w", err)
	}

	now := time.Now()
	pending := model.MfaPendingSetup{
		UserID:    userID,
		Secret:    key.Secret(),
		Email:     email,
		CreatedAt: now,
		ExpiresAt: now.Add(setupTTL),
	}
	if err := s.setups.Upsert(ctx, pending); err != nil {
		return SetupResult{}, fmt.Errorf("store pending setup: %w", err)
	}

	return SetupResult{Secret: key.Secret(), QRCodeURL: key.URL()}, nil
}

// VerifySetup completes enrollment: the 6-digit code must validate against
// the pending secret within its window. On success the secret is encrypted,
// the backup codes are hashed, the user flips to enrolled, and the pending
// row is deleted. On any failure nothing is mutated (except deleting an
// expired pending row).
func (s *Service) VerifySetup(ctx context.Context, userID uuid.UUID, code string, backupCodes []string) error {
	pending, err := s.setups.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrSetupNotFound
		}
		return fmt.Errorf("load pending setup: %w", err)
	}

	now := time.Now()
	if now.After(pending.ExpiresAt) {
		if err := s.setups.Delete(ctx, userID); err != nil {
			log.Printf("Failed to delete expired pending setup for user %s: %v", userID, err)
		}
		return ErrSetupExpired
	}

	if !verifyTOTP(code, pending.Secret, now) {
		return ErrInvalidCode
	}

	encrypted, err := s.crypter.Encrypt(pending.Secret)
	if err != nil {
		return fmt.Errorf("encrypt mfa secret: %w", err)
	}

	hashes := make([]string, 0, len(backupCodes))
	for _, bc := range backupCodes {
		hashes = append(hashes, hashBackupCode(bc))
	}

	if err := s.users.SetMfaEnrollment(ctx, userID, encrypted, hashes, now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("store mfa enrollment: %w", err)
	}

	if err := s.setups.Delete(ctx, userID); err != nil {
		log.Printf("Failed to delete pending setup for user %s after enrollment: %v", userID, err)
	}
	return nil
}

// VerifyLogin checks a TOTP code or a backup code for an enrolled user.
// A matched backup code is removed in the same update (one-time use).
func (s *Service) VerifyLogin(ctx context.Context, userID uuid.UUID, code string, isBackupCode bool) (LoginResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return LoginResult{}, ErrUserNotFound
		}
		return LoginResult{}, fmt.Errorf("load user: %w", err)
	}
	if !user.MfaEnrolled {
		return LoginResult{}, ErrNotEnrolled
	}

	if isBackupCode {
		consumed, err := s.users.ConsumeBackupCode(ctx, userID, hashBackupCode(code))
		if err != nil {
			return LoginResult{}, fmt.Errorf("consume backup code: %w", err)
		}
		if !consumed {
			return LoginResult{}, ErrInvalidCode
		}
		return LoginResult{Success: true, BackupCodeUsed: true}, nil
	}

	stored, err := decodeStoredSecret(user.MfaSecret)
	if err != nil {
		return LoginResult{}, ErrInvalidCode
	}

	var secret string
	switch stored.format {
	case formatEncrypted:
		secret, err = s.crypter.decrypt(stored)
		if err != nil {
			// Wrong key or tampered record; the caller only learns the code
			// did not verify.
			log.Printf("Failed to decrypt mfa secret for user %s: %v", userID, err)
			return LoginResult{}, ErrInvalidCode
		}
	case formatLegacy:
		secret = stored.plaintext
	}

	if !verifyTOTP(code, secret, time.Now()) {
		return LoginResult{}, ErrInvalidCode
	}

	// One-way migration: a legacy plaintext secret is re-encrypted after
	// the first successful verify and never written in plaintext again.
	if stored.format == formatLegacy {
		if encrypted, err := s.crypter.Encrypt(secret); err == nil {
			if err := s.users.UpdateMfaSecret(ctx, userID, encrypted); err != nil {
				log.Printf("Failed to migrate legacy mfa secret for user %s: %v", userID, err)
			}
		}
	}

	return LoginResult{Success: true}, nil
}

func verifyTOTP(code, secret string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != 6 {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    totpDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// hashBackupCode normalizes (trim, uppercase) and hashes a backup code
func hashBackupCode(code string) string {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
