package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/owlette/server/internal/model"
	"github.com/owlette/server/internal/repo"
)

const (
	registrationCodeTTL = 24 * time.Hour
	refreshTokenTTL     = 30 * 24 * time.Hour
)

var (
	// ErrSiteNotFound means the target site does not exist.
	ErrSiteNotFound = errors.New("site not found")
	// ErrSiteAccessDenied means the requester is authenticated but not
	// owner, member, or admin for the site.
	ErrSiteAccessDenied = errors.New("no access to site")
	// ErrInvalidCode means the registration code does not exist.
	ErrInvalidCode = errors.New("invalid registration code")
	// ErrCodeAlreadyUsed means the code was redeemed before.
	ErrCodeAlreadyUsed = errors.New("registration code already used")
	// ErrCodeExpired means the code is past its 24h window.
	ErrCodeExpired = errors.New("registration code expired")
	// ErrInvalidCodeData means the stored record is corrupt.
	ErrInvalidCodeData = errors.New("registration code record is invalid")
)

// IssuedCode is the result of issuing a registration code
type IssuedCode struct {
	Code      string
	SiteID    string
	ExpiresAt time.Time
}

// RedeemResult is the result of redeeming a registration code. RefreshToken
// holds the raw token, returned exactly once and never retrievable again.
type RedeemResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	SiteID       string
}

// RegistrationService issues one-time registration codes and redeems them
// into agent credentials.
type RegistrationService struct {
	codes  repo.RegCodeRepo
	tokens repo.RefreshTokenRepo
	sites  repo.SiteRepo
	issuer *TokenIssuer
}

// NewRegistrationService creates a new registration service
func NewRegistrationService(
	codes repo.RegCodeRepo,
	tokens repo.RefreshTokenRepo,
	sites repo.SiteRepo,
	issuer *TokenIssuer,
) *RegistrationService {
	return &RegistrationService{
		codes:  codes,
		tokens: tokens,
		sites:  sites,
		issuer: issuer,
	}
}

// Issue creates a one-time registration code for the site, valid 24 hours.
// The requester must own the site, be an assigned member, or be an admin.
func (s *RegistrationService) Issue(ctx context.Context, siteID string, requester model.User) (IssuedCode, error) {
	site, err := s.sites.Get(ctx, siteID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return IssuedCode{}, ErrSiteNotFound
		}
		return IssuedCode{}, fmt.Errorf("load site: %w", err)
	}

	if !requester.IsAdmin {
		ok, err := s.sites.UserHasAccess(ctx, site.ID, requester.ID)
		if err != nil {
			return IssuedCode{}, fmt.Errorf("check site access: %w", err)
		}
		if !ok {
			return IssuedCode{}, ErrSiteAccessDenied
		}
	}

	code, err := GenerateRegistrationCode()
	if err != nil {
		return IssuedCode{}, fmt.Errorf("generate registration code: %w", err)
	}

	now := time.Now()
	record := model.RegistrationCode{
		Code:      code,
		SiteID:    site.ID,
		CreatedBy: requester.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(registrationCodeTTL),
	}
	if err := s.codes.Create(ctx, record); err != nil {
		return IssuedCode{}, fmt.Errorf("store registration code: %w", err)
	}

	return IssuedCode{Code: code, SiteID: site.ID, ExpiresAt: record.ExpiresAt}, nil
}

// Redeem exchanges a registration code for agent credentials. Not
// idempotent: the code transitions unused -> used exactly once and a retry
// after success fails with ErrCodeAlreadyUsed; the agent must persist the
// returned refresh token.
func (s *RegistrationService) Redeem(ctx context.Context, code, machineID, agentVersion string) (RedeemResult, error) {
	record, err := s.codes.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return RedeemResult{}, ErrInvalidCode
		}
		return RedeemResult{}, fmt.Errorf("load registration code: %w", err)
	}

	now := time.Now()
	// Expiry wins over used state: a stale code reads as expired even if it
	// was also redeemed at some point.
	if now.After(record.ExpiresAt) {
		return RedeemResult{}, ErrCodeExpired
	}
	if record.Used {
		return RedeemResult{}, ErrCodeAlreadyUsed
	}
	if record.SiteID == "" || record.CreatedBy == uuid.Nil {
		return RedeemResult{}, ErrInvalidCodeData
	}

	agentUID := DeriveAgentUID(record.SiteID, machineID)

	// Win the unused -> used transition before minting anything, so two
	// concurrent redemptions cannot both produce credentials.
	consumed, err := s.codes.Consume(ctx, record.Code, machineID, agentUID, now)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("consume registration code: %w", err)
	}
	if !consumed {
		return RedeemResult{}, ErrCodeAlreadyUsed
	}

	customToken, err := s.issuer.SignCustomToken(agentUID, record.SiteID, machineID, agentVersion)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("sign custom token: %w", err)
	}
	accessToken, expiresIn, err := s.issuer.ExchangeCustomToken(customToken)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("exchange custom token: %w", err)
	}

	rawRefresh, refreshHash, err := GenerateRefreshToken()
	if err != nil {
		return RedeemResult{}, fmt.Errorf("generate refresh token: %w", err)
	}

	refreshExpiry := now.Add(refreshTokenTTL)
	tokenRecord := model.RefreshToken{
		TokenHash: refreshHash,
		SiteID:    record.SiteID,
		MachineID: machineID,
		AgentUID:  agentUID,
		Version:   agentVersion,
		CreatedBy: record.CreatedBy,
		CreatedAt: now,
		ExpiresAt: &refreshExpiry,
	}
	if err := s.tokens.Create(ctx, tokenRecord); err != nil {
		return RedeemResult{}, fmt.Errorf("store refresh token: %w", err)
	}

	return RedeemResult{
		AccessToken:  accessToken,
		RefreshToken: rawRefresh,
		ExpiresIn:    expiresIn,
		SiteID:       record.SiteID,
	}, nil
}
