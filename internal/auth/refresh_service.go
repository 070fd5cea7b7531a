package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/owlette/server/internal/model"
	"github.com/owlette/server/internal/repo"
)

var (
	// ErrInvalidRefreshToken means no record matches the presented token.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenExpired means the record existed but was past its
	// expiry; the record is deleted as a side effect.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	// ErrMachineMismatch means the token is valid but presented from a
	// machine other than the one it is bound to. Treated as a theft signal.
	ErrMachineMismatch = errors.New("machine identifier mismatch")
	// ErrTokenSiteMismatch means a revocation targeted a token outside the
	// caller's site scope.
	ErrTokenSiteMismatch = errors.New("token does not belong to site")
	// ErrInvalidRevokeRequest means the revocation named zero or more than
	// one target mode.
	ErrInvalidRevokeRequest = errors.New("exactly one of tokenId, machineId, all is required")
)

// RefreshResult is the result of a successful token refresh
type RefreshResult struct {
	AccessToken string
	ExpiresIn   int
}

// RevokeRequest selects exactly one revocation mode within a site.
type RevokeRequest struct {
	SiteID    string
	TokenID   string // storage key (token hash) of a single token
	MachineID string // every token for one machine
	All       bool   // every token for the site
}

// RefreshService exchanges stored refresh tokens for fresh access tokens
// and handles revocation.
type RefreshService struct {
	tokens repo.RefreshTokenRepo
	issuer *TokenIssuer
}

// NewRefreshService creates a new refresh service
func NewRefreshService(tokens repo.RefreshTokenRepo, issuer *TokenIssuer) *RefreshService {
	return &RefreshService{tokens: tokens, issuer: issuer}
}

// Refresh validates the raw refresh token and machine binding, then
// re-asserts the agent claims through the issuer and mints a fresh 1-hour
// access token. Claims are never assumed persistent across refreshes.
func (s *RefreshService) Refresh(ctx context.Context, rawToken, machineID string) (RefreshResult, error) {
	record, err := s.tokens.GetByHash(ctx, HashToken(rawToken))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return RefreshResult{}, ErrInvalidRefreshToken
		}
		return RefreshResult{}, fmt.Errorf("load refresh token: %w", err)
	}

	now := time.Now()
	// A nil expiry means the token never expires (unattended installs).
	if record.ExpiresAt != nil && now.After(*record.ExpiresAt) {
		if err := s.tokens.Delete(ctx, record.TokenHash); err != nil {
			log.Printf("Failed to delete expired refresh token %s...: %v", shortHash(record.TokenHash), err)
		}
		return RefreshResult{}, ErrRefreshTokenExpired
	}

	if record.MachineID != machineID {
		log.Printf("SECURITY: machine mismatch on refresh for agent %s (site %s): token bound to %q",
			record.AgentUID, record.SiteID, record.MachineID)
		return RefreshResult{}, ErrMachineMismatch
	}

	customToken, err := s.issuer.SignCustomToken(record.AgentUID, record.SiteID, record.MachineID, record.Version)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("sign custom token: %w", err)
	}
	accessToken, expiresIn, err := s.issuer.ExchangeCustomToken(customToken)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("exchange custom token: %w", err)
	}

	if err := s.tokens.TouchLastUsed(ctx, record.TokenHash, now); err != nil {
		// The agent already has its access token; losing a last_used update
		// is not worth failing the refresh.
		log.Printf("Failed to update last_used for token %s...: %v", shortHash(record.TokenHash), err)
	}

	return RefreshResult{AccessToken: accessToken, ExpiresIn: expiresIn}, nil
}

// Revoke deletes tokens per the selected mode and returns how many were
// removed. Bulk modes are not transactional against concurrent refreshes;
// the count reflects what was actually deleted.
func (s *RefreshService) Revoke(ctx context.Context, req RevokeRequest) (int64, error) {
	modes := 0
	if req.TokenID != "" {
		modes++
	}
	if req.MachineID != "" {
		modes++
	}
	if req.All {
		modes++
	}
	if modes != 1 {
		return 0, ErrInvalidRevokeRequest
	}

	switch {
	case req.TokenID != "":
		record, err := s.tokens.GetByHash(ctx, req.TokenID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return 0, ErrInvalidRefreshToken
			}
			return 0, fmt.Errorf("load token for revocation: %w", err)
		}
		if record.SiteID != req.SiteID {
			log.Printf("SECURITY: cross-site revocation attempt: token %s... belongs to site %s, caller scoped to %s",
				shortHash(req.TokenID), record.SiteID, req.SiteID)
			return 0, ErrTokenSiteMismatch
		}
		if err := s.tokens.Delete(ctx, req.TokenID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return 0, ErrInvalidRefreshToken
			}
			return 0, fmt.Errorf("delete token: %w", err)
		}
		return 1, nil

	case req.MachineID != "":
		n, err := s.tokens.DeleteByMachine(ctx, req.SiteID, req.MachineID)
		if err != nil {
			return 0, fmt.Errorf("revoke tokens for machine: %w", err)
		}
		return n, nil

	default:
		n, err := s.tokens.DeleteBySite(ctx, req.SiteID)
		if err != nil {
			return 0, fmt.Errorf("revoke tokens for site: %w", err)
		}
		return n, nil
	}
}

// shortHash returns a log-safe prefix of a token hash
func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

// List returns every token record for a site, newest first
func (s *RefreshService) List(ctx context.Context, siteID string) ([]model.RefreshToken, error) {
	tokens, err := s.tokens.ListBySite(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}
