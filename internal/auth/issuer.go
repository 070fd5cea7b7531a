package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	customTokenExpiry = 5 * time.Minute
	accessTokenExpiry = time.Hour

	// AccessTokenExpiresIn is the fixed expires_in value returned to agents.
	AccessTokenExpiresIn = 3600

	tokenUseCustom = "custom"
	tokenUseAccess = "access"
)

// AgentClaims are the identity claims asserted for an agent on every mint.
// They are re-signed from the stored token record each refresh, never cached.
type AgentClaims struct {
	Role      string `json:"role"`
	SiteID    string `json:"site_id"`
	MachineID string `json:"machine_id"`
	Version   string `json:"version"`
	TokenUse  string `json:"token_use"`
	jwt.RegisteredClaims
}

// TokenIssuer mints agent tokens in two steps, wrapping the privileged
// signing key: a short-lived custom token asserts the agent identity and
// claims, and exchanging it produces the 1-hour access token. The exchange
// verifies the assertion, so an access token always descends from a
// freshly-signed identity.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer creates a new token issuer
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret)}
}

// SignCustomToken creates a 5-minute identity assertion for the agent
func (s *TokenIssuer) SignCustomToken(agentUID, siteID, machineID, version string) (string, error) {
	now := time.Now()
	claims := &AgentClaims{
		Role:      "agent",
		SiteID:    siteID,
		MachineID: machineID,
		Version:   version,
		TokenUse:  tokenUseCustom,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentUID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(customTokenExpiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign custom token: %w", err)
	}
	return signed, nil
}

// ExchangeCustomToken verifies a custom token and mints the 1-hour access
// token carrying the same claims. Returns the token and expires_in seconds.
func (s *TokenIssuer) ExchangeCustomToken(customToken string) (string, int, error) {
	claims, err := s.parse(customToken)
	if err != nil {
		return "", 0, fmt.Errorf("invalid custom token: %w", err)
	}
	if claims.TokenUse != tokenUseCustom {
		return "", 0, fmt.Errorf("not a custom token")
	}

	now := time.Now()
	access := &AgentClaims{
		Role:      claims.Role,
		SiteID:    claims.SiteID,
		MachineID: claims.MachineID,
		Version:   claims.Version,
		TokenUse:  tokenUseAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTokenExpiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, access)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, AccessTokenExpiresIn, nil
}

// VerifyAccessToken verifies and parses an agent access token
func (s *TokenIssuer) VerifyAccessToken(tokenString string) (*AgentClaims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenUse != tokenUseAccess {
		return nil, fmt.Errorf("not an access token")
	}
	return claims, nil
}

func (s *TokenIssuer) parse(tokenString string) (*AgentClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AgentClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(*AgentClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
