package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const sessionExpiry = 24 * time.Hour

// SessionClaims represents an operator session token
type SessionClaims struct {
	UserID uuid.UUID `json:"sub"`
	Admin  bool      `json:"admin"`
	jwt.RegisteredClaims
}

// SessionService signs and verifies operator session tokens. Password login
// lives in the portal; this core only consumes the resulting sessions.
type SessionService struct {
	secret []byte
}

// NewSessionService creates a new session service
func NewSessionService(secret string) *SessionService {
	return &SessionService{secret: []byte(secret)}
}

// Sign creates a session token for a user (24h expiry)
func (s *SessionService) Sign(userID uuid.UUID, admin bool) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		UserID: userID,
		Admin:  admin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionExpiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify verifies and parses a session token
func (s *SessionService) Verify(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse session token: %w", err)
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}
	return claims, nil
}
