package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

const (
	registrationCodeBytes = 32
	refreshTokenBytes     = 64
)

// GenerateRegistrationCode returns a random URL-safe one-time code (32 bytes of entropy)
func GenerateRegistrationCode() (string, error) {
	b := make([]byte, registrationCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateRefreshToken returns a random Base64URL token (64 bytes) and its SHA256 hash as hex
func GenerateRefreshToken() (token string, hashHex string, err error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, HashToken(token), nil
}

// HashToken returns SHA256 hex of the token
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
