package mfa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	saltLen   = 16
	keyLen    = 32
	ivLen     = 12 // standard GCM nonce size
	gcmTagLen = 16

	scryptN = 16384
	scryptR = 8
	scryptP = 1
)

// secretFormat tags how a stored MFA secret is encoded. The variant is
// decided once at read time instead of sniffing mid-verification.
type secretFormat int

const (
	formatEncrypted secretFormat = iota
	formatLegacy
)

// storedSecret is the decoded form of a users.mfa_secret value.
type storedSecret struct {
	format     secretFormat
	salt       []byte // encrypted form only
	iv         []byte
	authTag    []byte
	ciphertext []byte
	plaintext  string // legacy form only
}

// decodeStoredSecret classifies a stored value. Exactly four base64
// colon-delimited segments is the encrypted form; anything else is a legacy
// plaintext secret, tolerated for read but never written back as-is.
func decodeStoredSecret(stored string) (storedSecret, error) {
	parts := strings.Split(stored, ":")
	if len(parts) != 4 {
		return storedSecret{format: formatLegacy, plaintext: stored}, nil
	}

	decoded := make([][]byte, 4)
	for i, p := range parts {
		b, err := base64.StdEncoding.DecodeString(p)
		if err != nil {
			return storedSecret{}, fmt.Errorf("decode secret segment %d: %w", i, err)
		}
		decoded[i] = b
	}
	// A corrupted row must surface as an error here; gcm.Open panics on a
	// wrong nonce length rather than returning one.
	if len(decoded[1]) != ivLen {
		return storedSecret{}, fmt.Errorf("secret iv segment has length %d, want %d", len(decoded[1]), ivLen)
	}
	if len(decoded[2]) != gcmTagLen {
		return storedSecret{}, fmt.Errorf("secret auth tag segment has length %d, want %d", len(decoded[2]), gcmTagLen)
	}
	return storedSecret{
		format:     formatEncrypted,
		salt:       decoded[0],
		iv:         decoded[1],
		authTag:    decoded[2],
		ciphertext: decoded[3],
	}, nil
}

// Crypter encrypts TOTP secrets at rest with AES-256-GCM, deriving the key
// from the server secret with scrypt and a fresh random salt per encryption.
type Crypter struct {
	secret []byte
}

// NewCrypter creates a crypter bound to the server encryption secret
func NewCrypter(secret string) *Crypter {
	return &Crypter{secret: []byte(secret)}
}

func (c *Crypter) deriveKey(salt []byte) ([]byte, error) {
	key, err := scrypt.Key(c.secret, salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Encrypt returns the secret as "salt:iv:authTag:ciphertext", every segment
// standard base64.
func (c *Crypter) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key, err := c.deriveKey(salt)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	// GCM appends the tag to the ciphertext; the stored format keeps them
	// as separate segments.
	ciphertext := sealed[:len(sealed)-gcmTagLen]
	authTag := sealed[len(sealed)-gcmTagLen:]

	enc := base64.StdEncoding
	return strings.Join([]string{
		enc.EncodeToString(salt),
		enc.EncodeToString(iv),
		enc.EncodeToString(authTag),
		enc.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt reverses Encrypt. It rejects legacy plaintext values; callers
// decide the variant with decodeStoredSecret first.
func (c *Crypter) Decrypt(stored string) (string, error) {
	dec, err := decodeStoredSecret(stored)
	if err != nil {
		return "", err
	}
	if dec.format != formatEncrypted {
		return "", fmt.Errorf("value is not in encrypted form")
	}
	return c.decrypt(dec)
}

func (c *Crypter) decrypt(dec storedSecret) (string, error) {
	key, err := c.deriveKey(dec.salt)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	sealed := append(append([]byte(nil), dec.ciphertext...), dec.authTag...)
	plaintext, err := gcm.Open(nil, dec.iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt secret: %w", err)
	}
	return string(plaintext), nil
}
