package model

import (
	"time"

	"github.com/google/uuid"
)

// User represents a human operator of the portal.
type User struct {
	ID            uuid.UUID
	Email         string
	IsAdmin       bool
	MfaEnrolled   bool
	MfaSecret     string   // encrypted (salt:iv:authTag:ciphertext) or legacy base32
	BackupCodes   []string // SHA-256 hex hashes, one-time use
	MfaEnrolledAt *time.Time
	CreatedAt     time.Time
}

// Site represents a managed fleet site.
type Site struct {
	ID        string
	Name      string
	OwnerID   uuid.UUID
	CreatedAt time.Time
}

// RegistrationCode is a one-time, time-boxed credential binding a future
// agent installation to a site and the issuing user.
type RegistrationCode struct {
	Code      string
	SiteID    string
	CreatedBy uuid.UUID
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
	MachineID *string
	AgentUID  *string
}

// RefreshToken is the durable record of a long-lived agent credential.
// Only the SHA-256 hash of the raw token is stored; TokenHash is the
// primary key. A nil ExpiresAt means the token never expires.
type RefreshToken struct {
	TokenHash string
	SiteID    string
	MachineID string
	AgentUID  string
	Version   string
	CreatedBy uuid.UUID
	CreatedAt time.Time
	ExpiresAt *time.Time
	LastUsed  *time.Time
}

// MfaPendingSetup holds a TOTP secret between Setup and VerifySetup.
// The secret here is raw (pre-encryption); the row lives for 10 minutes.
type MfaPendingSetup struct {
	UserID    uuid.UUID
	Secret    string
	Email     string
	CreatedAt time.Time
	ExpiresAt time.Time
}
