// Package token defines expiring single-use tokens and their storage
// contract.
//
// A token is addressed by an opaque secret handed to the subject (usually
// inside an emailed link). Only the SHA-256 digest of the secret is
// persisted, so a leaked table does not yield redeemable links.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Purpose scopes a token to one confirmation flow.
type Purpose string

const (
	PurposeEmailVerification Purpose = "email_verification"
	PurposeEmailChange       Purpose = "email_change"
	PurposeDemoInvitation    Purpose = "demo_invitation"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeEmailVerification, PurposeEmailChange, PurposeDemoInvitation:
		return true
	}
	return false
}

// DefaultTTL applies when the issuer does not specify a lifetime.
const DefaultTTL = 24 * time.Hour

type Token struct {
	// ID is the digest of Secret and the storage key.
	ID        string     `json:"id"`
	Secret    string     `json:"-"`
	SubjectID string     `json:"subject_id"`
	Purpose   Purpose    `json:"purpose"`
	NewEmail  string     `json:"new_email,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	IsUsed    bool       `json:"is_used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// Expired reports whether the token's lifetime has ended at now.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Valid reports whether the token can still be redeemed at now.
func (t *Token) Valid(now time.Time) bool {
	return !t.IsUsed && !t.Expired(now)
}

// NewSecret returns a 32-character lowercase hex string carrying the 122
// random bits of a version 4 UUID. The result is URL-safe.
func NewSecret() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Hash returns the storage key for secret.
func Hash(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
