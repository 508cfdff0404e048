// Package models defines the database records read and written by the
// access-control layer. The wider site schema (users, orders, catalog) lives
// elsewhere; only the security-relevant tables appear here.
package models

import "time"

// AccessCode is a human-enterable credential for protected documents.
//
// The raw code exists in plaintext exactly once, at generation time. At rest
// only two derived forms persist: CodeHash (SHA-256 of the trimmed, upper-cased
// code — the value every verification compares against) and CodeEncrypted (an
// AES-GCM blob, or plaintext when the field cipher is disabled, kept solely so
// an administrator can re-display a code they issued).
type AccessCode struct {
	ID string `json:"id" db:"id"`

	// Email restricts redemption to one address. NULL means an unassigned
	// (classroom) code any email may redeem.
	Email *string `json:"email" db:"email"`

	CodeHash      string `json:"-" db:"code_hash"`
	CodeEncrypted string `json:"-" db:"code_encrypted"`

	// ResourceID is the protected-resource handle granted on redemption.
	ResourceID string `json:"resource_id" db:"resource_id"`

	ValidityDays int        `json:"validity_days" db:"validity_days"`
	Used         bool       `json:"used" db:"used"`
	ExpiresAt    time.Time  `json:"expires_at" db:"expires_at"`
	RedeemedAt   *time.Time `json:"redeemed_at" db:"redeemed_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// Expired reports whether the code's validity window has passed at t.
func (c *AccessCode) Expired(t time.Time) bool {
	return !c.ExpiresAt.After(t)
}
