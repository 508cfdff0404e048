// Package codes implements the access code registry: generation of one-time
// human-readable codes for administrators and their redemption by readers.
//
// A code's raw value is returned exactly once, at generation. Storage keeps
// only the SHA-256 hash of the normalized code (the verification path) and an
// AES-encrypted display copy (the admin convenience path, a deliberately
// lower trust boundary). Redemption failures are indistinguishable by design:
// wrong code, wrong email, expired, and already-used all collapse into
// ErrInvalidCode so the entry form cannot be used to probe which field was
// wrong.
package codes

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/qalampress/bookvault/internal/crypto"
	"github.com/qalampress/bookvault/internal/db/models"
	"github.com/qalampress/bookvault/internal/token"
)

// codeBytes is the entropy of a generated code; the raw form is its hex
// encoding, 12 uppercase characters — long enough to resist online guessing
// behind the edge rate limiter, short enough to read over the phone.
const codeBytes = 6

// DefaultValidityDays applies when an administrator does not specify a window.
const DefaultValidityDays = 30

// ErrInvalidCode is the single error returned for every redemption failure.
var ErrInvalidCode = errors.New("codes: invalid or expired access code")

// Store is the persistence surface the registry needs. Implemented by
// repositories.AccessCodeRepository.
type Store interface {
	CreateAccessCode(ctx context.Context, code *models.AccessCode) error
	FindRedeemableCode(ctx context.Context, email, codeHash string, now time.Time) (*models.AccessCode, error)
	MarkCodeUsed(ctx context.Context, id string, at time.Time) (bool, error)
}

// Registry issues and redeems access codes.
type Registry struct {
	store  Store
	cipher *crypto.FieldCipher
	issuer *token.Issuer

	// singleUse marks codes used on first redemption. When false a code stays
	// redeemable until natural expiry (shared classroom codes).
	singleUse bool

	// defaultResource is granted to codes created without a specific document
	// binding.
	defaultResource string

	now func() time.Time
}

// NewRegistry creates a Registry.
func NewRegistry(store Store, cipher *crypto.FieldCipher, issuer *token.Issuer, singleUse bool, defaultResource string) *Registry {
	return &Registry{
		store:           store,
		cipher:          cipher,
		issuer:          issuer,
		singleUse:       singleUse,
		defaultResource: defaultResource,
		now:             time.Now,
	}
}

// Normalize canonicalizes a human-entered code: surrounding whitespace is
// trimmed and letters upper-cased. Hashing and verification must both go
// through here or a valid code typed in lowercase would never match.
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// HashCode returns the hex SHA-256 of the normalized code, the only form the
// verification path ever compares.
func HashCode(raw string) string {
	sum := sha256.Sum256([]byte(Normalize(raw)))
	return hex.EncodeToString(sum[:])
}

// normalizeEmail canonicalizes an email address for storage and lookup. Both
// Generate and Redeem go through here; the repository compares the column
// exactly, so any asymmetry would strand a bound code.
func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// Generate creates a new random access code. The returned raw string is shown
// to the administrator exactly once; afterwards only the hash and the
// encrypted display copy persist. email is optional — nil creates an
// unassigned code any address may redeem. resourceID empty means the
// registry's default resource.
func (r *Registry) Generate(ctx context.Context, validityDays int, email *string, resourceID string) (string, *models.AccessCode, error) {
	if validityDays <= 0 {
		validityDays = DefaultValidityDays
	}
	if resourceID == "" {
		resourceID = r.defaultResource
	}
	// The lookup predicate compares emails exactly, so the bound address must
	// be stored in the same canonical form Redeem submits.
	if email != nil {
		normalized := normalizeEmail(*email)
		email = &normalized
	}

	buf := make([]byte, codeBytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", nil, fmt.Errorf("failed to generate access code: %w", err)
	}
	raw := strings.ToUpper(hex.EncodeToString(buf))

	code := &models.AccessCode{
		Email:         email,
		CodeHash:      HashCode(raw),
		CodeEncrypted: r.cipher.Encrypt(raw),
		ResourceID:    resourceID,
		ValidityDays:  validityDays,
		ExpiresAt:     r.now().Add(time.Duration(validityDays) * 24 * time.Hour),
	}

	if err := r.store.CreateAccessCode(ctx, code); err != nil {
		return "", nil, fmt.Errorf("failed to store access code: %w", err)
	}

	return raw, code, nil
}

// Redeem exchanges an email + raw code for a signed access token scoped to the
// code's resource. Every failure mode returns ErrInvalidCode; only storage
// infrastructure errors surface separately (and the handler maps those to a
// 500, not to the generic invalid response).
func (r *Registry) Redeem(ctx context.Context, email, rawCode string) (string, error) {
	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(rawCode) == "" {
		return "", ErrInvalidCode
	}

	now := r.now()
	code, err := r.store.FindRedeemableCode(ctx, email, HashCode(rawCode), now)
	if err != nil {
		return "", fmt.Errorf("code lookup failed: %w", err)
	}
	if code == nil {
		return "", ErrInvalidCode
	}

	if r.singleUse {
		marked, err := r.store.MarkCodeUsed(ctx, code.ID, now)
		if err != nil {
			return "", fmt.Errorf("failed to mark code used: %w", err)
		}
		if !marked {
			// Lost a concurrent redemption race; treat like any other miss.
			return "", ErrInvalidCode
		}
	}

	signed, err := r.issuer.Issue(email, code.ResourceID)
	if err != nil {
		return "", fmt.Errorf("failed to issue token for redeemed code: %w", err)
	}

	slog.Info("access code redeemed", "code_id", code.ID, "resource", code.ResourceID)
	return signed, nil
}

// Reveal decrypts the stored display copy of a code for the admin UI. When
// the field cipher is disabled or the record pre-dates encryption the stored
// value is returned as-is (fail-open display policy).
func (r *Registry) Reveal(code *models.AccessCode) string {
	return r.cipher.Decrypt(code.CodeEncrypted)
}
