// Package token creates and validates the short-lived signed tokens that gate
// access to protected documents. A token binds an email address to a
// protected-resource identifier for a fixed window (the link TTL); it is a
// bearer credential with no revocation list, so possession equals access until
// expiry.
//
// Unlike the field cipher, this package is strictly fail-closed: a missing
// signing secret is a hard configuration error at issuance time, and
// verification yields either a fully trusted claims struct or ErrInvalidToken
// with no partial-success mode.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuerName = "bookvault"

var (
	// ErrNoSigningSecret is returned by Issue when no signing secret is
	// configured. Issuing an unsigned or weakly signed token silently would be
	// worse than refusing, so this failure is loud.
	ErrNoSigningSecret = errors.New("token: no signing secret configured")

	// ErrInvalidToken covers every verification failure: malformed token, bad
	// signature, wrong algorithm, or expiry in the past. Callers must not be
	// able to distinguish the reasons.
	ErrInvalidToken = errors.New("token: invalid or expired token")
)

// PDFAccessClaims is the full claim set carried by an access token. It is a
// fixed struct on purpose — widening the signed claims requires a code change
// here, not an extra map key at a call site.
type PDFAccessClaims struct {
	Email      string `json:"email"`
	ResourceID string `json:"resource_id"`
	jwt.RegisteredClaims
}

// Issuer issues and verifies HS256 access tokens with a configured TTL. The
// secret and TTL are injected at construction; nothing reads process
// environment state.
type Issuer struct {
	secret  []byte
	linkTTL time.Duration
	now     func() time.Time
}

// NewIssuer builds an Issuer. An empty secret is accepted here and rejected at
// Issue time so that a misconfigured server still starts far enough to report
// the problem through its normal error paths. ttl <= 0 falls back to 10
// minutes, the link validity used by emailed access links.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Issuer{
		secret:  []byte(secret),
		linkTTL: ttl,
		now:     time.Now,
	}
}

// Issue signs a token binding email to resourceID, expiring linkTTL from now.
func (i *Issuer) Issue(email, resourceID string) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrNoSigningSecret
	}

	now := i.now()
	claims := &PDFAccessClaims{
		Email:      email,
		ResourceID: resourceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(i.linkTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuerName,
			Subject:   email,
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Verify parses and validates a token string. On success the returned claims
// are fully trusted; on any failure the single ErrInvalidToken sentinel is
// returned so the caller cannot leak why a credential was rejected.
func (i *Issuer) Verify(tokenString string) (*PDFAccessClaims, error) {
	if len(i.secret) == 0 {
		return nil, ErrInvalidToken
	}

	tok, err := jwt.ParseWithClaims(tokenString, &PDFAccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		// Accept only our HMAC family; anything else (none, RS256, ...) is a
		// downgrade attempt.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := tok.Claims.(*PDFAccessClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// LinkTTL reports the validity window applied to issued tokens.
func (i *Issuer) LinkTTL() time.Duration {
	return i.linkTTL
}
