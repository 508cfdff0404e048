package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "an-adequately-long-signing-secret-for-tests"

func TestIssueVerify_RoundTrip(t *testing.T) {
	iss := NewIssuer(testSecret, 10*time.Minute)

	tok, err := iss.Issue("a@b.com", "book-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := iss.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Email != "a@b.com" {
		t.Errorf("email = %q, want a@b.com", claims.Email)
	}
	if claims.ResourceID != "book-1" {
		t.Errorf("resource id = %q, want book-1", claims.ResourceID)
	}
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	iss := NewIssuer(testSecret, 10*time.Minute)
	iss.now = func() time.Time { return issued }

	tok, err := iss.Issue("a@b.com", "book-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// 9m59s after issuance: still valid, payload intact.
	iss.now = func() time.Time { return issued.Add(9*time.Minute + 59*time.Second) }
	claims, err := iss.Verify(tok)
	if err != nil {
		t.Fatalf("Verify at 9m59s: %v", err)
	}
	if claims.Email != "a@b.com" || claims.ResourceID != "book-1" {
		t.Errorf("payload not preserved: %+v", claims)
	}

	// 10m1s after issuance: expired.
	iss.now = func() time.Time { return issued.Add(10*time.Minute + time.Second) }
	if _, err := iss.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify at 10m1s: got %v, want ErrInvalidToken", err)
	}
}

func TestVerify_TamperResistance(t *testing.T) {
	iss := NewIssuer(testSecret, 10*time.Minute)
	tok, err := iss.Issue("a@b.com", "book-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	for pos := 0; pos < len(tok); pos++ {
		b := []byte(tok)
		if b[pos] == '.' {
			continue
		}
		if b[pos] == 'A' {
			b[pos] = 'B'
		} else {
			b[pos] = 'A'
		}
		if _, err := iss.Verify(string(b)); err == nil {
			t.Fatalf("token with byte %d flipped verified successfully", pos)
		}
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	tok, err := NewIssuer(testSecret, 10*time.Minute).Issue("a@b.com", "book-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	other := NewIssuer("a-completely-different-signing-secret!!", 10*time.Minute)
	if _, err := other.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}
}

func TestVerify_RejectsNonHMACAlgorithm(t *testing.T) {
	// A token signed with "none" must be rejected even though its claims parse.
	claims := &PDFAccessClaims{
		Email:      "a@b.com",
		ResourceID: "book-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(10 * time.Minute)),
		},
	}
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	tok, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing with none: %v", err)
	}

	iss := NewIssuer(testSecret, 10*time.Minute)
	if _, err := iss.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}
}

func TestIssue_NoSecret(t *testing.T) {
	iss := NewIssuer("", 10*time.Minute)
	if _, err := iss.Issue("a@b.com", "book-1"); !errors.Is(err, ErrNoSigningSecret) {
		t.Errorf("got %v, want ErrNoSigningSecret", err)
	}
}

func TestVerify_Garbage(t *testing.T) {
	iss := NewIssuer(testSecret, 10*time.Minute)
	for _, in := range []string{"", "not.a.token", "x"} {
		if _, err := iss.Verify(in); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify(%q): got %v, want ErrInvalidToken", in, err)
		}
	}
}
