package crypto

import (
	"strings"
	"testing"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574" // 64 hex chars

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	fc := NewFieldCipher(testKey)
	if !fc.Enabled() {
		t.Fatal("cipher should be enabled with a valid 64-hex-char key")
	}

	plaintexts := []string{"A1B2C3D4E5F6", "short", "", "سلسلة عربية", strings.Repeat("x", 1024)}
	for _, p := range plaintexts {
		blob := fc.Encrypt(p)
		if got := fc.Decrypt(blob); got != p {
			t.Errorf("round trip failed for %q: got %q", p, got)
		}
	}
}

func TestEncrypt_BlobShape(t *testing.T) {
	fc := NewFieldCipher(testKey)
	blob := fc.Encrypt("A1B2C3D4E5F6")

	parts := strings.Split(blob, ":")
	if len(parts) != 3 {
		t.Fatalf("expected 3 colon-separated segments, got %d (%q)", len(parts), blob)
	}
	if len(parts[0]) != 24 { // 12-byte IV
		t.Errorf("expected 24 hex chars of IV, got %d", len(parts[0]))
	}
	if len(parts[1]) != 32 { // 16-byte tag
		t.Errorf("expected 32 hex chars of tag, got %d", len(parts[1]))
	}
}

func TestEncrypt_NonDeterministic(t *testing.T) {
	fc := NewFieldCipher(testKey)
	a := fc.Encrypt("A1B2C3D4E5F6")
	b := fc.Encrypt("A1B2C3D4E5F6")
	if a == b {
		t.Error("two encryptions of the same plaintext must differ (fresh IV per call)")
	}
}

func TestDecrypt_FailOpen(t *testing.T) {
	fc := NewFieldCipher(testKey)

	cases := []string{
		"not-a-valid-blob",
		"only:two",
		"a:b:c:d",
		"zz:zz:zz", // not hex
		"",
		"deadbeef:deadbeef:deadbeef", // wrong IV length
	}
	for _, in := range cases {
		if got := fc.Decrypt(in); got != in {
			t.Errorf("Decrypt(%q) = %q, want input unchanged", in, got)
		}
	}
}

func TestDecrypt_TamperedTag(t *testing.T) {
	fc := NewFieldCipher(testKey)
	blob := fc.Encrypt("A1B2C3D4E5F6")

	parts := strings.Split(blob, ":")
	// Flip the first tag nibble.
	flipped := "0"
	if parts[1][0] == '0' {
		flipped = "1"
	}
	tampered := parts[0] + ":" + flipped + parts[1][1:] + ":" + parts[2]

	if got := fc.Decrypt(tampered); got != tampered {
		t.Errorf("tampered blob must be returned unchanged, got %q", got)
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	fc := NewFieldCipher(testKey)
	blob := fc.Encrypt("A1B2C3D4E5F6")

	otherKey, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	other := NewFieldCipher(otherKey)
	if got := other.Decrypt(blob); got != blob {
		t.Errorf("decrypt with the wrong key must return the blob unchanged, got %q", got)
	}
}

func TestDisabledCipher_PassThrough(t *testing.T) {
	cases := []string{"", "tooshort", "not-hex-" + strings.Repeat("g", 56), testKey + "00"}
	for _, key := range cases {
		fc := NewFieldCipher(key)
		if fc.Enabled() {
			t.Fatalf("cipher must be disabled for key %q", key)
		}
		if got := fc.Encrypt("A1B2C3D4E5F6"); got != "A1B2C3D4E5F6" {
			t.Errorf("disabled Encrypt must pass through, got %q", got)
		}
		if got := fc.Decrypt("aa:bb:cc"); got != "aa:bb:cc" {
			t.Errorf("disabled Decrypt must pass through, got %q", got)
		}
	}
}

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if len(key) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(key))
	}
	if !NewFieldCipher(key).Enabled() {
		t.Error("generated key should yield an enabled cipher")
	}
}
