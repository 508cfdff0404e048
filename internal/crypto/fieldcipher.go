// Package crypto provides AES-256-GCM authenticated encryption for short
// secret strings stored at rest in the database, specifically access codes.
// The stored copy exists only so an administrator can re-display a code they
// issued; authorization decisions never read it — they go through the SHA-256
// hash column instead.
//
// The cipher is deliberately fail-open. Records created before encryption was
// provisioned, or read under a rotated/unusable key, must still render in the
// admin UI, so Decrypt returns its input unchanged whenever the blob does not
// parse or the authentication tag fails. The token verifier in internal/token
// has the opposite, fail-closed policy; do not unify the two.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"strings"
)

const (
	// ivSize is the GCM nonce length. 12 bytes is the GCM standard size; a
	// fresh random IV is drawn per Encrypt call and never reused.
	ivSize = 12

	// tagSize is the GCM authentication tag length.
	tagSize = 16

	// keySize is the AES-256 key length in bytes (64 hex characters).
	keySize = 32
)

// FieldCipher encrypts and decrypts short secret field values. A FieldCipher
// constructed with an unusable key is still a valid object: every operation
// degrades to pass-through so callers never need a nil check or error path.
type FieldCipher struct {
	key []byte // nil when the cipher is disabled
}

// NewFieldCipher builds a cipher from a 64-hex-character key string. Any other
// shape (empty, wrong length, not hex) disables the cipher rather than failing:
// callers may be inspecting data before keys are provisioned, and a hard error
// here would take the whole admin surface down with it.
func NewFieldCipher(hexKey string) *FieldCipher {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return &FieldCipher{}
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != keySize {
		slog.Warn("field cipher disabled: encryption key must be exactly 64 hex characters (32 bytes)")
		return &FieldCipher{}
	}

	keyCopy := make([]byte, keySize)
	copy(keyCopy, key)
	return &FieldCipher{key: keyCopy}
}

// Enabled reports whether a usable key is configured.
func (fc *FieldCipher) Enabled() bool {
	return fc.key != nil
}

// Encrypt seals plaintext and returns a blob of the form
// "iv_hex:tag_hex:ciphertext_hex". Two calls on the same plaintext produce
// different blobs (fresh IV), so the output is never usable for equality
// lookup — code verification goes through the hash column.
//
// Without a usable key the plaintext is returned unchanged and a warning is
// logged; callers must not assume the result is actually protected.
func (fc *FieldCipher) Encrypt(plaintext string) string {
	if !fc.Enabled() {
		slog.Warn("field cipher: no usable encryption key configured, storing value as plaintext")
		return plaintext
	}

	block, err := aes.NewCipher(fc.key)
	if err != nil {
		slog.Warn("field cipher: cipher init failed, storing value as plaintext", "error", err)
		return plaintext
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		slog.Warn("field cipher: GCM init failed, storing value as plaintext", "error", err)
		return plaintext
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		slog.Warn("field cipher: IV generation failed, storing value as plaintext", "error", err)
		return plaintext
	}

	// Seal appends ciphertext||tag; split them back apart so the stored blob
	// keeps the iv:tag:ciphertext layout the rest of the system expects.
	sealed := aead.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ciphertext)
}

// Decrypt reverses Encrypt. Any failure — not a 3-segment blob, non-hex
// segments, wrong IV length, disabled cipher, or a failing authentication
// tag — returns the input unchanged. A string that was never encrypted is
// therefore safe to pass through here.
func (fc *FieldCipher) Decrypt(blob string) string {
	parts := strings.Split(blob, ":")
	if len(parts) != 3 {
		// Not our format: treat as a plaintext legacy value.
		return blob
	}

	if !fc.Enabled() {
		return blob
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return blob
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return blob
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return blob
	}

	block, err := aes.NewCipher(fc.key)
	if err != nil {
		return blob
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return blob
	}

	plaintext, err := aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		// Tag verification failed: wrong key or tampered record. Surface the
		// stored value rather than erroring so display paths keep working.
		return blob
	}

	return string(plaintext)
}

// GenerateKey creates a cryptographically secure random 32-byte key, returned
// as the 64-hex-character string the configuration expects.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}
