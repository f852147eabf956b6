// Package crypto seals and opens Nucleus-managed secret values.
// This is part of the Functional Core - all functions are pure with no I/O
// (apart from reading random nonces).
//
// Values are encrypted with AES-256-GCM under a key derived from the platform
// master secret and a per-service decryption context. The context is also
// bound as additional authenticated data, so a value sealed for one context
// cannot be opened under another.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrKeyTooShort is returned when the encryption key is too short.
	ErrKeyTooShort = errors.New("encryption key must be at least 32 bytes")

	// ErrInvalidCiphertext is returned when decryption fails due to invalid ciphertext.
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short")

	// ErrDecryptionFailed is returned when decryption fails (wrong key, wrong context or corrupted data).
	ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")

	// ErrEmptyMasterKey is returned when no master key material is configured.
	ErrEmptyMasterKey = errors.New("master key is empty")
)

// =============================================================================
// Key Derivation
// =============================================================================

const hkdfInfo = "nucleus-secrets-v1"

// DeriveKey derives a 32-byte AES-256 key from the master secret and a
// decryption context using HKDF-SHA256. The context acts as the salt, so
// every context gets an independent key.
//
// Note: This function is deterministic - same input always produces same output.
func DeriveKey(master []byte, context string) ([]byte, error) {
	if len(master) == 0 {
		return nil, ErrEmptyMasterKey
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, master, []byte(context), []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// =============================================================================
// AES-256-GCM Encryption
// =============================================================================

// Encrypt encrypts plaintext using AES-256-GCM with the provided key and
// additional data. The key must be at least 32 bytes; only the first 32 are
// used.
//
// The ciphertext format is: nonce (12 bytes) || encrypted data || auth tag (16 bytes)
func Encrypt(plaintext, key, additionalData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, additionalData), nil
}

// Decrypt decrypts ciphertext that was encrypted with Encrypt using the same
// key and additional data.
func Decrypt(ciphertext, key, additionalData []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize+gcm.Overhead() {
		return nil, ErrInvalidCiphertext
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) < 32 {
		return nil, ErrKeyTooShort
	}
	block, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// =============================================================================
// Sealed Values
// =============================================================================

// Seal encrypts a secret value for the given context and returns it base64
// encoded, the form stored in a service spec.
func Seal(master []byte, context, value string) (string, error) {
	key, err := DeriveKey(master, context)
	if err != nil {
		return "", err
	}
	ciphertext, err := Encrypt([]byte(value), key, []byte(context))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open reverses Seal.
func Open(master []byte, context, sealed string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	key, err := DeriveKey(master, context)
	if err != nil {
		return "", err
	}
	plaintext, err := Decrypt(ciphertext, key, []byte(context))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
