// Package crypto implements the authenticated-encryption envelope used to
// wrap channel payloads when a session secret is available. The wire form is
// hex(salt):hex(iv):hex(tag):hex(ciphertext), AES-256-GCM with a PBKDF2 key
// derived from the session secret and a per-message salt.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	ivLength   = 16
	saltLength = 64
	tagLength  = 16
	keyLength  = 32
	iterations = 100000
)

// ErrMalformedEnvelope is returned when a ciphertext string does not have
// the salt:iv:tag:data shape.
var ErrMalformedEnvelope = errors.New("malformed encryption envelope")

// Seal encrypts plaintext under the given secret and returns the envelope
// string. Each call uses a fresh salt and IV.
func Seal(plaintext []byte, secret string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	iv := make([]byte, ivLength)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generating iv: %w", err)
	}

	gcm, err := newGCM(secret, salt)
	if err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	data, tag := sealed[:len(sealed)-tagLength], sealed[len(sealed)-tagLength:]

	return strings.Join([]string{
		hex.EncodeToString(salt),
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(data),
	}, ":"), nil
}

// Open decrypts an envelope string produced by Seal.
func Open(envelope, secret string) ([]byte, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 4 {
		return nil, ErrMalformedEnvelope
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil || len(salt) != saltLength {
		return nil, ErrMalformedEnvelope
	}
	iv, err := hex.DecodeString(parts[1])
	if err != nil || len(iv) != ivLength {
		return nil, ErrMalformedEnvelope
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil || len(tag) != tagLength {
		return nil, ErrMalformedEnvelope
	}
	data, err := hex.DecodeString(parts[3])
	if err != nil {
		return nil, ErrMalformedEnvelope
	}

	gcm, err := newGCM(secret, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, iv, append(data, tag...), nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting envelope: %w", err)
	}
	return plaintext, nil
}

func newGCM(secret string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(secret), salt, iterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, ivLength)
}
