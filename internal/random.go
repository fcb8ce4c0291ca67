package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

// NonceSize is the number of random bytes behind every challenge nonce.
const NonceSize = 32

var errInvalidNonce = errors.New("invalid nonce")

// NewNonce returns NonceSize random bytes encoded as unpadded base64url.
func NewNonce() (string, error) {
	var raw [NonceSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ValidateNonce checks that nonce decodes to exactly NonceSize bytes.
func ValidateNonce(nonce string) error {
	raw, err := base64.RawURLEncoding.DecodeString(nonce)
	if err != nil {
		return err
	}
	if len(raw) != NonceSize {
		return errInvalidNonce
	}
	return nil
}

// NonceKey derives the storage key for a nonce so raw nonces never reach a backend.
func NonceKey(nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	return hex.EncodeToString(sum[:])
}

// EqualNonce compares two nonces in constant time.
func EqualNonce(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// NewSessionID returns a random verification session identifier.
func NewSessionID() string {
	return uuid.NewString()
}
