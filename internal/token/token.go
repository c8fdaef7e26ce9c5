package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	idByteLength    = 16
	tokenByteLength = 24
)

// Provider issues entity identifiers and bearer tokens. Both must be
// unguessable: identifiers address entities, tokens grant role access.
type Provider interface {
	NewID() (string, error)
	NewToken() (string, error)
}

type randomProvider struct{}

// NewRandomProvider constructs a Provider backed by crypto/rand.
func NewRandomProvider() Provider {
	return &randomProvider{}
}

func (p *randomProvider) NewID() (string, error) {
	return randomHex(idByteLength)
}

func (p *randomProvider) NewToken() (string, error) {
	return randomHex(tokenByteLength)
}

func randomHex(byteLength int) (string, error) {
	buffer := make([]byte, byteLength)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("token: read random bytes: %w", err)
	}
	return hex.EncodeToString(buffer), nil
}

// Digest returns the hex-encoded SHA-256 digest of the provided value.
// Stored credentials are compared only in digest form so a storage
// compromise never yields a usable token. An empty value digests to the
// empty string, representing an absent credential rather than a hash of "".
func Digest(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
