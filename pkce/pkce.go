// Package pkce implements the RFC 7636 verifier and challenge primitives plus
// the random state and nonce values used by the authorization flows.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

const (
	MethodS256  = "S256"
	MethodPlain = "plain"

	MinVerifierLength = 43
	MaxVerifierLength = 128
)

var (
	ErrInvalidCodeVerifier  = errors.New("invalid code verifier")
	ErrInvalidCodeChallenge = errors.New("invalid code challenge")
	ErrUnsupportedMethod    = errors.New("unsupported code challenge method")
)

// GenerateVerifier returns a 43 character verifier carrying 32 random bytes.
func GenerateVerifier() (string, error) {
	return oauth2.GenerateVerifier(), nil
}

func GenerateState() (string, error) {
	return randomString(32)
}

func GenerateNonce() (string, error) {
	return randomString(32)
}

// ValidVerifier reports whether v has an allowed length and only uses the
// unreserved characters [A-Za-z0-9-._~].
func ValidVerifier(v string) bool {
	if len(v) < MinVerifierLength || len(v) > MaxVerifierLength {
		return false
	}
	for i := 0; i < len(v); i++ {
		if !unreserved(v[i]) {
			return false
		}
	}
	return true
}

// ValidChallenge checks the shape of a challenge for method.
func ValidChallenge(method, challenge string) error {
	switch method {
	case MethodS256:
		raw, err := base64.RawURLEncoding.DecodeString(challenge)
		if err != nil || len(raw) != sha256.Size {
			return ErrInvalidCodeChallenge
		}
		return nil
	case MethodPlain:
		if !ValidVerifier(challenge) {
			return ErrInvalidCodeChallenge
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
}

func ChallengeS256(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// Verify re-derives the challenge from verifier with method and compares it
// in constant time.
func Verify(method, verifier, challenge string) error {
	if !ValidVerifier(verifier) {
		return ErrInvalidCodeVerifier
	}

	var derived string
	switch method {
	case MethodS256:
		derived = ChallengeS256(verifier)
	case MethodPlain:
		derived = verifier
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}

	if subtle.ConstantTimeCompare([]byte(derived), []byte(challenge)) != 1 {
		return ErrInvalidCodeVerifier
	}
	return nil
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func unreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}
