package fitbit

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PKCE verifier length bounds from RFC 7636 section 4.1.
const (
	minVerifierLength = 43
	maxVerifierLength = 128

	// verifierRandomBytes yields a 64-character verifier after base64url
	// encoding, comfortably inside the legal range.
	verifierRandomBytes = 48
)

// PKCECodes holds a PKCE code verifier and its derived challenge, used to
// bind an authorization code to the client that requested it. Regenerated
// once per authorization attempt and never persisted.
type PKCECodes struct {
	// CodeVerifier is the random URL-safe secret, 43-128 characters.
	CodeVerifier string
	// CodeChallenge is base64url(SHA-256(verifier)) without padding.
	CodeChallenge string
	// Method is the challenge derivation method, always "S256".
	Method string
}

// GeneratePKCECodes generates a PKCE code verifier and challenge pair
// following RFC 7636. The verifier is 64 URL-safe characters from a
// cryptographically secure source.
func GeneratePKCECodes() (*PKCECodes, error) {
	verifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return &PKCECodes{
		CodeVerifier:  verifier,
		CodeChallenge: generateCodeChallenge(verifier),
		Method:        "S256",
	}, nil
}

// NewPKCECodesFromVerifier derives the challenge for a caller-supplied
// verifier. Verifiers outside the legal [43,128] length range are rejected
// with a validation error before any network activity.
func NewPKCECodesFromVerifier(verifier string) (*PKCECodes, error) {
	if len(verifier) < minVerifierLength || len(verifier) > maxVerifierLength {
		return nil, NewValidationError(
			fmt.Sprintf("code verifier length must be between %d and %d characters, got %d",
				minVerifierLength, maxVerifierLength, len(verifier)),
			"code_verifier",
		)
	}
	return &PKCECodes{
		CodeVerifier:  verifier,
		CodeChallenge: generateCodeChallenge(verifier),
		Method:        "S256",
	}, nil
}

// generateCodeVerifier creates a cryptographically random URL-safe string.
func generateCodeVerifier() (string, error) {
	bytes := make([]byte, verifierRandomBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// generateCodeChallenge hashes the verifier with SHA-256 and encodes the
// digest as unpadded base64url.
func generateCodeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
