package fitbit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// expirySafetyMargin is how far in the future expires_at must lie for a
// credential to count as valid. Anything closer is treated as expired and
// refreshed or discarded.
const expirySafetyMargin = 5 * time.Minute

// Credential stores the OAuth2 tokens and metadata obtained from the token
// endpoint. It is owned by the token store and mutated only by successful
// token-exchange or refresh operations; each save is a full overwrite.
type Credential struct {
	// AccessToken is the bearer token attached to API requests.
	AccessToken string `json:"access_token"`

	// RefreshToken is exchanged for a new access token once the current
	// one expires. May be empty if the provider did not issue one.
	RefreshToken string `json:"refresh_token,omitempty"`

	// TokenType is the token scheme reported by the provider, e.g. "Bearer".
	TokenType string `json:"token_type"`

	// Scope is the set of scopes granted to this credential.
	Scope []string `json:"scope,omitempty"`

	// ExpiresAt is the absolute unix timestamp at which the access token
	// expires.
	ExpiresAt int64 `json:"expires_at"`

	// UserID is the Fitbit user id the credential belongs to.
	UserID string `json:"user_id,omitempty"`
}

// Valid reports whether the access token is usable: expires_at must be more
// than the safety margin in the future.
func (c *Credential) Valid() bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	return time.Unix(c.ExpiresAt, 0).After(time.Now().Add(expirySafetyMargin))
}

// HasScope reports whether the credential was granted the named scope.
func (c *Credential) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scope {
		if s == scope {
			return true
		}
	}
	return false
}

// ScopeString returns the scopes as the space-delimited form used on the
// wire.
func (c *Credential) ScopeString() string {
	return strings.Join(c.Scope, " ")
}

// SaveTokenToFile serializes the credential as JSON and overwrites the file
// at the given path, creating parent directories as needed.
func (c *Credential) SaveTokenToFile(path string) error {
	log.Debugf("Saving credential to %s", path)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize credential: %w", err)
	}
	if err = os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// LoadTokenFromFile reads and deserializes a credential from the given
// path. Callers decide how to treat missing or corrupt files.
func LoadTokenFromFile(path string) (*Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	var credential Credential
	if err = json.Unmarshal(data, &credential); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return &credential, nil
}
