// Package config provides configuration management for the Fitbit client.
// It handles loading and parsing YAML configuration files with environment
// variable fallbacks, and provides structured access to OAuth client
// settings, token cache location, and logging options.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultCallbackTimeout is how long the flow waits for the OAuth redirect
// callback before giving up.
const DefaultCallbackTimeout = 300 * time.Second

// DefaultScopes is the full scope list requested when the configuration
// does not narrow it down.
var DefaultScopes = []string{
	"activity",
	"cardio_fitness",
	"electrocardiogram",
	"heartrate",
	"irregular_rhythm_notifications",
	"location",
	"nutrition",
	"oxygen_saturation",
	"profile",
	"respiratory_rate",
	"settings",
	"sleep",
	"social",
	"temperature",
	"weight",
}

// Config represents the application's configuration, loaded from a YAML
// file with environment variable fallbacks for the OAuth client values.
type Config struct {
	// ClientID is the Fitbit API application client id.
	ClientID string `yaml:"client-id"`

	// ClientSecret is the Fitbit API application client secret.
	ClientSecret string `yaml:"client-secret"`

	// RedirectURI is the registered OAuth redirect URI. Must use HTTPS.
	RedirectURI string `yaml:"redirect-uri"`

	// Scopes narrows the requested scope list. Empty means DefaultScopes.
	Scopes []string `yaml:"scopes,omitempty"`

	// TokenFile is the path of the persisted token cache.
	TokenFile string `yaml:"token-file,omitempty"`

	// UseCallbackServer controls whether a local HTTPS listener captures
	// the redirect, or the user pastes the callback URL manually.
	UseCallbackServer bool `yaml:"use-callback-server"`

	// CallbackTimeoutSeconds bounds the wait for the OAuth callback.
	// <= 0 means the default of 300 seconds.
	CallbackTimeoutSeconds int `yaml:"callback-timeout-seconds,omitempty"`

	// ProxyURL is the URL of an optional proxy server to use for outbound
	// requests. Supports http, https, and socks5 schemes.
	ProxyURL string `yaml:"proxy-url,omitempty"`

	// WatchTokenFile enables reloading the in-memory credential when
	// another process rewrites the token cache.
	WatchTokenFile bool `yaml:"watch-token-file,omitempty"`

	// Logging configures log verbosity and optional file output.
	Logging LoggingConfig `yaml:"logging,omitempty"`
}

// LoggingConfig holds logging behavior configuration.
type LoggingConfig struct {
	// Debug enables debug-level logging.
	Debug bool `yaml:"debug,omitempty"`

	// Dir is the directory for rotating log files. Empty logs to stderr
	// only.
	Dir string `yaml:"dir,omitempty"`

	// MaxSizeMB caps the size of a single log file before rotation.
	// <= 0 means the lumberjack default.
	MaxSizeMB int `yaml:"max-size-mb,omitempty"`

	// MaxBackups caps the number of rotated files kept on disk.
	MaxBackups int `yaml:"max-backups,omitempty"`
}

// Load reads the YAML configuration at path. A missing file is not an
// error; the zero config with env fallbacks and defaults is returned so
// the client can run from environment variables alone.
func Load(path string) (*Config, error) {
	cfg := &Config{UseCallbackServer: true}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnv fills empty OAuth client fields from the environment. The CLI
// loads a .env file into the environment before calling Load.
func (c *Config) applyEnv() {
	if c.ClientID == "" {
		c.ClientID = os.Getenv("FITBIT_CLIENT_ID")
	}
	if c.ClientSecret == "" {
		c.ClientSecret = os.Getenv("FITBIT_CLIENT_SECRET")
	}
	if c.RedirectURI == "" {
		c.RedirectURI = os.Getenv("FITBIT_REDIRECT_URI")
	}
	if c.TokenFile == "" {
		c.TokenFile = os.Getenv("FITBIT_TOKEN_FILE")
	}
}

func (c *Config) applyDefaults() {
	if len(c.Scopes) == 0 {
		c.Scopes = append([]string(nil), DefaultScopes...)
	}
	if c.TokenFile == "" {
		c.TokenFile = filepath.Join(os.TempDir(), "fitbit-tokens.json")
	}
}

// CallbackTimeout returns the configured callback wait timeout as a
// duration.
func (c *Config) CallbackTimeout() time.Duration {
	if c.CallbackTimeoutSeconds <= 0 {
		return DefaultCallbackTimeout
	}
	return time.Duration(c.CallbackTimeoutSeconds) * time.Second
}

// Validate checks that the required OAuth client settings are present.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client-id is required (config file or FITBIT_CLIENT_ID)")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client-secret is required (config file or FITBIT_CLIENT_SECRET)")
	}
	if c.RedirectURI == "" {
		return fmt.Errorf("redirect-uri is required (config file or FITBIT_REDIRECT_URI)")
	}
	return nil
}
