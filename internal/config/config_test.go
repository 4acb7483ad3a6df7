package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadYAMLConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
client-id: "yaml-id"
client-secret: "yaml-secret"
redirect-uri: "https://localhost:8080"
scopes:
  - activity
  - sleep
token-file: "/tmp/custom-tokens.json"
use-callback-server: false
callback-timeout-seconds: 60
logging:
  debug: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ClientID != "yaml-id" || cfg.ClientSecret != "yaml-secret" {
		t.Errorf("client credentials = %q/%q", cfg.ClientID, cfg.ClientSecret)
	}
	if cfg.RedirectURI != "https://localhost:8080" {
		t.Errorf("RedirectURI = %q", cfg.RedirectURI)
	}
	if len(cfg.Scopes) != 2 || cfg.Scopes[0] != "activity" || cfg.Scopes[1] != "sleep" {
		t.Errorf("Scopes = %v", cfg.Scopes)
	}
	if cfg.TokenFile != "/tmp/custom-tokens.json" {
		t.Errorf("TokenFile = %q", cfg.TokenFile)
	}
	if cfg.UseCallbackServer {
		t.Error("UseCallbackServer = true, want false")
	}
	if got := cfg.CallbackTimeout(); got != 60*time.Second {
		t.Errorf("CallbackTimeout() = %s, want 60s", got)
	}
	if !cfg.Logging.Debug {
		t.Error("Logging.Debug = false")
	}
	if err = cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.UseCallbackServer {
		t.Error("UseCallbackServer default should be true")
	}
	if len(cfg.Scopes) != len(DefaultScopes) {
		t.Errorf("Scopes = %v, want the full default list", cfg.Scopes)
	}
	if cfg.TokenFile == "" {
		t.Error("TokenFile default not applied")
	}
	if got := cfg.CallbackTimeout(); got != DefaultCallbackTimeout {
		t.Errorf("CallbackTimeout() = %s, want %s", got, DefaultCallbackTimeout)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(":\n\t- broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error for malformed YAML")
	}
}

func TestEnvFallbacks(t *testing.T) {
	t.Setenv("FITBIT_CLIENT_ID", "env-id")
	t.Setenv("FITBIT_CLIENT_SECRET", "env-secret")
	t.Setenv("FITBIT_REDIRECT_URI", "https://localhost:9090")
	t.Setenv("FITBIT_TOKEN_FILE", "/tmp/env-tokens.json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ClientID != "env-id" || cfg.ClientSecret != "env-secret" {
		t.Errorf("client credentials = %q/%q", cfg.ClientID, cfg.ClientSecret)
	}
	if cfg.RedirectURI != "https://localhost:9090" {
		t.Errorf("RedirectURI = %q", cfg.RedirectURI)
	}
	if cfg.TokenFile != "/tmp/env-tokens.json" {
		t.Errorf("TokenFile = %q", cfg.TokenFile)
	}
}

func TestFileValuesWinOverEnv(t *testing.T) {
	t.Setenv("FITBIT_CLIENT_ID", "env-id")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(`client-id: "file-id"`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ClientID != "file-id" {
		t.Errorf("ClientID = %q, file value must win over the environment", cfg.ClientID)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"complete", Config{ClientID: "a", ClientSecret: "b", RedirectURI: "https://x"}, false},
		{"missing client id", Config{ClientSecret: "b", RedirectURI: "https://x"}, true},
		{"missing client secret", Config{ClientID: "a", RedirectURI: "https://x"}, true},
		{"missing redirect uri", Config{ClientID: "a", ClientSecret: "b"}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
