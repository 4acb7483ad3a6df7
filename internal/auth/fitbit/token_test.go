package fitbit

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestCredentialSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	credential := &Credential{
		AccessToken:  "access-abc",
		RefreshToken: "refresh-def",
		TokenType:    "Bearer",
		Scope:        []string{"activity", "sleep"},
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		UserID:       "ABC123",
	}

	if err := credential.SaveTokenToFile(path); err != nil {
		t.Fatalf("SaveTokenToFile() error = %v", err)
	}

	loaded, err := LoadTokenFromFile(path)
	if err != nil {
		t.Fatalf("LoadTokenFromFile() error = %v", err)
	}
	if !reflect.DeepEqual(credential, loaded) {
		t.Errorf("round trip mismatch:\nsaved  %+v\nloaded %+v", credential, loaded)
	}
}

func TestCredentialValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		credential *Credential
		want       bool
	}{
		{"nil credential", nil, false},
		{"no access token", &Credential{ExpiresAt: time.Now().Add(time.Hour).Unix()}, false},
		{
			"inside safety margin",
			&Credential{AccessToken: "t", ExpiresAt: time.Now().Add(4 * time.Minute).Unix()},
			false,
		},
		{
			"already expired",
			&Credential{AccessToken: "t", ExpiresAt: time.Now().Add(-time.Minute).Unix()},
			false,
		},
		{
			"beyond safety margin",
			&Credential{AccessToken: "t", ExpiresAt: time.Now().Add(6 * time.Minute).Unix()},
			true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.credential.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCredentialScopes(t *testing.T) {
	t.Parallel()

	credential := &Credential{Scope: []string{"activity", "sleep"}}
	if !credential.HasScope("sleep") {
		t.Error("HasScope(sleep) = false")
	}
	if credential.HasScope("nutrition") {
		t.Error("HasScope(nutrition) = true")
	}
	if got := credential.ScopeString(); got != "activity sleep" {
		t.Errorf("ScopeString() = %q", got)
	}
}

func TestLoadTokenFromFileMissing(t *testing.T) {
	t.Parallel()

	if _, err := LoadTokenFromFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
