// Package fitbit exposes the public client surface: an authenticated HTTP
// client for the Fitbit Web API backed by the OAuth2 PKCE authorization
// flow, with credential caching, automatic refresh, and change
// notification for collaborators that persist or propagate credentials.
package fitbit

import (
	"context"
	"fmt"
	"io"
	"net/http"

	auth "github.com/fitbit-tools/fitbit-go/internal/auth/fitbit"
	"github.com/fitbit-tools/fitbit-go/internal/config"
	"github.com/fitbit-tools/fitbit-go/internal/util"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// TokenSource supplies a currently valid bearer credential. Resource
// wrappers and other collaborators depend on the auth subsystem only
// through this contract plus OnCredentialChange.
type TokenSource interface {
	Token(ctx context.Context) (*auth.Credential, error)
}

// Client is the main entry point for interacting with the Fitbit API. It
// owns the authorization orchestrator and the token store, and attaches
// bearer credentials to outgoing requests.
type Client struct {
	cfg   *config.Config
	auth  *auth.FitbitAuth
	store *auth.TokenStore

	httpClient *http.Client
}

// NewClient creates a client from the application configuration. The
// redirect URI is validated here; a non-HTTPS URI fails before any
// network or listener activity.
func NewClient(cfg *config.Config) (*Client, error) {
	store := auth.NewTokenStore(cfg.TokenFile)
	orchestrator, err := auth.NewFitbitAuth(cfg, store)
	if err != nil {
		return nil, err
	}

	if cfg.WatchTokenFile {
		if err = store.Watch(); err != nil {
			log.Warnf("Failed to watch token cache: %v", err)
		}
	}

	return &Client{
		cfg:        cfg,
		auth:       orchestrator,
		store:      store,
		httpClient: util.SetProxy(cfg, &http.Client{}),
	}, nil
}

// Auth returns the authorization orchestrator for direct flow control.
func (c *Client) Auth() *auth.FitbitAuth { return c.auth }

// Authenticate completes the OAuth flow if no valid credential is cached.
func (c *Client) Authenticate(ctx context.Context, forceNew bool) error {
	return c.auth.Authenticate(ctx, forceNew)
}

// IsAuthenticated reports whether a valid credential is available without
// touching the network.
func (c *Client) IsAuthenticated() bool { return c.auth.IsAuthenticated() }

// Token returns a currently valid credential, refreshing through the
// token store when the cached one has expired. It never starts a browser
// flow; callers needing interactive authorization use Authenticate.
func (c *Client) Token(ctx context.Context) (*auth.Credential, error) {
	if credential := c.store.Current(); credential.Valid() {
		return credential, nil
	}
	if credential := c.store.Load(ctx); credential != nil {
		return credential, nil
	}
	return nil, auth.ClassifyErrorType("authorization", "authentication required", http.StatusUnauthorized)
}

// OnCredentialChange registers a listener notified whenever the stored
// credential changes, so collaborators can persist or propagate it.
func (c *Client) OnCredentialChange(listener func(*auth.Credential)) {
	c.store.OnChange(listener)
}

// Do sends an API request with the bearer credential attached. Non-2xx
// responses are drained and classified into typed errors; the caller owns
// the response body otherwise.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	credential, err := c.Token(req.Context())
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+credential.AccessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)

	log.Debugf("API request %s %s (request_id=%s)", req.Method, req.URL.Path, requestID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, auth.ClassifyResponse(resp.StatusCode, body)
	}
	return resp, nil
}

// Close releases background resources (the token cache watcher).
func (c *Client) Close() error { return c.store.Close() }

var _ TokenSource = (*Client)(nil)
