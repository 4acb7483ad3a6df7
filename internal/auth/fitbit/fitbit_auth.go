package fitbit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fitbit-tools/fitbit-go/internal/browser"
	"github.com/fitbit-tools/fitbit-go/internal/config"
	"github.com/fitbit-tools/fitbit-go/internal/misc"
	"github.com/fitbit-tools/fitbit-go/internal/util"
	log "github.com/sirupsen/logrus"
)

// OAuth endpoints for the Fitbit Web API.
const (
	AuthURL  = "https://www.fitbit.com/oauth2/authorize"
	TokenURL = "https://api.fitbit.com/oauth2/token"
)

// AuthState identifies where the orchestrator is in the authorization
// state machine.
type AuthState int

// Authorization flow states. Any state can transition to StateFailed.
const (
	StateUnauthenticated AuthState = iota
	StateAwaitingCallback
	StateExchangingCode
	StateAuthenticated
	StateRefreshing
	StateFailed
)

// String returns a readable name for the state.
func (s AuthState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAwaitingCallback:
		return "awaiting_callback"
	case StateExchangingCode:
		return "exchanging_code"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// tokenResponse represents the JSON body returned by the Fitbit token
// endpoint for both the initial exchange and refreshes.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	UserID       string `json:"user_id"`
}

// FitbitAuth orchestrates the OAuth2 Authorization Code with PKCE flow:
// it builds the authorization URL, drives the browser round trip through
// the callback listener (or a manual paste fallback), exchanges the
// authorization code for a credential, and keeps the credential fresh
// through the token store.
type FitbitAuth struct {
	clientID          string
	clientSecret      string
	redirectURI       string
	scopes            []string
	useCallbackServer bool
	waitTimeout       time.Duration

	store      *TokenStore
	httpClient *http.Client

	// tokenURL defaults to TokenURL; tests point it at a local double.
	tokenURL string

	// openBrowser and readLine are swapped out in tests.
	openBrowser func(url string) error
	readLine    func(prompt string) (string, error)

	mu      sync.Mutex
	state   AuthState
	failure error
	server  *CallbackServer
}

// NewFitbitAuth creates the authorization orchestrator from the
// application configuration. A non-HTTPS redirect URI is rejected here,
// before any network or listener activity.
func NewFitbitAuth(cfg *config.Config, store *TokenStore) (*FitbitAuth, error) {
	parsed, err := url.Parse(cfg.RedirectURI)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("invalid redirect_uri: %v", err), "redirect_uri")
	}
	if parsed.Scheme != "https" {
		return nil, NewValidationError("redirect_uri must use the HTTPS protocol", "redirect_uri")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = config.DefaultScopes
	}

	auth := &FitbitAuth{
		clientID:          cfg.ClientID,
		clientSecret:      cfg.ClientSecret,
		redirectURI:       cfg.RedirectURI,
		scopes:            scopes,
		useCallbackServer: cfg.UseCallbackServer,
		waitTimeout:       cfg.CallbackTimeout(),
		store:             store,
		httpClient:        util.SetProxy(cfg, &http.Client{Timeout: 30 * time.Second}),
		tokenURL:          TokenURL,
		openBrowser:       browser.OpenURL,
		readLine:          promptStdin,
	}
	store.SetRefresher(auth)
	return auth, nil
}

// State returns the current authorization state.
func (o *FitbitAuth) State() AuthState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// FailureReason returns the error that moved the flow into StateFailed,
// or nil.
func (o *FitbitAuth) FailureReason() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failure
}

func (o *FitbitAuth) setState(state AuthState) {
	o.mu.Lock()
	log.Debugf("Auth state: %s -> %s", o.state, state)
	o.state = state
	if state != StateFailed {
		o.failure = nil
	}
	o.mu.Unlock()
}

func (o *FitbitAuth) fail(err error) error {
	o.mu.Lock()
	log.Debugf("Auth state: %s -> %s (%v)", o.state, StateFailed, err)
	o.state = StateFailed
	o.failure = err
	o.mu.Unlock()
	return err
}

// IsAuthenticated reports whether a credential is cached and unexpired.
// It is a cheap check against expires_at; no network call is made.
func (o *FitbitAuth) IsAuthenticated() bool {
	return o.store.Current().Valid()
}

// BuildAuthorizationURL constructs the provider authorization URL for the
// given anti-forgery state and PKCE pair. Pure URL construction.
func (o *FitbitAuth) BuildAuthorizationURL(state string, pkce *PKCECodes) (string, error) {
	if pkce == nil {
		return "", NewValidationError("PKCE codes are required", "code_challenge")
	}
	params := url.Values{
		"client_id":             {o.clientID},
		"redirect_uri":          {o.redirectURI},
		"response_type":         {"code"},
		"scope":                 {strings.Join(o.scopes, " ")},
		"code_challenge":        {pkce.CodeChallenge},
		"code_challenge_method": {pkce.Method},
		"state":                 {state},
	}
	return fmt.Sprintf("%s?%s", AuthURL, params.Encode()), nil
}

// AuthorizationURL generates a fresh anti-forgery state token and PKCE
// pair and returns the authorization URL along with the state.
func (o *FitbitAuth) AuthorizationURL() (string, string, error) {
	state, err := misc.GenerateRandomState()
	if err != nil {
		return "", "", err
	}
	pkce, err := GeneratePKCECodes()
	if err != nil {
		return "", "", err
	}
	authURL, err := o.BuildAuthorizationURL(state, pkce)
	if err != nil {
		return "", "", err
	}
	return authURL, state, nil
}

// Authenticate completes the authorization flow if needed. When a valid
// credential is already cached and forceNew is false it returns
// immediately without any network call. Otherwise it runs the full
// browser round trip: fresh PKCE pair, authorization URL, callback
// capture (or manual paste), code exchange, and persistence.
func (o *FitbitAuth) Authenticate(ctx context.Context, forceNew bool) error {
	if !forceNew {
		if o.IsAuthenticated() {
			log.Debug("Using existing valid authentication")
			o.setState(StateAuthenticated)
			return nil
		}
		if credential := o.store.Load(ctx); credential != nil {
			log.Debug("Using credential restored from token cache")
			o.setState(StateAuthenticated)
			return nil
		}
	}

	pkce, err := GeneratePKCECodes()
	if err != nil {
		return o.fail(err)
	}
	state, err := misc.GenerateRandomState()
	if err != nil {
		return o.fail(err)
	}
	authURL, err := o.BuildAuthorizationURL(state, pkce)
	if err != nil {
		return o.fail(err)
	}

	log.Infof("Starting OAuth flow, opening browser to: %s", authURL)
	fmt.Printf("Opening browser for authorization:\n%s\n", authURL)
	if err = o.openBrowser(authURL); err != nil {
		log.Warnf("Failed to open browser automatically: %v", err)
		fmt.Println("Could not open a browser; please open the URL above manually.")
	}

	var callback *CallbackResult
	if o.useCallbackServer {
		callback, err = o.captureCallback()
	} else {
		callback, err = o.promptCallback()
	}
	if err != nil {
		return o.fail(err)
	}
	if callback.State != state {
		return o.fail(NewValidationError("OAuth state parameter mismatch", "state"))
	}

	o.setState(StateExchangingCode)
	credential, err := o.ExchangeCodeForTokens(ctx, callback.Code, pkce)
	if err != nil {
		return o.fail(err)
	}

	if err = o.store.Save(credential); err != nil {
		return o.fail(err)
	}
	o.setState(StateAuthenticated)
	log.Info("OAuth flow completed successfully")
	return nil
}

// captureCallback runs the single-use callback listener for one
// authorization attempt. The listener is always stopped on exit so the
// socket and certificate files are released on every path.
func (o *FitbitAuth) captureCallback() (*CallbackResult, error) {
	o.mu.Lock()
	if o.server != nil {
		o.mu.Unlock()
		return nil, NewSystemError("a callback listener is already active", nil)
	}
	server, err := NewCallbackServer(o.redirectURI)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.server = server
	o.state = StateAwaitingCallback
	o.mu.Unlock()

	defer func() {
		server.Stop()
		o.mu.Lock()
		o.server = nil
		o.mu.Unlock()
	}()

	if err = server.Start(); err != nil {
		return nil, err
	}

	result, err := server.WaitForCallback(o.waitTimeout)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, NewCallbackTimeoutError(
			fmt.Sprintf("no OAuth callback received within %s", o.waitTimeout))
	}
	if result.Errored() {
		return nil, ClassifyErrorType(result.Error, result.ErrorDescription, http.StatusBadRequest)
	}
	return result, nil
}

// promptCallback asks the user to paste the full redirect URL when no
// callback listener is configured.
func (o *FitbitAuth) promptCallback() (*CallbackResult, error) {
	o.setState(StateAwaitingCallback)
	log.Info("Waiting for manual callback URL entry")

	line, err := o.readLine("Enter the full callback URL you were redirected to: ")
	if err != nil {
		return nil, NewSystemError("failed to read callback URL", err)
	}
	parsed, err := misc.ParseOAuthCallback(line)
	if err != nil || parsed == nil {
		return nil, NewValidationError("could not parse the pasted callback URL", "oauth_callback")
	}
	if parsed.Error != "" {
		return nil, ClassifyErrorType(parsed.Error, parsed.ErrorDescription, http.StatusBadRequest)
	}
	return &CallbackResult{
		Code:  parsed.Code,
		State: parsed.State,
	}, nil
}

// ExchangeCodeForTokens exchanges an authorization code, together with the
// PKCE verifier, for a credential at the token endpoint. The client
// authenticates with HTTP Basic auth.
func (o *FitbitAuth) ExchangeCodeForTokens(ctx context.Context, code string, pkce *PKCECodes) (*Credential, error) {
	if pkce == nil {
		return nil, NewValidationError("PKCE codes are required for token exchange", "code_verifier")
	}

	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {o.clientID},
		"redirect_uri":  {o.redirectURI},
		"code_verifier": {pkce.CodeVerifier},
	}
	return o.postTokenEndpoint(ctx, data)
}

// RefreshTokens exchanges a refresh token for a new credential. It does
// not persist the result; Refresh and the token store handle persistence.
func (o *FitbitAuth) RefreshTokens(ctx context.Context, refreshToken string) (*Credential, error) {
	if refreshToken == "" {
		return nil, NewValidationError("refresh token is required", "refresh_token")
	}

	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {o.clientID},
	}
	return o.postTokenEndpoint(ctx, data)
}

// Refresh renews the credential with the given refresh token and persists
// the result. On failure the cached credential is left untouched and the
// classified error is returned.
func (o *FitbitAuth) Refresh(ctx context.Context, refreshToken string) (*Credential, error) {
	o.setState(StateRefreshing)
	credential, err := o.RefreshTokens(ctx, refreshToken)
	if err != nil {
		o.fail(err)
		return nil, err
	}
	if err = o.store.Save(credential); err != nil {
		o.fail(err)
		return nil, err
	}
	o.setState(StateAuthenticated)
	log.Debug("Token refreshed successfully")
	return credential, nil
}

// postTokenEndpoint performs a form-encoded POST to the token endpoint
// with HTTP Basic client authentication and converts the response into a
// credential. Non-200 responses are classified into typed errors.
func (o *FitbitAuth) postTokenEndpoint(ctx context.Context, data url.Values) (*Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(o.clientID, o.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, ClassifyResponse(resp.StatusCode, body)
	}

	return credentialFromResponse(body)
}

// credentialFromResponse converts a token endpoint response body into a
// credential with an absolute expiry timestamp.
func credentialFromResponse(body []byte) (*Credential, error) {
	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, NewSystemError("token response missing access_token", nil)
	}

	var scopes []string
	if tokenResp.Scope != "" {
		scopes = strings.Fields(tokenResp.Scope)
	}

	return &Credential{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		TokenType:    tokenResp.TokenType,
		Scope:        scopes,
		ExpiresAt:    time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second).Unix(),
		UserID:       tokenResp.UserID,
	}, nil
}

// promptStdin reads one line from standard input after printing prompt.
func promptStdin(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
