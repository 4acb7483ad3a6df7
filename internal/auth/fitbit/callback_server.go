package fitbit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// CallbackResult is the outcome captured from the provider's redirect
// request. Exactly one of (Code, Error) is set. It lives from capture until
// the first read by the orchestrator.
type CallbackResult struct {
	// Path is the full original path and query string of the callback
	// request, suitable for re-parsing as an authorization response.
	Path string
	// Code is the authorization code on success.
	Code string
	// State is the anti-forgery state parameter echoed by the provider.
	State string
	// Error is the provider error code on failure (e.g. "access_denied").
	Error string
	// ErrorDescription is the provider's human-readable failure detail.
	ErrorDescription string
}

// Errored reports whether the callback carried a provider error instead of
// an authorization code.
func (r *CallbackResult) Errored() bool { return r.Error != "" }

// CallbackServer hosts a single-use HTTPS endpoint that captures the OAuth
// redirect callback. It owns the bound socket, the ephemeral certificate
// material, and the background serving goroutine.
//
// The captured callback is published exactly once into a one-shot slot;
// subsequent requests during the same attempt never overwrite it.
type CallbackServer struct {
	host string
	port int

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cert     *ephemeralCertificate
	running  bool

	publishOnce sync.Once
	resultChan  chan *CallbackResult
	serveErr    chan error
}

// NewCallbackServer creates a callback server bound to the host and port of
// the given redirect URI. The URI must use the https scheme; anything else
// is a configuration error detected before any listener activity.
func NewCallbackServer(redirectURI string) (*CallbackServer, error) {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("invalid redirect_uri: %v", err), "redirect_uri")
	}
	if parsed.Scheme != "https" {
		return nil, NewValidationError("redirect_uri must use the HTTPS protocol", "redirect_uri")
	}
	if parsed.Hostname() == "" {
		return nil, NewValidationError("redirect_uri is missing a host", "redirect_uri")
	}

	port := 8080
	if p := parsed.Port(); p != "" {
		if _, err = fmt.Sscanf(p, "%d", &port); err != nil {
			return nil, NewValidationError(fmt.Sprintf("invalid redirect_uri port %q", p), "redirect_uri")
		}
	}

	return &CallbackServer{
		host:       parsed.Hostname(),
		port:       port,
		resultChan: make(chan *CallbackResult, 1),
		serveErr:   make(chan error, 1),
	}, nil
}

// Start generates the ephemeral certificate, binds the callback socket, and
// begins serving HTTPS on a background goroutine. It returns immediately;
// bind and certificate failures are fatal and surface here.
func (s *CallbackServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return NewSystemError("callback server is already running", nil)
	}

	cert, err := newEphemeralCertificate(s.host)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		cert.cleanup()
		return NewSystemError(fmt.Sprintf("failed to bind callback listener on %s", addr), err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleCallback)

	s.cert = cert
	s.listener = listener
	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.running = true

	go func(server *http.Server, listener net.Listener, cert *ephemeralCertificate) {
		log.Debugf("Callback server listening on https://%s", addr)
		if errServe := server.ServeTLS(listener, cert.certPath, cert.keyPath); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			select {
			case s.serveErr <- errServe:
			default:
			}
		}
	}(s.server, s.listener, s.cert)

	return nil
}

// Addr returns the bound listener address, or "" before Start. Useful when
// the redirect URI names port 0 and the OS picked an ephemeral port.
func (s *CallbackServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// WaitForCallback blocks the calling goroutine until the callback slot is
// filled or the timeout elapses. A timeout returns (nil, nil): not fatal by
// itself, surfaced by the orchestrator as "no callback received". Serving
// failures on the background goroutine surface here as errors.
func (s *CallbackServer) WaitForCallback(timeout time.Duration) (*CallbackResult, error) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil, NewSystemError("callback server not started", nil)
	}

	log.Debugf("Waiting up to %s for OAuth callback", timeout)
	select {
	case result := <-s.resultChan:
		return result, nil
	case err := <-s.serveErr:
		return nil, NewSystemError("callback server failed", err)
	case <-time.After(timeout):
		log.Error("Timed out waiting for OAuth callback")
		return nil, nil
	}
}

// Stop shuts the server down, releases the socket, and deletes the
// ephemeral certificate material. It is idempotent and safe to call even if
// Start never completed; whatever partial state exists is cleaned up.
func (s *CallbackServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.server.Shutdown(ctx); err != nil {
			log.Errorf("Error stopping callback server: %v", err)
		}
		cancel()
		s.server = nil
	}
	if s.listener != nil {
		// Shutdown closes the listener; Close again is a harmless no-op
		// that also covers the partially-started case.
		_ = s.listener.Close()
		s.listener = nil
	}
	if s.cert != nil {
		s.cert.cleanup()
		s.cert = nil
	}
	s.running = false
}

// handleCallback processes a single GET request on any path. Success and
// provider-error callbacks both fill the one-shot slot; requests missing
// the required parameters (favicon fetches and the like) leave it pending.
func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	log.Debugf("Received callback request: %s", r.URL.RequestURI())

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		errDesc := query.Get("error_description")
		if errDesc == "" {
			errDesc = "Unknown error"
		}
		s.publish(&CallbackResult{
			Path:             r.URL.RequestURI(),
			Error:            errCode,
			ErrorDescription: errDesc,
		})
		writeErrorPage(w, errDesc)
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		log.Debugf("Ignoring callback request without code/state: %s", r.URL.Path)
		writeErrorPage(w, "Missing required parameters: code, state")
		return
	}

	s.publish(&CallbackResult{
		Path:  r.URL.RequestURI(),
		Code:  code,
		State: state,
	})
	writeSuccessPage(w)
}

// publish fills the one-shot callback slot. Only the first call during an
// authentication attempt wins.
func (s *CallbackServer) publish(result *CallbackResult) {
	s.publishOnce.Do(func() {
		s.resultChan <- result
		log.Debug("OAuth callback captured")
	})
}
