package fitbit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// TokenRefresher exchanges a refresh token for a new credential over the
// network without persisting it. Implemented by FitbitAuth.
type TokenRefresher interface {
	RefreshTokens(ctx context.Context, refreshToken string) (*Credential, error)
}

// TokenStore owns the persisted credential cache: a JSON file at a
// configurable path plus an in-memory copy. It is the only component that
// mutates either, and every mutation is a full overwrite, so a single
// mutex around save/load suffices.
type TokenStore struct {
	path string

	mu         sync.Mutex
	credential *Credential
	refresher  TokenRefresher

	listenerMu sync.Mutex
	listeners  []func(*Credential)

	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// NewTokenStore creates a token store backed by the JSON file at path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// SetRefresher installs the refresher used to renew expired credentials
// during Load.
func (s *TokenStore) SetRefresher(refresher TokenRefresher) {
	s.mu.Lock()
	s.refresher = refresher
	s.mu.Unlock()
}

// OnChange registers a listener invoked after every successful save and
// after external cache-file changes picked up by Watch. Collaborators use
// it to persist or propagate the new credential.
func (s *TokenStore) OnChange(listener func(*Credential)) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, listener)
	s.listenerMu.Unlock()
}

// Current returns the in-memory credential without touching the disk or
// the network. May be nil.
func (s *TokenStore) Current() *Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential
}

// Load reads the cache file and returns a usable credential, or nil when
// none is available. It never returns an error to the caller:
//
//   - missing file, unreadable JSON, or I/O errors mean "no cached
//     credential";
//   - an expired credential with a refresh token triggers exactly one
//     refresh attempt, persisted on success;
//   - a refresh rejected as an invalid or expired grant yields nil,
//     forcing a full reauthorization;
//   - any other refresh failure is logged and yields nil.
func (s *TokenStore) Load(ctx context.Context) *Credential {
	s.mu.Lock()
	defer s.mu.Unlock()

	credential, err := LoadTokenFromFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Errorf("Error loading token cache: %v", err)
		}
		return nil
	}

	if credential.Valid() {
		log.Debugf("Loaded valid credential from %s", s.path)
		s.credential = credential
		return credential
	}

	log.Info("Cached credential expired or about to expire")
	if credential.RefreshToken == "" || s.refresher == nil {
		return nil
	}

	log.Debug("Attempting to refresh expired credential")
	refreshed, err := s.refresher.RefreshTokens(ctx, credential.RefreshToken)
	if err != nil {
		if IsInvalidGrant(err) {
			log.Warnf("Refresh token rejected, full reauthorization required: %v", err)
		} else {
			log.Errorf("Failed to refresh credential: %v", err)
		}
		return nil
	}

	if err = s.saveLocked(refreshed); err != nil {
		log.Errorf("Failed to persist refreshed credential: %v", err)
		return nil
	}
	s.notify(refreshed)
	return refreshed
}

// Save serializes the credential, overwrites the cache file, updates the
// in-memory copy, and fires the change listeners once.
func (s *TokenStore) Save(credential *Credential) error {
	s.mu.Lock()
	err := s.saveLocked(credential)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(credential)
	return nil
}

// Path returns the cache file location.
func (s *TokenStore) Path() string { return s.path }

func (s *TokenStore) saveLocked(credential *Credential) error {
	if err := credential.SaveTokenToFile(s.path); err != nil {
		return err
	}
	s.credential = credential
	return nil
}

func (s *TokenStore) notify(credential *Credential) {
	s.listenerMu.Lock()
	listeners := make([]func(*Credential), len(s.listeners))
	copy(listeners, s.listeners)
	s.listenerMu.Unlock()
	for _, listener := range listeners {
		listener(credential)
	}
}

// Watch begins monitoring the cache file for external rewrites. When
// another process replaces the file, the in-memory copy is reloaded and
// the change listeners fire. Stop the watch with Close.
func (s *TokenStore) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the parent directory: editors and atomic writers replace the
	// file by rename, which drops a watch set on the file itself.
	if err = watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return err
	}

	s.watcher = watcher
	s.watchDone = make(chan struct{})

	go func() {
		defer close(s.watchDone)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != s.path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				s.reloadFromDisk()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("Token cache watcher error: %v", err)
			}
		}
	}()

	log.Debugf("Watching token cache %s for external changes", s.path)
	return nil
}

// Close stops the cache-file watcher if one is running.
func (s *TokenStore) Close() error {
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	<-s.watchDone
	s.watcher = nil
	return err
}

func (s *TokenStore) reloadFromDisk() {
	credential, err := LoadTokenFromFile(s.path)
	if err != nil {
		log.Debugf("Ignoring unreadable token cache update: %v", err)
		return
	}

	s.mu.Lock()
	changed := s.credential == nil || s.credential.AccessToken != credential.AccessToken
	if changed {
		s.credential = credential
	}
	s.mu.Unlock()

	if changed {
		log.Debug("Token cache updated externally, reloaded credential")
		s.notify(credential)
	}
}
