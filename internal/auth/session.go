package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"vaultchat/internal/credential"
	"vaultchat/internal/logging"
	"vaultchat/internal/metrics"
)

var errEmptyCredential = errors.New("refresh returned an empty credential")

// Session ties the credential store to the shared refresher and owns the
// logout signal.
type Session struct {
	store     *credential.Store
	refresher *Refresher
	logger    *logging.Logger
	metrics   *metrics.Metrics

	mu        sync.Mutex
	refreshFn RefreshFunc
	listeners map[int]func(reason string)
	nextID    int
}

func NewSession(store *credential.Store, refresher *Refresher, logger *logging.Logger, m *metrics.Metrics) *Session {
	if logger == nil {
		panic("auth.NewSession: logger must not be nil")
	}
	if store == nil {
		store = credential.NewStore()
	}
	if refresher == nil {
		refresher = NewRefresher()
	}
	return &Session{
		store:     store,
		refresher: refresher,
		logger:    logger,
		metrics:   m,
		listeners: map[int]func(string){},
	}
}

// SetRefreshFunc installs the backend call used to obtain a new credential.
// The REST client needs the session-aware transport, so it is wired after
// construction.
func (s *Session) SetRefreshFunc(fn RefreshFunc) {
	s.mu.Lock()
	s.refreshFn = fn
	s.mu.Unlock()
}

func (s *Session) Store() *credential.Store {
	return s.store
}

func (s *Session) Token() string {
	return s.store.Token()
}

// Refresh joins or starts the shared refresh and returns its outcome.
// rejected is the token the server refused. If the store already holds a
// different credential and no refresh is running, that credential is
// returned without contacting the backend.
func (s *Session) Refresh(ctx context.Context, rejected string) (credential.Credential, error) {
	return s.refresher.Refresh(ctx, s.refreshOp(), s.superseded(rejected))
}

// TryRefresh is Refresh that fails with ErrRefreshInProgress instead of
// joining a refresh started by someone else.
func (s *Session) TryRefresh(ctx context.Context, rejected string) (credential.Credential, error) {
	return s.refresher.TryRefresh(ctx, s.refreshOp(), s.superseded(rejected))
}

func (s *Session) superseded(rejected string) Superseded {
	return func() (credential.Credential, bool) {
		current, ok := s.store.Get()
		if !ok || current.Token == rejected {
			return credential.Credential{}, false
		}
		return current, true
	}
}

func (s *Session) RefreshInFlight() bool {
	return s.refresher.InFlight()
}

// Invalidate clears the stored credential. Listeners run only when a
// credential was actually removed, so concurrent failures produce one
// logout signal.
func (s *Session) Invalidate(reason string) bool {
	if !s.store.Clear() {
		return false
	}
	s.logger.Warn("session invalidated", logging.Field("reason", reason))
	s.metrics.SessionInvalidated()

	s.mu.Lock()
	listeners := make([]func(string), 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.listeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(reason)
	}
	return true
}

// OnInvalidated registers fn for the logout signal and returns a func that
// removes it.
func (s *Session) OnInvalidated(fn func(reason string)) func() {
	if fn == nil {
		panic("auth.Session.OnInvalidated: fn must not be nil")
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// refreshOp wraps the backend call so the outcome is applied to the store
// exactly once, before any waiter observes it.
func (s *Session) refreshOp() RefreshFunc {
	s.mu.Lock()
	fn := s.refreshFn
	s.mu.Unlock()
	return func(ctx context.Context) (credential.Credential, error) {
		if fn == nil {
			s.metrics.RefreshResult("failure")
			s.Invalidate("credential refresh failed: " + errNoRefreshFunc.Error())
			return credential.Credential{}, fmt.Errorf("%w: %w", ErrSessionInvalidated, errNoRefreshFunc)
		}
		s.logger.Debug("refreshing credential")
		cred, err := fn(ctx)
		if err == nil && cred.IsZero() {
			err = errEmptyCredential
		}
		if err != nil {
			s.metrics.RefreshResult("failure")
			s.Invalidate("credential refresh failed: " + err.Error())
			return credential.Credential{}, fmt.Errorf("%w: %w", ErrSessionInvalidated, err)
		}
		s.store.Set(cred)
		s.metrics.RefreshResult("success")
		s.logger.Info("credential refreshed", logging.Field("token", logging.RedactToken(cred.Token)))
		return cred, nil
	}
}
