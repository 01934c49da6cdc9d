package auth

import (
	"context"
	"sync"

	"vaultchat/internal/credential"
)

// RefreshFunc obtains a fresh credential from the backend.
type RefreshFunc func(ctx context.Context) (credential.Credential, error)

// Superseded reports a credential that already replaced the one a caller
// was rejected with. It is consulted only while no refresh is running.
type Superseded func() (credential.Credential, bool)

type ticket struct {
	done chan struct{}
	cred credential.Credential
	err  error
}

// Refresher runs at most one refresh at a time and shares its outcome with
// every caller that arrives while it is in flight.
type Refresher struct {
	mu      sync.Mutex
	current *ticket
}

func NewRefresher() *Refresher {
	return &Refresher{}
}

// Refresh joins the in-flight refresh or starts one running op. op runs on a
// context that survives cancellation of the caller which started it, so the
// outcome is still published to the other waiters. ctx only bounds how long
// this caller waits.
//
// superseded may be nil. When it reports a credential, no new refresh is
// started and that credential is returned instead.
func (r *Refresher) Refresh(ctx context.Context, op RefreshFunc, superseded Superseded) (credential.Credential, error) {
	return r.do(ctx, op, superseded, true)
}

// TryRefresh is Refresh that returns ErrRefreshInProgress instead of joining
// a refresh that is already running.
func (r *Refresher) TryRefresh(ctx context.Context, op RefreshFunc, superseded Superseded) (credential.Credential, error) {
	return r.do(ctx, op, superseded, false)
}

// InFlight reports whether a refresh ticket currently exists.
func (r *Refresher) InFlight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

func (r *Refresher) do(ctx context.Context, op RefreshFunc, superseded Superseded, join bool) (credential.Credential, error) {
	r.mu.Lock()
	t := r.current
	if t != nil && !join {
		r.mu.Unlock()
		return credential.Credential{}, ErrRefreshInProgress
	}
	if t == nil {
		if superseded != nil {
			if cred, ok := superseded(); ok {
				r.mu.Unlock()
				return cred, nil
			}
		}
		t = r.start(ctx, op)
	}
	r.mu.Unlock()
	return wait(ctx, t)
}

// start must be called with r.mu held.
func (r *Refresher) start(ctx context.Context, op RefreshFunc) *ticket {
	t := &ticket{done: make(chan struct{})}
	r.current = t
	opCtx := context.WithoutCancel(ctx)
	go func() {
		cred, err := op(opCtx)
		r.mu.Lock()
		t.cred, t.err = cred, err
		r.current = nil
		r.mu.Unlock()
		close(t.done)
	}()
	return t
}

func wait(ctx context.Context, t *ticket) (credential.Credential, error) {
	select {
	case <-t.done:
		return t.cred, t.err
	case <-ctx.Done():
		return credential.Credential{}, ctx.Err()
	}
}
