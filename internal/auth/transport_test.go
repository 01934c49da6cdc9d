package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vaultchat/internal/credential"
	"vaultchat/internal/logging"
	"vaultchat/internal/metrics"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func respond(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}
}

func newTestSession(t *testing.T, refresh RefreshFunc) (*Session, *credential.Store) {
	t.Helper()
	logger := logging.New(false)
	logger.SetTerminalOutputEnabled(false)
	store := credential.NewStore()
	session := NewSession(store, NewRefresher(), logger, metrics.New(nil))
	session.SetRefreshFunc(refresh)
	return session, store
}

func newTestClient(session *Session, policy CollisionPolicy, base http.RoundTripper) *http.Client {
	logger := logging.New(false)
	logger.SetTerminalOutputEnabled(false)
	return &http.Client{Transport: NewTransport(base, session, policy, logger, nil)}
}

func countInvalidations(session *Session) *atomic.Int32 {
	var n atomic.Int32
	session.OnInvalidated(func(string) { n.Add(1) })
	return &n
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestTransport_AttachesBearerExceptOnExemptEndpoints(t *testing.T) {
	session, store := newTestSession(t, nil)
	store.Set(credential.New("t1"))

	seen := map[string]string{}
	client := newTestClient(session, CollisionLogout, roundTripFunc(func(r *http.Request) (*http.Response, error) {
		seen[r.URL.Path] = r.Header.Get("Authorization")
		return respond(r, http.StatusOK, "{}"), nil
	}))

	for _, path := range []string{"/api/private-chats/user-chats", "/api/auth/login", "/api/auth/register", "/api/auth/refresh"} {
		resp, err := client.Get("https://chat.example.test" + path)
		require.NoError(t, err)
		resp.Body.Close()
	}

	require.Equal(t, "Bearer t1", seen["/api/private-chats/user-chats"])
	require.Empty(t, seen["/api/auth/login"])
	require.Empty(t, seen["/api/auth/register"])
	require.Empty(t, seen["/api/auth/refresh"])
}

func TestTransport_RefreshesAndRetriesOnceWithNewToken(t *testing.T) {
	var refreshes atomic.Int32
	session, store := newTestSession(t, func(context.Context) (credential.Credential, error) {
		refreshes.Add(1)
		return credential.New("t2"), nil
	})
	store.Set(credential.New("t1"))

	var bodies []string
	client := newTestClient(session, CollisionLogout, roundTripFunc(func(r *http.Request) (*http.Response, error) {
		data, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(data))
		if r.Header.Get("Authorization") == "Bearer t2" {
			return respond(r, http.StatusOK, `{"ok":true}`), nil
		}
		return respond(r, http.StatusUnauthorized, `{"error":"expired"}`), nil
	}))

	req, err := http.NewRequest(http.MethodPost, "https://chat.example.test/api/private-chats/send", io.NopCloser(strings.NewReader("payload")))
	require.NoError(t, err)
	req.GetBody = nil

	resp, err := client.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `{"ok":true}`, readBody(t, resp))
	require.EqualValues(t, 1, refreshes.Load())
	require.Equal(t, []string{"payload", "payload"}, bodies, "retry must replay the original body")
	require.Equal(t, "t2", store.Token())
}

func TestTransport_RetryThatFailsAgainIsSurfaced(t *testing.T) {
	var refreshes atomic.Int32
	session, store := newTestSession(t, func(context.Context) (credential.Credential, error) {
		refreshes.Add(1)
		return credential.New("t2"), nil
	})
	store.Set(credential.New("t1"))

	var requests atomic.Int32
	client := newTestClient(session, CollisionLogout, roundTripFunc(func(r *http.Request) (*http.Response, error) {
		requests.Add(1)
		return respond(r, http.StatusUnauthorized, "still no"), nil
	}))

	resp, err := client.Get("https://chat.example.test/api/private-chats/user-chats")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
	require.EqualValues(t, 1, refreshes.Load())
	require.EqualValues(t, 2, requests.Load())
}

func TestTransport_RefreshFailureSurfacesOriginalAndLogsOutOnce(t *testing.T) {
	session, store := newTestSession(t, func(context.Context) (credential.Credential, error) {
		return credential.Credential{}, &HTTPStatusError{StatusCode: http.StatusUnauthorized, Status: "401 Unauthorized"}
	})
	store.Set(credential.New("t1"))
	logouts := countInvalidations(session)

	client := newTestClient(session, CollisionLogout, roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return respond(r, http.StatusUnauthorized, `{"error":"expired"}`), nil
	}))

	for i := 0; i < 2; i++ {
		resp, err := client.Get("https://chat.example.test/api/private-chats/user-chats")
		require.NoError(t, err)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, `{"error":"expired"}`, readBody(t, resp))
	}

	_, ok := store.Get()
	require.False(t, ok)
	require.EqualValues(t, 1, logouts.Load())
}

func TestTransport_UnauthorizedExemptEndpointLogsOutWithoutRefresh(t *testing.T) {
	session, store := newTestSession(t, func(context.Context) (credential.Credential, error) {
		t.Fatal("refresh endpoint failure must not trigger another refresh")
		return credential.Credential{}, nil
	})
	store.Set(credential.New("t1"))
	logouts := countInvalidations(session)

	client := newTestClient(session, CollisionAwait, roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return respond(r, http.StatusUnauthorized, ""), nil
	}))

	resp, err := client.Post("https://chat.example.test/api/auth/refresh", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Empty(t, store.Token())
	require.EqualValues(t, 1, logouts.Load())
}

func TestTransport_AwaitPolicySharesOneRefreshAcrossConcurrentFailures(t *testing.T) {
	const callers = 8
	var refreshes atomic.Int32
	session, store := newTestSession(t, func(context.Context) (credential.Credential, error) {
		refreshes.Add(1)
		time.Sleep(10 * time.Millisecond)
		return credential.New("t2"), nil
	})
	store.Set(credential.New("t1"))

	var arrived atomic.Int32
	allArrived := make(chan struct{})
	var retried atomic.Int32
	client := newTestClient(session, CollisionAwait, roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.Header.Get("Authorization") == "Bearer t2" {
			retried.Add(1)
			return respond(r, http.StatusOK, "ok"), nil
		}
		// Hold every first attempt until all of them were sent with t1.
		if arrived.Add(1) == callers {
			close(allArrived)
		}
		<-allArrived
		return respond(r, http.StatusUnauthorized, ""), nil
	}))

	var wg sync.WaitGroup
	statuses := make(chan int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Get("https://chat.example.test/api/private-chats/user-chats")
			if err != nil {
				statuses <- -1
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(statuses)

	for status := range statuses {
		require.Equal(t, http.StatusOK, status)
	}
	require.EqualValues(t, 1, refreshes.Load())
	require.EqualValues(t, callers, retried.Load())
	require.Equal(t, "t2", store.Token())
}

func TestTransport_LogoutPolicyCollisionSignalsLogoutForSecondRequest(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	session, store := newTestSession(t, func(context.Context) (credential.Credential, error) {
		close(started)
		<-release
		return credential.New("t2"), nil
	})
	store.Set(credential.New("t1"))
	logouts := countInvalidations(session)

	client := newTestClient(session, CollisionLogout, roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.Header.Get("Authorization") == "Bearer t2" {
			return respond(r, http.StatusOK, "ok"), nil
		}
		return respond(r, http.StatusUnauthorized, ""), nil
	}))

	first := make(chan int, 1)
	go func() {
		resp, err := client.Get("https://chat.example.test/api/a")
		if err != nil {
			first <- -1
			return
		}
		resp.Body.Close()
		first <- resp.StatusCode
	}()
	<-started

	resp, err := client.Get("https://chat.example.test/api/b")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.EqualValues(t, 1, logouts.Load())

	close(release)
	require.Equal(t, http.StatusOK, <-first, "the refresh already in flight completes independently")
	require.Equal(t, "t2", store.Token())
}

func TestTransport_CanceledWaiterReturnsContextError(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	session, store := newTestSession(t, func(context.Context) (credential.Credential, error) {
		<-release
		return credential.New("t2"), nil
	})
	store.Set(credential.New("t1"))

	client := newTestClient(session, CollisionAwait, roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return respond(r, http.StatusUnauthorized, ""), nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://chat.example.test/api/a", nil)
	require.NoError(t, err)
	_, err = client.Do(req)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseCollisionPolicy(t *testing.T) {
	policy, err := ParseCollisionPolicy("")
	require.NoError(t, err)
	require.Equal(t, CollisionLogout, policy)

	policy, err = ParseCollisionPolicy(" AWAIT ")
	require.NoError(t, err)
	require.Equal(t, CollisionAwait, policy)
	require.Equal(t, "await", policy.String())

	_, err = ParseCollisionPolicy("retry")
	require.Error(t, err)
}

func TestIsUnauthorized(t *testing.T) {
	require.True(t, IsUnauthorized(fmt.Errorf("wrapped: %w", &HTTPStatusError{StatusCode: 401})))
	require.False(t, IsUnauthorized(&HTTPStatusError{StatusCode: 403}))
	require.False(t, IsUnauthorized(nil))
}

func TestSession_RefreshWithoutRefreshFuncLogsOut(t *testing.T) {
	session, store := newTestSession(t, nil)
	store.Set(credential.New("t1"))
	logouts := countInvalidations(session)

	_, err := session.Refresh(context.Background(), "t1")
	require.ErrorIs(t, err, ErrSessionInvalidated)
	require.ErrorIs(t, err, errNoRefreshFunc)

	_, ok := store.Get()
	require.False(t, ok)
	require.EqualValues(t, 1, logouts.Load())
}
