package auth

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"vaultchat/internal/credential"
	"vaultchat/internal/logging"
	"vaultchat/internal/metrics"
)

// CollisionPolicy decides what happens to a 401 that arrives while another
// request is already refreshing.
type CollisionPolicy int

const (
	// CollisionLogout signals logout for the colliding request and surfaces
	// its 401. The refresh already in flight still completes.
	CollisionLogout CollisionPolicy = iota
	// CollisionAwait joins the in-flight refresh and retries with its result.
	CollisionAwait
)

func ParseCollisionPolicy(value string) (CollisionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "logout":
		return CollisionLogout, nil
	case "await":
		return CollisionAwait, nil
	default:
		return CollisionLogout, fmt.Errorf("unknown refresh collision policy %q (want logout or await)", value)
	}
}

func (p CollisionPolicy) String() string {
	if p == CollisionAwait {
		return "await"
	}
	return "logout"
}

var exemptPathMarkers = []string{"/login", "/register", "/refresh"}

// IsExempt reports whether path belongs to an endpoint that must never carry
// the bearer credential or trigger a refresh.
func IsExempt(path string) bool {
	for _, marker := range exemptPathMarkers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}

// Transport attaches the session credential to outgoing requests and recovers
// from a 401 with one shared refresh and a single retry.
type Transport struct {
	base    http.RoundTripper
	session *Session
	policy  CollisionPolicy
	logger  *logging.Logger
	metrics *metrics.Metrics
}

func NewTransport(base http.RoundTripper, session *Session, policy CollisionPolicy, logger *logging.Logger, m *metrics.Metrics) *Transport {
	if logger == nil {
		panic("auth.NewTransport: logger must not be nil")
	}
	if session == nil {
		panic("auth.NewTransport: session must not be nil")
	}
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, session: session, policy: policy, logger: logger, metrics: m}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	exempt := IsExempt(req.URL.Path)
	out, err := rewindable(req)
	if err != nil {
		return nil, err
	}
	sent := ""
	if !exempt {
		sent = t.session.Token()
		setBearer(out, sent)
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	resp, err = bufferBody(resp)
	if err != nil {
		return nil, err
	}

	if exempt {
		t.logger.Debugf("%s %s -> %s", req.Method, req.URL.Path, resp.Status)
		t.session.Invalidate("authorization rejected by " + req.URL.Path)
		return resp, nil
	}

	cred, err := t.refresh(req, sent)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			resp.Body.Close()
			return nil, err
		}
		t.logger.Debug("surfacing unauthorized response",
			logging.Field("path", req.URL.Path),
			logging.Field("error", err),
		)
		return resp, nil
	}

	retry, err := replay(out, cred.Token)
	if err != nil {
		return resp, nil
	}
	resp.Body.Close()
	t.metrics.AuthRetry()
	t.logger.Debug("retrying request with refreshed credential", logging.Field("path", req.URL.Path))
	return t.base.RoundTrip(retry)
}

func (t *Transport) refresh(req *http.Request, rejected string) (credential.Credential, error) {
	if t.policy == CollisionAwait {
		return t.session.Refresh(req.Context(), rejected)
	}
	cred, err := t.session.TryRefresh(req.Context(), rejected)
	if errors.Is(err, ErrRefreshInProgress) {
		t.metrics.RefreshResult("collision")
		t.session.Invalidate("unauthorized response while a refresh was in progress")
	}
	return cred, err
}

func setBearer(req *http.Request, token string) {
	if token == "" {
		req.Header.Del("Authorization")
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

// rewindable clones req and makes sure its body can be produced again for a
// retry.
func rewindable(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return out, nil
	}
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	out.Body, _ = out.GetBody()
	out.ContentLength = int64(len(data))
	return out, nil
}

func replay(sent *http.Request, token string) (*http.Request, error) {
	retry := sent.Clone(sent.Context())
	if sent.GetBody != nil {
		body, err := sent.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	setBearer(retry, token)
	return retry, nil
}

// bufferBody reads the response body into memory so the response can still be
// returned to the caller after the connection was released for the retry.
func bufferBody(resp *http.Response) (*http.Response, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}
