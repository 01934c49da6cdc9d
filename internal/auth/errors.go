package auth

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRefreshInProgress is returned by TryRefresh when another refresh
	// already owns the ticket.
	ErrRefreshInProgress = errors.New("credential refresh already in progress")
	// ErrSessionInvalidated is returned when a request could not be
	// authorized and the stored credential was discarded.
	ErrSessionInvalidated = errors.New("session invalidated")
	errNoRefreshFunc      = errors.New("no refresh function configured")
)

type HTTPStatusError struct {
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "http request failed"
	}
	if e.Status != "" {
		return e.Status
	}
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// StatusError builds an HTTPStatusError from a response.
func StatusError(resp *http.Response) *HTTPStatusError {
	return &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
}

// IsUnauthorized reports whether err carries a 401 status. A 403 means the
// credential is valid but lacks access, so it never triggers a refresh.
func IsUnauthorized(err error) bool {
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode == http.StatusUnauthorized
}
