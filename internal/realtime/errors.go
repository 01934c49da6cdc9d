package realtime

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotConnected   = errors.New("realtime connection is not established")
	ErrNoCredential   = errors.New("no credential available for realtime connection")
	ErrClosed         = errors.New("realtime connection closed")
	ErrAlreadyStarted = errors.New("realtime connection already started")
	ErrStopped        = errors.New("realtime session loop is not running")
)

// HandshakeError reports a connection attempt the server refused, either at
// the WebSocket upgrade (StatusCode set) or with a STOMP ERROR frame in reply
// to CONNECT.
type HandshakeError struct {
	StatusCode int
	Status     string
	Err        error
}

func (e *HandshakeError) Error() string {
	if e == nil {
		return "realtime handshake failed"
	}
	msg := "realtime handshake rejected"
	if e.Status != "" {
		msg += ": " + e.Status
	} else if e.StatusCode != 0 {
		msg += fmt.Sprintf(": http status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

func (e *HandshakeError) Unauthorized() bool {
	return e != nil && e.StatusCode == http.StatusUnauthorized
}

func isUnauthorizedHandshake(err error) bool {
	var handshakeErr *HandshakeError
	return errors.As(err, &handshakeErr) && handshakeErr.Unauthorized()
}

// FrameError marks an inbound frame that could not be decoded. The link is
// still usable and the frame is dropped.
type FrameError struct {
	Command string
	Err     error
}

func (e *FrameError) Error() string {
	if e.Command == "" {
		return "malformed frame: " + e.Err.Error()
	}
	return fmt.Sprintf("malformed %s frame: %v", e.Command, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// ServerError is a STOMP ERROR frame received on an established link. The
// server closes the connection after sending it.
type ServerError struct {
	Message string
	Detail  string
}

func (e *ServerError) Error() string {
	if e.Detail == "" {
		return "server error: " + e.Message
	}
	return fmt.Sprintf("server error: %s: %s", e.Message, e.Detail)
}
