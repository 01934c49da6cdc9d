package app

import "errors"

var (
	ErrNotLoggedIn              = errors.New("not logged in; run the login command first")
	ErrLoggedOut                = errors.New("session ended; log in again")
	ErrRealtimeHandshakeTimeout = errors.New("realtime connect timeout")
	ErrUnknownCommand           = errors.New("unknown command")
)
