package runstatus

import (
	"strings"

	"vaultchat/internal/realtime"
)

const (
	Connecting       = "Connecting"
	Connected        = "Connected"
	Reconnecting     = "Reconnecting"
	Disconnected     = "Disconnected"
	DisconnectedAuth = "Disconnected (auth)"
	LoggedOut        = "Logged out"
)

const (
	KeyConnecting       = "connecting"
	KeyConnected        = "connected"
	KeyReconnecting     = "reconnecting"
	KeyDisconnected     = "disconnected"
	KeyDisconnectedAuth = "disconnected (auth)"
	KeyLoggedOut        = "logged out"
)

func Key(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// ForState maps a connection state to a status label. wasConnected turns a
// new connection attempt into Reconnecting.
func ForState(state realtime.State, wasConnected bool) string {
	switch state {
	case realtime.Connecting:
		if wasConnected {
			return Reconnecting
		}
		return Connecting
	case realtime.Connected:
		return Connected
	default:
		return Disconnected
	}
}
