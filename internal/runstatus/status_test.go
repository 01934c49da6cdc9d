package runstatus

import (
	"testing"

	"vaultchat/internal/realtime"
)

func TestForState(t *testing.T) {
	tests := []struct {
		state        realtime.State
		wasConnected bool
		want         string
	}{
		{state: realtime.Connecting, want: Connecting},
		{state: realtime.Connecting, wasConnected: true, want: Reconnecting},
		{state: realtime.Connected, want: Connected},
		{state: realtime.Disconnected, wasConnected: true, want: Disconnected},
		{state: realtime.Closing, want: Disconnected},
	}
	for _, tt := range tests {
		if got := ForState(tt.state, tt.wasConnected); got != tt.want {
			t.Fatalf("ForState(%v, %v) = %q, want %q", tt.state, tt.wasConnected, got, tt.want)
		}
	}
}

func TestKey(t *testing.T) {
	if got := Key("  Disconnected (auth) "); got != KeyDisconnectedAuth {
		t.Fatalf("Key() = %q, want %q", got, KeyDisconnectedAuth)
	}
	if got := Key(LoggedOut); got != KeyLoggedOut {
		t.Fatalf("Key() = %q, want %q", got, KeyLoggedOut)
	}
}
