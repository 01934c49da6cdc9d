package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerSetOutput_WritesPlainLines(t *testing.T) {
	var buf bytes.Buffer
	logger := New(false)
	logger.SetOutput(&buf)

	logger.Info("realtime connected", Field("state", "connected"))
	logger.Debug("hidden while debug disabled")

	out := buf.String()
	if !strings.Contains(out, "[INFO] realtime connected state=connected") {
		t.Fatalf("output = %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked to terminal: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("buffer output should not be styled: %q", out)
	}
}

func TestLogger_DebugEnabledAndTerminalToggle(t *testing.T) {
	var buf bytes.Buffer
	logger := New(true)
	logger.SetOutput(&buf)

	logger.Debugf("%s %s -> %s", "GET", "/api/private-chats/user-chats", "200 OK")
	logger.SetTerminalOutputEnabled(false)
	logger.Error("muted")

	out := buf.String()
	if !strings.Contains(out, "[DEBUG] GET /api/private-chats/user-chats -> 200 OK") {
		t.Fatalf("output = %q", out)
	}
	if strings.Contains(out, "muted") {
		t.Fatalf("terminal output should be disabled: %q", out)
	}
}

func TestLogger_RedactsCredentialFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(false)
	logger.SetOutput(&buf)

	logger.Warn("login failed",
		Field("username", "alice"),
		Field("password", "hunter2"),
		slog.Group("request", Field("authorization", "Bearer abcdefghijklmnop")),
	)

	out := buf.String()
	if strings.Contains(out, "hunter2") || strings.Contains(out, "abcdefghijklmnop") {
		t.Fatalf("secret leaked: %q", out)
	}
	if !strings.Contains(out, "password=***") || !strings.Contains(out, "abcd...mnop") {
		t.Fatalf("output = %q", out)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Info("ignored")
	logger.SetOutput(&bytes.Buffer{})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
