package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"vaultchat/internal/config"
	"vaultchat/internal/credential"
	"vaultchat/internal/logging"
	"vaultchat/internal/realtime/realtimetest"
)

func quietLogger() *logging.Logger {
	logger := logging.New(false)
	logger.SetTerminalOutputEnabled(false)
	return logger
}

func newChatsServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/private-chats/user-chats":
			if r.Header.Get("Authorization") != "Bearer t1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode([]map[string]any{{"id": 3, "username1": "alice", "username2": "dora"}})
		case "/api/auth/refresh":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func saveSession(t *testing.T, token string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.json")
	if err := credential.NewFile(path).Save(credential.New(token)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return path
}

type exitRecorder struct {
	mu   sync.Mutex
	errs []error
	done chan struct{}
}

func newExitRecorder() *exitRecorder {
	return &exitRecorder{done: make(chan struct{})}
}

func (r *exitRecorder) record(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	close(r.done)
}

func TestController_RunsCommandWithRestoredSession(t *testing.T) {
	srv := newChatsServer(t)
	var out bytes.Buffer
	exits := newExitRecorder()
	controller := NewController(context.Background())

	err := controller.Start(config.Options{
		BaseURL:     srv.URL,
		Username:    "alice",
		SessionFile: saveSession(t, "t1"),
		Command:     config.CommandChats,
	}, quietLogger(), StartHooks{Output: &out, OnExit: exits.record})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !controller.Wait(2 * time.Second) {
		t.Fatalf("controller did not finish")
	}
	<-exits.done
	if len(exits.errs) != 1 || exits.errs[0] != nil {
		t.Fatalf("exit errors = %v", exits.errs)
	}
	if got := out.String(); got != "#3 dora\n" {
		t.Fatalf("output = %q", got)
	}
	if controller.IsRunning() {
		t.Fatalf("controller should not be running")
	}
}

func TestController_LogoutOnRejectedSessionRemovesFile(t *testing.T) {
	srv := newChatsServer(t)
	sessionPath := saveSession(t, "stale")
	exits := newExitRecorder()
	controller := NewController(context.Background())

	err := controller.Start(config.Options{
		BaseURL:     srv.URL,
		SessionFile: sessionPath,
		Command:     config.CommandChats,
	}, quietLogger(), StartHooks{Output: &bytes.Buffer{}, OnExit: exits.record})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	controller.Wait(2 * time.Second)
	<-exits.done
	if exits.errs[0] == nil || controller.Err() == nil {
		t.Fatalf("expected an error for a rejected session")
	}
	if _, statErr := os.Stat(sessionPath); !os.IsNotExist(statErr) {
		t.Fatalf("session file should be removed, stat error = %v", statErr)
	}
}

func TestController_StopEndsListen(t *testing.T) {
	srv := newChatsServer(t)
	dialer := realtimetest.NewDialer()
	exits := newExitRecorder()
	var statusMu sync.Mutex
	var statuses []string
	controller := NewController(context.Background())

	err := controller.Start(config.Options{
		BaseURL:     srv.URL,
		SessionFile: saveSession(t, "t1"),
		Command:     config.CommandListen,
	}, quietLogger(), StartHooks{
		Output: &bytes.Buffer{},
		Dialer: dialer,
		OnExit: exits.record,
		OnStatus: func(status string) {
			statusMu.Lock()
			statuses = append(statuses, status)
			statusMu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := controller.Start(config.Options{BaseURL: srv.URL}, quietLogger(), StartHooks{}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start() error = %v", err)
	}
	if _, err := dialer.Next(2 * time.Second); err != nil {
		t.Fatalf("listen did not dial: %v", err)
	}

	if !controller.StopAndWait(2 * time.Second) {
		t.Fatalf("controller did not stop")
	}
	<-exits.done
	if exits.errs[0] != nil {
		t.Fatalf("exit error = %v", exits.errs[0])
	}
	if controller.Err() != nil {
		t.Fatalf("Err() = %v", controller.Err())
	}
	statusMu.Lock()
	defer statusMu.Unlock()
	if len(statuses) == 0 {
		t.Fatalf("no status reported")
	}
	if got := controller.Status(); got != statuses[len(statuses)-1] {
		t.Fatalf("Status() = %q, want last reported %q", got, statuses[len(statuses)-1])
	}
}

func TestNewService_ValidatesOptions(t *testing.T) {
	if _, err := NewService(config.Options{Command: config.CommandChats}, quietLogger()); err == nil {
		t.Fatalf("expected error without base URL")
	}
	_, err := NewService(config.Options{BaseURL: "https://vault.example.com", RefreshCollision: "retry", Command: config.CommandChats}, quietLogger())
	if err == nil {
		t.Fatalf("expected error for unknown collision policy")
	}
}
