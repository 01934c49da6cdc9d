package api

import (
	"net/http"
	"net/url"
	"path/filepath"
	"testing"

	"vaultchat/internal/logging"
)

func TestPersistentJar_SurvivesRestartAndForgetsDeletedCookie(t *testing.T) {
	logger := logging.New(false)
	logger.SetTerminalOutputEnabled(false)
	path := filepath.Join(t.TempDir(), "cookies.json")
	refreshURL := "https://vault.example.com/api/auth/refresh"
	loginURL, _ := url.Parse("https://vault.example.com/api/auth/login")
	scope, _ := url.Parse(refreshURL)

	jar, err := NewPersistentJar(path, refreshURL, logger)
	if err != nil {
		t.Fatalf("NewPersistentJar() error = %v", err)
	}
	jar.SetCookies(loginURL, []*http.Cookie{{Name: "refresh_token", Value: "r1", Path: "/api/auth/refresh"}})

	reopened, err := NewPersistentJar(path, refreshURL, logger)
	if err != nil {
		t.Fatalf("NewPersistentJar() reopen error = %v", err)
	}
	cookies := reopened.Cookies(scope)
	if len(cookies) != 1 || cookies[0].Name != "refresh_token" || cookies[0].Value != "r1" {
		t.Fatalf("cookies after reopen = %v", cookies)
	}
	if other := reopened.Cookies(loginURL); len(other) != 0 {
		t.Fatalf("refresh cookie leaked to %s: %v", loginURL, other)
	}

	reopened.SetCookies(loginURL, []*http.Cookie{{Name: "refresh_token", Value: "", Path: "/api/auth/refresh", MaxAge: -1}})
	again, err := NewPersistentJar(path, refreshURL, logger)
	if err != nil {
		t.Fatalf("NewPersistentJar() third open error = %v", err)
	}
	if cookies := again.Cookies(scope); len(cookies) != 0 {
		t.Fatalf("deleted cookie came back: %v", cookies)
	}
}
