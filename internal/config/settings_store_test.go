package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestSettingsSaveLoadAndPath(t *testing.T) {
	root := t.TempDir()
	if runtime.GOOS == "windows" {
		t.Setenv("AppData", root)
	} else {
		t.Setenv("XDG_CONFIG_HOME", root)
	}

	path, err := SettingsPath()
	if err != nil {
		t.Fatalf("SettingsPath() error = %v", err)
	}
	wantPath := filepath.Join(root, "vaultchat", "settings.json")
	if runtime.GOOS == "linux" && path != wantPath {
		t.Fatalf("SettingsPath() = %q, want %q", path, wantPath)
	}

	in := ClientSettings{
		BaseURL:          "https://vault.example.com",
		Username:         "alice",
		Debug:            true,
		RefreshCollision: "await",
	}
	if err := SaveSettings(in); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}
	out, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if out != in {
		t.Fatalf("loaded settings = %#v, want %#v", out, in)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil || len(entries) != 1 {
		t.Fatalf("settings dir should hold only settings.json, entries = %v, err = %v", entries, err)
	}
}

func TestLoadSettings_MissingFileIsEmpty(t *testing.T) {
	root := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", root)
	t.Setenv("AppData", root)
	t.Setenv("HOME", root)

	got, err := LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if got != (ClientSettings{}) {
		t.Fatalf("LoadSettings() = %#v, want zero", got)
	}
}

func TestMergeOptionsWithSettings_PrefersCLI(t *testing.T) {
	merged := MergeOptionsWithSettings(
		Options{
			BaseURL:     "https://cli.example.com",
			Username:    "",
			Debug:       false,
			SessionFile: "/tmp/cli-session.json",
		},
		ClientSettings{
			BaseURL:          "https://saved.example.com",
			Username:         "saved-user",
			Debug:            true,
			RefreshCollision: "await",
			SessionFile:      "/saved/session.json",
		},
	)

	if merged.BaseURL != "https://cli.example.com" {
		t.Fatalf("BaseURL = %q", merged.BaseURL)
	}
	if merged.Username != "saved-user" {
		t.Fatalf("Username = %q", merged.Username)
	}
	if !merged.Debug {
		t.Fatalf("Debug should merge from saved when CLI false: %#v", merged)
	}
	if merged.RefreshCollision != "await" {
		t.Fatalf("RefreshCollision = %q", merged.RefreshCollision)
	}
	if merged.SessionFile != "/tmp/cli-session.json" {
		t.Fatalf("SessionFile = %q", merged.SessionFile)
	}
}

func TestSettingsFromOptions_TrimsValues(t *testing.T) {
	got := SettingsFromOptions(Options{BaseURL: " https://vault.example.com ", Username: " alice ", Debug: true, SessionFile: " s.json "})
	want := ClientSettings{BaseURL: "https://vault.example.com", Username: "alice", Debug: true, SessionFile: "s.json"}
	if got != want {
		t.Fatalf("SettingsFromOptions() = %#v, want %#v", got, want)
	}
}
