package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ClientSettings are remembered between runs after a successful login. The
// session token is stored separately by the credential package.
type ClientSettings struct {
	BaseURL          string `json:"base_url"`
	Username         string `json:"username"`
	Debug            bool   `json:"debug,omitempty"`
	RefreshCollision string `json:"refresh_collision,omitempty"`
	SessionFile      string `json:"session_file,omitempty"`
}

func SettingsPath() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(root, "vaultchat", "settings.json"), nil
}

// LoadSettings returns the saved settings. A missing file yields zero
// settings and no error.
func LoadSettings() (ClientSettings, error) {
	path, err := SettingsPath()
	if err != nil {
		return ClientSettings{}, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ClientSettings{}, nil
	}
	if err != nil {
		return ClientSettings{}, err
	}
	var settings ClientSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return ClientSettings{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return settings, nil
}

// SaveSettings replaces the settings file atomically.
func SaveSettings(settings ClientSettings) error {
	path, err := SettingsPath()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(payload, '\n')); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// MergeOptionsWithSettings fills options the user did not pass with the
// saved values. Flags and environment always win.
func MergeOptionsWithSettings(cli Options, saved ClientSettings) Options {
	fill := func(dst *string, src string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = src
		}
	}
	fill(&cli.BaseURL, saved.BaseURL)
	fill(&cli.Username, saved.Username)
	fill(&cli.RefreshCollision, saved.RefreshCollision)
	fill(&cli.SessionFile, saved.SessionFile)
	cli.Debug = cli.Debug || saved.Debug
	return cli
}

func SettingsFromOptions(opts Options) ClientSettings {
	return ClientSettings{
		BaseURL:          strings.TrimSpace(opts.BaseURL),
		Username:         strings.TrimSpace(opts.Username),
		Debug:            opts.Debug,
		RefreshCollision: strings.TrimSpace(opts.RefreshCollision),
		SessionFile:      strings.TrimSpace(opts.SessionFile),
	}
}
