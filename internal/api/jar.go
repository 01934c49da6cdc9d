package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/net/publicsuffix"

	"vaultchat/internal/logging"
)

type savedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PersistentJar is an http.CookieJar that also writes the cookies sent to
// the refresh endpoint to disk, so a saved session can still be refreshed
// after a restart.
type PersistentJar struct {
	inner  *cookiejar.Jar
	path   string
	scope  *url.URL
	logger *logging.Logger

	mu sync.Mutex
}

// NewPersistentJar loads cookies for refreshURL from path.
func NewPersistentJar(path string, refreshURL string, logger *logging.Logger) (*PersistentJar, error) {
	if logger == nil {
		panic("api.NewPersistentJar: logger must not be nil")
	}
	scope, err := url.Parse(refreshURL)
	if err != nil {
		return nil, fmt.Errorf("parse refresh URL: %w", err)
	}
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	jar := &PersistentJar{inner: inner, path: path, scope: scope, logger: logger}
	if err := jar.load(); err != nil {
		return nil, err
	}
	return jar, nil
}

func (j *PersistentJar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

func (j *PersistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.inner.SetCookies(u, cookies)
	if u.Host != j.scope.Host {
		return
	}
	if err := j.save(); err != nil {
		j.logger.Warn("failed to persist cookies", logging.Field("path", j.path), logging.Field("error", err))
	}
}

func (j *PersistentJar) load() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var saved []savedCookie
	if err := json.Unmarshal(data, &saved); err != nil {
		return fmt.Errorf("invalid cookie file: %w", err)
	}
	cookies := make([]*http.Cookie, 0, len(saved))
	for _, c := range saved {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: j.scope.Path})
	}
	j.inner.SetCookies(j.scope, cookies)
	return nil
}

func (j *PersistentJar) save() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	cookies := j.inner.Cookies(j.scope)
	saved := make([]savedCookie, 0, len(cookies))
	for _, c := range cookies {
		saved = append(saved, savedCookie{Name: c.Name, Value: c.Value})
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o700); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return err
	}
	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, j.path)
}
