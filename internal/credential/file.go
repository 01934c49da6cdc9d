package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// File persists the current credential so a session survives restarts and
// can be shared between concurrently running clients of the same profile.
type File struct {
	Path string

	// mu serializes use of lock, which is reentrant within one process.
	mu   sync.Mutex
	lock *flock.Flock
}

type sessionFileContents struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	SavedAt   string `json:"saved_at"`
}

func DefaultSessionPath() (string, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(root, "vaultchat", "session.json"), nil
}

func NewFile(path string) *File {
	return &File{Path: path, lock: flock.New(path + ".lock")}
}

// Load reads the persisted credential. A missing file is not an error.
func (f *File) Load() (Credential, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureDir(); err != nil {
		return Credential{}, false, err
	}
	if err := f.lock.RLock(); err != nil {
		return Credential{}, false, fmt.Errorf("lock session file: %w", err)
	}
	defer func() { _ = f.lock.Unlock() }()

	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, err
	}
	contents := sessionFileContents{}
	if err := json.Unmarshal(data, &contents); err != nil {
		return Credential{}, false, fmt.Errorf("invalid session file: %w", err)
	}
	cred := New(contents.Token)
	if cred.IsZero() {
		return Credential{}, false, nil
	}
	if cred.ExpiresAt.IsZero() && contents.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(contents.ExpiresAt, 0)
	}
	return cred, true, nil
}

// Save atomically replaces the session file with cred.
func (f *File) Save(cred Credential) error {
	if cred.IsZero() {
		return f.Remove()
	}
	if err := f.ensureDir(); err != nil {
		return err
	}
	contents := sessionFileContents{
		Token:   cred.Token,
		SavedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if !cred.ExpiresAt.IsZero() {
		contents.ExpiresAt = cred.ExpiresAt.Unix()
	}
	payload, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("lock session file: %w", err)
	}
	defer func() { _ = f.lock.Unlock() }()

	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.Path)
}

func (f *File) Remove() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureDir(); err != nil {
		return err
	}
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("lock session file: %w", err)
	}
	defer func() { _ = f.lock.Unlock() }()

	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Mirror writes every change of store to the file. The returned function
// stops mirroring. Write failures are passed to onError when it is non-nil.
func (f *File) Mirror(store *Store, onError func(error)) func() {
	return store.OnChange(func(cred Credential, present bool) {
		var err error
		if present {
			err = f.Save(cred)
		} else {
			err = f.Remove()
		}
		if err != nil && onError != nil {
			onError(err)
		}
	})
}

func (f *File) ensureDir() error {
	if strings.TrimSpace(f.Path) == "" {
		return errors.New("session file path is empty")
	}
	return os.MkdirAll(filepath.Dir(f.Path), 0o700)
}
