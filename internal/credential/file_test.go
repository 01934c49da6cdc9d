package credential

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vaultchat/internal/logging"
)

func TestFile_SaveLoadRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile", "session.json")
	file := NewFile(path)

	_, ok, err := file.Load()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, file.Save(New("t1")))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, ok, err := file.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "t1", loaded.Token)

	require.NoError(t, file.Remove())
	require.NoError(t, file.Remove(), "Remove should be idempotent")
	_, ok, err = file.Load()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFile_LoadRejectsCorruptContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, _, err := NewFile(path).Load()
	require.Error(t, err)
}

func TestFile_MirrorFollowsStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	file := NewFile(path)
	store := NewStore()
	stop := file.Mirror(store, func(err error) { t.Errorf("mirror error: %v", err) })
	defer stop()

	store.Set(New("t2"))
	loaded, ok, err := file.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "t2", loaded.Token)

	store.Clear()
	_, ok, err = file.Load()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWatch_PicksUpExternalChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store := NewStore()
	logger := logging.New(false)
	logger.SetTerminalOutputEnabled(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, NewFile(path), store, logger) }()

	other := NewFile(path)
	require.Eventually(t, func() bool {
		// The watcher may not be registered yet; keep rewriting until seen.
		_ = other.Save(New("from-other-process"))
		return store.Token() == "from-other-process"
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, other.Remove())
	require.Eventually(t, func() bool {
		_, ok := store.Get()
		return !ok
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
