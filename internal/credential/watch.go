package credential

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"vaultchat/internal/logging"
)

// Watch keeps store in sync with changes made to the session file by other
// processes (a login or logout from another terminal). It blocks until ctx is
// done.
func Watch(ctx context.Context, file *File, store *Store, logger *logging.Logger) error {
	if logger == nil {
		panic("credential.Watch: logger must not be nil")
	}
	if err := file.ensureDir(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to initialize fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: Save replaces the file by rename.
	dir := filepath.Dir(file.Path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch session directory %s: %w", dir, err)
	}
	logger.Debug("watching session file", logging.Field("path", file.Path))

	target := filepath.Clean(file.Path)
	for {
		select {
		case <-ctx.Done():
			logger.Debug("stopping session file watch: context canceled")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			syncFromFile(file, store, logger)
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("session file watch error", logging.Field("error", watchErr))
		}
	}
}

func syncFromFile(file *File, store *Store, logger *logging.Logger) {
	loaded, present, err := file.Load()
	if err != nil {
		logger.Warn("failed to reload session file", logging.Field("error", err))
		return
	}
	current, hasCurrent := store.Get()
	switch {
	case present && (!hasCurrent || current.Token != loaded.Token):
		logger.Info("session updated by another client",
			logging.Field("token", logging.RedactToken(loaded.Token)),
		)
		store.Set(loaded)
	case !present && hasCurrent:
		logger.Info("session removed by another client")
		store.Clear()
	}
}
