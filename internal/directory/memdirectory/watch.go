package memdirectory

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"

	"github.com/linnemanlabs/go-core/log"
)

// Watch reloads the seed file at path into s on every write or create event
// until ctx is cancelled. A failed reload is logged and the previous contents
// stay active.
func (s *Store) Watch(ctx context.Context, path string, logger log.Logger) error {
	if logger == nil {
		logger = log.Nop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watch %q: %w", path, err)
	}

	logger.Info(ctx, "watching directory seed file", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// atomic saves arrive as Create after a rename
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			if err := s.Load(path); err != nil {
				logger.Error(ctx, err, "directory reload failed, keeping previous contents", "path", path)
				continue
			}
			logger.Info(ctx, "directory reloaded", "path", path, "patients", s.Len())

			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error(ctx, err, "directory watcher error", "path", path)
		}
	}
}
