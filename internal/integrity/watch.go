package integrity

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates the status cache whenever a critical file is written, replaced or
// removed, including by other processes. It blocks until ctx is cancelled.
//
// Parent directories are watched rather than the files themselves: atomic writes
// replace the inode, which would silently end a per-file watch.
func (m *Monitor) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	names := make(map[string]bool, len(m.specs))
	dirs := make(map[string]bool)
	for _, spec := range m.specs {
		abs, err := filepath.Abs(filepath.Clean(spec.Path))
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", spec.Path, err)
		}
		names[filepath.Base(abs)] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !names[filepath.Base(event.Name)] || !relevant(event) {
				continue
			}
			m.log.Debug("critical file changed", "file", filepath.Base(event.Name), "op", event.Op.String())
			m.Invalidate()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("file watcher error", "error", err.Error())
		}
	}
}

func relevant(event fsnotify.Event) bool {
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}
