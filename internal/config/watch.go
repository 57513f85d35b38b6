package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events editors produce on save.
const watchDebounce = 250 * time.Millisecond

// Watch reloads the config at path whenever it changes and passes each
// successfully parsed result, with the digest of its bytes, to onChange. Parse errors are logged and the
// previous config stays in effect. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file so that editors that
// save by rename keep triggering events.
func Watch(ctx context.Context, path string, onChange func(*Config, Digest), logf func(format string, args ...interface{})) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			pending = time.After(watchDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logf("Config watcher error: %v", err)

		case <-pending:
			pending = nil
			cfg, sum, err := LoadDigest(path)
			if err != nil {
				logf("Ignoring config change: %v", err)
				continue
			}
			onChange(cfg, sum)
		}
	}
}
