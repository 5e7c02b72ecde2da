// Package filewatch is a concrete pipeline.Input plugin: it watches a
// single file on the local filesystem and reports its contents,
// refreshing whenever fsnotify observes a write. Grounded on the
// debounced fsnotify.Watcher loop pattern used elsewhere in the
// retrieval pack for watching a single session file.
package filewatch

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/liveflow/pipeline"
)

// Contents is a file's current bytes and modification time.
type Contents struct {
	Path    string
	Bytes   []byte
	ModTime time.Time
}

// debounce is how long to wait after the last fsnotify event before
// calling refresh, coalescing rapid successive writes into one.
const debounce = 200 * time.Millisecond

// New builds an Input that reads path and refreshes on every
// (debounced) write, using pipeline.Monitor for the read/watch state
// machine, coalescing, and retry backoff.
func New(path string) pipeline.Input[Contents] {
	read := func(ctx context.Context) (Contents, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			return Contents{}, fmt.Errorf("filewatch: read %s: %w", path, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return Contents{}, fmt.Errorf("filewatch: stat %s: %w", path, err)
		}
		return Contents{Path: path, Bytes: b, ModTime: info.ModTime()}, nil
	}

	watch := func(ctx context.Context, refresh func()) error {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("filewatch: new watcher: %w", err)
		}
		defer watcher.Close()

		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("filewatch: watch %s: %w", path, err)
		}

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case event, ok := <-watcher.Events:
				if !ok {
					return fmt.Errorf("filewatch: event channel closed for %s", path)
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, refresh)
			case err, ok := <-watcher.Errors:
				if !ok {
					return fmt.Errorf("filewatch: error channel closed for %s", path)
				}
				return fmt.Errorf("filewatch: %s: %w", path, err)
			}
		}
	}

	return pipeline.NewMonitor(read, watch, fmt.Sprintf("file %s", path))
}
