package prompt

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"council/internal/logging"
)

// RulesWatcher watches the system rules file and logs a cache invalidation
// warning when it changes mid-session. It never blocks or fails a turn; the
// assembler picks up the new content on its next load.
type RulesWatcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	path    string
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewRulesWatcher creates a watcher for the given system rules file.
func NewRulesWatcher(path string) (*RulesWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &RulesWatcher{
		watcher: watcher,
		path:    path,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the loop runs until Stop or ctx done.
// Editors replace files on save, so the parent directory is watched and
// events are filtered to the rules file.
func (w *RulesWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	// Mark running only once the watch is in place, so a failed Start leaves
	// Stop a no-op instead of waiting on a loop that never ran.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.running = true

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the loop to exit.
func (w *RulesWatcher) Stop() {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryPrompt).Error("rules watcher: close: %v", err)
	}
}

func (w *RulesWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryPrompt).Error("rules watcher: %v", err)
		}
	}
}

func (w *RulesWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	logging.Get(logging.CategoryPrompt).Warn(
		"system rules file %s changed mid-session, KV cache will be invalidated on next turn", w.path)
}
