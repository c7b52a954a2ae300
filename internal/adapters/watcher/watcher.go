// Package watcher implements a single-file change notifier using fsnotify
// with a polling fallback.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// pollInterval is the fallback stat cadence for editors and filesystems
// where fsnotify misses append writes.
const pollInterval = time.Second

// FileWatcher implements the ChangeNotifier port for one file. It watches
// the file's parent directory so the target may appear, be rewritten, or
// be replaced while the watcher is running.
type FileWatcher struct {
	path     string
	debounce time.Duration

	mu      sync.RWMutex
	fsw     *fsnotify.Watcher
	running bool
	cancel  context.CancelFunc

	changes   chan struct{}
	debouncer *Debouncer

	statMu   sync.Mutex
	lastSize int64
	lastMod  time.Time
}

// New creates a watcher for the given file path.
func New(path string, debounce time.Duration) *FileWatcher {
	return &FileWatcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		changes:  make(chan struct{}, 1),
	}
}

// Start begins watching. The parent directory must exist.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		w.mu.Unlock()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.fsw = fsw

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.debouncer = NewDebouncer(w.debounce, w.notify)
	w.running = true
	w.mu.Unlock()

	w.snapshot()

	go w.loop(watchCtx, fsw)

	log.Debug().
		Str("path", w.path).
		Dur("debounce", w.debounce).
		Msg("file watcher started")
	return nil
}

// Stop terminates watching.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false

	if w.cancel != nil {
		w.cancel()
	}
	if w.debouncer != nil {
		w.debouncer.Stop()
	}
	if w.fsw != nil {
		err := w.fsw.Close()
		w.fsw = nil
		return err
	}
	return nil
}

// Changes returns the coalesced notification channel.
func (w *FileWatcher) Changes() <-chan struct{} {
	return w.changes
}

// IsRunning returns true if the watcher is active.
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *FileWatcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.trigger()
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("path", w.path).Msg("watcher error")

		case <-ticker.C:
			if w.statChanged() {
				w.trigger()
			}
		}
	}
}

func (w *FileWatcher) trigger() {
	w.mu.RLock()
	d := w.debouncer
	w.mu.RUnlock()
	if d != nil {
		d.Trigger()
	}
}

// notify records the current file state and delivers one coalesced signal.
func (w *FileWatcher) notify() {
	w.snapshot()
	select {
	case w.changes <- struct{}{}:
	default:
	}
}

// snapshot records the file's current size and mtime for the poll fallback.
func (w *FileWatcher) snapshot() {
	info, err := os.Stat(w.path)
	w.statMu.Lock()
	defer w.statMu.Unlock()
	if err != nil {
		w.lastSize = -1
		w.lastMod = time.Time{}
		return
	}
	w.lastSize = info.Size()
	w.lastMod = info.ModTime()
}

// statChanged reports whether the file grew or was rewritten since the
// last snapshot.
func (w *FileWatcher) statChanged() bool {
	info, err := os.Stat(w.path)
	w.statMu.Lock()
	defer w.statMu.Unlock()
	if err != nil {
		return false
	}
	if info.Size() != w.lastSize || info.ModTime() != w.lastMod {
		return true
	}
	return false
}
