package bank

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"exambridge/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Bank when one of its source files changes on disk.
// Rapid successive writes (editors, exporters) are debounced into one reload.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	bank        *Bank
	debounceDur time.Duration
	pending     time.Time // zero when nothing is pending
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats WatcherStats
}

// WatcherStats tracks watcher activity.
type WatcherStats struct {
	Events        int
	Reloads       int
	Errors        int
	LastEventPath string
	LastReload    time.Time
}

// NewWatcher creates a watcher for the paths of b's last Load.
func NewWatcher(b *Bank, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		watcher:     fw,
		bank:        b,
		debounceDur: debounce,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Directories are watched directly; for files the
// parent directory is watched so atomic-rename saves are seen.
// This method is non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dirs := make(map[string]struct{})
	for _, p := range w.bank.Paths() {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			dirs[p] = struct{}{}
		} else {
			dirs[filepath.Dir(p)] = struct{}{}
		}
	}
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			logging.BankWarn("bank watcher: cannot watch %s: %v", dir, err)
			continue
		}
		logging.BankDebug("bank watcher: watching %s", dir)
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.BankWarn("bank watcher: error closing watcher: %v", err)
	}
}

// Stats returns a copy of the watcher counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.debounceDur / 4)
	defer ticker.Stop()

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
			logging.BankWarn("bank watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.reloadIfSettled()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.EqualFold(filepath.Ext(event.Name), ".json") {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if !w.relevant(event.Name) {
		return
	}
	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEventPath = event.Name
	w.pending = time.Now()
	w.mu.Unlock()
}

// relevant reports whether path is one of the bank's files or lives in one of
// its directories.
func (w *Watcher) relevant(path string) bool {
	clean := filepath.Clean(path)
	for _, p := range w.bank.Paths() {
		p = filepath.Clean(p)
		if p == clean || filepath.Dir(clean) == p {
			return true
		}
	}
	return false
}

func (w *Watcher) reloadIfSettled() {
	w.mu.Lock()
	if w.pending.IsZero() || time.Since(w.pending) < w.debounceDur {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.mu.Unlock()

	n, err := w.bank.Reload()

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.stats.Errors++
		logging.BankWarn("bank reload failed, keeping previous questions: %v", err)
		return
	}
	w.stats.Reloads++
	w.stats.LastReload = time.Now()
	logging.Bank("bank reloaded: %d questions", n)
}
