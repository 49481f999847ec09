package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls the station config file and hands validated updates to a
// callback, so NPC personas and the log level can change without a restart.
// Polling keeps the watcher portable; a 5s interval is plenty for a file an
// operator edits by hand.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu       sync.Mutex
	snap     snapshot
	done     chan struct{}
	stopOnce sync.Once
}

// snapshot is one successfully loaded state of the config file. The content
// sum distinguishes real edits from mtime-only touches.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and starts watching it for edits.
// The initial load must succeed; afterwards an invalid edit is logged and
// the last valid config stays in effect.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.snap = snap

	go w.watch()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap.cfg
}

// Stop ends the watch goroutine. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) watch() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.reload()
		}
	}
}

// reload applies the file's current contents if they changed and parse as a
// valid config. A file that fails to load leaves the previous config in
// place so a half-saved edit never takes the session down.
func (w *Watcher) reload() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	seen := w.snap.mtime
	w.mu.Unlock()
	if info.ModTime().Equal(seen) {
		// Unchanged mtime, skip the read and hash.
		return
	}

	snap, err := w.load()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if snap.sum == w.snap.sum {
		// Touched but identical, remember the new mtime only.
		w.snap.mtime = snap.mtime
		w.mu.Unlock()
		return
	}
	old := w.snap.cfg
	w.snap = snap
	w.mu.Unlock()

	slog.Info("configuration reloaded",
		"path", w.path,
		"npcs", len(snap.cfg.NPCs),
		"log_level", snap.cfg.Logging.Level,
	)

	// The callback runs outside the lock so it may call Current.
	if w.onChange != nil {
		w.onChange(old, snap.cfg)
	}
}

// load reads, hashes and validates the config file in one pass.
func (w *Watcher) load() (snapshot, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return snapshot{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
