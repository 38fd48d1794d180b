// Package watcher triggers sync cycles when the shared ledger folder
// changes on disk.
//
// The watcher:
// 1. Watches the ledger folder for changes to the CSV and settings files
// 2. Debounces rapid bursts (cloud clients mirror files in several steps)
// 3. Falls back to a periodic sync so missed events cannot strand changes
// 4. Shuts down when its context is cancelled
package watcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/famledger/famledger/internal/codec"
)

// Syncer runs one merge cycle. Calls may overlap; the implementation
// coalesces them.
type Syncer interface {
	Sync(ctx context.Context) error
}

// Config holds watcher tuning knobs.
type Config struct {
	// DebounceInterval is how long the folder must stay quiet before a
	// burst of file events triggers a sync. Cloud clients write temp
	// files and rename, so a single remote change arrives as several
	// events.
	DebounceInterval time.Duration

	// PollInterval is the fallback full-sync cadence. Some network
	// mounts deliver no change notifications at all.
	PollInterval time.Duration

	// Logger for watcher activity. Defaults to stderr.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 500 * time.Millisecond,
		PollInterval:     5 * time.Minute,
		Logger:           log.New(os.Stderr, "[watch] ", log.LstdFlags),
	}
}

// Watcher observes one ledger folder and drives a Syncer.
type Watcher struct {
	syncer Syncer
	dir    string
	cfg    *Config

	mu        sync.Mutex
	lastEvent time.Time
	dirty     bool
}

// New creates a watcher for the given ledger folder.
func New(syncer Syncer, dir string, cfg *Config) (*Watcher, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("ledger folder cannot be empty")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[watch] ", log.LstdFlags)
	}
	return &Watcher{syncer: syncer, dir: dir, cfg: cfg}, nil
}

// Run watches the folder and syncs until ctx is cancelled. It performs
// one sync up front so a freshly started watcher converges immediately.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.cfg.Logger.Printf("watching %s", w.dir)

	if err := w.syncer.Sync(ctx); err != nil {
		w.cfg.Logger.Printf("WARNING: initial sync: %v", err)
	}

	debounce := time.NewTicker(w.cfg.DebounceInterval)
	defer debounce.Stop()
	poll := time.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.relevant(event) {
				w.markDirty()
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.cfg.Logger.Printf("WARNING: watch error: %v", err)

		case <-debounce.C:
			if w.takeDirtyIfQuiet() {
				w.runSync(ctx)
			}

		case <-poll.C:
			w.runSync(ctx)
		}
	}
}

func (w *Watcher) runSync(ctx context.Context) {
	if err := w.syncer.Sync(ctx); err != nil {
		w.cfg.Logger.Printf("WARNING: sync: %v", err)
	}
}

// relevant reports whether the event touches a ledger file. Temp files
// from atomic writes and unrelated clutter in the folder are ignored.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(event.Name)
	switch name {
	case codec.MembersFile, codec.CategoriesFile, codec.SettingsFile:
		return true
	}
	_, ok := codec.MonthBucketFromFile(name)
	return ok
}

func (w *Watcher) markDirty() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dirty = true
	w.lastEvent = time.Now()
}

// takeDirtyIfQuiet consumes the dirty flag once the folder has been
// quiet for a full debounce interval.
func (w *Watcher) takeDirtyIfQuiet() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dirty || time.Since(w.lastEvent) < w.cfg.DebounceInterval {
		return false
	}
	w.dirty = false
	return true
}
