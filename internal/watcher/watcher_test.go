package watcher

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

type countingSyncer struct {
	calls atomic.Int64
}

func (c *countingSyncer) Sync(ctx context.Context) error {
	c.calls.Add(1)
	return nil
}

func TestNewValidatesArguments(t *testing.T) {
	if _, err := New(nil, t.TempDir(), nil); err == nil {
		t.Error("expected error for nil syncer")
	}
	if _, err := New(&countingSyncer{}, "", nil); err == nil {
		t.Error("expected error for empty folder")
	}
}

func TestRelevantFilter(t *testing.T) {
	w, err := New(&countingSyncer{}, t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		want bool
	}{
		{"transactions_2025-07.csv", true},
		{"members.csv", true},
		{"categories.csv", true},
		{"settings.json", true},
		{"transactions_2025-07.csv.tmp123", false},
		{".DS_Store", false},
		{"notes.txt", false},
	}
	for _, tt := range tests {
		event := fsnotify.Event{Name: filepath.Join("/ledger", tt.name), Op: fsnotify.Write}
		if got := w.relevant(event); got != tt.want {
			t.Errorf("relevant(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}

	// Chmod-only events never trigger a cycle.
	event := fsnotify.Event{Name: "/ledger/members.csv", Op: fsnotify.Chmod}
	if w.relevant(event) {
		t.Error("chmod event should be ignored")
	}
}

func TestFileChangeTriggersSync(t *testing.T) {
	dir := t.TempDir()
	syncer := &countingSyncer{}
	w, err := New(syncer, dir, &Config{
		DebounceInterval: 20 * time.Millisecond,
		PollInterval:     time.Hour,
		Logger:           log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Wait for the initial sync so the watch is established.
	waitFor(t, func() bool { return syncer.calls.Load() >= 1 })

	path := filepath.Join(dir, "transactions_2025-07.csv")
	if err := os.WriteFile(path, []byte("id\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return syncer.calls.Load() >= 2 })

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
