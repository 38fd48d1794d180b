package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/famledger/famledger/internal/codec"
	"github.com/famledger/famledger/internal/ledger"
	"github.com/famledger/famledger/internal/remote"
	"github.com/famledger/famledger/internal/store"
)

// device is one simulated app install: its own local cache sharing the
// ledger folder with the other devices.
type device struct {
	store  *store.Store
	engine *Engine
}

func newDevice(t *testing.T, sharedDir string) *device {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	quiet := log.New(io.Discard, "", 0)
	eng := New(st, remote.NewFolderStore(sharedDir), &Config{
		MaxAttempts:  1,
		RetryBackoff: time.Millisecond,
		Logger:       quiet,
		Audit:        quiet,
	})
	return &device{store: st, engine: eng}
}

func engineTx(id, note string, updated time.Time) ledger.Transaction {
	return ledger.Transaction{
		ID:         id,
		CreatedAt:  updated,
		UpdatedAt:  updated,
		Date:       time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC),
		Amount:     decimal.RequireFromString("18.00"),
		Type:       ledger.Expense,
		CategoryID: "cat-food",
		PayerID:    "mem-a",
		Note:       note,
		Source:     ledger.SourceManual,
		Currency:   "CNY",
	}
}

func mustSync(t *testing.T, d *device) {
	t.Helper()
	if err := d.engine.Sync(context.Background()); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
}

func readShared(t *testing.T, dir, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	return data
}

func TestFirstSyncPublishesLocalState(t *testing.T) {
	shared := t.TempDir()
	a := newDevice(t, shared)
	ctx := context.Background()

	base := time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC)
	if err := a.store.UpsertTransaction(ctx, engineTx("tx-1", "coffee", base)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	mustSync(t, a)

	data := readShared(t, shared, "transactions_2025-07.csv")
	txs, malformed, err := codec.DecodeTransactions(data)
	if err != nil || len(malformed) != 0 {
		t.Fatalf("remote file does not decode cleanly: %v %v", err, malformed)
	}
	if len(txs) != 1 || txs[0].Note != "coffee" {
		t.Fatalf("unexpected remote content: %+v", txs)
	}

	if a.engine.State() != Idle {
		t.Errorf("expected idle state after sync, got %s", a.engine.State())
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	shared := t.TempDir()
	a := newDevice(t, shared)
	ctx := context.Background()

	base := time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC)
	if err := a.store.UpsertTransaction(ctx, engineTx("tx-1", "coffee", base)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	mustSync(t, a)
	first := readShared(t, shared, "transactions_2025-07.csv")
	firstSettings := readShared(t, shared, "settings.json")
	firstLocal, _ := a.store.ListTransactions(ctx, store.TransactionFilter{})

	mustSync(t, a)
	second := readShared(t, shared, "transactions_2025-07.csv")
	secondSettings := readShared(t, shared, "settings.json")
	secondLocal, _ := a.store.ListTransactions(ctx, store.TransactionFilter{})

	if string(first) != string(second) {
		t.Error("remote transaction bytes changed on a no-op cycle")
	}
	if string(firstSettings) != string(secondSettings) {
		t.Error("remote settings bytes changed on a no-op cycle")
	}
	if len(firstLocal) != len(secondLocal) || !ledger.Equal(firstLocal[0], secondLocal[0]) {
		t.Error("local state changed on a no-op cycle")
	}
}

func TestIndependentAddsOnTwoDevices(t *testing.T) {
	shared := t.TempDir()
	a := newDevice(t, shared)
	b := newDevice(t, shared)
	ctx := context.Background()

	base := time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC)
	if err := a.store.UpsertTransaction(ctx, engineTx("tx-a", "from A", base)); err != nil {
		t.Fatal(err)
	}
	if err := b.store.UpsertTransaction(ctx, engineTx("tx-b", "from B", base)); err != nil {
		t.Fatal(err)
	}

	mustSync(t, a)
	mustSync(t, b) // B merges A's addition with its own
	mustSync(t, a) // A picks up B's addition

	for name, d := range map[string]*device{"A": a, "B": b} {
		txs, err := d.store.ListTransactions(ctx, store.TransactionFilter{})
		if err != nil {
			t.Fatalf("device %s list failed: %v", name, err)
		}
		if len(txs) != 2 {
			t.Errorf("device %s: expected 2 transactions, got %d", name, len(txs))
		}
	}
}

func TestDeleteEditConflictEditWins(t *testing.T) {
	shared := t.TempDir()
	a := newDevice(t, shared)
	b := newDevice(t, shared)
	ctx := context.Background()

	base := time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC)
	orig := engineTx("tx-1", "dinner", base)
	if err := a.store.UpsertTransaction(ctx, orig); err != nil {
		t.Fatal(err)
	}
	mustSync(t, a)
	mustSync(t, b) // both devices now share the ancestor

	// B edits the amount; A deletes.
	edited := orig
	edited.Amount = decimal.RequireFromString("99.50")
	edited.UpdatedAt = base.Add(time.Hour)
	if err := b.store.UpsertTransaction(ctx, edited); err != nil {
		t.Fatal(err)
	}
	mustSync(t, b)

	if err := a.store.DeleteTransaction(ctx, "tx-1"); err != nil {
		t.Fatal(err)
	}
	mustSync(t, a)

	txs, err := a.store.ListTransactions(ctx, store.TransactionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected edit to survive the delete, got %d transactions", len(txs))
	}
	if !txs[0].Amount.Equal(decimal.RequireFromString("99.50")) {
		t.Errorf("expected edited amount, got %s", txs[0].Amount)
	}
}

func TestCleanDeletePropagates(t *testing.T) {
	shared := t.TempDir()
	a := newDevice(t, shared)
	b := newDevice(t, shared)
	ctx := context.Background()

	base := time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC)
	if err := a.store.UpsertTransaction(ctx, engineTx("tx-1", "dinner", base)); err != nil {
		t.Fatal(err)
	}
	mustSync(t, a)
	mustSync(t, b)

	if err := a.store.DeleteTransaction(ctx, "tx-1"); err != nil {
		t.Fatal(err)
	}
	mustSync(t, a)
	mustSync(t, b)

	txs, _ := b.store.ListTransactions(ctx, store.TransactionFilter{})
	if len(txs) != 0 {
		t.Errorf("expected delete to propagate, got %d transactions", len(txs))
	}
}

func TestCorruptMonthDoesNotBlockOthers(t *testing.T) {
	shared := t.TempDir()
	a := newDevice(t, shared)
	ctx := context.Background()

	// A corrupt month file another device is mid-writing.
	corrupt := []byte("garbage,that\nis-not,a-ledger\n")
	if err := os.WriteFile(filepath.Join(shared, "transactions_2025-06.csv"), corrupt, 0o644); err != nil {
		t.Fatal(err)
	}

	base := time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC)
	if err := a.store.UpsertTransaction(ctx, engineTx("tx-1", "july entry", base)); err != nil {
		t.Fatal(err)
	}

	// The cycle succeeds: the stale June file is skipped, July merges.
	mustSync(t, a)

	if _, err := os.Stat(filepath.Join(shared, "transactions_2025-07.csv")); err != nil {
		t.Errorf("expected July file to be written: %v", err)
	}
	// The corrupt file is preserved untouched, never overwritten.
	got := readShared(t, shared, "transactions_2025-06.csv")
	if string(got) != string(corrupt) {
		t.Error("stale remote file was overwritten")
	}
}

func TestMalformedRowDoesNotDropGoodRows(t *testing.T) {
	shared := t.TempDir()
	a := newDevice(t, shared)
	b := newDevice(t, shared)
	ctx := context.Background()

	base := time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC)
	if err := a.store.UpsertTransaction(ctx, engineTx("tx-1", "good", base)); err != nil {
		t.Fatal(err)
	}
	mustSync(t, a)

	// Append a truncated row, as if another device's write was cut off
	// mid-mirror by the transport.
	path := filepath.Join(shared, "transactions_2025-07.csv")
	data, _ := os.ReadFile(path)
	data = append(data, []byte("half-a-row,2025-07-01T00:00:00Z\n")...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	mustSync(t, b)

	txs, _ := b.store.ListTransactions(ctx, store.TransactionFilter{})
	if len(txs) != 1 || txs[0].ID != "tx-1" {
		t.Fatalf("expected the good row to survive, got %+v", txs)
	}
}

func TestSettingsLastWriterWins(t *testing.T) {
	shared := t.TempDir()
	a := newDevice(t, shared)
	b := newDevice(t, shared)
	ctx := context.Background()

	settings, err := a.store.Settings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	settings.Reminder = ledger.ReminderConfig{Enabled: true, Hour: 8, Minute: 30}
	settings.Touch()
	if err := a.store.SaveSettings(ctx, settings); err != nil {
		t.Fatal(err)
	}

	mustSync(t, a)
	mustSync(t, b)

	got, err := b.store.Settings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Reminder.Enabled || got.Reminder.Hour != 8 {
		t.Errorf("settings did not propagate: %+v", got.Reminder)
	}
}

func TestConcurrentSyncCallsCoalesce(t *testing.T) {
	shared := t.TempDir()
	a := newDevice(t, shared)
	ctx := context.Background()

	base := time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC)
	if err := a.store.UpsertTransaction(ctx, engineTx("tx-1", "x", base)); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = a.engine.Sync(ctx)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("concurrent sync %d failed: %v", i, err)
		}
	}
	if a.engine.State() != Idle {
		t.Errorf("expected idle after coalesced syncs, got %s", a.engine.State())
	}
}

// failingWrites wraps a FileStore and fails WriteAtomic for one file.
type failingWrites struct {
	remote.FileStore
	fail string
}

func (f *failingWrites) WriteAtomic(ctx context.Context, path string, data []byte) error {
	if filepath.Base(path) == f.fail {
		return errors.New("transport unavailable")
	}
	return f.FileStore.WriteAtomic(ctx, path, data)
}

func TestSnapshotNotAdvancedWhenRemoteWriteFails(t *testing.T) {
	shared := t.TempDir()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(ctx); err != nil {
		t.Fatal(err)
	}

	quiet := log.New(io.Discard, "", 0)
	files := &failingWrites{
		FileStore: remote.NewFolderStore(shared),
		fail:      "transactions_2025-07.csv",
	}
	eng := New(st, files, &Config{
		MaxAttempts:  1,
		RetryBackoff: time.Millisecond,
		Logger:       quiet,
		Audit:        quiet,
	})

	base := time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC)
	if err := st.UpsertTransaction(ctx, engineTx("tx-1", "x", base)); err != nil {
		t.Fatal(err)
	}

	if err := eng.Sync(ctx); err == nil {
		t.Fatal("expected sync to report the write failure")
	}
	if eng.State() != Failed {
		t.Errorf("expected failed state after write failure, got %s", eng.State())
	}

	snap, err := st.SnapshotTransactions(ctx, "2025-07")
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 0 {
		t.Error("snapshot advanced despite failed remote write")
	}

	// Once the transport recovers, the same cycle converges.
	files.fail = ""
	if err := eng.Sync(ctx); err != nil {
		t.Fatalf("recovery sync failed: %v", err)
	}
	if eng.State() != Idle {
		t.Errorf("expected idle state after recovery, got %s", eng.State())
	}
	snap, err = st.SnapshotTransactions(ctx, "2025-07")
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 1 {
		t.Errorf("expected snapshot to advance after recovery, got %d", len(snap))
	}
}

func TestDateEditAcrossMonthsKeepsRecord(t *testing.T) {
	shared := t.TempDir()
	a := newDevice(t, shared)
	ctx := context.Background()

	base := time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC)
	tx := engineTx("tx-1", "moved", base)
	if err := a.store.UpsertTransaction(ctx, tx); err != nil {
		t.Fatal(err)
	}
	mustSync(t, a)

	// Backward move: the date is corrected into the previous month. The
	// old bucket sees the id vanish and must not erase the row the new
	// bucket now owns.
	tx.Date = time.Date(2025, 6, 5, 12, 0, 0, 0, time.UTC)
	tx.UpdatedAt = base.Add(time.Hour)
	if err := a.store.UpsertTransaction(ctx, tx); err != nil {
		t.Fatal(err)
	}
	mustSync(t, a)

	txs, err := a.store.ListTransactions(ctx, store.TransactionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 1 {
		t.Fatalf("after backward month move, expected 1 local transaction, got %d", len(txs))
	}
	if got := ledger.MonthKey(txs[0].Date); got != "2025-06" {
		t.Errorf("expected record in 2025-06, got %s", got)
	}

	june, _, err := codec.DecodeTransactions(readShared(t, shared, "transactions_2025-06.csv"))
	if err != nil || len(june) != 1 {
		t.Fatalf("expected the record in the June file, got %d (err=%v)", len(june), err)
	}
	july, _, err := codec.DecodeTransactions(readShared(t, shared, "transactions_2025-07.csv"))
	if err != nil || len(july) != 0 {
		t.Fatalf("expected the July file emptied, got %d (err=%v)", len(july), err)
	}

	// Forward move survives too.
	tx.Date = time.Date(2025, 8, 1, 8, 0, 0, 0, time.UTC)
	tx.UpdatedAt = base.Add(2 * time.Hour)
	if err := a.store.UpsertTransaction(ctx, tx); err != nil {
		t.Fatal(err)
	}
	mustSync(t, a)

	txs, err = a.store.ListTransactions(ctx, store.TransactionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 1 {
		t.Fatalf("after forward month move, expected 1 local transaction, got %d", len(txs))
	}
	if got := ledger.MonthKey(txs[0].Date); got != "2025-08" {
		t.Errorf("expected record in 2025-08, got %s", got)
	}
}

// gatedStore blocks the first cycle at its start so the test can queue
// a coalesced Sync call. Every write during the first cycle fails;
// later cycles go through.
type gatedStore struct {
	remote.FileStore
	started chan struct{}
	release chan struct{}
	cycles  atomic.Int64
}

func (g *gatedStore) EnsureFolder(ctx context.Context, folder string) error {
	if g.cycles.Add(1) == 1 {
		g.started <- struct{}{}
		<-g.release
	}
	return g.FileStore.EnsureFolder(ctx, folder)
}

func (g *gatedStore) WriteAtomic(ctx context.Context, path string, data []byte) error {
	if g.cycles.Load() == 1 {
		return errors.New("transport flapping")
	}
	return g.FileStore.WriteAtomic(ctx, path, data)
}

func TestCoalescedFollowUpRunsAfterFailedCycle(t *testing.T) {
	shared := t.TempDir()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(ctx); err != nil {
		t.Fatal(err)
	}

	quiet := log.New(io.Discard, "", 0)
	files := &gatedStore{
		FileStore: remote.NewFolderStore(shared),
		started:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	eng := New(st, files, &Config{
		MaxAttempts:  1,
		RetryBackoff: time.Millisecond,
		Logger:       quiet,
		Audit:        quiet,
	})

	base := time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC)
	if err := st.UpsertTransaction(ctx, engineTx("tx-1", "x", base)); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- eng.Sync(ctx) }()

	// The first cycle is underway; this call must coalesce.
	<-files.started
	if err := eng.Sync(ctx); err != nil {
		t.Fatalf("coalesced call failed: %v", err)
	}

	// Let the first cycle fail its writes; the queued follow-up then
	// runs against a recovered transport and converges.
	close(files.release)

	if err := <-done; err != nil {
		t.Fatalf("expected the follow-up cycle to converge, got %v", err)
	}
	if got := files.cycles.Load(); got != 2 {
		t.Errorf("expected 2 cycles, got %d", got)
	}
	if eng.State() != Idle {
		t.Errorf("expected idle after follow-up, got %s", eng.State())
	}

	data := readShared(t, shared, "transactions_2025-07.csv")
	txs, _, err := codec.DecodeTransactions(data)
	if err != nil || len(txs) != 1 {
		t.Fatalf("expected the follow-up to publish the record, got %d (err=%v)", len(txs), err)
	}
}
