// Package engine sequences the full ledger synchronization cycle:
// fetch remote state, three-way diff against the last-synced snapshot,
// resolve conflicts, apply the merged state to the local cache, write
// the merged files back to the shared folder, and only then advance the
// snapshot.
//
// One engine instance serves one ledger. Only one cycle runs at a time;
// a Sync call arriving mid-cycle is coalesced into exactly one
// follow-up cycle. Transaction month buckets are processed
// independently so a stale or failing file in one month never blocks
// merging the others. The snapshot for a bucket advances only after
// that bucket's remote write succeeded, so an abandoned or failed cycle
// simply re-runs from the last known-good ancestor.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/famledger/famledger/internal/codec"
	"github.com/famledger/famledger/internal/ledger"
	"github.com/famledger/famledger/internal/remote"
	"github.com/famledger/famledger/internal/store"
)

// State names the current step of the sync cycle.
type State int

const (
	// Idle means no cycle is running.
	Idle State = iota
	// FetchingRemote is reading files from the shared folder.
	FetchingRemote
	// Diffing is computing three-way change-sets.
	Diffing
	// Resolving is merging the change-sets.
	Resolving
	// ApplyingLocal is writing the merged state to the local cache.
	ApplyingLocal
	// WritingRemote is replacing files in the shared folder.
	WritingRemote
	// UpdatingSnapshot is persisting the new common ancestor.
	UpdatingSnapshot
	// Failed means the last cycle ended with an error. The next trigger
	// starts a fresh cycle from the last known-good snapshot.
	Failed
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FetchingRemote:
		return "fetching-remote"
	case Diffing:
		return "diffing"
	case Resolving:
		return "resolving"
	case ApplyingLocal:
		return "applying-local"
	case WritingRemote:
		return "writing-remote"
	case UpdatingSnapshot:
		return "updating-snapshot"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds tunables for the engine.
type Config struct {
	// Folder is the path of the ledger folder inside the file store.
	// Empty means the store root.
	Folder string

	// MaxAttempts is how many times a remote read or write is tried
	// within one cycle before the affected bucket is skipped.
	MaxAttempts int

	// RetryBackoff is the initial delay between attempts; it doubles
	// after each failure.
	RetryBackoff time.Duration

	// Logger receives engine progress. Nil means stderr.
	Logger *log.Logger

	// Audit receives one line per conflict resolution. Nil means the
	// Logger destination.
	Audit *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  3,
		RetryBackoff: 250 * time.Millisecond,
		Logger:       log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Engine owns the sync cycle for one ledger.
type Engine struct {
	store *store.Store
	files remote.FileStore
	cfg   *Config

	mu      sync.Mutex
	state   State
	running bool
	pending bool
}

// New creates an engine over an opened local store and a shared file
// store. The store must have its schema initialized.
func New(st *store.Store, files remote.FileStore, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if cfg.Audit == nil {
		cfg.Audit = cfg.Logger
	}
	return &Engine{store: st, files: files, cfg: cfg}
}

// State returns the current cycle step.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Sync runs one synchronization cycle.
//
// If a cycle is already in flight, the call is coalesced: it returns
// nil immediately and exactly one follow-up cycle runs after the
// current one finishes, whether or not that cycle succeeded. Two
// cycles never run concurrently against the same local store. The
// returned error is the last cycle's outcome.
func (e *Engine) Sync(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.pending = true
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	for {
		err := e.runCycle(ctx)

		e.mu.Lock()
		again := e.pending && ctx.Err() == nil
		e.pending = false
		if !again {
			e.running = false
			if err != nil {
				e.state = Failed
			} else {
				e.state = Idle
			}
			e.mu.Unlock()
			return err
		}
		e.mu.Unlock()
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// tablePlan is the per-file unit of work for one cycle. Buckets fail
// and succeed independently.
type tablePlan struct {
	file   string
	kind   ledger.Kind
	bucket string

	// encoded is the merged content to write remotely.
	encoded []byte
	// remoteRaw is the content read this cycle; nil when absent.
	remoteRaw []byte

	// apply writes the merged state to the local cache.
	apply func(ctx context.Context, tx *store.Tx) error
	// snapshot is the merged record set to persist as the new ancestor.
	snapshot []ledger.Record

	conflicts int
}

// unchanged reports whether the remote file already holds the merged
// content, in which case the write is skipped.
func (p *tablePlan) unchanged() bool {
	if p.remoteRaw == nil {
		// No remote file yet. Settings always materialize; row tables
		// only once they have something to say.
		if p.kind == "" {
			return false
		}
		return len(p.snapshot) == 0
	}
	return string(p.remoteRaw) == string(p.encoded)
}

func (e *Engine) runCycle(ctx context.Context) error {
	started := time.Now()
	e.cfg.Logger.Printf("Starting sync cycle")

	// FetchingRemote
	e.setState(FetchingRemote)
	if err := e.files.EnsureFolder(ctx, e.cfg.Folder); err != nil {
		return fmt.Errorf("failed to ensure ledger folder: %w", err)
	}

	buckets, err := e.collectBuckets(ctx)
	if err != nil {
		return err
	}

	// Diffing + Resolving happen per table while building plans; the
	// states are advanced once for observability, the computation
	// itself is pure and cheap.
	var (
		plans   []*tablePlan
		skipped []string
	)

	e.setState(Diffing)
	e.setState(Resolving)

	for _, bucket := range buckets {
		plan, err := e.planTransactions(ctx, bucket)
		if err != nil {
			// Stale or partial remote content. Never destructive:
			// skip the bucket this cycle and retry on the next one.
			e.cfg.Logger.Printf("WARNING: skipping bucket %s: %v", bucket, err)
			skipped = append(skipped, codec.TransactionFile(bucket))
			continue
		}
		plans = append(plans, plan)
	}

	if plan, err := e.planMembers(ctx); err != nil {
		e.cfg.Logger.Printf("WARNING: skipping %s: %v", codec.MembersFile, err)
		skipped = append(skipped, codec.MembersFile)
	} else {
		plans = append(plans, plan)
	}

	if plan, err := e.planCategories(ctx); err != nil {
		e.cfg.Logger.Printf("WARNING: skipping %s: %v", codec.CategoriesFile, err)
		skipped = append(skipped, codec.CategoriesFile)
	} else {
		plans = append(plans, plan)
	}

	if plan, err := e.planSettings(ctx); err != nil {
		e.cfg.Logger.Printf("WARNING: skipping %s: %v", codec.SettingsFile, err)
		skipped = append(skipped, codec.SettingsFile)
	} else {
		plans = append(plans, plan)
	}

	totalConflicts := 0
	for _, p := range plans {
		totalConflicts += p.conflicts
	}

	// ApplyingLocal: one transactional scope for every local mutation,
	// so a crash mid-apply leaves the cache pre-sync or post-sync.
	e.setState(ApplyingLocal)
	err = e.store.Transactionally(ctx, func(tx *store.Tx) error {
		for _, p := range plans {
			if err := p.apply(ctx, tx); err != nil {
				return fmt.Errorf("failed to apply %s locally: %w", p.file, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// WritingRemote: atomic replace per file; a failed file keeps its
	// old snapshot so the next cycle re-diffs from the same ancestor.
	e.setState(WritingRemote)
	var writeErrs []error
	var written []*tablePlan
	for _, p := range plans {
		if p.unchanged() {
			written = append(written, p)
			continue
		}
		err := e.withRetry(ctx, "write "+p.file, func() error {
			return e.files.WriteAtomic(ctx, e.remotePath(p.file), p.encoded)
		})
		if err != nil {
			writeErrs = append(writeErrs, fmt.Errorf("failed to write %s: %w", p.file, err))
			continue
		}
		written = append(written, p)
	}

	// UpdatingSnapshot: only for files whose remote write succeeded.
	e.setState(UpdatingSnapshot)
	err = e.store.Transactionally(ctx, func(tx *store.Tx) error {
		for _, p := range written {
			if p.kind == "" {
				continue // settings carry no three-way snapshot
			}
			if err := tx.ReplaceSnapshot(ctx, p.kind, p.bucket, p.snapshot); err != nil {
				return err
			}
		}
		return tx.SetMeta(ctx, "last_sync_at", ledger.FormatTime(time.Now()))
	})
	if err != nil {
		return fmt.Errorf("failed to advance snapshot: %w", err)
	}

	e.cfg.Logger.Printf("Sync cycle complete: files=%d skipped=%d conflicts=%d elapsed=%s",
		len(written), len(skipped)+len(writeErrs), totalConflicts,
		time.Since(started).Round(time.Millisecond))

	return errors.Join(writeErrs...)
}

// collectBuckets returns every month bucket present remotely, locally,
// or in the snapshot.
func (e *Engine) collectBuckets(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})

	var names []string
	err := e.withRetry(ctx, "list ledger folder", func() error {
		var err error
		names, err = e.files.List(ctx, e.cfg.Folder)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger folder: %w", err)
	}
	for _, name := range names {
		if bucket, ok := codec.MonthBucketFromFile(name); ok {
			seen[bucket] = struct{}{}
		}
	}

	local, err := e.store.TransactionMonths(ctx)
	if err != nil {
		return nil, err
	}
	for _, bucket := range local {
		seen[bucket] = struct{}{}
	}

	snap, err := e.store.SnapshotBuckets(ctx, ledger.KindTransaction)
	if err != nil {
		return nil, err
	}
	for _, bucket := range snap {
		seen[bucket] = struct{}{}
	}

	buckets := make([]string, 0, len(seen))
	for bucket := range seen {
		buckets = append(buckets, bucket)
	}
	sort.Strings(buckets)
	return buckets, nil
}

func (e *Engine) remotePath(file string) string {
	if e.cfg.Folder == "" {
		return file
	}
	return e.cfg.Folder + "/" + file
}

// readRemote fetches one file with retry. A missing file returns nil
// bytes and no error: on first sync the remote is simply empty.
func (e *Engine) readRemote(ctx context.Context, file string) ([]byte, error) {
	var data []byte
	err := e.withRetry(ctx, "read "+file, func() error {
		var err error
		data, err = e.files.Read(ctx, e.remotePath(file))
		if errors.Is(err, remote.ErrNotFound) {
			data = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// withRetry runs fn up to MaxAttempts times with doubling backoff.
// Remote I/O is the only thing retried inside a cycle; everything else
// waits for the next trigger.
func (e *Engine) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := e.cfg.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt < e.cfg.MaxAttempts {
			e.cfg.Logger.Printf("WARNING: %s failed (attempt %d/%d): %v",
				op, attempt, e.cfg.MaxAttempts, lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return lastErr
}
