// Package remote provides the shared file store adapter: the engine's
// only view of the externally synchronized ledger folder.
//
// The folder is mirrored between devices by an opaque transport (iCloud
// Drive, a network share, anything that moves files). The adapter makes
// no timing assumptions about that transport. Another device may be
// mid-write when we read, so callers must treat unreadable content as
// stale rather than authoritative, and all writes go through an atomic
// replace so a crash never leaves a torn file for someone else to read.
package remote

import "context"

// FileStore is the file-level contract the sync engine depends on.
//
// Implementations do not provide cross-device locking. WriteAtomic must
// be all-or-nothing: after a crash at any point the path holds either
// the old content or the new content, never a prefix.
type FileStore interface {
	// List returns the file names (not paths) directly inside folder.
	// A folder that does not exist yet lists as empty.
	List(ctx context.Context, folder string) ([]string, error)

	// Read returns the content of the file at path.
	// Returns ErrNotFound if the file does not exist.
	Read(ctx context.Context, path string) ([]byte, error)

	// WriteAtomic replaces the file at path with data in one step.
	WriteAtomic(ctx context.Context, path string, data []byte) error

	// EnsureFolder creates folder if it does not exist. Idempotent.
	EnsureFolder(ctx context.Context, folder string) error
}
