package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/famledger/famledger/internal/codec"
	"github.com/famledger/famledger/internal/ledger"
)

// Non-transaction entities use a single fixed snapshot bucket.
const wholeBucket = "-"

// SnapshotColumns loads the ancestor snapshot for one entity kind and
// bucket as a map from record id to canonical column vector. An empty
// map means no snapshot exists (first sync).
func (s *Store) SnapshotColumns(ctx context.Context, kind ledger.Kind, bucket string) (map[string][]string, error) {
	if bucket == "" {
		bucket = wholeBucket
	}

	rows, err := s.conn.QueryContext(ctx,
		"SELECT record_id, payload FROM snapshots WHERE kind = ? AND bucket = ?",
		string(kind), bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		var cols []string
		if err := json.Unmarshal([]byte(payload), &cols); err != nil {
			// A snapshot row that no longer decodes is schema drift;
			// dropping it degrades to "first sync" for this record.
			continue
		}
		out[id] = cols
	}
	return out, rows.Err()
}

// SnapshotTransactions loads the transaction snapshot for one month
// bucket as typed records. Rows that no longer decode are skipped.
func (s *Store) SnapshotTransactions(ctx context.Context, bucket string) (map[string]ledger.Transaction, error) {
	return snapshotAs(ctx, s, ledger.KindTransaction, bucket, ledger.TransactionFromColumns)
}

// SnapshotMembers loads the member snapshot.
func (s *Store) SnapshotMembers(ctx context.Context) (map[string]ledger.Member, error) {
	return snapshotAs(ctx, s, ledger.KindMember, "", ledger.MemberFromColumns)
}

// SnapshotCategories loads the category snapshot.
func (s *Store) SnapshotCategories(ctx context.Context) (map[string]ledger.Category, error) {
	return snapshotAs(ctx, s, ledger.KindCategory, "", ledger.CategoryFromColumns)
}

func snapshotAs[T ledger.Record](ctx context.Context, s *Store, kind ledger.Kind, bucket string, from func([]string) (T, error)) (map[string]T, error) {
	cols, err := s.SnapshotColumns(ctx, kind, bucket)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(cols))
	for id, c := range cols {
		rec, err := from(c)
		if err != nil {
			continue
		}
		out[id] = rec
	}
	return out, nil
}

// SnapshotBuckets returns the distinct buckets with snapshot records
// for one entity kind.
func (s *Store) SnapshotBuckets(ctx context.Context, kind ledger.Kind) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT DISTINCT bucket FROM snapshots WHERE kind = ? ORDER BY bucket ASC", string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot buckets: %w", err)
	}
	defer rows.Close()

	var buckets []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("failed to scan bucket: %w", err)
		}
		if b != wholeBucket {
			buckets = append(buckets, b)
		}
	}
	return buckets, rows.Err()
}

// ReplaceSnapshot atomically replaces the snapshot for one entity kind
// and bucket with the given records. Only the sync engine calls this,
// and only after the corresponding remote write succeeded.
func (x *Tx) ReplaceSnapshot(ctx context.Context, kind ledger.Kind, bucket string, records []ledger.Record) error {
	if bucket == "" {
		bucket = wholeBucket
	}

	if _, err := x.tx.ExecContext(ctx,
		"DELETE FROM snapshots WHERE kind = ? AND bucket = ?", string(kind), bucket); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}

	for _, rec := range records {
		payload, err := json.Marshal(rec.Columns())
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot for %s: %w", rec.RecordID(), err)
		}
		_, err = x.tx.ExecContext(ctx,
			"INSERT INTO snapshots (kind, bucket, record_id, payload) VALUES (?, ?, ?, ?)",
			string(kind), bucket, rec.RecordID(), string(payload))
		if err != nil {
			return fmt.Errorf("failed to insert snapshot for %s: %w", rec.RecordID(), err)
		}
	}
	return nil
}

// Settings returns the local settings document, or the default document
// if none has been saved yet.
func (s *Store) Settings(ctx context.Context) (ledger.Settings, error) {
	var doc string
	err := s.conn.QueryRowContext(ctx, "SELECT doc FROM settings WHERE id = 1").Scan(&doc)
	if err == sql.ErrNoRows {
		return ledger.DefaultSettings(), nil
	}
	if err != nil {
		return ledger.Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	return codec.DecodeSettings([]byte(doc))
}

// SaveSettings stores the settings document.
func (s *Store) SaveSettings(ctx context.Context, settings ledger.Settings) error {
	return saveSettings(ctx, s.conn, settings)
}

// SaveSettings stores the settings document inside the scope.
func (x *Tx) SaveSettings(ctx context.Context, settings ledger.Settings) error {
	return saveSettings(ctx, x.tx, settings)
}

func saveSettings(ctx context.Context, db dbtx, settings ledger.Settings) error {
	doc, err := codec.EncodeSettings(settings)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO settings (id, doc) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`, string(doc))
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// GetMeta reads an engine bookkeeping value. Missing keys return "".
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta writes an engine bookkeeping value.
func (x *Tx) SetMeta(ctx context.Context, key, value string) error {
	_, err := x.tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write meta %s: %w", key, err)
	}
	return nil
}
