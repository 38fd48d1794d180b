// Package codec serializes ledger entities to and from the shared-folder
// wire format: RFC 4180 CSV for the row tables (one header row, one row
// per record) and a JSON document for settings.
//
// Decoding is tolerant by design. A row with fewer than the required
// minimum of columns is reported as a MalformedRecordError and skipped;
// the rest of the file still decodes, so one corrupt row never blocks a
// whole month. A file whose header cannot be read at all is rejected
// wholesale, which the sync engine treats as "stale or partially
// written, retry later".
package codec

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/famledger/famledger/internal/ledger"
)

// File names inside the shared ledger folder.
const (
	MembersFile    = "members.csv"
	CategoriesFile = "categories.csv"
	SettingsFile   = "settings.json"

	transactionPrefix = "transactions_"
	transactionSuffix = ".csv"
)

// TransactionFile returns the month-bucket file name for a YYYY-MM key.
func TransactionFile(bucket string) string {
	return transactionPrefix + bucket + transactionSuffix
}

// MonthBucketFromFile extracts the YYYY-MM key from a transaction file
// name. The second return is false for any other file.
func MonthBucketFromFile(name string) (string, bool) {
	if !strings.HasPrefix(name, transactionPrefix) || !strings.HasSuffix(name, transactionSuffix) {
		return "", false
	}
	bucket := strings.TrimSuffix(strings.TrimPrefix(name, transactionPrefix), transactionSuffix)
	if len(bucket) != 7 || bucket[4] != '-' {
		return "", false
	}
	return bucket, true
}

// MalformedRecordError reports a row that could not be decoded. Line is
// 1-based and counts the header, matching what a user sees in an editor.
type MalformedRecordError struct {
	Line   int
	Reason error
}

// Error implements error.
func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at line %d: %v", e.Line, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *MalformedRecordError) Unwrap() error { return e.Reason }

// decodeRows parses a CSV table, converting each row with from. Rows
// that fail conversion are collected as MalformedRecordErrors; only an
// unreadable header fails the whole decode.
func decodeRows[T ledger.Record](data []byte, from func([]string) (T, error)) ([]T, []*MalformedRecordError, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1 // column count is validated per entity

	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("unreadable header: %w", err)
	}
	if len(header) == 0 || header[0] != "id" {
		return nil, nil, fmt.Errorf("unexpected header %v", header)
	}

	var (
		records   []T
		malformed []*MalformedRecordError
	)
	line := 1
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			malformed = append(malformed, &MalformedRecordError{Line: line, Reason: err})
			continue
		}
		rec, err := from(row)
		if err != nil {
			malformed = append(malformed, &MalformedRecordError{Line: line, Reason: err})
			continue
		}
		records = append(records, rec)
	}

	return records, malformed, nil
}

// encodeRows writes a header plus one row per record. Rows are sorted by
// the provided less function so encoding is byte-deterministic: syncing
// twice with no changes must produce identical files.
func encodeRows[T ledger.Record](header []string, records []T, less func(a, b T) bool) ([]byte, error) {
	sorted := make([]T, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	for _, rec := range sorted {
		if err := w.Write(rec.Columns()); err != nil {
			return nil, fmt.Errorf("failed to write record %s: %w", rec.RecordID(), err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeTransactions parses a transactions_<YYYY-MM>.csv file.
func DecodeTransactions(data []byte) ([]ledger.Transaction, []*MalformedRecordError, error) {
	return decodeRows(data, ledger.TransactionFromColumns)
}

// EncodeTransactions renders a month bucket, ordered by date then id.
func EncodeTransactions(txs []ledger.Transaction) ([]byte, error) {
	return encodeRows(ledger.TransactionColumns(), txs, func(a, b ledger.Transaction) bool {
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.ID < b.ID
	})
}

// DecodeMembers parses members.csv.
func DecodeMembers(data []byte) ([]ledger.Member, []*MalformedRecordError, error) {
	return decodeRows(data, ledger.MemberFromColumns)
}

// EncodeMembers renders members.csv, ordered by creation time then id.
func EncodeMembers(members []ledger.Member) ([]byte, error) {
	return encodeRows(ledger.MemberColumns(), members, func(a, b ledger.Member) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// DecodeCategories parses categories.csv.
func DecodeCategories(data []byte) ([]ledger.Category, []*MalformedRecordError, error) {
	return decodeRows(data, ledger.CategoryFromColumns)
}

// EncodeCategories renders categories.csv, ordered by sort order then id.
func EncodeCategories(cats []ledger.Category) ([]byte, error) {
	return encodeRows(ledger.CategoryColumns(), cats, func(a, b ledger.Category) bool {
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.ID < b.ID
	})
}
