package ledger

import (
	"slices"
	"time"
)

// Kind identifies one of the row-shaped entity tables.
type Kind string

const (
	// KindTransaction is the transactions table (month-bucketed on disk).
	KindTransaction Kind = "transaction"
	// KindMember is the family members table.
	KindMember Kind = "member"
	// KindCategory is the categories table.
	KindCategory Kind = "category"
)

// String returns the kind name.
func (k Kind) String() string { return string(k) }

// Record is implemented by every row-shaped entity.
//
// Columns returns the canonical column vector for the entity's current
// schema version. Two records are structurally equal exactly when their
// column vectors are equal; the conflict resolver merges records column
// by column using the same projection.
type Record interface {
	// RecordID returns the stable identifier assigned at creation.
	RecordID() string

	// LastModified returns the record's last-modified timestamp.
	LastModified() time.Time

	// Columns returns the canonical column values, in schema order.
	Columns() []string
}

// Equal reports whether two records are structurally equal in canonical
// form. Timestamp normalization happens inside Columns, so formatting
// drift between devices does not register as a difference.
func Equal(a, b Record) bool {
	return slices.Equal(a.Columns(), b.Columns())
}

// FormatTime renders a timestamp in canonical form: UTC, RFC 3339,
// second granularity.
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// ParseTime parses a canonical timestamp. The zero time is returned for
// an empty value so optional timestamp columns decode cleanly.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// NormalizeTime truncates a timestamp to canonical resolution.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// MonthKey returns the month bucket a transaction date falls into,
// formatted as YYYY-MM.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
