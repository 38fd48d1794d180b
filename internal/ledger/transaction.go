package ledger

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxType distinguishes money leaving the ledger from money entering it.
type TxType string

const (
	// Expense is money spent.
	Expense TxType = "expense"
	// Income is money received.
	Income TxType = "income"
)

// Source records how a transaction entered the ledger.
type Source string

const (
	// SourceManual is direct user entry.
	SourceManual Source = "manual"
	// SourceTextAI is the natural-language text parsing pipeline.
	SourceTextAI Source = "text-ai"
	// SourceVisionAI is the receipt-photo parsing pipeline.
	SourceVisionAI Source = "vision-ai"
	// SourceOCR is plain OCR text extraction.
	SourceOCR Source = "ocr"
)

// DefaultCurrency is used when a transaction row omits the currency column.
const DefaultCurrency = "CNY"

// Transaction is a single ledger entry.
//
// Amount is fixed-point decimal, never floating point, so repeated merges
// across devices cannot accumulate rounding drift. Participants is the
// ordered set of member ids sharing the expense; split logic downstream
// assumes the payer is conceptually included when the set is non-empty.
type Transaction struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time

	Date   time.Time
	Amount decimal.Decimal
	Type   TxType

	CategoryID   string
	PayerID      string
	Participants []string

	Note     string
	Merchant string

	Source   Source
	OCRText  string
	Currency string
}

// transactionColumns is the versioned on-disk schema for transaction rows.
var transactionColumns = []string{
	"id", "createdAt", "updatedAt", "date", "amount", "type",
	"category", "payer", "participants", "note", "merchant",
	"source", "ocrText", "currency",
}

// transactionRequired is the minimum column count for a decodable row.
// Trailing columns past this point are optional and default when absent.
const transactionRequired = 8

// participantSep joins member ids inside the single participants column.
const participantSep = ";"

// TransactionColumns returns the header for transaction CSV files.
func TransactionColumns() []string { return slices.Clone(transactionColumns) }

// RecordID implements Record.
func (t Transaction) RecordID() string { return t.ID }

// LastModified implements Record.
func (t Transaction) LastModified() time.Time { return t.UpdatedAt }

// Columns implements Record.
func (t Transaction) Columns() []string {
	return []string{
		t.ID,
		FormatTime(t.CreatedAt),
		FormatTime(t.UpdatedAt),
		FormatTime(t.Date),
		t.Amount.String(),
		string(t.Type),
		t.CategoryID,
		t.PayerID,
		strings.Join(t.Participants, participantSep),
		t.Note,
		t.Merchant,
		string(t.Source),
		t.OCRText,
		t.Currency,
	}
}

// MonthBucket returns the YYYY-MM bucket this transaction files under.
func (t Transaction) MonthBucket() string { return MonthKey(t.Date) }

// Validate checks invariants that must hold before a transaction is
// persisted or written to the shared folder.
func (t Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive (got %s)", t.Amount)
	}
	if t.Type != Expense && t.Type != Income {
		return fmt.Errorf("type must be expense or income (got %q)", t.Type)
	}
	if t.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	if t.UpdatedAt.IsZero() {
		return fmt.Errorf("updatedAt is required")
	}
	return nil
}

// SetDefaults fills optional fields that were omitted at creation.
func (t *Transaction) SetDefaults() {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Source == "" {
		t.Source = SourceManual
	}
	if t.Currency == "" {
		t.Currency = DefaultCurrency
	}
	now := NormalizeTime(time.Now())
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
}

// TransactionFromColumns rebuilds a transaction from a canonical column
// vector. Rows shorter than the required minimum are rejected; optional
// trailing columns default. Columns past the known schema are ignored so
// files written by a newer schema still decode.
func TransactionFromColumns(cols []string) (Transaction, error) {
	if len(cols) < transactionRequired {
		return Transaction{}, fmt.Errorf("transaction row has %d columns, need at least %d",
			len(cols), transactionRequired)
	}

	var t Transaction
	var err error

	t.ID = cols[0]
	if t.CreatedAt, err = ParseTime(cols[1]); err != nil {
		return Transaction{}, fmt.Errorf("bad createdAt %q: %w", cols[1], err)
	}
	if t.UpdatedAt, err = ParseTime(cols[2]); err != nil {
		return Transaction{}, fmt.Errorf("bad updatedAt %q: %w", cols[2], err)
	}
	if t.Date, err = ParseTime(cols[3]); err != nil {
		return Transaction{}, fmt.Errorf("bad date %q: %w", cols[3], err)
	}
	if t.Amount, err = decimal.NewFromString(cols[4]); err != nil {
		return Transaction{}, fmt.Errorf("bad amount %q: %w", cols[4], err)
	}
	t.Type = TxType(cols[5])
	t.CategoryID = cols[6]
	t.PayerID = cols[7]

	t.Source = SourceManual
	t.Currency = DefaultCurrency
	if len(cols) > 8 && cols[8] != "" {
		t.Participants = strings.Split(cols[8], participantSep)
	}
	if len(cols) > 9 {
		t.Note = cols[9]
	}
	if len(cols) > 10 {
		t.Merchant = cols[10]
	}
	if len(cols) > 11 && cols[11] != "" {
		t.Source = Source(cols[11])
	}
	if len(cols) > 12 {
		t.OCRText = cols[12]
	}
	if len(cols) > 13 && cols[13] != "" {
		t.Currency = cols[13]
	}

	if err := t.Validate(); err != nil {
		return Transaction{}, err
	}
	return t, nil
}
