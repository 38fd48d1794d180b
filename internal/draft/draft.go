// Package draft types the handoff payload that text-AI, vision-AI and
// OCR collaborators produce. Those collaborators run outside this
// module; a draft is their structured guess at a transaction, with
// human-facing names instead of record ids.
package draft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/famledger/famledger/internal/ledger"
)

// Directory resolves human-facing names to ledger records. *store.Store
// satisfies it.
type Directory interface {
	CategoryByName(ctx context.Context, name string, txType ledger.TxType) (ledger.Category, error)
	MemberByName(ctx context.Context, name string) (ledger.Member, error)
}

// Draft is one parsed-but-unconfirmed transaction. All fields except
// Amount are optional; the confirming UI fills gaps before the draft
// becomes a transaction.
type Draft struct {
	Amount       string   `json:"amount"`
	Type         string   `json:"type,omitempty"`
	Date         string   `json:"date,omitempty"`
	CategoryName string   `json:"categoryName,omitempty"`
	PayerName    string   `json:"payerName,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Merchant     string   `json:"merchant,omitempty"`
	Note         string   `json:"note,omitempty"`
	Source       string   `json:"source,omitempty"`

	// Confidence is the collaborator's self-reported score in [0, 1].
	// Purely advisory; low-confidence drafts still convert.
	Confidence float64 `json:"confidence,omitempty"`
}

// Parse decodes a collaborator payload. Unknown fields are rejected so
// a drifting collaborator schema fails loudly instead of dropping data.
func Parse(data []byte) (Draft, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var d Draft
	if err := dec.Decode(&d); err != nil {
		return Draft{}, fmt.Errorf("failed to parse draft: %w", err)
	}
	if d.Amount == "" {
		return Draft{}, fmt.Errorf("draft has no amount")
	}
	return d, nil
}

// ToTransaction converts the draft into a ready-to-store transaction,
// resolving category and member names through dir. A draft naming an
// unknown category or member is an error; the confirming UI should
// offer creation separately rather than have conversion invent records.
func (d Draft) ToTransaction(ctx context.Context, dir Directory) (ledger.Transaction, error) {
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("invalid draft amount %q: %w", d.Amount, err)
	}

	txType := ledger.Expense
	if d.Type != "" {
		txType = ledger.TxType(d.Type)
		if txType != ledger.Expense && txType != ledger.Income {
			return ledger.Transaction{}, fmt.Errorf("invalid draft type %q", d.Type)
		}
	}

	date := time.Now()
	if d.Date != "" {
		date, err = parseDraftDate(d.Date)
		if err != nil {
			return ledger.Transaction{}, err
		}
	}

	tx := ledger.Transaction{
		ID:       uuid.NewString(),
		Date:     ledger.NormalizeTime(date),
		Amount:   amount,
		Type:     txType,
		Merchant: d.Merchant,
		Note:     d.Note,
		Source:   draftSource(d.Source),
	}

	if d.CategoryName != "" {
		cat, err := dir.CategoryByName(ctx, d.CategoryName, txType)
		if err != nil {
			return ledger.Transaction{}, fmt.Errorf("unknown category %q: %w", d.CategoryName, err)
		}
		tx.CategoryID = cat.ID
	}
	if d.PayerName != "" {
		payer, err := dir.MemberByName(ctx, d.PayerName)
		if err != nil {
			return ledger.Transaction{}, fmt.Errorf("unknown payer %q: %w", d.PayerName, err)
		}
		tx.PayerID = payer.ID
	}
	for _, name := range d.Participants {
		member, err := dir.MemberByName(ctx, name)
		if err != nil {
			return ledger.Transaction{}, fmt.Errorf("unknown participant %q: %w", name, err)
		}
		tx.Participants = append(tx.Participants, member.ID)
	}

	tx.SetDefaults()
	return tx, nil
}

// parseDraftDate accepts the two formats collaborators emit: full
// RFC3339 timestamps and bare dates.
func parseDraftDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid draft date %q", s)
}

func draftSource(s string) ledger.Source {
	switch ledger.Source(s) {
	case ledger.SourceTextAI, ledger.SourceVisionAI, ledger.SourceOCR:
		return ledger.Source(s)
	default:
		return ledger.SourceManual
	}
}
