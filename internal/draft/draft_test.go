package draft

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/famledger/famledger/internal/ledger"
)

// fakeDirectory resolves names from in-memory maps.
type fakeDirectory struct {
	categories map[string]ledger.Category
	members    map[string]ledger.Member
}

func (f *fakeDirectory) CategoryByName(_ context.Context, name string, txType ledger.TxType) (ledger.Category, error) {
	c, ok := f.categories[strings.ToLower(name)]
	if !ok || c.Type != txType {
		return ledger.Category{}, sql.ErrNoRows
	}
	return c, nil
}

func (f *fakeDirectory) MemberByName(_ context.Context, name string) (ledger.Member, error) {
	m, ok := f.members[strings.ToLower(name)]
	if !ok {
		return ledger.Member{}, sql.ErrNoRows
	}
	return m, nil
}

func testDirectory() *fakeDirectory {
	return &fakeDirectory{
		categories: map[string]ledger.Category{
			"food": {ID: "cat-food", Name: "Food", Type: ledger.Expense},
		},
		members: map[string]ledger.Member{
			"alice": {ID: "mem-alice", Name: "Alice"},
			"bob":   {ID: "mem-bob", Name: "Bob"},
		},
	}
}

func TestParseDraft(t *testing.T) {
	payload := `{
		"amount": "45.80",
		"type": "expense",
		"date": "2025-07-12",
		"categoryName": "Food",
		"payerName": "Alice",
		"participants": ["Alice", "Bob"],
		"merchant": "Corner Deli",
		"note": "lunch",
		"source": "vision-ai",
		"confidence": 0.92
	}`

	d, err := Parse([]byte(payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if d.Amount != "45.80" || d.Merchant != "Corner Deli" || d.Confidence != 0.92 {
		t.Errorf("unexpected draft: %+v", d)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	if _, err := Parse([]byte(`{"amount":"1.00","surprise":true}`)); err == nil {
		t.Error("expected unknown field to be rejected")
	}
}

func TestParseRequiresAmount(t *testing.T) {
	if _, err := Parse([]byte(`{"note":"no amount"}`)); err == nil {
		t.Error("expected missing amount to be rejected")
	}
}

func TestToTransaction(t *testing.T) {
	d := Draft{
		Amount:       "45.80",
		Type:         "expense",
		Date:         "2025-07-12",
		CategoryName: "Food",
		PayerName:    "Alice",
		Participants: []string{"Alice", "Bob"},
		Merchant:     "Corner Deli",
		Note:         "lunch",
		Source:       "vision-ai",
	}

	tx, err := d.ToTransaction(context.Background(), testDirectory())
	if err != nil {
		t.Fatalf("conversion failed: %v", err)
	}

	if tx.ID == "" {
		t.Error("expected a generated id")
	}
	if tx.CategoryID != "cat-food" || tx.PayerID != "mem-alice" {
		t.Errorf("name resolution failed: category=%s payer=%s", tx.CategoryID, tx.PayerID)
	}
	if len(tx.Participants) != 2 || tx.Participants[1] != "mem-bob" {
		t.Errorf("unexpected participants: %v", tx.Participants)
	}
	if tx.Source != ledger.SourceVisionAI {
		t.Errorf("unexpected source: %s", tx.Source)
	}
	if tx.Date.Format("2006-01-02") != "2025-07-12" {
		t.Errorf("unexpected date: %v", tx.Date)
	}
	if tx.Currency != ledger.DefaultCurrency {
		t.Errorf("expected default currency, got %q", tx.Currency)
	}
	if err := tx.Validate(); err != nil {
		t.Errorf("converted transaction does not validate: %v", err)
	}
}

func TestToTransactionUnknownNames(t *testing.T) {
	dir := testDirectory()

	d := Draft{Amount: "1.00", CategoryName: "Travel"}
	if _, err := d.ToTransaction(context.Background(), dir); err == nil {
		t.Error("expected unknown category to fail")
	}

	d = Draft{Amount: "1.00", PayerName: "Mallory"}
	if _, err := d.ToTransaction(context.Background(), dir); err == nil {
		t.Error("expected unknown payer to fail")
	}
}

func TestToTransactionDefaults(t *testing.T) {
	d := Draft{Amount: "3.50"}
	tx, err := d.ToTransaction(context.Background(), testDirectory())
	if err != nil {
		t.Fatalf("conversion failed: %v", err)
	}
	if tx.Type != ledger.Expense {
		t.Errorf("expected expense default, got %s", tx.Type)
	}
	if tx.Source != ledger.SourceManual {
		t.Errorf("expected manual source default, got %s", tx.Source)
	}
	if tx.Date.IsZero() {
		t.Error("expected date to default to now")
	}
}

func TestToTransactionRejectsBadInput(t *testing.T) {
	dir := testDirectory()

	for _, d := range []Draft{
		{Amount: "not-a-number"},
		{Amount: "1.00", Type: "transfer"},
		{Amount: "1.00", Date: "last tuesday"},
	} {
		if _, err := d.ToTransaction(context.Background(), dir); err == nil {
			t.Errorf("expected conversion to fail for %+v", d)
		}
	}
}
