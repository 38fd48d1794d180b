package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/famledger/famledger/internal/ledger"
)

const participantSep = ";"

// TransactionFilter narrows ListTransactions. Zero values match all.
type TransactionFilter struct {
	// Month restricts to one YYYY-MM bucket.
	Month string
	// CategoryID restricts to one category.
	CategoryID string
	// PayerID restricts to one payer.
	PayerID string
	// Limit caps the number of results (0 = no limit).
	Limit int
}

const txColumns = `id, created_at, updated_at, tx_date, amount, tx_type,
	category_id, payer_id, participants, note, merchant, source, ocr_text, currency`

// ListTransactions returns transactions matching the filter, ordered by
// date then id.
func (s *Store) ListTransactions(ctx context.Context, filter TransactionFilter) ([]ledger.Transaction, error) {
	var conditions []string
	var args []any

	if filter.Month != "" {
		conditions = append(conditions, "month = ?")
		args = append(args, filter.Month)
	}
	if filter.CategoryID != "" {
		conditions = append(conditions, "category_id = ?")
		args = append(args, filter.CategoryID)
	}
	if filter.PayerID != "" {
		conditions = append(conditions, "payer_id = ?")
		args = append(args, filter.PayerID)
	}

	query := "SELECT " + txColumns + " FROM transactions"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY tx_date ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// TransactionMonths returns the distinct month buckets present locally.
func (s *Store) TransactionMonths(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT DISTINCT month FROM transactions ORDER BY month ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query months: %w", err)
	}
	defer rows.Close()

	var months []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("failed to scan month: %w", err)
		}
		months = append(months, m)
	}
	return months, rows.Err()
}

// UpsertTransaction inserts or updates a transaction.
func (s *Store) UpsertTransaction(ctx context.Context, t ledger.Transaction) error {
	return upsertTransaction(ctx, s.conn, t)
}

// UpsertTransaction inserts or updates a transaction inside the scope.
func (x *Tx) UpsertTransaction(ctx context.Context, t ledger.Transaction) error {
	return upsertTransaction(ctx, x.tx, t)
}

func upsertTransaction(ctx context.Context, db dbtx, t ledger.Transaction) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid transaction: %w", err)
	}

	query := `
	INSERT INTO transactions (
		id, created_at, updated_at, tx_date, month, amount, tx_type,
		category_id, payer_id, participants, note, merchant, source, ocr_text, currency
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		tx_date = excluded.tx_date,
		month = excluded.month,
		amount = excluded.amount,
		tx_type = excluded.tx_type,
		category_id = excluded.category_id,
		payer_id = excluded.payer_id,
		participants = excluded.participants,
		note = excluded.note,
		merchant = excluded.merchant,
		source = excluded.source,
		ocr_text = excluded.ocr_text,
		currency = excluded.currency
	`

	_, err := db.ExecContext(ctx, query,
		t.ID,
		ledger.FormatTime(t.CreatedAt),
		ledger.FormatTime(t.UpdatedAt),
		ledger.FormatTime(t.Date),
		t.MonthBucket(),
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
	)
	if err != nil {
		return fmt.Errorf("failed to upsert transaction %s: %w", t.ID, err)
	}
	return nil
}

// DeleteTransaction removes a transaction. Idempotent.
func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	return deleteRow(ctx, s.conn, "transactions", id)
}

// DeleteTransaction removes a transaction inside the scope.
func (x *Tx) DeleteTransaction(ctx context.Context, id string) error {
	return deleteRow(ctx, x.tx, "transactions", id)
}

// DeleteTransactionInMonth removes a transaction only while it still
// sits in the given month bucket. The sync engine deletes through this
// so a date edit that moved the record to another bucket is never
// erased by the old bucket's plan.
func (x *Tx) DeleteTransactionInMonth(ctx context.Context, id, month string) error {
	_, err := x.tx.ExecContext(ctx,
		"DELETE FROM transactions WHERE id = ? AND month = ?", id, month)
	if err != nil {
		return fmt.Errorf("failed to delete transaction %s in %s: %w", id, month, err)
	}
	return nil
}

func scanTransactions(rows *sql.Rows) ([]ledger.Transaction, error) {
	var txs []ledger.Transaction
	for rows.Next() {
		var (
			t                            ledger.Transaction
			createdAt, updatedAt, txDate string
			amount, txType, source       string
			participants                 string
		)
		err := rows.Scan(&t.ID, &createdAt, &updatedAt, &txDate, &amount, &txType,
			&t.CategoryID, &t.PayerID, &participants, &t.Note, &t.Merchant,
			&source, &t.OCRText, &t.Currency)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		if t.CreatedAt, err = ledger.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("bad created_at for %s: %w", t.ID, err)
		}
		if t.UpdatedAt, err = ledger.ParseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("bad updated_at for %s: %w", t.ID, err)
		}
		if t.Date, err = ledger.ParseTime(txDate); err != nil {
			return nil, fmt.Errorf("bad tx_date for %s: %w", t.ID, err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("bad amount for %s: %w", t.ID, err)
		}
		t.Type = ledger.TxType(txType)
		t.Source = ledger.Source(source)
		if participants != "" {
			t.Participants = strings.Split(participants, participantSep)
		}

		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}

// ListMembers returns all members ordered by creation time then id.
func (s *Store) ListMembers(ctx context.Context) ([]ledger.Member, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, created_at, updated_at, name, nickname, role, avatar_color, link_token
		FROM members ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []ledger.Member
	for rows.Next() {
		var m ledger.Member
		var createdAt, updatedAt string
		err := rows.Scan(&m.ID, &createdAt, &updatedAt, &m.Name, &m.Nickname,
			&m.Role, &m.AvatarColor, &m.LinkToken)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		if m.CreatedAt, err = ledger.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("bad created_at for %s: %w", m.ID, err)
		}
		if m.UpdatedAt, err = ledger.ParseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("bad updated_at for %s: %w", m.ID, err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// MemberByName returns the member with the given display name or
// nickname. Returns sql.ErrNoRows if no member matches.
func (s *Store) MemberByName(ctx context.Context, name string) (ledger.Member, error) {
	members, err := s.ListMembers(ctx)
	if err != nil {
		return ledger.Member{}, err
	}
	for _, m := range members {
		if strings.EqualFold(m.Name, name) || strings.EqualFold(m.Nickname, name) {
			return m, nil
		}
	}
	return ledger.Member{}, sql.ErrNoRows
}

// UpsertMember inserts or updates a member.
func (s *Store) UpsertMember(ctx context.Context, m ledger.Member) error {
	return upsertMember(ctx, s.conn, m)
}

// UpsertMember inserts or updates a member inside the scope.
func (x *Tx) UpsertMember(ctx context.Context, m ledger.Member) error {
	return upsertMember(ctx, x.tx, m)
}

func upsertMember(ctx context.Context, db dbtx, m ledger.Member) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid member: %w", err)
	}

	query := `
	INSERT INTO members (id, created_at, updated_at, name, nickname, role, avatar_color, link_token)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		name = excluded.name,
		nickname = excluded.nickname,
		role = excluded.role,
		avatar_color = excluded.avatar_color,
		link_token = excluded.link_token
	`
	_, err := db.ExecContext(ctx, query, m.ID,
		ledger.FormatTime(m.CreatedAt), ledger.FormatTime(m.UpdatedAt),
		m.Name, m.Nickname, m.Role, m.AvatarColor, m.LinkToken)
	if err != nil {
		return fmt.Errorf("failed to upsert member %s: %w", m.ID, err)
	}
	return nil
}

// DeleteMember removes a member. Idempotent.
func (s *Store) DeleteMember(ctx context.Context, id string) error {
	return deleteRow(ctx, s.conn, "members", id)
}

// DeleteMember removes a member inside the scope.
func (x *Tx) DeleteMember(ctx context.Context, id string) error {
	return deleteRow(ctx, x.tx, "members", id)
}

// ListCategories returns all categories ordered by sort order then id.
func (s *Store) ListCategories(ctx context.Context) ([]ledger.Category, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, created_at, updated_at, name, icon, color, cat_type, is_default, sort_order
		FROM categories ORDER BY sort_order ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var cats []ledger.Category
	for rows.Next() {
		var c ledger.Category
		var createdAt, updatedAt, catType string
		err := rows.Scan(&c.ID, &createdAt, &updatedAt, &c.Name, &c.Icon,
			&c.Color, &catType, &c.IsDefault, &c.SortOrder)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		if c.CreatedAt, err = ledger.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("bad created_at for %s: %w", c.ID, err)
		}
		if c.UpdatedAt, err = ledger.ParseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("bad updated_at for %s: %w", c.ID, err)
		}
		c.Type = ledger.TxType(catType)
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// CategoryByName returns the category with the given name and type.
// Returns sql.ErrNoRows if no category matches.
func (s *Store) CategoryByName(ctx context.Context, name string, typ ledger.TxType) (ledger.Category, error) {
	cats, err := s.ListCategories(ctx)
	if err != nil {
		return ledger.Category{}, err
	}
	for _, c := range cats {
		if c.Type == typ && strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return ledger.Category{}, sql.ErrNoRows
}

// UpsertCategory inserts or updates a category.
func (s *Store) UpsertCategory(ctx context.Context, c ledger.Category) error {
	return upsertCategory(ctx, s.conn, c)
}

// UpsertCategory inserts or updates a category inside the scope.
func (x *Tx) UpsertCategory(ctx context.Context, c ledger.Category) error {
	return upsertCategory(ctx, x.tx, c)
}

func upsertCategory(ctx context.Context, db dbtx, c ledger.Category) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid category: %w", err)
	}

	query := `
	INSERT INTO categories (id, created_at, updated_at, name, icon, color, cat_type, is_default, sort_order)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		name = excluded.name,
		icon = excluded.icon,
		color = excluded.color,
		cat_type = excluded.cat_type,
		is_default = excluded.is_default,
		sort_order = excluded.sort_order
	`
	_, err := db.ExecContext(ctx, query, c.ID,
		ledger.FormatTime(c.CreatedAt), ledger.FormatTime(c.UpdatedAt),
		c.Name, c.Icon, c.Color, string(c.Type), c.IsDefault, c.SortOrder)
	if err != nil {
		return fmt.Errorf("failed to upsert category %s: %w", c.ID, err)
	}
	return nil
}

// DeleteCategory removes a category. Idempotent.
func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	return deleteRow(ctx, s.conn, "categories", id)
}

// DeleteCategory removes a category inside the scope.
func (x *Tx) DeleteCategory(ctx context.Context, id string) error {
	return deleteRow(ctx, x.tx, "categories", id)
}

func deleteRow(ctx context.Context, db dbtx, table, id string) error {
	_, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

// CountTransactions returns the number of transactions, optionally for
// one month bucket.
func (s *Store) CountTransactions(ctx context.Context, month string) (int, error) {
	var (
		count int
		err   error
	)
	if month == "" {
		err = s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&count)
	} else {
		err = s.conn.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM transactions WHERE month = ?", month).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// LastSyncAt returns the time of the last completed sync cycle, or the
// zero time if no cycle ever completed.
func (s *Store) LastSyncAt(ctx context.Context) (time.Time, error) {
	value, err := s.GetMeta(ctx, "last_sync_at")
	if err != nil || value == "" {
		return time.Time{}, err
	}
	return ledger.ParseTime(value)
}
