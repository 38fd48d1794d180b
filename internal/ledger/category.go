package ledger

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Category classifies transactions. The (name, type) pair should be
// unique within a ledger, but two devices can create the same category
// concurrently, so the resolver tolerates duplicates rather than the
// codec rejecting them.
type Category struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time

	Name  string
	Icon  string
	Color string
	Type  TxType

	IsDefault bool
	SortOrder int
}

var categoryColumns = []string{
	"id", "createdAt", "updatedAt", "name", "icon", "color", "type",
	"isDefault", "sortOrder",
}

const categoryRequired = 7

// CategoryColumns returns the header for categories.csv.
func CategoryColumns() []string { return slices.Clone(categoryColumns) }

// RecordID implements Record.
func (c Category) RecordID() string { return c.ID }

// LastModified implements Record.
func (c Category) LastModified() time.Time { return c.UpdatedAt }

// Columns implements Record.
func (c Category) Columns() []string {
	return []string{
		c.ID,
		FormatTime(c.CreatedAt),
		FormatTime(c.UpdatedAt),
		c.Name,
		c.Icon,
		c.Color,
		string(c.Type),
		strconv.FormatBool(c.IsDefault),
		strconv.Itoa(c.SortOrder),
	}
}

// Validate checks category invariants.
func (c Category) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Type != Expense && c.Type != Income {
		return fmt.Errorf("type must be expense or income (got %q)", c.Type)
	}
	if c.UpdatedAt.IsZero() {
		return fmt.Errorf("updatedAt is required")
	}
	return nil
}

// SetDefaults fills optional fields that were omitted at creation.
func (c *Category) SetDefaults() {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := NormalizeTime(time.Now())
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
}

// CategoryFromColumns rebuilds a category from a canonical column vector.
func CategoryFromColumns(cols []string) (Category, error) {
	if len(cols) < categoryRequired {
		return Category{}, fmt.Errorf("category row has %d columns, need at least %d",
			len(cols), categoryRequired)
	}

	var c Category
	var err error

	c.ID = cols[0]
	if c.CreatedAt, err = ParseTime(cols[1]); err != nil {
		return Category{}, fmt.Errorf("bad createdAt %q: %w", cols[1], err)
	}
	if c.UpdatedAt, err = ParseTime(cols[2]); err != nil {
		return Category{}, fmt.Errorf("bad updatedAt %q: %w", cols[2], err)
	}
	c.Name = cols[3]
	c.Icon = cols[4]
	c.Color = cols[5]
	c.Type = TxType(cols[6])

	if len(cols) > 7 && cols[7] != "" {
		if c.IsDefault, err = strconv.ParseBool(cols[7]); err != nil {
			return Category{}, fmt.Errorf("bad isDefault %q: %w", cols[7], err)
		}
	}
	if len(cols) > 8 && cols[8] != "" {
		if c.SortOrder, err = strconv.Atoi(cols[8]); err != nil {
			return Category{}, fmt.Errorf("bad sortOrder %q: %w", cols[8], err)
		}
	}

	if err := c.Validate(); err != nil {
		return Category{}, err
	}
	return c, nil
}
