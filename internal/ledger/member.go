package ledger

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Member is a person who shares the ledger. The id is stable across
// renames; attribution and expense splits always reference the id.
type Member struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time

	Name        string
	Nickname    string
	Role        string
	AvatarColor string

	// LinkToken optionally ties the member to the device identity that
	// authors syncs on their behalf.
	LinkToken string
}

var memberColumns = []string{
	"id", "createdAt", "updatedAt", "name",
	"nickname", "role", "avatarColor", "linkToken",
}

const memberRequired = 4

// MemberColumns returns the header for members.csv.
func MemberColumns() []string { return slices.Clone(memberColumns) }

// RecordID implements Record.
func (m Member) RecordID() string { return m.ID }

// LastModified implements Record.
func (m Member) LastModified() time.Time { return m.UpdatedAt }

// Columns implements Record.
func (m Member) Columns() []string {
	return []string{
		m.ID,
		FormatTime(m.CreatedAt),
		FormatTime(m.UpdatedAt),
		m.Name,
		m.Nickname,
		m.Role,
		m.AvatarColor,
		m.LinkToken,
	}
}

// Validate checks member invariants.
func (m Member) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.UpdatedAt.IsZero() {
		return fmt.Errorf("updatedAt is required")
	}
	return nil
}

// SetDefaults fills optional fields that were omitted at creation.
func (m *Member) SetDefaults() {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := NormalizeTime(time.Now())
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
}

// MemberFromColumns rebuilds a member from a canonical column vector.
func MemberFromColumns(cols []string) (Member, error) {
	if len(cols) < memberRequired {
		return Member{}, fmt.Errorf("member row has %d columns, need at least %d",
			len(cols), memberRequired)
	}

	var m Member
	var err error

	m.ID = cols[0]
	if m.CreatedAt, err = ParseTime(cols[1]); err != nil {
		return Member{}, fmt.Errorf("bad createdAt %q: %w", cols[1], err)
	}
	if m.UpdatedAt, err = ParseTime(cols[2]); err != nil {
		return Member{}, fmt.Errorf("bad updatedAt %q: %w", cols[2], err)
	}
	m.Name = cols[3]

	if len(cols) > 4 {
		m.Nickname = cols[4]
	}
	if len(cols) > 5 {
		m.Role = cols[5]
	}
	if len(cols) > 6 {
		m.AvatarColor = cols[6]
	}
	if len(cols) > 7 {
		m.LinkToken = cols[7]
	}

	if err := m.Validate(); err != nil {
		return Member{}, err
	}
	return m, nil
}
