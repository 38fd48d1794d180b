package ledger

import "time"

// SettingsSchemaVersion is bumped when the settings document shape
// changes. Documents with a newer major version are left untouched.
const SettingsSchemaVersion = 1

// ReminderConfig holds the daily entry reminder preference. Scheduling
// the actual notification is the surrounding app's job.
type ReminderConfig struct {
	Enabled bool `json:"enabled"`
	Hour    int  `json:"hour"`
	Minute  int  `json:"minute"`
}

// Settings is the single ledger-wide preferences document.
//
// Unlike the row tables, settings merge at whole-document granularity:
// the document with the later UpdatedAt wins and the other is discarded.
type Settings struct {
	SchemaVersion int       `json:"schemaVersion"`
	UpdatedAt     time.Time `json:"updatedAt"`

	FolderPath string         `json:"folderPath,omitempty"`
	Currency   string         `json:"currency"`
	Reminder   ReminderConfig `json:"reminder"`
}

// DefaultSettings returns the document used when no settings.json exists
// yet. A missing remote settings file is never an error.
func DefaultSettings() Settings {
	return Settings{
		SchemaVersion: SettingsSchemaVersion,
		Currency:      DefaultCurrency,
		Reminder:      ReminderConfig{Enabled: false, Hour: 21, Minute: 0},
	}
}

// Touch stamps the document as modified now, at canonical resolution.
func (s *Settings) Touch() {
	s.UpdatedAt = NormalizeTime(time.Now())
}
