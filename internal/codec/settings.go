package codec

import (
	"encoding/json"
	"fmt"

	"github.com/famledger/famledger/internal/ledger"
)

// DecodeSettings parses a settings.json document. Empty input yields the
// default document rather than an error, so a ledger that has never
// written settings behaves the same as one that reset them.
func DecodeSettings(data []byte) (ledger.Settings, error) {
	if len(data) == 0 {
		return ledger.DefaultSettings(), nil
	}

	s := ledger.DefaultSettings()
	if err := json.Unmarshal(data, &s); err != nil {
		return ledger.Settings{}, fmt.Errorf("failed to parse settings document: %w", err)
	}
	if s.SchemaVersion == 0 {
		s.SchemaVersion = ledger.SettingsSchemaVersion
	}
	if s.Currency == "" {
		s.Currency = ledger.DefaultCurrency
	}
	return s, nil
}

// EncodeSettings renders the settings document with stable indentation.
func EncodeSettings(s ledger.Settings) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	return append(data, '\n'), nil
}
