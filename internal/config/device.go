package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// Device is the per-install identity. It never syncs through the shared
// folder; every install generates its own on first run.
type Device struct {
	// ID is a stable random identifier for this install.
	ID string `toml:"id"`

	// MemberID links this device to a household member, so manual
	// entries default their payer. Empty until the user picks one.
	MemberID string `toml:"member_id,omitempty"`

	// CreatedAt records when this install first ran.
	CreatedAt time.Time `toml:"created_at"`
}

// DeviceFilename is the identity file next to config.yaml.
const DeviceFilename = "device.toml"

// DefaultDevicePath returns the standard device identity location.
func DefaultDevicePath() string {
	return filepath.Join(defaultDataDir(), DeviceFilename)
}

// LoadDevice reads the device identity at path, generating and saving a
// fresh one if none exists yet.
func LoadDevice(path string) (Device, error) {
	if path == "" {
		path = DefaultDevicePath()
	}

	var d Device
	_, err := toml.DecodeFile(path, &d)
	switch {
	case err == nil:
		if d.ID == "" {
			return Device{}, fmt.Errorf("device file %s has no id", path)
		}
		return d, nil
	case os.IsNotExist(err):
		d = Device{ID: uuid.NewString(), CreatedAt: time.Now().UTC().Truncate(time.Second)}
		if err := d.Save(path); err != nil {
			return Device{}, err
		}
		return d, nil
	default:
		return Device{}, fmt.Errorf("failed to read device file %s: %w", path, err)
	}
}

// Save writes the device identity, creating parent directories.
func (d Device) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create device directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create device file %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(d); err != nil {
		return fmt.Errorf("failed to encode device file: %w", err)
	}
	return nil
}
