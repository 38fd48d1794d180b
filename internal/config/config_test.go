package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Sync.MaxAttempts != 3 {
		t.Errorf("expected default max attempts, got %d", cfg.Sync.MaxAttempts)
	}
	if cfg.Sync.RetryBackoff != 250*time.Millisecond {
		t.Errorf("expected default backoff, got %v", cfg.Sync.RetryBackoff)
	}
}

func TestWriteThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Folder = "/mnt/cloud/family-ledger"
	cfg.Sync.PollInterval = time.Minute
	if err := cfg.Write(path); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.Folder != "/mnt/cloud/family-ledger" {
		t.Errorf("folder lost: %q", got.Folder)
	}
	if got.Sync.PollInterval != time.Minute {
		t.Errorf("poll interval lost: %v", got.Sync.PollInterval)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.Folder = "/from/file"
	if err := cfg.Write(path); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FAMLEDGER_FOLDER", "/from/env")

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.Folder != "/from/env" {
		t.Errorf("expected env override, got %q", got.Folder)
	}
}

func TestLoadDeviceGeneratesIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.toml")

	d, err := LoadDevice(path)
	if err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	if d.ID == "" {
		t.Fatal("expected a generated id")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("device file not persisted: %v", err)
	}

	// Second load reads the same identity back.
	again, err := LoadDevice(path)
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if again.ID != d.ID {
		t.Errorf("identity changed between loads: %s vs %s", d.ID, again.ID)
	}
}

func TestDeviceMemberLink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.toml")

	d, err := LoadDevice(path)
	if err != nil {
		t.Fatal(err)
	}
	d.MemberID = "mem-alice"
	if err := d.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := LoadDevice(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.MemberID != "mem-alice" {
		t.Errorf("member link lost: %q", got.MemberID)
	}
}
