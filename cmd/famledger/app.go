package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/famledger/famledger/internal/config"
	"github.com/famledger/famledger/internal/engine"
	"github.com/famledger/famledger/internal/remote"
	"github.com/famledger/famledger/internal/store"
)

// app bundles everything a command needs: config, local cache and the
// merge engine pointed at the shared folder.
type app struct {
	cfg    *config.Config
	device config.Device
	store  *store.Store
	engine *engine.Engine
}

// openApp loads config and opens the cache. Commands that sync must
// have a folder configured; commands that only touch local state pass
// requireFolder=false.
func openApp(ctx context.Context, requireFolder bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if requireFolder && cfg.Folder == "" {
		return nil, fmt.Errorf("no ledger folder configured, run 'famledger init' first")
	}

	device, err := config.LoadDevice("")
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.CachePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	st, err := store.Open(cfg.CachePath)
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(ctx); err != nil {
		st.Close()
		return nil, err
	}

	a := &app{cfg: cfg, device: device, store: st}
	if cfg.Folder != "" {
		a.engine = engine.New(st, remote.NewFolderStore(cfg.Folder), &engine.Config{
			MaxAttempts:  cfg.Sync.MaxAttempts,
			RetryBackoff: cfg.Sync.RetryBackoff,
			Audit:        auditLogger(cfg),
		})
	}
	return a, nil
}

func (a *app) close() {
	_ = a.store.Close()
}

// auditLogger builds the conflict audit trail. With a path configured
// it rotates on size; otherwise audit lines share stderr.
func auditLogger(cfg *config.Config) *log.Logger {
	if cfg.Audit.Path == "" {
		return log.New(os.Stderr, "[audit] ", log.LstdFlags)
	}
	return log.New(&lumberjack.Logger{
		Filename:   cfg.Audit.Path,
		MaxSize:    cfg.Audit.MaxSizeMB,
		MaxBackups: cfg.Audit.MaxBackups,
	}, "", log.LstdFlags)
}
