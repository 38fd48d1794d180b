package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/famledger/famledger/internal/ui"
	"github.com/famledger/famledger/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the shared folder and sync continuously",
	Long: `Run famledger as a long-lived watcher.

Syncs once at startup, then again whenever the shared folder changes
(debounced, since cloud clients mirror files in several steps) and on a
periodic fallback interval for mounts that deliver no change events.

Stop with Ctrl-C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close()

		w, err := watcher.New(a.engine, a.cfg.Folder, &watcher.Config{
			DebounceInterval: a.cfg.Sync.DebounceInterval,
			PollInterval:     a.cfg.Sync.PollInterval,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%s Watching %s (Ctrl-C to stop)\n", ui.RenderAccent("👁"), a.cfg.Folder)

		err = w.Run(ctx)
		if errors.Is(err, context.Canceled) {
			fmt.Printf("\n%s Stopped\n", ui.RenderPass("✓"))
			return nil
		}
		return err
	},
}
