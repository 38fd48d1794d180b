package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/famledger/famledger/internal/ledger"
	"github.com/famledger/famledger/internal/store"
	"github.com/famledger/famledger/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one merge cycle against the shared folder",
	Long: `Merge the local cache with the shared ledger folder once.

One cycle:
  1. Reads the folder's CSV files
  2. Three-way diffs them against the local cache and the last-synced
     snapshot
  3. Resolves conflicts (edits win over deletes, later edit wins per field)
  4. Applies the merge locally and writes the merged files back

A month file that is mid-upload by another device is skipped this cycle
and picked up on the next one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close()

		fmt.Printf("%s Syncing with %s...\n", ui.RenderAccent("→"), a.cfg.Folder)
		start := time.Now()

		if err := a.engine.Sync(ctx); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		count, err := a.store.CountTransactions(ctx, "")
		if err != nil {
			return err
		}
		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"),
			time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Transactions: %d\n", count)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local ledger state and sync freshness",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.close()

		fmt.Printf("\n%s famledger status\n\n", ui.RenderAccent("●"))

		if a.cfg.Folder == "" {
			fmt.Printf("   Folder:       %s\n", ui.RenderWarn("not configured (run 'famledger init')"))
		} else {
			fmt.Printf("   Folder:       %s\n", a.cfg.Folder)
		}
		fmt.Printf("   Cache:        %s\n", a.cfg.CachePath)

		count, err := a.store.CountTransactions(ctx, "")
		if err != nil {
			return err
		}
		members, err := a.store.ListMembers(ctx)
		if err != nil {
			return err
		}
		categories, err := a.store.ListCategories(ctx)
		if err != nil {
			return err
		}
		months, err := a.store.TransactionMonths(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("   Transactions: %d across %d months\n", count, len(months))
		fmt.Printf("   Members:      %d\n", len(members))
		fmt.Printf("   Categories:   %d\n", len(categories))

		lastSync, err := a.store.LastSyncAt(ctx)
		if err != nil {
			return err
		}
		switch {
		case lastSync.IsZero():
			fmt.Printf("   Last sync:    %s\n", ui.RenderWarn("never"))
		default:
			fmt.Printf("   Last sync:    %s %s\n",
				lastSync.Local().Format("2006-01-02 15:04:05"),
				ui.RenderFaint(fmt.Sprintf("(%s ago)", time.Since(lastSync).Round(time.Second))))
		}

		pending, err := pendingMonths(ctx, a.store)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			fmt.Printf("   Pending:      %s\n", ui.RenderWarn(fmt.Sprintf("%d months never synced", len(pending))))
		}

		fmt.Println()
		return nil
	},
}

// pendingMonths lists months with local transactions but no snapshot,
// meaning they have never completed a remote write.
func pendingMonths(ctx context.Context, s *store.Store) ([]string, error) {
	months, err := s.TransactionMonths(ctx)
	if err != nil {
		return nil, err
	}
	snapped, err := s.SnapshotBuckets(ctx, ledger.KindTransaction)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(snapped))
	for _, b := range snapped {
		have[b] = true
	}
	var pending []string
	for _, m := range months {
		if !have[m] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}
