// famledger is a family expense ledger that syncs through a shared
// cloud folder. Each device keeps a local SQLite cache and merges it
// against the folder's CSV files with three-way diffing, so no entry
// is lost no matter which device wrote it last.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/famledger/famledger/internal/ui"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "famledger",
	Short: "Family expense ledger synced through a shared folder",
	Long: `famledger keeps a household expense ledger in a cloud-synced folder.

Every device holds a full local copy in a SQLite cache. Changes merge
through plain CSV files in the shared folder: concurrent edits from
different family members are reconciled field by field, and conflicting
deletes always lose to edits so data is never silently dropped.

Start with 'famledger init' to pick the shared folder.`,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default: OS config dir, famledger/config.yaml)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
