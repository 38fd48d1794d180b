package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/famledger/famledger/internal/ledger"
	"github.com/famledger/famledger/internal/ui"
)

var (
	addNote         string
	addMerchant     string
	addCategory     string
	addPayer        string
	addDate         string
	addParticipants []string
	addIncome       bool
	addNoSync       bool
)

var addCmd = &cobra.Command{
	Use:   "add AMOUNT",
	Short: "Record a transaction",
	Long: `Record one transaction in the local ledger.

The date accepts natural language: "yesterday", "last friday",
"july 3", or a plain 2006-01-02 date. Category and payer are matched
by name against the local cache; the payer defaults to the member this
device is linked to.

The entry is stored locally first and then synced to the shared folder,
so it is never lost even if the folder is unreachable.

Examples:
  famledger add 45.80 --category Food --note "lunch at the deli"
  famledger add 120 --category Utilities --date "last tuesday"
  famledger add 3000 --income --category Salary --payer Alice`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		amount, err := decimal.NewFromString(args[0])
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[0], err)
		}

		a, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.close()

		txType := ledger.Expense
		if addIncome {
			txType = ledger.Income
		}

		date, err := parseNaturalDate(addDate)
		if err != nil {
			return err
		}

		tx := ledger.Transaction{
			ID:       uuid.NewString(),
			Date:     date,
			Amount:   amount,
			Type:     txType,
			Note:     addNote,
			Merchant: addMerchant,
			Source:   ledger.SourceManual,
		}

		if addCategory != "" {
			cat, err := a.store.CategoryByName(ctx, addCategory, txType)
			if err != nil {
				return fmt.Errorf("unknown %s category %q", txType, addCategory)
			}
			tx.CategoryID = cat.ID
		}

		if err := resolvePayer(ctx, a, &tx); err != nil {
			return err
		}

		for _, name := range addParticipants {
			member, err := a.store.MemberByName(ctx, name)
			if err != nil {
				return fmt.Errorf("unknown participant %q", name)
			}
			tx.Participants = append(tx.Participants, member.ID)
		}

		tx.SetDefaults()
		if err := tx.Validate(); err != nil {
			return err
		}
		if err := a.store.UpsertTransaction(ctx, tx); err != nil {
			return err
		}

		fmt.Printf("%s Recorded %s %s on %s %s\n",
			ui.RenderPass("✓"),
			ui.RenderAmount(amount.StringFixed(2)),
			tx.Type,
			tx.Date.Format("2006-01-02"),
			ui.RenderFaint("("+tx.ID+")"))

		if addNoSync || a.engine == nil {
			return nil
		}
		if err := a.engine.Sync(ctx); err != nil {
			fmt.Printf("%s Saved locally, sync failed: %v\n", ui.RenderWarn("⚠"), err)
			fmt.Printf("   Run 'famledger sync' to retry.\n")
		}
		return nil
	},
}

func init() {
	addCmd.Flags().StringVarP(&addNote, "note", "n", "", "free-form note")
	addCmd.Flags().StringVarP(&addMerchant, "merchant", "m", "", "merchant or counterparty")
	addCmd.Flags().StringVarP(&addCategory, "category", "c", "", "category name")
	addCmd.Flags().StringVarP(&addPayer, "payer", "p", "", "payer name (defaults to this device's member)")
	addCmd.Flags().StringVarP(&addDate, "date", "d", "", `transaction date, natural language allowed (default "today")`)
	addCmd.Flags().StringSliceVar(&addParticipants, "split", nil, "member names sharing this expense")
	addCmd.Flags().BoolVar(&addIncome, "income", false, "record income instead of an expense")
	addCmd.Flags().BoolVar(&addNoSync, "no-sync", false, "skip the sync after recording")
}

// parseNaturalDate turns user input into a transaction date. Empty
// means today.
func parseNaturalDate(input string) (time.Time, error) {
	if strings.TrimSpace(input) == "" {
		return time.Now(), nil
	}
	if t, err := time.Parse("2006-01-02", input); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(input, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", input, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand date %q", input)
	}
	return r.Time, nil
}

// resolvePayer fills the payer from the --payer flag or the device's
// linked member.
func resolvePayer(ctx context.Context, a *app, tx *ledger.Transaction) error {
	if addPayer != "" {
		member, err := a.store.MemberByName(ctx, addPayer)
		if err != nil {
			return fmt.Errorf("unknown payer %q", addPayer)
		}
		tx.PayerID = member.ID
		return nil
	}
	if a.device.MemberID != "" {
		tx.PayerID = a.device.MemberID
	}
	return nil
}
