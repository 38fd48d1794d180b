package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/famledger/famledger/internal/config"
	"github.com/famledger/famledger/internal/ledger"
	"github.com/famledger/famledger/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set up this device and pick the shared ledger folder",
	Long: `Configure famledger on this device.

Asks for:
  - The shared folder (a path inside your cloud-synced directory)
  - Your name, registered as a household member
  - The ledger currency

Then writes config.yaml, creates the device identity, and runs a first
sync so this device converges with any existing ledger in the folder.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		folder := cfg.Folder
		name := ""
		currency := ledger.DefaultCurrency

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Shared ledger folder").
					Description("A folder inside your cloud-synced directory. All devices point at the same folder.").
					Value(&folder).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("folder is required")
						}
						return nil
					}),
				huh.NewInput().
					Title("Your name").
					Description("Registered as a household member and used as the default payer on this device.").
					Value(&name).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("name is required")
						}
						return nil
					}),
				huh.NewSelect[string]().
					Title("Currency").
					Options(
						huh.NewOption("CNY", "CNY"),
						huh.NewOption("USD", "USD"),
						huh.NewOption("EUR", "EUR"),
						huh.NewOption("JPY", "JPY"),
					).
					Value(&currency),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}

		cfg.Folder = strings.TrimSpace(folder)
		if err := cfg.Write(configPath); err != nil {
			return err
		}

		a, err := openApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close()

		member, err := registerMember(ctx, a, strings.TrimSpace(name))
		if err != nil {
			return err
		}

		settings, err := a.store.Settings(ctx)
		if err != nil {
			return err
		}
		if settings.Currency != currency {
			settings.Currency = currency
			settings.Touch()
			if err := a.store.SaveSettings(ctx, settings); err != nil {
				return err
			}
		}

		fmt.Printf("%s Running first sync...\n", ui.RenderAccent("→"))
		if err := a.engine.Sync(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "%s First sync failed: %v\n", ui.RenderWarn("⚠"), err)
			fmt.Fprintf(os.Stderr, "   Your entries are safe locally; run 'famledger sync' to retry.\n")
		} else {
			fmt.Printf("%s Ledger folder: %s\n", ui.RenderPass("✓"), cfg.Folder)
		}
		fmt.Printf("%s You are %s %s\n", ui.RenderPass("✓"), member.Name, ui.RenderFaint("("+member.ID+")"))
		return nil
	},
}

// registerMember finds the member by name or creates one, and links the
// device identity to it.
func registerMember(ctx context.Context, a *app, name string) (ledger.Member, error) {
	member, err := a.store.MemberByName(ctx, name)
	if err != nil {
		member = ledger.Member{ID: uuid.NewString(), Name: name}
		member.SetDefaults()
		if err := a.store.UpsertMember(ctx, member); err != nil {
			return ledger.Member{}, fmt.Errorf("failed to register member: %w", err)
		}
	}

	a.device.MemberID = member.ID
	if err := a.device.Save(config.DefaultDevicePath()); err != nil {
		return ledger.Member{}, err
	}
	return member, nil
}
