package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pocketsync/pocketsync/pkg/models"
)

func newAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts <provider>",
		Short: "List the accounts visible on a linked connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := parseProvider(args[0])
			if err != nil {
				return err
			}

			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.Close()

			state, err := a.store.GetSyncState(provider)
			if err != nil {
				return err
			}
			if state == nil {
				return fmt.Errorf("no %s connection is linked", provider)
			}

			switch provider {
			case models.AggregatorLunchFlow:
				accounts, err := a.lunchflow.ListAccounts(cmd.Context(), state.Credential)
				if err != nil {
					return err
				}
				printRemoteAccounts(accounts)
			case models.AggregatorSimpleFin:
				// SimpleFin has no standalone listing endpoint; an unfiltered
				// window fetch returns every account on the access URL.
				end := time.Now()
				windows, err := a.simplefin.FetchWindow(cmd.Context(), state, nil, end.AddDate(0, 0, -1), end)
				if err != nil {
					return err
				}
				var accounts []models.Subaccount
				for id, window := range windows {
					accounts = append(accounts, models.Subaccount{ID: id, Balance: window.Balance})
				}
				printRemoteAccounts(accounts)
			}
			return nil
		},
	}
}

func printRemoteAccounts(accounts []models.Subaccount) {
	if len(accounts) == 0 {
		fmt.Println("No accounts found")
		return
	}
	fmt.Printf("Found %d accounts:\n\n", len(accounts))
	fmt.Printf("%-40s %-30s %15s\n", "ID", "Name", "Balance")
	fmt.Println(strings.Repeat("-", 90))
	for _, account := range accounts {
		fmt.Printf("%-40s %-30s %15s\n",
			account.ID[:min(40, len(account.ID))],
			account.Name[:min(30, len(account.Name))],
			account.Balance.StringFixed(2))
	}
}

func newTrackCmd() *cobra.Command {
	var name string
	var batching string
	cmd := &cobra.Command{
		Use:   "track <provider> <account-id>",
		Short: "Start tracking an external account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := parseProvider(args[0])
			if err != nil {
				return err
			}
			mode := models.BatchingMode(batching)
			if mode != models.BatchModeBatch && mode != models.BatchModeIndividual {
				return fmt.Errorf("invalid batching mode %q, expected %s or %s",
					batching, models.BatchModeBatch, models.BatchModeIndividual)
			}

			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.Close()

			accountName := name
			if accountName == "" {
				accountName = args[1]
			}
			if err := a.onboarder.TrackAccount(provider, args[1], accountName, mode); err != nil {
				return err
			}
			fmt.Printf("Now tracking %s account %q; run 'pocketsync pocket %s %s' to create its pocket\n",
				provider, accountName, provider, args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name for the account (defaults to the account id)")
	cmd.Flags().StringVar(&batching, "batching", string(models.BatchModeBatch),
		"Transfer batching mode: batch (one transfer per cycle) or individual (one per transaction)")
	return cmd
}

func newPocketCmd() *cobra.Command {
	var syncBalance bool
	cmd := &cobra.Command{
		Use:   "pocket <provider> <account-id>",
		Short: "Create the tracking pocket for an account and run the initial sync",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := parseProvider(args[0])
			if err != nil {
				return err
			}

			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.Close()

			pocketID, err := a.onboarder.CreatePocket(cmd.Context(), provider, args[1], syncBalance)
			if err != nil {
				return err
			}
			fmt.Printf("Created pocket %s\n", pocketID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&syncBalance, "sync-balance", true,
		"Seed the pocket with the account's current balance")
	return cmd
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <provider> <account-id>",
		Short: "Run one reconciliation pass for an account now",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := parseProvider(args[0])
			if err != nil {
				return err
			}

			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.Close()

			newCount, err := a.scheduler.SyncAccount(cmd.Context(), provider, args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Sync complete, %d new transaction(s)\n", newCount)
			return nil
		},
	}
}

func newUntrackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "untrack <provider> <account-id>",
		Short: "Stop tracking an account, returning its pocket funds to checking",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := parseProvider(args[0])
			if err != nil {
				return err
			}

			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.onboarder.StopTracking(cmd.Context(), provider, args[1]); err != nil {
				return err
			}
			fmt.Println("Account untracked")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show linked connections and tracked accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.Close()

			for _, provider := range []models.AggregatorKind{models.AggregatorSimpleFin, models.AggregatorLunchFlow} {
				state, err := a.store.GetSyncState(provider)
				if err != nil {
					return err
				}
				if state == nil {
					continue
				}
				status := "ok"
				if !state.Valid {
					status = "credential invalid, re-link required"
				}
				lastSync := "never"
				if state.LastSync != nil {
					lastSync = state.LastSync.Local().Format("2006-01-02 15:04:05")
				}
				fmt.Printf("%s: %s, last sync %s\n", provider, status, lastSync)
				if len(state.Schedule.DailyTimes) > 0 {
					fmt.Printf("  syncs daily at %s\n", strings.Join(state.Schedule.DailyTimes, ", "))
				} else {
					fmt.Printf("  syncs every %s\n", state.Schedule.IntervalOrDefault())
				}
			}

			accounts, err := a.store.GetTrackedAccounts()
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				fmt.Println("\nNo tracked accounts")
				return nil
			}

			fmt.Printf("\n%-12s %-30s %-25s %15s %-12s\n", "Provider", "Account", "Pocket", "Balance", "Batching")
			fmt.Println(strings.Repeat("-", 100))
			for _, account := range accounts {
				pocket := account.PocketID
				if pocket == "" {
					pocket = "(none)"
				}
				if account.TeardownPending {
					pocket += " [teardown pending]"
				}
				fmt.Printf("%-12s %-30s %-25s %15s %-12s\n",
					account.Provider,
					account.Name[:min(30, len(account.Name))],
					pocket[:min(25, len(pocket))],
					account.LastBalance.StringFixed(2),
					account.Batching)
			}
			return nil
		},
	}
}
