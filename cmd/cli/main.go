package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    *cobra.Command
)

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd = &cobra.Command{
		Use:   "pocketsync",
		Short: "Mirror external credit card balances into ledger pockets",
		Long: `pocketsync watches external credit card accounts through an aggregator
and keeps a matching pocket sub-account funded in the ledger service: new
purchases move money from checking into the pocket, payments move it back.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newDaemonCmd(),
		newLinkCmd(),
		newUnlinkCmd(),
		newAccountsCmd(),
		newTrackCmd(),
		newUntrackCmd(),
		newPocketCmd(),
		newSyncCmd(),
		newStatusCmd(),
	)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
