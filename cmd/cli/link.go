package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pocketsync/pocketsync/pkg/models"
)

type scheduleFlags struct {
	dailyTimes []string
	timezone   string
	interval   time.Duration
}

func (f *scheduleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.dailyTimes, "at", nil, "Daily sync times as HH:MM, e.g. --at 08:00,20:00")
	cmd.Flags().StringVar(&f.timezone, "timezone", "", "IANA timezone for --at times (default UTC)")
	cmd.Flags().DurationVar(&f.interval, "interval", 0, "Fixed sync interval, used when no --at times are set (default 1h)")
}

func (f *scheduleFlags) schedule() models.Schedule {
	return models.Schedule{
		DailyTimes: f.dailyTimes,
		Timezone:   f.timezone,
		Interval:   f.interval,
	}
}

func newLinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link an aggregator connection",
	}

	var sfFlags scheduleFlags
	simplefinCmd := &cobra.Command{
		Use:   "simplefin <setup-token>",
		Short: "Link a SimpleFin connection from a one-time setup token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.onboarder.LinkSimpleFin(cmd.Context(), args[0], sfFlags.schedule()); err != nil {
				return err
			}
			fmt.Println("SimpleFin connection linked")
			return nil
		},
	}
	sfFlags.register(simplefinCmd)

	var lfFlags scheduleFlags
	lunchflowCmd := &cobra.Command{
		Use:   "lunchflow [api-key]",
		Short: "Link a LunchFlow connection with an API key",
		Long:  `Link a LunchFlow connection. The API key is taken from the argument, or from the lunchflow.apiKey config field / LUNCHFLOW_API_KEY when omitted.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := initApp()
			if err != nil {
				return err
			}
			defer a.Close()

			apiKey := a.cfg.LunchFlow.APIKey
			if len(args) == 1 {
				apiKey = strings.TrimSpace(args[0])
			}
			if apiKey == "" {
				return fmt.Errorf("no api key given and none configured")
			}

			if err := a.onboarder.LinkLunchFlow(cmd.Context(), apiKey, lfFlags.schedule()); err != nil {
				return err
			}
			fmt.Println("LunchFlow connection linked")
			return nil
		},
	}
	lfFlags.register(lunchflowCmd)

	cmd.AddCommand(simplefinCmd, lunchflowCmd)
	return cmd
}

func newUnlinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <provider>",
		Short: "Disconnect an aggregator, tearing down all its tracked accounts",
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

			if err := a.onboarder.Disconnect(cmd.Context(), provider); err != nil {
				return err
			}
			fmt.Printf("%s connection removed\n", provider)
			return nil
		},
	}
}

func parseProvider(s string) (models.AggregatorKind, error) {
	switch strings.ToLower(s) {
	case string(models.AggregatorSimpleFin):
		return models.AggregatorSimpleFin, nil
	case string(models.AggregatorLunchFlow):
		return models.AggregatorLunchFlow, nil
	default:
		return "", fmt.Errorf("unknown provider %q, expected %s or %s",
			s, models.AggregatorSimpleFin, models.AggregatorLunchFlow)
	}
}
