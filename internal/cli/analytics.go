package cli

import (
	"github.com/spf13/cobra"
)

// NewAnalyticsCmd groups the reporting commands.
func NewAnalyticsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Usage, savings and alert reports",
	}

	var rollup bool
	report := &cobra.Command{
		Use:       "report [day|week|month]",
		Short:     "Print the detailed report for a period",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"day", "week", "month"},
		RunE: func(cmd *cobra.Command, args []string) error {
			period := "week"
			if len(args) == 1 {
				period = args[0]
			}

			svc, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			if rollup {
				if err := svc.Rollup(cmd.Context()); err != nil {
					return err
				}
			}
			r, err := svc.GetDetailedReport(cmd.Context(), period)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), r)
		},
	}
	report.Flags().BoolVar(&rollup, "rollup", false, "Run the daily rollup before reporting")

	economy := &cobra.Command{
		Use:   "economy",
		Short: "Print the 30-day savings estimate",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()
			return printJSON(cmd.OutOrStdout(), svc.GetEconomyReport())
		},
	}

	var all bool
	alerts := &cobra.Command{
		Use:   "alerts",
		Short: "List open alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()
			return printJSON(cmd.OutOrStdout(), svc.GetAlerts(!all))
		},
	}
	alerts.Flags().BoolVar(&all, "all", false, "Include resolved alerts")

	cmd.AddCommand(report, economy, alerts)
	return cmd
}
