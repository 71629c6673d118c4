package main

import (
	"github.com/spf13/cobra"

	"github.com/miradorstack/incident-console/internal/analytics"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Summarise recent incidents from the job store.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		comps, err := buildComponents(cmd.Context(), cfg, logger, stderrNotifier(cmd.ErrOrStderr()))
		if err != nil {
			return err
		}
		defer comps.Close()

		incidents, err := comps.jobStore.RecentIncidents(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), analytics.Summarize(incidents))
	},
}
