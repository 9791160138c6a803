package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge runs, parcels and aliases older than the retention window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("lookup"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		days, _ := cmd.Flags().GetInt("retention-days")
		if !cmd.Flags().Changed("retention-days") {
			days = cfg.Lookup.RetentionDays
		}

		res, err := st.CleanupExpired(ctx, days)
		if err != nil {
			return eris.Wrap(err, "cleanup")
		}

		fmt.Fprintf(os.Stdout, "Removed %d runs, %d memberships, %d parcels, %d aliases (retention %d days).\n",
			res.Runs, res.Memberships, res.Parcels, res.Aliases, days)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().Int("retention-days", 0, "override lookup.retention_days; 0 disables cleanup")
	rootCmd.AddCommand(cleanupCmd)
}
