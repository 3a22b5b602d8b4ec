package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var (
	progressBatchSize    int
	progressDaysLookback int
	progressDryRun       bool
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Run one deal stage progression pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		opts := runOptions()
		if progressBatchSize > 0 {
			opts.BatchSize = progressBatchSize
		}
		if progressDaysLookback > 0 {
			opts.LookbackDays = progressDaysLookback
		}
		if cmd.Flags().Changed("dry-run") {
			opts.DryRun = progressDryRun
		}

		summary, err := env.Runner.Run(cmd.Context(), opts)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		return st.Migrate(cmd.Context())
	},
}

func init() {
	progressCmd.Flags().IntVar(&progressBatchSize, "batch-size", 0, "deals per concurrent batch (default from config)")
	progressCmd.Flags().IntVar(&progressDaysLookback, "days-lookback", 0, "communication recency window in days (default from config)")
	progressCmd.Flags().BoolVar(&progressDryRun, "dry-run", false, "analyze without writing stage changes")
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(migrateCmd)
}
