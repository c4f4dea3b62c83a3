package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show recent runs from the journal",
	Long: `Report prints the most recent journaled runs with their resolution
counters, including the rows each run left unresolved.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		application, _, err := newApp()
		if err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		if err := application.Report(context.Background(), limit); err != nil {
			return fmt.Errorf("report failed: %w", err)
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().Int("limit", 10, "number of runs to show")
	rootCmd.AddCommand(reportCmd)
}
