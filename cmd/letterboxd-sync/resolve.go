package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve the export to TMDB IDs without syncing",
	Long: `Resolve warms the identifier cache: every row of the export is
resolved to a TMDB ID and stored, but nothing is pushed to TMDB or
Trakt. Useful before a large first sync, or to retry unresolved rows
after editing overrides.yaml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		application, _, err := newApp()
		if err != nil {
			return err
		}

		file, _ := cmd.Flags().GetString("file")
		if err := application.Resolve(ctx, file); err != nil {
			return fmt.Errorf("resolve failed: %w", err)
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().String("file", "", "export archive or ratings CSV to use instead of the data dir default")
	rootCmd.AddCommand(resolveCmd)
}
