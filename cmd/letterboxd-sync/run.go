package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kopiro/letterboxd-sync/internal/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full sync pipeline",
	Long: `Run performs a complete sync:
1. Downloads a Letterboxd export if none is present (credentials required)
2. Resolves every row to a TMDB identifier, cache first, scraping on miss
3. Records the run in the journal and writes unresolved rows to YAML
4. Pushes ratings to TMDB and ratings plus watch history to Trakt

Rows that fail permanently are skipped and reported; they do not abort
the run. SIGINT/SIGTERM cancel the run, flushing the cache first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
			viper.Set("workers", workers)
		}
		if retries, _ := cmd.Flags().GetInt("max-retries"); retries > 0 {
			viper.Set("max_retries", retries)
		}

		application, _, err := newApp()
		if err != nil {
			return err
		}

		opts := app.RunOptions{}
		opts.File, _ = cmd.Flags().GetString("file")
		opts.SkipTMDB, _ = cmd.Flags().GetBool("skip-tmdb")
		opts.SkipTrakt, _ = cmd.Flags().GetBool("skip-trakt")

		if err := application.Run(ctx, opts); err != nil {
			return fmt.Errorf("run failed: %w", err)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("file", "", "export archive or ratings CSV to use instead of the data dir default")
	runCmd.Flags().Bool("skip-tmdb", false, "resolve and journal but do not push to TMDB")
	runCmd.Flags().Bool("skip-trakt", false, "resolve and journal but do not push to Trakt")
	runCmd.Flags().Int("workers", 0, "override the scrape worker count")
	runCmd.Flags().Int("max-retries", 0, "override the number of attempts for transient failures")
	rootCmd.AddCommand(runCmd)
}
