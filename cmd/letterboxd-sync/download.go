package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download a fresh Letterboxd export",
	Long: `Download signs in to Letterboxd with the configured credentials and
saves the account's data export archive into the data directory,
replacing any existing one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		application, _, err := newApp()
		if err != nil {
			return err
		}

		if err := application.Download(ctx); err != nil {
			return fmt.Errorf("download failed: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}
