package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kopiro/letterboxd-sync/internal/app"
	"github.com/kopiro/letterboxd-sync/internal/config"
	"github.com/kopiro/letterboxd-sync/internal/logger"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "letterboxd-sync",
	Short: "Sync Letterboxd ratings and watch history to TMDB and Trakt",
	Long: `letterboxd-sync reads a Letterboxd data export, resolves every film
to its TMDB identifier by scraping the film pages (with a durable local
cache), and pushes ratings and watch history to TMDB and Trakt.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.letterboxd-sync.yaml or ./config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "data", "directory for the cache, exports, sessions and journal")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: trace, debug, info, warn, error")

	// Bind flags to viper
	viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in home directory and current directory
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".letterboxd-sync")
		viper.SetConfigName("config")
	}

	// Environment variables
	viper.SetEnvPrefix("LETTERBOXD_SYNC")
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newApp builds the application from the merged configuration.
func newApp() (*app.App, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.NewWithLevel(viper.GetString("log_level"))
	return app.NewApp(log, cfg), log, nil
}
