package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kopiro/letterboxd-sync/internal/domain"
)

// Load builds the configuration from, in order of precedence: flags bound
// by the CLI, environment variables, a config file, and .env. The legacy
// environment names of the original scripts (LETTERBOXD_USERNAME and
// friends) are bound explicitly so existing setups keep working.
func Load() (*domain.Config, error) {
	// .env only fills in variables that are not already set.
	_ = godotenv.Load()

	viper.SetDefault("data_dir", "data")
	viper.SetDefault("workers", domain.DefaultWorkers)
	viper.SetDefault("max_retries", domain.DefaultMaxRetries)
	viper.SetDefault("scrape_rate", domain.DefaultScrapeRate)

	bindLegacyEnv()

	cfg := &domain.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}
	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("max_retries must be at least 1, got %d", cfg.MaxRetries)
	}
	if cfg.ScrapeRate <= 0 {
		return nil, fmt.Errorf("scrape_rate must be positive, got %v", cfg.ScrapeRate)
	}

	return cfg, nil
}

func bindLegacyEnv() {
	viper.BindEnv("letterboxd_username", "LETTERBOXD_SYNC_LETTERBOXD_USERNAME", "LETTERBOXD_USERNAME")
	viper.BindEnv("letterboxd_password", "LETTERBOXD_SYNC_LETTERBOXD_PASSWORD", "LETTERBOXD_PASSWORD")
	viper.BindEnv("tmdb_api_key", "LETTERBOXD_SYNC_TMDB_API_KEY", "TMDB_API_KEY")
	viper.BindEnv("trakt_client_id", "LETTERBOXD_SYNC_TRAKT_CLIENT_ID", "TRAKT_CLIENT_ID")
	viper.BindEnv("trakt_client_secret", "LETTERBOXD_SYNC_TRAKT_CLIENT_SECRET", "TRAKT_CLIENT_SECRET")
	viper.BindEnv("discord_webhook_url", "LETTERBOXD_SYNC_DISCORD_WEBHOOK_URL", "DISCORD_WEBHOOK_URL")
}
