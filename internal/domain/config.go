package domain

type Config struct {
	DataDir string `mapstructure:"data_dir"`

	LetterboxdUsername string `mapstructure:"letterboxd_username"`
	LetterboxdPassword string `mapstructure:"letterboxd_password"`

	TmdbAPIKey        string `mapstructure:"tmdb_api_key"`
	TraktClientID     string `mapstructure:"trakt_client_id"`
	TraktClientSecret string `mapstructure:"trakt_client_secret"`

	// Workers bounds the scrape pool. Kept low on purpose; Letterboxd has
	// no published rate limits but throttles aggressive clients.
	Workers    int     `mapstructure:"workers"`
	MaxRetries int     `mapstructure:"max_retries"`
	ScrapeRate float64 `mapstructure:"scrape_rate"`

	DiscordWebhookURL string `mapstructure:"discord_webhook_url"`
}

const (
	DefaultWorkers    = 4
	DefaultMaxRetries = 3
	DefaultScrapeRate = 2.0
)
