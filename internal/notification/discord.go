package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/kopiro/letterboxd-sync/internal/domain"
)

// DiscordService delivers run summaries to a Discord webhook. An empty
// webhook URL disables it silently.
type DiscordService struct {
	log        zerolog.Logger
	webhookURL string
	httpClient *http.Client
}

var _ domain.Notifier = (*DiscordService)(nil)

func NewDiscordService(log zerolog.Logger, webhookURL string) *DiscordService {
	return &DiscordService{
		log:        log.With().Str("module", "notification").Str("type", "discord").Logger(),
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SendSummary sends the end-of-run summary embed.
func (s *DiscordService) SendSummary(ctx context.Context, rec domain.RunRecord, tmdb, trakt domain.SyncStats) error {
	if s.webhookURL == "" {
		return nil
	}

	color := 0x00ff00 // Green
	if rec.Failed > 0 || rec.Conflicts > 0 {
		color = 0xffa500 // Orange: finished, but some rows need attention
	}

	embed := discordEmbed{
		Title:       "Letterboxd Sync Completed",
		Description: fmt.Sprintf("Processed %d rows in %s", rec.TotalRows, rec.FinishedAt.Sub(rec.StartedAt).Round(time.Second)),
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields: []discordField{
			{
				Name:   "Resolution",
				Value:  fmt.Sprintf("%d cache hits, %d scraped, %d failed, %d conflicts", rec.CacheHits, rec.Scraped, rec.Failed, rec.Conflicts),
				Inline: false,
			},
			{
				Name:   "TMDB",
				Value:  fmt.Sprintf("%d rated, %d skipped, %d failed", tmdb.RatingsAdded, tmdb.RatingsSkipped, tmdb.Failed),
				Inline: true,
			},
			{
				Name:   "Trakt",
				Value:  fmt.Sprintf("%d rated, %d skipped, %d history, %d failed", trakt.RatingsAdded, trakt.RatingsSkipped, trakt.HistoryAdded, trakt.Failed),
				Inline: true,
			},
		},
	}

	payload := discordWebhook{
		Embeds: []discordEmbed{embed},
	}

	return s.sendWebhook(ctx, payload)
}

// SendError sends an error notification with error details.
func (s *DiscordService) SendError(ctx context.Context, runErr error) error {
	if s.webhookURL == "" {
		return nil
	}

	embed := discordEmbed{
		Title:       "Letterboxd Sync Failed",
		Description: fmt.Sprintf("Run aborted with error:\n```%s```", runErr.Error()),
		Color:       0xff0000, // Red
		Timestamp:   time.Now().Format(time.RFC3339),
	}

	payload := discordWebhook{
		Embeds: []discordEmbed{embed},
	}

	return s.sendWebhook(ctx, payload)
}

func (s *DiscordService) sendWebhook(ctx context.Context, payload discordWebhook) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return errors.Wrap(err, "failed to create webhook request")
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send webhook request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook request failed with status %d", resp.StatusCode)
	}

	s.log.Debug().Msg("Discord notification sent")
	return nil
}

type discordWebhook struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Fields      []discordField `json:"fields,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}
