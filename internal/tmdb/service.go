package tmdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/kopiro/letterboxd-sync/internal/domain"
)

type Service interface {
	SyncRatings(ctx context.Context, resolved []domain.ResolvedRow) (domain.SyncStats, error)
}

type service struct {
	log         zerolog.Logger
	cfg         *domain.Config
	sessionPath string
	apiURL      string
	client      *http.Client
	sessionID   string

	waitForApproval func()
	writeDelay      time.Duration
}

type accountResponse struct {
	ID int `json:"id"`
}

type ratedResponse struct {
	Page    int `json:"page"`
	Results []struct {
		ID     int     `json:"id"`
		Rating float64 `json:"rating"`
	} `json:"results"`
	TotalPages int `json:"total_pages"`
}

type ratingStatus struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
}

func NewService(log zerolog.Logger, cfg *domain.Config, paths *domain.Paths) Service {
	return &service{
		log:             log.With().Str("module", "tmdb").Logger(),
		cfg:             cfg,
		sessionPath:     paths.TMDBSession,
		apiURL:          "https://api.themoviedb.org/3",
		client:          &http.Client{Timeout: 30 * time.Second},
		waitForApproval: defaultWaitForApproval,
		writeDelay:      250 * time.Millisecond,
	}
}

// SyncRatings pushes the resolved rows' ratings to TMDB, skipping items
// whose existing rating already matches. TMDB rates on a 1–10 scale, so
// Letterboxd half-stars are doubled. Per-item failures are counted, not
// fatal.
func (s *service) SyncRatings(ctx context.Context, resolved []domain.ResolvedRow) (domain.SyncStats, error) {
	stats := domain.SyncStats{}

	if s.cfg.TmdbAPIKey == "" {
		return stats, errors.New("tmdb_api_key is not configured")
	}

	sessionID, err := s.authenticate(ctx)
	if err != nil {
		return stats, errors.Wrap(err, "TMDB authentication failed")
	}
	s.sessionID = sessionID

	var account accountResponse
	if err := s.get(ctx, "/account", nil, &account); err != nil {
		return stats, errors.Wrap(err, "failed to fetch TMDB account")
	}

	existingMovies, err := s.fetchExistingRatings(ctx, account.ID, domain.MediaTypeMovie)
	if err != nil {
		return stats, errors.Wrap(err, "failed to fetch existing movie ratings")
	}
	existingShows, err := s.fetchExistingRatings(ctx, account.ID, domain.MediaTypeTV)
	if err != nil {
		return stats, errors.Wrap(err, "failed to fetch existing tv ratings")
	}

	s.log.Info().
		Int("existing_movies", len(existingMovies)).
		Int("existing_shows", len(existingShows)).
		Int("to_sync", len(resolved)).
		Msg("syncing ratings to TMDB")

	for _, rr := range resolved {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if rr.Row.Rating == 0 {
			continue
		}

		target := rr.Row.Rating * 2

		existing := existingMovies
		if rr.Media.MediaType == domain.MediaTypeTV {
			existing = existingShows
		}
		if current, ok := existing[rr.Media.TmdbID]; ok && math.Abs(current-target) < 0.1 {
			stats.RatingsSkipped++
			continue
		}

		if err := s.rate(ctx, rr.Media, target); err != nil {
			stats.Failed++
			s.log.Warn().Err(err).Str("title", rr.Row.Title).Int("tmdbid", rr.Media.TmdbID).Msg("failed to rate")
			continue
		}

		stats.RatingsAdded++
		s.log.Debug().Str("title", rr.Row.Title).Float64("rating", target).Msg("rated")

		if s.writeDelay > 0 {
			time.Sleep(s.writeDelay)
		}
	}

	s.log.Info().
		Int("added", stats.RatingsAdded).
		Int("skipped", stats.RatingsSkipped).
		Int("failed", stats.Failed).
		Msg("TMDB sync complete")

	return stats, nil
}

func (s *service) fetchExistingRatings(ctx context.Context, accountID int, mediaType domain.MediaType) (map[int]float64, error) {
	endpoint := fmt.Sprintf("/account/%d/rated/movies", accountID)
	if mediaType == domain.MediaTypeTV {
		endpoint = fmt.Sprintf("/account/%d/rated/tv", accountID)
	}

	ratings := map[int]float64{}
	for page, totalPages := 1, 1; page <= totalPages; page++ {
		var resp ratedResponse
		params := map[string]string{"page": fmt.Sprintf("%d", page)}
		if err := s.get(ctx, endpoint, params, &resp); err != nil {
			return nil, err
		}

		for _, item := range resp.Results {
			ratings[item.ID] = item.Rating
		}
		if resp.TotalPages > 0 {
			totalPages = resp.TotalPages
		}
	}

	return ratings, nil
}

func (s *service) rate(ctx context.Context, media domain.ResolvedMedia, value float64) error {
	endpoint := fmt.Sprintf("/movie/%d/rating", media.TmdbID)
	if media.MediaType == domain.MediaTypeTV {
		endpoint = fmt.Sprintf("/tv/%d/rating", media.TmdbID)
	}

	body, err := json.Marshal(map[string]float64{"value": value})
	if err != nil {
		return errors.Wrap(err, "failed to marshal rating")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+endpoint+"?"+s.query(nil).Encode(), bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json;charset=utf-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return nil
	}

	var status ratingStatus
	raw, _ := io.ReadAll(resp.Body)
	if json.Unmarshal(raw, &status) == nil && status.StatusMessage != "" {
		return errors.Errorf("HTTP %d: %s", resp.StatusCode, status.StatusMessage)
	}
	return errors.Errorf("HTTP %d", resp.StatusCode)
}

func (s *service) get(ctx context.Context, endpoint string, params map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+endpoint+"?"+s.query(params).Encode(), nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected status code %d from %s", resp.StatusCode, endpoint)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}

	return errors.Wrap(json.Unmarshal(body, out), "failed to unmarshal response")
}

func (s *service) query(params map[string]string) url.Values {
	q := url.Values{}
	q.Set("api_key", s.cfg.TmdbAPIKey)
	if s.sessionID != "" {
		q.Set("session_id", s.sessionID)
	}
	for k, v := range params {
		q.Set(k, v)
	}
	return q
}
