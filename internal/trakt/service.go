package trakt

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/kopiro/letterboxd-sync/internal/domain"
)

const batchSize = 50

type Service interface {
	Sync(ctx context.Context, resolved []domain.ResolvedRow) (domain.SyncStats, error)
}

type service struct {
	log         zerolog.Logger
	cfg         *domain.Config
	tokenPath   string
	apiURL      string
	client      *http.Client
	accessToken string

	pollInterval time.Duration
	writeDelay   time.Duration
}

type mediaIDs struct {
	IDs struct {
		Tmdb int `json:"tmdb"`
	} `json:"ids"`
}

type ratedEntry struct {
	Rating int       `json:"rating"`
	Movie  *mediaIDs `json:"movie"`
	Show   *mediaIDs `json:"show"`
}

type syncItem struct {
	IDs struct {
		Tmdb int `json:"tmdb"`
	} `json:"ids"`
	Rating    int    `json:"rating,omitempty"`
	RatedAt   string `json:"rated_at,omitempty"`
	WatchedAt string `json:"watched_at,omitempty"`
}

type syncPayload struct {
	Movies []syncItem `json:"movies,omitempty"`
	Shows  []syncItem `json:"shows,omitempty"`
}

type syncResponse struct {
	Added struct {
		Movies   int `json:"movies"`
		Shows    int `json:"shows"`
		Episodes int `json:"episodes"`
	} `json:"added"`
	NotFound struct {
		Movies []json.RawMessage `json:"movies"`
		Shows  []json.RawMessage `json:"shows"`
	} `json:"not_found"`
}

func NewService(log zerolog.Logger, cfg *domain.Config, paths *domain.Paths) Service {
	return &service{
		log:        log.With().Str("module", "trakt").Logger(),
		cfg:        cfg,
		tokenPath:  paths.TraktSession,
		apiURL:     "https://api.trakt.tv",
		client:     &http.Client{Timeout: 30 * time.Second},
		writeDelay: time.Second,
	}
}

// Sync pushes ratings and watch history for the resolved rows to Trakt
// in batches, movies and shows split. Rows whose rating already matches
// on Trakt are skipped entirely. Trakt rates on an integer 1-10 scale,
// so Letterboxd half-stars are doubled and truncated.
func (s *service) Sync(ctx context.Context, resolved []domain.ResolvedRow) (domain.SyncStats, error) {
	stats := domain.SyncStats{}

	if s.cfg.TraktClientID == "" || s.cfg.TraktClientSecret == "" {
		return stats, errors.New("trakt_client_id and trakt_client_secret are not configured")
	}

	token, err := s.authenticate(ctx)
	if err != nil {
		return stats, errors.Wrap(err, "Trakt authentication failed")
	}
	s.accessToken = token

	existingMovies, err := s.fetchExistingRatings(ctx, "movies")
	if err != nil {
		return stats, errors.Wrap(err, "failed to fetch existing movie ratings")
	}
	existingShows, err := s.fetchExistingRatings(ctx, "shows")
	if err != nil {
		return stats, errors.Wrap(err, "failed to fetch existing show ratings")
	}

	// Resolution order is whatever the worker pool produced; history
	// reads better in watch order.
	rows := make([]domain.ResolvedRow, len(resolved))
	copy(rows, resolved)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Row.WatchedAt.Before(rows[j].Row.WatchedAt)
	})

	s.log.Info().
		Int("existing_movies", len(existingMovies)).
		Int("existing_shows", len(existingShows)).
		Int("to_sync", len(rows)).
		Msg("syncing to Trakt")

	var movieRatings, showRatings, movieHistory, showHistory []syncItem

	flush := func() error {
		if err := s.flushBatches(ctx, &stats, &movieRatings, &showRatings, &movieHistory, &showHistory); err != nil {
			return err
		}
		if s.writeDelay > 0 {
			time.Sleep(s.writeDelay)
		}
		return nil
	}

	for _, rr := range rows {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		rating := int(rr.Row.Rating * 2)

		existing := existingMovies
		if rr.Media.MediaType == domain.MediaTypeTV {
			existing = existingShows
		}
		if current, ok := existing[rr.Media.TmdbID]; ok && rating > 0 && current == rating {
			stats.RatingsSkipped++
			continue
		}

		ts := timestamp(rr.Row.WatchedAt)

		history := syncItem{WatchedAt: ts}
		history.IDs.Tmdb = rr.Media.TmdbID

		var ratingItem *syncItem
		if rating > 0 {
			item := syncItem{Rating: rating, RatedAt: ts}
			item.IDs.Tmdb = rr.Media.TmdbID
			ratingItem = &item
		}

		if rr.Media.MediaType == domain.MediaTypeTV {
			showHistory = append(showHistory, history)
			if ratingItem != nil {
				showRatings = append(showRatings, *ratingItem)
			}
		} else {
			movieHistory = append(movieHistory, history)
			if ratingItem != nil {
				movieRatings = append(movieRatings, *ratingItem)
			}
		}

		if len(movieHistory) >= batchSize || len(showHistory) >= batchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}

	if err := s.flushBatches(ctx, &stats, &movieRatings, &showRatings, &movieHistory, &showHistory); err != nil {
		return stats, err
	}

	s.log.Info().
		Int("ratings_added", stats.RatingsAdded).
		Int("ratings_skipped", stats.RatingsSkipped).
		Int("history_added", stats.HistoryAdded).
		Int("failed", stats.Failed).
		Msg("Trakt sync complete")

	return stats, nil
}

func (s *service) flushBatches(ctx context.Context, stats *domain.SyncStats, movieRatings, showRatings, movieHistory, showHistory *[]syncItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(*movieRatings) > 0 || len(*showRatings) > 0 {
		payload := syncPayload{Movies: *movieRatings, Shows: *showRatings}
		resp, err := s.post(ctx, "/sync/ratings", payload)
		if err != nil {
			stats.Failed += len(*movieRatings) + len(*showRatings)
			s.log.Warn().Err(err).Msg("failed to sync ratings batch")
		} else {
			stats.RatingsAdded += resp.Added.Movies + resp.Added.Shows
			if n := len(resp.NotFound.Movies) + len(resp.NotFound.Shows); n > 0 {
				stats.Failed += n
				s.log.Warn().Int("count", n).Msg("some items were not found on Trakt")
			}
		}
		*movieRatings, *showRatings = nil, nil
	}

	if len(*movieHistory) > 0 || len(*showHistory) > 0 {
		payload := syncPayload{Movies: *movieHistory, Shows: *showHistory}
		resp, err := s.post(ctx, "/sync/history", payload)
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to sync history batch")
		} else {
			stats.HistoryAdded += resp.Added.Movies + resp.Added.Shows
		}
		*movieHistory, *showHistory = nil, nil
	}

	return nil
}

func (s *service) fetchExistingRatings(ctx context.Context, mediaType string) (map[int]int, error) {
	ratings := map[int]int{}

	for page, pageCount := 1, 1; page <= pageCount; page++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"/users/me/ratings/"+mediaType, nil)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create request")
		}
		q := req.URL.Query()
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", "100")
		req.URL.RawQuery = q.Encode()
		s.setHeaders(req)

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "request failed")
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, errors.Errorf("unexpected status code %d fetching %s ratings", resp.StatusCode, mediaType)
		}

		var entries []ratedEntry
		err = json.NewDecoder(resp.Body).Decode(&entries)
		if pc := parsePageCount(resp.Header.Get("X-Pagination-Page-Count")); pc > 0 {
			pageCount = pc
		}
		resp.Body.Close()
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode ratings page")
		}

		for _, e := range entries {
			switch {
			case e.Movie != nil && e.Movie.IDs.Tmdb != 0:
				ratings[e.Movie.IDs.Tmdb] = e.Rating
			case e.Show != nil && e.Show.IDs.Tmdb != 0:
				ratings[e.Show.IDs.Tmdb] = e.Rating
			}
		}
	}

	return ratings, nil
}

func (s *service) post(ctx context.Context, endpoint string, payload syncPayload) (*syncResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return nil, errors.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out syncResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "failed to decode sync response")
	}
	return &out, nil
}

func (s *service) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	req.Header.Set("trakt-api-version", "2")
	req.Header.Set("trakt-api-key", s.cfg.TraktClientID)
}

// timestamp renders the watch date at noon UTC the way Trakt expects,
// falling back to now when the export row carried no date.
func timestamp(watchedAt time.Time) string {
	if watchedAt.IsZero() {
		return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	}
	return watchedAt.Format("2006-01-02") + "T12:00:00.000Z"
}

func parsePageCount(header string) int {
	n, err := strconv.Atoi(header)
	if err != nil {
		return 0
	}
	return n
}
