package scraper

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/kopiro/letterboxd-sync/internal/domain"
)

// Letterboxd film pages link out to TMDB through a tracked button. The
// href carries both the media type and the numeric ID, which is the only
// reliable way to tell movies from TV shows: the page layout is otherwise
// identical for the two.
const tmdbLinkSelector = `a[data-track-action="TMDB"]`

var tmdbHrefRe = regexp.MustCompile(`/(movie|tv)/(\d+)/?`)

// Browser-like headers keep the scraper from being served the bot
// interstitial.
var scrapeHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/85.0.4183.102 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
}

type Service interface {
	Resolve(ctx context.Context, sourceKey string) (domain.TMDBRef, error)
}

type service struct {
	log    zerolog.Logger
	client *http.Client
}

var _ domain.Scraper = (*service)(nil)

// NewService creates the scrape adapter. A nil client gets a default with
// a conservative timeout; redirects are followed so boxd.it short links
// land on the film page.
func NewService(log zerolog.Logger, client *http.Client) Service {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &service{
		log:    log.With().Str("module", "scraper").Logger(),
		client: client,
	}
}

// Resolve fetches the page behind sourceKey and extracts the TMDB
// reference. Failures come back typed: *domain.TransientScrapeError when
// the caller should retry with backoff, *domain.PermanentScrapeError when
// it should not.
func (s *service) Resolve(ctx context.Context, sourceKey string) (domain.TMDBRef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceKey, nil)
	if err != nil {
		return domain.TMDBRef{}, &domain.PermanentScrapeError{SourceKey: sourceKey, Reason: "invalid page URL"}
	}
	for k, v := range scrapeHeaders {
		req.Header.Set(k, v)
	}

	s.log.Debug().Str("url", sourceKey).Msg("scraping")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return domain.TMDBRef{}, ctx.Err()
		}
		// Network-level failures (timeouts, resets, DNS blips) are all
		// worth retrying.
		return domain.TMDBRef{}, &domain.TransientScrapeError{SourceKey: sourceKey, Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.TMDBRef{}, classifyStatus(sourceKey, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return domain.TMDBRef{}, &domain.TransientScrapeError{SourceKey: sourceKey, Reason: "failed to read page body", Err: err}
	}

	href, ok := doc.Find(tmdbLinkSelector).First().Attr("href")
	if !ok {
		return domain.TMDBRef{}, &domain.PermanentScrapeError{SourceKey: sourceKey, Reason: "no TMDB link on page"}
	}

	m := tmdbHrefRe.FindStringSubmatch(href)
	if len(m) < 3 {
		return domain.TMDBRef{}, &domain.PermanentScrapeError{SourceKey: sourceKey, Reason: "TMDB link present but unparseable: " + href}
	}

	id, err := strconv.Atoi(m[2])
	if err != nil || id <= 0 {
		return domain.TMDBRef{}, &domain.PermanentScrapeError{SourceKey: sourceKey, Reason: "TMDB link present but unparseable: " + href}
	}

	ref := domain.TMDBRef{TmdbID: id, MediaType: domain.MediaType(m[1])}
	s.log.Debug().Str("url", sourceKey).Int("tmdbid", ref.TmdbID).Str("type", string(ref.MediaType)).Msg("resolved")
	return ref, nil
}

func classifyStatus(sourceKey string, code int) error {
	switch {
	case code == http.StatusTooManyRequests || code == http.StatusForbidden || code >= 500:
		// 403 shows up when Letterboxd throttles a client; it clears.
		return &domain.TransientScrapeError{SourceKey: sourceKey, Reason: "HTTP " + strconv.Itoa(code)}
	default:
		return &domain.PermanentScrapeError{SourceKey: sourceKey, Reason: "HTTP " + strconv.Itoa(code)}
	}
}
