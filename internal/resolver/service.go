package resolver

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kopiro/letterboxd-sync/internal/domain"
)

type Service interface {
	Resolve(ctx context.Context, row domain.ExportRow) (domain.ResolvedMedia, error)
}

type service struct {
	log       zerolog.Logger
	cache     domain.Cache
	overrides domain.Overrides
	scraper   domain.Scraper
}

var _ domain.Resolver = (*service)(nil)

func NewService(log zerolog.Logger, cache domain.Cache, overrides domain.Overrides, scraper domain.Scraper) Service {
	return &service{
		log:       log.With().Str("module", "resolver").Logger(),
		cache:     cache,
		overrides: overrides,
		scraper:   scraper,
	}
}

// Resolve maps one export row to its TMDB reference: cache first, then
// manual overrides, then a page scrape. Successful resolutions are
// written through to the cache; failed ones never are, so the next run
// retries them (pages gain TMDB links over time).
func (s *service) Resolve(ctx context.Context, row domain.ExportRow) (domain.ResolvedMedia, error) {
	key := row.SourceKey()
	if key == "" {
		return domain.ResolvedMedia{}, &domain.PermanentScrapeError{
			SourceKey: key,
			Reason:    "row has neither URI nor slug",
		}
	}

	if media, ok := s.cache.Get(key); ok {
		return media, nil
	}

	if s.overrides != nil {
		if ref, ok := s.overrides.Lookup(key); ok {
			s.log.Debug().Str("key", key).Int("tmdbid", ref.TmdbID).Msg("resolved from overrides")
			return s.store(key, ref)
		}
	}

	ref, err := s.scraper.Resolve(ctx, key)
	if err != nil {
		return domain.ResolvedMedia{}, err
	}

	if row.MediaTypeHint.Valid() && row.MediaTypeHint != ref.MediaType {
		s.log.Warn().
			Str("key", key).
			Str("hint", string(row.MediaTypeHint)).
			Str("scraped", string(ref.MediaType)).
			Msg("media type hint disagrees with page, trusting the page")
	}

	return s.store(key, ref)
}

func (s *service) store(key string, ref domain.TMDBRef) (domain.ResolvedMedia, error) {
	media := domain.ResolvedMedia{
		SourceKey:  key,
		TmdbID:     ref.TmdbID,
		MediaType:  ref.MediaType,
		ResolvedAt: time.Now().UTC(),
	}

	if err := s.cache.Put(media); err != nil {
		if domain.IsCacheConflict(err) {
			return domain.ResolvedMedia{}, err
		}
		// Persistence trouble is not the row's fault; surface it as
		// transient so the dispatcher retries after backoff.
		return domain.ResolvedMedia{}, &domain.TransientScrapeError{SourceKey: key, Reason: "cache write failed", Err: err}
	}

	return media, nil
}
