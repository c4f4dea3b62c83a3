package dispatcher

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/kopiro/letterboxd-sync/internal/domain"
)

type Service interface {
	Run(ctx context.Context, rows []domain.ExportRow) (*domain.Report, error)
}

type service struct {
	log      zerolog.Logger
	cache    domain.Cache
	resolver domain.Resolver
	limiter  *rate.Limiter

	workers     int
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
}

// NewService creates the dispatcher. The limiter is shared across the
// whole pool so the worker count bounds concurrency while the rate bounds
// requests per second, independently.
func NewService(log zerolog.Logger, cfg *domain.Config, cache domain.Cache, resolver domain.Resolver) Service {
	return &service{
		log:         log.With().Str("module", "dispatcher").Logger(),
		cache:       cache,
		resolver:    resolver,
		limiter:     rate.NewLimiter(rate.Limit(cfg.ScrapeRate), 1),
		workers:     cfg.Workers,
		maxAttempts: cfg.MaxRetries,
		backoffBase: 500 * time.Millisecond,
		backoffMax:  8 * time.Second,
	}
}

// keyWork groups every row sharing a source key; the key is scraped once
// no matter how many rows need it.
type keyWork struct {
	key  string
	rows []domain.ExportRow
}

type keyOutcome struct {
	key     string
	media   domain.ResolvedMedia
	err     error
	scraped bool
}

// Run partitions rows into cache hits and misses, deduplicates the misses
// by source key, and resolves them on a bounded worker pool. It returns
// once every key has reached a terminal state; resolved rows are always
// in the report even when others failed. Emission order is not defined,
// so consumers needing chronology re-sort by watched date.
func (s *service) Run(ctx context.Context, rows []domain.ExportRow) (*domain.Report, error) {
	report := &domain.Report{}

	pending := []keyWork{}
	pendingIdx := map[string]int{}

	for _, row := range rows {
		key := row.SourceKey()
		if key == "" {
			report.Failed = append(report.Failed, domain.RowFailure{
				Title:  row.Title,
				Reason: "row has neither URI nor slug",
			})
			continue
		}

		if media, ok := s.cache.Get(key); ok {
			report.Resolved = append(report.Resolved, domain.ResolvedRow{Row: row, Media: media})
			report.CacheHits++
			continue
		}

		if i, ok := pendingIdx[key]; ok {
			pending[i].rows = append(pending[i].rows, row)
			continue
		}
		pendingIdx[key] = len(pending)
		pending = append(pending, keyWork{key: key, rows: []domain.ExportRow{row}})
	}

	s.log.Info().
		Int("rows", len(rows)).
		Int("cache_hits", report.CacheHits).
		Int("to_scrape", len(pending)).
		Msg("partitioned work")

	if len(pending) == 0 {
		return report, s.cache.Flush()
	}

	workers := s.workers
	if workers > len(pending) {
		workers = len(pending)
	}

	work := make(chan keyWork)
	outcomes := make(chan keyOutcome, len(pending))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for kw := range work {
				media, scraped, err := s.resolveKey(ctx, kw)
				outcomes <- keyOutcome{key: kw.key, media: media, err: err, scraped: scraped}
			}
		}()
	}

	go func() {
		defer close(work)
		for _, kw := range pending {
			select {
			case work <- kw:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	resolved := map[string]domain.ResolvedMedia{}
	failed := map[string]string{}
	seen := map[string]bool{}

	for out := range outcomes {
		seen[out.key] = true
		if out.scraped {
			report.Scraped++
		}
		switch {
		case out.err == nil:
			resolved[out.key] = out.media
		case domain.IsCacheConflict(out.err):
			report.Conflicts++
			failed[out.key] = out.err.Error()
			s.log.Error().Str("key", out.key).Msg(out.err.Error())
		default:
			failed[out.key] = failureReason(out.err)
		}
	}

	for _, kw := range pending {
		if !seen[kw.key] {
			// Never dispatched: the run was cancelled first.
			failed[kw.key] = "run cancelled before resolution"
		}

		if media, ok := resolved[kw.key]; ok {
			for _, row := range kw.rows {
				report.Resolved = append(report.Resolved, domain.ResolvedRow{Row: row, Media: media})
			}
			continue
		}
		for _, row := range kw.rows {
			report.Failed = append(report.Failed, domain.RowFailure{
				SourceKey: kw.key,
				Title:     row.Title,
				Reason:    failed[kw.key],
			})
		}
	}

	// Puts already persisted entry by entry; this is the belt-and-braces
	// flush for the run boundary.
	if err := s.cache.Flush(); err != nil {
		return report, err
	}

	return report, ctx.Err()
}

// resolveKey drives one key to a terminal state: resolved, permanently
// failed, or retries exhausted. Only transient failures are retried.
func (s *service) resolveKey(ctx context.Context, kw keyWork) (domain.ResolvedMedia, bool, error) {
	row := kw.rows[0]
	scraped := false

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return domain.ResolvedMedia{}, scraped, err
		}

		media, err := s.resolver.Resolve(ctx, row)
		if err == nil {
			scraped = true
			s.log.Debug().Str("key", kw.key).Int("tmdbid", media.TmdbID).Int("attempt", attempt).Msg("resolved")
			return media, scraped, nil
		}

		if !domain.IsTransientScrape(err) {
			return domain.ResolvedMedia{}, scraped, err
		}

		lastErr = err
		s.log.Warn().Str("key", kw.key).Int("attempt", attempt).Err(err).Msg("transient failure, backing off")

		if attempt < s.maxAttempts {
			if err := s.sleep(ctx, s.backoff(attempt)); err != nil {
				return domain.ResolvedMedia{}, scraped, err
			}
		}
	}

	// Retries exhausted: terminal for this run, retried next run.
	return domain.ResolvedMedia{}, scraped, &domain.PermanentScrapeError{
		SourceKey: kw.key,
		Reason:    "retries exhausted: " + lastErr.Error(),
	}
}

// backoff returns an exponentially growing delay with jitter so workers
// hitting the same throttle don't retry in lockstep.
func (s *service) backoff(attempt int) time.Duration {
	d := s.backoffBase << (attempt - 1)
	if d > s.backoffMax {
		d = s.backoffMax
	}
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

func (s *service) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func failureReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
