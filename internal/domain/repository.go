package domain

import "context"

// Cache is the durable source-key → resolved-media store. Get is a pure
// lookup; Put is write-through and must reject a differing resolution for
// an existing key with CacheConflictError. Implementations are safe for
// concurrent use.
type Cache interface {
	Get(sourceKey string) (ResolvedMedia, bool)
	Put(media ResolvedMedia) error
	Flush() error
}

// Scraper fetches a Letterboxd page and extracts the embedded TMDB
// reference. Failures are typed: *TransientScrapeError when a retry may
// help, *PermanentScrapeError when it cannot.
type Scraper interface {
	Resolve(ctx context.Context, sourceKey string) (TMDBRef, error)
}

// Overrides supplies manual source-key → TMDB mappings consulted before
// scraping, for pages that carry no TMDB link.
type Overrides interface {
	Lookup(sourceKey string) (TMDBRef, bool)
}

// Resolver turns one export row into a resolved media reference,
// consulting the cache first and scraping on a miss.
type Resolver interface {
	Resolve(ctx context.Context, row ExportRow) (ResolvedMedia, error)
}

// Notifier delivers run summaries out of band. Implementations must treat
// a missing destination as "skip silently".
type Notifier interface {
	SendSummary(ctx context.Context, rec RunRecord, tmdb, trakt SyncStats) error
	SendError(ctx context.Context, err error) error
}
