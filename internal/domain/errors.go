package domain

import (
	"errors"
	"fmt"
)

// CacheCorruptError marks an unreadable or malformed persisted cache.
// Fatal: every downstream duplicate check depends on cache integrity, so
// the run aborts instead of silently reinitializing the store.
type CacheCorruptError struct {
	Path string
	Err  error
}

func (e *CacheCorruptError) Error() string {
	return fmt.Sprintf("cache file %s is corrupt: %v", e.Path, e.Err)
}

func (e *CacheCorruptError) Unwrap() error { return e.Err }

// CacheConflictError reports two different resolutions claiming the same
// source key. The existing entry stays untouched; the conflict is
// surfaced for manual resolution and the run continues for other keys.
type CacheConflictError struct {
	SourceKey string
	Existing  ResolvedMedia
	Incoming  ResolvedMedia
}

func (e *CacheConflictError) Error() string {
	return fmt.Sprintf("cache conflict for %s: existing tmdbid=%d type=%s, incoming tmdbid=%d type=%s",
		e.SourceKey, e.Existing.TmdbID, e.Existing.MediaType, e.Incoming.TmdbID, e.Incoming.MediaType)
}

// TransientScrapeError marks a scrape failure worth retrying: rate
// limiting, timeouts, temporary upstream errors.
type TransientScrapeError struct {
	SourceKey string
	Reason    string
	Err       error
}

func (e *TransientScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient scrape failure for %s: %s: %v", e.SourceKey, e.Reason, e.Err)
	}
	return fmt.Sprintf("transient scrape failure for %s: %s", e.SourceKey, e.Reason)
}

func (e *TransientScrapeError) Unwrap() error { return e.Err }

// PermanentScrapeError marks a scrape failure that retrying cannot fix:
// page gone, no TMDB link on the page, unparseable layout.
type PermanentScrapeError struct {
	SourceKey string
	Reason    string
}

func (e *PermanentScrapeError) Error() string {
	return fmt.Sprintf("permanent scrape failure for %s: %s", e.SourceKey, e.Reason)
}

// IsTransientScrape reports whether err is a retryable scrape failure.
func IsTransientScrape(err error) bool {
	var t *TransientScrapeError
	return errors.As(err, &t)
}

// IsPermanentScrape reports whether err is a non-retryable scrape failure.
func IsPermanentScrape(err error) bool {
	var p *PermanentScrapeError
	return errors.As(err, &p)
}

// IsCacheConflict reports whether err is a cache conflict.
func IsCacheConflict(err error) bool {
	var c *CacheConflictError
	return errors.As(err, &c)
}
