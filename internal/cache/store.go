package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/kopiro/letterboxd-sync/internal/domain"
)

// Store is the durable source-key → resolved-media map. Resolution via
// scraping is the most expensive and failure-prone step in the pipeline,
// so entries written here are never re-derived: a warm cache turns an
// O(rows) scraping cost into O(unique unresolved rows) across the
// lifetime of the tool.
//
// The persisted form is a single JSON object keyed by source key. Writes
// go to a temp file in the same directory followed by a rename, so a
// crash mid-write can never truncate the store. A flock on a sidecar file
// keeps two processes from mutating the same cache.
type Store struct {
	log  zerolog.Logger
	path string
	fl   *flock.Flock

	mu      sync.Mutex
	entries map[string]domain.ResolvedMedia
}

var _ domain.Cache = (*Store)(nil)

// Open reads the cache at path, creating an empty store when the file
// does not exist yet. A malformed file is a hard error
// (*domain.CacheCorruptError): the store is never silently reinitialized
// over existing data.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create cache directory")
	}

	fl := flock.New(path + ".lock")
	locked, err := fl.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock cache file")
	}
	if !locked {
		return nil, errors.Errorf("cache file %s is locked by another process", path)
	}

	s := &Store{
		log:     log.With().Str("module", "cache").Logger(),
		path:    path,
		fl:      fl,
		entries: make(map[string]domain.ResolvedMedia),
	}

	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Debug().Str("path", path).Msg("no cache file yet, starting empty")
			return s, nil
		}
		fl.Unlock()
		return nil, errors.Wrapf(err, "failed to read cache file %s", path)
	}

	if len(body) > 0 {
		if err := json.Unmarshal(body, &s.entries); err != nil {
			fl.Unlock()
			return nil, &domain.CacheCorruptError{Path: path, Err: err}
		}
	}

	for key, media := range s.entries {
		media.SourceKey = key
		s.entries[key] = media
	}

	s.log.Debug().Int("entries", len(s.entries)).Str("path", path).Msg("cache loaded")
	return s, nil
}

// Get is a pure lookup with no side effects.
func (s *Store) Get(sourceKey string) (domain.ResolvedMedia, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	media, ok := s.entries[sourceKey]
	return media, ok
}

// Put writes an entry through to disk. Idempotent for an identical value;
// a differing resolution for an existing key is a
// *domain.CacheConflictError and leaves the existing entry intact.
func (s *Store) Put(media domain.ResolvedMedia) error {
	if media.SourceKey == "" {
		return errors.New("refusing to cache entry with empty source key")
	}
	if !media.MediaType.Valid() {
		return errors.Errorf("refusing to cache entry with media type %q", media.MediaType)
	}
	if media.ResolvedAt.IsZero() {
		media.ResolvedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[media.SourceKey]; ok {
		if existing.Same(media) {
			return nil
		}
		return &domain.CacheConflictError{
			SourceKey: media.SourceKey,
			Existing:  existing,
			Incoming:  media,
		}
	}

	s.entries[media.SourceKey] = media
	if err := s.persistLocked(); err != nil {
		// The in-memory entry stays; a later Flush retries the write.
		return errors.Wrap(err, "failed to persist cache")
	}

	return nil
}

// Flush rewrites the store. Put already persists on every write, so this
// exists for exit paths that want a final guarantee.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close flushes and releases the cache lock.
func (s *Store) Close() error {
	if err := s.Flush(); err != nil {
		s.fl.Unlock()
		return err
	}
	return s.fl.Unlock()
}

func (s *Store) persistLocked() error {
	j, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal cache")
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".tmdb_id_cache-*.json")
	if err != nil {
		return errors.Wrap(err, "failed to create temp cache file")
	}

	if _, err := tmp.Write(j); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to write temp cache file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to close temp cache file")
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to chmod temp cache file")
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to replace cache file")
	}

	return nil
}
