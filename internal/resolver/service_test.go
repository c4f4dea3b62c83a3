package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kopiro/letterboxd-sync/internal/domain"
)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]domain.ResolvedMedia
	puts    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]domain.ResolvedMedia{}}
}

func (c *fakeCache) Get(key string) (domain.ResolvedMedia, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[key]
	return m, ok
}

func (c *fakeCache) Put(media domain.ResolvedMedia) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	if existing, ok := c.entries[media.SourceKey]; ok {
		if existing.Same(media) {
			return nil
		}
		return &domain.CacheConflictError{SourceKey: media.SourceKey, Existing: existing, Incoming: media}
	}
	c.entries[media.SourceKey] = media
	return nil
}

func (c *fakeCache) Flush() error { return nil }

type fakeScraper struct {
	mu    sync.Mutex
	calls map[string]int
	refs  map[string]domain.TMDBRef
	errs  map[string]error
}

func newFakeScraper() *fakeScraper {
	return &fakeScraper{
		calls: map[string]int{},
		refs:  map[string]domain.TMDBRef{},
		errs:  map[string]error{},
	}
}

func (f *fakeScraper) Resolve(ctx context.Context, key string) (domain.TMDBRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++
	if err, ok := f.errs[key]; ok {
		return domain.TMDBRef{}, err
	}
	return f.refs[key], nil
}

type mapOverrides map[string]domain.TMDBRef

func (m mapOverrides) Lookup(key string) (domain.TMDBRef, bool) {
	ref, ok := m[key]
	return ref, ok
}

func TestResolveCacheHitSkipsNetwork(t *testing.T) {
	cache := newFakeCache()
	scr := newFakeScraper()
	scr.refs["https://boxd.it/abc"] = domain.TMDBRef{TmdbID: 100, MediaType: domain.MediaTypeMovie}

	svc := NewService(zerolog.Nop(), cache, nil, scr)
	row := domain.ExportRow{Title: "Film A", URI: "https://boxd.it/abc"}

	first, err := svc.Resolve(context.Background(), row)
	if err != nil {
		t.Fatalf("cold resolve failed: %v", err)
	}

	second, err := svc.Resolve(context.Background(), row)
	if err != nil {
		t.Fatalf("warm resolve failed: %v", err)
	}

	if first != second {
		t.Errorf("warm resolve differs: %+v vs %+v", first, second)
	}
	if scr.calls["https://boxd.it/abc"] != 1 {
		t.Errorf("expected exactly one scrape, got %d", scr.calls["https://boxd.it/abc"])
	}
}

func TestResolveOverrideBeatsScrape(t *testing.T) {
	cache := newFakeCache()
	scr := newFakeScraper()
	ov := mapOverrides{"https://boxd.it/odd": {TmdbID: 777, MediaType: domain.MediaTypeTV}}

	svc := NewService(zerolog.Nop(), cache, ov, scr)
	media, err := svc.Resolve(context.Background(), domain.ExportRow{URI: "https://boxd.it/odd"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if media.TmdbID != 777 || media.MediaType != domain.MediaTypeTV {
		t.Errorf("override not honored: %+v", media)
	}
	if len(scr.calls) != 0 {
		t.Errorf("override hit must not scrape, got %d calls", len(scr.calls))
	}
	if _, ok := cache.Get("https://boxd.it/odd"); !ok {
		t.Error("override resolution must be written through to the cache")
	}
}

func TestResolvePermanentFailureLeavesCacheAlone(t *testing.T) {
	cache := newFakeCache()
	scr := newFakeScraper()
	scr.errs["https://boxd.it/gone"] = &domain.PermanentScrapeError{SourceKey: "https://boxd.it/gone", Reason: "no TMDB link on page"}

	svc := NewService(zerolog.Nop(), cache, nil, scr)
	_, err := svc.Resolve(context.Background(), domain.ExportRow{URI: "https://boxd.it/gone"})
	if !domain.IsPermanentScrape(err) {
		t.Fatalf("expected permanent failure, got %v", err)
	}
	if cache.puts != 0 {
		t.Errorf("failed resolution must not touch the cache, got %d puts", cache.puts)
	}
}

func TestResolveSlugFallback(t *testing.T) {
	cache := newFakeCache()
	scr := newFakeScraper()
	scr.refs["https://letterboxd.com/film/fight-club"] = domain.TMDBRef{TmdbID: 550, MediaType: domain.MediaTypeMovie}

	svc := NewService(zerolog.Nop(), cache, nil, scr)
	media, err := svc.Resolve(context.Background(), domain.ExportRow{Title: "Fight Club", Slug: "fight-club"})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if media.SourceKey != "https://letterboxd.com/film/fight-club" {
		t.Errorf("unexpected source key %q", media.SourceKey)
	}
}

func TestResolveNoKey(t *testing.T) {
	svc := NewService(zerolog.Nop(), newFakeCache(), nil, newFakeScraper())
	_, err := svc.Resolve(context.Background(), domain.ExportRow{Title: "Mystery"})
	if !domain.IsPermanentScrape(err) {
		t.Fatalf("row without URI or slug must fail permanently, got %v", err)
	}
}

func TestResolveConflictSurfaced(t *testing.T) {
	cache := newFakeCache()
	seed := domain.ResolvedMedia{SourceKey: "https://boxd.it/dup", TmdbID: 5, MediaType: domain.MediaTypeMovie, ResolvedAt: time.Now()}
	if err := cache.Put(seed); err != nil {
		t.Fatal(err)
	}
	// Simulate a cache that answers misses (e.g. entry added between the
	// partition step and this worker's Get) by clearing and re-adding on
	// Put only.
	scr := newFakeScraper()
	scr.refs["https://boxd.it/dup"] = domain.TMDBRef{TmdbID: 6, MediaType: domain.MediaTypeMovie}

	svc := NewService(zerolog.Nop(), &missCache{fakeCache: cache}, nil, scr)
	_, err := svc.Resolve(context.Background(), domain.ExportRow{URI: "https://boxd.it/dup"})
	if !domain.IsCacheConflict(err) {
		t.Fatalf("expected cache conflict, got %v", err)
	}
}

// missCache reports every Get as a miss but keeps Put semantics, forcing
// the scrape-then-conflict path.
type missCache struct{ *fakeCache }

func (c *missCache) Get(key string) (domain.ResolvedMedia, bool) {
	return domain.ResolvedMedia{}, false
}
