package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kopiro/letterboxd-sync/internal/domain"
)

const filmPage = `<!doctype html>
<html><body>
<p class="text-link text-footer">
<a href="https://www.imdb.com/title/tt0137523/maindetails" class="micro-button track-event" data-track-action="IMDb">IMDb</a>
<a href="https://www.themoviedb.org/movie/550/" class="micro-button track-event" data-track-action="TMDB">TMDB</a>
</p>
</body></html>`

const showPage = `<!doctype html>
<html><body>
<a href="https://www.themoviedb.org/tv/1396/" class="micro-button track-event" data-track-action="TMDB">TMDB</a>
</body></html>`

const noLinkPage = `<!doctype html>
<html><body><p>Nothing to see here.</p></body></html>`

func serve(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveMovie(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(filmPage))
	})

	s := NewService(zerolog.Nop(), srv.Client())
	ref, err := s.Resolve(context.Background(), srv.URL+"/film/fight-club/")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if ref.TmdbID != 550 || ref.MediaType != domain.MediaTypeMovie {
		t.Errorf("got %+v, want tmdbid=550 type=movie", ref)
	}
}

func TestResolveShow(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(showPage))
	})

	s := NewService(zerolog.Nop(), srv.Client())
	ref, err := s.Resolve(context.Background(), srv.URL+"/film/breaking-bad/")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if ref.TmdbID != 1396 || ref.MediaType != domain.MediaTypeTV {
		t.Errorf("got %+v, want tmdbid=1396 type=tv", ref)
	}
}

func TestResolveNoTMDBLink(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(noLinkPage))
	})

	s := NewService(zerolog.Nop(), srv.Client())
	_, err := s.Resolve(context.Background(), srv.URL+"/film/obscure-short/")
	if !domain.IsPermanentScrape(err) {
		t.Fatalf("missing TMDB link must be permanent, got %v", err)
	}
}

func TestResolveStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		transient bool
	}{
		{"not found", http.StatusNotFound, false},
		{"gone", http.StatusGone, false},
		{"rate limited", http.StatusTooManyRequests, true},
		{"blocked", http.StatusForbidden, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			})

			s := NewService(zerolog.Nop(), srv.Client())
			_, err := s.Resolve(context.Background(), srv.URL)
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := domain.IsTransientScrape(err); got != tt.transient {
				t.Errorf("transient=%v, want %v (err: %v)", got, tt.transient, err)
			}
		})
	}
}

func TestResolveCancelledContext(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(filmPage))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewService(zerolog.Nop(), srv.Client())
	_, err := s.Resolve(ctx, srv.URL)
	if err == nil {
		t.Fatal("expected an error from cancelled context")
	}
	if domain.IsTransientScrape(err) || domain.IsPermanentScrape(err) {
		t.Errorf("cancellation must not be classified as a scrape failure: %v", err)
	}
}
