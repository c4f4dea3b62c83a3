package domain

import (
	"strings"
	"time"
)

// MediaType distinguishes movies from TV shows. TMDB and Trakt use
// disjoint ID spaces and endpoints for the two, so a misclassified
// entry syncs against the wrong record entirely.
type MediaType string

const (
	MediaTypeMovie MediaType = "movie"
	MediaTypeTV    MediaType = "tv"
)

// Valid reports whether m is one of the known media types.
func (m MediaType) Valid() bool {
	return m == MediaTypeMovie || m == MediaTypeTV
}

// ExportRow is a single ratings/diary entry from a Letterboxd export.
// Year, Rating and WatchedAt are zero-valued when the export omits them.
// Rating is on the Letterboxd half-star scale, 0.5 through 5.0.
type ExportRow struct {
	Title         string    `json:"title"`
	Slug          string    `json:"slug,omitempty"`
	URI           string    `json:"uri"`
	Year          int       `json:"year,omitempty"`
	Rating        float64   `json:"rating,omitempty"`
	WatchedAt     time.Time `json:"watchedAt,omitempty"`
	MediaTypeHint MediaType `json:"mediaTypeHint,omitempty"`
}

// SourceKey returns the cache key for this row.
func (r ExportRow) SourceKey() string {
	return SourceKey(r.URI, r.Slug)
}

// SourceKey derives a deterministic cache key from a row's URI or film
// slug. Titles are never used; they are not unique. Export URIs (boxd.it
// short links) are taken as-is minus surrounding noise so that keys stay
// stable across export downloads.
func SourceKey(uri, slug string) string {
	uri = strings.TrimSpace(uri)
	if uri != "" {
		return strings.TrimSuffix(uri, "/")
	}

	slug = strings.Trim(strings.TrimSpace(slug), "/")
	if slug == "" {
		return ""
	}

	return "https://letterboxd.com/film/" + slug
}

// TMDBRef is the raw outcome of one page scrape: the TMDB ID and media
// type embedded in a Letterboxd film page.
type TMDBRef struct {
	TmdbID    int       `json:"tmdbid"`
	MediaType MediaType `json:"type"`
}

// ResolvedMedia binds a TMDB reference to the source key it was resolved
// for. Created once per unique source key and reused by every row that
// shares the key.
type ResolvedMedia struct {
	SourceKey  string    `json:"-"`
	TmdbID     int       `json:"tmdbid"`
	MediaType  MediaType `json:"type"`
	ResolvedAt time.Time `json:"resolvedAt,omitempty"`
}

// Ref returns the bare TMDB reference of a resolved entry.
func (m ResolvedMedia) Ref() TMDBRef {
	return TMDBRef{TmdbID: m.TmdbID, MediaType: m.MediaType}
}

// Same reports whether two resolutions agree on ID and type. Timestamps
// are ignored; they only record when the entry was first written.
func (m ResolvedMedia) Same(other ResolvedMedia) bool {
	return m.TmdbID == other.TmdbID && m.MediaType == other.MediaType
}
