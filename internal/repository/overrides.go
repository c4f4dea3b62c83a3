package repository

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/kopiro/letterboxd-sync/internal/domain"
)

// OverrideEntry is one hand-maintained mapping in overrides.yaml. Either
// URL or Slug identifies the film; a zero TmdbID marks an entry still
// waiting for hand completion.
type OverrideEntry struct {
	URL    string `yaml:"url,omitempty"`
	Slug   string `yaml:"slug,omitempty"`
	Title  string `yaml:"title,omitempty"`
	TmdbID int    `yaml:"tmdbid"`
	Type   string `yaml:"type,omitempty"`
	Reason string `yaml:"reason,omitempty"`
}

type overridesFile struct {
	Overrides []OverrideEntry `yaml:"overrides"`
}

// FileRepository loads manual overrides and writes back the rows a run
// could not resolve, both as YAML in the data directory.
type FileRepository struct {
	log zerolog.Logger
}

func NewFileRepository(log zerolog.Logger) *FileRepository {
	return &FileRepository{
		log: log.With().Str("module", "repository").Logger(),
	}
}

// overrideMap satisfies domain.Overrides with a plain keyed map.
type overrideMap map[string]domain.TMDBRef

func (m overrideMap) Lookup(sourceKey string) (domain.TMDBRef, bool) {
	ref, ok := m[sourceKey]
	return ref, ok
}

// LoadOverrides reads overrides.yaml into a lookup keyed the same way as
// the cache. A missing file is an empty set, not an error. Entries with a
// zero TmdbID or an unknown type are skipped; they are placeholders, not
// mappings.
func (r *FileRepository) LoadOverrides(path string) (domain.Overrides, error) {
	m := overrideMap{}

	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	var file overridesFile
	if err := yaml.Unmarshal(body, &file); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal %s", path)
	}

	for _, e := range file.Overrides {
		key := domain.SourceKey(e.URL, e.Slug)
		if key == "" {
			r.log.Warn().Interface("entry", e).Msg("override entry has no url or slug, skipping")
			continue
		}
		if e.TmdbID == 0 {
			continue
		}

		mediaType := domain.MediaType(e.Type)
		if !mediaType.Valid() {
			r.log.Warn().Str("key", key).Str("type", e.Type).Msg("override entry has an unknown type, skipping")
			continue
		}

		m[key] = domain.TMDBRef{TmdbID: e.TmdbID, MediaType: mediaType}
	}

	r.log.Debug().Int("count", len(m)).Str("path", path).Msg("loaded overrides")
	return m, nil
}

// StoreUnresolved writes the rows that failed permanently this run as
// override placeholders (tmdbid 0), ready for hand completion and a move
// into overrides.yaml. An empty failure list removes a stale file.
func (r *FileRepository) StoreUnresolved(path string, failures []domain.RowFailure) error {
	if len(failures) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to remove %s", path)
		}
		return nil
	}

	file := overridesFile{}
	for _, f := range failures {
		file.Overrides = append(file.Overrides, OverrideEntry{
			URL:    f.SourceKey,
			Title:  f.Title,
			TmdbID: 0,
			Reason: f.Reason,
		})
	}

	b, err := yaml.Marshal(&file)
	if err != nil {
		return errors.Wrap(err, "failed to marshal yaml")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}

	r.log.Info().Int("count", len(failures)).Str("path", path).Msg("wrote unresolved rows")
	return nil
}
