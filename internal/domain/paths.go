package domain

import "path/filepath"

// Paths holds every file the tool reads or writes under the data
// directory. Built once and passed by reference so components never
// derive their own locations.
type Paths struct {
	DataDir        string
	ExportZipPath  string
	CachePath      string
	OverridesPath  string
	UnresolvedPath string
	JournalDir     string
	TMDBSession    string
	TraktSession   string
}

func NewPaths(dataDir string) *Paths {
	return &Paths{
		DataDir:        dataDir,
		ExportZipPath:  filepath.Join(dataDir, "letterboxd-export.zip"),
		CachePath:      filepath.Join(dataDir, "tmdb_id_cache.json"),
		OverridesPath:  filepath.Join(dataDir, "overrides.yaml"),
		UnresolvedPath: filepath.Join(dataDir, "unresolved.yaml"),
		JournalDir:     dataDir,
		TMDBSession:    filepath.Join(dataDir, "tmdb_session.json"),
		TraktSession:   filepath.Join(dataDir, "trakt_session.json"),
	}
}
