package export

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const standardCSV = `Date,Name,Year,Letterboxd URI,Rating
2024-01-15,Fight Club,1999,https://boxd.it/2a9q,4.5
2024-02-02,Breaking Bad,2008,https://letterboxd.com/film/breaking-bad/,5
2024-02-10,No Link Here,2001,,3
`

const variantCSV = `Title,Year,URL,Your Rating
The Thing,1982,https://boxd.it/29kq,5
Bad Rating,1990,https://boxd.it/zzzz,11
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadStandardCSV(t *testing.T) {
	svc := NewService(zerolog.Nop())
	rows, err := svc.Load(writeFile(t, "ratings.csv", standardCSV))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows (one skipped for missing URI), got %d", len(rows))
	}

	first := rows[0]
	if first.Title != "Fight Club" || first.Year != 1999 || first.Rating != 4.5 {
		t.Errorf("unexpected first row: %+v", first)
	}
	if first.URI != "https://boxd.it/2a9q" {
		t.Errorf("unexpected URI: %q", first.URI)
	}
	want := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	if !first.WatchedAt.Equal(want) {
		t.Errorf("unexpected watched date: %v", first.WatchedAt)
	}

	second := rows[1]
	if second.Slug != "breaking-bad" {
		t.Errorf("slug should be extracted from film URLs, got %q", second.Slug)
	}
	if second.SourceKey() != "https://letterboxd.com/film/breaking-bad" {
		t.Errorf("unexpected source key: %q", second.SourceKey())
	}
}

func TestLoadVariantColumns(t *testing.T) {
	svc := NewService(zerolog.Nop())
	rows, err := svc.Load(writeFile(t, "ratings.csv", variantCSV))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Title != "The Thing" || rows[0].Rating != 5 {
		t.Errorf("variant columns not honored: %+v", rows[0])
	}
	if rows[1].Rating != 0 {
		t.Errorf("out-of-range rating should be dropped, got %v", rows[1].Rating)
	}
}

func TestLoadZipArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "letterboxd-export.zip")

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("letterboxd-user-2024-01-01/ratings.csv")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(standardCSV)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	svc := NewService(zerolog.Nop())
	rows, err := svc.Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("expected 2 rows from archive, got %d", len(rows))
	}
}

func TestLoadZipWithoutRatings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.zip")

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, _ := zw.Create("watchlist.csv")
	w.Write([]byte("Name\n"))
	zw.Close()
	f.Close()

	if _, err := NewService(zerolog.Nop()).Load(path); err == nil {
		t.Fatal("archive without ratings.csv must fail")
	}
}

func TestLoadMissingURIColumn(t *testing.T) {
	path := writeFile(t, "ratings.csv", "Name,Rating\nFilm,4\n")
	if _, err := NewService(zerolog.Nop()).Load(path); err == nil {
		t.Fatal("CSV without a URI column must fail")
	}
}
