package export

import (
	"archive/zip"
	"encoding/csv"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/kopiro/letterboxd-sync/internal/domain"
)

// Letterboxd export archives nest ratings.csv under a dated directory;
// standalone CSVs are accepted too. Column names vary between export
// generations, hence the alias lists.
var (
	uriColumns    = []string{"Letterboxd URI", "URL"}
	ratingColumns = []string{"Rating", "Your Rating"}
	titleColumns  = []string{"Name", "Title"}

	filmSlugRe = regexp.MustCompile(`letterboxd\.com/film/([^/]+)`)
)

type Service interface {
	Load(path string) ([]domain.ExportRow, error)
}

type service struct {
	log zerolog.Logger
}

func NewService(log zerolog.Logger) Service {
	return &service{
		log: log.With().Str("module", "export").Logger(),
	}
}

// Load reads an export archive or a flat ratings CSV into rows. Rows
// without a URI are logged and dropped; they cannot be keyed.
func (s *service) Load(path string) ([]domain.ExportRow, error) {
	if rows, ok, err := s.loadZip(path); ok {
		return rows, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open export file %s", path)
	}
	defer f.Close()

	return s.parseCSV(f)
}

func (s *service) loadZip(path string) ([]domain.ExportRow, bool, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		// Not a zip; caller falls back to plain CSV.
		return nil, false, nil
	}
	defer zr.Close()

	for _, file := range zr.File {
		if !strings.Contains(file.Name, "ratings.csv") {
			continue
		}

		s.log.Debug().Str("archive", path).Str("entry", file.Name).Msg("reading ratings from archive")

		rc, err := file.Open()
		if err != nil {
			return nil, true, errors.Wrapf(err, "failed to open %s in archive", file.Name)
		}
		defer rc.Close()

		rows, err := s.parseCSV(rc)
		return rows, true, err
	}

	return nil, true, errors.Errorf("ratings.csv not found in archive %s", path)
}

func (s *service) parseCSV(r io.Reader) ([]domain.ExportRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read CSV header")
	}

	cols := map[string]int{}
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}

	uriIdx, ok := findColumn(cols, uriColumns)
	if !ok {
		return nil, errors.Errorf("no URI column found (looked for %s)", strings.Join(uriColumns, ", "))
	}
	titleIdx, _ := findColumn(cols, titleColumns)
	ratingIdx, hasRating := findColumn(cols, ratingColumns)
	yearIdx, hasYear := findColumn(cols, []string{"Year"})
	dateIdx, hasDate := findColumn(cols, []string{"Watched Date", "Date"})

	rows := []domain.ExportRow{}
	skipped := 0

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to read CSV record")
		}

		row := domain.ExportRow{
			Title: field(record, titleIdx),
			URI:   field(record, uriIdx),
		}
		if row.URI == "" {
			skipped++
			s.log.Warn().Str("title", row.Title).Msg("row has no URI, skipping")
			continue
		}

		if m := filmSlugRe.FindStringSubmatch(row.URI); len(m) == 2 {
			row.Slug = m[1]
		}

		if hasYear {
			if y, err := strconv.Atoi(field(record, yearIdx)); err == nil {
				row.Year = y
			}
		}

		if hasRating {
			raw := field(record, ratingIdx)
			if raw != "" {
				rating, err := strconv.ParseFloat(raw, 64)
				switch {
				case err != nil:
					s.log.Warn().Str("title", row.Title).Str("rating", raw).Msg("unparseable rating, ignoring")
				case rating < 0.5 || rating > 5.0:
					s.log.Warn().Str("title", row.Title).Float64("rating", rating).Msg("rating out of range, ignoring")
				default:
					row.Rating = rating
				}
			}
		}

		if hasDate {
			if d, err := time.Parse("2006-01-02", field(record, dateIdx)); err == nil {
				row.WatchedAt = d
			}
		}

		rows = append(rows, row)
	}

	s.log.Info().Int("rows", len(rows)).Int("skipped", skipped).Msg("export loaded")
	return rows, nil
}

func findColumn(cols map[string]int, names []string) (int, bool) {
	for _, name := range names {
		if i, ok := cols[name]; ok {
			return i, true
		}
	}
	return -1, false
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
