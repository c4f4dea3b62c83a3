package letterboxd

import (
	"archive/zip"
	"bytes"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocolly/colly"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"

	"github.com/kopiro/letterboxd-sync/internal/domain"
)

type Service interface {
	DownloadExport(destPath string) error
}

type service struct {
	log     zerolog.Logger
	cfg     *domain.Config
	baseURL string
}

func NewService(log zerolog.Logger, cfg *domain.Config) Service {
	return &service{
		log:     log.With().Str("module", "letterboxd").Logger(),
		cfg:     cfg,
		baseURL: "https://letterboxd.com",
	}
}

// DownloadExport signs in to Letterboxd and pulls the account's data
// export archive to destPath. The export endpoint sometimes serves the
// zip directly and sometimes serves a page linking to it; both shapes
// are handled. The archive is verified to open before being written.
func (s *service) DownloadExport(destPath string) error {
	if s.cfg.LetterboxdUsername == "" || s.cfg.LetterboxdPassword == "" {
		return errors.New("letterboxd credentials are not configured")
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return errors.Wrap(err, "failed to create cookie jar")
	}

	c := colly.NewCollector(
		colly.UserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/85.0.4183.102 Safari/537.36"),
		colly.AllowURLRevisit(),
	)
	c.SetCookieJar(jar)

	var csrf string
	c.OnHTML(`input[name="__csrf"]`, func(e *colly.HTMLElement) {
		csrf = e.Attr("value")
	})

	var archive []byte
	c.OnResponse(func(r *colly.Response) {
		if looksLikeZip(r.Headers.Get("Content-Type"), r.Body) {
			archive = r.Body
		}
	})

	var exportLink string
	c.OnHTML(`a[href]`, func(e *colly.HTMLElement) {
		href := e.Attr("href")
		if strings.Contains(href, "data/export") && strings.HasSuffix(href, ".zip") {
			exportLink = e.Request.AbsoluteURL(href)
		}
	})

	s.log.Info().Str("user", s.cfg.LetterboxdUsername).Msg("signing in to letterboxd")

	if err := c.Visit(s.baseURL + "/sign-in/"); err != nil {
		return errors.Wrap(err, "failed to load sign-in page")
	}
	if csrf == "" {
		return errors.New("could not find CSRF token on sign-in page")
	}

	err = c.Post(s.baseURL+"/user/login.do", map[string]string{
		"username": s.cfg.LetterboxdUsername,
		"password": s.cfg.LetterboxdPassword,
		"__csrf":   csrf,
		"remember": "true",
	})
	if err != nil {
		return errors.Wrap(err, "login failed, check username and password")
	}

	s.log.Info().Msg("requesting data export")

	if err := c.Visit(s.baseURL + "/data/export/"); err != nil {
		return errors.Wrap(err, "failed to access export page")
	}

	if archive == nil && exportLink != "" {
		s.log.Debug().Str("url", exportLink).Msg("following export download link")
		if err := c.Visit(exportLink); err != nil {
			return errors.Wrap(err, "failed to download export archive")
		}
	}

	if archive == nil {
		return errors.New("no export archive served; login may have been rejected")
	}

	if _, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive))); err != nil {
		return errors.Wrap(err, "downloaded export is not a valid zip")
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return errors.Wrap(err, "failed to create export directory")
	}
	if err := os.WriteFile(destPath, archive, 0o644); err != nil {
		return errors.Wrap(err, "failed to write export archive")
	}

	s.log.Info().Str("path", destPath).Int("bytes", len(archive)).Msg("export archive saved")
	return nil
}

func looksLikeZip(contentType string, body []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "zip") || strings.Contains(ct, "octet-stream") {
		return true
	}
	return bytes.HasPrefix(body, []byte("PK\x03\x04"))
}
