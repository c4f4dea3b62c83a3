package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/kopiro/letterboxd-sync/internal/cache"
	"github.com/kopiro/letterboxd-sync/internal/dispatcher"
	"github.com/kopiro/letterboxd-sync/internal/domain"
	"github.com/kopiro/letterboxd-sync/internal/export"
	"github.com/kopiro/letterboxd-sync/internal/journal"
	"github.com/kopiro/letterboxd-sync/internal/letterboxd"
	"github.com/kopiro/letterboxd-sync/internal/notification"
	"github.com/kopiro/letterboxd-sync/internal/repository"
	"github.com/kopiro/letterboxd-sync/internal/resolver"
	"github.com/kopiro/letterboxd-sync/internal/scraper"
	"github.com/kopiro/letterboxd-sync/internal/tmdb"
	"github.com/kopiro/letterboxd-sync/internal/trakt"
)

// App holds every service the commands drive. Construction wires the
// cheap dependencies; the cache store and journal are opened per run so
// their locks are not held while the process idles.
type App struct {
	log      zerolog.Logger
	cfg      *domain.Config
	paths    *domain.Paths
	fileRepo *repository.FileRepository

	exportService     export.Service
	letterboxdService letterboxd.Service
	tmdbService       tmdb.Service
	traktService      trakt.Service
	notifier          domain.Notifier
}

// RunOptions selects what a run does beyond resolution.
type RunOptions struct {
	// File points at an export archive or CSV outside the data dir.
	File      string
	SkipTMDB  bool
	SkipTrakt bool
}

func NewApp(log zerolog.Logger, cfg *domain.Config) *App {
	paths := domain.NewPaths(cfg.DataDir)

	return &App{
		log:               log,
		cfg:               cfg,
		paths:             paths,
		fileRepo:          repository.NewFileRepository(log),
		exportService:     export.NewService(log),
		letterboxdService: letterboxd.NewService(log, cfg),
		tmdbService:       tmdb.NewService(log, cfg, paths),
		traktService:      trakt.NewService(log, cfg, paths),
		notifier:          notification.NewDiscordService(log, cfg.DiscordWebhookURL),
	}
}

// Run executes the full pipeline: ensure an export is present, resolve
// every row, record the run, then push ratings and history to whichever
// services are enabled and configured.
func (a *App) Run(ctx context.Context, opts RunOptions) (err error) {
	defer func() {
		if err != nil {
			if notifyErr := a.notifier.SendError(ctx, err); notifyErr != nil {
				a.log.Warn().Err(notifyErr).Msg("failed to send error notification")
			}
		}
	}()

	startedAt := time.Now()

	exportPath, err := a.ensureExport(opts.File)
	if err != nil {
		return err
	}

	rows, err := a.exportService.Load(exportPath)
	if err != nil {
		return errors.Wrap(err, "failed to load export")
	}
	if len(rows) == 0 {
		a.log.Warn().Str("path", exportPath).Msg("export contains no usable rows")
		return nil
	}

	report, err := a.resolveRows(ctx, rows)
	if err != nil {
		return err
	}
	report.SortByWatched()

	if err := a.fileRepo.StoreUnresolved(a.paths.UnresolvedPath, report.Failed); err != nil {
		a.log.Warn().Err(err).Msg("failed to write unresolved rows")
	}

	rec := domain.RunRecord{
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
		TotalRows:  len(rows),
		CacheHits:  report.CacheHits,
		Scraped:    report.Scraped,
		Failed:     len(report.Failed),
		Conflicts:  report.Conflicts,
	}
	a.journalRun(ctx, rec, report.Failed)

	var tmdbStats, traktStats domain.SyncStats

	if !opts.SkipTMDB && a.cfg.TmdbAPIKey != "" {
		tmdbStats, err = a.tmdbService.SyncRatings(ctx, report.Resolved)
		if err != nil {
			return errors.Wrap(err, "TMDB sync failed")
		}
	}

	if !opts.SkipTrakt && a.cfg.TraktClientID != "" {
		traktStats, err = a.traktService.Sync(ctx, report.Resolved)
		if err != nil {
			return errors.Wrap(err, "Trakt sync failed")
		}
	}

	a.logSummary(rec, report)

	if notifyErr := a.notifier.SendSummary(ctx, rec, tmdbStats, traktStats); notifyErr != nil {
		a.log.Warn().Err(notifyErr).Msg("failed to send summary notification")
	}

	return nil
}

// Resolve runs resolution only, warming the cache without touching TMDB
// or Trakt.
func (a *App) Resolve(ctx context.Context, file string) error {
	exportPath, err := a.ensureExport(file)
	if err != nil {
		return err
	}

	rows, err := a.exportService.Load(exportPath)
	if err != nil {
		return errors.Wrap(err, "failed to load export")
	}

	report, err := a.resolveRows(ctx, rows)
	if err != nil {
		return err
	}

	if err := a.fileRepo.StoreUnresolved(a.paths.UnresolvedPath, report.Failed); err != nil {
		a.log.Warn().Err(err).Msg("failed to write unresolved rows")
	}

	a.log.Info().
		Int("resolved", len(report.Resolved)).
		Int("cache_hits", report.CacheHits).
		Int("scraped", report.Scraped).
		Int("failed", len(report.Failed)).
		Int("conflicts", report.Conflicts).
		Msg("resolution complete")
	return nil
}

// Download fetches a fresh export archive from Letterboxd into the data
// dir, replacing any existing one.
func (a *App) Download(ctx context.Context) error {
	if err := os.MkdirAll(a.cfg.DataDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create data directory")
	}
	return a.letterboxdService.DownloadExport(a.paths.ExportZipPath)
}

// Report prints the most recent journaled runs.
func (a *App) Report(ctx context.Context, limit int) error {
	db, err := journal.NewDB(a.paths.JournalDir, a.log)
	if err != nil {
		return errors.Wrap(err, "failed to open journal")
	}
	defer db.Close()

	repo := journal.NewRepo(a.log, db)
	runs, err := repo.RecentRuns(ctx, limit)
	if err != nil {
		return errors.Wrap(err, "failed to read journal")
	}

	if len(runs) == 0 {
		fmt.Println("no runs recorded yet")
		return nil
	}

	for _, run := range runs {
		fmt.Printf("#%d  %s  rows=%d cache_hits=%d scraped=%d failed=%d conflicts=%d (%s)\n",
			run.ID,
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			run.TotalRows, run.CacheHits, run.Scraped, run.Failed, run.Conflicts,
			run.FinishedAt.Sub(run.StartedAt).Round(time.Second),
		)

		if run.Failed == 0 {
			continue
		}
		failures, err := repo.FailuresForRun(ctx, run.ID)
		if err != nil {
			a.log.Warn().Err(err).Int64("run", run.ID).Msg("failed to read failures")
			continue
		}
		for _, f := range failures {
			fmt.Printf("    ✗ %s (%s): %s\n", f.Title, f.SourceKey, f.Reason)
		}
	}

	return nil
}

// ensureExport returns the export to load, downloading one when the data
// dir has none and Letterboxd credentials are configured.
func (a *App) ensureExport(file string) (string, error) {
	if err := os.MkdirAll(a.cfg.DataDir, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create data directory")
	}

	if file != "" {
		if _, err := os.Stat(file); err != nil {
			return "", errors.Wrapf(err, "export file %s not found", file)
		}
		return file, nil
	}

	if _, err := os.Stat(a.paths.ExportZipPath); err == nil {
		return a.paths.ExportZipPath, nil
	}

	if a.cfg.LetterboxdUsername == "" || a.cfg.LetterboxdPassword == "" {
		return "", errors.Errorf("no export found at %s; pass --file or configure letterboxd credentials", a.paths.ExportZipPath)
	}

	a.log.Info().Msg("no export archive found, downloading from Letterboxd")
	if err := a.letterboxdService.DownloadExport(a.paths.ExportZipPath); err != nil {
		return "", errors.Wrap(err, "failed to download export")
	}
	return a.paths.ExportZipPath, nil
}

// resolveRows opens the cache store for the duration of one resolution
// pass. The store is closed on every path so the flock is released and
// pending entries are flushed even when the run is cancelled.
func (a *App) resolveRows(ctx context.Context, rows []domain.ExportRow) (*domain.Report, error) {
	store, err := cache.Open(a.paths.CachePath, a.log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open cache")
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			a.log.Warn().Err(closeErr).Msg("failed to close cache store")
		}
	}()

	overrides, err := a.fileRepo.LoadOverrides(a.paths.OverridesPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load overrides")
	}

	scrapeService := scraper.NewService(a.log, nil)
	resolveService := resolver.NewService(a.log, store, overrides, scrapeService)
	dispatch := dispatcher.NewService(a.log, a.cfg, store, resolveService)

	report, err := dispatch.Run(ctx, rows)
	if err != nil {
		return nil, errors.Wrap(err, "resolution aborted")
	}
	return report, nil
}

func (a *App) journalRun(ctx context.Context, rec domain.RunRecord, failures []domain.RowFailure) {
	db, err := journal.NewDB(a.paths.JournalDir, a.log)
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to open journal, run not recorded")
		return
	}
	defer db.Close()

	repo := journal.NewRepo(a.log, db)
	if _, err := repo.RecordRun(ctx, rec, failures); err != nil {
		a.log.Warn().Err(err).Msg("failed to record run in journal")
	}
}

func (a *App) logSummary(rec domain.RunRecord, report *domain.Report) {
	a.log.Info().
		Int("total_rows", rec.TotalRows).
		Int("cache_hits", rec.CacheHits).
		Int("scraped", rec.Scraped).
		Int("failed", rec.Failed).
		Int("conflicts", rec.Conflicts).
		Dur("took", rec.FinishedAt.Sub(rec.StartedAt)).
		Msg("run complete")

	for _, f := range report.Failed {
		a.log.Warn().Str("title", f.Title).Str("key", f.SourceKey).Str("reason", f.Reason).Msg("row left unresolved")
	}
}
