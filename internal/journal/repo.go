package journal

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/kopiro/letterboxd-sync/internal/domain"
)

// Repo records run outcomes and reads them back for reporting.
type Repo struct {
	log zerolog.Logger
	db  *DB
}

func NewRepo(log zerolog.Logger, db *DB) *Repo {
	return &Repo{
		log: log.With().Str("repo", "journal").Logger(),
		db:  db,
	}
}

// RecordRun persists a finished run and its permanent failures, returning
// the run's journal id.
func (r *Repo) RecordRun(ctx context.Context, rec domain.RunRecord, failures []domain.RowFailure) (int64, error) {
	queryBuilder := r.db.squirrel.
		Insert("runs").
		Columns("started_at", "finished_at", "total_rows", "cache_hits", "scraped", "failed", "conflicts").
		Values(
			rec.StartedAt.Format(time.RFC3339),
			rec.FinishedAt.Format(time.RFC3339),
			rec.TotalRows,
			rec.CacheHits,
			rec.Scraped,
			rec.Failed,
			rec.Conflicts,
		)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg("RecordRun")

	res, err := r.db.handler.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "error executing query")
	}

	runID, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "error reading run id")
	}

	for _, f := range failures {
		fb := r.db.squirrel.
			Insert("failures").
			Columns("run_id", "source_key", "title", "reason").
			Values(runID, f.SourceKey, f.Title, f.Reason)

		query, args, err := fb.ToSql()
		if err != nil {
			return 0, errors.Wrap(err, "error building failure query")
		}

		if _, err := r.db.handler.ExecContext(ctx, query, args...); err != nil {
			return 0, errors.Wrap(err, "error recording failure")
		}
	}

	return runID, nil
}

// RecentRuns returns up to limit runs, newest first.
func (r *Repo) RecentRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	queryBuilder := r.db.squirrel.
		Select("id", "started_at", "finished_at", "total_rows", "cache_hits", "scraped", "failed", "conflicts").
		From("runs").
		OrderBy("id DESC").
		Limit(uint64(limit))

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg("RecentRuns")

	rows, err := r.db.handler.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "error executing query")
	}
	defer rows.Close()

	var runs []domain.RunRecord
	for rows.Next() {
		var (
			rec      domain.RunRecord
			started  string
			finished string
		)
		if err := rows.Scan(&rec.ID, &started, &finished, &rec.TotalRows, &rec.CacheHits, &rec.Scraped, &rec.Failed, &rec.Conflicts); err != nil {
			return nil, errors.Wrap(err, "error scanning row")
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339, started)
		rec.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		runs = append(runs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating rows")
	}

	return runs, nil
}

// FailuresForRun returns the permanent failures recorded for a run.
func (r *Repo) FailuresForRun(ctx context.Context, runID int64) ([]domain.RowFailure, error) {
	queryBuilder := r.db.squirrel.
		Select("source_key", "title", "reason").
		From("failures").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("id ASC")

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg("FailuresForRun")

	rows, err := r.db.handler.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "error executing query")
	}
	defer rows.Close()

	var failures []domain.RowFailure
	for rows.Next() {
		var f domain.RowFailure
		if err := rows.Scan(&f.SourceKey, &f.Title, &f.Reason); err != nil {
			return nil, errors.Wrap(err, "error scanning row")
		}
		failures = append(failures, f)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating rows")
	}

	return failures, nil
}
