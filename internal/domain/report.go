package domain

import (
	"sort"
	"time"
)

// ResolvedRow pairs an export row with the media it resolved to. Rows
// sharing a source key share the same ResolvedMedia value.
type ResolvedRow struct {
	Row   ExportRow
	Media ResolvedMedia
}

// RowFailure records a row that reached a terminal failed state this run.
// Failed rows are never cached, so the next run retries them.
type RowFailure struct {
	SourceKey string
	Title     string
	Reason    string
}

// Report is what a resolution run hands back to the orchestration layer:
// the resolved stream, the failed rows with reasons, and the counters the
// run-end summary is built from.
type Report struct {
	Resolved  []ResolvedRow
	Failed    []RowFailure
	CacheHits int
	Scraped   int
	Conflicts int
}

// SortByWatched orders the resolved stream chronologically. The
// dispatcher emits in completion order, so history backdating must
// re-sort rather than trust emission order.
func (r *Report) SortByWatched() {
	sort.SliceStable(r.Resolved, func(i, j int) bool {
		return r.Resolved[i].Row.WatchedAt.Before(r.Resolved[j].Row.WatchedAt)
	})
}

// SyncStats counts what a sync driver did with the resolved stream.
type SyncStats struct {
	RatingsAdded   int
	RatingsSkipped int
	HistoryAdded   int
	Failed         int
}

// RunRecord is one journaled run, as persisted and as read back by the
// report command.
type RunRecord struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	TotalRows  int
	CacheHits  int
	Scraped    int
	Failed     int
	Conflicts  int
}
