package journal

const journalSchema = `
CREATE TABLE runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL,
	total_rows INTEGER NOT NULL,
	cache_hits INTEGER NOT NULL,
	scraped INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	conflicts INTEGER NOT NULL
);

CREATE INDEX idx_runs_started_at ON runs(started_at);

CREATE TABLE failures (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL,
	source_key TEXT NOT NULL,
	title TEXT,
	reason TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX idx_failures_run_id ON failures(run_id);
`

// journalMigrations contains incremental schema changes applied in order
// based on the current user_version. Index 0 is empty because version 0
// uses the base schema.
var journalMigrations = []string{
	"",
}
