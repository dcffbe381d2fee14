package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackzampolin/docket/internal/sqlitedb"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL,
	mode        TEXT NOT NULL,
	model       TEXT NOT NULL DEFAULT '',
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	output_dir  TEXT NOT NULL,
	data_dir    TEXT NOT NULL DEFAULT '',
	total       INTEGER NOT NULL DEFAULT 0,
	successful  INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	summary     BLOB
);
CREATE INDEX IF NOT EXISTS runs_job_finished ON runs (job_id, finished_at DESC);
`

// Index is a SQLite-backed run registry. It is both a Recorder and a Locator.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if needed) the run index at path.
func OpenIndex(ctx context.Context, path string) (*Index, error) {
	db, err := sqlitedb.Open(ctx, path, indexSchema)
	if err != nil {
		return nil, fmt.Errorf("open run index: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database.
func (x *Index) Close() error {
	return x.db.Close()
}

// Record inserts or replaces a run.
func (x *Index) Record(ctx context.Context, rec Record) error {
	_, err := x.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(run_id, job_id, mode, model, started_at, finished_at, output_dir, data_dir, total, successful, failed, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.JobID, string(rec.Mode), rec.Model,
		rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli(),
		rec.OutputDir, rec.DataDir, rec.Total, rec.Successful, rec.Failed, rec.Summary,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", rec.RunID, err)
	}
	return nil
}

// Latest returns the most recently finished run of jobID that produced at
// least one successful record.
func (x *Index) Latest(ctx context.Context, jobID string) (Handle, error) {
	recs, err := x.query(ctx, `WHERE job_id = ? AND successful > 0 ORDER BY finished_at DESC LIMIT 1`, jobID)
	if err != nil {
		return Handle{}, err
	}
	if len(recs) == 0 {
		return Handle{}, fmt.Errorf("%w for job %s", ErrNoRun, jobID)
	}
	return recs[0].Handle(), nil
}

// List returns up to limit runs, newest first. An empty jobID lists all jobs.
func (x *Index) List(ctx context.Context, jobID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	if jobID == "" {
		return x.query(ctx, `ORDER BY finished_at DESC LIMIT ?`, limit)
	}
	return x.query(ctx, `WHERE job_id = ? ORDER BY finished_at DESC LIMIT ?`, jobID, limit)
}

// Get returns one run by id.
func (x *Index) Get(ctx context.Context, runID string) (Record, error) {
	recs, err := x.query(ctx, `WHERE run_id = ?`, runID)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrNoRun, runID)
	}
	return recs[0], nil
}

func (x *Index) query(ctx context.Context, where string, args ...any) ([]Record, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT run_id, job_id, mode, model, started_at, finished_at, output_dir, data_dir, total, successful, failed, summary
		FROM runs `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec              Record
			mode             string
			started, finished int64
		)
		if err := rows.Scan(&rec.RunID, &rec.JobID, &mode, &rec.Model, &started, &finished,
			&rec.OutputDir, &rec.DataDir, &rec.Total, &rec.Successful, &rec.Failed, &rec.Summary); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.Mode = Mode(mode)
		rec.StartedAt = time.UnixMilli(started).UTC()
		rec.FinishedAt = time.UnixMilli(finished).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

var (
	_ Locator  = (*Index)(nil)
	_ Recorder = (*Index)(nil)
)
