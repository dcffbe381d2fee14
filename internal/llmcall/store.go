package llmcall

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackzampolin/docket/internal/sqlitedb"
)

const schema = `
CREATE TABLE IF NOT EXISTS llm_calls (
	id            TEXT PRIMARY KEY,
	ts            INTEGER NOT NULL,
	latency_ms    INTEGER NOT NULL DEFAULT 0,
	job_id        TEXT NOT NULL DEFAULT '',
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL DEFAULT '',
	prompt_hash   TEXT NOT NULL,
	format        TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	success       INTEGER NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	rate_limited  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS llm_calls_job_ts ON llm_calls (job_id, ts DESC);
`

// Store provides access to LLM call records in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the call log at path.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	db, err := sqlitedb.Open(ctx, path, schema)
	if err != nil {
		return nil, fmt.Errorf("open call log: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// QueryFilter specifies filters for listing LLM calls.
type QueryFilter struct {
	JobID    string
	Provider string
	Success  *bool
	Limit    int
}

// Totals aggregates the calls of one job.
type Totals struct {
	Calls        int `json:"calls"`
	Failed       int `json:"failed"`
	RateLimited  int `json:"rate_limited"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Insert writes calls in a single transaction. Duplicate IDs are ignored.
func (s *Store) Insert(ctx context.Context, calls []Call) error {
	if len(calls) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO llm_calls
			(id, ts, latency_ms, job_id, provider, model, prompt_hash, format,
			 input_tokens, output_tokens, success, error, rate_limited)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range calls {
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.Timestamp.UnixMilli(), c.LatencyMs, c.JobID, c.Provider, c.Model,
			c.PromptHash, c.Format, c.InputTokens, c.OutputTokens,
			c.Success, c.Error, c.RateLimited,
		); err != nil {
			return fmt.Errorf("insert call %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// List retrieves LLM calls matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter QueryFilter) ([]Call, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.JobID != "" {
		conditions = append(conditions, "job_id = ?")
		args = append(args, filter.JobID)
	}
	if filter.Provider != "" {
		conditions = append(conditions, "provider = ?")
		args = append(args, filter.Provider)
	}
	if filter.Success != nil {
		conditions = append(conditions, "success = ?")
		args = append(args, *filter.Success)
	}

	query := `SELECT id, ts, latency_ms, job_id, provider, model, prompt_hash, format,
		input_tokens, output_tokens, success, error, rate_limited FROM llm_calls`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY ts DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		var (
			c  Call
			ts int64
		)
		if err := rows.Scan(&c.ID, &ts, &c.LatencyMs, &c.JobID, &c.Provider, &c.Model,
			&c.PromptHash, &c.Format, &c.InputTokens, &c.OutputTokens,
			&c.Success, &c.Error, &c.RateLimited); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		c.Timestamp = time.UnixMilli(ts)
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// Totals sums the calls recorded for jobID. An empty jobID covers every job.
func (s *Store) Totals(ctx context.Context, jobID string) (Totals, error) {
	query := `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0),
		COALESCE(SUM(rate_limited), 0),
		COALESCE(SUM(input_tokens), 0),
		COALESCE(SUM(output_tokens), 0)
		FROM llm_calls`
	var args []any
	if jobID != "" {
		query += " WHERE job_id = ?"
		args = append(args, jobID)
	}

	var t Totals
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&t.Calls, &t.Failed, &t.RateLimited, &t.InputTokens, &t.OutputTokens,
	); err != nil {
		return Totals{}, fmt.Errorf("call totals: %w", err)
	}
	return t, nil
}
