// Package source supplies the input rows of a job. Rows are maps of named
// fields; the engine does not interpret them beyond the fields a job names.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/jackzampolin/docket/internal/sqlitedb"
)

// Provider returns the ordered rows for a query.
type Provider interface {
	Rows(ctx context.Context, query string, params ...any) ([]map[string]any, error)
}

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures a SQL provider.
type Config struct {
	Driver string `mapstructure:"driver" yaml:"driver" json:"driver" validate:"omitempty,oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
	// MaxConns caps the PostgreSQL pool. Zero keeps the pgx default.
	MaxConns    int32         `mapstructure:"max_conns" yaml:"max_conns,omitempty" json:"max_conns,omitempty"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`
}

// SQL runs queries against a database/sql handle.
type SQL struct {
	db     *sql.DB
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open opens the configured database.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*SQL, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		return OpenSQLite(ctx, cfg.DSN, logger)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown source driver %q", cfg.Driver)
	}
}

// OpenSQLite opens a SQLite database file through the pure-Go driver.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQL, error) {
	if path == "" {
		return nil, errors.New("sqlite source needs a path")
	}
	db, err := sqlitedb.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewSQL(db, logger), nil
}

// OpenPostgres creates a pgx pool and exposes it through database/sql.
func OpenPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*SQL, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "docket"

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to source database", "driver", DriverPostgres, "host", pc.ConnConfig.Host)

	s := NewSQL(stdlib.OpenDBFromPool(pool), logger)
	s.pool = pool
	return s, nil
}

// NewSQL wraps an open database.
func NewSQL(db *sql.DB, logger *slog.Logger) *SQL {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQL{db: db, logger: logger}
}

// DB exposes the underlying handle.
func (s *SQL) DB() *sql.DB {
	return s.db
}

// Close closes the database and any pool behind it.
func (s *SQL) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// Rows runs query and returns every row as a column map, in result order.
func (s *SQL) Rows(ctx context.Context, query string, params ...any) ([]map[string]any, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query source: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("source columns: %w", err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalize(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source rows: %w", err)
	}

	s.logger.Debug("source query complete", "rows", len(out), "duration", time.Since(start))
	return out, nil
}

// normalize turns driver values into the shapes JSON decoding produces for
// strings, so downstream keys compare equal.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return v
	}
}

// Static serves fixed rows and ignores the query. It backs tests and
// JSON-file inputs.
type Static struct {
	Data []map[string]any
}

// Rows returns a copy of the static rows.
func (s Static) Rows(ctx context.Context, _ string, _ ...any) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(s.Data))
	copy(out, s.Data)
	return out, nil
}

var (
	_ Provider = (*SQL)(nil)
	_ Provider = Static{}
)
