package duck

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Connection is the subset of *sql.Conn used to stage and export tables.
type Connection interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Close() error
}

// DB is an in-process, in-memory DuckDB database.
type DB struct {
	log *slog.Logger
	db  *sql.DB
}

// NewDB opens an in-memory DuckDB. A positive threads value caps the number
// of threads DuckDB uses for a query; zero keeps DuckDB's default.
func NewDB(ctx context.Context, log *slog.Logger, threads int) (*DB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if threads > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("SET threads = %d", threads)); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set threads: %w", err)
		}
	}
	log.Debug("duck: opened in-memory database", "threads", threads)
	return &DB{log: log, db: db}, nil
}

func (d *DB) Conn(ctx context.Context) (Connection, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}
