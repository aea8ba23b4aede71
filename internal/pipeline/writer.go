package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/malbeclabs/playlake/internal/duck"
	"github.com/malbeclabs/playlake/internal/storage"
)

// TableWriter receives fully materialized tables. Every table is staged
// before any is published.
type TableWriter interface {
	Stage(ctx context.Context, t duck.Table) error
	Publish(ctx context.Context) error
}

type ParquetWriterConfig struct {
	Logger     *slog.Logger
	Publisher  storage.Publisher
	StagingDir string
	RunID      string

	// Optional with defaults.
	DuckThreads int
}

func (c *ParquetWriterConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Publisher == nil {
		return errors.New("publisher is required")
	}
	if c.StagingDir == "" {
		return errors.New("staging dir is required")
	}
	if c.RunID == "" {
		return errors.New("run id is required")
	}
	if c.DuckThreads < 0 {
		return errors.New("duck threads must be >= 0")
	}
	return nil
}

// ParquetWriter stages tables as parquet in a run-scoped directory and
// publishes them one table at a time.
type ParquetWriter struct {
	log    *slog.Logger
	cfg    ParquetWriterConfig
	db     *duck.DB
	conn   duck.Connection
	runDir string
	staged []string
}

func NewParquetWriter(ctx context.Context, cfg ParquetWriterConfig) (*ParquetWriter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	runDir := filepath.Join(cfg.StagingDir, "playlake-"+cfg.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	db, err := duck.NewDB(ctx, cfg.Logger, cfg.DuckThreads)
	if err != nil {
		os.RemoveAll(runDir)
		return nil, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		os.RemoveAll(runDir)
		return nil, err
	}
	return &ParquetWriter{log: cfg.Logger, cfg: cfg, db: db, conn: conn, runDir: runDir}, nil
}

func (w *ParquetWriter) tableDir(name string) string {
	return filepath.Join(w.runDir, name)
}

func (w *ParquetWriter) Stage(ctx context.Context, t duck.Table) error {
	if err := duck.Export(ctx, w.log, w.conn, t, w.tableDir(t.Name)); err != nil {
		return fmt.Errorf("failed to stage table %s: %w", t.Name, err)
	}
	w.staged = append(w.staged, t.Name)
	w.log.Debug("pipeline: staged table", "table", t.Name, "rows", t.Rows)
	return nil
}

func (w *ParquetWriter) Publish(ctx context.Context) error {
	for _, name := range w.staged {
		if err := w.cfg.Publisher.Publish(ctx, name, w.tableDir(name)); err != nil {
			return fmt.Errorf("failed to publish table %s: %w", name, err)
		}
		w.log.Info("pipeline: published table", "table", name)
	}
	return nil
}

// Close releases the database and removes the staging directory.
func (w *ParquetWriter) Close() error {
	return errors.Join(
		w.conn.Close(),
		w.db.Close(),
		os.RemoveAll(w.runDir),
	)
}
