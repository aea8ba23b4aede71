package duck

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Export writes t as parquet under dir, which must not exist yet. Partitioned
// tables are written as Hive partitions (dir/col=value/.../data_0.parquet);
// unpartitioned tables as dir/<name>.parquet.
//
// Rows are staged through a CSV file into a typed temp table, so every value
// is checked against its column type before anything is written.
func Export(ctx context.Context, log *slog.Logger, conn Connection, t Table, dir string) error {
	exportStart := time.Now()
	if err := t.Validate(); err != nil {
		return err
	}
	cols, err := t.columns()
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("export directory %s already exists", dir)
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return fmt.Errorf("failed to create export parent directory: %w", err)
	}

	csvPath, err := writeStageCSV(ctx, t, filepath.Dir(dir))
	if err != nil {
		return err
	}
	defer os.Remove(csvPath)

	stageTable := t.Name + "_stage"
	if err := loadStageTable(ctx, log, conn, stageTable, cols, csvPath, t.Rows); err != nil {
		return err
	}
	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+quoteIdent(stageTable)); err != nil {
			log.Error("duck: failed to drop stage table", "table", t.Name, "error", err)
		}
	}()

	query := selectQuery(stageTable, t)
	var copySQL string
	switch {
	case len(t.PartitionBy) == 0:
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
		copySQL = fmt.Sprintf("COPY (%s) TO %s (FORMAT PARQUET)",
			query, quoteLiteral(filepath.Join(dir, t.Name+".parquet")))
	case t.Rows == 0:
		// A partitioned copy of zero rows writes no files.
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
	default:
		copySQL = fmt.Sprintf("COPY (%s) TO %s (FORMAT PARQUET, PARTITION_BY (%s))",
			query, quoteLiteral(dir), joinIdents(t.PartitionBy))
	}
	if copySQL != "" {
		if _, err := conn.ExecContext(ctx, copySQL); err != nil {
			return fmt.Errorf("failed to COPY TO parquet: %w", err)
		}
	}

	log.Debug("duck: exported table",
		"table", t.Name,
		"rows", t.Rows,
		"partition_by", t.PartitionBy,
		"dir", dir,
		"duration", time.Since(exportStart).String())
	return nil
}

func writeStageCSV(ctx context.Context, t Table, tmpDir string) (string, error) {
	tmpFile, err := os.CreateTemp(tmpDir, fmt.Sprintf("%s_stage_*.csv", t.Name))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	path := tmpFile.Name()
	fail := func(err error) (string, error) {
		tmpFile.Close()
		os.Remove(path)
		return "", err
	}

	csvWriter := csv.NewWriter(tmpFile)
	for i := range t.Rows {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return fail(fmt.Errorf("context cancelled during CSV writing: %w", err))
			}
		}
		if err := t.WriteCSV(csvWriter, i); err != nil {
			return fail(fmt.Errorf("failed to write CSV row %d: %w", i, err))
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fail(fmt.Errorf("failed to flush CSV: %w", err))
	}
	if err := tmpFile.Close(); err != nil {
		return fail(fmt.Errorf("failed to close CSV: %w", err))
	}
	return path, nil
}

func loadStageTable(ctx context.Context, log *slog.Logger, conn Connection, stageTable string, cols []column, csvPath string, rows int) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for %s: %w", stageTable, err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Error("duck: failed to rollback transaction", "table", stageTable, "error", err)
		}
	}()

	colDefs := make([]string, 0, len(cols))
	for _, c := range cols {
		colDefs = append(colDefs, fmt.Sprintf("%s %s", quoteIdent(c.name), c.typ))
	}
	createSQL := fmt.Sprintf("CREATE OR REPLACE TEMP TABLE %s (\n\t\t%s\n\t)",
		quoteIdent(stageTable), strings.Join(colDefs, ",\n\t\t"))
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create stage table: %w", err)
	}

	if rows > 0 {
		copySQL := fmt.Sprintf("COPY %s FROM %s (FORMAT CSV, HEADER false, NULLSTR %s)",
			quoteIdent(stageTable), quoteLiteral(csvPath), quoteLiteral(NullToken))
		if _, err := tx.ExecContext(ctx, copySQL); err != nil {
			return fmt.Errorf("failed to COPY FROM CSV: %w", err)
		}
		if updateSQL := stripTextPrefixSQL(stageTable, cols); updateSQL != "" {
			if _, err := tx.ExecContext(ctx, updateSQL); err != nil {
				return fmt.Errorf("failed to decode text columns: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// stripTextPrefixSQL removes TextPrefix from every text column. It returns
// "" when the table has no text columns.
func stripTextPrefixSQL(stageTable string, cols []column) string {
	var sets []string
	for _, c := range cols {
		if c.isText() {
			sets = append(sets, fmt.Sprintf("%s = substr(%s, %d)", quoteIdent(c.name), quoteIdent(c.name), len(TextPrefix)+1))
		}
	}
	if len(sets) == 0 {
		return ""
	}
	return fmt.Sprintf("UPDATE %s SET %s", quoteIdent(stageTable), strings.Join(sets, ", "))
}

func selectQuery(stageTable string, t Table) string {
	q := fmt.Sprintf("SELECT %s FROM %s", joinIdents(t.ColumnNames()), quoteIdent(stageTable))
	if len(t.OrderBy) > 0 {
		q += " ORDER BY " + joinIdents(t.OrderBy)
	}
	return q
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func joinIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
