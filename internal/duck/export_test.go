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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testDBWithConn(t *testing.T) (*DB, Connection) {
	t.Helper()
	ctx := context.Background()

	db, err := NewDB(ctx, testLogger(), 2)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return db, conn
}

// failingConn fails every operation.
type failingConn struct{}

func (f *failingConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, errors.New("database error")
}

func (f *failingConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, errors.New("database error")
}

func (f *failingConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return nil
}

func (f *failingConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return nil, errors.New("failed to begin transaction")
}

func (f *failingConn) Close() error {
	return nil
}

type playRow struct {
	id    int64
	at    time.Time
	song  sql.Null[string]
	score sql.Null[float64]
}

func playsTable(rows []playRow) Table {
	return Table{
		Name: "plays",
		Columns: []string{
			"play_id:BIGINT",
			"start_time:TIMESTAMP",
			"song:VARCHAR",
			"score:DOUBLE",
			"year:INTEGER",
			"month:INTEGER",
		},
		PartitionBy: []string{"year", "month"},
		OrderBy:     []string{"play_id"},
		Rows:        len(rows),
		WriteCSV: func(w *csv.Writer, i int) error {
			r := rows[i]
			return w.Write([]string{
				fmt.Sprint(r.id),
				Timestamp(r.at),
				String(r.song),
				Float(r.score),
				fmt.Sprint(r.at.Year()),
				fmt.Sprint(int(r.at.Month())),
			})
		},
	}
}

func TestPlaylake_Duck_Export(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := testLogger()

	rows := []playRow{
		{id: 2, at: time.Date(2018, 11, 2, 10, 0, 0, 123_000_000, time.UTC), song: sql.Null[string]{V: "Halo, \"live\"", Valid: true}, score: sql.Null[float64]{V: 1.5, Valid: true}},
		{id: 1, at: time.Date(2018, 11, 1, 9, 0, 0, 0, time.UTC), song: sql.Null[string]{V: "", Valid: true}},
		{id: 3, at: time.Date(2018, 12, 1, 0, 0, 0, 0, time.UTC)},
	}

	t.Run("partitioned", func(t *testing.T) {
		t.Parallel()

		_, conn := testDBWithConn(t)
		dir := filepath.Join(t.TempDir(), "plays")
		require.NoError(t, Export(ctx, log, conn, playsTable(rows), dir))

		require.DirExists(t, filepath.Join(dir, "year=2018", "month=11"))
		require.DirExists(t, filepath.Join(dir, "year=2018", "month=12"))

		var count int
		err := conn.QueryRowContext(ctx, fmt.Sprintf(
			"SELECT count(*) FROM read_parquet('%s/**/*.parquet', hive_partitioning = true) WHERE month = 11", dir)).Scan(&count)
		require.NoError(t, err)
		require.Equal(t, 2, count)

		var song sql.NullString
		var score sql.NullFloat64
		var at time.Time
		err = conn.QueryRowContext(ctx, fmt.Sprintf(
			"SELECT song, score, start_time FROM read_parquet('%s/**/*.parquet', hive_partitioning = true) WHERE play_id = 2", dir)).Scan(&song, &score, &at)
		require.NoError(t, err)
		require.Equal(t, sql.NullString{String: "Halo, \"live\"", Valid: true}, song)
		require.Equal(t, sql.NullFloat64{Float64: 1.5, Valid: true}, score)
		require.True(t, rows[0].at.Equal(at), "got %s", at)

		err = conn.QueryRowContext(ctx, fmt.Sprintf(
			"SELECT song FROM read_parquet('%s/**/*.parquet', hive_partitioning = true) WHERE play_id = 3", dir)).Scan(&song)
		require.NoError(t, err)
		require.False(t, song.Valid)

		err = conn.QueryRowContext(ctx, fmt.Sprintf(
			"SELECT song FROM read_parquet('%s/**/*.parquet', hive_partitioning = true) WHERE play_id = 1", dir)).Scan(&song)
		require.NoError(t, err)
		require.Equal(t, sql.NullString{String: "", Valid: true}, song)
	})

	t.Run("text_matching_null_token_round_trips", func(t *testing.T) {
		t.Parallel()

		_, conn := testDBWithConn(t)
		at := time.Date(2018, 11, 1, 9, 0, 0, 0, time.UTC)
		table := playsTable([]playRow{
			{id: 1, at: at, song: sql.Null[string]{V: NullToken, Valid: true}},
			{id: 2, at: at, song: sql.Null[string]{V: TextPrefix, Valid: true}},
			{id: 3, at: at, song: sql.Null[string]{V: TextPrefix + NullToken, Valid: true}},
			{id: 4, at: at},
		})
		table.PartitionBy = nil
		dir := filepath.Join(t.TempDir(), "plays")
		require.NoError(t, Export(ctx, log, conn, table, dir))

		rs, err := conn.QueryContext(ctx, fmt.Sprintf(
			"SELECT song FROM read_parquet('%s') ORDER BY play_id", filepath.Join(dir, "plays.parquet")))
		require.NoError(t, err)
		defer rs.Close()
		var songs []sql.NullString
		for rs.Next() {
			var song sql.NullString
			require.NoError(t, rs.Scan(&song))
			songs = append(songs, song)
		}
		require.NoError(t, rs.Err())
		require.Equal(t, []sql.NullString{
			{String: NullToken, Valid: true},
			{String: TextPrefix, Valid: true},
			{String: TextPrefix + NullToken, Valid: true},
			{},
		}, songs)
	})

	t.Run("unpartitioned", func(t *testing.T) {
		t.Parallel()

		_, conn := testDBWithConn(t)
		table := playsTable(rows)
		table.PartitionBy = nil
		dir := filepath.Join(t.TempDir(), "plays")
		require.NoError(t, Export(ctx, log, conn, table, dir))

		file := filepath.Join(dir, "plays.parquet")
		require.FileExists(t, file)

		rs, err := conn.QueryContext(ctx, fmt.Sprintf("SELECT play_id FROM read_parquet('%s')", file))
		require.NoError(t, err)
		defer rs.Close()
		var ids []int64
		for rs.Next() {
			var id int64
			require.NoError(t, rs.Scan(&id))
			ids = append(ids, id)
		}
		require.NoError(t, rs.Err())
		require.Equal(t, []int64{1, 2, 3}, ids)
	})

	t.Run("empty_tables", func(t *testing.T) {
		t.Parallel()

		_, conn := testDBWithConn(t)
		root := t.TempDir()

		require.NoError(t, Export(ctx, log, conn, playsTable(nil), filepath.Join(root, "plays")))
		entries, err := os.ReadDir(filepath.Join(root, "plays"))
		require.NoError(t, err)
		require.Empty(t, entries)

		table := playsTable(nil)
		table.Name = "flat"
		table.PartitionBy = nil
		require.NoError(t, Export(ctx, log, conn, table, filepath.Join(root, "flat")))

		var count int
		err = conn.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM read_parquet('%s')", filepath.Join(root, "flat", "flat.parquet"))).Scan(&count)
		require.NoError(t, err)
		require.Zero(t, count)
	})

	t.Run("existing_dir_is_error", func(t *testing.T) {
		t.Parallel()

		_, conn := testDBWithConn(t)
		dir := t.TempDir()
		err := Export(ctx, log, conn, playsTable(rows), dir)
		require.ErrorContains(t, err, "already exists")
	})

	t.Run("csv_write_error", func(t *testing.T) {
		t.Parallel()

		_, conn := testDBWithConn(t)
		table := playsTable(rows)
		table.WriteCSV = func(*csv.Writer, int) error { return errors.New("boom") }
		root := t.TempDir()
		err := Export(ctx, log, conn, table, filepath.Join(root, "plays"))
		require.ErrorContains(t, err, "failed to write CSV row 0")

		entries, err := os.ReadDir(root)
		require.NoError(t, err)
		require.Empty(t, entries)
	})

	t.Run("bad_value_is_error", func(t *testing.T) {
		t.Parallel()

		_, conn := testDBWithConn(t)
		table := playsTable(rows)
		table.WriteCSV = func(w *csv.Writer, i int) error {
			return w.Write([]string{"not-a-number", Timestamp(rows[i].at), NullToken, NullToken, "2018", "11"})
		}
		err := Export(ctx, log, conn, table, filepath.Join(t.TempDir(), "plays"))
		require.ErrorContains(t, err, "failed to COPY FROM CSV")
	})

	t.Run("failing_connection", func(t *testing.T) {
		t.Parallel()

		err := Export(ctx, log, &failingConn{}, playsTable(rows), filepath.Join(t.TempDir(), "plays"))
		require.ErrorContains(t, err, "failed to begin transaction")
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()

		_, conn := testDBWithConn(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := Export(cctx, log, conn, playsTable(rows), filepath.Join(t.TempDir(), "plays"))
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestPlaylake_Duck_Table_Validate(t *testing.T) {
	t.Parallel()

	valid := playsTable(nil)
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Table)
		errMsg string
	}{
		{name: "no_name", mutate: func(t *Table) { t.Name = "" }, errMsg: "table name is required"},
		{name: "no_columns", mutate: func(t *Table) { t.Columns = nil }, errMsg: "columns cannot be empty"},
		{name: "bad_column", mutate: func(t *Table) { t.Columns = []string{"play_id"} }, errMsg: "expected format 'name:type'"},
		{name: "unknown_partition", mutate: func(t *Table) { t.PartitionBy = []string{"day"} }, errMsg: `unknown column "day"`},
		{name: "unknown_order", mutate: func(t *Table) { t.OrderBy = []string{"id"} }, errMsg: `unknown column "id"`},
		{name: "rows_without_writer", mutate: func(t *Table) { t.Rows = 1; t.WriteCSV = nil }, errMsg: "csv writer is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			table := playsTable(nil)
			tt.mutate(&table)
			require.ErrorContains(t, table.Validate(), tt.errMsg)
		})
	}
}

func TestPlaylake_Duck_Formatters(t *testing.T) {
	t.Parallel()

	require.Equal(t, NullToken, String(sql.Null[string]{}))
	require.Equal(t, TextPrefix+"x", String(sql.Null[string]{V: "x", Valid: true}))
	require.NotEqual(t, NullToken, String(sql.Null[string]{V: NullToken, Valid: true}))
	require.Equal(t, TextPrefix+"SOHALO", Text("SOHALO"))
	require.Equal(t, NullToken, Int(sql.Null[int64]{}))
	require.Equal(t, "-42", Int(sql.Null[int64]{V: -42, Valid: true}))
	require.Equal(t, NullToken, Float(sql.Null[float64]{}))
	require.Equal(t, "152.92036", Float(sql.Null[float64]{V: 152.92036, Valid: true}))
	require.Equal(t, "2018-11-01 21:01:46.796", Timestamp(time.UnixMilli(1541106106796)))
}
