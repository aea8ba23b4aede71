package duck

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// NullToken marks a NULL cell in staged CSV files.
const NullToken = `\N`

// TextPrefix starts every non-null text cell in staged CSV files, so no text
// value can equal NullToken. Export strips it after loading.
const TextPrefix = "~"

const timestampLayout = "2006-01-02 15:04:05.000"

// Table describes a fully materialized table ready to be exported.
type Table struct {
	// Name is the table name and the name of its output directory.
	Name string
	// Columns defines all columns in order as name:type pairs, e.g.
	// "start_time:TIMESTAMP", "song_id:VARCHAR".
	Columns []string
	// PartitionBy lists the Hive partition columns, outermost first.
	PartitionBy []string
	// OrderBy lists the columns rows are written in order of.
	OrderBy []string
	// Rows is the number of rows WriteCSV produces.
	Rows int
	// WriteCSV writes row i. Text columns must be written with String or
	// Text.
	WriteCSV func(w *csv.Writer, i int) error
}

type column struct {
	name string
	typ  string
}

func (c column) isText() bool {
	typ := strings.ToUpper(c.typ)
	switch {
	case typ == "VARCHAR", typ == "TEXT", typ == "STRING":
		return true
	default:
		return strings.HasPrefix(typ, "VARCHAR(")
	}
}

func (t Table) columns() ([]column, error) {
	cols := make([]column, 0, len(t.Columns))
	for _, def := range t.Columns {
		name, typ, ok := strings.Cut(def, ":")
		name, typ = strings.TrimSpace(name), strings.TrimSpace(typ)
		if !ok || name == "" || typ == "" {
			return nil, fmt.Errorf("invalid column definition %q: expected format 'name:type'", def)
		}
		cols = append(cols, column{name: name, typ: typ})
	}
	return cols, nil
}

// ColumnNames returns the column names in order.
func (t Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, def := range t.Columns {
		name, _, _ := strings.Cut(def, ":")
		names = append(names, strings.TrimSpace(name))
	}
	return names
}

func (t Table) Validate() error {
	if t.Name == "" {
		return errors.New("table name is required")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: columns cannot be empty", t.Name)
	}
	if _, err := t.columns(); err != nil {
		return fmt.Errorf("table %s: %w", t.Name, err)
	}
	names := t.ColumnNames()
	for _, c := range slices.Concat(t.PartitionBy, t.OrderBy) {
		if !slices.Contains(names, c) {
			return fmt.Errorf("table %s: unknown column %q", t.Name, c)
		}
	}
	if t.Rows < 0 {
		return fmt.Errorf("table %s: rows must be >= 0", t.Name)
	}
	if t.Rows > 0 && t.WriteCSV == nil {
		return fmt.Errorf("table %s: csv writer is required", t.Name)
	}
	return nil
}

// CSV cell formatters for staged rows.

func String(v sql.Null[string]) string {
	if !v.Valid {
		return NullToken
	}
	return Text(v.V)
}

// Text formats a non-null text value.
func Text(s string) string {
	return TextPrefix + s
}

func Int(v sql.Null[int64]) string {
	if !v.Valid {
		return NullToken
	}
	return strconv.FormatInt(v.V, 10)
}

func Float(v sql.Null[float64]) string {
	if !v.Valid {
		return NullToken
	}
	return strconv.FormatFloat(v.V, 'g', -1, 64)
}

// Timestamp formats t in UTC with millisecond precision.
func Timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
