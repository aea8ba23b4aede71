package records

import (
	"database/sql"
	"errors"
	"fmt"
)

// PageNextSong marks an event as a song play.
const PageNextSong = "NextSong"

var (
	ErrMalformedRecord = errors.New("malformed record")
	ErrSchemaMismatch  = errors.New("schema mismatch")
)

// CatalogRecord is one raw line from the song catalog. Every field may be null.
type CatalogRecord struct {
	SongID          sql.Null[string]
	Title           sql.Null[string]
	ArtistID        sql.Null[string]
	ArtistName      sql.Null[string]
	ArtistLocation  sql.Null[string]
	ArtistLatitude  sql.Null[float64]
	ArtistLongitude sql.Null[float64]
	Year            sql.Null[int64]
	Duration        sql.Null[float64]
}

// EventRecord is one raw line from the activity log. TS is always set; records
// without it are rejected as malformed.
type EventRecord struct {
	TS        int64
	Page      sql.Null[string]
	UserID    sql.Null[int64]
	FirstName sql.Null[string]
	LastName  sql.Null[string]
	Gender    sql.Null[string]
	Level     sql.Null[string]
	Song      sql.Null[string]
	Artist    sql.Null[string]
	SessionID sql.Null[int64]
	Location  sql.Null[string]
	UserAgent sql.Null[string]
}

// RecordError locates a malformed record in its source file.
type RecordError struct {
	Key  string
	Line int
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Key, e.Line, e.Err)
}

func (e *RecordError) Unwrap() []error {
	return []error{ErrMalformedRecord, e.Err}
}

// Valid returns a non-null value.
func Valid[T any](v T) sql.Null[T] {
	return sql.Null[T]{V: v, Valid: true}
}
