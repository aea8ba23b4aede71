// Package star builds the songplay star schema from decoded catalog and event
// records: the songs and artists dimensions from the catalog, the users and
// time dimensions from song play events, and the songplays fact table.
//
// Every table is recomputed from scratch on each run. Builders never mutate
// their inputs, and outputs are sorted so that identical inputs produce
// identical tables.
package star

import (
	"database/sql"
	"time"
)

// ItemDim is one row of the songs dimension.
type ItemDim struct {
	SongID   string
	Title    sql.Null[string]
	ArtistID sql.Null[string]
	Year     sql.Null[int64]
	Duration sql.Null[float64]
}

// CreatorDim is one row of the artists dimension.
type CreatorDim struct {
	ArtistID  string
	Name      sql.Null[string]
	Location  sql.Null[string]
	Latitude  sql.Null[float64]
	Longitude sql.Null[float64]
}

// CatalogDims holds both catalog-derived dimensions, each sorted by id.
type CatalogDims struct {
	Items    []ItemDim
	Creators []CreatorDim
}

// NormalizedEvent is a song play event projected to the columns used
// downstream. Seq is the event's position in the full input and breaks ties
// between events with the same timestamp.
type NormalizedEvent struct {
	Seq       int
	TS        int64
	StartTime time.Time
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

// UserDim is one row of the users dimension.
type UserDim struct {
	UserID    int64
	FirstName sql.Null[string]
	LastName  sql.Null[string]
	Gender    sql.Null[string]
	Level     sql.Null[string]
}

// TimeDim is one row of the time dimension. Weekday is 1 for Sunday through
// 7 for Saturday; Week is the ISO-8601 week number.
type TimeDim struct {
	StartTime time.Time
	Hour      int
	Day       int
	Week      int
	Month     int
	Year      int
	Weekday   int
}

// SongplayFact is one row of the songplays fact table.
type SongplayFact struct {
	SongplayID int64
	StartTime  time.Time
	UserID     sql.Null[int64]
	Level      sql.Null[string]
	SongID     string
	ArtistID   string
	SessionID  sql.Null[int64]
	Location   sql.Null[string]
	UserAgent  sql.Null[string]
	Year       int
	Month      int

	seq int
}
