package pipeline

import (
	"database/sql"
	"encoding/csv"
	"strconv"

	"github.com/malbeclabs/playlake/internal/duck"
	"github.com/malbeclabs/playlake/internal/star"
)

const (
	TableSongs     = "songs"
	TableArtists   = "artists"
	TableUsers     = "users"
	TableTime      = "time"
	TableSongplays = "songplays"
)

// TableNames lists the output tables in staging order.
var TableNames = []string{TableSongs, TableArtists, TableUsers, TableTime, TableSongplays}

func itoa(v int) string {
	return strconv.Itoa(v)
}

func valid[T any](v T) sql.Null[T] {
	return sql.Null[T]{V: v, Valid: true}
}

func songsTable(rows []star.ItemDim) duck.Table {
	return duck.Table{
		Name: TableSongs,
		Columns: []string{
			"song_id:VARCHAR",
			"title:VARCHAR",
			"artist_id:VARCHAR",
			"year:BIGINT",
			"duration:DOUBLE",
		},
		PartitionBy: []string{"year", "artist_id"},
		OrderBy:     []string{"song_id"},
		Rows:        len(rows),
		WriteCSV: func(w *csv.Writer, i int) error {
			r := rows[i]
			return w.Write([]string{
				duck.Text(r.SongID),
				duck.String(r.Title),
				duck.String(r.ArtistID),
				duck.Int(r.Year),
				duck.Float(r.Duration),
			})
		},
	}
}

func artistsTable(rows []star.CreatorDim) duck.Table {
	return duck.Table{
		Name: TableArtists,
		Columns: []string{
			"artist_id:VARCHAR",
			"name:VARCHAR",
			"location:VARCHAR",
			"latitude:DOUBLE",
			"longitude:DOUBLE",
		},
		OrderBy: []string{"artist_id"},
		Rows:    len(rows),
		WriteCSV: func(w *csv.Writer, i int) error {
			r := rows[i]
			return w.Write([]string{
				duck.Text(r.ArtistID),
				duck.String(r.Name),
				duck.String(r.Location),
				duck.Float(r.Latitude),
				duck.Float(r.Longitude),
			})
		},
	}
}

func usersTable(rows []star.UserDim) duck.Table {
	return duck.Table{
		Name: TableUsers,
		Columns: []string{
			"user_id:BIGINT",
			"first_name:VARCHAR",
			"last_name:VARCHAR",
			"gender:VARCHAR",
			"level:VARCHAR",
		},
		OrderBy: []string{"user_id"},
		Rows:    len(rows),
		WriteCSV: func(w *csv.Writer, i int) error {
			r := rows[i]
			return w.Write([]string{
				duck.Int(valid(r.UserID)),
				duck.String(r.FirstName),
				duck.String(r.LastName),
				duck.String(r.Gender),
				duck.String(r.Level),
			})
		},
	}
}

func timeTable(rows []star.TimeDim) duck.Table {
	return duck.Table{
		Name: TableTime,
		Columns: []string{
			"start_time:TIMESTAMP",
			"hour:INTEGER",
			"day:INTEGER",
			"week:INTEGER",
			"month:INTEGER",
			"year:INTEGER",
			"weekday:INTEGER",
		},
		PartitionBy: []string{"year", "month"},
		OrderBy:     []string{"start_time"},
		Rows:        len(rows),
		WriteCSV: func(w *csv.Writer, i int) error {
			r := rows[i]
			return w.Write([]string{
				duck.Timestamp(r.StartTime),
				itoa(r.Hour),
				itoa(r.Day),
				itoa(r.Week),
				itoa(r.Month),
				itoa(r.Year),
				itoa(r.Weekday),
			})
		},
	}
}

func songplaysTable(rows []star.SongplayFact) duck.Table {
	return duck.Table{
		Name: TableSongplays,
		Columns: []string{
			"songplay_id:BIGINT",
			"start_time:TIMESTAMP",
			"user_id:BIGINT",
			"level:VARCHAR",
			"song_id:VARCHAR",
			"artist_id:VARCHAR",
			"session_id:BIGINT",
			"location:VARCHAR",
			"user_agent:VARCHAR",
			"year:INTEGER",
			"month:INTEGER",
		},
		PartitionBy: []string{"year", "month"},
		OrderBy:     []string{"songplay_id"},
		Rows:        len(rows),
		WriteCSV: func(w *csv.Writer, i int) error {
			r := rows[i]
			return w.Write([]string{
				strconv.FormatInt(r.SongplayID, 10),
				duck.Timestamp(r.StartTime),
				duck.Int(r.UserID),
				duck.String(r.Level),
				duck.Text(r.SongID),
				duck.Text(r.ArtistID),
				duck.Int(r.SessionID),
				duck.String(r.Location),
				duck.String(r.UserAgent),
				itoa(r.Year),
				itoa(r.Month),
			})
		},
	}
}
