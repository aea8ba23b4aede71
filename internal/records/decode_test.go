package records

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlaylake_Records_DecodeCatalog(t *testing.T) {
	t.Parallel()

	t.Run("full_record", func(t *testing.T) {
		t.Parallel()

		var stats Stats
		rec, err := DecodeCatalog([]byte(`{"num_songs": 1, "artist_id": "ARJIE2Y1187B994AB7", "artist_latitude": null, "artist_longitude": null, "artist_location": "", "artist_name": "Line Renaud", "song_id": "SOUPIRU12A6D4FA1E1", "title": "Der Kleine Dompfaff", "duration": 152.92036, "year": 0}`), &stats)
		require.NoError(t, err)
		require.Equal(t, Valid("SOUPIRU12A6D4FA1E1"), rec.SongID)
		require.Equal(t, Valid("Der Kleine Dompfaff"), rec.Title)
		require.Equal(t, Valid("ARJIE2Y1187B994AB7"), rec.ArtistID)
		require.Equal(t, Valid("Line Renaud"), rec.ArtistName)
		require.Equal(t, Valid(""), rec.ArtistLocation)
		require.False(t, rec.ArtistLatitude.Valid)
		require.False(t, rec.ArtistLongitude.Valid)
		require.Equal(t, Valid(int64(0)), rec.Year)
		require.Equal(t, Valid(152.92036), rec.Duration)
		require.Equal(t, 1, stats.column("artist_latitude").Present)
		require.Equal(t, 0, stats.column("artist_latitude").Valid)
	})

	t.Run("missing_fields_are_null", func(t *testing.T) {
		t.Parallel()

		var stats Stats
		rec, err := DecodeCatalog([]byte(`{"song_id": "S1"}`), &stats)
		require.NoError(t, err)
		require.Equal(t, Valid("S1"), rec.SongID)
		require.Equal(t, sql.Null[string]{}, rec.Title)
		require.Equal(t, 0, stats.column("title").Present)
	})

	t.Run("wrong_type_is_error", func(t *testing.T) {
		t.Parallel()

		var stats Stats
		_, err := DecodeCatalog([]byte(`{"song_id": "S1", "year": "nineteen"}`), &stats)
		require.Error(t, err)
		require.Contains(t, err.Error(), `"year"`)
		require.Equal(t, 1, stats.column("year").Invalid)
	})

	t.Run("invalid_json_is_error", func(t *testing.T) {
		t.Parallel()

		var stats Stats
		_, err := DecodeCatalog([]byte(`{"song_id": `), &stats)
		require.Error(t, err)

		_, err = DecodeCatalog([]byte(`null`), &stats)
		require.Error(t, err)
	})
}

func TestPlaylake_Records_DecodeEvent(t *testing.T) {
	t.Parallel()

	t.Run("next_song", func(t *testing.T) {
		t.Parallel()

		var stats Stats
		rec, err := DecodeEvent([]byte(`{"artist":"Des'ree","auth":"Logged In","firstName":"Kaylee","gender":"F","itemInSession":1,"lastName":"Summers","length":246.30812,"level":"free","location":"Phoenix-Mesa-Scottsdale, AZ","method":"PUT","page":"NextSong","registration":1540344794796.0,"sessionId":139,"song":"You Gotta Be","status":200,"ts":1541106106796,"userAgent":"Mozilla/5.0","userId":"8"}`), &stats)
		require.NoError(t, err)
		require.Equal(t, int64(1541106106796), rec.TS)
		require.Equal(t, Valid(PageNextSong), rec.Page)
		require.Equal(t, Valid(int64(8)), rec.UserID)
		require.Equal(t, Valid("Kaylee"), rec.FirstName)
		require.Equal(t, Valid("Summers"), rec.LastName)
		require.Equal(t, Valid("F"), rec.Gender)
		require.Equal(t, Valid("free"), rec.Level)
		require.Equal(t, Valid("You Gotta Be"), rec.Song)
		require.Equal(t, Valid("Des'ree"), rec.Artist)
		require.Equal(t, Valid(int64(139)), rec.SessionID)
		require.Equal(t, Valid("Phoenix-Mesa-Scottsdale, AZ"), rec.Location)
		require.Equal(t, Valid("Mozilla/5.0"), rec.UserAgent)
	})

	t.Run("empty_user_id_is_null", func(t *testing.T) {
		t.Parallel()

		var stats Stats
		rec, err := DecodeEvent([]byte(`{"ts": 1000, "page": "Home", "userId": ""}`), &stats)
		require.NoError(t, err)
		require.False(t, rec.UserID.Valid)
		require.Equal(t, 1, stats.column("userId").Valid)
	})

	t.Run("numeric_user_id", func(t *testing.T) {
		t.Parallel()

		var stats Stats
		rec, err := DecodeEvent([]byte(`{"ts": 1000, "userId": 26}`), &stats)
		require.NoError(t, err)
		require.Equal(t, Valid(int64(26)), rec.UserID)
	})

	t.Run("non_numeric_user_id_is_null", func(t *testing.T) {
		t.Parallel()

		var stats Stats
		rec, err := DecodeEvent([]byte(`{"ts": 1541106106796, "page": "NextSong", "userId": "abc", "song": "Halo"}`), &stats)
		require.NoError(t, err)
		require.False(t, rec.UserID.Valid)
		require.Equal(t, int64(1541106106796), rec.TS)
		require.Equal(t, Valid("Halo"), rec.Song)
		require.Equal(t, 1, stats.column("userId").Valid)
	})

	t.Run("non_integer_user_id_type_is_error", func(t *testing.T) {
		t.Parallel()

		var stats Stats
		_, err := DecodeEvent([]byte(`{"ts": 1000, "userId": true}`), &stats)
		require.Error(t, err)
	})

	t.Run("missing_ts_is_error", func(t *testing.T) {
		t.Parallel()

		var stats Stats
		_, err := DecodeEvent([]byte(`{"page": "NextSong"}`), &stats)
		require.Error(t, err)
		require.Contains(t, err.Error(), `"ts"`)
	})
}

func TestPlaylake_Records_Stats_CheckSchema(t *testing.T) {
	t.Parallel()

	t.Run("empty_dataset_passes", func(t *testing.T) {
		t.Parallel()

		var stats Stats
		require.NoError(t, stats.CheckSchema("catalog", CatalogColumns))
	})

	t.Run("absent_column_fails", func(t *testing.T) {
		t.Parallel()

		var stats Stats
		_, err := DecodeCatalog([]byte(`{"song_id": "S1", "title": "T"}`), &stats)
		require.NoError(t, err)
		stats.Records++

		err = stats.CheckSchema("catalog", []string{"song_id", "title", "artist_id"})
		require.ErrorIs(t, err, ErrSchemaMismatch)
		require.Contains(t, err.Error(), "artist_id: absent")
	})

	t.Run("all_values_wrong_type_fails", func(t *testing.T) {
		t.Parallel()

		var stats Stats
		for range 3 {
			_, err := DecodeCatalog([]byte(`{"song_id": "S1", "year": "x"}`), &stats)
			require.Error(t, err)
			stats.Skipped++
		}

		err := stats.CheckSchema("catalog", []string{"song_id", "year"})
		require.ErrorIs(t, err, ErrSchemaMismatch)
		require.Contains(t, err.Error(), "year: wrong type in all 3 values")
	})

	t.Run("some_values_wrong_type_passes", func(t *testing.T) {
		t.Parallel()

		var stats Stats
		_, err := DecodeCatalog([]byte(`{"song_id": "S1", "year": "x"}`), &stats)
		require.Error(t, err)
		stats.Skipped++
		_, err = DecodeCatalog([]byte(`{"song_id": "S2", "year": 2001}`), &stats)
		require.NoError(t, err)
		stats.Records++

		require.NoError(t, stats.CheckSchema("catalog", []string{"song_id", "year"}))
	})

	t.Run("null_only_column_passes", func(t *testing.T) {
		t.Parallel()

		var stats Stats
		_, err := DecodeCatalog([]byte(`{"song_id": "S1", "artist_latitude": null}`), &stats)
		require.NoError(t, err)
		stats.Records++

		require.NoError(t, stats.CheckSchema("catalog", []string{"song_id", "artist_latitude"}))
	})
}

func TestPlaylake_Records_RecordError(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := error(&RecordError{Key: "log_data/2018/11/a.json", Line: 7, Err: cause})
	require.ErrorIs(t, err, ErrMalformedRecord)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "log_data/2018/11/a.json:7: boom", err.Error())

	var recErr *RecordError
	require.ErrorAs(t, err, &recErr)
	require.Equal(t, 7, recErr.Line)
}
