package records

import (
	"bytes"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

var (
	// CatalogColumns are the fields every catalog dataset must carry.
	CatalogColumns = []string{
		"song_id", "title", "artist_id", "artist_name", "artist_location",
		"artist_latitude", "artist_longitude", "year", "duration",
	}

	// EventColumns are the fields every event dataset must carry.
	EventColumns = []string{
		"ts", "page", "userId", "firstName", "lastName", "gender", "level",
		"song", "artist", "sessionId", "location", "userAgent",
	}
)

var jsonNull = []byte("null")

type columnStats struct {
	Present int
	Valid   int
	Invalid int
}

// Stats summarizes one dataset read.
type Stats struct {
	Files   int
	Records int
	Skipped int

	columns map[string]columnStats
}

func (s *Stats) column(name string) columnStats {
	if s.columns == nil {
		return columnStats{}
	}
	return s.columns[name]
}

func (s *Stats) observe(name string, fn func(*columnStats)) {
	if s.columns == nil {
		s.columns = make(map[string]columnStats)
	}
	c := s.columns[name]
	fn(&c)
	s.columns[name] = c
}

func (s *Stats) merge(o Stats) {
	s.Files += o.Files
	s.Records += o.Records
	s.Skipped += o.Skipped
	for name, oc := range o.columns {
		s.observe(name, func(c *columnStats) {
			c.Present += oc.Present
			c.Valid += oc.Valid
			c.Invalid += oc.Invalid
		})
	}
}

// CheckSchema reports ErrSchemaMismatch when a column never appears in the
// dataset, or when every non-null occurrence had the wrong type. An empty
// dataset always passes.
func (s *Stats) CheckSchema(dataset string, columns []string) error {
	if s.Records+s.Skipped == 0 {
		return nil
	}
	var problems []string
	for _, name := range columns {
		c := s.column(name)
		switch {
		case c.Present == 0:
			problems = append(problems, fmt.Sprintf("%s: absent", name))
		case c.Valid == 0 && c.Invalid > 0:
			problems = append(problems, fmt.Sprintf("%s: wrong type in all %d values", name, c.Invalid))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s dataset: %s", ErrSchemaMismatch, dataset, strings.Join(problems, ", "))
}

// object decodes typed fields out of one JSON line and tracks column stats.
// The first type error is kept and returned by err.
type object struct {
	fields map[string]json.RawMessage
	stats  *Stats
	first  error
}

func parseObject(line []byte, stats *Stats) (*object, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("invalid json: expected object")
	}
	return &object{fields: fields, stats: stats}, nil
}

func (o *object) err() error {
	return o.first
}

func (o *object) fail(name string, raw json.RawMessage, want string) {
	o.stats.observe(name, func(c *columnStats) { c.Invalid++ })
	if o.first == nil {
		o.first = fmt.Errorf("field %q: expected %s, got %s", name, want, truncate(raw))
	}
}

func (o *object) raw(name string) (json.RawMessage, bool) {
	raw, ok := o.fields[name]
	if !ok {
		return nil, false
	}
	o.stats.observe(name, func(c *columnStats) { c.Present++ })
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, jsonNull) {
		return nil, false
	}
	return raw, true
}

func (o *object) ok(name string) {
	o.stats.observe(name, func(c *columnStats) { c.Valid++ })
}

func (o *object) str(name string) sql.Null[string] {
	raw, ok := o.raw(name)
	if !ok {
		return sql.Null[string]{}
	}
	var v string
	if raw[0] != '"' || json.Unmarshal(raw, &v) != nil {
		o.fail(name, raw, "string")
		return sql.Null[string]{}
	}
	o.ok(name)
	return Valid(v)
}

func (o *object) number(name string) sql.Null[float64] {
	raw, ok := o.raw(name)
	if !ok {
		return sql.Null[float64]{}
	}
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		o.fail(name, raw, "number")
		return sql.Null[float64]{}
	}
	o.ok(name)
	return Valid(v)
}

func (o *object) integer(name string) sql.Null[int64] {
	raw, ok := o.raw(name)
	if !ok {
		return sql.Null[int64]{}
	}
	v, ok := parseInt(string(raw))
	if !ok {
		o.fail(name, raw, "integer")
		return sql.Null[int64]{}
	}
	o.ok(name)
	return Valid(v)
}

// integerOrString accepts an integer or a string. A string that does not
// hold an integer, including the empty string, is null.
func (o *object) integerOrString(name string) sql.Null[int64] {
	raw, ok := o.raw(name)
	if !ok {
		return sql.Null[int64]{}
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			o.fail(name, raw, "integer or string")
			return sql.Null[int64]{}
		}
		o.ok(name)
		v, ok := parseInt(strings.TrimSpace(s))
		if !ok {
			return sql.Null[int64]{}
		}
		return Valid(v)
	}
	v, ok := parseInt(string(raw))
	if !ok {
		o.fail(name, raw, "integer or string")
		return sql.Null[int64]{}
	}
	o.ok(name)
	return Valid(v)
}

// parseInt accepts integral JSON numbers, including forms like 1.0 or 1e3.
func parseInt(s string) (int64, bool) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

func truncate(raw json.RawMessage) string {
	const limit = 32
	if len(raw) > limit {
		return string(raw[:limit]) + "..."
	}
	return string(raw)
}

// DecodeCatalog decodes one catalog line.
func DecodeCatalog(line []byte, stats *Stats) (CatalogRecord, error) {
	o, err := parseObject(line, stats)
	if err != nil {
		return CatalogRecord{}, err
	}
	rec := CatalogRecord{
		SongID:          o.str("song_id"),
		Title:           o.str("title"),
		ArtistID:        o.str("artist_id"),
		ArtistName:      o.str("artist_name"),
		ArtistLocation:  o.str("artist_location"),
		ArtistLatitude:  o.number("artist_latitude"),
		ArtistLongitude: o.number("artist_longitude"),
		Year:            o.integer("year"),
		Duration:        o.number("duration"),
	}
	return rec, o.err()
}

// DecodeEvent decodes one event line. A missing or null ts is an error.
func DecodeEvent(line []byte, stats *Stats) (EventRecord, error) {
	o, err := parseObject(line, stats)
	if err != nil {
		return EventRecord{}, err
	}
	ts := o.integer("ts")
	rec := EventRecord{
		TS:        ts.V,
		Page:      o.str("page"),
		UserID:    o.integerOrString("userId"),
		FirstName: o.str("firstName"),
		LastName:  o.str("lastName"),
		Gender:    o.str("gender"),
		Level:     o.str("level"),
		Song:      o.str("song"),
		Artist:    o.str("artist"),
		SessionID: o.integer("sessionId"),
		Location:  o.str("location"),
		UserAgent: o.str("userAgent"),
	}
	if err := o.err(); err != nil {
		return EventRecord{}, err
	}
	if !ts.Valid {
		return EventRecord{}, fmt.Errorf("field %q: required", "ts")
	}
	return rec, nil
}
