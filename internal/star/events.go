package star

import (
	"cmp"
	"slices"
	"time"

	"github.com/malbeclabs/playlake/internal/records"
)

// NormalizeEvents keeps song play events and converts their millisecond
// timestamps to UTC times. Seq is the index of the event in evs.
func NormalizeEvents(evs []records.EventRecord) []NormalizedEvent {
	out := make([]NormalizedEvent, 0, len(evs))
	for i := range evs {
		e := &evs[i]
		if !e.Page.Valid || e.Page.V != records.PageNextSong {
			continue
		}
		out = append(out, NormalizedEvent{
			Seq:       i,
			TS:        e.TS,
			StartTime: time.UnixMilli(e.TS).UTC(),
			UserID:    e.UserID,
			FirstName: e.FirstName,
			LastName:  e.LastName,
			Gender:    e.Gender,
			Level:     e.Level,
			Song:      e.Song,
			Artist:    e.Artist,
			SessionID: e.SessionID,
			Location:  e.Location,
			UserAgent: e.UserAgent,
		})
	}
	return out
}

// ResolveUsers returns one row per user id taken from that user's latest
// event. Events at the same timestamp resolve to the lowest session id, with
// null sessions first, then to the earliest event in input order.
func ResolveUsers(evs []NormalizedEvent) []UserDim {
	latest := make(map[int64]*NormalizedEvent)
	for i := range evs {
		e := &evs[i]
		if !e.UserID.Valid {
			continue
		}
		cur, ok := latest[e.UserID.V]
		if !ok || newerUserState(e, cur) {
			latest[e.UserID.V] = e
		}
	}

	out := make([]UserDim, 0, len(latest))
	for id, e := range latest {
		out = append(out, UserDim{
			UserID:    id,
			FirstName: e.FirstName,
			LastName:  e.LastName,
			Gender:    e.Gender,
			Level:     e.Level,
		})
	}
	slices.SortFunc(out, func(a, b UserDim) int { return cmp.Compare(a.UserID, b.UserID) })
	return out
}

func newerUserState(e, cur *NormalizedEvent) bool {
	if e.TS != cur.TS {
		return e.TS > cur.TS
	}
	if c := compareNullInt(e.SessionID, cur.SessionID); c != 0 {
		return c < 0
	}
	return e.Seq < cur.Seq
}

// BuildTimeDim returns one row per distinct event start time, sorted by time.
func BuildTimeDim(evs []NormalizedEvent) []TimeDim {
	seen := make(map[int64]struct{}, len(evs))
	out := make([]TimeDim, 0, len(evs))
	for i := range evs {
		ts := evs[i].StartTime.UnixMilli()
		if _, ok := seen[ts]; ok {
			continue
		}
		seen[ts] = struct{}{}
		out = append(out, NewTimeDim(evs[i].StartTime))
	}
	slices.SortFunc(out, func(a, b TimeDim) int { return a.StartTime.Compare(b.StartTime) })
	return out
}

// NewTimeDim breaks t down into its UTC calendar fields.
func NewTimeDim(t time.Time) TimeDim {
	t = t.UTC()
	_, week := t.ISOWeek()
	return TimeDim{
		StartTime: t,
		Hour:      t.Hour(),
		Day:       t.Day(),
		Week:      week,
		Month:     int(t.Month()),
		Year:      t.Year(),
		Weekday:   int(t.Weekday()) + 1,
	}
}
