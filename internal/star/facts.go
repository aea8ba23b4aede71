package star

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"

	"github.com/alitto/pond/v2"
)

type joinKey struct {
	title  string
	artist string
}

type itemMatch struct {
	songID   string
	artistID string
}

// joinIndex maps (song title, artist name) to every song that has that title
// and whose artist has that name. Matches are ordered by song id.
func joinIndex(dims CatalogDims) map[joinKey][]itemMatch {
	names := make(map[string]string, len(dims.Creators))
	for _, c := range dims.Creators {
		if c.Name.Valid {
			names[c.ArtistID] = c.Name.V
		}
	}
	idx := make(map[joinKey][]itemMatch)
	for _, it := range dims.Items {
		if !it.Title.Valid || !it.ArtistID.Valid {
			continue
		}
		name, ok := names[it.ArtistID.V]
		if !ok {
			continue
		}
		k := joinKey{title: it.Title.V, artist: name}
		idx[k] = append(idx[k], itemMatch{songID: it.SongID, artistID: it.ArtistID.V})
	}
	return idx
}

// AssembleFacts joins song play events to the catalog by exact song title and
// artist name and emits one fact per match. Facts are numbered 1..N in start
// time order; facts with the same start time keep input order, and facts from
// the same event are ordered by song id.
func AssembleFacts(ctx context.Context, pool pond.Pool, evs []NormalizedEvent, dims CatalogDims, partitions int) ([]SongplayFact, error) {
	if partitions < 1 {
		partitions = 1
	}
	idx := joinIndex(dims)

	chunks := chunkRanges(len(evs), partitions)
	joined := make([][]SongplayFact, len(chunks))
	group := pool.NewGroupContext(ctx)
	for c, r := range chunks {
		group.SubmitErr(func() error {
			var out []SongplayFact
			for i := r.lo; i < r.hi; i++ {
				e := &evs[i]
				if !e.Song.Valid || !e.Artist.Valid {
					continue
				}
				for _, m := range idx[joinKey{title: e.Song.V, artist: e.Artist.V}] {
					out = append(out, newFact(e, m))
				}
			}
			joined[c] = out
			return ctx.Err()
		})
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("failed to join events: %w", err)
	}

	var facts []SongplayFact
	for _, part := range joined {
		facts = append(facts, part...)
	}

	ranked, err := rankFacts(ctx, pool, facts, partitions)
	if err != nil {
		return nil, fmt.Errorf("failed to assign songplay ids: %w", err)
	}
	return ranked, nil
}

func newFact(e *NormalizedEvent, m itemMatch) SongplayFact {
	return SongplayFact{
		StartTime: e.StartTime,
		UserID:    e.UserID,
		Level:     e.Level,
		SongID:    m.songID,
		ArtistID:  m.artistID,
		SessionID: e.SessionID,
		Location:  e.Location,
		UserAgent: e.UserAgent,
		Year:      e.StartTime.Year(),
		Month:     int(e.StartTime.Month()),
		seq:       e.Seq,
	}
}

type span struct {
	lo, hi int
}

// chunkRanges splits [0, n) into at most parts contiguous non-empty ranges.
func chunkRanges(n, parts int) []span {
	if n == 0 {
		return nil
	}
	parts = min(max(parts, 1), n)
	size := (n + parts - 1) / parts
	out := make([]span, 0, parts)
	for lo := 0; lo < n; lo += size {
		out = append(out, span{lo: lo, hi: min(lo+size, n)})
	}
	return out
}

// compareNullInt orders nulls before every value.
func compareNullInt(a, b sql.Null[int64]) int {
	switch {
	case a.Valid && b.Valid:
		return cmp.Compare(a.V, b.V)
	case a.Valid:
		return 1
	case b.Valid:
		return -1
	}
	return 0
}
