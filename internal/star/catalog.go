package star

import (
	"context"
	"fmt"

	"github.com/alitto/pond/v2"

	"github.com/malbeclabs/playlake/internal/records"
)

// BuildCatalogDims derives the songs and artists dimensions from catalog
// records. Records sharing an id collapse to one row whose attributes are the
// smallest non-null value seen for each column. Records without an id are
// excluded from that dimension.
func BuildCatalogDims(ctx context.Context, pool pond.Pool, recs []records.CatalogRecord) (CatalogDims, error) {
	n := pool.MaxConcurrency()

	items, err := groupFold(ctx, pool, recs, n,
		func(r *records.CatalogRecord) (string, bool) { return r.SongID.V, r.SongID.Valid },
		func(id string) ItemDim { return ItemDim{SongID: id} },
		func(d ItemDim, r *records.CatalogRecord) ItemDim {
			d.Title = minNull(d.Title, r.Title)
			d.ArtistID = minNull(d.ArtistID, r.ArtistID)
			d.Year = minNull(d.Year, r.Year)
			d.Duration = minNull(d.Duration, r.Duration)
			return d
		},
	)
	if err != nil {
		return CatalogDims{}, fmt.Errorf("failed to group songs: %w", err)
	}

	creators, err := groupFold(ctx, pool, recs, n,
		func(r *records.CatalogRecord) (string, bool) { return r.ArtistID.V, r.ArtistID.Valid },
		func(id string) CreatorDim { return CreatorDim{ArtistID: id} },
		func(d CreatorDim, r *records.CatalogRecord) CreatorDim {
			d.Name = minNull(d.Name, r.ArtistName)
			d.Location = minNull(d.Location, r.ArtistLocation)
			d.Latitude = minNull(d.Latitude, r.ArtistLatitude)
			d.Longitude = minNull(d.Longitude, r.ArtistLongitude)
			return d
		},
	)
	if err != nil {
		return CatalogDims{}, fmt.Errorf("failed to group artists: %w", err)
	}

	return CatalogDims{Items: items, Creators: creators}, nil
}
