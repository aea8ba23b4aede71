package star

import (
	"cmp"
	"context"
	"slices"
	"sort"
	"strings"

	"github.com/alitto/pond/v2"
)

// oversample is the number of sample rows taken per bucket when choosing
// splitters.
const oversample = 32

// compareFacts is the total order songplay ids follow.
func compareFacts(a, b *SongplayFact) int {
	if c := a.StartTime.Compare(b.StartTime); c != 0 {
		return c
	}
	if c := cmp.Compare(a.seq, b.seq); c != 0 {
		return c
	}
	return strings.Compare(a.SongID, b.SongID)
}

// rankFacts returns facts sorted by compareFacts with SongplayID set to the
// 1-based position. The sort is range partitioned: rows are split into
// ordered buckets by splitters drawn from a sample, buckets are sorted in
// parallel, and each bucket numbers its rows from its prefix offset.
func rankFacts(ctx context.Context, pool pond.Pool, facts []SongplayFact, buckets int) ([]SongplayFact, error) {
	n := len(facts)
	if n == 0 {
		return []SongplayFact{}, nil
	}
	buckets = min(max(buckets, 1), n)
	splitters := chooseSplitters(facts, buckets)
	chunks := chunkRanges(n, buckets)

	// Bucket assignment.
	assign := make([]int, n)
	group := pool.NewGroupContext(ctx)
	for _, r := range chunks {
		group.SubmitErr(func() error {
			for i := r.lo; i < r.hi; i++ {
				assign[i] = bucketOf(splitters, &facts[i])
			}
			return ctx.Err()
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	counts := make([]int, len(splitters)+1)
	for _, b := range assign {
		counts[b]++
	}
	parts := make([][]SongplayFact, len(counts))
	for b, c := range counts {
		parts[b] = make([]SongplayFact, 0, c)
	}
	for i, b := range assign {
		parts[b] = append(parts[b], facts[i])
	}

	// Per-bucket sort.
	group = pool.NewGroupContext(ctx)
	for _, part := range parts {
		if len(part) == 0 {
			continue
		}
		group.SubmitErr(func() error {
			slices.SortFunc(part, func(a, b SongplayFact) int { return compareFacts(&a, &b) })
			return ctx.Err()
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	offsets := make([]int, len(parts))
	for b := 1; b < len(parts); b++ {
		offsets[b] = offsets[b-1] + len(parts[b-1])
	}

	// Local ranks.
	out := make([]SongplayFact, n)
	group = pool.NewGroupContext(ctx)
	for b, part := range parts {
		if len(part) == 0 {
			continue
		}
		group.SubmitErr(func() error {
			base := offsets[b]
			for j := range part {
				f := part[j]
				f.SongplayID = int64(base + j + 1)
				out[base+j] = f
			}
			return ctx.Err()
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// chooseSplitters picks buckets-1 ascending rows from an evenly strided
// sample of facts. Bucket b holds rows r with splitters[b-1] <= r <
// splitters[b].
func chooseSplitters(facts []SongplayFact, buckets int) []SongplayFact {
	if buckets <= 1 {
		return nil
	}
	size := min(len(facts), buckets*oversample)
	sample := make([]SongplayFact, size)
	for i := range sample {
		sample[i] = facts[i*len(facts)/size]
	}
	slices.SortFunc(sample, func(a, b SongplayFact) int { return compareFacts(&a, &b) })

	splitters := make([]SongplayFact, 0, buckets-1)
	for b := 1; b < buckets; b++ {
		splitters = append(splitters, sample[b*size/buckets])
	}
	return splitters
}

func bucketOf(splitters []SongplayFact, f *SongplayFact) int {
	return sort.Search(len(splitters), func(i int) bool {
		return compareFacts(f, &splitters[i]) < 0
	})
}
