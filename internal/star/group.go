package star

import (
	"cmp"
	"context"
	"database/sql"
	"hash/maphash"
	"slices"

	"github.com/alitto/pond/v2"
)

// minNull folds v into acc keeping the smallest non-null value.
func minNull[T cmp.Ordered](acc, v sql.Null[T]) sql.Null[T] {
	if !v.Valid {
		return acc
	}
	if !acc.Valid || cmp.Less(v.V, acc.V) {
		return v
	}
	return acc
}

type keyed[K cmp.Ordered, A any] struct {
	key K
	acc A
}

// groupFold hash-partitions rows by key into n disjoint partitions, folds each
// partition on the pool, and returns one accumulator per key sorted by key.
// Rows whose key is absent are dropped.
func groupFold[R any, K cmp.Ordered, A any](
	ctx context.Context,
	pool pond.Pool,
	rows []R,
	n int,
	key func(*R) (K, bool),
	init func(K) A,
	fold func(A, *R) A,
) ([]A, error) {
	if n < 1 {
		n = 1
	}

	seed := maphash.MakeSeed()
	parts := make([][]int, n)
	for i := range rows {
		k, ok := key(&rows[i])
		if !ok {
			continue
		}
		p := maphash.Comparable(seed, k) % uint64(n)
		parts[p] = append(parts[p], i)
	}

	results := make([][]keyed[K, A], n)
	group := pool.NewGroupContext(ctx)
	for p, idx := range parts {
		if len(idx) == 0 {
			continue
		}
		group.SubmitErr(func() error {
			accs := make(map[K]A)
			for _, i := range idx {
				r := &rows[i]
				k, _ := key(r)
				a, ok := accs[k]
				if !ok {
					a = init(k)
				}
				accs[k] = fold(a, r)
			}
			out := make([]keyed[K, A], 0, len(accs))
			for k, a := range accs {
				out = append(out, keyed[K, A]{key: k, acc: a})
			}
			results[p] = out
			return ctx.Err()
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var all []keyed[K, A]
	for _, r := range results {
		all = append(all, r...)
	}
	slices.SortFunc(all, func(a, b keyed[K, A]) int {
		return cmp.Compare(a.key, b.key)
	})
	out := make([]A, len(all))
	for i, e := range all {
		out[i] = e.acc
	}
	return out, nil
}
