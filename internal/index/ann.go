package index

import (
	"cmp"
	"slices"
)

// neighbor is a candidate produced by an ANN structure.
type neighbor struct {
	pos  int64
	dist float32
}

// annIndex is the positional vector structure behind a VectorIndex. Vectors
// passed in are already prepared for the metric.
type annIndex interface {
	add(pos int64, vec []float32)
	replace(pos int64, vec []float32)
	vector(pos int64) []float32
	count() int
	search(query []float32, k, nprobe int) []neighbor
	clone() annIndex
}

// rank orders candidates best-first, breaking ties by ascending position, and
// keeps at most k of them.
func rank(cands []neighbor, space SpaceType, k int) []neighbor {
	slices.SortFunc(cands, func(a, b neighbor) int {
		if a.dist != b.dist {
			if better(a.dist, b.dist, space) {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.pos, b.pos)
	})
	if len(cands) > k {
		cands = cands[:k]
	}
	return cands
}
