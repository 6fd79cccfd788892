package index

import (
	"cmp"
	"slices"
)

// ivfANN is an inverted-file index with flat per-cell storage. The coarse
// quantizer is trained once, on the first batch it sees.
type ivfANN struct {
	Dim       int
	Space     SpaceType
	NList     int
	Trained   bool
	Centroids [][]float32
	Lists     [][]int64 // cell -> positions
	Assign    []int32   // position -> cell
	Data      []float32 // vectors by position
}

func newIVFANN(dim int, space SpaceType, nlist int) *ivfANN {
	return &ivfANN{
		Dim:   dim,
		Space: space,
		NList: nlist,
		Data:  make([]float32, 0),
	}
}

// train learns the coarse quantizer. With fewer vectors than nlist the
// number of effective cells drops to the number of vectors.
func (v *ivfANN) train(vectors [][]float32) {
	if v.Trained || len(vectors) == 0 {
		return
	}
	v.Centroids = kmeans(vectors, v.NList, DEFAULT_MAX_KMEANS_ITER)
	v.Lists = make([][]int64, len(v.Centroids))
	v.Trained = true
}

func (v *ivfANN) effectiveNList() int {
	return len(v.Centroids)
}

// cell returns the cell a vector belongs to under the index metric.
func (v *ivfANN) cell(vec []float32) int {
	best, bestScore := 0, distance(vec, v.Centroids[0], v.Space)
	for c := 1; c < len(v.Centroids); c++ {
		if s := distance(vec, v.Centroids[c], v.Space); better(s, bestScore, v.Space) {
			best, bestScore = c, s
		}
	}
	return best
}

func (v *ivfANN) add(pos int64, vec []float32) {
	c := v.cell(vec)
	v.Lists[c] = append(v.Lists[c], pos)
	v.Assign = append(v.Assign, int32(c))
	v.Data = append(v.Data, vec...)
}

func (v *ivfANN) replace(pos int64, vec []float32) {
	old := v.Assign[pos]
	if i := slices.Index(v.Lists[old], pos); i >= 0 {
		v.Lists[old] = slices.Delete(v.Lists[old], i, i+1)
	}
	copy(v.Data[int(pos)*v.Dim:], vec)
	c := v.cell(vec)
	v.Lists[c] = append(v.Lists[c], pos)
	v.Assign[pos] = int32(c)
}

func (v *ivfANN) vector(pos int64) []float32 {
	start := int(pos) * v.Dim
	return v.Data[start : start+v.Dim]
}

func (v *ivfANN) count() int {
	return len(v.Assign)
}

// probe returns the nprobe cells closest to query, best first.
func (v *ivfANN) probe(query []float32, nprobe int) []int {
	type scored struct {
		cell  int
		score float32
	}
	cells := make([]scored, len(v.Centroids))
	for c, centroid := range v.Centroids {
		cells[c] = scored{c, distance(query, centroid, v.Space)}
	}
	slices.SortFunc(cells, func(a, b scored) int {
		if a.score != b.score {
			if better(a.score, b.score, v.Space) {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.cell, b.cell)
	})
	if nprobe > len(cells) {
		nprobe = len(cells)
	}
	out := make([]int, nprobe)
	for i := range out {
		out[i] = cells[i].cell
	}
	return out
}

// search scans the probed cells exactly. When they hold fewer than k vectors
// the result is padded with the not-found sentinel, up to the number of
// stored vectors.
func (v *ivfANN) search(query []float32, k, nprobe int) []neighbor {
	if !v.Trained || v.count() == 0 {
		return nil
	}
	if nprobe <= 0 {
		nprobe = DEFAULT_NPROBE
	}
	var cands []neighbor
	for _, c := range v.probe(query, nprobe) {
		for _, pos := range v.Lists[c] {
			cands = append(cands, neighbor{pos: pos, dist: distance(query, v.vector(pos), v.Space)})
		}
	}
	out := rank(cands, v.Space, k)

	want := min(k, v.count())
	for len(out) < want {
		out = append(out, neighbor{pos: notFound, dist: worst(v.Space)})
	}
	return out
}

func (v *ivfANN) clone() annIndex {
	out := *v
	out.Centroids = make([][]float32, len(v.Centroids))
	for i, c := range v.Centroids {
		out.Centroids[i] = append([]float32(nil), c...)
	}
	out.Lists = make([][]int64, len(v.Lists))
	for i, l := range v.Lists {
		out.Lists[i] = append([]int64(nil), l...)
	}
	out.Assign = append([]int32(nil), v.Assign...)
	out.Data = append(make([]float32, 0, len(v.Data)), v.Data...)
	return &out
}
