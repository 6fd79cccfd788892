package index

// flatANN performs exact brute-force search over vectors stored contiguously
// in position order.
type flatANN struct {
	Dim   int
	Space SpaceType
	Data  []float32
}

func newFlatANN(dim int, space SpaceType) *flatANN {
	return &flatANN{
		Dim:   dim,
		Space: space,
		Data:  make([]float32, 0),
	}
}

// add appends vec; dense positions are contiguous so pos equals count().
func (f *flatANN) add(_ int64, vec []float32) {
	f.Data = append(f.Data, vec...)
}

func (f *flatANN) replace(pos int64, vec []float32) {
	copy(f.Data[int(pos)*f.Dim:], vec)
}

func (f *flatANN) vector(pos int64) []float32 {
	start := int(pos) * f.Dim
	return f.Data[start : start+f.Dim]
}

func (f *flatANN) count() int {
	if f.Dim == 0 {
		return 0
	}
	return len(f.Data) / f.Dim
}

func (f *flatANN) search(query []float32, k, _ int) []neighbor {
	n := f.count()
	cands := make([]neighbor, n)
	for i := 0; i < n; i++ {
		cands[i] = neighbor{pos: int64(i), dist: distance(query, f.vector(int64(i)), f.Space)}
	}
	return rank(cands, f.Space, k)
}

func (f *flatANN) clone() annIndex {
	out := *f
	out.Data = append(make([]float32, 0, len(f.Data)), f.Data...)
	return &out
}
