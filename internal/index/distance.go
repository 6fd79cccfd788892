package index

import "math"

// distance returns the raw score of b against a: squared L2 for L2Space,
// the dot product otherwise. Cosine inputs are expected to be normalized.
func distance(a, b []float32, space SpaceType) float32 {
	switch space {
	case IPSpace, CosSpace:
		return dot(a, b)
	default:
		return l2Squared(a, b)
	}
}

func dot(a, b []float32) float32 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return clamp(s)
}

func l2Squared(a, b []float32) float32 {
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return clamp(sum)
}

// clamp narrows s to float32 without overflowing to an infinity.
func clamp(s float64) float32 {
	switch {
	case s > math.MaxFloat32:
		return math.MaxFloat32
	case s < -math.MaxFloat32:
		return -math.MaxFloat32
	}
	return float32(s)
}

// better reports whether score x ranks before y under space.
func better(x, y float32, space SpaceType) bool {
	if space == L2Space {
		return x < y
	}
	return x > y
}

// worst is the score given to synthetic results.
func worst(space SpaceType) float32 {
	if space == L2Space {
		return math.MaxFloat32
	}
	return -math.MaxFloat32
}

func finite(v []float32) bool {
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return false
		}
	}
	return true
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// normalize returns a unit-length copy of v. A zero vector stays zero.
func normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	n := norm(v)
	if n == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// prepare copies v into the form stored by the ANN structure.
func prepare(v []float32, space SpaceType) []float32 {
	if space == CosSpace {
		return normalize(v)
	}
	return append([]float32(nil), v...)
}

// Worst returns the synthetic-result score for space.
func Worst(space SpaceType) float64 {
	return float64(worst(space))
}
