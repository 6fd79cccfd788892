package embedding

import "math"

// value given to padded positions before max pooling
const maskedValue = -1e9

func pool(hidden [][]float32, mask []bool, strategy string) []float32 {
	switch strategy {
	case PoolingCLS:
		return clsPool(hidden)
	case PoolingMax:
		return maxPool(hidden, mask)
	default:
		return meanPool(hidden, mask)
	}
}

// meanPool averages the token states the mask marks as valid.
func meanPool(hidden [][]float32, mask []bool) []float32 {
	out := make([]float32, len(hidden[0]))
	count := 0
	for p, h := range hidden {
		if !mask[p] {
			continue
		}
		count++
		for j, v := range h {
			out[j] += v
		}
	}
	if count == 0 {
		return out
	}
	for j := range out {
		out[j] /= float32(count)
	}
	return out
}

func clsPool(hidden [][]float32) []float32 {
	out := make([]float32, len(hidden[0]))
	copy(out, hidden[0])
	return out
}

// maxPool takes the per-dimension maximum with padded positions forced to a
// large negative value.
func maxPool(hidden [][]float32, mask []bool) []float32 {
	out := make([]float32, len(hidden[0]))
	for j := range out {
		out[j] = maskedValue
	}
	for p, h := range hidden {
		for j, v := range h {
			if !mask[p] {
				v = maskedValue
			}
			if v > out[j] {
				out[j] = v
			}
		}
	}
	return out
}

func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
