package index

// kmeans clusters vectors into at most k groups with squared L2 distance.
// Initial centroids are spread uniformly over the input so training is
// deterministic. k is capped at len(vectors). Empty clusters keep their
// previous centroid.
func kmeans(vectors [][]float32, k, maxIter int) [][]float32 {
	n := len(vectors)
	if n == 0 || k <= 0 {
		return nil
	}
	if k > n {
		k = n
	}
	if maxIter <= 0 {
		maxIter = DEFAULT_MAX_KMEANS_ITER
	}
	dim := len(vectors[0])

	centroids := make([][]float32, k)
	for i := range centroids {
		centroids[i] = append([]float32(nil), vectors[i*n/k]...)
	}

	assign := make([]int, n)
	for i := range assign {
		assign[i] = -1
	}

	sums := make([][]float64, k)
	for i := range sums {
		sums[i] = make([]float64, dim)
	}
	counts := make([]int, k)

	for iter := 0; iter < maxIter; iter++ {
		changed := 0
		for i, v := range vectors {
			best := nearestL2(centroids, v)
			if best != assign[i] {
				assign[i] = best
				changed++
			}
		}
		if changed == 0 {
			break
		}

		for c := range sums {
			clear(sums[c])
			counts[c] = 0
		}
		for i, v := range vectors {
			c := assign[i]
			counts[c]++
			for d, x := range v {
				sums[c][d] += float64(x)
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = float32(sums[c][d] / float64(counts[c]))
			}
		}
	}
	return centroids
}

func nearestL2(centroids [][]float32, v []float32) int {
	best, bestDist := 0, l2Squared(v, centroids[0])
	for c := 1; c < len(centroids); c++ {
		if d := l2Squared(v, centroids[c]); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
