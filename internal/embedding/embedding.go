package embedding

import (
	"context"
	"fmt"
	"strings"

	pkgerrors "docindex/pkg/errors"
)

// Backend names an embedder implementation.
type Backend string

const (
	BackendLocal  Backend = "local"
	BackendRemote Backend = "remote"
	BackendGemini Backend = "gemini"
	BackendBM25   Backend = "bm25"
)

// ParseBackend accepts the backend names used in configuration and requests.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "local-transformer", "local_transformer":
		return BackendLocal, nil
	case "remote", "remote-api", "remote_api", "api":
		return BackendRemote, nil
	case "gemini":
		return BackendGemini, nil
	case "bm25", "bm25-internal":
		return BackendBM25, nil
	}
	return "", fmt.Errorf("%w: %q", pkgerrors.ErrUnknownBackend, s)
}

// Embedder turns texts into fixed-length vectors. Implementations are safe
// for concurrent use.
type Embedder interface {
	// Encode returns one vector per text, in input order. batchSize bounds
	// how many texts go through the model at once; 0 uses the handle default.
	Encode(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
	Dimension(ctx context.Context) (int, error)
	ModelName() string
	Backend() Backend
	Close() error
}

// batches splits n items into [start, end) ranges of at most size items.
func batches(n, size int) [][2]int {
	if size <= 0 {
		size = n
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		out = append(out, [2]int{start, end})
	}
	return out
}
