package embedding

import (
	"context"
	"fmt"

	pkgerrors "docindex/pkg/errors"
)

// bm25Embedder lets lexical indices name an embedder like dense ones do.
// It never produces vectors.
type bm25Embedder struct {
	model string
}

func (e *bm25Embedder) Encode(context.Context, []string, int) ([][]float32, error) {
	return nil, fmt.Errorf("%w: the bm25 backend does not produce vectors", pkgerrors.ErrBadParameter)
}

func (e *bm25Embedder) Dimension(context.Context) (int, error) {
	return 0, fmt.Errorf("%w: the bm25 backend has no vector dimension", pkgerrors.ErrBadParameter)
}

func (e *bm25Embedder) ModelName() string { return e.model }

func (e *bm25Embedder) Backend() Backend { return BackendBM25 }

func (e *bm25Embedder) Close() error { return nil }
