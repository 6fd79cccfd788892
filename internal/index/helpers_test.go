package index

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestVectorIndex(t *testing.T, cfg IndexConfig) *VectorIndex {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "test"
	}
	if cfg.IndexType == "" {
		cfg.IndexType = FLATIndex
	}
	if cfg.IndexType == IVFFLATIndex {
		if cfg.NList == 0 {
			cfg.NList = 4
		}
		if cfg.NProbe == 0 {
			cfg.NProbe = 1
		}
	}
	require.NoError(t, cfg.Validate())
	return newVectorIndex(t.TempDir(), cfg)
}

func newTestBM25(t *testing.T) *BM25 {
	t.Helper()
	cfg := IndexConfig{Name: "lexical", IndexType: BM25Index, K1: DEFAULT_K1, B: DEFAULT_B, Epsilon: DEFAULT_EPSILON}
	require.NoError(t, cfg.Validate())
	return newBM25Index(t.TempDir(), cfg)
}

func vecDoc(id string, v ...float32) *Document {
	return &Document{ID: id, Content: "content of " + id, Vector: v}
}

func textDoc(id, content string) *Document {
	return &Document{ID: id, Content: content}
}

func randomDocs(r *rand.Rand, n, dim int, prefix string) []*Document {
	docs := make([]*Document, n)
	for i := range docs {
		v := make([]float32, dim)
		for d := range v {
			v[d] = r.Float32()*2 - 1
		}
		docs[i] = vecDoc(fmt.Sprintf("%s%03d", prefix, i), v...)
	}
	return docs
}

func hitIDs(hits []Hit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		if h.Document != nil {
			ids[i] = h.Document.ID
		}
	}
	return ids
}
