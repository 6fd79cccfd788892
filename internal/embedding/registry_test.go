package embedding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docindex/internal/config"
	pkgerrors "docindex/pkg/errors"
)

func testConfig() *config.Config {
	conf := config.Default()
	conf.Embedding.Dimension = 8
	conf.Embedding.MaxSeqLength = 16
	conf.Embedding.CacheSize = 16
	return conf
}

func TestRegistryDefaultsToLocal(t *testing.T) {
	reg := NewRegistry(testConfig())
	defer reg.Close()

	vecs, err := reg.Encode(context.Background(), []string{"a", "b"}, "", "", 0)
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 8)

	dim, err := reg.DimensionOf(context.Background(), "", "local")
	require.NoError(t, err)
	assert.Equal(t, 8, dim)

	assert.Equal(t, []HandleInfo{{Model: "all-MiniLM-L6-v2", Backend: BackendLocal, Dimension: 8}}, reg.Loaded())
}

func TestRegistryReusesHandles(t *testing.T) {
	reg := NewRegistry(testConfig())
	defer reg.Close()

	var wg sync.WaitGroup
	handles := make([]Embedder, 8)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := reg.Get("model-a", "local")
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()
	for _, h := range handles[1:] {
		assert.Same(t, handles[0], h)
	}

	other, err := reg.Get("model-b", "local")
	require.NoError(t, err)
	assert.NotSame(t, handles[0], other)
	assert.Len(t, reg.Loaded(), 2)
}

func TestRegistryErrors(t *testing.T) {
	reg := NewRegistry(testConfig())
	defer reg.Close()
	ctx := context.Background()

	_, err := reg.Encode(ctx, []string{"a"}, "m", "onnx", 0)
	assert.ErrorIs(t, err, pkgerrors.ErrUnknownBackend)

	_, err = reg.Encode(ctx, []string{"a"}, "m", "remote", 0)
	assert.ErrorIs(t, err, pkgerrors.ErrMissingCredential)

	_, err = reg.Encode(ctx, []string{"a"}, "m", "gemini", 0)
	assert.ErrorIs(t, err, pkgerrors.ErrMissingCredential)

	// failed constructions are not registered
	assert.Empty(t, reg.Loaded())

	h, err := reg.Get("bm25", "bm25")
	require.NoError(t, err)
	assert.Equal(t, BackendBM25, h.Backend())
	_, err = h.Encode(ctx, []string{"a"}, 0)
	assert.ErrorIs(t, err, pkgerrors.ErrBadParameter)
	_, err = reg.DimensionOf(ctx, "bm25", "bm25")
	assert.ErrorIs(t, err, pkgerrors.ErrBadParameter)
}

func TestRegistryRemoteBackend(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1,0,0]}]}`))
	}))
	defer srv.Close()

	conf := testConfig()
	conf.Remote.APIKey = "key"
	conf.Remote.Endpoint = srv.URL
	reg := NewRegistry(conf, WithHTTPClient(srv.Client()))
	defer reg.Close()

	for range 3 {
		vecs, err := reg.Encode(context.Background(), []string{"same query"}, "remote-model", "remote-api", 0)
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{1, 0, 0}}, vecs)
	}
	// repeated texts are served from the cache
	assert.Equal(t, int32(1), calls.Load())
}

func TestParseBackend(t *testing.T) {
	for in, want := range map[string]Backend{
		"local":             BackendLocal,
		"local-transformer": BackendLocal,
		"Remote":            BackendRemote,
		"remote-api":        BackendRemote,
		"gemini":            BackendGemini,
		"bm25":              BackendBM25,
	} {
		got, err := ParseBackend(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseBackend("sentence-piece")
	assert.ErrorIs(t, err, pkgerrors.ErrUnknownBackend)
}
