package db

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docindex/internal/config"
	"docindex/internal/embedding"
	"docindex/internal/index"
	pkgerrors "docindex/pkg/errors"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	conf := config.Default()
	conf.DataDir = t.TempDir()
	conf.Embedding.Dimension = 16
	conf.Embedding.MaxSeqLength = 32
	conf.SnippetLength = 12
	return conf
}

func openTestDB(t *testing.T, conf *config.Config, opts ...embedding.RegistryOption) *DB {
	t.Helper()
	db := &DB{}
	require.NoError(t, db.Open(context.Background(), conf, opts...))
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(f float64) *float64 { return &f }

func resultIDs(resp *SearchResponse) []string {
	ids := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		ids[i] = r.ID
	}
	return ids
}

func TestOpenLocksDataDirectory(t *testing.T) {
	conf := testConfig(t)
	db := openTestDB(t, conf)

	other := &DB{}
	err := other.Open(context.Background(), conf)
	assert.ErrorIs(t, err, pkgerrors.ErrPersistence)

	require.NoError(t, db.Close())
	require.NoError(t, other.Open(context.Background(), conf))
	assert.NoError(t, other.Close())
	assert.NoError(t, other.Close())
}

func TestCreateIndexDefaults(t *testing.T) {
	db := openTestDB(t, testConfig(t))
	ctx := context.Background()

	// dense defaults come from the configuration, the dimension from the embedder
	cfg, err := db.CreateIndex(ctx, &CreateIndexOptions{Name: "dense"})
	require.NoError(t, err)
	assert.Equal(t, index.FLATIndex, cfg.IndexType)
	assert.Equal(t, index.CosSpace, cfg.SpaceType)
	assert.Equal(t, 16, cfg.Dimension)
	assert.Equal(t, "all-MiniLM-L6-v2", cfg.EmbeddingModel)
	assert.Equal(t, "local", cfg.EmbeddingBackend)

	cfg, err = db.CreateIndex(ctx, &CreateIndexOptions{Name: "ivf", IndexType: "ivf_flat", DistanceMetric: "l2", Dimension: 4})
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.NList)
	assert.Equal(t, 10, cfg.NProbe)
	assert.Equal(t, index.L2Space, cfg.SpaceType)

	cfg, err = db.CreateIndex(ctx, &CreateIndexOptions{Name: "words", IndexType: "bm25", B: ptr(0)})
	require.NoError(t, err)
	assert.Equal(t, 1.2, cfg.K1)
	assert.Equal(t, 0.0, cfg.B)
	assert.Equal(t, 0.25, cfg.Epsilon)

	_, err = db.CreateIndex(ctx, &CreateIndexOptions{Name: "words", IndexType: "bm25"})
	assert.ErrorIs(t, err, pkgerrors.ErrIndexExists)

	bad := []*CreateIndexOptions{
		{Name: "neg", Dimension: -1},
		{Name: "metric", DistanceMetric: "hamming"},
		{Name: "kind", IndexType: "hnsw"},
		{Name: "nlist", IndexType: "ivf_flat", Dimension: 2, NList: -3},
		{Name: "k1", IndexType: "bm25", K1: ptr(0)},
		{Name: "b", IndexType: "bm25", B: ptr(1.5)},
		{Name: "eps", IndexType: "bm25", Epsilon: ptr(-0.1)},
		{Name: "with space"},
		{Name: "sparse-embedder", EmbeddingBackend: "bm25"},
	}
	for _, opts := range bad {
		_, err := db.CreateIndex(ctx, opts)
		assert.ErrorIs(t, err, pkgerrors.ErrBadParameter, opts.Name)
	}

	_, err = db.CreateIndex(ctx, &CreateIndexOptions{Name: "remote", EmbeddingBackend: "remote"})
	assert.ErrorIs(t, err, pkgerrors.ErrMissingCredential)
	_, err = db.CreateIndex(ctx, &CreateIndexOptions{Name: "onnx", EmbeddingBackend: "onnx"})
	assert.ErrorIs(t, err, pkgerrors.ErrUnknownBackend)

	names := []string{}
	for _, s := range db.ListIndexes() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"dense", "ivf", "words"}, names)
}

func TestBM25RankingEndToEnd(t *testing.T) {
	db := openTestDB(t, testConfig(t))
	ctx := context.Background()

	_, err := db.CreateIndex(ctx, &CreateIndexOptions{Name: "bm", IndexType: "bm25", K1: ptr(1.2), B: ptr(0.75), Epsilon: ptr(0.25)})
	require.NoError(t, err)

	_, err = db.Search(ctx, &SearchOptions{IndexName: "bm", QueryText: "quick", K: 3})
	assert.ErrorIs(t, err, pkgerrors.ErrEmptyCorpus)

	res, err := db.AddDocuments(ctx, "bm", []*Document{
		{ID: "a", Content: "the quick brown fox"},
		{ID: "b", Content: "quick brown dogs"},
		{ID: "c", Content: "lazy dog sleeps"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, []string{"a", "b", "c"}, res.IDs)

	resp, err := db.Search(ctx, &SearchOptions{IndexName: "bm", QueryText: "quick fox", K: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, resultIDs(resp))
	assert.Greater(t, resp.Results[0].Distance, resp.Results[1].Distance)
	assert.Equal(t, 0.0, resp.Results[2].Distance)
	assert.Equal(t, "the quick br...", resp.Results[0].Content)
	assert.Equal(t, map[string]any{}, resp.Results[0].Metadata)
	assert.GreaterOrEqual(t, resp.QueryTimeMs, 0.0)

	// no padding when k exceeds the corpus
	resp, err = db.Search(ctx, &SearchOptions{IndexName: "bm", QueryText: "dog", K: 10})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)

	_, err = db.Search(ctx, &SearchOptions{IndexName: "bm", QueryVector: []float32{1}, K: 3})
	assert.ErrorIs(t, err, pkgerrors.ErrQueryKindMismatch)
	_, err = db.Search(ctx, &SearchOptions{IndexName: "bm", K: 3})
	assert.ErrorIs(t, err, pkgerrors.ErrMissingQueryText)
	_, err = db.AddDocuments(ctx, "bm", []*Document{{ID: "v", Content: "x", Vector: []float32{1}}})
	assert.ErrorIs(t, err, pkgerrors.ErrBadParameter)
}

func TestFlatSearchEndToEnd(t *testing.T) {
	db := openTestDB(t, testConfig(t))
	ctx := context.Background()

	_, err := db.CreateIndex(ctx, &CreateIndexOptions{Name: "flat", IndexType: "flat", DistanceMetric: "L2", Dimension: 2})
	require.NoError(t, err)

	resp, err := db.Search(ctx, &SearchOptions{IndexName: "flat", QueryVector: []float32{1, 1}, K: 2})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	_, err = db.AddDocuments(ctx, "flat", []*Document{
		{ID: "origin", Content: "origin point", Vector: []float32{0, 0}, Metadata: map[string]any{"axis": "none"}},
		{ID: "x", Content: "x axis", Vector: []float32{1, 0}},
		{ID: "y", Content: "y axis", Vector: []float32{0, 1}},
	})
	require.NoError(t, err)

	resp, err = db.Search(ctx, &SearchOptions{IndexName: "flat", QueryVector: []float32{0.9, 0.1}, K: 2})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "x", resp.Results[0].ID)
	assert.InDelta(t, 0.02, resp.Results[0].Distance, 1e-6)
	assert.Equal(t, "origin", resp.Results[1].ID)
	assert.InDelta(t, 0.82, resp.Results[1].Distance, 1e-6)
	assert.Equal(t, map[string]any{"axis": "none"}, resp.Results[1].Metadata)

	tests := []struct {
		name string
		opts SearchOptions
		want error
	}{
		{"no query", SearchOptions{IndexName: "flat", K: 1}, pkgerrors.ErrMissingQuery},
		{"both queries", SearchOptions{IndexName: "flat", QueryVector: []float32{1, 0}, QueryText: "x", K: 1}, pkgerrors.ErrBadParameter},
		{"k zero", SearchOptions{IndexName: "flat", QueryVector: []float32{1, 0}}, pkgerrors.ErrBadParameter},
		{"k too large", SearchOptions{IndexName: "flat", QueryVector: []float32{1, 0}, K: 101}, pkgerrors.ErrBadParameter},
		{"wrong dimension", SearchOptions{IndexName: "flat", QueryVector: []float32{1, 0, 0}, K: 1}, pkgerrors.ErrDimensionMismatch},
		{"unknown index", SearchOptions{IndexName: "nope", QueryVector: []float32{1, 0}, K: 1}, pkgerrors.ErrIndexNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.Search(ctx, &tt.opts)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSearchDistanceStaysEncodable(t *testing.T) {
	db := openTestDB(t, testConfig(t))
	ctx := context.Background()

	_, err := db.CreateIndex(ctx, &CreateIndexOptions{Name: "huge", IndexType: "flat", DistanceMetric: "L2", Dimension: 1})
	require.NoError(t, err)
	_, err = db.AddDocuments(ctx, "huge", []*Document{{ID: "far", Content: "far away", Vector: []float32{3e38}}})
	require.NoError(t, err)

	resp, err := db.Search(ctx, &SearchOptions{IndexName: "huge", QueryVector: []float32{-3e38}, K: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "far", resp.Results[0].ID)
	assert.Equal(t, float64(math.MaxFloat32), resp.Results[0].Distance)

	_, err = json.Marshal(resp)
	assert.NoError(t, err)
}

func TestAddDocumentsEmbedsText(t *testing.T) {
	db := openTestDB(t, testConfig(t))
	ctx := context.Background()

	_, err := db.CreateIndex(ctx, &CreateIndexOptions{Name: "notes", DistanceMetric: "COSINE"})
	require.NoError(t, err)

	res, err := db.AddDocuments(ctx, "notes", []*Document{
		{Content: "golang concurrency patterns"},
		{ID: "garden", Content: "planting tomatoes in spring"},
	})
	require.NoError(t, err)
	require.Len(t, res.IDs, 2)
	assert.Len(t, res.IDs[0], 36) // generated uuid
	assert.Equal(t, "garden", res.IDs[1])

	doc, err := db.GetDocument("notes", res.IDs[0])
	require.NoError(t, err)
	assert.Equal(t, "golang concurrency patterns", doc.Content)
	require.Len(t, doc.Vector, 16)

	// the stored vector is exactly what the embedder produces for the text
	emb, err := db.GetEmbeddings(ctx, []string{"golang concurrency patterns"}, "", "")
	require.NoError(t, err)
	assert.Equal(t, emb.Embeddings[0], doc.Vector)

	resp, err := db.Search(ctx, &SearchOptions{IndexName: "notes", QueryText: "golang concurrency patterns", K: 2})
	require.NoError(t, err)
	assert.Equal(t, res.IDs[0], resp.Results[0].ID)
	assert.InDelta(t, 1.0, resp.Results[0].Distance, 1e-5)

	_, err = db.AddDocuments(ctx, "notes", []*Document{{ID: "ok", Content: "fine"}, {ID: "empty", Content: "  "}})
	assert.ErrorIs(t, err, pkgerrors.ErrEmptyContent)
	_, err = db.GetDocument("notes", "ok")
	assert.ErrorIs(t, err, pkgerrors.ErrDocumentNotFound)

	_, err = db.AddDocuments(ctx, "notes", []*Document{{ID: "short", Content: "text", Vector: []float32{1, 2}}})
	assert.ErrorIs(t, err, pkgerrors.ErrDimensionMismatch)
	_, err = db.AddDocuments(ctx, "notes", nil)
	assert.ErrorIs(t, err, pkgerrors.ErrBadParameter)
	_, err = db.AddDocuments(ctx, "missing", []*Document{{Content: "x"}})
	assert.ErrorIs(t, err, pkgerrors.ErrIndexNotFound)
}

func TestGetDocumentRoundTrip(t *testing.T) {
	db := openTestDB(t, testConfig(t))
	ctx := context.Background()

	_, err := db.CreateIndex(ctx, &CreateIndexOptions{Name: "docs", IndexType: "bm25"})
	require.NoError(t, err)
	in := &Document{ID: "d1", Content: "full content that is longer than any snippet", Metadata: map[string]any{"page": 3, "tags": []any{"x"}}}
	_, err = db.AddDocuments(ctx, "docs", []*Document{in})
	require.NoError(t, err)

	got, err := db.GetDocument("docs", "d1")
	require.NoError(t, err)
	assert.Equal(t, in.Content, got.Content)
	assert.Equal(t, in.Metadata, got.Metadata)

	_, err = db.GetDocument("docs", "d2")
	assert.ErrorIs(t, err, pkgerrors.ErrDocumentNotFound)
	_, err = db.GetDocument("nope", "d1")
	assert.ErrorIs(t, err, pkgerrors.ErrIndexNotFound)
}

func TestIVFSentinelsBecomeEmptyResults(t *testing.T) {
	db := openTestDB(t, testConfig(t))
	ctx := context.Background()

	_, err := db.CreateIndex(ctx, &CreateIndexOptions{Name: "ivf", IndexType: "ivf_flat", DistanceMetric: "L2", Dimension: 2, NList: 2, NProbe: 1})
	require.NoError(t, err)
	_, err = db.AddDocuments(ctx, "ivf", []*Document{
		{ID: "a", Content: "a", Vector: []float32{0, 0}},
		{ID: "b", Content: "b", Vector: []float32{0, 1}},
		{ID: "c", Content: "c", Vector: []float32{100, 100}},
		{ID: "d", Content: "d", Vector: []float32{100, 101}},
	})
	require.NoError(t, err)

	resp, err := db.Search(ctx, &SearchOptions{IndexName: "ivf", QueryVector: []float32{0, 0}, K: 4})
	require.NoError(t, err)
	require.Len(t, resp.Results, 4)
	assert.Equal(t, []string{"a", "b", "", ""}, resultIDs(resp))
	for _, r := range resp.Results[2:] {
		assert.Equal(t, "", r.Content)
		assert.Equal(t, map[string]any{}, r.Metadata)
		assert.Equal(t, math.MaxFloat32, r.Distance)
	}

	// probing every cell fills all slots
	resp, err = db.Search(ctx, &SearchOptions{IndexName: "ivf", QueryVector: []float32{0, 0}, K: 4, NProbe: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, resultIDs(resp))
}

func TestListDocuments(t *testing.T) {
	db := openTestDB(t, testConfig(t))
	ctx := context.Background()

	_, err := db.CreateIndex(ctx, &CreateIndexOptions{Name: "list", IndexType: "bm25"})
	require.NoError(t, err)
	var docs []*Document
	for i := 0; i < 5; i++ {
		docs = append(docs, &Document{ID: fmt.Sprintf("doc-%d", 4-i), Content: fmt.Sprintf("document number %d", i)})
	}
	_, err = db.AddDocuments(ctx, "list", docs)
	require.NoError(t, err)

	page, err := db.ListDocuments("list", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Documents, 2)
	// insertion order, not id order
	assert.Equal(t, "doc-3", page.Documents[0].ID)
	assert.Equal(t, "doc-2", page.Documents[1].ID)

	page, err = db.ListDocuments("list", 10, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Documents)
	assert.Equal(t, 5, page.Total)

	for _, bad := range [][2]int{{0, 0}, {1001, 0}, {10, -1}} {
		_, err := db.ListDocuments("list", bad[0], bad[1])
		assert.ErrorIs(t, err, pkgerrors.ErrBadParameter)
	}
	_, err = db.ListDocuments("nope", 10, 0)
	assert.ErrorIs(t, err, pkgerrors.ErrIndexNotFound)
}

func TestPersistenceAcrossRestart(t *testing.T) {
	conf := testConfig(t)
	ctx := context.Background()
	query := &SearchOptions{IndexName: "persist", QueryVector: []float32{0.3, -0.2, 0.5}, K: 4}

	db := &DB{}
	require.NoError(t, db.Open(ctx, conf))
	_, err := db.CreateIndex(ctx, &CreateIndexOptions{Name: "persist", IndexType: "flat", DistanceMetric: "IP", Dimension: 3})
	require.NoError(t, err)
	var docs []*Document
	for i := 0; i < 10; i++ {
		f := float32(i)
		docs = append(docs, &Document{
			ID:       fmt.Sprintf("id-%02d", 9-i),
			Content:  fmt.Sprintf("document %d", i),
			Vector:   []float32{f / 10, 1 - f/10, f * f / 100},
			Metadata: map[string]any{"n": float64(i)},
		})
	}
	_, err = db.AddDocuments(ctx, "persist", docs)
	require.NoError(t, err)
	wantPage, err := db.ListDocuments("persist", 100, 0)
	require.NoError(t, err)
	wantResp, err := db.Search(ctx, query)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened := openTestDB(t, conf)
	gotPage, err := reopened.ListDocuments("persist", 100, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, gotPage.Total)
	assert.Equal(t, wantPage.Documents, gotPage.Documents)

	gotResp, err := reopened.Search(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, wantResp.Results, gotResp.Results)
}

func TestDeleteIndex(t *testing.T) {
	db := openTestDB(t, testConfig(t))
	ctx := context.Background()

	_, err := db.CreateIndex(ctx, &CreateIndexOptions{Name: "tmp", IndexType: "bm25"})
	require.NoError(t, err)
	require.NoError(t, db.DeleteIndex("tmp"))
	assert.ErrorIs(t, db.DeleteIndex("tmp"), pkgerrors.ErrIndexNotFound)
	_, err = db.Search(ctx, &SearchOptions{IndexName: "tmp", QueryText: "x", K: 1})
	assert.ErrorIs(t, err, pkgerrors.ErrIndexNotFound)
}

func TestGetEmbeddings(t *testing.T) {
	db := openTestDB(t, testConfig(t))
	ctx := context.Background()

	res, err := db.GetEmbeddings(ctx, []string{"one", "two", "three"}, "", "")
	require.NoError(t, err)
	assert.Len(t, res.Embeddings, 3)
	assert.Equal(t, 16, res.Dimension)
	assert.Equal(t, "all-MiniLM-L6-v2", res.Model)
	assert.Equal(t, embedding.BackendLocal, res.Backend)

	_, err = db.GetEmbeddings(ctx, nil, "", "")
	assert.ErrorIs(t, err, pkgerrors.ErrBadParameter)
	_, err = db.GetEmbeddings(ctx, []string{"x"}, "", "tensorflow")
	assert.ErrorIs(t, err, pkgerrors.ErrUnknownBackend)
	_, err = db.GetEmbeddings(ctx, []string{"x"}, "", "remote")
	assert.ErrorIs(t, err, pkgerrors.ErrMissingCredential)
}

func TestRemoteEmbedderQueriedOncePerSearch(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		out := make([][]float32, len(req.Input))
		for i, text := range req.Input {
			out[i] = []float32{float32(len(text)), float32(strings.Count(text, "a")), 1}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	}))
	defer srv.Close()

	conf := testConfig(t)
	conf.Remote.APIKey = "key"
	conf.Remote.Endpoint = srv.URL
	db := openTestDB(t, conf, embedding.WithHTTPClient(srv.Client()))
	ctx := context.Background()

	cfg, err := db.CreateIndex(ctx, &CreateIndexOptions{Name: "remote", EmbeddingModel: "api-model", EmbeddingBackend: "remote", DistanceMetric: "L2"})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Dimension)

	_, err = db.AddDocuments(ctx, "remote", []*Document{{ID: "a", Content: "banana"}, {ID: "b", Content: "kiwi"}})
	require.NoError(t, err)

	before := calls.Load()
	resp, err := db.Search(ctx, &SearchOptions{IndexName: "remote", QueryText: "papaya", K: 2})
	require.NoError(t, err)
	assert.Equal(t, before+1, calls.Load())
	assert.Equal(t, []string{"a", "b"}, resultIDs(resp))
}

func TestHealth(t *testing.T) {
	db := openTestDB(t, testConfig(t))
	ctx := context.Background()

	_, err := db.CreateIndex(ctx, &CreateIndexOptions{Name: "h", IndexType: "bm25"})
	require.NoError(t, err)
	_, err = db.AddDocuments(ctx, "h", []*Document{{ID: "1", Content: "hello"}})
	require.NoError(t, err)

	h := db.Health()
	assert.Equal(t, "healthy", h.Status)
	require.Len(t, h.Indexes, 1)
	assert.Equal(t, 1, h.Indexes[0].NumDocuments)
	assert.Equal(t, index.BM25Index, h.Indexes[0].IndexType)
	assert.Empty(t, h.Embedders)
	assert.Equal(t, db.Config().DataDir, h.Config["data_dir"])
	assert.Equal(t, false, h.Config["api_key_set"])
}
