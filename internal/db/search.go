package db

import (
	"context"
	"fmt"
	"time"

	"docindex/internal/embedding"
	"docindex/internal/index"
	pkgerrors "docindex/pkg/errors"
	"docindex/pkg/logger"
	"docindex/pkg/utils"
)

// SearchOptions is a search request. Exactly one of QueryVector and
// QueryText is set; BM25 indexes accept only QueryText.
type SearchOptions struct {
	IndexName   string    `json:"index_name"`
	QueryVector []float32 `json:"query_vector,omitempty"`
	QueryText   string    `json:"query_text,omitempty"`
	K           int       `json:"k"`
	NProbe      int       `json:"nprobe,omitempty"`
}

// SearchResult is one ranked document. Content is a snippet; Distance is the
// metric value for dense indexes and the BM25 score for lexical ones.
type SearchResult struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Distance float64        `json:"distance"`
}

type SearchResponse struct {
	Results     []SearchResult `json:"results"`
	QueryTimeMs float64        `json:"query_time_ms"`
}

// Search runs a query against one index. A text query on a dense index is
// embedded once with the index's embedder.
func (db *DB) Search(ctx context.Context, opts *SearchOptions) (*SearchResponse, error) {
	start := time.Now()
	idx, err := db.Indexes.GetIndex(opts.IndexName)
	if err != nil {
		return nil, err
	}
	if opts.K <= 0 || opts.K > index.MAX_K {
		return nil, fmt.Errorf("%w: k must be within [1, %d], got %d", pkgerrors.ErrBadParameter, index.MAX_K, opts.K)
	}
	cfg := idx.Config()
	q := &index.Query{Vector: opts.QueryVector, Text: opts.QueryText, K: opts.K, NProbe: opts.NProbe}

	if cfg.IndexType != index.BM25Index {
		switch {
		case opts.QueryVector == nil && opts.QueryText == "":
			return nil, pkgerrors.ErrMissingQuery
		case opts.QueryVector != nil && opts.QueryText != "":
			return nil, fmt.Errorf("%w: set only one of query_vector and query_text", pkgerrors.ErrBadParameter)
		case opts.QueryVector == nil:
			vecs, err := db.Embedders.Encode(ctx, []string{opts.QueryText}, cfg.EmbeddingModel, cfg.EmbeddingBackend, 1)
			if err != nil {
				return nil, err
			}
			q.Vector, q.Text = vecs[0], ""
		}
	}

	hits, err := idx.Search(q)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, len(hits))
	for i, hit := range hits {
		if hit.Document == nil {
			results[i] = SearchResult{Metadata: map[string]any{}, Distance: index.Worst(cfg.SpaceType)}
			continue
		}
		results[i] = SearchResult{
			ID:       hit.Document.ID,
			Content:  utils.Snippet(hit.Document.Content, db.conf.SnippetLength),
			Metadata: hit.Document.Metadata,
			Distance: hit.Score,
		}
		if results[i].Metadata == nil {
			results[i].Metadata = map[string]any{}
		}
	}

	elapsed := float64(time.Since(start).Microseconds()) / 1000
	logger.Debug("Search completed", "index", opts.IndexName, "k", opts.K, "results", len(results), "ms", elapsed)
	return &SearchResponse{Results: results, QueryTimeMs: elapsed}, nil
}

// EmbeddingsResult is the output of GetEmbeddings.
type EmbeddingsResult struct {
	Embeddings [][]float32       `json:"embeddings"`
	Dimension  int               `json:"dimension"`
	Model      string            `json:"model"`
	Backend    embedding.Backend `json:"backend"`
}

// GetEmbeddings encodes texts with (model, backend), defaulting to the
// configured embedder.
func (db *DB) GetEmbeddings(ctx context.Context, texts []string, model, backend string) (*EmbeddingsResult, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts must not be empty", pkgerrors.ErrBadParameter)
	}
	model, b, err := db.Embedders.Resolve(model, backend)
	if err != nil {
		return nil, err
	}
	vecs, err := db.Embedders.Encode(ctx, texts, model, string(b), db.conf.Embedding.BatchSize)
	if err != nil {
		return nil, err
	}
	return &EmbeddingsResult{Embeddings: vecs, Dimension: len(vecs[0]), Model: model, Backend: b}, nil
}
