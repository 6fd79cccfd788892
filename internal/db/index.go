package db

import (
	"context"
	"fmt"

	"docindex/internal/embedding"
	"docindex/internal/index"
	pkgerrors "docindex/pkg/errors"
)

// CreateIndexOptions describes a new index. Zero values take the configured
// defaults; K1, B and Epsilon are pointers because zero is a valid b and
// epsilon.
type CreateIndexOptions struct {
	Name             string   `json:"name"`
	IndexType        string   `json:"index_type,omitempty"`
	DistanceMetric   string   `json:"distance_metric,omitempty"`
	Dimension        int      `json:"dimension,omitempty"`
	NList            int      `json:"nlist,omitempty"`
	NProbe           int      `json:"nprobe,omitempty"`
	K1               *float64 `json:"k1,omitempty"`
	B                *float64 `json:"b,omitempty"`
	Epsilon          *float64 `json:"epsilon,omitempty"`
	EmbeddingModel   string   `json:"embedding_model,omitempty"`
	EmbeddingBackend string   `json:"embedding_backend,omitempty"`
}

// CreateIndex creates an empty index. A dense index created without a
// dimension takes the dimension of its embedder.
func (db *DB) CreateIndex(ctx context.Context, opts *CreateIndexOptions) (index.IndexConfig, error) {
	cfg, err := db.indexConfig(ctx, opts)
	if err != nil {
		return index.IndexConfig{}, err
	}
	idx, err := db.Indexes.CreateIndex(cfg)
	if err != nil {
		return index.IndexConfig{}, err
	}
	return idx.Config(), nil
}

func (db *DB) indexConfig(ctx context.Context, opts *CreateIndexOptions) (index.IndexConfig, error) {
	if opts == nil {
		return index.IndexConfig{}, fmt.Errorf("%w: missing index options", pkgerrors.ErrBadParameter)
	}
	if err := index.ValidateName(opts.Name); err != nil {
		return index.IndexConfig{}, err
	}

	kind := opts.IndexType
	if kind == "" {
		kind = db.conf.DefaultIndexType
	}
	indexType, err := index.ParseIndexType(kind)
	if err != nil {
		return index.IndexConfig{}, err
	}
	cfg := index.IndexConfig{Name: opts.Name, IndexType: indexType}

	if indexType == index.BM25Index {
		cfg.K1 = valueOr(opts.K1, index.DEFAULT_K1)
		cfg.B = valueOr(opts.B, index.DEFAULT_B)
		cfg.Epsilon = valueOr(opts.Epsilon, index.DEFAULT_EPSILON)
		cfg.EmbeddingModel = string(embedding.BackendBM25)
		cfg.EmbeddingBackend = string(embedding.BackendBM25)
		return cfg, cfg.Validate()
	}

	metric := opts.DistanceMetric
	if metric == "" {
		metric = db.conf.DefaultMetric
	}
	if cfg.SpaceType, err = index.ParseSpaceType(metric); err != nil {
		return index.IndexConfig{}, err
	}
	model, backend, err := db.Embedders.Resolve(opts.EmbeddingModel, opts.EmbeddingBackend)
	if err != nil {
		return index.IndexConfig{}, err
	}
	if backend == embedding.BackendBM25 {
		return index.IndexConfig{}, fmt.Errorf("%w: dense indexes need a vector embedder", pkgerrors.ErrBadParameter)
	}
	cfg.EmbeddingModel, cfg.EmbeddingBackend = model, string(backend)

	cfg.Dimension = opts.Dimension
	if cfg.Dimension == 0 {
		if cfg.Dimension, err = db.Embedders.DimensionOf(ctx, model, string(backend)); err != nil {
			return index.IndexConfig{}, err
		}
	}
	if indexType == index.IVFFLATIndex {
		cfg.NList = intOr(opts.NList, db.conf.DefaultNList)
		cfg.NProbe = intOr(opts.NProbe, db.conf.DefaultNProbe)
	}
	return cfg, cfg.Validate()
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func intOr(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// DeleteIndex removes the index and its files.
func (db *DB) DeleteIndex(name string) error {
	return db.Indexes.DeleteIndex(name)
}

// ListIndexes returns the statistics of every index ordered by name.
func (db *DB) ListIndexes() []index.Stats {
	indexes := db.Indexes.ListIndexes()
	out := make([]index.Stats, len(indexes))
	for i, idx := range indexes {
		out[i] = idx.Stats()
	}
	return out
}
