package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"docindex/internal/index"
	pkgerrors "docindex/pkg/errors"
	"docindex/pkg/logger"
)

// Document is a document as supplied by or returned to clients.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Vector   []float32      `json:"vector,omitempty"`
	Metadata map[string]any `json:"metadata"`
}

// AddResult reports the ids assigned to an inserted batch, in input order.
type AddResult struct {
	Count int      `json:"count"`
	IDs   []string `json:"ids"`
}

// DocumentPage is one page of an index listing.
type DocumentPage struct {
	Documents []*Document `json:"documents"`
	Total     int         `json:"total"`
	Limit     int         `json:"limit"`
	Offset    int         `json:"offset"`
}

func fromIndexDocument(d *index.Document) *Document {
	out := &Document{ID: d.ID, Content: d.Content, Vector: d.Vector, Metadata: d.Metadata}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	return out
}

// AddDocuments inserts docs into the named index as one batch. Missing ids
// are generated. Documents of a dense index that carry no vector are embedded
// with the index's embedder before the index lock is taken.
func (db *DB) AddDocuments(ctx context.Context, name string, docs []*Document) (*AddResult, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no documents", pkgerrors.ErrBadParameter)
	}
	idx, err := db.Indexes.GetIndex(name)
	if err != nil {
		return nil, err
	}
	cfg := idx.Config()

	batch := make([]*index.Document, len(docs))
	var missing []int
	for i, doc := range docs {
		if doc == nil {
			return nil, fmt.Errorf("%w: document %d is null", pkgerrors.ErrBadParameter, i)
		}
		if strings.TrimSpace(doc.Content) == "" {
			return nil, fmt.Errorf("%w: document %d", pkgerrors.ErrEmptyContent, i)
		}
		id := doc.ID
		if id == "" {
			id = uuid.NewString()
		}
		batch[i] = &index.Document{ID: id, Content: doc.Content, Vector: doc.Vector, Metadata: doc.Metadata}
		if cfg.IndexType != index.BM25Index && doc.Vector == nil {
			missing = append(missing, i)
		}
	}

	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for j, i := range missing {
			texts[j] = batch[i].Content
		}
		vecs, err := db.Embedders.Encode(ctx, texts, cfg.EmbeddingModel, cfg.EmbeddingBackend, db.conf.Embedding.BatchSize)
		if err != nil {
			return nil, err
		}
		for j, i := range missing {
			batch[i].Vector = vecs[j]
		}
	}

	ids, err := idx.Add(batch)
	if err != nil {
		return nil, err
	}
	logger.Info("Added documents", "index", name, "count", len(ids), "embedded", len(missing))
	return &AddResult{Count: len(ids), IDs: ids}, nil
}

// GetDocument returns the full document stored under id.
func (db *DB) GetDocument(name, id string) (*Document, error) {
	idx, err := db.Indexes.GetIndex(name)
	if err != nil {
		return nil, err
	}
	doc, err := idx.Get(id)
	if err != nil {
		return nil, err
	}
	return fromIndexDocument(doc), nil
}

// ListDocuments pages through an index in insertion order.
func (db *DB) ListDocuments(name string, limit, offset int) (*DocumentPage, error) {
	if limit <= 0 || limit > index.MAX_LIST_LIMIT {
		return nil, fmt.Errorf("%w: limit must be within [1, %d], got %d", pkgerrors.ErrBadParameter, index.MAX_LIST_LIMIT, limit)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative, got %d", pkgerrors.ErrBadParameter, offset)
	}
	idx, err := db.Indexes.GetIndex(name)
	if err != nil {
		return nil, err
	}
	docs, total := idx.List(offset, limit)
	page := &DocumentPage{Documents: make([]*Document, len(docs)), Total: total, Limit: limit, Offset: offset}
	for i, d := range docs {
		page.Documents[i] = fromIndexDocument(d)
	}
	return page, nil
}
