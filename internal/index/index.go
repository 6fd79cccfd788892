package index

import (
	"fmt"

	pkgerrors "docindex/pkg/errors"
)

// SpaceType represents the distance metric type
type SpaceType string

// IndexType represents the index kind
type IndexType string

// IndexConfig represents index configuration
type IndexConfig struct {
	Name      string    `json:"name"`
	IndexType IndexType `json:"index_type"`
	SpaceType SpaceType `json:"distance_metric,omitempty"`
	Dimension int       `json:"dimension,omitempty"`

	// IVF
	NList  int `json:"nlist,omitempty"`
	NProbe int `json:"nprobe,omitempty"`

	// BM25
	K1      float64 `json:"k1,omitempty"`
	B       float64 `json:"b,omitempty"`
	Epsilon float64 `json:"epsilon,omitempty"`

	// embedder used for documents and text queries of dense indices
	EmbeddingModel   string `json:"embedding_model,omitempty"`
	EmbeddingBackend string `json:"embedding_backend,omitempty"`
}

// Validate checks the creation constraints for the configured kind.
func (c *IndexConfig) Validate() error {
	if err := ValidateName(c.Name); err != nil {
		return err
	}
	switch c.IndexType {
	case FLATIndex, IVFFLATIndex:
		if c.Dimension <= 0 {
			return fmt.Errorf("%w: dimension must be positive, got %d", pkgerrors.ErrBadParameter, c.Dimension)
		}
		switch c.SpaceType {
		case L2Space, IPSpace, CosSpace:
		default:
			return fmt.Errorf("%w: unknown distance metric %q", pkgerrors.ErrBadParameter, c.SpaceType)
		}
		if c.IndexType == IVFFLATIndex {
			if c.NList <= 0 {
				return fmt.Errorf("%w: nlist must be positive, got %d", pkgerrors.ErrBadParameter, c.NList)
			}
			if c.NProbe <= 0 {
				return fmt.Errorf("%w: nprobe must be positive, got %d", pkgerrors.ErrBadParameter, c.NProbe)
			}
		}
	case BM25Index:
		if c.K1 <= 0 {
			return fmt.Errorf("%w: k1 must be positive, got %v", pkgerrors.ErrBadParameter, c.K1)
		}
		if c.B < 0 || c.B > 1 {
			return fmt.Errorf("%w: b must be within [0, 1], got %v", pkgerrors.ErrBadParameter, c.B)
		}
		if c.Epsilon < 0 {
			return fmt.Errorf("%w: epsilon must not be negative, got %v", pkgerrors.ErrBadParameter, c.Epsilon)
		}
	default:
		return fmt.Errorf("%w: unknown index type %q", pkgerrors.ErrBadParameter, c.IndexType)
	}
	return nil
}

// Document is a unit of indexed content.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Vector   []float32      `json:"vector,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Query is a search request against a single index. Dense indices use
// Vector, BM25 indices use Text.
type Query struct {
	Vector []float32
	Text   string
	K      int
	NProbe int // IVF override, 0 means the index default
}

// Hit is one ranked result. Document is nil when the ANN structure returned
// the not-found sentinel for this rank.
type Hit struct {
	Position int64
	Document *Document
	Score    float64
}

// Stats summarises an index for health reporting.
type Stats struct {
	Name             string    `json:"name"`
	IndexType        IndexType `json:"index_type"`
	SpaceType        SpaceType `json:"distance_metric,omitempty"`
	Dimension        int       `json:"dimension,omitempty"`
	NumDocuments     int       `json:"num_documents"`
	NList            int       `json:"nlist,omitempty"`
	NProbe           int       `json:"nprobe,omitempty"`
	EffectiveNList   int       `json:"effective_nlist,omitempty"`
	IsTrained        *bool     `json:"is_trained,omitempty"`
	K1               float64   `json:"k1,omitempty"`
	B                float64   `json:"b,omitempty"`
	Epsilon          float64   `json:"epsilon,omitempty"`
	AvgDocLength     float64   `json:"avg_doc_length,omitempty"`
	VocabularySize   int       `json:"vocabulary_size,omitempty"`
	EmbeddingModel   string    `json:"embedding_model,omitempty"`
	EmbeddingBackend string    `json:"embedding_backend,omitempty"`
}

// Index is the capability set shared by every index kind. Implementations
// guard their own state with a reader/writer lock.
type Index interface {
	Name() string
	Type() IndexType
	Config() IndexConfig

	// Add validates and applies a batch atomically, persisting it before
	// returning. It returns the ids in input order.
	Add(docs []*Document) ([]string, error)

	Get(id string) (*Document, error)

	// List returns documents in insertion order and the total count.
	List(offset, limit int) ([]*Document, int)

	Search(q *Query) ([]Hit, error)

	PositionOf(id string) (int64, bool)
	IDAt(pos int64) (string, bool)

	Len() int
	Stats() Stats

	// Save persists the index under its data directory.
	Save() error

	// Close marks the index unusable; later calls fail with ErrIndexNotFound.
	Close() error
}

func validateK(k int) error {
	if k <= 0 || k > MAX_K {
		return fmt.Errorf("%w: k must be within [1, %d], got %d", pkgerrors.ErrBadParameter, MAX_K, k)
	}
	return nil
}
