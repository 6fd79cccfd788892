package server

import (
	DB "docindex/internal/db"
	"docindex/internal/embedding"
	"docindex/internal/index"
)

// CreateIndexRequest represents the request body for creating an index
type CreateIndexRequest struct {
	Name             string   `json:"name"`
	IndexType        string   `json:"index_type"`
	DistanceMetric   string   `json:"distance_metric"`
	Dimension        int      `json:"dimension"`
	NList            int      `json:"nlist"`
	NProbe           int      `json:"nprobe"`
	K1               *float64 `json:"k1"`
	B                *float64 `json:"b"`
	Epsilon          *float64 `json:"epsilon"`
	EmbeddingModel   string   `json:"embedding_model"`
	EmbeddingBackend string   `json:"embedding_backend"`
}

type CreateIndexResponse struct {
	Success bool              `json:"success"`
	Name    string            `json:"name"`
	Index   index.IndexConfig `json:"index"`
}

type ListIndexesResponse struct {
	Success bool          `json:"success"`
	Indexes []index.Stats `json:"indexes"`
}

// AddDocumentsRequest represents the request body for inserting documents
type AddDocumentsRequest struct {
	Documents []*DB.Document `json:"documents"`
}

type AddDocumentsResponse struct {
	Success bool     `json:"success"`
	Count   int      `json:"count"`
	IDs     []string `json:"ids"`
}

type GetDocumentResponse struct {
	Success  bool         `json:"success"`
	Document *DB.Document `json:"document"`
}

type ListDocumentsResponse struct {
	Success bool `json:"success"`
	*DB.DocumentPage
}

// SearchRequest represents the request body for searching an index
type SearchRequest struct {
	IndexName   string    `json:"index_name"`
	QueryVector []float32 `json:"query_vector"`
	QueryText   string    `json:"query_text"`
	K           int       `json:"k"`
	NProbe      int       `json:"nprobe"`
}

type SearchResponse struct {
	Success     bool              `json:"success"`
	Results     []DB.SearchResult `json:"results"`
	QueryTimeMs float64           `json:"query_time_ms"`
}

type EmbeddingsRequest struct {
	Texts   []string `json:"texts"`
	Model   string   `json:"model"`
	Backend string   `json:"backend"`
}

type EmbeddingsResponse struct {
	Success    bool              `json:"success"`
	Embeddings [][]float32       `json:"embeddings"`
	Dimension  int               `json:"dimension"`
	Model      string            `json:"model"`
	Backend    embedding.Backend `json:"backend"`
}

type HealthResponse struct {
	Success bool `json:"success"`
	*DB.Health
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}
