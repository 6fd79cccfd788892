// Package client is a thin Go wrapper around the docindex HTTP API.
//
// Every method returns *APIError when the server answers with a non-2xx
// status.
//
//	c := client.New("http://localhost:8080")
//	health, err := c.Health(ctx)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a high-level HTTP client for docindex.
type Client struct {
	BaseURL string
	Client  *http.Client
}

// APIError represents an error returned by the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("docindex: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// New creates a client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// do sends body as JSON and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		var e struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &e) == nil && e.Error.Code != "" {
			apiErr.Code, apiErr.Message = e.Error.Code, e.Error.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// Document is a stored or submitted document.
type Document struct {
	ID       string         `json:"id,omitempty"`
	Content  string         `json:"content"`
	Vector   []float32      `json:"vector,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IndexOptions describes a new index. Unset fields take server defaults.
type IndexOptions struct {
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

// IndexInfo is the server's view of an index.
type IndexInfo struct {
	Name             string  `json:"name"`
	IndexType        string  `json:"index_type"`
	DistanceMetric   string  `json:"distance_metric,omitempty"`
	Dimension        int     `json:"dimension,omitempty"`
	NumDocuments     int     `json:"num_documents"`
	NList            int     `json:"nlist,omitempty"`
	NProbe           int     `json:"nprobe,omitempty"`
	IsTrained        *bool   `json:"is_trained,omitempty"`
	K1               float64 `json:"k1,omitempty"`
	B                float64 `json:"b,omitempty"`
	Epsilon          float64 `json:"epsilon,omitempty"`
	EmbeddingModel   string  `json:"embedding_model,omitempty"`
	EmbeddingBackend string  `json:"embedding_backend,omitempty"`
}

type Health struct {
	Success   bool             `json:"success"`
	Status    string           `json:"status"`
	Indexes   []IndexInfo      `json:"indexes"`
	Embedders []map[string]any `json:"embedders"`
	Config    map[string]any   `json:"config"`
}

// Health returns the service summary.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateIndex creates an index and returns its effective configuration.
func (c *Client) CreateIndex(ctx context.Context, opts IndexOptions) (*IndexInfo, error) {
	var out struct {
		Index IndexInfo `json:"index"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/indexes", opts, &out); err != nil {
		return nil, err
	}
	return &out.Index, nil
}

func (c *Client) ListIndexes(ctx context.Context) ([]IndexInfo, error) {
	var out struct {
		Indexes []IndexInfo `json:"indexes"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/indexes", nil, &out); err != nil {
		return nil, err
	}
	return out.Indexes, nil
}

func (c *Client) DeleteIndex(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/v1/indexes/"+url.PathEscape(name), nil, nil)
}

// AddDocuments inserts docs and returns the assigned ids in input order.
func (c *Client) AddDocuments(ctx context.Context, index string, docs []Document) ([]string, error) {
	var out struct {
		IDs []string `json:"ids"`
	}
	path := fmt.Sprintf("/v1/indexes/%s/documents", url.PathEscape(index))
	if err := c.do(ctx, http.MethodPost, path, map[string]any{"documents": docs}, &out); err != nil {
		return nil, err
	}
	return out.IDs, nil
}

func (c *Client) GetDocument(ctx context.Context, index, id string) (*Document, error) {
	var out struct {
		Document Document `json:"document"`
	}
	path := fmt.Sprintf("/v1/indexes/%s/documents/%s", url.PathEscape(index), url.PathEscape(id))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out.Document, nil
}

// DocumentPage is one page of ListDocuments.
type DocumentPage struct {
	Documents []Document `json:"documents"`
	Total     int        `json:"total"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

func (c *Client) ListDocuments(ctx context.Context, index string, limit, offset int) (*DocumentPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	path := fmt.Sprintf("/v1/indexes/%s/documents?%s", url.PathEscape(index), q.Encode())

	var out DocumentPage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchRequest carries either QueryVector or QueryText.
type SearchRequest struct {
	IndexName   string    `json:"index_name"`
	QueryVector []float32 `json:"query_vector,omitempty"`
	QueryText   string    `json:"query_text,omitempty"`
	K           int       `json:"k"`
	NProbe      int       `json:"nprobe,omitempty"`
}

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

func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var out SearchResponse
	if err := c.do(ctx, http.MethodPost, "/v1/search", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type Embeddings struct {
	Embeddings [][]float32 `json:"embeddings"`
	Dimension  int         `json:"dimension"`
	Model      string      `json:"model"`
	Backend    string      `json:"backend"`
}

// Embed encodes texts with the given model and backend; empty strings use
// the server defaults.
func (c *Client) Embed(ctx context.Context, texts []string, model, backend string) (*Embeddings, error) {
	body := map[string]any{"texts": texts}
	if model != "" {
		body["model"] = model
	}
	if backend != "" {
		body["backend"] = backend
	}
	var out Embeddings
	if err := c.do(ctx, http.MethodPost, "/v1/embeddings", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
