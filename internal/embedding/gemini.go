package embedding

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"google.golang.org/genai"

	pkgerrors "docindex/pkg/errors"
)

// GeminiOptions configures the Gemini embedding backend.
type GeminiOptions struct {
	Model     string
	APIKey    string
	BaseURL   string
	BatchSize int
	Client    *http.Client
}

// GeminiEmbedder embeds texts with the Gemini API.
type GeminiEmbedder struct {
	opts GeminiOptions

	mu     sync.Mutex
	client *genai.Client
	dim    int
}

func NewGeminiEmbedder(opts GeminiOptions) (*GeminiEmbedder, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini backend has no api key", pkgerrors.ErrMissingCredential)
	}
	return &GeminiEmbedder{opts: opts}, nil
}

func (e *GeminiEmbedder) getClient(ctx context.Context) (*genai.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      e.opts.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  e.opts.Client,
		HTTPOptions: genai.HTTPOptions{BaseURL: e.opts.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrBadParameter, err)
	}
	e.client = client
	return client, nil
}

// Encode implements Embedder.
func (e *GeminiEmbedder) Encode(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	client, err := e.getClient(ctx)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = e.opts.BatchSize
	}

	out := make([][]float32, 0, len(texts))
	for _, r := range batches(len(texts), batchSize) {
		contents := make([]*genai.Content, 0, r[1]-r[0])
		for _, t := range texts[r[0]:r[1]] {
			contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: t}}})
		}
		result, err := client.Models.EmbedContent(ctx, e.opts.Model, contents, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pkgerrors.ErrTransientRemote, err)
		}
		if len(result.Embeddings) != len(contents) {
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d",
				pkgerrors.ErrUnexpectedResponse, len(contents), len(result.Embeddings))
		}
		for _, emb := range result.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, fmt.Errorf("%w: empty embedding", pkgerrors.ErrUnexpectedResponse)
			}
			out = append(out, emb.Values)
		}
	}

	e.mu.Lock()
	e.dim = len(out[0])
	e.mu.Unlock()
	return out, nil
}

func (e *GeminiEmbedder) Dimension(ctx context.Context) (int, error) {
	e.mu.Lock()
	dim := e.dim
	e.mu.Unlock()
	if dim > 0 {
		return dim, nil
	}
	vecs, err := e.Encode(ctx, []string{"dimension probe"}, 1)
	if err != nil {
		return 0, err
	}
	return len(vecs[0]), nil
}

func (e *GeminiEmbedder) ModelName() string { return e.opts.Model }

func (e *GeminiEmbedder) Backend() Backend { return BackendGemini }

func (e *GeminiEmbedder) Close() error { return nil }
