package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"docindex/internal/config"
	pkgerrors "docindex/pkg/errors"
	"docindex/pkg/logger"
)

type handleKey struct {
	model   string
	backend Backend
}

// HandleInfo describes a loaded embedder for health output.
type HandleInfo struct {
	Model     string  `json:"model"`
	Backend   Backend `json:"backend"`
	Dimension int     `json:"dimension,omitempty"`
}

// Registry creates embedders lazily, one per (model, backend), and keeps
// them for the life of the process.
type Registry struct {
	conf   *config.Config
	client *http.Client

	mu      sync.Mutex
	handles map[handleKey]Embedder
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithHTTPClient sets the client used by the remote and gemini backends.
func WithHTTPClient(c *http.Client) RegistryOption {
	return func(r *Registry) { r.client = c }
}

func NewRegistry(conf *config.Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		conf:    conf,
		handles: make(map[handleKey]Embedder),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fills an empty model or backend with the configured default.
func (r *Registry) Resolve(model, backend string) (string, Backend, error) {
	if model == "" {
		model = r.conf.Embedding.Model
	}
	if backend == "" {
		backend = r.conf.Embedding.Backend
	}
	b, err := ParseBackend(backend)
	if err != nil {
		return "", "", err
	}
	return model, b, nil
}

// Get returns the handle for (model, backend), creating it on first use.
func (r *Registry) Get(model, backend string) (Embedder, error) {
	model, b, err := r.Resolve(model, backend)
	if err != nil {
		return nil, err
	}
	key := handleKey{model: model, backend: b}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[key]; ok {
		return h, nil
	}
	h, err := r.newHandle(key)
	if err != nil {
		return nil, err
	}
	r.handles[key] = h
	logger.Info("Registered embedder", "model", model, "backend", b)
	return h, nil
}

func (r *Registry) newHandle(key handleKey) (Embedder, error) {
	e := r.conf.Embedding
	var (
		h   Embedder
		err error
	)
	switch key.backend {
	case BackendLocal:
		h, err = NewLocalEmbedder(LocalOptions{
			Model:        key.model,
			Device:       e.Device,
			Dimension:    e.Dimension,
			MaxSeqLength: e.MaxSeqLength,
			Pooling:      e.Pooling,
			Normalize:    e.Normalize,
			BatchSize:    e.BatchSize,
		})
	case BackendRemote:
		h, err = NewRemoteEmbedder(RemoteOptions{
			Model:      key.model,
			APIKey:     r.conf.Remote.APIKey,
			Endpoint:   r.conf.Remote.Endpoint,
			Timeout:    r.conf.Remote.Timeout,
			MaxRetries: r.conf.Remote.MaxRetries,
			RetryDelay: r.conf.Remote.RetryDelay,
			BatchSize:  e.BatchSize,
			Client:     r.client,
		})
	case BackendGemini:
		h, err = NewGeminiEmbedder(GeminiOptions{
			Model:     key.model,
			APIKey:    r.conf.Gemini.APIKey,
			BaseURL:   r.conf.Gemini.BaseURL,
			BatchSize: e.BatchSize,
			Client:    r.client,
		})
	case BackendBM25:
		return &bm25Embedder{model: key.model}, nil
	default:
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrUnknownBackend, key.backend)
	}
	if err != nil {
		return nil, err
	}
	return NewCachedEmbedder(h, e.CacheSize), nil
}

// Encode embeds texts with the (model, backend) handle. Empty model or
// backend select the configured defaults.
func (r *Registry) Encode(ctx context.Context, texts []string, model, backend string, batchSize int) ([][]float32, error) {
	h, err := r.Get(model, backend)
	if err != nil {
		return nil, err
	}
	return h.Encode(ctx, texts, batchSize)
}

// DimensionOf returns the vector length produced by (model, backend).
func (r *Registry) DimensionOf(ctx context.Context, model, backend string) (int, error) {
	h, err := r.Get(model, backend)
	if err != nil {
		return 0, err
	}
	return h.Dimension(ctx)
}

// Loaded lists the registered handles ordered by backend then model.
func (r *Registry) Loaded() []HandleInfo {
	r.mu.Lock()
	out := make([]HandleInfo, 0, len(r.handles))
	for key, h := range r.handles {
		info := HandleInfo{Model: key.model, Backend: key.backend}
		if key.backend == BackendLocal {
			info.Dimension, _ = h.Dimension(context.Background())
		}
		out = append(out, info)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Backend != out[j].Backend {
			return out[i].Backend < out[j].Backend
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// Close closes every handle.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for key, h := range r.handles {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", key.backend, key.model, err))
		}
	}
	r.handles = make(map[handleKey]Embedder)
	return errors.Join(errs...)
}
