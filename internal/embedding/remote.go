package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	pkgerrors "docindex/pkg/errors"
	"docindex/pkg/logger"
	"docindex/pkg/utils"
)

// RemoteOptions configures an HTTP embedding API client.
type RemoteOptions struct {
	Model      string
	APIKey     string
	Endpoint   string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	BatchSize  int

	// Client is used for every request; nil uses http.DefaultClient.
	Client *http.Client
}

// RemoteEmbedder calls an OpenAI-compatible embeddings endpoint.
type RemoteEmbedder struct {
	opts RemoteOptions
	dim  atomic.Int64
}

type remoteRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// NewRemoteEmbedder fails with ErrMissingCredential when no API key is set.
func NewRemoteEmbedder(opts RemoteOptions) (*RemoteEmbedder, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: remote backend has no api key", pkgerrors.ErrMissingCredential)
	}
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("%w: remote backend has no endpoint", pkgerrors.ErrBadParameter)
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	return &RemoteEmbedder{opts: opts}, nil
}

// Encode implements Embedder. Batches are sent one after another.
func (e *RemoteEmbedder) Encode(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if batchSize <= 0 {
		batchSize = e.opts.BatchSize
	}
	out := make([][]float32, 0, len(texts))
	for _, r := range batches(len(texts), batchSize) {
		vecs, err := e.embedWithRetry(ctx, texts[r[0]:r[1]])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// embedWithRetry retries transient failures with exponential backoff. A
// wait that would run past the context deadline is not started.
func (e *RemoteEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	attempt := 0
	for ; ; attempt++ {
		vecs, err := e.embed(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		if !pkgerrors.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
		if attempt >= e.opts.MaxRetries {
			break
		}

		wait := e.opts.RetryDelay << attempt
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			logger.Warn("Embedding retry budget exceeds request deadline", "model", e.opts.Model, "attempt", attempt+1)
			break
		}
		logger.Warn("Embedding request failed, retrying", "model", e.opts.Model,
			"attempt", attempt+1, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("embedding request failed after %d attempts: %w", attempt+1, lastErr)
}

func (e *RemoteEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(remoteRequest{Input: texts, Model: e.opts.Model})
	if err != nil {
		return nil, err
	}
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrBadParameter, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.opts.APIKey)

	resp, err := e.opts.Client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrTransientRemote, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", pkgerrors.ErrTransientRemote, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", pkgerrors.ErrTransientRemote, resp.StatusCode, utils.Snippet(string(respBody), 200))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: api key rejected with status %d", pkgerrors.ErrMissingCredential, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d: %s", pkgerrors.ErrUnexpectedResponse, resp.StatusCode, utils.Snippet(string(respBody), 200))
	}

	vecs, err := parseEmbeddings(respBody)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", pkgerrors.ErrUnexpectedResponse, len(texts), len(vecs))
	}
	for _, v := range vecs {
		if len(v) == 0 || len(v) != len(vecs[0]) {
			return nil, fmt.Errorf("%w: inconsistent embedding lengths", pkgerrors.ErrUnexpectedResponse)
		}
	}
	e.dim.Store(int64(len(vecs[0])))
	return vecs, nil
}

// parseEmbeddings accepts, in order of preference, {"data":[{"embedding":..}]},
// {"embeddings":[..]} and a bare list of vectors.
func parseEmbeddings(body []byte) ([][]float32, error) {
	var obj struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &obj); err == nil {
		switch {
		case obj.Data != nil:
			out := make([][]float32, len(obj.Data))
			for i, item := range obj.Data {
				out[i] = item.Embedding
			}
			return out, nil
		case obj.Embeddings != nil:
			return obj.Embeddings, nil
		}
		return nil, fmt.Errorf("%w: no data or embeddings field", pkgerrors.ErrUnexpectedResponse)
	}

	var list [][]float32
	if err := json.Unmarshal(body, &list); err == nil && list != nil {
		return list, nil
	}
	return nil, fmt.Errorf("%w: %s", pkgerrors.ErrUnexpectedResponse, utils.Snippet(string(body), 200))
}

// Dimension returns the vector length reported by the API, probing it once
// if no request has been made yet.
func (e *RemoteEmbedder) Dimension(ctx context.Context) (int, error) {
	if d := e.dim.Load(); d > 0 {
		return int(d), nil
	}
	if _, err := e.embedWithRetry(ctx, []string{"dimension probe"}); err != nil {
		return 0, err
	}
	return int(e.dim.Load()), nil
}

func (e *RemoteEmbedder) ModelName() string { return e.opts.Model }

func (e *RemoteEmbedder) Backend() Backend { return BackendRemote }

func (e *RemoteEmbedder) Close() error {
	e.opts.Client.CloseIdleConnections()
	return nil
}
