// Package ollama implements mangarag.EmbeddingProvider against the
// Ollama /api/embed endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/manganews/mangarag"
)

const defaultTimeout = 180 * time.Second

// Embedding calls Ollama's embedding endpoint for a single model. It is
// pure transport with no retries and no fallbacks; every failure mode (network
// error, non-2xx status, error body, missing or mis-sized vectors)
// surfaces as a *mangarag.ErrEmbedding carrying the cause. Resilience
// policy belongs to mangarag.Ladder.
type Embedding struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

// EmbeddingOption configures an Embedding client.
type EmbeddingOption func(*Embedding)

// WithHTTPClient replaces the HTTP client. Useful for custom timeouts;
// the default client times out after 180s because long passage batches
// can be slow on local hardware.
func WithHTTPClient(c *http.Client) EmbeddingOption {
	return func(e *Embedding) { e.client = c }
}

// WithTimeout sets the request timeout on the default client.
func WithTimeout(d time.Duration) EmbeddingOption {
	return func(e *Embedding) { e.client.Timeout = d }
}

// NewEmbedding creates an embedding client for model served at baseURL
// (e.g. "http://localhost:11434"). dims is the model's vector size
// (768 for the multilingual e5 base family).
func NewEmbedding(baseURL, model string, dims int, opts ...EmbeddingOption) *Embedding {
	e := &Embedding{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

var _ mangarag.EmbeddingProvider = (*Embedding)(nil)

// Name returns the model identifier.
func (e *Embedding) Name() string { return e.model }

// Dimensions returns the embedding vector size.
func (e *Embedding) Dimensions() int { return e.dims }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error"`
}

// Embed returns one vector per input, preserving order. The request body
// is always list-shaped, even for a single input.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, e.wrap("encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, e.wrap("create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, e.wrap("request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, e.wrap("read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, e.wrap("embed", &mangarag.ErrHTTP{Status: resp.StatusCode, Body: truncate(respBody, 400)})
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, e.wrap("parse response", err)
	}
	if parsed.Error != "" {
		return nil, &mangarag.ErrEmbedding{Provider: e.model, Message: parsed.Error}
	}
	if parsed.Embeddings == nil {
		return nil, &mangarag.ErrEmbedding{Provider: e.model, Message: "response has no embeddings field"}
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, &mangarag.ErrEmbedding{
			Provider: e.model,
			Message:  fmt.Sprintf("got %d embeddings for %d inputs", len(parsed.Embeddings), len(texts)),
		}
	}
	return parsed.Embeddings, nil
}

func (e *Embedding) wrap(msg string, cause error) error {
	return &mangarag.ErrEmbedding{Provider: e.model, Message: msg, Cause: cause}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
