// Package embed implements memengine.EmbeddingModel against any
// OpenAI-compatible embeddings endpoint (OpenAI, OpenRouter, local
// embedding servers speaking the same wire format). The wire format is
// out of scope for the engine itself; this package is the one place that
// wire format lives.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/solace-run/memengine"
)

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []embeddingData `json:"data"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// Provider implements memengine.EmbeddingModel over an OpenAI-compatible
// embeddings endpoint. baseURL is the API base; "/embeddings" is appended
// automatically. dimensions is fixed at construction time since the engine
// needs it before the first call (EmbeddingClient validates every response
// against it).
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	dimensions int
	client     *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client (timeouts, proxies, transport).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// NewProvider creates an OpenAI-compatible embedding provider. dimensions is
// the fixed vector width the model returns (e.g. 1536 for
// text-embedding-3-small).
func NewProvider(apiKey, model, baseURL string, dimensions int, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		dimensions: dimensions,
		client:     &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Dimensions returns the fixed embedding width configured at construction.
func (p *Provider) Dimensions() int { return p.dimensions }

// Embed sends texts to the embeddings endpoint in one batched request and
// returns their vectors in the same order. Matches memengine.EmbeddingModel.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(embeddingRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, &memengine.ErrModelUnavailable{Model: p.model, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, &memengine.ErrModelUnavailable{Model: p.model, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &memengine.ErrModelUnavailable{Model: p.model, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &memengine.ErrModelUnavailable{
			Model: p.model,
			Err:   &memengine.ErrHTTP{Status: resp.StatusCode, Body: string(body)},
		}
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &memengine.ErrModelUnavailable{Model: p.model, Err: fmt.Errorf("decode response: %w", err)}
	}

	out := make([][]float32, len(parsed.Data))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

var _ memengine.EmbeddingModel = (*Provider)(nil)
