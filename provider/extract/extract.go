// Package extract implements memengine.ExtractionModel against any
// OpenAI-compatible chat completions endpoint (OpenAI, OpenRouter, Groq,
// Together, Ollama, vLLM, ...). It speaks the narrow boundary the engine
// needs — Complete(prompt) -> raw JSON text — and nothing else; tool
// calling, streaming, and multimodal content are out of scope for this
// boundary and are not implemented here.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/solace-run/memengine"
)

// chatRequest is the OpenAI chat completions request body, trimmed to the
// fields a structured-output extraction call needs.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string     `json:"type"` // "json_schema"
	JSONSchema jsonSchema `json:"json_schema"`
}

type jsonSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict"`
}

type chatResponse struct {
	Choices []choice `json:"choices"`
	Usage   *usage   `json:"usage,omitempty"`
}

type choice struct {
	Message *message `json:"message,omitempty"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Provider implements memengine.ExtractionModel over an OpenAI-compatible
// chat completions endpoint. baseURL is the API base (e.g.
// "https://api.openai.com/v1"); "/chat/completions" is appended
// automatically.
type Provider struct {
	apiKey      string
	model       string
	baseURL     string
	client      *http.Client
	temperature *float64
	logger      *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client (timeouts, proxies, transport).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithTemperature sets the sampling temperature sent on every request.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = &t }
}

// WithLogger sets the structured logger for a Provider.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// NewProvider creates an OpenAI-compatible extraction provider.
func NewProvider(apiKey, model, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Complete sends prompt as a single user message with the extraction JSON
// schema enforced via response_format, and returns the raw response text for
// the Extractor to parse. Matches memengine.ExtractionModel.
func (p *Provider) Complete(ctx context.Context, prompt string) (string, error) {
	body := chatRequest{
		Model:       p.model,
		Messages:    []message{{Role: "user", Content: prompt}},
		Temperature: p.temperature,
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchema{
				Name:   "memory_candidates",
				Schema: json.RawMessage(memengine.ExtractionSchema),
				Strict: true,
			},
		},
	}

	resp, err := p.send(ctx, body)
	if err != nil {
		return "", &memengine.ErrModelUnavailable{Model: p.model, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", &memengine.ErrModelUnavailable{
			Model: p.model,
			Err:   &memengine.ErrHTTP{Status: resp.StatusCode, Body: string(respBody)},
		}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &memengine.ErrModelUnavailable{Model: p.model, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message == nil {
		return "", nil
	}
	if parsed.Usage != nil {
		p.logger.DebugContext(ctx, "extraction complete",
			"model", p.model,
			"input_tokens", parsed.Usage.PromptTokens,
			"output_tokens", parsed.Usage.CompletionTokens)
	}
	return parsed.Choices[0].Message.Content, nil
}

func (p *Provider) send(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return p.client.Do(req)
}

var _ memengine.ExtractionModel = (*Provider)(nil)
