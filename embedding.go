package memengine

import (
	"context"
	"fmt"
	"math"
)

// EmbeddingModel is the external collaborator boundary for dense vector
// production. Its wire format is out of scope; EmbeddingClient only
// consumes Embed(texts) -> vectors and Dimensions().
type EmbeddingModel interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// EmbeddingClient wraps an EmbeddingModel and enforces the two properties
// the engine requires of every embedding regardless of which model
// produced it: a fixed dimension, and unit norm (the client normalizes
// itself if the model doesn't already).
type EmbeddingClient struct {
	model EmbeddingModel
}

// NewEmbeddingClient creates an EmbeddingClient bound to model.
func NewEmbeddingClient(model EmbeddingModel) *EmbeddingClient {
	return &EmbeddingClient{model: model}
}

// Dimensions returns the fixed vector dimension for this client.
func (c *EmbeddingClient) Dimensions() int {
	return c.model.Dimensions()
}

// Embed produces normalized embeddings for texts, rejecting any vector
// whose dimension doesn't match Dimensions().
func (c *EmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := c.model.Embed(ctx, texts)
	if err != nil {
		return nil, &ErrModelUnavailable{Model: "embedding", Err: err}
	}
	dim := c.Dimensions()
	for i, v := range vecs {
		if dim > 0 && len(v) != dim {
			return nil, fmt.Errorf("embedding: model returned dimension %d, want %d", len(v), dim)
		}
		vecs[i] = normalize(v)
	}
	return vecs, nil
}

// normalize scales v to unit L2 norm. A zero vector is returned unchanged
// (there's nothing sensible to normalize it to).
func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// cosineSimilarity computes cosine similarity between two equal-length
// vectors, used in process by Deduplicator and TemporalManager.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
