package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/solace-run/memengine"
)

func TestProviderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("expected path /embeddings, got %s", r.URL.Path)
		}

		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Input) != 2 {
			t.Fatalf("expected 2 inputs, got %d", len(req.Input))
		}

		json.NewEncoder(w).Encode(embeddingResponse{
			Data: []embeddingData{
				{Index: 1, Embedding: []float32{0.4, 0.5}},
				{Index: 0, Embedding: []float32{0.1, 0.2}},
			},
		})
	}))
	defer srv.Close()

	p := NewProvider("test-key", "text-embedding-3-small", srv.URL, 2)
	got, err := p.Embed(context.Background(), []string{"hello", "world"})
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(got))
	}
	if got[0][0] != 0.1 || got[1][0] != 0.4 {
		t.Errorf("vectors out of order: %+v", got)
	}
}

func TestProviderDimensions(t *testing.T) {
	p := NewProvider("key", "model", "http://example.invalid", 1536)
	if p.Dimensions() != 1536 {
		t.Errorf("Dimensions() = %d, want 1536", p.Dimensions())
	}
}

func TestProviderEmbedHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewProvider("key", "model", srv.URL, 2)
	_, err := p.Embed(context.Background(), []string{"hi"})
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
	var modelErr *memengine.ErrModelUnavailable
	if !errors.As(err, &modelErr) {
		t.Errorf("expected ErrModelUnavailable, got %T: %v", err, err)
	}
}
