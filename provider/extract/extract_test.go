package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/solace-run/memengine"
)

func TestProviderComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("expected model gpt-4o-mini, got %s", req.Model)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_schema" {
			t.Errorf("expected json_schema response format, got %+v", req.ResponseFormat)
		}

		json.NewEncoder(w).Encode(chatResponse{
			Choices: []choice{{Message: &message{Role: "assistant", Content: `{"candidates":[]}`}}},
			Usage:   &usage{PromptTokens: 42, CompletionTokens: 7},
		})
	}))
	defer srv.Close()

	p := NewProvider("test-key", "gpt-4o-mini", srv.URL)
	got, err := p.Complete(context.Background(), "extract memories from this conversation")
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if got != `{"candidates":[]}` {
		t.Errorf("Complete() = %q, want %q", got, `{"candidates":[]}`)
	}
}

func TestProviderCompleteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("overloaded"))
	}))
	defer srv.Close()

	p := NewProvider("test-key", "gpt-4o-mini", srv.URL)
	_, err := p.Complete(context.Background(), "prompt")
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
	var modelErr *memengine.ErrModelUnavailable
	if !errors.As(err, &modelErr) {
		t.Errorf("expected ErrModelUnavailable, got %T: %v", err, err)
	}
}

func TestProviderCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{})
	}))
	defer srv.Close()

	p := NewProvider("test-key", "gpt-4o-mini", srv.URL)
	got, err := p.Complete(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Complete returned unexpected error: %v", err)
	}
	if got != "" {
		t.Errorf("Complete() = %q, want empty string", got)
	}
}
