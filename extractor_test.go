package memengine

import (
	"context"
	"testing"
)

type stubExtractionModel struct {
	response string
	err      error
}

func (s stubExtractionModel) Complete(ctx context.Context, prompt string) (string, error) {
	return s.response, s.err
}

func TestShouldExtractSkipsTrivialTurns(t *testing.T) {
	cases := map[string]bool{
		"ok":                                  false,
		"thanks":                              false,
		"Proxmox cluster has 4 nodes now":      true,
		"short":                               false,
		"I just moved to a new apartment here": true,
	}
	for text, want := range cases {
		if got := ShouldExtract(text); got != want {
			t.Errorf("ShouldExtract(%q) = %v, want %v", text, got, want)
		}
	}
}

func TestExtractDropsBelowMinConfidence(t *testing.T) {
	model := stubExtractionModel{response: `[{"type":"Home Network","content":"Runs pfSense on the router","explicit":false,"mentions":0}]`}
	e := NewExtractor(model, WithMinExtractionConfidence(0.6))
	candidates := e.Extract(context.Background(), []Turn{{Role: "user", Text: "I think my router runs pfSense maybe"}})
	if len(candidates) != 0 {
		t.Fatalf("expected low-confidence candidate to be dropped, got %+v", candidates)
	}
}

func TestExtractNormalizesTypeAndBucketsConfidence(t *testing.T) {
	model := stubExtractionModel{response: `[{"type":"Home Network Router","content":"Runs pfSense on the router","explicit":true,"mentions":2}]`}
	e := NewExtractor(model)
	candidates := e.Extract(context.Background(), []Turn{{Role: "user", Text: "My router definitely runs pfSense, for sure"}})
	if len(candidates) != 1 {
		t.Fatalf("expected one candidate, got %d", len(candidates))
	}
	c := candidates[0]
	if c.Type != "home_network_router" {
		t.Errorf("expected normalized type, got %q", c.Type)
	}
	if c.Confidence < 0.6 || c.Confidence > 1 {
		t.Errorf("expected confidence in bounds, got %v", c.Confidence)
	}
}

func TestExtractCorrectiveFloor(t *testing.T) {
	model := stubExtractionModel{response: `[{"type":"proxmox_cluster_node_count","content":"Proxmox cluster has 4 nodes","explicit":false,"mentions":0,"corrective":true}]`}
	e := NewExtractor(model)
	candidates := e.Extract(context.Background(), []Turn{{Role: "user", Text: "Actually the proxmox cluster has 4 nodes now, not 3"}})
	if len(candidates) != 1 {
		t.Fatalf("expected corrective candidate to clear the floor, got %d", len(candidates))
	}
	if candidates[0].Confidence < 0.8 {
		t.Errorf("expected corrective floor of 0.8, got %v", candidates[0].Confidence)
	}
}

func TestExtractModelFailureYieldsEmptyList(t *testing.T) {
	model := stubExtractionModel{err: context.DeadlineExceeded}
	e := NewExtractor(model)
	candidates := e.Extract(context.Background(), []Turn{{Role: "user", Text: "Something worth remembering right here"}})
	if candidates != nil {
		t.Errorf("expected nil candidates on model failure, got %+v", candidates)
	}
}

func TestExtractSkipsAllTrivialTranscript(t *testing.T) {
	model := stubExtractionModel{response: `[{"type":"x","content":"should not be called"}]`}
	e := NewExtractor(model)
	candidates := e.Extract(context.Background(), []Turn{{Role: "user", Text: "ok"}, {Role: "assistant", Text: "thanks"}})
	if candidates != nil {
		t.Errorf("expected extraction to be skipped entirely, got %+v", candidates)
	}
}
