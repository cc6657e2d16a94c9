package memengine

import "testing"

func TestDedupRemovesSupersededMembers(t *testing.T) {
	old := "old-id"
	memories := []Memory{
		{MemoryID: "old-id", Content: "lives in Austin", Confidence: 0.9, SupersededBy: strPtr("new-id")},
		{MemoryID: "new-id", Content: "lives in Denver", Confidence: 0.9, Supersedes: &old},
	}
	d := NewDeduplicator()
	got := d.Dedup(memories)
	if len(got) != 1 || got[0].MemoryID != "new-id" {
		t.Fatalf("expected only the superseding memory to survive, got %+v", got)
	}
}

func TestDedupCollapsesExactContentDuplicates(t *testing.T) {
	memories := []Memory{
		{MemoryID: "a", Content: "runs pfSense", Confidence: 0.6, LearnedAt: 100},
		{MemoryID: "b", Content: "runs pfSense", Confidence: 0.9, LearnedAt: 50},
	}
	d := NewDeduplicator()
	got := d.Dedup(memories)
	if len(got) != 1 {
		t.Fatalf("expected duplicates collapsed to one, got %d", len(got))
	}
	if got[0].MemoryID != "b" {
		t.Errorf("expected higher-confidence duplicate to survive, got %q", got[0].MemoryID)
	}
}

func TestDedupCollapsesNearDuplicateEmbeddings(t *testing.T) {
	memories := []Memory{
		{MemoryID: "a", Content: "has a home lab", Confidence: 0.7, LearnedAt: 10, Embedding: []float32{1, 0, 0}},
		{MemoryID: "b", Content: "runs a home lab setup", Confidence: 0.7, LearnedAt: 20, Embedding: []float32{0.999, 0.001, 0}},
	}
	d := NewDeduplicator(WithDedupThreshold(0.95))
	got := d.Dedup(memories)
	if len(got) != 1 {
		t.Fatalf("expected near-duplicate embeddings collapsed, got %d: %+v", len(got), got)
	}
}

func TestDedupKeepsDistinctMemories(t *testing.T) {
	memories := []Memory{
		{MemoryID: "a", Content: "lives in Austin", Confidence: 0.8, Embedding: []float32{1, 0, 0}},
		{MemoryID: "b", Content: "works as a backend engineer", Confidence: 0.8, Embedding: []float32{0, 1, 0}},
	}
	d := NewDeduplicator()
	got := d.Dedup(memories)
	if len(got) != 2 {
		t.Fatalf("expected distinct memories to both survive, got %d", len(got))
	}
}

func TestDedupPrefersDirectSupersessionOnTie(t *testing.T) {
	a := "a"
	memories := []Memory{
		{MemoryID: "a", Content: "same", Confidence: 0.5, LearnedAt: 100},
		{MemoryID: "b", Content: "same", Confidence: 0.5, LearnedAt: 100, Supersedes: &a},
	}
	d := NewDeduplicator()
	got := d.Dedup(memories)
	if len(got) != 1 || got[0].MemoryID != "b" {
		t.Fatalf("expected the directly superseding memory to win the tie, got %+v", got)
	}
}

func strPtr(s string) *string { return &s }
