package memengine

import (
	"context"
	"testing"
	"time"
)

type stubExtractionModelForEngine struct {
	response string
}

func (s stubExtractionModelForEngine) Complete(ctx context.Context, prompt string) (string, error) {
	return s.response, nil
}

func newTestEngine(t *testing.T, extractionResponse string) *Engine {
	t.Helper()
	e := New(
		WithStore(newFakeStore()),
		WithExtractionModel(stubExtractionModelForEngine{response: extractionResponse}),
		WithEmbeddingModel(fakeEmbeddingModel{dim: 128}),
		WithTokenizer(wordTokenizer{}),
		WithEngineMinRetrievalConfidence(0),
	)
	if err := e.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngineRequiresCollaborators(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected New to panic without a required option")
		}
	}()
	New(WithExtractionModel(stubExtractionModelForEngine{}))
}

func TestEngineIngestThenRetrieve(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, `[{"type":"proxmox_cluster_node_configuration","content":"Proxmox cluster has 4 nodes","explicit":true,"mentions":2}]`)

	summary, err := e.IngestConversation(ctx, "conv1", []Turn{
		{Role: "user", Text: "Just updated: the proxmox cluster has 4 nodes now", Timestamp: 1},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if summary.ExtractedN != 1 {
		t.Fatalf("expected one memory extracted, got %+v", summary)
	}

	got, err := e.Retrieve(ctx, "proxmox cluster nodes", 5, 0, nil)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 1 || got[0].Content != "Proxmox cluster has 4 nodes" {
		t.Fatalf("expected the ingested memory back, got %+v", got)
	}
}

func TestEngineIngestConversationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, `[{"type":"proxmox_cluster_node_configuration","content":"Proxmox cluster has 4 nodes","explicit":true,"mentions":2}]`)

	turns := []Turn{
		{Role: "user", Text: "Just updated: the proxmox cluster has 4 nodes now", Timestamp: 1},
	}

	first, err := e.IngestConversation(ctx, "conv1", turns)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if first.ExtractedN != 1 {
		t.Fatalf("expected one memory extracted, got %+v", first)
	}

	second, err := e.IngestConversation(ctx, "conv1", turns)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if second.ExtractedN != 0 {
		t.Fatalf("expected repeat ingest to extract nothing, got %+v", second)
	}

	memories, err := e.store.GetMemoriesValidAt(ctx, NowUnix())
	if err != nil {
		t.Fatalf("get valid: %v", err)
	}
	if len(memories) != 1 {
		t.Fatalf("expected exactly one stored memory after re-ingesting an identical transcript, got %d", len(memories))
	}

	extended := append(append([]Turn{}, turns...), Turn{Role: "user", Text: "also the datacenter moved to rack 3", Timestamp: 2})
	third, err := e.IngestConversation(ctx, "conv1", extended)
	if err != nil {
		t.Fatalf("third ingest: %v", err)
	}
	if third.ExtractedN != 1 {
		t.Fatalf("expected a changed transcript to be ingested normally, got %+v", third)
	}
}

func TestEnginePointInTime(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "")

	if _, err := e.storage.Apply(ctx, []Candidate{
		{Type: "t", Content: "old fact", Confidence: 0.9, ValidFrom: ptrTo(int64(100))},
	}, "conv1"); err != nil {
		t.Fatalf("apply: %v", err)
	}

	got, err := e.PointInTime(ctx, 150)
	if err != nil {
		t.Fatalf("point in time: %v", err)
	}
	if len(got) != 1 || got[0].Content != "old fact" {
		t.Fatalf("expected the fact valid at t=150, got %+v", got)
	}

	got, err = e.PointInTime(ctx, 50)
	if err != nil {
		t.Fatalf("point in time: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no facts valid before valid_from, got %+v", got)
	}
}

func TestEngineAdminTierTransition(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "")

	if err := e.store.UpsertMemory(ctx, Memory{
		MemoryID: "m1", Type: "t", Confidence: 0.95, ValidFrom: 1, LearnedAt: 1, AccessCount: 1000, Tier: TierShortTerm,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := e.AdminTierTransition(ctx, TierPolicy{})
	if err != nil {
		t.Fatalf("admin tier transition: %v", err)
	}
	if result.PromotedToLongTerm != 1 {
		t.Fatalf("expected 1 promotion, got %+v", result)
	}
}

func TestEngineObserveSweepFinishTriggersIngest(t *testing.T) {
	e := newTestEngine(t, `[{"type":"misc_personal_fact","content":"lives in a new apartment","explicit":true,"mentions":1}]`)

	e.ObserveTurn("conv-sweep", Turn{Role: "user", Text: "I just moved to a new apartment"})
	e.FinishConversation(context.Background(), "conv-sweep")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		memories, err := e.store.GetMemoriesValidAt(context.Background(), NowUnix())
		if err != nil {
			t.Fatalf("get valid: %v", err)
		}
		if len(memories) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for detached ingest to apply the finished conversation")
}

func ptrTo[T any](v T) *T { return &v }
