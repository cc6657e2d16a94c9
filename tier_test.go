package memengine

import (
	"context"
	"testing"
)

func TestTierForPromotesOnFrequency(t *testing.T) {
	m := Memory{Tier: TierShortTerm}
	got := tierFor(m, 0.5, 0.8, DefaultTierPolicy)
	if got != TierLongTerm {
		t.Fatalf("expected promotion to long_term, got %v", got)
	}
}

func TestTierForArchivesOnLowRelevance(t *testing.T) {
	m := Memory{Tier: TierShortTerm}
	got := tierFor(m, 0.1, 0.0, DefaultTierPolicy)
	if got != TierArchived {
		t.Fatalf("expected archival, got %v", got)
	}
}

func TestTierForKeepsLongTermWhenNeitherThresholdHits(t *testing.T) {
	m := Memory{Tier: TierLongTerm}
	got := tierFor(m, 0.5, 0.3, DefaultTierPolicy)
	if got != TierLongTerm {
		t.Fatalf("expected existing long_term memory to stay long_term, got %v", got)
	}
}

func TestTierForDefaultsToShortTerm(t *testing.T) {
	m := Memory{Tier: TierShortTerm}
	got := tierFor(m, 0.5, 0.3, DefaultTierPolicy)
	if got != TierShortTerm {
		t.Fatalf("expected short_term default, got %v", got)
	}
}

func TestTierTransitionerMovesMemoriesAndReportsCounts(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()

	promote := Memory{MemoryID: "promote", Type: "t", Confidence: 0.9, ValidFrom: 1, LearnedAt: 1, AccessCount: 1000, Tier: TierShortTerm}
	archive := Memory{MemoryID: "archive", Type: "t", Confidence: 0, ValidFrom: 1, LearnedAt: 1 - 1000*86400, Tier: TierShortTerm}
	store.UpsertMemory(ctx, promote)
	store.UpsertMemory(ctx, archive)

	tr := NewTierTransitioner(store)
	result, err := tr.Transition(ctx)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if result.PromotedToLongTerm != 1 {
		t.Errorf("expected 1 promotion, got %+v", result)
	}
	if result.Archived != 1 {
		t.Errorf("expected 1 archival, got %+v", result)
	}

	got, _ := store.GetMemory(ctx, "promote")
	if got.Tier != TierLongTerm {
		t.Errorf("expected promote memory tier long_term, got %v", got.Tier)
	}
	got, _ = store.GetMemory(ctx, "archive")
	if got.Tier != TierArchived {
		t.Errorf("expected archive memory tier archived, got %v", got.Tier)
	}
}
