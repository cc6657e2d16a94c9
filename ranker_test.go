package memengine

import "testing"

func TestRankerRecencyDecaysWithAge(t *testing.T) {
	r := NewRanker(WithHalfLifeDays(10))
	now := int64(1000000)
	fresh := Memory{LearnedAt: now}
	old := Memory{LearnedAt: now - 10*86400}

	freshScore := r.recency(fresh, now)
	oldScore := r.recency(old, now)

	if freshScore != 1 {
		t.Errorf("recency of a just-learned memory = %v, want 1", freshScore)
	}
	if oldScore < 0.49 || oldScore > 0.51 {
		t.Errorf("recency at one half-life = %v, want ~0.5", oldScore)
	}
}

func TestRankerRecencyClampsFutureLearnedAt(t *testing.T) {
	r := NewRanker()
	now := int64(1000)
	future := Memory{LearnedAt: now + 500}
	if got := r.recency(future, now); got != 1 {
		t.Errorf("recency with LearnedAt in the future = %v, want 1 (clamped age)", got)
	}
}

func TestRankerFrequencyCapsAtOne(t *testing.T) {
	r := NewRanker(WithFrequencyCap(10))
	low := Memory{AccessCount: 0}
	high := Memory{AccessCount: 10000}

	if got := r.frequency(low); got != 0 {
		t.Errorf("frequency with zero accesses = %v, want 0", got)
	}
	if got := r.frequency(high); got != 1 {
		t.Errorf("frequency far beyond cap = %v, want 1 (clamped)", got)
	}
}

func TestRankerRankOrdersByDescendingScore(t *testing.T) {
	r := NewRanker()
	now := int64(1_700_000_000)
	memories := []Memory{
		{MemoryID: "low", Confidence: 0.2, LearnedAt: now - 1000*86400},
		{MemoryID: "high", Confidence: 0.95, LearnedAt: now},
	}
	simNorm := map[string]float64{"low": 0.1, "high": 0.9}

	scored := r.Rank(memories, simNorm, now)
	if len(scored) != 2 {
		t.Fatalf("expected 2 scored results, got %d", len(scored))
	}
	if scored[0].Memory.MemoryID != "high" {
		t.Errorf("expected highest-scoring memory first, got %q", scored[0].Memory.MemoryID)
	}
	if scored[0].Score < scored[1].Score {
		t.Errorf("expected descending score order, got %v then %v", scored[0].Score, scored[1].Score)
	}
}

func TestRankerRankBreaksTiesOnLearnedAt(t *testing.T) {
	r := NewRanker()
	now := int64(1_700_000_000)
	memories := []Memory{
		{MemoryID: "older", Confidence: 0.5, LearnedAt: now - 86400},
		{MemoryID: "newer", Confidence: 0.5, LearnedAt: now},
	}
	simNorm := map[string]float64{"older": 0.5, "newer": 0.5}

	// Rank as of a time before both LearnedAt values: recency clamps to 1
	// for both, so the composite scores tie exactly.
	scored := r.Rank(memories, simNorm, now-2*86400)
	if scored[0].Memory.MemoryID != "newer" {
		t.Errorf("expected tie broken in favor of most recently learned, got %q first", scored[0].Memory.MemoryID)
	}
}
