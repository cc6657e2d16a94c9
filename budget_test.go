package memengine

import "testing"

type wordTokenizer struct{}

func (wordTokenizer) Count(text string) int { return len([]rune(text)) }

func TestBudgetApplyHardCutoffDropsOverflow(t *testing.T) {
	b := NewBudgetManager(wordTokenizer{}, WithBudgetTokens(20), WithBudgetReserve(0), WithBudgetStrategy(HardCutoff))
	memories := []Memory{
		{MemoryID: "a", Content: "0123456789"},
		{MemoryID: "b", Content: "0123456789"},
		{MemoryID: "c", Content: "0123456789"},
	}
	got := b.Apply(memories)
	if len(got) != 2 {
		t.Fatalf("expected 2 memories to fit a 20-token budget of 10-token items, got %d", len(got))
	}
}

func TestBudgetApplyTruncateShortensLastMemory(t *testing.T) {
	b := NewBudgetManager(wordTokenizer{}, WithBudgetTokens(15), WithBudgetReserve(0), WithBudgetStrategy(Truncate))
	memories := []Memory{
		{MemoryID: "a", Content: "0123456789"},
		{MemoryID: "b", Content: "0123456789"},
	}
	got := b.Apply(memories)
	if len(got) != 2 {
		t.Fatalf("expected truncate to keep both entries, got %d", len(got))
	}
	if len(got[1].Content) != 5 {
		t.Errorf("expected second memory truncated to 5 runes, got %q (%d)", got[1].Content, len(got[1].Content))
	}
}

func TestBudgetApplyZeroAvailableReturnsNil(t *testing.T) {
	b := NewBudgetManager(wordTokenizer{}, WithBudgetTokens(5), WithBudgetReserve(10))
	got := b.Apply([]Memory{{MemoryID: "a", Content: "hi"}})
	if got != nil {
		t.Errorf("expected nil when reserve exceeds budget, got %+v", got)
	}
}

func TestBudgetApplyCachesTokenCount(t *testing.T) {
	b := NewBudgetManager(wordTokenizer{}, WithBudgetTokens(100), WithBudgetReserve(0))
	memories := []Memory{{MemoryID: "a", Content: "0123456789"}}
	got := b.Apply(memories)
	if len(got) != 1 || got[0].TokenCount != 10 {
		t.Fatalf("expected TokenCount cached to 10, got %+v", got)
	}
}
