package memengine

// Tokenizer counts tokens in a string. Implementations are expected to be
// offline and fast (no network round trip) since BudgetManager calls this
// on the retrieval hot path; the count is cached on Memory.TokenCount
// after the first call for a given memory so repeated retrievals of the
// same memory don't re-tokenize.
type Tokenizer interface {
	Count(text string) int
}

// BudgetStrategy selects how BudgetManager behaves once the token budget
// is exhausted mid-list.
type BudgetStrategy string

const (
	// HardCutoff drops every memory once the running total would exceed
	// the budget, even if a later, smaller memory would have fit.
	HardCutoff BudgetStrategy = "hard_cutoff"
	// Truncate keeps as much of the next memory's content as fits in the
	// remaining budget, truncating at a rune boundary, then stops.
	Truncate BudgetStrategy = "truncate"
)

// BudgetManager enforces a token budget over a ranked memory list before
// it's formatted into context, per section 4.9. A fixed reserve is held
// back for formatting overhead (separators, headers) that isn't counted
// per-memory.
type BudgetManager struct {
	tokenizer Tokenizer
	strategy  BudgetStrategy

	budgetTokens int
	reserve      int
}

// BudgetOption configures a BudgetManager.
type BudgetOption func(*BudgetManager)

// WithBudgetTokens sets the total token budget (default 2000).
func WithBudgetTokens(n int) BudgetOption {
	return func(b *BudgetManager) { b.budgetTokens = n }
}

// WithBudgetReserve sets tokens reserved for formatting, not content
// (default 50).
func WithBudgetReserve(n int) BudgetOption {
	return func(b *BudgetManager) { b.reserve = n }
}

// WithBudgetStrategy sets the overflow strategy (default HardCutoff).
func WithBudgetStrategy(s BudgetStrategy) BudgetOption {
	return func(b *BudgetManager) { b.strategy = s }
}

// NewBudgetManager creates a BudgetManager bound to tokenizer.
func NewBudgetManager(tokenizer Tokenizer, opts ...BudgetOption) *BudgetManager {
	b := &BudgetManager{
		tokenizer:    tokenizer,
		strategy:     HardCutoff,
		budgetTokens: 2000,
		reserve:      50,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Apply walks memories in order (already ranked by the caller) and returns
// the prefix that fits within the token budget, mutating TokenCount on
// each memory in place as a cache. Under Truncate, the last memory that
// doesn't fully fit has its Content shortened to the remaining budget
// instead of being dropped outright, provided at least one token of room
// remains.
func (b *BudgetManager) Apply(memories []Memory) []Memory {
	available := b.budgetTokens - b.reserve
	if available <= 0 {
		return nil
	}

	out := make([]Memory, 0, len(memories))
	var used int
	for i := range memories {
		m := memories[i]
		if m.TokenCount == 0 {
			m.TokenCount = b.tokenizer.Count(m.Content)
		}

		remaining := available - used
		if m.TokenCount <= remaining {
			used += m.TokenCount
			out = append(out, m)
			continue
		}

		if b.strategy == Truncate && remaining > 0 {
			m.Content = b.truncateToTokens(m.Content, remaining)
			m.TokenCount = b.tokenizer.Count(m.Content)
			out = append(out, m)
			used = available
		}
		break
	}
	return out
}

// truncateToTokens returns the longest rune prefix of text whose token
// count is at most maxTokens. Offline tokenizers don't expose a
// token-to-byte-offset map, so it binary-searches the prefix length,
// counting each candidate prefix with the tokenizer.
func (b *BudgetManager) truncateToTokens(text string, maxTokens int) string {
	runes := []rune(text)
	lo, hi := 0, len(runes)
	best := ""
	for lo <= hi {
		mid := (lo + hi) / 2
		candidate := string(runes[:mid])
		if b.tokenizer.Count(candidate) <= maxTokens {
			best = candidate
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}
