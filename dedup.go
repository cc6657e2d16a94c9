package memengine

// Deduplicator removes exact duplicates, near duplicates, and superseded
// items from a retrieval result set before ranking. O(n^2) comparison is
// acceptable at the bounded result-set sizes (n <= 50) this runs over,
// per the dedup component's complexity note.
type Deduplicator struct {
	nearThreshold float32 // dedup_threshold, nominally 0.92
}

// DedupOption configures a Deduplicator.
type DedupOption func(*Deduplicator)

// WithDedupThreshold sets the cosine similarity floor above which two
// memories are considered near-duplicates (default 0.92).
func WithDedupThreshold(t float32) DedupOption {
	return func(d *Deduplicator) { d.nearThreshold = t }
}

// NewDeduplicator creates a Deduplicator.
func NewDeduplicator(opts ...DedupOption) *Deduplicator {
	d := &Deduplicator{nearThreshold: 0.92}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dedup removes, in order: memories whose SupersededBy points at another
// member of candidates, exact content duplicates, and near duplicates
// (cosine similarity at or above nearThreshold). Within any duplicate
// group the highest-confidence member survives; ties break on most recent
// LearnedAt, then on the direct SUPERSEDES relation if one member
// supersedes the other.
func (d *Deduplicator) Dedup(candidates []Memory) []Memory {
	if len(candidates) <= 1 {
		return candidates
	}

	present := make(map[string]bool, len(candidates))
	for _, m := range candidates {
		present[m.MemoryID] = true
	}
	withoutSuperseded := candidates[:0:0]
	for _, m := range candidates {
		if m.SupersededBy != nil && present[*m.SupersededBy] {
			continue
		}
		withoutSuperseded = append(withoutSuperseded, m)
	}

	return d.dedupContent(withoutSuperseded)
}

// dedupContent groups by exact content match first, then by near-duplicate
// cosine similarity among the survivors, keeping the best of each group.
func (d *Deduplicator) dedupContent(memories []Memory) []Memory {
	kept := make([]Memory, 0, len(memories))
	consumed := make([]bool, len(memories))

	for i := range memories {
		if consumed[i] {
			continue
		}
		best := i
		for j := i + 1; j < len(memories); j++ {
			if consumed[j] {
				continue
			}
			if !d.duplicates(memories[best], memories[j]) {
				continue
			}
			consumed[j] = true
			if d.preferred(memories[j], memories[best]) {
				best = j
			}
		}
		consumed[best] = true
		kept = append(kept, memories[best])
	}
	return kept
}

// duplicates reports whether a and b should be treated as the same
// underlying fact: identical content, or cosine similarity at or above
// nearThreshold when both carry embeddings.
func (d *Deduplicator) duplicates(a, b Memory) bool {
	if a.Content == b.Content {
		return true
	}
	if a.Embedding == nil || b.Embedding == nil {
		return false
	}
	return cosineSimilarity(a.Embedding, b.Embedding) >= d.nearThreshold
}

// preferred reports whether candidate should replace incumbent as the
// group's survivor: higher confidence wins; a confidence tie goes to the
// more recently learned memory; a further tie goes to whichever directly
// supersedes the other.
func (d *Deduplicator) preferred(candidate, incumbent Memory) bool {
	if candidate.Confidence != incumbent.Confidence {
		return candidate.Confidence > incumbent.Confidence
	}
	if candidate.LearnedAt != incumbent.LearnedAt {
		return candidate.LearnedAt > incumbent.LearnedAt
	}
	if candidate.Supersedes != nil && *candidate.Supersedes == incumbent.MemoryID {
		return true
	}
	return false
}
