package memengine

import (
	"context"
	"log/slog"
	"strings"
)

// TemporalManager decides whether a new candidate memory contradicts an
// existing one, and if so, closes the existing memory's validity interval
// and links the two with a SUPERSEDES edge plus agreeing scalar pointers.
//
// Grounded in the merge-on-contradiction idiom of the teacher's
// UpsertFact (cosine-threshold match, confidence as the tie-break) and its
// deleteSupersededFact, generalized here from hard delete into a
// closed-interval link so superseded memories are preserved, per the
// bi-temporal data model.
type TemporalManager struct {
	store  Store
	logger *slog.Logger

	simThreshold float32 // contradict_sim_threshold, nominally 0.85
}

// TemporalOption configures a TemporalManager.
type TemporalOption func(*TemporalManager)

// WithContradictSimThreshold sets the cosine similarity floor above which
// two same-type-prefix memories are considered to describe the same fact
// (nominally 0.85).
func WithContradictSimThreshold(t float32) TemporalOption {
	return func(tm *TemporalManager) { tm.simThreshold = t }
}

// WithTemporalLogger sets the structured logger for a TemporalManager.
func WithTemporalLogger(l *slog.Logger) TemporalOption {
	return func(tm *TemporalManager) { tm.logger = l }
}

// NewTemporalManager creates a TemporalManager bound to store.
func NewTemporalManager(store Store, opts ...TemporalOption) *TemporalManager {
	tm := &TemporalManager{
		store:        store,
		logger:       slog.New(discardHandler{}),
		simThreshold: 0.85,
	}
	for _, o := range opts {
		o(tm)
	}
	return tm
}

// Contradicted reports whether candidate contradicts existing memory e,
// per the conservative rule in section 4.3: same type prefix, cosine
// similarity at or above the threshold (bypassed for corrective
// candidates), e currently valid, and candidate content is not a literal
// restatement of e's content.
func (tm *TemporalManager) Contradicted(candidate Candidate, candEmbedding []float32, e Memory, similarity float32) bool {
	if !e.IsCurrentlyValid() {
		return false
	}
	if TypePrefix(candidate.Type) != TypePrefix(e.Type) {
		return false
	}
	if strings.Contains(e.Content, candidate.Content) || strings.Contains(candidate.Content, e.Content) {
		return false
	}
	if !candidate.Corrective && similarity < tm.simThreshold {
		return false
	}
	return true
}

// ResolveContradictions closes the validity interval of every memory in
// contradicted and links each to newMemory with a SUPERSEDES edge and
// agreeing scalar pointers. When multiple neighbors qualify, newMemory may
// supersede more than one (materialized as N edges); the scalar
// Supersedes field is set to point at the highest-confidence predecessor.
// Out-of-order evidence (candidate.ValidFrom < e.ValidFrom) is rejected
// for a given neighbor: the neighbor stays open, and no link is written
// for it.
func (tm *TemporalManager) ResolveContradictions(ctx context.Context, newMemory Memory, contradicted []Memory) error {
	if len(contradicted) == 0 {
		return nil
	}

	var best *Memory
	for i := range contradicted {
		e := contradicted[i]
		if e.ValidFrom > newMemory.ValidFrom {
			tm.logger.WarnContext(ctx, "out-of-order evidence, skipping link",
				"memory_id", e.MemoryID, "candidate_valid_from", newMemory.ValidFrom, "existing_valid_from", e.ValidFrom)
			continue
		}
		if cyc, err := tm.WouldCycle(ctx, newMemory.MemoryID, e.MemoryID); err != nil {
			tm.logger.ErrorContext(ctx, "cycle check failed, skipping link", "memory_id", e.MemoryID, "error", err)
			continue
		} else if cyc {
			tm.logger.ErrorContext(ctx, "refusing to link, would introduce a SUPERSEDES cycle",
				"successor", newMemory.MemoryID, "predecessor", e.MemoryID)
			continue
		}

		if best == nil || e.Confidence > best.Confidence {
			best = &contradicted[i]
		}

		// Fixed write order: edge first (authoritative on read), then the
		// scalar pointers via SetSupersedes, per the back-reference
		// redesign note.
		if gs, ok := tm.store.(GraphStore); ok {
			if err := gs.StoreEdges(ctx, []Edge{{
				ID:       NewID(),
				SourceID: newMemory.MemoryID,
				TargetID: e.MemoryID,
				Relation: RelationSupersedes,
				Weight:   1.0,
			}}); err != nil {
				tm.logger.ErrorContext(ctx, "store supersedes edge", "error", err)
			}
		}
		if err := tm.store.SetSupersedes(ctx, newMemory.MemoryID, e.MemoryID, newMemory.ValidFrom); err != nil {
			return &ErrStoreUnavailable{Op: "set_supersedes", Err: err}
		}
	}

	if best != nil {
		newMemory.Supersedes = &best.MemoryID
		if err := tm.store.UpsertMemory(ctx, newMemory); err != nil {
			return &ErrStoreUnavailable{Op: "upsert_memory", Err: err}
		}
	}
	return nil
}

// WouldCycle reports whether linking predecessorID as superseded-by
// successorID would introduce a cycle in the SUPERSEDES graph, by checking
// whether predecessorID is reachable from successorID. Call this before
// committing a new edge, per the cycle-prevention-at-write-time design
// note. GraphStore is required for this check: without one, WouldCycle
// reports false and no cycle check is made.
func (tm *TemporalManager) WouldCycle(ctx context.Context, successorID, predecessorID string) (bool, error) {
	gs, ok := tm.store.(GraphStore)
	if !ok {
		return false, nil
	}
	hits, err := gs.Traverse(ctx, []string{successorID}, 64, RelationSupersedes)
	if err != nil {
		return false, err
	}
	for _, h := range hits {
		if h.MemoryID == predecessorID {
			return true, nil
		}
	}
	return false, nil
}

// discardHandler is a no-op slog.Handler used as the default logger
// everywhere a component accepts an optional *slog.Logger, matching the
// teacher's nopLogger idiom.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
