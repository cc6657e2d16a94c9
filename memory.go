// Package memengine implements the hybrid temporal memory engine: the
// subsystem that turns free-form conversation transcripts into a durable,
// queryable, self-organizing knowledge store and supplies a downstream
// language-model request path with relevant, non-redundant, token-budgeted
// context retrieved from that store.
package memengine

// Tier is a coarse lifecycle bucket governing a memory's visibility to
// retrieval by policy.
type Tier string

const (
	TierShortTerm Tier = "short_term"
	TierLongTerm  Tier = "long_term"
	TierArchived  Tier = "archived"
)

// RelationType labels an edge in the memory graph.
type RelationType string

const (
	// RelationSupersedes links a memory to the one it replaced on
	// contradiction. The edge is authoritative; Memory.SupersededBy and
	// Memory.Supersedes are maintained as agreeing scalar pointers but are
	// never trusted alone on read.
	RelationSupersedes RelationType = "SUPERSEDES"
	// RelationRelatedTo links memories discovered to be topically adjacent,
	// used only to widen graph-expansion retrieval; carries no temporal
	// semantics.
	RelationRelatedTo RelationType = "RELATED_TO"
)

// Memory is the single first-class entity of the engine.
//
// Content and Embedding never change after insert; Confidence never
// mutates after insert; LearnedAt is immutable. TemporalManager is the only
// writer of ValidUntil/SupersededBy; AccessTracker is the only writer of
// LastAccessed/AccessCount; the tier transition job is the only writer of
// Tier. See Invariants below — callers that bypass StorageService and
// TemporalManager are responsible for upholding them.
type Memory struct {
	MemoryID string `json:"memory_id"`
	Content  string `json:"content"`

	// Type is a short, free-form label emitted by the extractor (domain +
	// aspect + kind in 2-5 lowercase snake_case tokens, e.g.
	// "proxmox_cluster_node_configuration"). Never drawn from a closed set;
	// the engine must not reject on unknown types.
	Type string `json:"type"`

	// Confidence is in [0,1]. Set once at insert, never mutated; later
	// evidence creates new memories or supersedes this one.
	Confidence float64 `json:"confidence"`

	// Embedding is nullable until the backfill worker fills it in. Fixed
	// dimension across the whole store. Never changes once set; a change
	// of content requires a new memory.
	Embedding []float32 `json:"embedding,omitempty"`

	ValidFrom  int64  `json:"valid_from"`            // unix seconds
	ValidUntil *int64 `json:"valid_until,omitempty"`  // nil => currently valid
	LearnedAt  int64  `json:"learned_at"`             // immutable once set

	SupersededBy *string `json:"superseded_by,omitempty"`
	Supersedes   *string `json:"supersedes,omitempty"`

	Tier Tier `json:"tier"`

	LastAccessed *int64 `json:"last_accessed,omitempty"`
	AccessCount  int64  `json:"access_count"`

	SourceConversationID string `json:"source_conversation_id,omitempty"`

	// TokenCount caches the offline-tokenizer count for Content. Zero means
	// "not yet computed"; BudgetManager fills it in on first use.
	TokenCount int `json:"token_count,omitempty"`
}

// IsCurrentlyValid reports whether the memory is currently valid, i.e.
// invariant 5: ValidUntil is nil.
func (m Memory) IsCurrentlyValid() bool {
	return m.ValidUntil == nil
}

// ValidAt reports whether the memory's [ValidFrom, ValidUntil) interval
// contains t, per the PointInTime contract: valid_from <= t AND
// (valid_until IS NULL OR valid_until > t).
func (m Memory) ValidAt(t int64) bool {
	if t < m.ValidFrom {
		return false
	}
	return m.ValidUntil == nil || t < *m.ValidUntil
}

// TypePrefix returns the first two underscore-separated tokens of Type,
// used by TemporalManager to decide whether two memories share a "same
// normalized type prefix" for contradiction purposes.
func TypePrefix(typ string) string {
	n := 0
	for i, r := range typ {
		if r == '_' {
			n++
			if n == 2 {
				return typ[:i]
			}
		}
	}
	return typ
}

// Edge is a directed relationship between two memories, materializing
// Supersedes (and, optionally, RelatedTo) for graph traversal. Weight is
// in [0,1] and is consulted by bounded graph expansion during retrieval.
type Edge struct {
	ID       string       `json:"id"`
	SourceID string       `json:"source_id"`
	TargetID string       `json:"target_id"`
	Relation RelationType `json:"relation"`
	Weight   float32      `json:"weight"`
}

// Candidate is what the Extractor emits and StorageService consumes: a
// validated, fixed-shape record — never a dynamic duck-typed payload from
// the model. Type is a normalized string, not an enum.
type Candidate struct {
	Type       string
	Content    string
	Confidence float64
	Rationale  string
	// Corrective marks candidates the extractor tagged as an explicit
	// correction; these bypass TemporalManager's similarity threshold but
	// still require a matching type prefix.
	Corrective bool
	// ValidFrom optionally supplies an event time distinct from the
	// ingest-time default (open question: either is admissible, but
	// ValidUntil >= ValidFrom is enforced unconditionally).
	ValidFrom *int64
}

// Turn is one message in an ordered conversation transcript.
type Turn struct {
	Role      string
	Text      string
	Timestamp int64
}

// Filter restricts a Store search to a subset of memories. A nil pointer
// field means "unconstrained".
type Filter struct {
	TypePrefix     string
	CurrentlyValid bool  // only memories with ValidUntil == nil
	MinConfidence  float64
	AtTime         *int64 // point-in-time: ValidAt(*AtTime) instead of CurrentlyValid
}
