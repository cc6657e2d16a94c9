package memengine

import "context"

// VectorHit is a memory_id paired with its cosine similarity from a
// vector_search call.
type VectorHit struct {
	MemoryID   string
	Similarity float32
}

// TextHit is a memory_id paired with its BM25-style relevance score from a
// bm25_search call.
type TextHit struct {
	MemoryID string
	Score    float32
}

// TraversalHit is a memory reached during a bounded graph traversal,
// together with the hop distance from its nearest seed.
type TraversalHit struct {
	MemoryID string
	Hops     int
}

// Store persists memories, their edges, and the vector and full-text
// indexes needed for hybrid retrieval. Any store offering the five
// properties named in the design notes — uniqueness on memory_id, range
// indexes on the temporal columns, a cosine vector index, a stemming
// full-text index, and graph traversal — is admissible; persisted state
// layout is logical, not byte-exact.
type Store interface {
	// UpsertMemory inserts or replaces a memory keyed on MemoryID. Idempotent.
	UpsertMemory(ctx context.Context, m Memory) error

	// GetMemory fetches a single memory by ID.
	GetMemory(ctx context.Context, memoryID string) (Memory, error)

	// SetSupersedes closes oldID's validity interval and links it to
	// newID. Idempotent; issuing it twice with the same arguments leaves
	// the store in the same state.
	SetSupersedes(ctx context.Context, newID, oldID string, validUntil int64) error

	// VectorSearch returns the k nearest memories to queryVec by cosine
	// similarity, narrowed by filter. Ties break by higher confidence
	// first, then more recent LearnedAt.
	VectorSearch(ctx context.Context, queryVec []float32, k int, filter Filter) ([]VectorHit, error)

	// BM25Search returns the k most lexically relevant memories to
	// queryText, narrowed by filter.
	BM25Search(ctx context.Context, queryText string, k int, filter Filter) ([]TextHit, error)

	// GetMemoriesByIDs batch-fetches full Memory records, preserving no
	// particular order.
	GetMemoriesByIDs(ctx context.Context, ids []string) ([]Memory, error)

	// GetMemoriesValidAt returns every memory whose validity interval
	// contains t, for PointInTime queries.
	GetMemoriesValidAt(ctx context.Context, t int64) ([]Memory, error)

	// UpdateAccess bumps AccessCount and sets LastAccessed := when. Called
	// fire-and-forget by AccessTracker; must never block a retrieval path.
	UpdateAccess(ctx context.Context, memoryID string, when int64) error

	// UpdateTier changes a memory's lifecycle tier. Called only by the
	// scheduled tier-transition job, never on the hot path.
	UpdateTier(ctx context.Context, memoryID string, tier Tier) error

	// ClaimForEmbedding returns up to limit memories with a null embedding
	// and atomically marks them claimed, so that concurrent BackfillWorker
	// instances never compute the same memory twice. A claimed memory
	// whose embedding is written by WriteEmbedding is never reclaimed;
	// implementations are free to expire stale claims.
	ClaimForEmbedding(ctx context.Context, limit int) ([]Memory, error)

	// WriteEmbedding is a conditional write: it succeeds only if the
	// target memory's embedding is still null, so a backfill worker that
	// raced another one's claim cannot clobber a fresher write.
	WriteEmbedding(ctx context.Context, memoryID string, embedding []float32) (bool, error)

	Init(ctx context.Context) error
	Close() error
}

// GraphStore is an optional Store capability for bounded graph traversal
// over memory edges. Store implementations that maintain an edge table
// implement this; callers discover it via type assertion and degrade to
// vector+BM25-only retrieval when it is absent.
type GraphStore interface {
	StoreEdges(ctx context.Context, edges []Edge) error
	GetEdges(ctx context.Context, memoryIDs []string, types ...RelationType) ([]Edge, error)
	GetIncomingEdges(ctx context.Context, memoryIDs []string, types ...RelationType) ([]Edge, error)
	// Traverse performs a bounded BFS from seedIDs over edges whose
	// Relation is in types (all relations if types is empty), up to
	// maxHops, returning every reached memory_id with its hop distance.
	Traverse(ctx context.Context, seedIDs []string, maxHops int, types ...RelationType) ([]TraversalHit, error)
}
