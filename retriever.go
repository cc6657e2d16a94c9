package memengine

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
)

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// Retriever runs the dense vector k-NN and BM25 sub-queries concurrently,
// then a bounded graph traversal seeded by their hits, and fuses the three
// rankings with Reciprocal Rank Fusion. Grounded in the teacher's concurrent fan-out
// idiom (errgroup across independent retrieval stages) plus its
// Tracer/Span instrumentation, generalized here with one gobreaker.
// CircuitBreaker per sub-query so a consistently failing backend (e.g. an
// FTS5 index that isn't built) stops being retried on every call instead
// of timing out each request.
type Retriever struct {
	store     Store
	embedding *EmbeddingClient
	tracer    Tracer
	logger    *slog.Logger

	maxHops int // graph traversal bound, nominally 2

	minRetrievalConfidence float64 // confidence floor applied after fusion, nominally 0.4

	vecBreaker   *gobreaker.CircuitBreaker[[]VectorHit]
	bm25Breaker  *gobreaker.CircuitBreaker[[]TextHit]
	graphBreaker *gobreaker.CircuitBreaker[[]TraversalHit]

	// RRF tuning, section 4.6.
	rrfK   float64
	wVec   float64
	wBM25  float64
	wGraph float64
}

// WithRetrieverTracer sets the Tracer used to instrument sub-queries.
func WithRetrieverTracer(t Tracer) RetrieverOption {
	return func(r *Retriever) { r.tracer = t }
}

// WithRetrieverLogger sets the structured logger for a Retriever.
func WithRetrieverLogger(l *slog.Logger) RetrieverOption {
	return func(r *Retriever) { r.logger = l }
}

// WithMaxHops sets the graph traversal depth bound (default 2).
func WithMaxHops(hops int) RetrieverOption {
	return func(r *Retriever) { r.maxHops = hops }
}

// WithMinRetrievalConfidence sets min_retrieval_confidence, the floor below
// which fused memories are dropped before being returned (default 0.4).
func WithMinRetrievalConfidence(min float64) RetrieverOption {
	return func(r *Retriever) { r.minRetrievalConfidence = min }
}

// WithRRFWeights sets the fusion constants (defaults k=60, vec=1.0,
// bm25=0.8, graph=0.6).
func WithRRFWeights(k, wVec, wBM25, wGraph float64) RetrieverOption {
	return func(r *Retriever) {
		r.rrfK, r.wVec, r.wBM25, r.wGraph = k, wVec, wBM25, wGraph
	}
}

func newBreaker[T any](name string) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// NewRetriever creates a Retriever bound to store and embedding.
func NewRetriever(store Store, embedding *EmbeddingClient, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		store:     store,
		embedding: embedding,
		logger:                 slog.New(discardHandler{}),
		maxHops:                2,
		minRetrievalConfidence: 0.4,
		rrfK:                   60,
		wVec:                   1.0,
		wBM25:                  0.8,
		wGraph:                 0.6,
	}
	r.vecBreaker = newBreaker[[]VectorHit]("vector_search")
	r.bm25Breaker = newBreaker[[]TextHit]("bm25_search")
	r.graphBreaker = newBreaker[[]TraversalHit]("graph_traversal")
	for _, o := range opts {
		o(r)
	}
	return r
}

// Retrieve fuses up to three sub-queries for queryText and returns up to k
// memories in descending fused RRF order, restricted by filter. The fused
// scores themselves are not returned.
// Any sub-query that errors (model unavailable, breaker open, store
// failure) degrades gracefully: its ranks are simply absent from fusion,
// never aborting the whole retrieval, per the hybrid-retrieval contract.
// Graph expansion is skipped entirely when store doesn't implement
// GraphStore.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, k int, filter Filter) ([]Memory, error) {
	if filter.MinConfidence <= 0 {
		filter.MinConfidence = r.minRetrievalConfidence
	}
	if r.tracer != nil {
		var span Span
		ctx, span = r.tracer.Start(ctx, "retriever.retrieve")
		defer span.End()
	}

	g, gctx := errgroup.WithContext(ctx)

	var vecHits []VectorHit
	var textHits []TextHit
	var seedIDs []string

	g.Go(func() error {
		hits, err := r.runVectorSearch(gctx, queryText, k, filter)
		if err != nil {
			r.logger.WarnContext(ctx, "vector sub-query degraded", "error", err)
			return nil
		}
		vecHits = hits
		return nil
	})

	g.Go(func() error {
		hits, err := r.runBM25Search(gctx, queryText, k, filter)
		if err != nil {
			r.logger.WarnContext(ctx, "bm25 sub-query degraded", "error", err)
			return nil
		}
		textHits = hits
		for _, h := range hits {
			seedIDs = append(seedIDs, h.MemoryID)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, h := range vecHits {
		seedIDs = append(seedIDs, h.MemoryID)
	}

	var graphHits []TraversalHit
	if gs, ok := r.store.(GraphStore); ok && len(seedIDs) > 0 {
		hits, err := r.runGraphTraversal(ctx, gs, seedIDs)
		if err != nil {
			r.logger.WarnContext(ctx, "graph sub-query degraded", "error", err)
		} else {
			graphHits = hits
		}
	}

	fused := r.fuse(vecHits, textHits, graphHits)
	if len(fused) == 0 {
		return nil, nil
	}

	top := fused
	if len(top) > k {
		top = top[:k]
	}
	ids := make([]string, len(top))
	for i, f := range top {
		ids[i] = f.id
	}

	memories, err := r.store.GetMemoriesByIDs(ctx, ids)
	if err != nil {
		return nil, &ErrStoreUnavailable{Op: "get_memories_by_ids", Err: err}
	}
	byID := make(map[string]Memory, len(memories))
	for _, m := range memories {
		byID[m.MemoryID] = m
	}

	// Graph-traversal hits bypass the store-level filter (Traverse takes no
	// Filter), so re-apply the confidence and validity constraints here per
	// section 4.6 step 4. Vector/BM25 hits were already filtered by the
	// store but are cheap to re-check.
	ordered := make([]Memory, 0, len(top))
	for _, f := range top {
		m, ok := byID[f.id]
		if !ok {
			continue
		}
		if m.Confidence < filter.MinConfidence {
			continue
		}
		if filter.AtTime != nil {
			if !m.ValidAt(*filter.AtTime) {
				continue
			}
		} else if filter.CurrentlyValid && !m.IsCurrentlyValid() {
			continue
		}
		ordered = append(ordered, m)
	}
	return ordered, nil
}

func (r *Retriever) runVectorSearch(ctx context.Context, queryText string, k int, filter Filter) ([]VectorHit, error) {
	vecs, err := r.embedding.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, err
	}
	return r.vecBreaker.Execute(func() ([]VectorHit, error) {
		return r.store.VectorSearch(ctx, vecs[0], k, filter)
	})
}

func (r *Retriever) runBM25Search(ctx context.Context, queryText string, k int, filter Filter) ([]TextHit, error) {
	return r.bm25Breaker.Execute(func() ([]TextHit, error) {
		return r.store.BM25Search(ctx, queryText, k, filter)
	})
}

func (r *Retriever) runGraphTraversal(ctx context.Context, gs GraphStore, seedIDs []string) ([]TraversalHit, error) {
	return r.graphBreaker.Execute(func() ([]TraversalHit, error) {
		return gs.Traverse(ctx, seedIDs, r.maxHops, RelationSupersedes, RelationRelatedTo)
	})
}

type fusedHit struct {
	id    string
	score float64
}

// fuse combines the three sub-query result sets with Reciprocal Rank
// Fusion: score_rrf(m) = sum(w_i / (k_rrf + rank_i(m))) over sources where
// m appears, per section 4.6. Graph hits are discounted further by hop
// count (an extra +hops added to the rank) so farther graph neighbors
// contribute less than direct ones.
func (r *Retriever) fuse(vecHits []VectorHit, textHits []TextHit, graphHits []TraversalHit) []fusedHit {
	scores := make(map[string]float64)

	for i, h := range vecHits {
		scores[h.MemoryID] += r.wVec / (r.rrfK + float64(i+1))
	}
	for i, h := range textHits {
		scores[h.MemoryID] += r.wBM25 / (r.rrfK + float64(i+1))
	}
	for i, h := range graphHits {
		rank := i + 1 + h.Hops
		scores[h.MemoryID] += r.wGraph / (r.rrfK + float64(rank))
	}

	out := make([]fusedHit, 0, len(scores))
	for id, s := range scores {
		out = append(out, fusedHit{id: id, score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].id < out[j].id
	})
	return out
}
