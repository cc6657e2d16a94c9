package memengine

import (
	"context"
	"log/slog"
)

// StorageService applies extracted candidates to the store: threshold
// filter, contradiction detection against near neighbors, insert, then
// superseding. Grounded in the teacher's extractAndPersistFacts, whose
// embed-then-upsert-then-handle-supersedes shape this follows, but
// generalized from hard-delete supersession into the closed-interval
// link TemporalManager performs.
type StorageService struct {
	store     Store
	embedding *EmbeddingClient
	temporal  *TemporalManager
	logger    *slog.Logger

	minConfidence float64 // min_extraction_confidence, redundant safety net: the Extractor already filters
	neighborK     int
}

// StorageOption configures a StorageService.
type StorageOption func(*StorageService)

// WithStorageMinConfidence sets the floor applied again at StorageService
// (defense in depth against a misconfigured Extractor).
func WithStorageMinConfidence(min float64) StorageOption {
	return func(s *StorageService) { s.minConfidence = min }
}

// WithNeighborK sets how many near neighbors StorageService asks for per
// candidate when checking for contradictions (default 5).
func WithNeighborK(k int) StorageOption {
	return func(s *StorageService) { s.neighborK = k }
}

// WithStorageLogger sets the structured logger for a StorageService.
func WithStorageLogger(l *slog.Logger) StorageOption {
	return func(s *StorageService) { s.logger = l }
}

// NewStorageService creates a StorageService wiring store, embedding, and
// temporal together.
func NewStorageService(store Store, embedding *EmbeddingClient, temporal *TemporalManager, opts ...StorageOption) *StorageService {
	s := &StorageService{
		store:         store,
		embedding:     embedding,
		temporal:      temporal,
		logger:        slog.New(discardHandler{}),
		minConfidence: 0.6,
		neighborK:     5,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ApplyResult summarizes the outcome of applying a batch of candidates.
type ApplyResult struct {
	ExtractedN  int
	SupersededN int
}

// Apply runs the five-step pipeline from section 4.2 for each candidate in
// order: candidates from the same transcript are processed serially so
// that the contradiction resolution for one completes before the next
// begins. conversationID is opaque provenance, attached to every inserted
// memory's SourceConversationID.
func (s *StorageService) Apply(ctx context.Context, candidates []Candidate, conversationID string) (ApplyResult, error) {
	var result ApplyResult

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if cand.Confidence < s.minConfidence {
			continue
		}
		if cand.Content == "" || cand.Type == "" {
			s.logger.WarnContext(ctx, "dropping malformed candidate", "type", cand.Type)
			continue
		}

		now := NowUnix()
		validFrom := now
		if cand.ValidFrom != nil {
			validFrom = *cand.ValidFrom
		}

		embs, err := s.embedding.Embed(ctx, []string{cand.Content})
		var embedding []float32
		if err != nil {
			s.logger.WarnContext(ctx, "embedding unavailable at ingest, memory queued for backfill", "error", err)
		} else if len(embs) > 0 {
			embedding = embs[0]
		}

		memory := Memory{
			MemoryID:             NewID(),
			Content:              cand.Content,
			Type:                 cand.Type,
			Confidence:           cand.Confidence,
			Embedding:            embedding,
			ValidFrom:            validFrom,
			LearnedAt:            now,
			Tier:                 TierShortTerm,
			SourceConversationID: conversationID,
		}

		contradicted, err := s.findContradicted(ctx, cand, embedding, memory)
		if err != nil {
			s.logger.ErrorContext(ctx, "near-neighbor search failed, inserting without contradiction check", "error", err)
		}

		if err := s.store.UpsertMemory(ctx, memory); err != nil {
			return result, &ErrStoreUnavailable{Op: "upsert_memory", Err: err}
		}
		result.ExtractedN++

		if len(contradicted) > 0 {
			if err := s.temporal.ResolveContradictions(ctx, memory, contradicted); err != nil {
				return result, err
			}
			result.SupersededN += len(contradicted)
		}
	}

	return result, nil
}

// findContradicted asks the store for the top neighborK memories
// semantically near the candidate, restricted to the same type prefix and
// currently valid, then asks TemporalManager which of them the candidate
// contradicts.
func (s *StorageService) findContradicted(ctx context.Context, cand Candidate, embedding []float32, newMemory Memory) ([]Memory, error) {
	if embedding == nil {
		return nil, nil
	}

	filter := Filter{
		TypePrefix:     TypePrefix(cand.Type),
		CurrentlyValid: true,
	}
	hits, err := s.store.VectorSearch(ctx, embedding, s.neighborK, filter)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	simByID := make(map[string]float32, len(hits))
	for i, h := range hits {
		ids[i] = h.MemoryID
		simByID[h.MemoryID] = h.Similarity
	}

	neighbors, err := s.store.GetMemoriesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	var contradicted []Memory
	for _, e := range neighbors {
		if s.temporal.Contradicted(cand, embedding, e, simByID[e.MemoryID]) {
			contradicted = append(contradicted, e)
		}
	}
	return contradicted, nil
}
