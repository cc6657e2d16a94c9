package memengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"
)

// Engine is the top-level entry point wiring extraction, storage,
// retrieval, and maintenance together, exposing the four external
// interfaces from section 6. Constructed via functional options, matching
// the teacher's App/New(opts...) idiom.
type Engine struct {
	store     Store
	extractor *Extractor
	storage   *StorageService
	temporal  *TemporalManager
	embedding *EmbeddingClient
	backfill  *BackfillWorker
	retriever *Retriever
	dedup     *Deduplicator
	ranker    *Ranker
	budget    *BudgetManager
	access    *AccessTracker
	conv      *ConversationTracker
	tier      *TierTransitioner

	logger *slog.Logger
	tracer Tracer

	topK int

	ingestMu sync.Mutex
	ingested map[string]string // conversation_id -> last-applied transcript_hash
}

// Option configures an Engine.
type Option func(*engineConfig)

// engineConfig accumulates constructor inputs before Engine is assembled,
// since several components (Retriever, StorageService) depend on others
// (EmbeddingClient, TemporalManager) that also need to be configurable.
type engineConfig struct {
	store             Store
	extractionModel   ExtractionModel
	embeddingModel    EmbeddingModel
	tokenizer         Tokenizer
	logger            *slog.Logger
	tracer            Tracer
	topK                   int
	minConfidence          float64
	minRetrievalConfidence float64
	simThreshold           float32
	dedupThreshold    float32
	rankWeights       RankWeights
	halfLifeDays      float64
	freqCap           float64
	budgetTokens      int
	budgetStrategy    BudgetStrategy
	maxHops           int
	rrfK              float64
	wVec, wBM25, wGr  float64
	backfillInterval  time.Duration
	backfillBatch     int
	idleTimeout       time.Duration
	tierPolicy        TierPolicy
}

// WithStore sets the persistence backend. Required.
func WithStore(s Store) Option { return func(c *engineConfig) { c.store = s } }

// WithExtractionModel sets the model used for candidate extraction. Required.
func WithExtractionModel(m ExtractionModel) Option {
	return func(c *engineConfig) { c.extractionModel = m }
}

// WithEmbeddingModel sets the model used for dense vectors. Required.
func WithEmbeddingModel(m EmbeddingModel) Option {
	return func(c *engineConfig) { c.embeddingModel = m }
}

// WithTokenizer sets the offline tokenizer BudgetManager uses. Required.
func WithTokenizer(t Tokenizer) Option { return func(c *engineConfig) { c.tokenizer = t } }

// WithLogger sets the structured logger shared by every component.
func WithLogger(l *slog.Logger) Option { return func(c *engineConfig) { c.logger = l } }

// WithTracer sets the Tracer shared by every component that's instrumented.
func WithTracer(t Tracer) Option { return func(c *engineConfig) { c.tracer = t } }

// WithTopK sets the default result-set size for Retrieve (default 10).
func WithTopK(k int) Option { return func(c *engineConfig) { c.topK = k } }

// WithEngineMinConfidence sets min_extraction_confidence, the floor below
// which the Extractor and StorageService drop a candidate.
func WithEngineMinConfidence(min float64) Option {
	return func(c *engineConfig) { c.minConfidence = min }
}

// WithEngineMinRetrievalConfidence sets min_retrieval_confidence, the floor
// below which the Retriever drops a memory from a fused result set
// (default 0.4).
func WithEngineMinRetrievalConfidence(min float64) Option {
	return func(c *engineConfig) { c.minRetrievalConfidence = min }
}

// WithEngineContradictSimThreshold sets contradict_sim_threshold.
func WithEngineContradictSimThreshold(t float32) Option {
	return func(c *engineConfig) { c.simThreshold = t }
}

// WithEngineDedupThreshold sets dedup_threshold.
func WithEngineDedupThreshold(t float32) Option {
	return func(c *engineConfig) { c.dedupThreshold = t }
}

// WithEngineRankWeights sets the composite ranking weights.
func WithEngineRankWeights(w RankWeights) Option {
	return func(c *engineConfig) { c.rankWeights = w }
}

// WithEngineHalfLifeDays sets the recency half-life in days.
func WithEngineHalfLifeDays(days float64) Option {
	return func(c *engineConfig) { c.halfLifeDays = days }
}

// WithEngineFrequencyCap sets the frequency normalization cap.
func WithEngineFrequencyCap(cap float64) Option {
	return func(c *engineConfig) { c.freqCap = cap }
}

// WithEngineBudget sets the default token budget and overflow strategy.
func WithEngineBudget(tokens int, strategy BudgetStrategy) Option {
	return func(c *engineConfig) { c.budgetTokens = tokens; c.budgetStrategy = strategy }
}

// WithEngineMaxHops sets the graph traversal bound.
func WithEngineMaxHops(hops int) Option { return func(c *engineConfig) { c.maxHops = hops } }

// WithEngineRRFWeights sets the fusion constants.
func WithEngineRRFWeights(k, wVec, wBM25, wGraph float64) Option {
	return func(c *engineConfig) { c.rrfK, c.wVec, c.wBM25, c.wGr = k, wVec, wBM25, wGraph }
}

// WithEngineBackfill sets the backfill ticker interval and batch size.
func WithEngineBackfill(interval time.Duration, batch int) Option {
	return func(c *engineConfig) { c.backfillInterval = interval; c.backfillBatch = batch }
}

// WithEngineIdleTimeout sets T_idle for ConversationTracker.
func WithEngineIdleTimeout(d time.Duration) Option {
	return func(c *engineConfig) { c.idleTimeout = d }
}

// WithEngineTierPolicy sets the promote/archive thresholds for AdminTierTransition.
func WithEngineTierPolicy(p TierPolicy) Option {
	return func(c *engineConfig) { c.tierPolicy = p }
}

// New assembles an Engine from the given options. WithStore,
// WithExtractionModel, WithEmbeddingModel, and WithTokenizer are required;
// New panics if any is missing, matching the teacher's fail-fast
// constructor contract for required collaborators.
func New(opts ...Option) *Engine {
	cfg := &engineConfig{
		logger:           slog.New(discardHandler{}),
		topK:                   10,
		minConfidence:          0.6,
		minRetrievalConfidence: 0.4,
		simThreshold:           0.85,
		dedupThreshold:   0.92,
		rankWeights:      DefaultRankWeights,
		halfLifeDays:     43,
		freqCap:          100,
		budgetTokens:     2000,
		budgetStrategy:   HardCutoff,
		maxHops:          2,
		rrfK:             60,
		wVec:             1.0,
		wBM25:            0.8,
		wGr:              0.6,
		backfillInterval: 60 * time.Second,
		backfillBatch:    50,
		idleTimeout:      600 * time.Second,
		tierPolicy:       DefaultTierPolicy,
	}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.store == nil {
		panic("memengine: WithStore is required")
	}
	if cfg.extractionModel == nil {
		panic("memengine: WithExtractionModel is required")
	}
	if cfg.embeddingModel == nil {
		panic("memengine: WithEmbeddingModel is required")
	}
	if cfg.tokenizer == nil {
		panic("memengine: WithTokenizer is required")
	}

	embedding := NewEmbeddingClient(cfg.embeddingModel)
	temporal := NewTemporalManager(cfg.store,
		WithContradictSimThreshold(cfg.simThreshold),
		WithTemporalLogger(cfg.logger))
	extractor := NewExtractor(cfg.extractionModel,
		WithMinExtractionConfidence(cfg.minConfidence),
		WithExtractorLogger(cfg.logger))
	storage := NewStorageService(cfg.store, embedding, temporal,
		WithStorageMinConfidence(cfg.minConfidence),
		WithStorageLogger(cfg.logger))
	backfill := NewBackfillWorker(cfg.store, embedding,
		WithBackfillInterval(cfg.backfillInterval),
		WithBackfillBatch(cfg.backfillBatch),
		WithBackfillLogger(cfg.logger))
	retriever := NewRetriever(cfg.store, embedding,
		WithMaxHops(cfg.maxHops),
		WithMinRetrievalConfidence(cfg.minRetrievalConfidence),
		WithRRFWeights(cfg.rrfK, cfg.wVec, cfg.wBM25, cfg.wGr),
		WithRetrieverTracer(cfg.tracer),
		WithRetrieverLogger(cfg.logger))
	dedup := NewDeduplicator(WithDedupThreshold(cfg.dedupThreshold))
	ranker := NewRanker(
		WithRankWeights(cfg.rankWeights),
		WithHalfLifeDays(cfg.halfLifeDays),
		WithFrequencyCap(cfg.freqCap))
	budget := NewBudgetManager(cfg.tokenizer,
		WithBudgetTokens(cfg.budgetTokens),
		WithBudgetStrategy(cfg.budgetStrategy))
	access := NewAccessTracker(cfg.store, WithAccessLogger(cfg.logger))
	tier := NewTierTransitioner(cfg.store,
		WithTierPolicy(cfg.tierPolicy),
		WithTierLogger(cfg.logger))

	e := &Engine{
		store:     cfg.store,
		extractor: extractor,
		storage:   storage,
		temporal:  temporal,
		embedding: embedding,
		backfill:  backfill,
		retriever: retriever,
		dedup:     dedup,
		ranker:    ranker,
		budget:    budget,
		access:    access,
		tier:      tier,
		logger:    cfg.logger,
		tracer:    cfg.tracer,
		topK:      cfg.topK,
		ingested:  make(map[string]string),
	}
	e.conv = NewConversationTracker(e.ingestFinishedConversation, WithIdleTimeout(cfg.idleTimeout), WithConversationLogger(cfg.logger))
	return e
}

// Init prepares the store (schema creation/migration) and starts the
// background workers (backfill ticker, access tracker drain loop). Call
// once at process startup; the returned context-scoped goroutines run
// until ctx is canceled.
func (e *Engine) Init(ctx context.Context) error {
	if err := e.store.Init(ctx); err != nil {
		return &ErrStoreUnavailable{Op: "init", Err: err}
	}
	go e.backfill.Run(ctx)
	go e.access.Run(ctx)
	return nil
}

// IngestSummary reports what IngestConversation did.
type IngestSummary struct {
	ExtractedN  int
	SupersededN int
}

// IngestConversation is the external interface from section 6: it runs
// extraction over transcript and applies the resulting candidates,
// returning how many memories were created and how many were superseded.
// Idempotent on (conversationID, transcript_hash): re-ingesting the exact
// same turns for the same conversationID is a no-op that returns a zero
// IngestSummary, instead of re-extracting and inserting duplicate Memory
// rows. A transcript that extends or otherwise differs
// from the last-applied one for conversationID is ingested normally.
func (e *Engine) IngestConversation(ctx context.Context, conversationID string, turns []Turn) (IngestSummary, error) {
	if err := ctx.Err(); err != nil {
		return IngestSummary{}, err
	}

	hash := transcriptHash(turns)
	e.ingestMu.Lock()
	if last, ok := e.ingested[conversationID]; ok && last == hash {
		e.ingestMu.Unlock()
		e.logger.DebugContext(ctx, "skipping duplicate ingest", "conversation_id", conversationID)
		return IngestSummary{}, nil
	}
	e.ingestMu.Unlock()

	candidates := e.extractor.Extract(ctx, turns)
	if len(candidates) == 0 {
		return IngestSummary{}, nil
	}
	result, err := e.storage.Apply(ctx, candidates, conversationID)
	if err != nil {
		return IngestSummary{}, err
	}

	e.ingestMu.Lock()
	e.ingested[conversationID] = hash
	e.ingestMu.Unlock()

	return IngestSummary{ExtractedN: result.ExtractedN, SupersededN: result.SupersededN}, nil
}

// transcriptHash derives the transcript_hash half of the
// (conversation_id, transcript_hash) idempotency key: a sha256 digest over
// every turn's role and text, in order, grounded in hashTurn's single-turn
// hashing idiom.
func transcriptHash(turns []Turn) string {
	h := sha256.New()
	for _, t := range turns {
		h.Write([]byte(t.Role))
		h.Write([]byte{0})
		h.Write([]byte(t.Text))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ObserveTurn feeds a single turn into the ConversationTracker; call Sweep
// periodically (e.g. from a ticker) to let idle conversations flush
// automatically, or call FinishConversation to force it.
func (e *Engine) ObserveTurn(conversationID string, turn Turn) {
	e.conv.Observe(conversationID, turn, NowUnix())
}

// SweepConversations evaluates tracked conversations for idle timeout and
// extracts any that qualify. Intended to be called on a ticker.
func (e *Engine) SweepConversations(ctx context.Context) {
	e.conv.Sweep(ctx, NowUnix())
}

// FinishConversation forces immediate extraction for conversationID,
// regardless of idle time.
func (e *Engine) FinishConversation(ctx context.Context, conversationID string) {
	e.conv.Finish(ctx, conversationID)
}

func (e *Engine) ingestFinishedConversation(ctx context.Context, conversationID string, turns []Turn) {
	if _, err := e.IngestConversation(ctx, conversationID, turns); err != nil {
		e.logger.ErrorContext(ctx, "background conversation ingest failed", "conversation_id", conversationID, "error", err)
	}
}

// Retrieve is the external interface from section 6: hybrid retrieval,
// deduplication, composite ranking, and token-budget enforcement over
// queryText, restricted to memories valid at atTime if non-nil (nil means
// "currently valid"). Returns the final ordered, budget-fit memory list.
func (e *Engine) Retrieve(ctx context.Context, queryText string, topK int, budgetTokens int, atTime *int64) ([]Memory, error) {
	if topK <= 0 {
		topK = e.topK
	}
	filter := Filter{CurrentlyValid: atTime == nil, AtTime: atTime}

	candidates, err := e.retriever.Retrieve(ctx, queryText, topK*3, filter)
	if err != nil {
		return nil, err
	}

	deduped := e.dedup.Dedup(candidates)

	simNorm := normalizeSimilarity(deduped)
	scored := e.ranker.Rank(deduped, simNorm, NowUnix())

	ranked := make([]Memory, 0, len(scored))
	for _, s := range scored {
		ranked = append(ranked, s.Memory)
	}
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	budget := e.budget
	if budgetTokens > 0 {
		budget = NewBudgetManager(e.budget.tokenizer, WithBudgetTokens(budgetTokens), WithBudgetStrategy(e.budget.strategy))
	}
	result := budget.Apply(ranked)

	e.access.RecordAll(result, NowUnix())
	return result, nil
}

// normalizeSimilarity assigns every memory a [0,1] rank-derived similarity
// proxy for the ranker, since the fused RRF score isn't itself a
// similarity: position in the already-fused, already-deduplicated list is
// converted to a decreasing [0,1] value by simple linear rank normalization.
func normalizeSimilarity(memories []Memory) map[string]float64 {
	n := len(memories)
	out := make(map[string]float64, n)
	if n == 0 {
		return out
	}
	if n == 1 {
		out[memories[0].MemoryID] = 1.0
		return out
	}
	for i, m := range memories {
		out[m.MemoryID] = 1.0 - float64(i)/float64(n-1)
	}
	return out
}

// PointInTime is the external interface from section 6: it returns every
// memory valid at atTime, per the bi-temporal model's valid_from/
// valid_until interval semantics.
func (e *Engine) PointInTime(ctx context.Context, atTime int64) ([]Memory, error) {
	memories, err := e.store.GetMemoriesValidAt(ctx, atTime)
	if err != nil {
		return nil, &ErrStoreUnavailable{Op: "get_memories_valid_at", Err: err}
	}
	return memories, nil
}

// AdminTierTransition is the external interface from section 6: it
// reclassifies every currently valid memory's tier under policy and
// returns how many moved into each tier.
func (e *Engine) AdminTierTransition(ctx context.Context, policy TierPolicy) (TierTransitionResult, error) {
	t := e.tier
	if policy != (TierPolicy{}) && policy != t.policy {
		t = NewTierTransitioner(e.store, WithTierPolicy(policy), WithTierLogger(e.logger))
	}
	return t.Transition(ctx)
}

// Close releases the store's resources.
func (e *Engine) Close() error {
	return e.store.Close()
}
