// Command memengine is a small reference driver wiring extraction, storage,
// retrieval, and observability together end to end. It ingests a handful of
// conversation turns, retrieves against them, and prints the result.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"

	"github.com/solace-run/memengine"
	"github.com/solace-run/memengine/access/redisqueue"
	"github.com/solace-run/memengine/contextfmt"
	"github.com/solace-run/memengine/internal/config"
	"github.com/solace-run/memengine/observer"
	"github.com/solace-run/memengine/provider/embed"
	"github.com/solace-run/memengine/provider/extract"
	"github.com/solace-run/memengine/store/sqlite"
)

func main() {
	// 1. Load config
	cfg := config.Load(os.Getenv("MEMENGINE_CONFIG"))
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// 2. Create model clients
	var extractionModel memengine.ExtractionModel = extract.NewProvider(
		cfg.Extraction.APIKey, cfg.Extraction.Model, cfg.Extraction.BaseURL,
		extract.WithLogger(logger))
	var embeddingModel memengine.EmbeddingModel = embed.NewProvider(
		cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.BaseURL, cfg.Embedding.Dimensions)

	// 3. Observer (opt-in via config)
	var tracer memengine.Tracer
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}

		inst, shutdown, err := observer.Init(context.Background(), pricing)
		if err != nil {
			log.Fatalf("observer init failed: %v", err)
		}
		defer shutdown(context.Background())

		tracer = observer.NewTracer()
		extractionModel = observer.WrapExtractionModel(extractionModel, cfg.Extraction.Model, inst, tracer)
		embeddingModel = observer.WrapEmbeddingModel(embeddingModel, cfg.Embedding.Model, inst, tracer)

		logger.Info("OTEL observability enabled")
	}

	// 4. Create store
	store := sqlite.New(cfg.Store.SQLitePath, sqlite.WithLogger(logger))

	// 5. Optional multi-process access tracking: when MEMENGINE_REDIS_ADDR is
	// set, this process runs a redisqueue.Queue consumer that applies access
	// events pushed to the Redis list (by any process) to the store. The
	// engine built below still records its own accesses through its
	// in-process AccessTracker; nothing here pushes to the queue.
	if addr := os.Getenv("MEMENGINE_REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		queue := redisqueue.New(client, "memengine:access", 1024, redisqueue.WithLogger(logger))
		go queue.Run(context.Background(), store)
	}

	// 6. Build engine
	engine := memengine.New(
		memengine.WithStore(store),
		memengine.WithExtractionModel(extractionModel),
		memengine.WithEmbeddingModel(embeddingModel),
		memengine.WithTokenizer(approxTokenizer{}),
		memengine.WithLogger(logger),
		memengine.WithTracer(tracer),
		memengine.WithEngineMinConfidence(cfg.Extraction.MinConfidence),
		memengine.WithEngineMinRetrievalConfidence(cfg.Retrieval.MinConfidence),
		memengine.WithEngineContradictSimThreshold(float32(cfg.Extraction.ContradictSimFloor)),
		memengine.WithEngineDedupThreshold(float32(cfg.Retrieval.DedupThreshold)),
		memengine.WithEngineMaxHops(cfg.Retrieval.MaxHops),
		memengine.WithEngineRRFWeights(cfg.Retrieval.RRFK, cfg.Retrieval.WeightVector, cfg.Retrieval.WeightBM25, cfg.Retrieval.WeightGraph),
		memengine.WithEngineBudget(cfg.Budget.Tokens, memengine.BudgetStrategy(cfg.Budget.Strategy)),
		memengine.WithEngineTierPolicy(memengine.TierPolicy{Promote: cfg.Tier.Promote, Archive: cfg.Tier.Archive}),
	)

	ctx := context.Background()
	if err := engine.Init(ctx); err != nil {
		log.Fatalf("engine init failed: %v", err)
	}
	defer engine.Close()

	// 7. Ingest a sample conversation
	turns := []memengine.Turn{
		{Role: "user", Text: "I live in Austin and I work as a backend engineer at a logistics startup.", Timestamp: time.Now().Unix()},
		{Role: "assistant", Text: "Got it, noted.", Timestamp: time.Now().Unix()},
	}
	summary, err := engine.IngestConversation(ctx, "demo-conversation", turns)
	if err != nil {
		log.Fatalf("ingest failed: %v", err)
	}
	logger.Info("ingest complete", "extracted", summary.ExtractedN, "superseded", summary.SupersededN)

	// 8. Retrieve and render
	results, err := engine.Retrieve(ctx, "where does the user work", 5, 0, nil)
	if err != nil {
		log.Fatalf("retrieve failed: %v", err)
	}
	rendered, err := contextfmt.Render(results)
	if err != nil {
		log.Fatalf("render failed: %v", err)
	}
	os.Stdout.WriteString(rendered)
}

// approxTokenizer estimates token count as one token per four runes of
// text, plus one (zero for empty text). It exists only so this driver has something to pass to
// memengine.WithTokenizer without an external tokenizer dependency; a
// production deployment should supply a model-accurate one.
type approxTokenizer struct{}

func (approxTokenizer) Count(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return n/4 + 1
}
