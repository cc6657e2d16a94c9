// Package config loads the engine's tunable configuration surface: defaults
// -> TOML file -> environment variables, env wins. Same layering as the
// teacher's config loader.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the full configuration surface for a running engine, covering
// every tunable named in the external-interfaces configuration table:
// store backend selection, the extraction/embedding model endpoints,
// retrieval fusion weights, ranking weights, budget enforcement, tier
// transition thresholds, and observability.
type Config struct {
	Store        StoreConfig        `toml:"store"`
	Extraction   ModelConfig        `toml:"extraction"`
	Embedding    EmbeddingConfig    `toml:"embedding"`
	Retrieval    RetrievalConfig    `toml:"retrieval"`
	Ranker       RankerConfig       `toml:"ranker"`
	Budget       BudgetConfig       `toml:"budget"`
	Tier         TierConfig         `toml:"tier"`
	Conversation ConversationConfig `toml:"conversation"`
	Observer     ObserverConfig     `toml:"observer"`
}

// StoreConfig selects and configures the backing Store implementation.
type StoreConfig struct {
	Backend     string `toml:"backend"` // "sqlite" or "postgres"
	SQLitePath  string `toml:"sqlite_path"`
	PostgresDSN string `toml:"postgres_dsn"`
}

// ModelConfig configures an OpenAI-compatible extraction model endpoint.
type ModelConfig struct {
	Model              string  `toml:"model"`
	APIKey             string  `toml:"api_key"`
	BaseURL            string  `toml:"base_url"`
	MinConfidence      float64 `toml:"min_confidence"`       // min_extraction_confidence
	ContradictSimFloor float64 `toml:"contradict_sim_floor"` // contradict_sim_threshold
}

// EmbeddingConfig configures an OpenAI-compatible embeddings endpoint.
type EmbeddingConfig struct {
	Model      string `toml:"model"`
	APIKey     string `toml:"api_key"`
	BaseURL    string `toml:"base_url"`
	Dimensions int    `toml:"dimensions"`
}

// RetrievalConfig tunes the Retriever's hybrid fusion.
type RetrievalConfig struct {
	MaxHops        int     `toml:"max_hops"`
	MinConfidence  float64 `toml:"min_confidence"` // min_retrieval_confidence
	RRFK           float64 `toml:"rrf_k"`
	WeightVector   float64 `toml:"w_vec"`
	WeightBM25     float64 `toml:"w_bm25"`
	WeightGraph    float64 `toml:"w_graph"`
	DedupThreshold float64 `toml:"dedup_threshold"`
}

// RankerConfig tunes the composite ranking formula and its recency/frequency
// sub-scores.
type RankerConfig struct {
	WeightSimilarity float64 `toml:"w_similarity"`
	WeightConfidence float64 `toml:"w_confidence"`
	WeightRecency    float64 `toml:"w_recency"`
	WeightFrequency  float64 `toml:"w_frequency"`
	HalfLifeDays     float64 `toml:"half_life_days"`
	FreqCap          float64 `toml:"freq_cap"`
}

// BudgetConfig configures token-budget enforcement on retrieval output.
type BudgetConfig struct {
	Tokens   int    `toml:"tokens"`
	Strategy string `toml:"strategy"` // "hard_cutoff" or "truncate"
}

// TierConfig configures AdminTierTransition's promote/archive thresholds
// and its cron schedule.
type TierConfig struct {
	Promote  float64 `toml:"promote"`
	Archive  float64 `toml:"archive"`
	Schedule string  `toml:"schedule"` // cron spec, e.g. "0 3 * * *"
}

// ConversationConfig configures ConversationTracker and BackfillWorker
// cadence.
type ConversationConfig struct {
	IdleTimeoutSeconds int    `toml:"idle_timeout_seconds"` // t_idle
	BackfillInterval   string `toml:"backfill_interval"`    // e.g. "60s"
	BackfillBatch      int    `toml:"backfill_batch"`
	MaxConcurrent      int    `toml:"max_concurrent"`
}

// ObserverConfig enables OTEL instrumentation and per-model pricing used for
// cost metrics.
type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

// ObserverPricing is per-million-token USD pricing for one model.
type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with every tunable set to its spec-nominal value.
func Default() Config {
	return Config{
		Store: StoreConfig{Backend: "sqlite", SQLitePath: "memengine.db"},
		Extraction: ModelConfig{
			Model:              "gpt-4o-mini",
			MinConfidence:      0.6,
			ContradictSimFloor: 0.85,
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		Retrieval: RetrievalConfig{
			MaxHops:        2,
			MinConfidence:  0.4,
			RRFK:           60,
			WeightVector:   1.0,
			WeightBM25:     0.8,
			WeightGraph:    0.6,
			DedupThreshold: 0.92,
		},
		Ranker: RankerConfig{
			WeightSimilarity: 0.40,
			WeightConfidence: 0.25,
			WeightRecency:    0.20,
			WeightFrequency:  0.15,
			HalfLifeDays:     43,
			FreqCap:          100,
		},
		Budget: BudgetConfig{Tokens: 2000, Strategy: "hard_cutoff"},
		Tier:   TierConfig{Promote: 0.7, Archive: 0.2, Schedule: "0 3 * * *"},
		Conversation: ConversationConfig{
			IdleTimeoutSeconds: 600,
			BackfillInterval:   "60s",
			BackfillBatch:      50,
			MaxConcurrent:      50,
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins). An
// unreadable or missing path is not an error; defaults carry through.
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "memengine.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("MEMENGINE_EXTRACTION_API_KEY"); v != "" {
		cfg.Extraction.APIKey = v
	}
	if v := os.Getenv("MEMENGINE_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("MEMENGINE_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("MEMENGINE_POSTGRES_DSN"); v != "" {
		cfg.Store.PostgresDSN = v
	}
	if v := os.Getenv("MEMENGINE_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallback: embedding model shares the extraction endpoint's API key
	// when none is configured for it directly (common single-provider setup).
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.Extraction.APIKey
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = cfg.Extraction.BaseURL
	}

	return cfg
}
