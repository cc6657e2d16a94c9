package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("expected sqlite, got %s", cfg.Store.Backend)
	}
	if cfg.Embedding.Dimensions != 1536 {
		t.Errorf("expected 1536, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Retrieval.MinConfidence != 0.4 {
		t.Errorf("expected min_retrieval_confidence 0.4, got %f", cfg.Retrieval.MinConfidence)
	}
	if cfg.Ranker.WeightSimilarity+cfg.Ranker.WeightConfidence+cfg.Ranker.WeightRecency+cfg.Ranker.WeightFrequency != 1.0 {
		t.Errorf("ranker weights should sum to 1.0, got %+v", cfg.Ranker)
	}
	if cfg.Tier.Promote != 0.7 || cfg.Tier.Archive != 0.2 {
		t.Errorf("unexpected tier policy: %+v", cfg.Tier)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[store]
backend = "postgres"

[retrieval]
max_hops = 3
`), 0644)

	cfg := Load(path)
	if cfg.Store.Backend != "postgres" {
		t.Errorf("expected postgres, got %s", cfg.Store.Backend)
	}
	if cfg.Retrieval.MaxHops != 3 {
		t.Errorf("expected max_hops 3, got %d", cfg.Retrieval.MaxHops)
	}
	// Defaults preserved for untouched fields.
	if cfg.Embedding.Dimensions != 1536 {
		t.Errorf("default should be preserved, got %d", cfg.Embedding.Dimensions)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MEMENGINE_EXTRACTION_API_KEY", "env-key")
	t.Setenv("MEMENGINE_STORE_BACKEND", "postgres")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Extraction.APIKey != "env-key" {
		t.Errorf("expected env-key, got %s", cfg.Extraction.APIKey)
	}
	if cfg.Store.Backend != "postgres" {
		t.Errorf("expected postgres, got %s", cfg.Store.Backend)
	}
	// Fallback: embedding inherits extraction's API key when unset.
	if cfg.Embedding.APIKey != "env-key" {
		t.Errorf("expected embedding fallback to env-key, got %s", cfg.Embedding.APIKey)
	}
}

func TestEmbeddingFallbackDoesNotOverrideExplicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[extraction]
api_key = "extract-key"

[embedding]
api_key = "embed-key"
`), 0644)

	cfg := Load(path)
	if cfg.Embedding.APIKey != "embed-key" {
		t.Errorf("expected embed-key to be preserved, got %s", cfg.Embedding.APIKey)
	}
}
