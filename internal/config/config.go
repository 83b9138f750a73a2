// Package config provides configuration management for ExFrame.
// It loads settings from environment variables with the EXFRAME_ prefix,
// provides sensible defaults for all options, and optionally overlays a
// YAML file on top of the defaults (env vars win over the file).
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the ExFrame knowledge store.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Engine    EngineConfig    `yaml:"engine"`
	Reindex   ReindexConfig   `yaml:"reindex"`
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	// Backend selects the storage implementation: sqlite or postgres
	// (default: sqlite).
	Backend string `yaml:"backend"`

	// SQLitePath is the SQLite database file (default: ./data/exframe.db).
	SQLitePath string `yaml:"sqlite_path"`

	// PostgresDSN is the PostgreSQL connection string, required when
	// Backend is postgres.
	PostgresDSN string `yaml:"postgres_dsn"`

	// LegacyImportPath points at a flat-file JSON pattern collection to
	// import once into a freshly created empty store. Empty disables the
	// import.
	LegacyImportPath string `yaml:"legacy_import_path"`

	// VectorCachePath is the embedding cache blob
	// (default: ./data/vectors.json).
	VectorCachePath string `yaml:"vector_cache_path"`
}

// EmbeddingConfig contains embedding backend configuration.
type EmbeddingConfig struct {
	// OllamaURL is the Ollama API base URL (default: http://localhost:11434).
	OllamaURL string `yaml:"ollama_url"`

	// Model is the embedding model name (default: nomic-embed-text).
	Model string `yaml:"model"`

	// TimeoutSeconds is the per-request timeout (default: 10).
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// EngineConfig contains ranker and lifecycle tuning.
type EngineConfig struct {
	// SemanticWeight and KeywordWeight are re-normalized to sum to 1
	// (defaults: 0.6 / 0.4).
	SemanticWeight float64 `yaml:"semantic_weight"`
	KeywordWeight  float64 `yaml:"keyword_weight"`

	// SemanticThreshold and KeywordThreshold are the survive-on-either
	// minimum scores (defaults: 0).
	SemanticThreshold float64 `yaml:"semantic_threshold"`
	KeywordThreshold  float64 `yaml:"keyword_threshold"`

	// ConfidenceDecay is the feedback blending constant in (0, 1]
	// (default: 0.95).
	ConfidenceDecay float64 `yaml:"confidence_decay"`

	// DuplicateThreshold is the similarity ratio above which patterns are
	// reported as near-duplicates (default: 0.9).
	DuplicateThreshold float64 `yaml:"duplicate_threshold"`
}

// ReindexConfig tunes the batch embedding regeneration.
type ReindexConfig struct {
	// ContentDir is the directory scanned for documents to embed
	// (default: ./content).
	ContentDir string `yaml:"content_dir"`

	// Workers is the embedding concurrency bound (default: 4).
	Workers int `yaml:"workers"`

	// RequestsPerSecond throttles embedding calls (default: 10).
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// Load builds the configuration: defaults, then the optional YAML file at
// path (skipped when path is empty or missing), then EXFRAME_ environment
// variables on top.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if cfg.Storage.Backend != "sqlite" && cfg.Storage.Backend != "postgres" {
		return nil, fmt.Errorf("config: unknown storage backend %q (want sqlite or postgres)", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend == "postgres" && cfg.Storage.PostgresDSN == "" {
		return nil, fmt.Errorf("config: EXFRAME_POSTGRES_DSN is required for the postgres backend")
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:         "sqlite",
			SQLitePath:      "./data/exframe.db",
			VectorCachePath: "./data/vectors.json",
		},
		Embedding: EmbeddingConfig{
			OllamaURL:      "http://localhost:11434",
			Model:          "nomic-embed-text",
			TimeoutSeconds: 10,
		},
		Engine: EngineConfig{
			SemanticWeight:     0.6,
			KeywordWeight:      0.4,
			ConfidenceDecay:    0.95,
			DuplicateThreshold: 0.9,
		},
		Reindex: ReindexConfig{
			ContentDir:        "./content",
			Workers:           4,
			RequestsPerSecond: 10,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Storage.Backend = getEnv("EXFRAME_STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.SQLitePath = getEnv("EXFRAME_SQLITE_PATH", cfg.Storage.SQLitePath)
	cfg.Storage.PostgresDSN = getEnv("EXFRAME_POSTGRES_DSN", cfg.Storage.PostgresDSN)
	cfg.Storage.LegacyImportPath = getEnv("EXFRAME_LEGACY_IMPORT_PATH", cfg.Storage.LegacyImportPath)
	cfg.Storage.VectorCachePath = getEnv("EXFRAME_VECTOR_CACHE_PATH", cfg.Storage.VectorCachePath)

	cfg.Embedding.OllamaURL = getEnv("EXFRAME_OLLAMA_URL", cfg.Embedding.OllamaURL)
	cfg.Embedding.Model = getEnv("EXFRAME_EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.TimeoutSeconds = getEnvInt("EXFRAME_EMBEDDING_TIMEOUT_SECONDS", cfg.Embedding.TimeoutSeconds)

	cfg.Engine.SemanticWeight = getEnvFloat("EXFRAME_SEMANTIC_WEIGHT", cfg.Engine.SemanticWeight)
	cfg.Engine.KeywordWeight = getEnvFloat("EXFRAME_KEYWORD_WEIGHT", cfg.Engine.KeywordWeight)
	cfg.Engine.SemanticThreshold = getEnvFloat("EXFRAME_SEMANTIC_THRESHOLD", cfg.Engine.SemanticThreshold)
	cfg.Engine.KeywordThreshold = getEnvFloat("EXFRAME_KEYWORD_THRESHOLD", cfg.Engine.KeywordThreshold)
	cfg.Engine.ConfidenceDecay = getEnvFloat("EXFRAME_CONFIDENCE_DECAY", cfg.Engine.ConfidenceDecay)
	cfg.Engine.DuplicateThreshold = getEnvFloat("EXFRAME_DUPLICATE_THRESHOLD", cfg.Engine.DuplicateThreshold)

	cfg.Reindex.ContentDir = getEnv("EXFRAME_CONTENT_DIR", cfg.Reindex.ContentDir)
	cfg.Reindex.Workers = getEnvInt("EXFRAME_REINDEX_WORKERS", cfg.Reindex.Workers)
	cfg.Reindex.RequestsPerSecond = getEnvFloat("EXFRAME_REINDEX_RPS", cfg.Reindex.RequestsPerSecond)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. An unparsable value falls back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. An unparsable value falls back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
