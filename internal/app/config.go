package app

import (
	"time"

	"github.com/yungbote/graphsmith-backend/internal/platform/envutil"
	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
)

// Config is the process-level configuration, resolved once at startup.
// Everything here comes from the environment; missing values fall back to
// development defaults so a bare `go run` against local services works.
type Config struct {
	Port        string
	Environment string
	Version     string

	// Chunking.
	ChunkMaxTokens     int
	ChunkOverlapTokens int
	ChunkEncoding      string
	ChunksToCombine    int

	// LLM extraction.
	LLMProvider       string
	LLMModel          string
	LLMBaseURL        string
	LLMAPIKey         string
	LLMTimeout        time.Duration
	LLMMaxRetries     int
	LLMRetryBaseDelay time.Duration

	// Embeddings.
	EmbeddingEnabled   bool
	EmbeddingProvider  string
	EmbeddingModel     string
	EmbeddingBaseURL   string
	EmbeddingAPIKey    string
	EmbeddingDimension int

	// Graph store.
	Neo4jTxTimeout time.Duration

	// Orchestration.
	Workers int

	// Post-processing.
	KNNTopK        int
	KNNMinScore    float64
	Communities    bool
	DedupThreshold float64

	// Sources.
	UploadDir     string
	SourceTimeout time.Duration

	// Schema presets.
	PresetPath string
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port:        envutil.String("PORT", "8000"),
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),

		ChunkMaxTokens:     envutil.Int("CHUNK_MAX_TOKENS", 200),
		ChunkOverlapTokens: envutil.Int("CHUNK_OVERLAP_TOKENS", 20),
		ChunkEncoding:      envutil.String("CHUNK_ENCODING", "cl100k_base"),
		ChunksToCombine:    envutil.Int("CHUNKS_TO_COMBINE", 1),

		LLMProvider:       envutil.String("LLM_PROVIDER", "openai"),
		LLMModel:          envutil.String("LLM_MODEL", "gpt-4o"),
		LLMBaseURL:        envutil.String("LLM_BASE_URL", ""),
		LLMAPIKey:         envutil.String("LLM_API_KEY", envutil.String("OPENAI_API_KEY", "")),
		LLMTimeout:        envutil.Duration("LLM_TIMEOUT", 3*time.Minute),
		LLMMaxRetries:     envutil.Int("LLM_MAX_RETRIES", 3),
		LLMRetryBaseDelay: envutil.Duration("LLM_RETRY_BASE_DELAY", 2*time.Second),

		EmbeddingEnabled:   envutil.Bool("EMBEDDING_ENABLED", true),
		EmbeddingProvider:  envutil.String("EMBEDDING_PROVIDER", "openai"),
		EmbeddingModel:     envutil.String("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingBaseURL:   envutil.String("EMBEDDING_BASE_URL", ""),
		EmbeddingAPIKey:    envutil.String("EMBEDDING_API_KEY", envutil.String("OPENAI_API_KEY", "")),
		EmbeddingDimension: envutil.Int("EMBEDDING_DIMENSION", 384),

		Neo4jTxTimeout: envutil.Duration("NEO4J_TX_TIMEOUT", 30*time.Second),

		Workers: envutil.Int("EXTRACTION_WORKERS", 4),

		KNNTopK:        envutil.Int("KNN_TOP_K", 5),
		KNNMinScore:    envutil.Float("KNN_MIN_SCORE", 0.8),
		Communities:    envutil.Bool("ENABLE_COMMUNITIES", false),
		DedupThreshold: envutil.Float("DEDUP_SCORE_THRESHOLD", 0.9),

		UploadDir:     envutil.String("UPLOAD_DIR", "./uploads"),
		SourceTimeout: envutil.Duration("SOURCE_TIMEOUT", 60*time.Second),

		PresetPath: envutil.String("SCHEMA_PRESET_PATH", ""),
	}
	if log != nil {
		log.Info("configuration loaded",
			"port", cfg.Port,
			"llmProvider", cfg.LLMProvider,
			"llmModel", cfg.LLMModel,
			"embeddingEnabled", cfg.EmbeddingEnabled,
			"workers", cfg.Workers,
		)
	}
	return cfg
}
