package embed

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
)

// Embedder produces fixed-dimension vectors for chunk text. The dimension
// is a deployment constant; all chunks in one graph share it.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

type Config struct {
	Provider  string // "openai" or "ollama"
	Model     string
	BaseURL   string
	APIKey    string
	Dimension int
}

type lcEmbedder struct {
	inner     embeddings.Embedder
	dimension int
	log       *logger.Logger
}

func New(cfg Config, log *logger.Logger) (Embedder, error) {
	if log == nil {
		return nil, fmt.Errorf("embed: logger required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embed: embedding dimension must be configured")
	}

	var (
		client embeddings.EmbedderClient
		err    error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai", "":
		opts := []openai.Option{}
		if cfg.Model != "" {
			opts = append(opts, openai.WithEmbeddingModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		client, err = openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{}
		if cfg.Model != "" {
			opts = append(opts, ollama.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		client, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("embed: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("embed: init %s: %w", cfg.Provider, err)
	}

	inner, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("embed: wrap embedder: %w", err)
	}
	return &lcEmbedder{
		inner:     inner,
		dimension: cfg.Dimension,
		log:       log.With("client", "Embedder", "provider", cfg.Provider),
	}, nil
}

func (e *lcEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.inner.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	for i, v := range vecs {
		if len(v) != e.dimension {
			return nil, fmt.Errorf("embed: vector %d has dimension %d, expected %d", i, len(v), e.dimension)
		}
	}
	return vecs, nil
}

func (e *lcEmbedder) Dimension() int { return e.dimension }
