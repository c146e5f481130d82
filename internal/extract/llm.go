package extract

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
	"github.com/yungbote/graphsmith-backend/internal/types"
)

const systemPrompt = `You extract a knowledge graph from text.
Respond with a single JSON object of this exact shape:
{"entities":[{"name":"...","label":"...","properties":{}}],
 "relationships":[{"source":"...","type":"...","target":"...","properties":{}}]}
Rules:
- "source" and "target" reference entity names from "entities".
- Relationship types are UPPER_SNAKE_CASE.
- Extract only facts stated in the text. No commentary, no markdown fences.`

// llmExtractor is the shared langchaingo-backed implementation; the provider
// choice only decides which llms.Model backs it.
type llmExtractor struct {
	model llms.Model
	log   *logger.Logger
}

func newOpenAIExtractor(cfg Config, log *logger.Logger) (Extractor, error) {
	opts := []openai.Option{}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("extract: init openai: %w", err)
	}
	return &llmExtractor{model: model, log: log.With("client", "Extractor", "provider", "openai")}, nil
}

func newOllamaExtractor(cfg Config, log *logger.Logger) (Extractor, error) {
	opts := []ollama.Option{}
	if cfg.Model != "" {
		opts = append(opts, ollama.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	model, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("extract: init ollama: %w", err)
	}
	return &llmExtractor{model: model, log: log.With("client", "Extractor", "provider", "ollama")}, nil
}

func (e *llmExtractor) Extract(ctx context.Context, req Request) (types.Subgraph, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(buildSystemPrompt(req))},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(req.Text)},
		},
	}

	resp, err := e.model.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
	if err != nil {
		return types.Subgraph{}, classifyLLMError(err)
	}
	if len(resp.Choices) == 0 {
		return types.Subgraph{}, errors.New("extract: model returned no choices")
	}

	sub, err := ParseSubgraph(resp.Choices[0].Content)
	if err != nil {
		e.log.Warn("malformed extraction output", "error", err)
		return types.Subgraph{}, err
	}
	return sub, nil
}

func buildSystemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	if req.Schema != nil && !req.Schema.Permissive() {
		if labels := req.Schema.Labels(); len(labels) > 0 {
			b.WriteString("\nAllowed entity labels: ")
			b.WriteString(strings.Join(labels, ", "))
		}
		if rels := req.Schema.RelationTypes(); len(rels) > 0 {
			b.WriteString("\nAllowed relationship types: ")
			b.WriteString(strings.Join(rels, ", "))
		}
	}
	if inst := SanitizeInstructions(req.Instructions); inst != "" {
		b.WriteString("\nAdditional guidance: ")
		b.WriteString(inst)
	}
	return b.String()
}

// classifyLLMError tags retryable provider failures so the orchestrator's
// backoff loop can tell them apart from permanently malformed chunks.
func classifyLLMError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.Transient("llm call", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.Transient("llm call", err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"):
		return types.Transient("llm call", err)
	}
	return fmt.Errorf("extract: %w", err)
}
