package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
	"github.com/yungbote/graphsmith-backend/internal/schema"
	"github.com/yungbote/graphsmith-backend/internal/types"
)

// Request is one extraction call: the text of a chunk window plus the
// constraints under which the model should extract.
type Request struct {
	Text         string
	Schema       *schema.Graph
	Instructions string
}

// Extractor turns chunk text into a candidate subgraph. Implementations
// must tag retryable failures with types.TransientError; any other error is
// permanent for the chunk window that produced it.
type Extractor interface {
	Extract(ctx context.Context, req Request) (types.Subgraph, error)
}

// Config selects the provider at configuration time. This is the single
// dispatch point for LLM backends; nothing downstream inspects provider
// types.
type Config struct {
	Provider string // "openai" or "ollama"
	Model    string
	BaseURL  string
	APIKey   string
}

func New(cfg Config, log *logger.Logger) (Extractor, error) {
	if log == nil {
		return nil, fmt.Errorf("extract: logger required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai", "":
		return newOpenAIExtractor(cfg, log)
	case "ollama":
		return newOllamaExtractor(cfg, log)
	default:
		return nil, fmt.Errorf("extract: unknown provider %q", cfg.Provider)
	}
}

// Windows groups consecutive chunks into combined extraction windows of at
// most combine chunks each. combine <= 1 means one window per chunk. The
// neighbor count is a tunable, not a correctness invariant.
func Windows(chunks []types.Chunk, combine int) [][]types.Chunk {
	if combine < 1 {
		combine = 1
	}
	var out [][]types.Chunk
	for i := 0; i < len(chunks); i += combine {
		end := i + combine
		if end > len(chunks) {
			end = len(chunks)
		}
		out = append(out, chunks[i:end])
	}
	return out
}

// WindowText concatenates the texts of a combined window.
func WindowText(window []types.Chunk) string {
	var b strings.Builder
	for _, c := range window {
		b.WriteString(c.Text)
		b.WriteString(" ")
	}
	return strings.TrimSpace(b.String())
}

var instructionBlockPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all )?(previous|prior) instructions`),
	regexp.MustCompile(`(?i)system prompt`),
}

// SanitizeInstructions makes user-supplied extraction guidance safe to embed
// in the prompt: braces are neutralized so they cannot be read as template
// variables, prompt-override phrasing is blocked and whitespace is
// normalized.
func SanitizeInstructions(in string) string {
	in = strings.ReplaceAll(in, "{", "[")
	in = strings.ReplaceAll(in, "}", "]")
	for _, re := range instructionBlockPatterns {
		in = re.ReplaceAllString(in, "[blocked]")
	}
	return strings.Join(strings.Fields(in), " ")
}

// SchemaFromText derives a schema from a free-text description by running a
// permissive extraction over it and collecting the labels and relationship
// patterns the model produced.
func SchemaFromText(ctx context.Context, e Extractor, text string) (*schema.Graph, error) {
	sub, err := e.Extract(ctx, Request{
		Text:         text,
		Instructions: "Identify the node labels and relationship types this text implies. Produce representative entities and relationships.",
	})
	if err != nil {
		return nil, fmt.Errorf("schema from text: %w", err)
	}
	labelByID := make(map[string]string, len(sub.Entities))
	var labels []string
	for _, ent := range sub.Entities {
		labelByID[ent.CanonicalID] = ent.Label
		labels = append(labels, ent.Label)
	}
	var triples []schema.Triple
	for _, rel := range sub.Relations {
		from, okF := labelByID[rel.SourceID]
		to, okT := labelByID[rel.TargetID]
		if !okF || !okT {
			continue
		}
		triples = append(triples, schema.Triple{From: from, Type: rel.Type, To: to})
	}
	return schema.NewGraph(labels, triples), nil
}
