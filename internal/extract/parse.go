package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/graphsmith-backend/internal/types"
)

// wire shapes for the model's JSON output.
type wireEntity struct {
	Name       string            `json:"name"`
	Label      string            `json:"label"`
	Properties map[string]string `json:"properties"`
}

type wireRelationship struct {
	Source string `json:"source"`
	Type   string `json:"type"`
	Target string `json:"target"`
}

type wireSubgraph struct {
	Entities      []wireEntity       `json:"entities"`
	Relationships []wireRelationship `json:"relationships"`
}

// ParseSubgraph converts raw model output into a scrubbed subgraph keyed by
// canonical entity ids. Fences and stray backticks are tolerated; entities
// without a name or label and relationships with unknown endpoints are
// dropped.
func ParseSubgraph(raw string) (types.Subgraph, error) {
	raw = stripFences(raw)
	if raw == "" {
		return types.Subgraph{}, fmt.Errorf("empty extraction output")
	}

	var wire wireSubgraph
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		// One repair pass for the common unquoted-key failure mode before
		// declaring the chunk malformed.
		if err2 := json.Unmarshal([]byte(repairJSON(raw)), &wire); err2 != nil {
			return types.Subgraph{}, fmt.Errorf("parse extraction output: %w", err)
		}
	}

	var sub types.Subgraph
	idByName := make(map[string]string, len(wire.Entities))
	seen := make(map[string]bool, len(wire.Entities))
	for _, we := range wire.Entities {
		name := scrubToken(we.Name)
		label := scrubToken(we.Label)
		if name == "" || label == "" {
			continue
		}
		id := types.CanonicalEntityID(label, name)
		idByName[types.NormalizeEntityName(name)] = id
		if seen[id] {
			continue
		}
		seen[id] = true
		sub.Entities = append(sub.Entities, types.Entity{
			CanonicalID: id,
			Name:        name,
			Label:       label,
			Properties:  we.Properties,
		})
	}

	seenRel := make(map[string]bool, len(wire.Relationships))
	for _, wr := range wire.Relationships {
		relType := scrubToken(wr.Type)
		src, okS := idByName[types.NormalizeEntityName(scrubToken(wr.Source))]
		dst, okT := idByName[types.NormalizeEntityName(scrubToken(wr.Target))]
		if relType == "" || !okS || !okT {
			continue
		}
		key := src + "|" + relType + "|" + dst
		if seenRel[key] {
			continue
		}
		seenRel[key] = true
		sub.Relations = append(sub.Relations, types.Relation{
			SourceID: src,
			Type:     relType,
			TargetID: dst,
		})
	}
	return sub, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func scrubToken(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "`", ""))
}

// repairJSON fixes the missing-opening-quote-before-key pattern some models
// emit, e.g. `, type":` becomes `, "type":`.
func repairJSON(s string) string {
	in := []rune(s)
	out := make([]rune, 0, len(in)+16)
	i := 0
	for i < len(in) {
		ch := in[i]
		out = append(out, ch)
		i++
		if ch != '{' && ch != ',' {
			continue
		}
		for i < len(in) && (in[i] == ' ' || in[i] == '\n' || in[i] == '\t') {
			out = append(out, in[i])
			i++
		}
		if i >= len(in) || in[i] == '"' || !isIdentRune(in[i]) {
			continue
		}
		start := i
		for i < len(in) && (isIdentRune(in[i]) || in[i] == '_') {
			i++
		}
		if i+1 < len(in) && in[i] == '"' && in[i+1] == ':' {
			out = append(out, '"')
			out = append(out, in[start:i]...)
			continue
		}
		out = append(out, in[start:i]...)
	}
	return string(out)
}

func isIdentRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
