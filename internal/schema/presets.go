package schema

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/graphsmith-backend/internal/types"
)

// presetFile is the YAML shape for predefined domain schemas:
//
//	movies:
//	  labels: [Person, Movie, Genre]
//	  triples:
//	    - {from: Person, type: ACTED_IN, to: Movie}
type presetFile map[string]struct {
	Labels  []string `yaml:"labels"`
	Triples []Triple `yaml:"triples"`
}

// Presets resolves predefined schema names, either from a YAML file or from
// the built-in set.
type Presets struct {
	byName map[string]*Graph
}

func LoadPresets(path string) (*Presets, error) {
	p := &Presets{byName: builtinPresets()}
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema presets: read %s: %w", path, err)
	}
	var file presetFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("schema presets: parse %s: %w", path, err)
	}
	for name, def := range file {
		p.byName[strings.ToLower(strings.TrimSpace(name))] = NewGraph(def.Labels, def.Triples)
	}
	return p, nil
}

func (p *Presets) Get(name string) (*Graph, error) {
	g, ok := p.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, &types.SchemaValidationError{Ref: name, Reason: "unknown schema preset"}
	}
	return g, nil
}

func (p *Presets) Names() []string {
	out := make([]string, 0, len(p.byName))
	for name := range p.byName {
		out = append(out, name)
	}
	return out
}

func builtinPresets() map[string]*Graph {
	return map[string]*Graph{
		"people_orgs": NewGraph(
			[]string{"Person", "Organization", "Location"},
			[]Triple{
				{From: "Person", Type: "WORKS_AT", To: "Organization"},
				{From: "Person", Type: "LOCATED_IN", To: "Location"},
				{From: "Organization", Type: "LOCATED_IN", To: "Location"},
			},
		),
		"research": NewGraph(
			[]string{"Person", "Paper", "Institution", "Concept"},
			[]Triple{
				{From: "Person", Type: "AUTHORED", To: "Paper"},
				{From: "Person", Type: "AFFILIATED_WITH", To: "Institution"},
				{From: "Paper", Type: "DISCUSSES", To: "Concept"},
				{From: "Paper", Type: "CITES", To: "Paper"},
			},
		),
	}
}
