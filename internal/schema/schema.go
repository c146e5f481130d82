package schema

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/yungbote/graphsmith-backend/internal/types"
)

// Triple is one allowed (source label, relationship type, target label)
// pattern.
type Triple struct {
	From string `json:"from" yaml:"from"`
	Type string `json:"type" yaml:"type"`
	To   string `json:"to" yaml:"to"`
}

// Graph is the canonical constraint set for one extraction run: allowed
// node labels, allowed relationship types and allowed triples. An empty
// Graph means permissive mode, where LLM output is accepted as-is.
// Graphs are immutable once handed to the orchestrator.
type Graph struct {
	labels    map[string]struct{}
	relTypes  map[string]struct{}
	triples   map[Triple]struct{}
}

func NewGraph(labels []string, triples []Triple) *Graph {
	g := &Graph{
		labels:   make(map[string]struct{}),
		relTypes: make(map[string]struct{}),
		triples:  make(map[Triple]struct{}),
	}
	for _, l := range labels {
		if l = strings.TrimSpace(l); l != "" {
			g.labels[l] = struct{}{}
		}
	}
	for _, t := range triples {
		t.From, t.Type, t.To = strings.TrimSpace(t.From), strings.TrimSpace(t.Type), strings.TrimSpace(t.To)
		if t.From == "" || t.Type == "" || t.To == "" {
			continue
		}
		g.triples[t] = struct{}{}
		g.relTypes[t.Type] = struct{}{}
	}
	return g
}

// Permissive reports whether the schema constrains nothing.
func (g *Graph) Permissive() bool {
	return g == nil || (len(g.labels) == 0 && len(g.triples) == 0)
}

func (g *Graph) AllowsLabel(label string) bool {
	if g.Permissive() || len(g.labels) == 0 {
		return true
	}
	_, ok := g.labels[strings.TrimSpace(label)]
	return ok
}

// Allows reports whether an extracted relationship matches an allowed
// triple. Relationships outside the triple set are not dropped by the
// store; they are persisted flagged as additional.
func (g *Graph) Allows(from, relType, to string) bool {
	if g.Permissive() || len(g.triples) == 0 {
		return true
	}
	_, ok := g.triples[Triple{From: strings.TrimSpace(from), Type: strings.TrimSpace(relType), To: strings.TrimSpace(to)}]
	return ok
}

// Labels returns the sorted allowed node labels.
func (g *Graph) Labels() []string {
	if g == nil {
		return nil
	}
	out := make([]string, 0, len(g.labels))
	for l := range g.labels {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// RelationTypes returns the sorted allowed relationship types.
func (g *Graph) RelationTypes() []string {
	if g == nil {
		return nil
	}
	out := make([]string, 0, len(g.relTypes))
	for t := range g.relTypes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Triples returns the sorted allowed patterns.
func (g *Graph) Triples() []Triple {
	if g == nil {
		return nil
	}
	out := make([]Triple, 0, len(g.triples))
	for t := range g.triples {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].To < out[j].To
	})
	return out
}

// Union merges schema sources additively. Labels, types and triples are set
// unions, so no precedence conflicts are possible.
func Union(graphs ...*Graph) *Graph {
	var labels []string
	var triples []Triple
	for _, g := range graphs {
		if g == nil {
			continue
		}
		labels = append(labels, g.Labels()...)
		triples = append(triples, g.Triples()...)
	}
	return NewGraph(labels, triples)
}

// importDoc is the accepted JSON schema document shape.
type importDoc struct {
	Nodes []struct {
		Label string `json:"label"`
	} `json:"nodes"`
	Relationships []struct {
		Type string    `json:"type"`
		From importRef `json:"from"`
		To   importRef `json:"to"`
	} `json:"relationships"`
}

// importRef is either a bare label string or a {"$ref": "#/nodes/<Label>"}
// reference object.
type importRef struct {
	Label string
	Ref   string
}

func (r *importRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.Label = s
		return nil
	}
	var obj struct {
		Ref string `json:"$ref"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.Ref = obj.Ref
	return nil
}

// FromJSON normalizes an imported node/relationship/reference schema
// document. Every relationship endpoint must resolve to a declared node
// label; a dangling reference fails with a SchemaValidationError naming it.
func FromJSON(raw []byte) (*Graph, error) {
	var doc importDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &types.SchemaValidationError{Reason: "malformed schema document: " + err.Error()}
	}

	declared := make(map[string]struct{}, len(doc.Nodes))
	var labels []string
	for _, n := range doc.Nodes {
		label := strings.TrimSpace(n.Label)
		if label == "" {
			return nil, &types.SchemaValidationError{Reason: "node with empty label"}
		}
		declared[label] = struct{}{}
		labels = append(labels, label)
	}

	resolve := func(ref importRef) (string, error) {
		label := strings.TrimSpace(ref.Label)
		if label == "" && ref.Ref != "" {
			label = strings.TrimSpace(strings.TrimPrefix(ref.Ref, "#/nodes/"))
			if label == ref.Ref || label == "" {
				return "", &types.SchemaValidationError{Ref: ref.Ref, Reason: "unresolvable reference"}
			}
		}
		if _, ok := declared[label]; !ok {
			name := label
			if name == "" {
				name = ref.Ref
			}
			return "", &types.SchemaValidationError{Ref: name, Reason: "reference does not resolve to a declared node label"}
		}
		return label, nil
	}

	var triples []Triple
	for _, rel := range doc.Relationships {
		relType := strings.TrimSpace(rel.Type)
		if relType == "" {
			return nil, &types.SchemaValidationError{Reason: "relationship with empty type"}
		}
		from, err := resolve(rel.From)
		if err != nil {
			return nil, err
		}
		to, err := resolve(rel.To)
		if err != nil {
			return nil, err
		}
		triples = append(triples, Triple{From: from, Type: relType, To: to})
	}
	return NewGraph(labels, triples), nil
}

// FromTuples normalizes database-derived (from, type, to) rows, such as the
// output of a label/relationship scan of an existing graph.
func FromTuples(tuples []Triple) *Graph {
	labels := make([]string, 0, len(tuples)*2)
	for _, t := range tuples {
		labels = append(labels, t.From, t.To)
	}
	return NewGraph(labels, tuples)
}
