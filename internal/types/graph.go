package types

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Entity is an extracted real-world object. CanonicalID is derived from the
// normalized label+name pair so concurrent extractions of "the same" entity
// resolve to one node instead of creating duplicates.
type Entity struct {
	CanonicalID string            `json:"canonicalId"`
	Name        string            `json:"name"`
	Label       string            `json:"label"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// Relation is a typed edge between two entities, with provenance back to
// the chunk(s) that produced it.
type Relation struct {
	SourceID   string   `json:"sourceId"`
	Type       string   `json:"type"`
	TargetID   string   `json:"targetId"`
	ChunkIDs   []string `json:"chunkIds,omitempty"`
	Additional bool     `json:"additional,omitempty"`
}

// Subgraph is one extraction result: candidate entities plus typed
// relationships, all keyed by canonical entity id.
type Subgraph struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// MergeStats summarizes one atomic subgraph merge.
type MergeStats struct {
	NodesCreated int `json:"nodesCreated"`
	NodesUpdated int `json:"nodesUpdated"`
	RelsCreated  int `json:"relsCreated"`
}

// NormalizeEntityName lowercases, trims and collapses inner whitespace so
// "Marie  Curie " and "marie curie" share a canonical identity.
func NormalizeEntityName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// CanonicalEntityID derives the stable merge key for an entity.
func CanonicalEntityID(label, name string) string {
	h := sha1.Sum([]byte(strings.ToLower(strings.TrimSpace(label)) + "|" + NormalizeEntityName(name)))
	return hex.EncodeToString(h[:])
}
