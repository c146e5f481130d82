package graphstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/graphsmith-backend/internal/types"
)

// MergeSubgraph applies one extraction window's entities and relationships
// in a single write transaction, so a window is either fully in the graph or
// not at all. Entities merge on canonical id; relationships merge per
// dynamic type via apoc and accumulate chunk-id provenance. Returns
// created-vs-updated stats computed against the pre-merge graph inside the
// same transaction.
func (s *Store) MergeSubgraph(ctx context.Context, docID uuid.UUID, chunkIDs []string, sub types.Subgraph) (types.MergeStats, error) {
	if len(sub.Entities) == 0 {
		return types.MergeStats{}, nil
	}

	entityRows := make([]map[string]any, 0, len(sub.Entities))
	ids := make([]string, 0, len(sub.Entities))
	for _, e := range sub.Entities {
		props := map[string]any{}
		for k, v := range e.Properties {
			props[k] = v
		}
		entityRows = append(entityRows, map[string]any{
			"id":    e.CanonicalID,
			"name":  e.Name,
			"label": e.Label,
			"props": props,
		})
		ids = append(ids, e.CanonicalID)
	}

	relRows := make([]map[string]any, 0, len(sub.Relations))
	relKeys := make([]string, 0, len(sub.Relations))
	for _, r := range sub.Relations {
		relRows = append(relRows, map[string]any{
			"src":  r.SourceID,
			"type": r.Type,
			"dst":  r.TargetID,
		})
		relKeys = append(relKeys, relKey(r.SourceID, r.Type, r.TargetID))
	}

	res, err := s.write(ctx, "merge subgraph", func(tx neo4j.ManagedTransaction) (any, error) {
		preexisting, err := tx.Run(ctx, `
MATCH (e:Entity) WHERE e.id IN $ids
RETURN collect(e.id) AS ids
`, map[string]any{"ids": ids})
		if err != nil {
			return nil, err
		}
		existing := map[string]bool{}
		if preexisting.Next(ctx) {
			if list, ok := preexisting.Record().AsMap()["ids"].([]any); ok {
				for _, v := range list {
					existing[asString(v)] = true
				}
			}
		}

		if err := run(ctx, tx, `
UNWIND $rows AS row
MERGE (e:Entity {id: row.id})
ON CREATE SET e.name = row.name, e.label = row.label, e.createdAt = $now
SET e += row.props, e.updatedAt = $now
`, map[string]any{"rows": entityRows, "now": nowString()}); err != nil {
			return nil, err
		}

		if err := run(ctx, tx, `
UNWIND $chunkIds AS cid
MATCH (c:Chunk {documentId: $docId, id: cid})
UNWIND $ids AS eid
MATCH (e:Entity {id: eid})
MERGE (c)-[:HAS_ENTITY]->(e)
`, map[string]any{"docId": docID.String(), "chunkIds": chunkIDs, "ids": ids}); err != nil {
			return nil, err
		}

		relsCreated := 0
		if len(relRows) > 0 {
			// Same pre-read trick as the entity path: a triple already in the
			// graph is an update, not a creation.
			prior, err := tx.Run(ctx, `
UNWIND $rows AS row
MATCH (src:Entity {id: row.src})-[rel]->(dst:Entity {id: row.dst})
WHERE type(rel) = row.type
RETURN collect(DISTINCT row.src + '|' + row.type + '|' + row.dst) AS keys
`, map[string]any{"rows": relRows})
			if err != nil {
				return nil, err
			}
			existingRels := map[string]bool{}
			if prior.Next(ctx) {
				if list, ok := prior.Record().AsMap()["keys"].([]any); ok {
					for _, v := range list {
						existingRels[asString(v)] = true
					}
				}
			}
			if err := prior.Err(); err != nil {
				return nil, err
			}

			if err := run(ctx, tx, `
UNWIND $rows AS row
MATCH (src:Entity {id: row.src})
MATCH (dst:Entity {id: row.dst})
CALL apoc.merge.relationship(src, row.type, {}, {chunkIds: []}, dst, {}) YIELD rel
SET rel.chunkIds = [x IN coalesce(rel.chunkIds, []) WHERE NOT x IN $chunkIds] + $chunkIds
`, map[string]any{"rows": relRows, "chunkIds": chunkIDs}); err != nil {
				return nil, err
			}
			relsCreated = countNewKeys(existingRels, relKeys)
		}

		stats := types.MergeStats{RelsCreated: relsCreated}
		for _, id := range ids {
			if existing[id] {
				stats.NodesUpdated++
			} else {
				stats.NodesCreated++
			}
		}
		return stats, nil
	})
	if err != nil {
		return types.MergeStats{}, err
	}
	return res.(types.MergeStats), nil
}

// relKey identifies a relationship by its (source, type, target) triple,
// matching the merge identity apoc.merge.relationship uses.
func relKey(src, relType, dst string) string {
	return src + "|" + relType + "|" + dst
}

// countNewKeys reports how many distinct keys are absent from existing.
// Duplicate triples in one window merge into a single relationship.
func countNewKeys(existing map[string]bool, keys []string) int {
	seen := map[string]bool{}
	n := 0
	for _, k := range keys {
		if seen[k] || existing[k] {
			continue
		}
		seen[k] = true
		n++
	}
	return n
}

// PurgeDocumentEntities deletes the entities whose only provenance is this
// document, plus this document's HAS_ENTITY edges, ahead of a
// restart-and-purge retry. Shared entities survive with their other-document
// provenance intact.
func (s *Store) PurgeDocumentEntities(ctx context.Context, docID uuid.UUID) error {
	_, err := s.write(ctx, "purge document entities", func(tx neo4j.ManagedTransaction) (any, error) {
		if err := run(ctx, tx, `
MATCH (c:Chunk {documentId: $docId})-[:HAS_ENTITY]->(e:Entity)
WHERE NOT EXISTS {
  MATCH (other:Chunk)-[:HAS_ENTITY]->(e)
  WHERE other.documentId <> $docId
}
DETACH DELETE e
`, map[string]any{"docId": docID.String()}); err != nil {
			return nil, err
		}
		return nil, run(ctx, tx, `
MATCH (c:Chunk {documentId: $docId})-[r:HAS_ENTITY]->(:Entity)
DELETE r
`, map[string]any{"docId": docID.String()})
	})
	return err
}
