package graphstore

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func (s *Store) ensureVectorIndex(ctx context.Context) error {
	_, err := s.write(ctx, "ensure vector index", func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, run(ctx, tx, `
CREATE VECTOR INDEX chunk_embedding IF NOT EXISTS
FOR (c:Chunk) ON (c.embedding)
OPTIONS {indexConfig: {
  `+"`vector.dimensions`"+`: $dim,
  `+"`vector.similarity_function`"+`: 'cosine'
}}
`, map[string]any{"dim": s.embeddingDimension})
	})
	return err
}

func (s *Store) ensureFullTextIndex(ctx context.Context) error {
	_, err := s.write(ctx, "ensure fulltext index", func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, run(ctx, tx, `
CREATE FULLTEXT INDEX entity_name_fulltext IF NOT EXISTS
FOR (e:Entity) ON EACH [e.name]
`, nil)
	})
	return err
}

// RebuildFullTextIndex drops and recreates the entity name index so newly
// merged labels are covered. Rebuilds are serialized; concurrent extraction
// writes are unaffected.
func (s *Store) RebuildFullTextIndex(ctx context.Context) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	_, err := s.write(ctx, "drop fulltext index", func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, run(ctx, tx, `DROP INDEX entity_name_fulltext IF EXISTS`, nil)
	})
	if err != nil {
		return err
	}
	return s.ensureFullTextIndex(ctx)
}

// UpdateKNNGraph links chunks of a document to their nearest neighbors by
// embedding cosine similarity with SIMILAR edges. Existing SIMILAR edges for
// the document are replaced so repeated runs stay bounded.
func (s *Store) UpdateKNNGraph(ctx context.Context, docID string, topK int, minScore float64) (int, error) {
	if s.embeddingDimension <= 0 {
		return 0, nil
	}
	if topK <= 0 {
		topK = 5
	}
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	res, err := s.write(ctx, "update knn graph", func(tx neo4j.ManagedTransaction) (any, error) {
		if err := run(ctx, tx, `
MATCH (c:Chunk {documentId: $docId})-[r:SIMILAR]-()
DELETE r
`, map[string]any{"docId": docID}); err != nil {
			return nil, err
		}
		rows, err := tx.Run(ctx, `
MATCH (c:Chunk {documentId: $docId})
WHERE c.embedding IS NOT NULL
CALL db.index.vector.queryNodes('chunk_embedding', $k, c.embedding) YIELD node, score
WHERE node <> c AND score >= $minScore
MERGE (c)-[r:SIMILAR]-(node)
SET r.score = score
RETURN count(r) AS edges
`, map[string]any{"docId": docID, "k": topK + 1, "minScore": minScore})
		if err != nil {
			return nil, err
		}
		if rows.Next(ctx) {
			return asInt(rows.Record().AsMap()["edges"]), nil
		}
		return 0, rows.Err()
	})
	if err != nil {
		return 0, err
	}
	return res.(int), nil
}

// GetLabelsAndRelationTypes reports the entity labels and relationship
// types currently in the graph, for schema suggestions and bootstrap from an
// existing database.
func (s *Store) GetLabelsAndRelationTypes(ctx context.Context) (labels []string, relTypes []string, err error) {
	res, err := s.read(ctx, "labels and relation types", func(tx neo4j.ManagedTransaction) (any, error) {
		rows, err := tx.Run(ctx, `
MATCH (e:Entity)
WITH collect(DISTINCT e.label) AS labels
OPTIONAL MATCH (:Entity)-[r]->(:Entity)
WHERE NOT type(r) IN ['HAS_ENTITY', 'PART_OF', 'SIMILAR']
RETURN labels, collect(DISTINCT type(r)) AS relTypes
`, nil)
		if err != nil {
			return nil, err
		}
		if !rows.Next(ctx) {
			return [2][]string{}, rows.Err()
		}
		rec := rows.Record().AsMap()
		var out [2][]string
		if vs, ok := rec["labels"].([]any); ok {
			for _, v := range vs {
				if str := asString(v); str != "" {
					out[0] = append(out[0], str)
				}
			}
		}
		if vs, ok := rec["relTypes"].([]any); ok {
			for _, v := range vs {
				if str := asString(v); str != "" {
					out[1] = append(out[1], str)
				}
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, nil, err
	}
	pair := res.([2][]string)
	return pair[0], pair[1], nil
}

// GetGraphTriples samples existing (label)-[type]->(label) combinations so a
// schema can be derived from a populated database.
func (s *Store) GetGraphTriples(ctx context.Context, limit int) ([][3]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	res, err := s.read(ctx, "graph triples", func(tx neo4j.ManagedTransaction) (any, error) {
		rows, err := tx.Run(ctx, `
MATCH (a:Entity)-[r]->(b:Entity)
WHERE NOT type(r) IN ['HAS_ENTITY', 'PART_OF', 'SIMILAR']
RETURN DISTINCT a.label AS from, type(r) AS type, b.label AS to
LIMIT $limit
`, map[string]any{"limit": limit})
		if err != nil {
			return nil, err
		}
		var triples [][3]string
		for rows.Next(ctx) {
			rec := rows.Record().AsMap()
			triples = append(triples, [3]string{
				asString(rec["from"]), asString(rec["type"]), asString(rec["to"]),
			})
		}
		return triples, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return res.([][3]string), nil
}
