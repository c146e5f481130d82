package graphstore

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// DetectCommunities runs Leiden community detection over the entity graph
// through the GDS library and writes a communityId property per entity.
// Requires the GDS plugin; callers treat failure as advisory.
func (s *Store) DetectCommunities(ctx context.Context) (int, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	res, err := s.write(ctx, "detect communities", func(tx neo4j.ManagedTransaction) (any, error) {
		if err := run(ctx, tx, `
CALL gds.graph.drop('entity_communities', false) YIELD graphName
RETURN graphName
`, nil); err != nil {
			// Graph may not exist yet; the projection below decides.
			s.log.Debug("community projection drop skipped", "error", err)
		}
		if err := run(ctx, tx, `
CALL gds.graph.project.cypher(
  'entity_communities',
  'MATCH (e:Entity) RETURN id(e) AS id',
  'MATCH (a:Entity)-[r]->(b:Entity)
   WHERE NOT type(r) IN ["HAS_ENTITY", "PART_OF", "SIMILAR"]
   RETURN id(a) AS source, id(b) AS target'
)
`, nil); err != nil {
			return nil, err
		}
		rows, err := tx.Run(ctx, `
CALL gds.leiden.write('entity_communities', {writeProperty: 'communityId'})
YIELD communityCount
RETURN communityCount
`, nil)
		if err != nil {
			return nil, err
		}
		count := 0
		if rows.Next(ctx) {
			count = asInt(rows.Record().AsMap()["communityCount"])
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if err := run(ctx, tx, `
CALL gds.graph.drop('entity_communities', false) YIELD graphName
RETURN graphName
`, nil); err != nil {
			s.log.Debug("community projection cleanup failed", "error", err)
		}
		return count, nil
	})
	if err != nil {
		return 0, err
	}
	return res.(int), nil
}
