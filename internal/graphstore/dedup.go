package graphstore

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// DuplicateGroup is a set of entity ids judged to refer to the same
// real-world thing, ordered with the suggested canonical survivor first.
type DuplicateGroup struct {
	IDs   []string
	Names []string
}

// FindDuplicateEntities pairs same-label entities whose names are near
// matches by Jaro-Winkler distance, then unions the pairs into groups. The
// threshold is a similarity floor in [0,1]; 0.9 and up works well for
// proper nouns.
func (s *Store) FindDuplicateEntities(ctx context.Context, threshold float64) ([]DuplicateGroup, error) {
	res, err := s.read(ctx, "find duplicate entities", func(tx neo4j.ManagedTransaction) (any, error) {
		rows, err := tx.Run(ctx, `
MATCH (a:Entity), (b:Entity)
WHERE a.label = b.label AND a.id < b.id
  AND apoc.text.jaroWinklerDistance(toLower(a.name), toLower(b.name)) >= $threshold
RETURN a.id AS aId, a.name AS aName, b.id AS bId, b.name AS bName
`, map[string]any{"threshold": threshold})
		if err != nil {
			return nil, err
		}

		parent := map[string]string{}
		names := map[string]string{}
		var find func(string) string
		find = func(x string) string {
			if parent[x] != x {
				parent[x] = find(parent[x])
			}
			return parent[x]
		}
		add := func(id, name string) {
			if _, ok := parent[id]; !ok {
				parent[id] = id
				names[id] = name
			}
		}
		for rows.Next(ctx) {
			rec := rows.Record().AsMap()
			aID, bID := asString(rec["aId"]), asString(rec["bId"])
			add(aID, asString(rec["aName"]))
			add(bID, asString(rec["bName"]))
			ra, rb := find(aID), find(bID)
			if ra != rb {
				parent[rb] = ra
			}
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		byRoot := map[string][]string{}
		for id := range parent {
			root := find(id)
			byRoot[root] = append(byRoot[root], id)
		}
		var groups []DuplicateGroup
		for root, ids := range byRoot {
			if len(ids) < 2 {
				continue
			}
			// Survivor first.
			ordered := []string{root}
			for _, id := range ids {
				if id != root {
					ordered = append(ordered, id)
				}
			}
			g := DuplicateGroup{IDs: ordered}
			for _, id := range ordered {
				g.Names = append(g.Names, names[id])
			}
			groups = append(groups, g)
		}
		return groups, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]DuplicateGroup), nil
}

// MergeEntities collapses a duplicate group into its first member,
// combining properties and redirecting relationships.
func (s *Store) MergeEntities(ctx context.Context, ids []string) error {
	if len(ids) < 2 {
		return nil
	}
	_, err := s.write(ctx, "merge entities", func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, run(ctx, tx, `
MATCH (e:Entity) WHERE e.id IN $ids
WITH e ORDER BY CASE e.id WHEN $survivor THEN 0 ELSE 1 END
WITH collect(e) AS nodes
CALL apoc.refactor.mergeNodes(nodes, {properties: 'combine', mergeRels: true}) YIELD node
SET node.id = $survivor
RETURN node
`, map[string]any{"ids": ids, "survivor": ids[0]})
	})
	return err
}
