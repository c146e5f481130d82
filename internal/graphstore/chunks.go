package graphstore

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/graphsmith-backend/internal/types"
)

// PersistChunks writes the chunk list for a document, wiring the PART_OF,
// FIRST_CHUNK and NEXT_CHUNK layout. Idempotent: merging on (documentId,
// position) means re-running chunking for the same text is a no-op.
func (s *Store) PersistChunks(ctx context.Context, docID uuid.UUID, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	ordered := make([]types.Chunk, len(chunks))
	copy(ordered, chunks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	rows := make([]map[string]any, 0, len(ordered))
	for _, c := range ordered {
		rows = append(rows, map[string]any{
			"id":        c.ID,
			"position":  c.Position,
			"text":      c.Text,
			"tokens":    c.Tokens,
			"charStart": c.CharStart,
			"charEnd":   c.CharEnd,
		})
	}

	_, err := s.write(ctx, "persist chunks", func(tx neo4j.ManagedTransaction) (any, error) {
		if err := run(ctx, tx, `
MATCH (d:Document {id: $docId})
UNWIND $rows AS row
MERGE (c:Chunk {documentId: $docId, position: row.position})
ON CREATE SET c.embedded = false, c.processed = false
SET c.id = row.id, c.text = row.text, c.tokens = row.tokens,
    c.charStart = row.charStart, c.charEnd = row.charEnd
MERGE (c)-[:PART_OF]->(d)
`, map[string]any{"docId": docID.String(), "rows": rows}); err != nil {
			return nil, err
		}
		if err := run(ctx, tx, `
MATCH (d:Document {id: $docId})
MATCH (c:Chunk {documentId: $docId, position: 1})
MERGE (d)-[:FIRST_CHUNK]->(c)
`, map[string]any{"docId": docID.String()}); err != nil {
			return nil, err
		}
		return nil, run(ctx, tx, `
MATCH (a:Chunk {documentId: $docId})
MATCH (b:Chunk {documentId: $docId})
WHERE b.position = a.position + 1
MERGE (a)-[:NEXT_CHUNK]->(b)
`, map[string]any{"docId": docID.String()})
	})
	return err
}

// GetChunks returns a document's chunks in position order.
func (s *Store) GetChunks(ctx context.Context, docID uuid.UUID) ([]types.Chunk, error) {
	res, err := s.read(ctx, "get chunks", func(tx neo4j.ManagedTransaction) (any, error) {
		rows, err := tx.Run(ctx, `
MATCH (c:Chunk {documentId: $docId})
RETURN c.id AS id, c.position AS position, c.text AS text, c.tokens AS tokens,
       c.charStart AS charStart, c.charEnd AS charEnd,
       coalesce(c.embedded, false) AS embedded, coalesce(c.processed, false) AS processed
ORDER BY c.position
`, map[string]any{"docId": docID.String()})
		if err != nil {
			return nil, err
		}
		var chunks []types.Chunk
		for rows.Next(ctx) {
			rec := rows.Record().AsMap()
			embedded, _ := rec["embedded"].(bool)
			processed, _ := rec["processed"].(bool)
			chunks = append(chunks, types.Chunk{
				ID:        asString(rec["id"]),
				Position:  asInt(rec["position"]),
				Text:      asString(rec["text"]),
				Tokens:    asInt(rec["tokens"]),
				CharStart: asInt(rec["charStart"]),
				CharEnd:   asInt(rec["charEnd"]),
				Embedded:  embedded,
				Processed: processed,
			})
		}
		return chunks, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return res.([]types.Chunk), nil
}

// MarkChunksProcessed flips the processed flag for the given positions.
func (s *Store) MarkChunksProcessed(ctx context.Context, docID uuid.UUID, positions []int) error {
	if len(positions) == 0 {
		return nil
	}
	_, err := s.write(ctx, "mark chunks processed", func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, run(ctx, tx, `
MATCH (c:Chunk {documentId: $docId})
WHERE c.position IN $positions
SET c.processed = true
`, map[string]any{"docId": docID.String(), "positions": positions})
	})
	return err
}

// StoreEmbeddings attaches vectors to chunks by id and marks them embedded.
func (s *Store) StoreEmbeddings(ctx context.Context, docID uuid.UUID, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(vectors))
	for chunkID, vec := range vectors {
		f64 := make([]float64, len(vec))
		for i, v := range vec {
			f64[i] = float64(v)
		}
		rows = append(rows, map[string]any{"id": chunkID, "embedding": f64})
	}
	_, err := s.write(ctx, "store embeddings", func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, run(ctx, tx, `
UNWIND $rows AS row
MATCH (c:Chunk {documentId: $docId, id: row.id})
SET c.embedding = row.embedding, c.embedded = true
`, map[string]any{"docId": docID.String(), "rows": rows})
	})
	return err
}

// UnembeddedChunks lists chunks that still need vectors, in position order.
func (s *Store) UnembeddedChunks(ctx context.Context, docID uuid.UUID) ([]types.Chunk, error) {
	chunks, err := s.GetChunks(ctx, docID)
	if err != nil {
		return nil, err
	}
	out := chunks[:0]
	for _, c := range chunks {
		if !c.Embedded {
			out = append(out, c)
		}
	}
	return out, nil
}
