package graphstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/graphsmith-backend/internal/types"
)

// EnsureSchema creates the uniqueness constraints and indexes the pipeline
// depends on. Idempotent; safe to call at startup. The Entity id constraint
// is what makes concurrent merges of the same canonical entity safe.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE CONSTRAINT document_id_unique IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE`,
		`CREATE CONSTRAINT document_file_name_unique IF NOT EXISTS FOR (d:Document) REQUIRE d.fileName IS UNIQUE`,
		`CREATE CONSTRAINT entity_id_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
		`CREATE CONSTRAINT chunk_doc_position_unique IF NOT EXISTS FOR (c:Chunk) REQUIRE (c.documentId, c.position) IS UNIQUE`,
	}
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	for _, q := range stmts {
		if res, err := session.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("graphstore: ensure schema: %w", err)
		} else if _, err := res.Consume(ctx); err != nil {
			return fmt.Errorf("graphstore: ensure schema: %w", err)
		}
	}
	if s.embeddingDimension > 0 {
		if err := s.ensureVectorIndex(ctx); err != nil {
			return err
		}
	}
	return s.ensureFullTextIndex(ctx)
}

// CreateDocumentNode registers an ingested source. A document whose
// fileName already exists is a DuplicateDocumentError unless the existing
// node is in a retryable Failed/Cancelled state, in which case its node is
// reused and reset to New.
func (s *Store) CreateDocumentNode(ctx context.Context, doc types.Document) (uuid.UUID, error) {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	now := nowString()

	res, err := s.write(ctx, "create document", func(tx neo4j.ManagedTransaction) (any, error) {
		existing, err := tx.Run(ctx, `
MATCH (d:Document {fileName: $fileName})
RETURN d.id AS id, d.status AS status
`, map[string]any{"fileName": doc.FileName})
		if err != nil {
			return nil, err
		}
		if existing.Next(ctx) {
			rec := existing.Record().AsMap()
			status := types.DocumentStatus(asString(rec["status"]))
			if !status.Retryable() {
				return nil, &types.DuplicateDocumentError{FileName: doc.FileName, Status: status}
			}
			id, err := uuid.Parse(asString(rec["id"]))
			if err != nil {
				return nil, err
			}
			if err := run(ctx, tx, `
MATCH (d:Document {id: $id})
SET d.status = $status, d.errorMessage = '', d.updatedAt = $now,
    d.sourceType = $sourceType, d.sourceRef = $sourceRef, d.fileSize = $fileSize, d.model = $model
`, map[string]any{
				"id": id.String(), "status": string(types.StatusNew), "now": now,
				"sourceType": string(doc.SourceType), "sourceRef": doc.SourceRef,
				"fileSize": doc.FileSize, "model": doc.Model,
			}); err != nil {
				return nil, err
			}
			return id, nil
		}

		if err := run(ctx, tx, `
CREATE (d:Document {
  id: $id, fileName: $fileName, sourceType: $sourceType, sourceRef: $sourceRef,
  fileSize: $fileSize, model: $model, status: $status,
  totalChunks: 0, processedChunks: 0, errorMessage: '',
  nodeCount: 0, relationshipCount: 0,
  createdAt: $now, updatedAt: $now
})
`, map[string]any{
			"id": doc.ID.String(), "fileName": doc.FileName,
			"sourceType": string(doc.SourceType), "sourceRef": doc.SourceRef,
			"fileSize": doc.FileSize, "model": doc.Model,
			"status": string(types.StatusNew), "now": now,
		}); err != nil {
			return nil, err
		}
		return doc.ID, nil
	})
	if err != nil {
		return uuid.Nil, unwrapStoreErr(err)
	}
	return res.(uuid.UUID), nil
}

// unwrapStoreErr lets domain errors raised inside a transaction (duplicate
// document, for one) pass through instead of being wrapped as write
// failures.
func unwrapStoreErr(err error) error {
	if swe, ok := err.(*types.StoreWriteError); ok {
		switch swe.Err.(type) {
		case *types.DuplicateDocumentError:
			return swe.Err
		}
	}
	return err
}

func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (types.Document, error) {
	res, err := s.read(ctx, "get document", func(tx neo4j.ManagedTransaction) (any, error) {
		rows, err := tx.Run(ctx, `
MATCH (d:Document {id: $id})
RETURN d
`, map[string]any{"id": id.String()})
		if err != nil {
			return nil, err
		}
		if !rows.Next(ctx) {
			return nil, types.ErrSourceNotFound
		}
		node, _ := rows.Record().Get("d")
		return docFromNode(node), nil
	})
	if err != nil {
		return types.Document{}, err
	}
	return res.(types.Document), nil
}

// ListDocuments returns all ingested sources, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]types.Document, error) {
	res, err := s.read(ctx, "list documents", func(tx neo4j.ManagedTransaction) (any, error) {
		rows, err := tx.Run(ctx, `
MATCH (d:Document)
RETURN d
ORDER BY d.updatedAt DESC
`, nil)
		if err != nil {
			return nil, err
		}
		var docs []types.Document
		for rows.Next(ctx) {
			node, _ := rows.Record().Get("d")
			docs = append(docs, docFromNode(node))
		}
		return docs, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return res.([]types.Document), nil
}

// UpdateDocumentStatus persists the document state machine. The processed
// chunk cursor is only written when position >= 0, so terminal updates can
// leave the cursor untouched.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status types.DocumentStatus, processedChunks int, errMsg string) error {
	params := map[string]any{
		"id": id.String(), "status": string(status),
		"errorMessage": errMsg, "now": nowString(),
		"processedChunks": processedChunks,
	}
	query := `
MATCH (d:Document {id: $id})
SET d.status = $status, d.errorMessage = $errorMessage, d.updatedAt = $now
`
	if processedChunks >= 0 {
		query += `SET d.processedChunks = $processedChunks
`
	}
	_, err := s.write(ctx, "update document status", func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, run(ctx, tx, query, params)
	})
	return err
}

// SetTotalChunks records the chunk count established at chunking time.
func (s *Store) SetTotalChunks(ctx context.Context, id uuid.UUID, total int) error {
	_, err := s.write(ctx, "set total chunks", func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, run(ctx, tx, `
MATCH (d:Document {id: $id})
SET d.totalChunks = $total, d.updatedAt = $now
`, map[string]any{"id": id.String(), "total": total, "now": nowString()})
	})
	return err
}

// UpdateCounts refreshes the cached node/relationship summary counts for a
// document from the live graph.
func (s *Store) UpdateCounts(ctx context.Context, id uuid.UUID) (nodeCount, relCount int, err error) {
	res, err := s.write(ctx, "update counts", func(tx neo4j.ManagedTransaction) (any, error) {
		rows, err := tx.Run(ctx, `
MATCH (d:Document {id: $id})
OPTIONAL MATCH (c:Chunk)-[:PART_OF]->(d)
OPTIONAL MATCH (c)-[:HAS_ENTITY]->(e:Entity)
WITH d, collect(DISTINCT e) AS ents
OPTIONAL MATCH (e1:Entity)-[r]->(e2:Entity)
WHERE e1 IN ents AND e2 IN ents AND NOT type(r) IN ['HAS_ENTITY', 'PART_OF']
WITH d, size(ents) AS nodeCount, count(DISTINCT r) AS relCount
SET d.nodeCount = nodeCount, d.relationshipCount = relCount, d.updatedAt = $now
RETURN nodeCount, relCount
`, map[string]any{"id": id.String(), "now": nowString()})
		if err != nil {
			return nil, err
		}
		if !rows.Next(ctx) {
			return []int{0, 0}, rows.Err()
		}
		rec := rows.Record().AsMap()
		return []int{asInt(rec["nodeCount"]), asInt(rec["relCount"])}, nil
	})
	if err != nil {
		return 0, 0, err
	}
	counts := res.([]int)
	return counts[0], counts[1], nil
}

// DeleteDocumentAndOrphans removes the document, its chunks, and any
// entities left unreachable from every remaining document. Reachability is
// reference-counted through surviving HAS_ENTITY edges.
func (s *Store) DeleteDocumentAndOrphans(ctx context.Context, id uuid.UUID) error {
	_, err := s.write(ctx, "delete document", func(tx neo4j.ManagedTransaction) (any, error) {
		if err := run(ctx, tx, `
MATCH (c:Chunk)-[:PART_OF]->(d:Document {id: $id})
MATCH (c)-[:HAS_ENTITY]->(e:Entity)
WHERE NOT EXISTS {
  MATCH (other:Chunk)-[:HAS_ENTITY]->(e)
  WHERE NOT (other)-[:PART_OF]->(d)
}
DETACH DELETE e
`, map[string]any{"id": id.String()}); err != nil {
			return nil, err
		}
		return nil, run(ctx, tx, `
MATCH (d:Document {id: $id})
OPTIONAL MATCH (c:Chunk)-[:PART_OF]->(d)
DETACH DELETE c, d
`, map[string]any{"id": id.String()})
	})
	return err
}

func docFromNode(v any) types.Document {
	node, ok := v.(neo4j.Node)
	if !ok {
		return types.Document{}
	}
	p := node.Props
	id, _ := uuid.Parse(asString(p["id"]))
	return types.Document{
		ID:                id,
		FileName:          asString(p["fileName"]),
		SourceType:        types.SourceType(asString(p["sourceType"])),
		SourceRef:         asString(p["sourceRef"]),
		FileSize:          int64(asInt(p["fileSize"])),
		Model:             asString(p["model"]),
		Status:            types.DocumentStatus(asString(p["status"])),
		TotalChunks:       asInt(p["totalChunks"]),
		ProcessedChunks:   asInt(p["processedChunks"]),
		ErrorMessage:      asString(p["errorMessage"]),
		NodeCount:         asInt(p["nodeCount"]),
		RelationshipCount: asInt(p["relationshipCount"]),
		CreatedAt:         parseTime(p["createdAt"]),
		UpdatedAt:         parseTime(p["updatedAt"]),
	}
}
