package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/graphsmith-backend/internal/extract"
	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
	"github.com/yungbote/graphsmith-backend/internal/repos"
	"github.com/yungbote/graphsmith-backend/internal/sse"
	"github.com/yungbote/graphsmith-backend/internal/types"
)

// run is one full pipeline pass for one document. ctx is the cancellable
// run context; persistence uses an uncancellable derivative so a cancel
// request never corrupts the cursor mid-write.
func (o *Orchestrator) run(ctx context.Context, handle JobHandle, req StartRequest) {
	bg := context.WithoutCancel(ctx)
	log := o.log.With("document_id", handle.DocumentID, "run_id", handle.RunID)

	doc, err := o.store.GetDocument(bg, handle.DocumentID)
	if err != nil {
		log.Error("document vanished before processing", "error", err)
		return
	}
	log.Info("processing started", "file_name", doc.FileName, "retry_mode", string(req.RetryMode))

	var runID uuid.UUID
	if o.runs != nil {
		if rec, err := o.runs.Create(bg, nil, &repos.ExtractionRun{
			ID:         handle.RunID,
			DocumentID: doc.ID,
			FileName:   doc.FileName,
			RetryMode:  string(req.RetryMode),
			Model:      doc.Model,
		}); err != nil {
			log.Warn("run ledger write failed", "error", err)
		} else {
			runID = rec.ID
		}
	}
	defer func() {
		if o.runs != nil && runID != uuid.Nil {
			final, err := o.store.GetDocument(bg, doc.ID)
			if err == nil {
				if err := o.runs.Finish(bg, nil, runID, final); err != nil {
					log.Warn("run ledger finish failed", "error", err)
				}
			}
		}
	}()

	chunks, cursor, err := o.prepare(ctx, bg, doc, req)
	if err != nil {
		o.failDocument(bg, doc.ID, cursor, err)
		return
	}

	if len(chunks) == 0 {
		// Empty source short-circuits to Completed with zero nodes.
		if _, _, err := o.store.UpdateCounts(bg, doc.ID); err != nil {
			log.Warn("count refresh failed", "error", err)
		}
		if err := o.store.UpdateDocumentStatus(bg, doc.ID, types.StatusCompleted, 0, ""); err != nil {
			log.Error("completion write failed", "error", err)
			return
		}
		o.publish(bg, doc.ID, sse.EventExtractionCompleted)
		log.Info("empty document completed")
		return
	}

	remaining := make([]types.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Position > cursor {
			remaining = append(remaining, c)
		}
	}

	successes, warnings := 0, 0
	for _, window := range extract.Windows(remaining, o.cfg.ChunksToCombine) {
		if ctx.Err() != nil {
			o.markCancelled(bg, doc.ID, cursor)
			return
		}

		sub, err := o.extractWindow(ctx, window, req)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			o.markCancelled(bg, doc.ID, cursor)
			return
		case types.IsTransient(err):
			// Retries exhausted: the provider is down, not the chunk bad.
			o.failDocument(bg, doc.ID, cursor, &types.DocumentError{
				DocumentID: doc.ID, Position: window[0].Position, RetryMode: req.RetryMode, Err: err,
			})
			return
		default:
			warnings++
			log.Warn("chunk window skipped",
				"position", window[0].Position,
				"chunks", len(window),
				"error", err)
			continue
		}

		o.flagAdditionalRelations(&sub, req)

		chunkIDs := make([]string, 0, len(window))
		positions := make([]int, 0, len(window))
		for _, c := range window {
			chunkIDs = append(chunkIDs, c.ID)
			positions = append(positions, c.Position)
		}
		if _, err := o.store.MergeSubgraph(bg, doc.ID, chunkIDs, sub); err != nil {
			// Resume must retry this window, never skip it.
			o.failDocument(bg, doc.ID, window[0].Position-1, &types.DocumentError{
				DocumentID: doc.ID, Position: window[0].Position, RetryMode: req.RetryMode, Err: err,
			})
			return
		}
		if err := o.store.MarkChunksProcessed(bg, doc.ID, positions); err != nil {
			log.Warn("chunk flag update failed", "error", err)
		}

		cursor = window[len(window)-1].Position
		successes++
		if err := o.store.UpdateDocumentStatus(bg, doc.ID, types.StatusProcessing, cursor, ""); err != nil {
			o.failDocument(bg, doc.ID, cursor, err)
			return
		}
		o.publish(bg, doc.ID, sse.EventExtractionProgress)
	}

	// Failed is reserved for documents with no merged chunks at all. A resume
	// whose remaining windows were all skipped still completes on the strength
	// of the prefix merged in earlier runs.
	if successes == 0 && cursor == 0 && len(remaining) > 0 {
		o.failDocument(bg, doc.ID, cursor, fmt.Errorf("no content extracted"))
		return
	}

	o.complete(bg, doc.ID, chunks, warnings, log)
}

// prepare resolves the retry mode into (chunk list, resume cursor), loading
// and chunking the source where needed. Errors here are permanent for the
// document.
func (o *Orchestrator) prepare(ctx, bg context.Context, doc types.Document, req StartRequest) ([]types.Chunk, int, error) {
	switch req.RetryMode {
	case types.RetryResume:
		chunks, err := o.store.GetChunks(bg, doc.ID)
		if err != nil {
			return nil, doc.ProcessedChunks, err
		}
		if len(chunks) > 0 {
			return chunks, doc.ProcessedChunks, nil
		}
		// Nothing persisted to resume from; degrade to a restart.
		return o.rechunk(ctx, bg, doc)

	case types.RetryPurgeRestart:
		if err := o.store.PurgeDocumentEntities(bg, doc.ID); err != nil {
			return nil, 0, err
		}
		return o.rechunk(ctx, bg, doc)

	default:
		// Fresh start or RetryRestart: cursor resets, merge semantics absorb
		// any re-extraction.
		return o.rechunk(ctx, bg, doc)
	}
}

func (o *Orchestrator) rechunk(ctx, bg context.Context, doc types.Document) ([]types.Chunk, int, error) {
	content, err := o.loaders.Load(ctx, doc.SourceType, doc.SourceRef)
	if err != nil {
		return nil, 0, err
	}
	chunks, err := o.splitter.Split(content.Text)
	if err != nil {
		return nil, 0, err
	}
	if err := o.store.PersistChunks(bg, doc.ID, chunks); err != nil {
		return nil, 0, err
	}
	if err := o.store.SetTotalChunks(bg, doc.ID, len(chunks)); err != nil {
		return nil, 0, err
	}
	if err := o.store.UpdateDocumentStatus(bg, doc.ID, types.StatusProcessing, 0, ""); err != nil {
		return nil, 0, err
	}
	return chunks, 0, nil
}

// extractWindow invokes the LLM with per-call timeout and bounded backoff on
// transient failures. A TransientError return means retries were exhausted;
// any other error is permanent for this window.
func (o *Orchestrator) extractWindow(ctx context.Context, window []types.Chunk, req StartRequest) (types.Subgraph, error) {
	text := extract.WindowText(window)
	var lastErr error
	delay := o.cfg.LLMRetryBaseDelay
	for attempt := 0; attempt <= o.cfg.MaxLLMRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return types.Subgraph{}, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.LLMTimeout)
		sub, err := o.extract.Extract(callCtx, extract.Request{
			Text:         text,
			Schema:       req.Schema,
			Instructions: req.Instructions,
		})
		cancel()
		if err == nil {
			return sub, nil
		}
		if ctx.Err() != nil {
			return types.Subgraph{}, ctx.Err()
		}
		if !types.IsTransient(err) {
			return types.Subgraph{}, err
		}
		lastErr = err
	}
	return types.Subgraph{}, types.Transient("extraction retries exhausted", lastErr)
}

// flagAdditionalRelations marks relationships outside the active schema.
// They stay in the graph, flagged rather than dropped.
func (o *Orchestrator) flagAdditionalRelations(sub *types.Subgraph, req StartRequest) {
	if req.Schema == nil || req.Schema.Permissive() {
		return
	}
	labelByID := make(map[string]string, len(sub.Entities))
	for _, e := range sub.Entities {
		labelByID[e.CanonicalID] = e.Label
	}
	for i, rel := range sub.Relations {
		if !req.Schema.Allows(labelByID[rel.SourceID], rel.Type, labelByID[rel.TargetID]) {
			sub.Relations[i].Additional = true
		}
	}
}

func (o *Orchestrator) complete(bg context.Context, docID uuid.UUID, chunks []types.Chunk, warnings int, log *logger.Logger) {
	if o.cfg.EmbedOnComplete && o.embedder != nil {
		if err := o.backfillEmbeddings(bg, docID); err != nil {
			log.Warn("embedding backfill failed", "error", err)
		}
	}
	nodes, rels, err := o.store.UpdateCounts(bg, docID)
	if err != nil {
		log.Warn("count refresh failed", "error", err)
	}
	if err := o.store.UpdateDocumentStatus(bg, docID, types.StatusCompleted, len(chunks), ""); err != nil {
		log.Error("completion write failed", "error", err)
		return
	}
	o.publish(bg, docID, sse.EventExtractionCompleted)
	log.Info("processing completed",
		"total_chunks", len(chunks),
		"skipped_windows", warnings,
		"nodes", nodes,
		"relationships", rels)

	if o.post != nil {
		if err := o.post.Run(bg, docID.String()); err != nil {
			log.Warn("post-processing failed", "error", err)
		}
	}
}

func (o *Orchestrator) backfillEmbeddings(ctx context.Context, docID uuid.UUID) error {
	pending, err := o.store.UnembeddedChunks(ctx, docID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	const batch = 64
	for start := 0; start < len(pending); start += batch {
		end := start + batch
		if end > len(pending) {
			end = len(pending)
		}
		texts := make([]string, 0, end-start)
		for _, c := range pending[start:end] {
			texts = append(texts, c.Text)
		}
		vecs, err := o.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
		vectors := make(map[string][]float32, len(vecs))
		for i, v := range vecs {
			vectors[pending[start+i].ID] = v
		}
		if err := o.store.StoreEmbeddings(ctx, docID, vectors); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) failDocument(bg context.Context, docID uuid.UUID, cursor int, cause error) {
	msg := cause.Error()
	if err := o.store.UpdateDocumentStatus(bg, docID, types.StatusFailed, cursor, msg); err != nil {
		o.log.Error("failure write failed", "document_id", docID, "error", err)
	}
	o.log.Error("document failed", "document_id", docID, "cursor", cursor, "error", cause)
	o.publish(bg, docID, sse.EventExtractionFailed)
}

func (o *Orchestrator) markCancelled(bg context.Context, docID uuid.UUID, cursor int) {
	if err := o.store.UpdateDocumentStatus(bg, docID, types.StatusCancelled, cursor, ""); err != nil {
		o.log.Error("cancel write failed", "document_id", docID, "error", err)
	}
	o.log.Info("document cancelled", "document_id", docID, "cursor", cursor)
	o.publish(bg, docID, sse.EventExtractionCancelled)
}

// publish fans the current persisted snapshot out to local subscribers and
// the status bus.
func (o *Orchestrator) publish(bg context.Context, docID uuid.UUID, event sse.Event) {
	doc, err := o.store.GetDocument(bg, docID)
	if err != nil {
		return
	}
	snap := snapshotOf(doc)

	o.mu.Lock()
	subs := o.subs[docID]
	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
		}
	}
	if doc.Status.Terminal() {
		for _, ch := range subs {
			close(ch)
		}
		delete(o.subs, docID)
	}
	o.mu.Unlock()

	if o.bus != nil {
		if err := o.bus.Publish(bg, sse.Message{
			Channel: docID.String(),
			Event:   event,
			Data:    snap,
		}); err != nil {
			o.log.Warn("status publish failed", "document_id", docID, "error", err)
		}
	}
}
