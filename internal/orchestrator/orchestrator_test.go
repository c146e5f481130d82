package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/graphsmith-backend/internal/extract"
	"github.com/yungbote/graphsmith-backend/internal/loader"
	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
	"github.com/yungbote/graphsmith-backend/internal/types"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

// --- fakes -----------------------------------------------------------------

type statusUpdate struct {
	Status types.DocumentStatus
	Cursor int
}

type fakeStore struct {
	mu sync.Mutex

	docs     map[uuid.UUID]types.Document
	chunks   map[uuid.UUID][]types.Chunk
	chunkDoc map[string]uuid.UUID

	entities   map[string]types.Entity
	entityProv map[string]map[string]bool
	touches    map[string]int

	rels    map[string]map[string]bool
	relKeys []string

	embeddings map[string][]float32

	history       map[uuid.UUID][]statusUpdate
	mergeFailOnce map[string]error
	purgeCalls    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:          make(map[uuid.UUID]types.Document),
		chunks:        make(map[uuid.UUID][]types.Chunk),
		chunkDoc:      make(map[string]uuid.UUID),
		entities:      make(map[string]types.Entity),
		entityProv:    make(map[string]map[string]bool),
		touches:       make(map[string]int),
		rels:          make(map[string]map[string]bool),
		embeddings:    make(map[string][]float32),
		history:       make(map[uuid.UUID][]statusUpdate),
		mergeFailOnce: make(map[string]error),
	}
}

func (s *fakeStore) seed(doc types.Document) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = types.StatusNew
	}
	s.docs[doc.ID] = doc
	return doc.ID
}

func (s *fakeStore) GetDocument(ctx context.Context, id uuid.UUID) (types.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return types.Document{}, types.ErrSourceNotFound
	}
	return doc, nil
}

func (s *fakeStore) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status types.DocumentStatus, processedChunks int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.docs[id]
	doc.Status = status
	doc.ErrorMessage = errMsg
	if processedChunks >= 0 {
		doc.ProcessedChunks = processedChunks
	}
	doc.UpdatedAt = time.Now()
	s.docs[id] = doc
	s.history[id] = append(s.history[id], statusUpdate{Status: status, Cursor: doc.ProcessedChunks})
	return nil
}

func (s *fakeStore) SetTotalChunks(ctx context.Context, id uuid.UUID, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.docs[id]
	doc.TotalChunks = total
	s.docs[id] = doc
	return nil
}

func (s *fakeStore) PersistChunks(ctx context.Context, docID uuid.UUID, chunks []types.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byPos := make(map[int]types.Chunk, len(s.chunks[docID]))
	for _, c := range s.chunks[docID] {
		byPos[c.Position] = c
	}
	for _, c := range chunks {
		byPos[c.Position] = c
		s.chunkDoc[c.ID] = docID
	}
	out := make([]types.Chunk, 0, len(byPos))
	for pos := 1; pos <= len(byPos); pos++ {
		out = append(out, byPos[pos])
	}
	s.chunks[docID] = out
	return nil
}

func (s *fakeStore) GetChunks(ctx context.Context, docID uuid.UUID) ([]types.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Chunk, len(s.chunks[docID]))
	copy(out, s.chunks[docID])
	return out, nil
}

func (s *fakeStore) MergeSubgraph(ctx context.Context, docID uuid.UUID, chunkIDs []string, sub types.Subgraph) (types.MergeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(chunkIDs) > 0 {
		if err, ok := s.mergeFailOnce[chunkIDs[0]]; ok {
			delete(s.mergeFailOnce, chunkIDs[0])
			return types.MergeStats{}, err
		}
	}
	var stats types.MergeStats
	for _, e := range sub.Entities {
		if _, ok := s.entities[e.CanonicalID]; ok {
			stats.NodesUpdated++
		} else {
			s.entities[e.CanonicalID] = e
			s.entityProv[e.CanonicalID] = make(map[string]bool)
			stats.NodesCreated++
		}
		s.touches[e.CanonicalID]++
		for _, cid := range chunkIDs {
			s.entityProv[e.CanonicalID][cid] = true
		}
	}
	for _, r := range sub.Relations {
		key := r.SourceID + "|" + r.Type + "|" + r.TargetID
		if _, ok := s.rels[key]; !ok {
			s.rels[key] = make(map[string]bool)
			s.relKeys = append(s.relKeys, key)
		}
		for _, cid := range chunkIDs {
			s.rels[key][cid] = true
		}
		stats.RelsCreated++
	}
	return stats, nil
}

func (s *fakeStore) MarkChunksProcessed(ctx context.Context, docID uuid.UUID, positions []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[int]bool, len(positions))
	for _, p := range positions {
		want[p] = true
	}
	for i, c := range s.chunks[docID] {
		if want[c.Position] {
			s.chunks[docID][i].Processed = true
		}
	}
	return nil
}

func (s *fakeStore) PurgeDocumentEntities(ctx context.Context, docID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeCalls++
	for id, prov := range s.entityProv {
		onlyThisDoc := true
		for cid := range prov {
			if s.chunkDoc[cid] != docID {
				onlyThisDoc = false
				break
			}
		}
		if onlyThisDoc {
			delete(s.entities, id)
			delete(s.entityProv, id)
			continue
		}
		for cid := range prov {
			if s.chunkDoc[cid] == docID {
				delete(prov, cid)
			}
		}
	}
	return nil
}

func (s *fakeStore) UpdateCounts(ctx context.Context, id uuid.UUID) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := 0
	for _, prov := range s.entityProv {
		for cid := range prov {
			if s.chunkDoc[cid] == id {
				nodes++
				break
			}
		}
	}
	rels := 0
	for _, prov := range s.rels {
		for cid := range prov {
			if s.chunkDoc[cid] == id {
				rels++
				break
			}
		}
	}
	doc := s.docs[id]
	doc.NodeCount = nodes
	doc.RelationshipCount = rels
	s.docs[id] = doc
	return nodes, rels, nil
}

func (s *fakeStore) StoreEmbeddings(ctx context.Context, docID uuid.UUID, vectors map[string][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range vectors {
		s.embeddings[id] = v
	}
	for i, c := range s.chunks[docID] {
		if _, ok := vectors[c.ID]; ok {
			s.chunks[docID][i].Embedded = true
		}
	}
	return nil
}

func (s *fakeStore) UnembeddedChunks(ctx context.Context, docID uuid.UUID) ([]types.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Chunk
	for _, c := range s.chunks[docID] {
		if !c.Embedded {
			out = append(out, c)
		}
	}
	return out, nil
}

// wordSplitter yields one chunk per whitespace-separated word, so tests
// control chunk boundaries exactly. IDs are prefixed to stay unique across
// documents.
type wordSplitter struct {
	prefix string
}

func (w wordSplitter) Split(text string) ([]types.Chunk, error) {
	words := strings.Fields(text)
	chunks := make([]types.Chunk, 0, len(words))
	for i, word := range words {
		chunks = append(chunks, types.Chunk{
			ID:       fmt.Sprintf("%s-c%d", w.prefix, i+1),
			Position: i + 1,
			Text:     word,
			Tokens:   1,
		})
	}
	return chunks, nil
}

type staticLoader struct {
	text string
}

func (l staticLoader) Load(ctx context.Context, ref string) (loader.Content, error) {
	return loader.Content{Text: l.text, Title: ref, Size: int64(len(l.text))}, nil
}

// fakeExtractor dispatches on the window text. Unmapped text yields one
// entity named after the text itself.
type fakeExtractor struct {
	mu       sync.Mutex
	results  map[string]types.Subgraph
	failures map[string]error
	calls    []string
	block    map[string]bool
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		results:  make(map[string]types.Subgraph),
		failures: make(map[string]error),
		block:    make(map[string]bool),
	}
}

func (f *fakeExtractor) Extract(ctx context.Context, req extract.Request) (types.Subgraph, error) {
	f.mu.Lock()
	blocked := f.block[req.Text]
	f.mu.Unlock()
	if blocked {
		<-ctx.Done()
		return types.Subgraph{}, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.Text)
	if err, ok := f.failures[req.Text]; ok {
		if te, isTransient := err.(*types.TransientError); isTransient && te.Op == "once" {
			delete(f.failures, req.Text)
		}
		return types.Subgraph{}, err
	}
	if sub, ok := f.results[req.Text]; ok {
		return sub, nil
	}
	return subgraphOf(req.Text), nil
}

func (f *fakeExtractor) callsFor(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == text {
			n++
		}
	}
	return n
}

func entityOf(label, name string) types.Entity {
	return types.Entity{
		CanonicalID: types.CanonicalEntityID(label, name),
		Name:        name,
		Label:       label,
	}
}

func subgraphOf(name string) types.Subgraph {
	return types.Subgraph{Entities: []types.Entity{entityOf("Concept", name)}}
}

// --- harness ---------------------------------------------------------------

type harness struct {
	orch  *Orchestrator
	store *fakeStore
	ext   *fakeExtractor
}

func newHarness(t *testing.T, text string) *harness {
	t.Helper()
	store := newFakeStore()
	ext := newFakeExtractor()
	log := mustTestLogger(t)

	reg := loader.NewRegistry(log)
	reg.Register(types.SourceUpload, staticLoader{text: text})

	orch, err := New(Deps{
		Store:     store,
		Loaders:   reg,
		Splitter:  wordSplitter{prefix: "doc"},
		Extractor: ext,
	}, Config{
		MaxLLMRetries:     3,
		LLMRetryBaseDelay: time.Millisecond,
		LLMTimeout:        time.Second,
		Workers:           2,
	}, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(orch.Close)
	return &harness{orch: orch, store: store, ext: ext}
}

func (h *harness) seedDoc(t *testing.T) uuid.UUID {
	t.Helper()
	return h.store.seed(types.Document{
		FileName:   "doc.txt",
		SourceType: types.SourceUpload,
		SourceRef:  "doc.txt",
	})
}

func (h *harness) waitTerminal(t *testing.T, id uuid.UUID) types.Document {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		doc, err := h.store.GetDocument(context.Background(), id)
		if err != nil {
			t.Fatalf("GetDocument: %v", err)
		}
		if doc.Status.Terminal() {
			return doc
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("document %s never reached a terminal state", id)
	return types.Document{}
}

func (h *harness) waitCursor(t *testing.T, id uuid.UUID, cursor int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		doc, _ := h.store.GetDocument(context.Background(), id)
		if doc.ProcessedChunks >= cursor {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("document %s never reached cursor %d", id, cursor)
}

// --- tests -----------------------------------------------------------------

func TestSingleChunkExtractionIsIdempotent(t *testing.T) {
	h := newHarness(t, "alice-and-acme")
	id := h.seedDoc(t)

	alice := entityOf("Person", "Alice")
	bob := entityOf("Person", "Bob")
	acme := entityOf("Company", "Acme")
	h.ext.results["alice-and-acme"] = types.Subgraph{
		Entities: []types.Entity{alice, bob, acme},
		Relations: []types.Relation{
			{SourceID: alice.CanonicalID, Type: "WORKS_AT", TargetID: acme.CanonicalID},
			{SourceID: bob.CanonicalID, Type: "WORKS_AT", TargetID: acme.CanonicalID},
		},
	}

	if _, err := h.orch.Start(context.Background(), StartRequest{DocumentID: id}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	doc := h.waitTerminal(t, id)
	if doc.Status != types.StatusCompleted {
		t.Fatalf("status = %s (%s), want Completed", doc.Status, doc.ErrorMessage)
	}
	if doc.ProcessedChunks != 1 || doc.TotalChunks != 1 {
		t.Fatalf("cursor %d/%d, want 1/1", doc.ProcessedChunks, doc.TotalChunks)
	}
	if doc.NodeCount != 3 || doc.RelationshipCount != 2 {
		t.Fatalf("counts %d/%d, want 3 nodes 2 rels", doc.NodeCount, doc.RelationshipCount)
	}

	// Re-running the identical extraction must not change counts.
	if _, err := h.orch.Start(context.Background(), StartRequest{DocumentID: id}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	doc = h.waitTerminal(t, id)
	if doc.Status != types.StatusCompleted || doc.NodeCount != 3 || doc.RelationshipCount != 2 {
		t.Fatalf("idempotent re-run changed state: %+v", doc)
	}
	if len(h.store.entities) != 3 || len(h.store.rels) != 2 {
		t.Fatalf("store has %d entities %d rels, want 3/2", len(h.store.entities), len(h.store.rels))
	}
}

func TestMergeFailurePreservesCursorAndResumeCompletes(t *testing.T) {
	h := newHarness(t, "w1 w2 w3 w4 w5")
	id := h.seedDoc(t)

	// Chunk 3's merge fails once with a store write error.
	h.store.mergeFailOnce["doc-c3"] = &types.StoreWriteError{Op: "merge subgraph", Err: errors.New("boom")}

	if _, err := h.orch.Start(context.Background(), StartRequest{DocumentID: id}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	doc := h.waitTerminal(t, id)
	if doc.Status != types.StatusFailed {
		t.Fatalf("status = %s, want Failed", doc.Status)
	}
	if doc.ProcessedChunks != 2 {
		t.Fatalf("cursor = %d, want 2 (failed chunk must be retried, never skipped)", doc.ProcessedChunks)
	}
	if doc.ErrorMessage == "" {
		t.Fatalf("failed document must carry an error message")
	}

	touchesBefore := map[string]int{}
	h.store.mu.Lock()
	for k, v := range h.store.touches {
		touchesBefore[k] = v
	}
	h.store.mu.Unlock()
	h.ext.mu.Lock()
	h.ext.calls = nil
	h.ext.mu.Unlock()

	if _, err := h.orch.Start(context.Background(), StartRequest{
		DocumentID: id, RetryMode: types.RetryResume,
	}); err != nil {
		t.Fatalf("resume: %v", err)
	}
	doc = h.waitTerminal(t, id)
	if doc.Status != types.StatusCompleted || doc.ProcessedChunks != 5 {
		t.Fatalf("resume end state %s cursor %d, want Completed/5", doc.Status, doc.ProcessedChunks)
	}

	h.ext.mu.Lock()
	calls := append([]string(nil), h.ext.calls...)
	h.ext.mu.Unlock()
	for _, text := range calls {
		if text == "w1" || text == "w2" {
			t.Fatalf("resume re-extracted already-merged chunk %q", text)
		}
	}
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	for id, before := range touchesBefore {
		if h.store.touches[id] != before {
			t.Fatalf("entity %s from completed prefix was touched during resume", id)
		}
	}
}

func TestCancelBetweenChunks(t *testing.T) {
	h := newHarness(t, "w1 w2 w3 w4 w5")
	id := h.seedDoc(t)
	h.ext.block["w4"] = true

	if _, err := h.orch.Start(context.Background(), StartRequest{DocumentID: id}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.waitCursor(t, id, 3)
	if err := h.orch.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	doc := h.waitTerminal(t, id)
	if doc.Status != types.StatusCancelled {
		t.Fatalf("status = %s, want Cancelled", doc.Status)
	}
	if doc.ProcessedChunks != 3 {
		t.Fatalf("cursor = %d, want 3 (last fully merged chunk)", doc.ProcessedChunks)
	}

	h.ext.mu.Lock()
	delete(h.ext.block, "w4")
	h.ext.mu.Unlock()

	if _, err := h.orch.Start(context.Background(), StartRequest{
		DocumentID: id, RetryMode: types.RetryResume,
	}); err != nil {
		t.Fatalf("resume after cancel: %v", err)
	}
	doc = h.waitTerminal(t, id)
	if doc.Status != types.StatusCompleted || doc.ProcessedChunks != 5 {
		t.Fatalf("resume end state %s cursor %d, want Completed/5", doc.Status, doc.ProcessedChunks)
	}
}

func TestPermanentChunkFailureIsTolerated(t *testing.T) {
	h := newHarness(t, "w1 w2 w3")
	id := h.seedDoc(t)
	h.ext.failures["w2"] = errors.New("malformed model output")

	if _, err := h.orch.Start(context.Background(), StartRequest{DocumentID: id}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	doc := h.waitTerminal(t, id)
	if doc.Status != types.StatusCompleted {
		t.Fatalf("status = %s (%s), want Completed despite one bad chunk", doc.Status, doc.ErrorMessage)
	}
	if doc.ProcessedChunks != doc.TotalChunks {
		t.Fatalf("completed document must have cursor == total, got %d/%d", doc.ProcessedChunks, doc.TotalChunks)
	}
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if _, ok := h.store.entities[types.CanonicalEntityID("Concept", "w1")]; !ok {
		t.Fatalf("entities from good chunks must survive")
	}
	if _, ok := h.store.entities[types.CanonicalEntityID("Concept", "w2")]; ok {
		t.Fatalf("skipped chunk must not contribute entities")
	}
}

func TestAllChunksFailingFailsDocument(t *testing.T) {
	h := newHarness(t, "w1 w2")
	id := h.seedDoc(t)
	h.ext.failures["w1"] = errors.New("bad output")
	h.ext.failures["w2"] = errors.New("bad output")

	if _, err := h.orch.Start(context.Background(), StartRequest{DocumentID: id}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	doc := h.waitTerminal(t, id)
	if doc.Status != types.StatusFailed {
		t.Fatalf("status = %s, want Failed", doc.Status)
	}
	if !strings.Contains(doc.ErrorMessage, "no content extracted") {
		t.Fatalf("error message = %q, want no-content failure", doc.ErrorMessage)
	}
}

func TestResumeWithAllRemainingChunksSkippedCompletes(t *testing.T) {
	h := newHarness(t, "w1 w2 w3")
	id := h.seedDoc(t)

	// First run: chunk 3's merge fails, leaving Failed at cursor 2.
	h.store.mergeFailOnce["doc-c3"] = &types.StoreWriteError{Op: "merge subgraph", Err: errors.New("boom")}
	if _, err := h.orch.Start(context.Background(), StartRequest{DocumentID: id}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	doc := h.waitTerminal(t, id)
	if doc.Status != types.StatusFailed || doc.ProcessedChunks != 2 {
		t.Fatalf("first run ended %s cursor %d, want Failed/2", doc.Status, doc.ProcessedChunks)
	}

	// Resume: chunk 3 now extracts to garbage, permanently. Chunks 1-2 are
	// already in the graph, so the document must still complete; Failed is
	// only for documents where nothing ever merged.
	h.ext.failures["w3"] = errors.New("malformed model output")
	if _, err := h.orch.Start(context.Background(), StartRequest{
		DocumentID: id, RetryMode: types.RetryResume,
	}); err != nil {
		t.Fatalf("resume: %v", err)
	}
	doc = h.waitTerminal(t, id)
	if doc.Status != types.StatusCompleted {
		t.Fatalf("resume end state = %s (%q), want Completed", doc.Status, doc.ErrorMessage)
	}
	if doc.ProcessedChunks != doc.TotalChunks {
		t.Fatalf("cursor %d/%d after completion", doc.ProcessedChunks, doc.TotalChunks)
	}
}

func TestEmptyDocumentShortCircuitsToCompleted(t *testing.T) {
	h := newHarness(t, "")
	id := h.seedDoc(t)

	if _, err := h.orch.Start(context.Background(), StartRequest{DocumentID: id}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	doc := h.waitTerminal(t, id)
	if doc.Status != types.StatusCompleted || doc.TotalChunks != 0 || doc.NodeCount != 0 {
		t.Fatalf("empty document end state: %+v", doc)
	}
}

func TestTransientExtractionFailureIsRetried(t *testing.T) {
	h := newHarness(t, "w1")
	id := h.seedDoc(t)
	// Op "once" makes the fake clear the failure after the first call.
	h.ext.failures["w1"] = &types.TransientError{Op: "once", Err: errors.New("rate limited")}

	if _, err := h.orch.Start(context.Background(), StartRequest{DocumentID: id}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	doc := h.waitTerminal(t, id)
	if doc.Status != types.StatusCompleted {
		t.Fatalf("status = %s (%s), want Completed after transient retry", doc.Status, doc.ErrorMessage)
	}
	if got := h.ext.callsFor("w1"); got != 2 {
		t.Fatalf("extractor called %d times, want 2 (fail then succeed)", got)
	}
}

func TestTransientRetriesExhaustedFailsDocument(t *testing.T) {
	h := newHarness(t, "w1 w2 w3")
	id := h.seedDoc(t)
	h.ext.failures["w2"] = types.Transient("rate limit", errors.New("429"))

	if _, err := h.orch.Start(context.Background(), StartRequest{DocumentID: id}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	doc := h.waitTerminal(t, id)
	if doc.Status != types.StatusFailed {
		t.Fatalf("status = %s, want Failed when the provider stays down", doc.Status)
	}
	if doc.ProcessedChunks != 1 {
		t.Fatalf("cursor = %d, want 1 (chunk 1 merged, chunk 2 never)", doc.ProcessedChunks)
	}
	if got := h.ext.callsFor("w2"); got != 4 {
		t.Fatalf("extractor called %d times for w2, want 1 + 3 retries", got)
	}
}

func TestPurgeRestartRemovesOnlySoleProvenance(t *testing.T) {
	h := newHarness(t, "shared solo")
	id := h.seedDoc(t)

	shared := entityOf("Concept", "shared-entity")
	solo := entityOf("Concept", "solo-entity")
	h.ext.results["shared"] = types.Subgraph{Entities: []types.Entity{shared}}
	h.ext.results["solo"] = types.Subgraph{Entities: []types.Entity{solo}}

	if _, err := h.orch.Start(context.Background(), StartRequest{DocumentID: id}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.waitTerminal(t, id)

	// A second document also references the shared entity.
	otherID := h.store.seed(types.Document{FileName: "other.txt", SourceType: types.SourceUpload})
	otherChunk := types.Chunk{ID: "other-c1", Position: 1, Text: "shared"}
	if err := h.store.PersistChunks(context.Background(), otherID, []types.Chunk{otherChunk}); err != nil {
		t.Fatalf("persist other chunk: %v", err)
	}
	if _, err := h.store.MergeSubgraph(context.Background(), otherID, []string{"other-c1"}, types.Subgraph{
		Entities: []types.Entity{shared},
	}); err != nil {
		t.Fatalf("merge other doc: %v", err)
	}

	// Force a failure so a retry is legal, then purge-restart.
	_ = h.store.UpdateDocumentStatus(context.Background(), id, types.StatusFailed, -1, "induced")
	if _, err := h.orch.Start(context.Background(), StartRequest{
		DocumentID: id, RetryMode: types.RetryPurgeRestart,
	}); err != nil {
		t.Fatalf("purge restart: %v", err)
	}
	doc := h.waitTerminal(t, id)
	if doc.Status != types.StatusCompleted {
		t.Fatalf("status = %s, want Completed", doc.Status)
	}
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if h.store.purgeCalls != 1 {
		t.Fatalf("purge calls = %d, want 1", h.store.purgeCalls)
	}
	if _, ok := h.store.entities[shared.CanonicalID]; !ok {
		t.Fatalf("entity with other-document provenance must survive the purge")
	}
	if !h.store.entityProv[shared.CanonicalID]["other-c1"] {
		t.Fatalf("surviving entity must keep the other document's provenance")
	}
}

func TestCursorIsMonotonicPerRun(t *testing.T) {
	h := newHarness(t, "w1 w2 w3 w4")
	id := h.seedDoc(t)

	if _, err := h.orch.Start(context.Background(), StartRequest{DocumentID: id}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	doc := h.waitTerminal(t, id)

	h.store.mu.Lock()
	history := append([]statusUpdate(nil), h.store.history[id]...)
	h.store.mu.Unlock()
	last := 0
	for _, u := range history {
		if u.Cursor < last {
			t.Fatalf("cursor went backwards: %v", history)
		}
		last = u.Cursor
	}
	if doc.Status == types.StatusCompleted && doc.ProcessedChunks != doc.TotalChunks {
		t.Fatalf("Completed requires cursor == total, got %d/%d", doc.ProcessedChunks, doc.TotalChunks)
	}
}

func TestStartValidation(t *testing.T) {
	h := newHarness(t, "w1")
	id := h.seedDoc(t)

	if _, err := h.orch.Start(context.Background(), StartRequest{
		DocumentID: id, RetryMode: types.RetryMode("sideways"),
	}); err == nil {
		t.Fatalf("invalid retry mode must be rejected")
	}

	_ = h.store.UpdateDocumentStatus(context.Background(), id, types.StatusFailed, -1, "x")
	if _, err := h.orch.Start(context.Background(), StartRequest{DocumentID: id}); err == nil {
		t.Fatalf("failed document without a retry mode must be rejected")
	}

	_ = h.store.UpdateDocumentStatus(context.Background(), id, types.StatusProcessing, -1, "")
	if _, err := h.orch.Start(context.Background(), StartRequest{DocumentID: id}); err == nil {
		t.Fatalf("already-processing document must be rejected")
	}
}

func TestSubscribeDeliversFiniteStream(t *testing.T) {
	h := newHarness(t, "w1 w2")
	id := h.seedDoc(t)
	h.ext.block["w1"] = true

	if _, err := h.orch.Start(context.Background(), StartRequest{DocumentID: id}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ch, err := h.orch.Subscribe(context.Background(), id)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	h.ext.mu.Lock()
	delete(h.ext.block, "w1")
	h.ext.mu.Unlock()

	var last types.StatusSnapshot
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				if !last.Status.Terminal() {
					t.Fatalf("stream ended before a terminal snapshot, last=%+v", last)
				}
				if last.Status != types.StatusCompleted || last.ProcessedChunks != 2 {
					t.Fatalf("final snapshot %+v, want Completed/2", last)
				}
				return
			}
			last = snap
		case <-deadline:
			t.Fatalf("subscription never terminated")
		}
	}
}

func TestSubscribeOnTerminalDocumentClosesImmediately(t *testing.T) {
	h := newHarness(t, "w1")
	id := h.seedDoc(t)
	_ = h.store.UpdateDocumentStatus(context.Background(), id, types.StatusCompleted, 1, "")

	ch, err := h.orch.Subscribe(context.Background(), id)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	snap, ok := <-ch
	if !ok || snap.Status != types.StatusCompleted {
		t.Fatalf("want one Completed snapshot, got ok=%v snap=%+v", ok, snap)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel must close after the terminal snapshot")
	}
}
