package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/yungbote/graphsmith-backend/internal/embed"
	"github.com/yungbote/graphsmith-backend/internal/extract"
	"github.com/yungbote/graphsmith-backend/internal/loader"
	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
	"github.com/yungbote/graphsmith-backend/internal/repos"
	"github.com/yungbote/graphsmith-backend/internal/schema"
	"github.com/yungbote/graphsmith-backend/internal/status"
	"github.com/yungbote/graphsmith-backend/internal/types"
)

// GraphStore is the persistence surface the pipeline drives. Satisfied by
// *graphstore.Store; narrowed to an interface so the state machine is
// testable against an in-memory fake.
type GraphStore interface {
	GetDocument(ctx context.Context, id uuid.UUID) (types.Document, error)
	UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status types.DocumentStatus, processedChunks int, errMsg string) error
	SetTotalChunks(ctx context.Context, id uuid.UUID, total int) error
	PersistChunks(ctx context.Context, docID uuid.UUID, chunks []types.Chunk) error
	GetChunks(ctx context.Context, docID uuid.UUID) ([]types.Chunk, error)
	MergeSubgraph(ctx context.Context, docID uuid.UUID, chunkIDs []string, sub types.Subgraph) (types.MergeStats, error)
	MarkChunksProcessed(ctx context.Context, docID uuid.UUID, positions []int) error
	PurgeDocumentEntities(ctx context.Context, docID uuid.UUID) error
	UpdateCounts(ctx context.Context, id uuid.UUID) (nodeCount, relCount int, err error)
	StoreEmbeddings(ctx context.Context, docID uuid.UUID, vectors map[string][]float32) error
	UnembeddedChunks(ctx context.Context, docID uuid.UUID) ([]types.Chunk, error)
}

// Splitter chunks raw text deterministically. Satisfied by
// *chunker.Splitter.
type Splitter interface {
	Split(text string) ([]types.Chunk, error)
}

// Postprocessor is the optional trigger fired after a document completes.
// Failures are logged and never invalidate the finished extraction.
type Postprocessor interface {
	Run(ctx context.Context, documentID string) error
}

// Config is threaded explicitly from startup; there is no process-global
// pipeline state.
type Config struct {
	ChunksToCombine   int
	MaxLLMRetries     int
	LLMRetryBaseDelay time.Duration
	LLMTimeout        time.Duration
	Workers           int
	EmbedOnComplete   bool
}

func (c *Config) defaults() {
	if c.ChunksToCombine < 1 {
		c.ChunksToCombine = 1
	}
	if c.MaxLLMRetries <= 0 {
		c.MaxLLMRetries = 3
	}
	if c.LLMRetryBaseDelay <= 0 {
		c.LLMRetryBaseDelay = 2 * time.Second
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 3 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
}

// StartRequest begins (or retries) processing for an already-registered
// document. RetryMode must be set iff the document is in a retryable state.
type StartRequest struct {
	DocumentID   uuid.UUID
	Schema       *schema.Graph
	Instructions string
	RetryMode    types.RetryMode
}

// JobHandle identifies one scheduled processing run.
type JobHandle struct {
	DocumentID uuid.UUID
	RunID      uuid.UUID
}

// Orchestrator runs one sequential pipeline per document and any number of
// documents in parallel on a bounded worker pool.
type Orchestrator struct {
	store    GraphStore
	loaders  *loader.Registry
	splitter Splitter
	extract  extract.Extractor
	embedder embed.Embedder
	bus      status.Bus
	runs     repos.ExtractionRunRepo
	post     Postprocessor
	pool     *ants.Pool
	log      *logger.Logger
	cfg      Config

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	subs    map[uuid.UUID][]chan types.StatusSnapshot
}

// Deps carries required and optional collaborators. Embedder, Bus, Runs and
// Post may be nil; Store, Loaders, Splitter and Extractor are required and
// their absence is a configuration error surfaced before any document work.
type Deps struct {
	Store     GraphStore
	Loaders   *loader.Registry
	Splitter  Splitter
	Extractor extract.Extractor
	Embedder  embed.Embedder
	Bus       status.Bus
	Runs      repos.ExtractionRunRepo
	Post      Postprocessor
}

func New(deps Deps, cfg Config, log *logger.Logger) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("orchestrator: graph store required")
	}
	if deps.Loaders == nil {
		return nil, fmt.Errorf("orchestrator: loader registry required")
	}
	if deps.Splitter == nil {
		return nil, fmt.Errorf("orchestrator: chunker required")
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("orchestrator: extractor required")
	}
	if log == nil {
		return nil, fmt.Errorf("orchestrator: logger required")
	}
	cfg.defaults()

	pool, err := ants.NewPool(cfg.Workers, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: worker pool: %w", err)
	}
	return &Orchestrator{
		store:    deps.Store,
		loaders:  deps.Loaders,
		splitter: deps.Splitter,
		extract:  deps.Extractor,
		embedder: deps.Embedder,
		bus:      deps.Bus,
		runs:     deps.Runs,
		post:     deps.Post,
		pool:     pool,
		log:      log.With("service", "Orchestrator"),
		cfg:      cfg,
		cancels:  make(map[uuid.UUID]context.CancelFunc),
		subs:     make(map[uuid.UUID][]chan types.StatusSnapshot),
	}, nil
}

// Start validates the request, flips the document into Processing and
// schedules the pipeline on the pool. Returns once scheduled; progress is
// observable through GetStatus / Subscribe / the status bus.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (JobHandle, error) {
	doc, err := o.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return JobHandle{}, err
	}
	if req.RetryMode != "" && !req.RetryMode.Valid() {
		return JobHandle{}, fmt.Errorf("orchestrator: invalid retry mode %q", req.RetryMode)
	}
	if doc.Status.Retryable() && req.RetryMode == "" {
		return JobHandle{}, fmt.Errorf("orchestrator: document %s is %s, a retry mode is required", doc.ID, doc.Status)
	}
	if !doc.Status.CanTransition(types.StatusProcessing) {
		return JobHandle{}, fmt.Errorf("orchestrator: document %s is %s and cannot start processing", doc.ID, doc.Status)
	}
	if doc.Status == types.StatusProcessing {
		return JobHandle{}, fmt.Errorf("orchestrator: document %s is already processing", doc.ID)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	if _, busy := o.cancels[doc.ID]; busy {
		o.mu.Unlock()
		cancel()
		return JobHandle{}, fmt.Errorf("orchestrator: document %s is already scheduled", doc.ID)
	}
	o.cancels[doc.ID] = cancel
	o.mu.Unlock()

	if err := o.store.UpdateDocumentStatus(ctx, doc.ID, types.StatusProcessing, -1, ""); err != nil {
		o.clearCancel(doc.ID)
		cancel()
		return JobHandle{}, err
	}

	handle := JobHandle{DocumentID: doc.ID, RunID: uuid.New()}
	submitErr := o.pool.Submit(func() {
		defer cancel()
		defer o.clearCancel(doc.ID)
		o.run(runCtx, handle, req)
	})
	if submitErr != nil {
		o.clearCancel(doc.ID)
		cancel()
		_ = o.store.UpdateDocumentStatus(ctx, doc.ID, doc.Status, -1, doc.ErrorMessage)
		return JobHandle{}, fmt.Errorf("orchestrator: schedule document %s: %w", doc.ID, submitErr)
	}
	return handle, nil
}

// Cancel requests a stop at the next chunk boundary. In-flight merges always
// finish; partial work is never rolled back.
func (o *Orchestrator) Cancel(documentID uuid.UUID) error {
	o.mu.Lock()
	cancel, ok := o.cancels[documentID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: document %s is not processing", documentID)
	}
	cancel()
	return nil
}

// GetStatus reads the persisted truth; it is never ahead of the store.
func (o *Orchestrator) GetStatus(ctx context.Context, documentID uuid.UUID) (types.StatusSnapshot, error) {
	doc, err := o.store.GetDocument(ctx, documentID)
	if err != nil {
		return types.StatusSnapshot{}, err
	}
	return snapshotOf(doc), nil
}

// Subscribe returns a finite stream of status snapshots for a document. The
// channel closes after a terminal snapshot is delivered (or when ctx ends).
// The current persisted state is always delivered first.
func (o *Orchestrator) Subscribe(ctx context.Context, documentID uuid.UUID) (<-chan types.StatusSnapshot, error) {
	doc, err := o.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	ch := make(chan types.StatusSnapshot, 16)
	ch <- snapshotOf(doc)
	if doc.Status.Terminal() {
		close(ch)
		return ch, nil
	}

	o.mu.Lock()
	o.subs[documentID] = append(o.subs[documentID], ch)
	o.mu.Unlock()

	go func() {
		<-ctx.Done()
		o.dropSubscriber(documentID, ch)
	}()
	return ch, nil
}

// Close drains the worker pool. Running documents keep their persisted
// cursor; a restart resumes them explicitly.
func (o *Orchestrator) Close() {
	o.pool.Release()
}

func (o *Orchestrator) clearCancel(id uuid.UUID) {
	o.mu.Lock()
	delete(o.cancels, id)
	o.mu.Unlock()
}

func (o *Orchestrator) dropSubscriber(id uuid.UUID, ch chan types.StatusSnapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	subs := o.subs[id]
	for i, c := range subs {
		if c == ch {
			o.subs[id] = append(subs[:i], subs[i+1:]...)
			close(c)
			break
		}
	}
	if len(o.subs[id]) == 0 {
		delete(o.subs, id)
	}
}

func snapshotOf(doc types.Document) types.StatusSnapshot {
	return types.StatusSnapshot{
		DocumentID:        doc.ID,
		FileName:          doc.FileName,
		Status:            doc.Status,
		ProcessedChunks:   doc.ProcessedChunks,
		TotalChunks:       doc.TotalChunks,
		NodeCount:         doc.NodeCount,
		RelationshipCount: doc.RelationshipCount,
		ErrorMessage:      doc.ErrorMessage,
		UpdatedAt:         doc.UpdatedAt,
	}
}
