package postprocess

import (
	"context"

	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
	"github.com/yungbote/graphsmith-backend/internal/types"
)

// TargetAll runs post-processing over every completed document.
const TargetAll = "all"

// GraphOps is the slice of the graph store the engine consumes.
type GraphOps interface {
	ListDocuments(ctx context.Context) ([]types.Document, error)
	UpdateKNNGraph(ctx context.Context, docID string, topK int, minScore float64) (int, error)
	RebuildFullTextIndex(ctx context.Context) error
	DetectCommunities(ctx context.Context) (int, error)
}

// Counts summarizes one post-processing pass.
type Counts struct {
	SimilarityEdges int `json:"similarityEdges"`
	Communities     int `json:"communities"`
}

type Config struct {
	KNNTopK     int
	KNNMinScore float64
	Communities bool
}

// Engine enriches the finished graph: chunk-similarity edges from embedding
// KNN, a fulltext index refresh and optional community detection. Every step
// is best-effort; a failure here never invalidates completed extraction.
type Engine struct {
	store GraphOps
	log   *logger.Logger
	cfg   Config
}

func New(store GraphOps, cfg Config, log *logger.Logger) *Engine {
	if cfg.KNNTopK <= 0 {
		cfg.KNNTopK = 5
	}
	if cfg.KNNMinScore <= 0 {
		cfg.KNNMinScore = 0.8
	}
	return &Engine{store: store, log: log.With("service", "Postprocess"), cfg: cfg}
}

// Run processes one document id, or every completed document when target is
// TargetAll.
func (e *Engine) Run(ctx context.Context, target string) (Counts, error) {
	var counts Counts

	ids, err := e.resolveTargets(ctx, target)
	if err != nil {
		return counts, err
	}
	for _, id := range ids {
		edges, err := e.store.UpdateKNNGraph(ctx, id, e.cfg.KNNTopK, e.cfg.KNNMinScore)
		if err != nil {
			e.log.Warn("knn update failed", "document_id", id, "error", err)
			continue
		}
		counts.SimilarityEdges += edges
	}

	if err := e.store.RebuildFullTextIndex(ctx); err != nil {
		e.log.Warn("fulltext rebuild failed", "error", err)
	}

	if e.cfg.Communities {
		communities, err := e.store.DetectCommunities(ctx)
		if err != nil {
			e.log.Warn("community detection failed", "error", err)
		} else {
			counts.Communities = communities
		}
	}

	e.log.Info("post-processing finished",
		"targets", len(ids),
		"similarity_edges", counts.SimilarityEdges,
		"communities", counts.Communities)
	return counts, nil
}

func (e *Engine) resolveTargets(ctx context.Context, target string) ([]string, error) {
	if target != TargetAll {
		return []string{target}, nil
	}
	docs, err := e.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Status == types.StatusCompleted {
			ids = append(ids, d.ID.String())
		}
	}
	return ids, nil
}
