package postprocess

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
	"github.com/yungbote/graphsmith-backend/internal/types"
)

type fakeOps struct {
	docs        []types.Document
	knnCalls    []string
	knnErr      error
	rebuilds    int
	communities int
	commErr     error
}

func (f *fakeOps) ListDocuments(ctx context.Context) ([]types.Document, error) {
	return f.docs, nil
}

func (f *fakeOps) UpdateKNNGraph(ctx context.Context, docID string, topK int, minScore float64) (int, error) {
	f.knnCalls = append(f.knnCalls, docID)
	if f.knnErr != nil {
		return 0, f.knnErr
	}
	return 3, nil
}

func (f *fakeOps) RebuildFullTextIndex(ctx context.Context) error {
	f.rebuilds++
	return nil
}

func (f *fakeOps) DetectCommunities(ctx context.Context) (int, error) {
	if f.commErr != nil {
		return 0, f.commErr
	}
	return f.communities, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func TestRunAllTargetsOnlyCompletedDocuments(t *testing.T) {
	done := types.Document{ID: uuid.New(), Status: types.StatusCompleted}
	failed := types.Document{ID: uuid.New(), Status: types.StatusFailed}
	ops := &fakeOps{docs: []types.Document{done, failed}, communities: 4}

	e := New(ops, Config{Communities: true}, testLogger(t))
	counts, err := e.Run(context.Background(), TargetAll)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ops.knnCalls) != 1 || ops.knnCalls[0] != done.ID.String() {
		t.Fatalf("knn targets = %v, want only the completed document", ops.knnCalls)
	}
	if counts.SimilarityEdges != 3 || counts.Communities != 4 {
		t.Fatalf("counts = %+v", counts)
	}
	if ops.rebuilds != 1 {
		t.Fatalf("fulltext rebuilds = %d, want 1", ops.rebuilds)
	}
}

func TestRunSingleTarget(t *testing.T) {
	ops := &fakeOps{}
	e := New(ops, Config{}, testLogger(t))
	if _, err := e.Run(context.Background(), "doc-123"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ops.knnCalls) != 1 || ops.knnCalls[0] != "doc-123" {
		t.Fatalf("knn targets = %v", ops.knnCalls)
	}
}

func TestFailuresAreAdvisory(t *testing.T) {
	ops := &fakeOps{
		docs:    []types.Document{{ID: uuid.New(), Status: types.StatusCompleted}},
		knnErr:  errors.New("vector index missing"),
		commErr: errors.New("gds not installed"),
	}
	e := New(ops, Config{Communities: true}, testLogger(t))
	counts, err := e.Run(context.Background(), TargetAll)
	if err != nil {
		t.Fatalf("post-processing failures must not surface: %v", err)
	}
	if counts.SimilarityEdges != 0 || counts.Communities != 0 {
		t.Fatalf("counts = %+v, want zeros", counts)
	}
}
