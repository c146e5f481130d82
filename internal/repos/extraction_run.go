package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/graphsmith-backend/internal/platform/logger"
	"github.com/yungbote/graphsmith-backend/internal/types"
)

// ExtractionRun is one audit row per processing run of a document. Purely
// additive: resume decisions come from the graph store, never from here.
type ExtractionRun struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	DocumentID        uuid.UUID `gorm:"type:uuid;index"`
	FileName          string
	RetryMode         string
	Model             string
	Status            string
	ProcessedChunks   int
	TotalChunks       int
	NodeCount         int
	RelationshipCount int
	ErrorMessage      string
	StartedAt         time.Time
	FinishedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type ExtractionRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, run *ExtractionRun) (*ExtractionRun, error)
	Finish(ctx context.Context, tx *gorm.DB, id uuid.UUID, doc types.Document) error
	ListByDocument(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) ([]*ExtractionRun, error)
}

type extractionRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewExtractionRunRepo(db *gorm.DB, baseLog *logger.Logger) ExtractionRunRepo {
	return &extractionRunRepo{
		db:  db,
		log: baseLog.With("repo", "ExtractionRunRepo"),
	}
}

func (r *extractionRunRepo) Create(ctx context.Context, tx *gorm.DB, run *ExtractionRun) (*ExtractionRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = string(types.StatusProcessing)
	}
	if err := transaction.WithContext(ctx).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (r *extractionRunRepo) Finish(ctx context.Context, tx *gorm.DB, id uuid.UUID, doc types.Document) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now().UTC()
	return transaction.WithContext(ctx).
		Model(&ExtractionRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":             string(doc.Status),
			"processed_chunks":   doc.ProcessedChunks,
			"total_chunks":       doc.TotalChunks,
			"node_count":         doc.NodeCount,
			"relationship_count": doc.RelationshipCount,
			"error_message":      doc.ErrorMessage,
			"finished_at":        &now,
		}).Error
}

func (r *extractionRunRepo) ListByDocument(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) ([]*ExtractionRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*ExtractionRun
	if err := transaction.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("started_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// AutoMigrate creates the ledger table when a relational database is wired.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&ExtractionRun{})
}
