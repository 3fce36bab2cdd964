package persistence

import (
	"context"

	"gorm.io/gorm"

	"github.com/feedbridge/backend/internal/domain/run"
	"github.com/feedbridge/backend/internal/infrastructure/persistence/models"
)

// allModels lists every persisted model for schema migration.
func allModels() []any {
	return []any{&models.SyncRunModel{}}
}

// GormSyncRunRepository implements run.HistoryRepository using GORM
type GormSyncRunRepository struct {
	db *gorm.DB
}

// NewGormSyncRunRepository creates a new GormSyncRunRepository
func NewGormSyncRunRepository(db *gorm.DB) *GormSyncRunRepository {
	return &GormSyncRunRepository{db: db}
}

// Save inserts one finished run. Records are immutable once written.
func (r *GormSyncRunRepository) Save(ctx context.Context, rec *run.Record) error {
	return r.db.WithContext(ctx).Create(models.SyncRunModelFromDomain(rec)).Error
}

// ListRecent returns up to limit records, newest first.
func (r *GormSyncRunRepository) ListRecent(ctx context.Context, limit int) ([]run.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.SyncRunModel
	if err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	records := make([]run.Record, len(rows))
	for i, row := range rows {
		records[i] = row.ToDomain()
	}
	return records, nil
}

// Compile-time interface compliance check
var _ run.HistoryRepository = (*GormSyncRunRepository)(nil)
