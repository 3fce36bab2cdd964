// Package models contains GORM-specific persistence models that map to
// database tables, keeping the domain layer free of ORM concerns.
package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/feedbridge/backend/internal/domain/run"
	"github.com/feedbridge/backend/internal/domain/store"
)

// SyncRunModel is the persistence model for one finished run.
type SyncRunModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	Mode      string    `gorm:"type:varchar(16);not null"`
	Backend   string    `gorm:"type:varchar(16);not null"`
	Phase     string    `gorm:"type:varchar(16);not null;index"`
	Created   int       `gorm:"not null;default:0"`
	Updated   int       `gorm:"not null;default:0"`
	Skipped   int       `gorm:"not null;default:0"`
	Errors    int       `gorm:"not null;default:0"`
	Failure   string    `gorm:"type:text"`
	StartedAt time.Time `gorm:"not null;index"`
	EndedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncRunModel) TableName() string {
	return "sync_runs"
}

// ToDomain converts the persistence model to a domain run record.
func (m *SyncRunModel) ToDomain() run.Record {
	return run.Record{
		ID:        m.ID,
		Mode:      store.Mode(m.Mode),
		Backend:   store.Kind(m.Backend),
		Phase:     run.Phase(m.Phase),
		Created:   m.Created,
		Updated:   m.Updated,
		Skipped:   m.Skipped,
		Errors:    m.Errors,
		Failure:   m.Failure,
		StartedAt: m.StartedAt,
		EndedAt:   m.EndedAt,
	}
}

// SyncRunModelFromDomain populates the persistence model from a domain record.
func SyncRunModelFromDomain(rec *run.Record) *SyncRunModel {
	return &SyncRunModel{
		ID:        rec.ID,
		Mode:      string(rec.Mode),
		Backend:   string(rec.Backend),
		Phase:     string(rec.Phase),
		Created:   rec.Created,
		Updated:   rec.Updated,
		Skipped:   rec.Skipped,
		Errors:    rec.Errors,
		Failure:   rec.Failure,
		StartedAt: rec.StartedAt,
		EndedAt:   rec.EndedAt,
	}
}
