package run

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/feedbridge/backend/internal/domain/store"
)

// Record summarizes one finished run for the history log.
type Record struct {
	ID        uuid.UUID  `json:"id"`
	Mode      store.Mode `json:"mode"`
	Backend   store.Kind `json:"backend"`
	Phase     Phase      `json:"phase"`
	Created   int        `json:"created"`
	Updated   int        `json:"updated"`
	Skipped   int        `json:"skipped"`
	Errors    int        `json:"errors"`
	Failure   string     `json:"failure,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at"`
}

// NewRecord builds a Record from a terminal-state snapshot. Failure is
// empty for completed runs.
func NewRecord(snap Snapshot, failure string) *Record {
	rec := &Record{
		ID:      uuid.New(),
		Mode:    snap.Mode,
		Backend: snap.Backend,
		Phase:   snap.Phase,
		Created: snap.Created,
		Updated: snap.Updated,
		Skipped: snap.Skipped,
		Errors:  snap.Errors,
		Failure: failure,
	}
	if snap.StartedAt != nil {
		rec.StartedAt = *snap.StartedAt
	}
	if snap.EndedAt != nil {
		rec.EndedAt = *snap.EndedAt
	}
	return rec
}

// HistoryRepository persists run records.
type HistoryRepository interface {
	Save(ctx context.Context, rec *Record) error
	ListRecent(ctx context.Context, limit int) ([]Record, error)
}
