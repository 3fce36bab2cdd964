// Package store defines the destination-side model of a reconciliation
// run: the inventory snapshot, the create/update operations, the pure
// decision table that produces them, and the Backend port every execution
// adapter implements.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrMissingCredentials marks a backend whose required credentials are
	// absent. Runs abort before any work when Connect returns it.
	ErrMissingCredentials = errors.New("store: missing backend credentials")
	// ErrNotConnected is returned by backend operations invoked before a
	// successful Connect.
	ErrNotConnected = errors.New("store: backend not connected")
	// ErrRequestFailed wraps a destination call that came back non-OK.
	ErrRequestFailed = errors.New("store: destination request failed")
)

// Mode selects how far a run reaches: "full" creates missing items and
// refreshes every listed field, "prices" only corrects prices of items the
// destination already has.
type Mode string

const (
	ModeFull   Mode = "full"
	ModePrices Mode = "prices"
)

// ParseMode validates a wire-level mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull, ModePrices:
		return Mode(s), nil
	}
	return "", fmt.Errorf("store: unknown mode %q", s)
}

// Kind names a backend variant.
type Kind string

const (
	KindREST   Kind = "rest"
	KindRemote Kind = "remote"
)

// ParseKind validates a wire-level backend kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindREST, KindRemote:
		return Kind(s), nil
	}
	return "", fmt.Errorf("store: unknown backend kind %q", s)
}

// ExistingRecord is one destination item as seen at snapshot time. The
// snapshot is read once per run and may go stale while the run proceeds;
// reconciliation is last-write-wins.
type ExistingRecord struct {
	DestinationID int64
	CurrentPrice  decimal.Decimal
	Status        string
}

// Inventory maps external keys to destination records. It is owned by the
// run loop and is not safe for concurrent use; backends register items
// they create so later groups in the same run see them.
type Inventory map[string]ExistingRecord

// CreateOp lists a catalog entry absent from the destination.
type CreateOp struct {
	ExternalKey string
	Title       string
	Price       decimal.Decimal
	Description string
	ImageURL    string
}

// UpdateOp corrects an existing destination item. Title, Description and
// ImageURL are populated only for full-mode runs; price-only runs leave
// them empty and backends must not touch those fields then.
type UpdateOp struct {
	DestinationID int64
	Price         decimal.Decimal
	Title         string
	Description   string
	ImageURL      string
}

// BatchResult reports one dispatched chunk.
type BatchResult struct {
	Action  Action
	Chunk   int // 1-based
	Chunks  int
	Size    int
	Applied int
	Err     error
}

// BatchObserver receives chunk outcomes while a backend works through a
// batch. Observers run on the backend's goroutine and must be quick.
type BatchObserver func(BatchResult)

// Backend is the execution port of a run. Implementations chunk Apply
// calls internally, pace between chunks, and keep going past failed
// chunks; only context cancellation aborts early.
type Backend interface {
	Kind() Kind
	Connect(ctx context.Context) error
	Close() error
	LoadInventory(ctx context.Context) (Inventory, error)
	ApplyCreates(ctx context.Context, ops []CreateOp) (int, error)
	ApplyUpdates(ctx context.Context, ops []UpdateOp) (int, error)
	CountPublished(ctx context.Context) (int, error)
}
