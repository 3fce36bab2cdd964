// Package storefront implements the two destination backends: the
// storefront batch REST API and SSH remote execution against the store
// host. Both speak the store.Backend contract.
package storefront

import (
	"context"
	"time"
)

// Pacer spaces consecutive dispatches by a fixed interval. The first Wait
// passes immediately; later calls sleep out whatever remains of the
// interval since the previous dispatch. A zero interval disables pacing.
type Pacer struct {
	interval time.Duration
	last     time.Time
}

func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{interval: interval}
}

// Wait blocks until the interval since the previous Wait has elapsed, or
// the context is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.interval <= 0 {
		return nil
	}

	if !p.last.IsZero() {
		if remaining := p.interval - time.Since(p.last); remaining > 0 {
			timer := time.NewTimer(remaining)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	p.last = time.Now()
	return nil
}
