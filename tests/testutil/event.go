// Package testutil holds the event-stream collector shared by the hub,
// handler and integration tests.
package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/feedbridge/backend/internal/infrastructure/event"
)

// StreamCollector drains a hub subscription into memory so tests can
// assert on the events a run published.
type StreamCollector struct {
	hub  *event.Hub
	id   string
	mu   sync.Mutex
	seen []event.Event
	done chan struct{}
	wg   sync.WaitGroup
}

// NewStreamCollector subscribes to the hub and starts draining in the
// background. Callers must Stop when done.
func NewStreamCollector(t *testing.T, hub *event.Hub) *StreamCollector {
	t.Helper()

	id, ch := hub.Subscribe()
	c := &StreamCollector{
		hub:  hub,
		id:   id,
		done: make(chan struct{}),
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case e, ok := <-ch:
				if !ok {
					return
				}
				c.mu.Lock()
				c.seen = append(c.seen, e)
				c.mu.Unlock()
			case <-c.done:
				return
			}
		}
	}()

	return c
}

// Stop unsubscribes from the hub and waits for the drain goroutine.
func (c *StreamCollector) Stop() {
	c.hub.Unsubscribe(c.id)
	close(c.done)
	c.wg.Wait()
}

// Events returns a copy of everything collected so far.
func (c *StreamCollector) Events() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Event, len(c.seen))
	copy(out, c.seen)
	return out
}

// Count returns the number of events collected so far.
func (c *StreamCollector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// CountByType returns how many events of the given type were collected.
func (c *StreamCollector) CountByType(typ event.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.seen {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// Reset clears the collected events.
func (c *StreamCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = nil
}

// WaitForCondition polls a condition until it becomes true or the
// timeout expires. Returns whether the condition was met.
func WaitForCondition(t *testing.T, condition func() bool, timeout, interval time.Duration) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(interval)
	}
	return false
}

// WaitForEventCount waits until the collector has seen at least count
// events.
func WaitForEventCount(t *testing.T, c *StreamCollector, count int, timeout time.Duration) bool {
	t.Helper()

	return WaitForCondition(t, func() bool {
		return c.Count() >= count
	}, timeout, 10*time.Millisecond)
}
