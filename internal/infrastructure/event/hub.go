// Package event fans run progress out to live subscribers. The hub is
// fire-and-forget: a subscriber that stops draining its channel loses
// events instead of blocking the run loop.
package event

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedbridge/backend/internal/domain/run"
)

// subscriberBuffer is the per-subscriber channel depth. A full buffer
// means the subscriber is slower than the run; newer events win.
const subscriberBuffer = 100

// Type names the stream event kinds the dashboard understands.
type Type string

const (
	TypeInit     Type = "init"
	TypeLog      Type = "log"
	TypeProgress Type = "progress"
)

// Event is one hub message: a kind plus its JSON-encodable payload.
type Event struct {
	Type Type
	Data any
}

// Init carries the full state snapshot a fresh subscriber replays from.
func Init(s run.Snapshot) Event {
	return Event{Type: TypeInit, Data: s}
}

// Log carries one run log line.
func Log(e run.LogEntry) Event {
	return Event{Type: TypeLog, Data: e}
}

// Progress carries a state snapshot without the log tail.
func Progress(s run.Snapshot) Event {
	s.Logs = nil
	return Event{Type: TypeProgress, Data: s}
}

// Hub distributes events to dynamic subscribers. Sends happen under the
// read lock and channels close under the write lock, so a publish in
// flight can never hit a closed channel.
type Hub struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	clients map[string]chan Event
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[string]chan Event),
	}
}

// Subscribe registers a new subscriber and returns its id and receive
// channel. Callers must Unsubscribe when done.
func (h *Hub) Subscribe() (string, <-chan Event) {
	id := uuid.New().String()
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.clients[id] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber attached", zap.String("subscriber_id", id))
	return id, ch
}

// Unsubscribe detaches a subscriber and closes its channel. Unknown ids
// are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	ch, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
		close(ch)
	}
	h.mu.Unlock()

	if ok {
		h.logger.Debug("subscriber detached", zap.String("subscriber_id", id))
	}
}

// Publish offers the event to every subscriber without blocking. A
// subscriber whose buffer is full is skipped.
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.clients {
		select {
		case ch <- e:
		default:
			h.logger.Debug("subscriber buffer full, event dropped",
				zap.String("subscriber_id", id),
				zap.String("event_type", string(e.Type)),
			)
		}
	}
}

// SubscriberCount reports the number of attached subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
