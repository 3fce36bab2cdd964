package archive

import (
	"context"
	"sync"

	"github.com/feedbridge/backend/internal/infrastructure/feed"
)

// Ensure MemoryStore implements the feed client's archiver port
var _ feed.Archiver = (*MemoryStore)(nil)

// Object is one archived document held in memory.
type Object struct {
	Data        []byte
	ContentType string
}

// MemoryStore keeps archived documents in a map. It stands in for a real
// bucket in tests and local development.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]Object
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

// Store copies the document so later mutations by the caller stay invisible.
func (m *MemoryStore) Store(ctx context.Context, key string, data []byte, contentType string) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Data: buf, ContentType: contentType}
	return nil
}

// Get returns the document stored under key.
func (m *MemoryStore) Get(key string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Len reports the number of stored documents.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
