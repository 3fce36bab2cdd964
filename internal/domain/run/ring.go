package run

// DefaultLogCapacity bounds the run log when no capacity is configured.
const DefaultLogCapacity = 250

// LogRing is a fixed-capacity log buffer; once full, every append evicts
// the oldest entry. Not safe for concurrent use, callers serialize access.
type LogRing struct {
	buf  []LogEntry
	head int
	size int
}

// NewLogRing allocates a ring. Non-positive capacities fall back to
// DefaultLogCapacity.
func NewLogRing(capacity int) *LogRing {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogRing{buf: make([]LogEntry, capacity)}
}

func (r *LogRing) Append(e LogEntry) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = e
		r.size++
		return
	}
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
}

func (r *LogRing) Len() int {
	return r.size
}

// Entries returns the retained log oldest-first as a fresh slice.
func (r *LogRing) Entries() []LogEntry {
	out := make([]LogEntry, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

func (r *LogRing) Reset() {
	r.head, r.size = 0, 0
}
