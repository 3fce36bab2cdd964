package run

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/feedbridge/backend/internal/domain/store"
)

// State is the single shared record of the current (or most recent) run.
// One instance lives for the process lifetime; the coordinator writes it
// and the control surface reads snapshot copies. The running flag is an
// atomic so claiming the run slot never races.
type State struct {
	running atomic.Bool

	mu           sync.Mutex
	phase        Phase
	mode         store.Mode
	backend      store.Kind
	progress     int
	total        int
	currentGroup string
	created      int
	updated      int
	skipped      int
	errors       int
	startedAt    time.Time
	endedAt      time.Time
	logs         *LogRing
}

// Snapshot is a point-in-time copy of State, safe to hold and serialize
// after the lock is released.
type Snapshot struct {
	Running      bool       `json:"running"`
	Phase        Phase      `json:"phase"`
	Mode         store.Mode `json:"mode,omitempty"`
	Backend      store.Kind `json:"backend,omitempty"`
	Progress     int        `json:"progress"`
	Total        int        `json:"total"`
	CurrentGroup string     `json:"current_group,omitempty"`
	Created      int        `json:"created"`
	Updated      int        `json:"updated"`
	Skipped      int        `json:"skipped"`
	Errors       int        `json:"errors"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Logs         []LogEntry `json:"logs,omitempty"`
}

// NewState builds an idle State whose log ring holds logCapacity entries.
func NewState(logCapacity int) *State {
	return &State{phase: PhaseIdle, logs: NewLogRing(logCapacity)}
}

// TryStart claims the run slot. The compare-and-swap leaves exactly one
// winner when concurrent starts race; losers get false and no state is
// touched. The winner's counters, logs and timestamps are reset.
func (s *State) TryStart(mode store.Mode, backend store.Kind) bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseStarting
	s.mode = mode
	s.backend = backend
	s.progress = 0
	s.total = 0
	s.currentGroup = ""
	s.created = 0
	s.updated = 0
	s.skipped = 0
	s.errors = 0
	s.startedAt = time.Now()
	s.endedAt = time.Time{}
	s.logs.Reset()
	return true
}

// Finish records the terminal phase, stamps EndedAt and releases the run
// slot. Counters and logs are preserved until the next TryStart.
func (s *State) Finish(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.endedAt = time.Now()
	s.mu.Unlock()
	s.running.Store(false)
}

// Running reports whether a run currently holds the slot.
func (s *State) Running() bool {
	return s.running.Load()
}

func (s *State) SetPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *State) SetTotal(total int) {
	s.mu.Lock()
	s.total = total
	s.mu.Unlock()
}

func (s *State) SetCurrentGroup(name string) {
	s.mu.Lock()
	s.currentGroup = name
	s.mu.Unlock()
}

// IncProgress marks one more group finished.
func (s *State) IncProgress() {
	s.mu.Lock()
	s.progress++
	s.mu.Unlock()
}

// AddCounts folds one batch's outcome into the run counters.
func (s *State) AddCounts(created, updated, skipped, errs int) {
	s.mu.Lock()
	s.created += created
	s.updated += updated
	s.skipped += skipped
	s.errors += errs
	s.mu.Unlock()
}

// AppendLog records one run log line and returns the stamped entry so the
// caller can publish it.
func (s *State) AppendLog(level, message string) LogEntry {
	entry := LogEntry{Time: time.Now(), Level: level, Message: message}
	s.mu.Lock()
	s.logs.Append(entry)
	s.mu.Unlock()
	return entry
}

// Snapshot copies the current state. The logs slice is freshly allocated
// per call.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Running:      s.running.Load(),
		Phase:        s.phase,
		Mode:         s.mode,
		Backend:      s.backend,
		Progress:     s.progress,
		Total:        s.total,
		CurrentGroup: s.currentGroup,
		Created:      s.created,
		Updated:      s.updated,
		Skipped:      s.skipped,
		Errors:       s.errors,
		Logs:         s.logs.Entries(),
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		snap.StartedAt = &t
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		snap.EndedAt = &t
	}
	return snap
}
