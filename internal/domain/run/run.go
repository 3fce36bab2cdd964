// Package run holds the live state of the one reconciliation run the
// service executes at a time: its phase machine, counters, and the bounded
// log ring the dashboard replays on connect.
package run

import "time"

// Phase is the coordinator's position in the run lifecycle. A run walks
// starting -> downloading -> (connecting) -> fetching -> syncing and lands
// in complete or error; connecting only appears for the remote backend.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseStarting    Phase = "starting"
	PhaseDownloading Phase = "downloading"
	PhaseConnecting  Phase = "connecting"
	PhaseFetching    Phase = "fetching"
	PhaseSyncing     Phase = "syncing"
	PhaseComplete    Phase = "complete"
	PhaseError       Phase = "error"
)

// Terminal reports whether the phase ends a run.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// Log levels attached to run log entries.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// LogEntry is one line of the run log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}
