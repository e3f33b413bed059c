// Package turn provides the assistant-turn state machine for one connection.
package turn

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// EllipsisMarker is appended to assistant content sealed by an interruption.
const EllipsisMarker = "..."

// State represents the lifecycle state of the assistant turn.
type State int

const (
	// StateIdle - No assistant turn in flight.
	StateIdle State = iota
	// StateActive - An assistant response is streaming; deltas accumulate.
	StateActive
	// StateInterrupted - The last turn was cut off by user speech; late
	// deltas for the cancelled response id must be discarded.
	StateInterrupted
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateActive:
		return "ACTIVE"
	case StateInterrupted:
		return "INTERRUPTED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Errors for invalid transitions.
var (
	ErrNoActiveTurn  = errors.New("no active assistant turn")
	ErrStaleResponse = errors.New("delta for a stale response id")
)

// Sealed is a finalized accumulator snapshot handed back on completion
// or interruption. Once sealed, the content never changes.
type Sealed struct {
	Content     string
	StartedAt   time.Time
	Interrupted bool
}

// Machine manages the assistant-turn state for a single connection.
// Thread-safe: the client read loop and the engine listen loop both touch it.
//
// State transitions:
//
//	IDLE ──Begin──→ ACTIVE ──Complete──→ IDLE
//	                  │
//	                  ├── Interrupt ──→ INTERRUPTED ──Begin──→ ACTIVE
//	                  │
//	                  └── Begin (protocol violation) ──→ ACTIVE (fresh accumulator)
//
// Rules:
//   - Only one active turn may exist; a second Begin discards the stale
//     accumulator and starts fresh, it never merges.
//   - After Interrupt, deltas carrying the cancelled response id are rejected.
//   - Complete applies the longer-transcript-wins rule: streamed deltas are a
//     latency optimization, the final transcript is authoritative when longer.
type Machine struct {
	mu          sync.Mutex
	state       State
	responseID  string
	cancelledID string
	content     strings.Builder
	startedAt   time.Time
}

// NewMachine creates a turn machine in IDLE state.
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ResponseID returns the active response id, or empty if no turn is active.
func (m *Machine) ResponseID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive {
		return ""
	}
	return m.responseID
}

// Content returns the accumulated content of the in-flight turn.
func (m *Machine) Content() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.content.String()
}

// Begin starts a new active turn with a fresh accumulator.
// Returns true if a stale active turn was discarded (protocol violation).
func (m *Machine) Begin(responseID string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	discarded := m.state == StateActive
	m.state = StateActive
	m.responseID = responseID
	m.content.Reset()
	m.startedAt = now
	return discarded
}

// AppendDelta appends streamed text to the active accumulator.
// Deltas for a cancelled or mismatched response id are rejected.
func (m *Machine) AppendDelta(responseID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if responseID != "" && responseID == m.cancelledID {
		return ErrStaleResponse
	}
	if m.state != StateActive {
		return ErrNoActiveTurn
	}
	if responseID != "" && m.responseID != "" && responseID != m.responseID {
		return ErrStaleResponse
	}
	m.content.WriteString(text)
	return nil
}

// IsCancelled reports whether the response id belongs to an interrupted turn.
func (m *Machine) IsCancelled(responseID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return responseID != "" && responseID == m.cancelledID
}

// Interrupt seals the active turn because the user started speaking.
// The sealed content ends with the ellipsis marker and carries the
// interrupted flag. Returns the cancelled response id, the sealed snapshot,
// and false if no turn was active.
func (m *Machine) Interrupt() (string, Sealed, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateActive {
		return "", Sealed{}, false
	}

	content := m.content.String()
	if strings.TrimSpace(content) != "" {
		content += EllipsisMarker
	}
	sealed := Sealed{
		Content:     content,
		StartedAt:   m.startedAt,
		Interrupted: true,
	}

	m.cancelledID = m.responseID
	m.state = StateInterrupted
	m.responseID = ""
	m.content.Reset()
	return m.cancelledID, sealed, true
}

// Complete seals the active turn normally. If the final transcript is longer
// than the accumulated deltas, the final transcript wins; otherwise the
// accumulated text stands. The machine returns to IDLE.
func (m *Machine) Complete(responseID, finalText string) (Sealed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if responseID != "" && responseID == m.cancelledID {
		return Sealed{}, ErrStaleResponse
	}
	if m.state != StateActive {
		return Sealed{}, ErrNoActiveTurn
	}
	if responseID != "" && m.responseID != "" && responseID != m.responseID {
		return Sealed{}, ErrStaleResponse
	}

	content := m.content.String()
	if len(finalText) > len(content) {
		content = finalText
	}
	sealed := Sealed{
		Content:   content,
		StartedAt: m.startedAt,
	}

	m.state = StateIdle
	m.responseID = ""
	m.content.Reset()
	return sealed, nil
}

// Abort drops the active turn without sealing anything.
// Used when the upstream engine reports a fatal error mid-turn.
// Returns true if a turn was actually dropped.
func (m *Machine) Abort() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateActive {
		return false
	}
	m.state = StateIdle
	m.responseID = ""
	m.content.Reset()
	return true
}
