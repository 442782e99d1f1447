package orchestrator

import (
	"sync"
	"time"

	"finpulse/types"
)

// State is the coordinator-level state.
type State string

const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
)

// Status is a point-in-time snapshot of the coordinator.
type Status struct {
	State       State                        `json:"state"`
	Sources     map[string]types.SourceState `json:"sources"`
	Checkpoints map[string]time.Time         `json:"checkpoints,omitempty"`
	LastReport  *types.RunReport             `json:"last_report,omitempty"`
}

// Manager holds the coordinator state with thread-safe access.
type Manager struct {
	mu sync.RWMutex

	inFlight    map[string]bool
	sources     map[string]types.SourceState
	checkpoints map[string]time.Time

	// reports (ring buffer, oldest first)
	reports    []types.RunReport
	maxReports int
}

// NewManager creates a new state manager keeping the last maxReports reports.
func NewManager(maxReports int) *Manager {
	if maxReports <= 0 {
		maxReports = 50
	}
	return &Manager{
		inFlight:    make(map[string]bool),
		sources:     make(map[string]types.SourceState),
		checkpoints: make(map[string]time.Time),
		maxReports:  maxReports,
	}
}

// TryBegin marks source as in flight. It reports false when a run for the
// source is already in flight.
func (m *Manager) TryBegin(source string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[source] {
		return false
	}
	m.inFlight[source] = true
	m.sources[source] = types.SourcePending
	return true
}

// SetSourceState records the per-source state of the run in flight.
func (m *Manager) SetSourceState(source string, s types.SourceState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[source] = s
}

// SourceState returns the last recorded state of source.
func (m *Manager) SourceState(source string) types.SourceState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sources[source]
}

// End releases source with its final state.
func (m *Manager) End(source string, final types.SourceState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, source)
	m.sources[source] = final
}

// Checkpoint returns the newest publish time seen from source.
func (m *Manager) Checkpoint(source string) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkpoints[source]
}

// Advance moves the checkpoint of source forward; it never moves back.
func (m *Manager) Advance(source string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.After(m.checkpoints[source]) {
		m.checkpoints[source] = t
	}
}

// AddReport appends r to the ring.
func (m *Manager) AddReport(r types.RunReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	if len(m.reports) > m.maxReports {
		m.reports = m.reports[len(m.reports)-m.maxReports:]
	}
}

// Reports returns the kept reports, newest first.
func (m *Manager) Reports() []types.RunReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.RunReport, len(m.reports))
	for i, r := range m.reports {
		out[len(m.reports)-1-i] = r
	}
	return out
}

// Status returns a snapshot (thread-safe).
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{
		State:       StateIdle,
		Sources:     make(map[string]types.SourceState, len(m.sources)),
		Checkpoints: make(map[string]time.Time, len(m.checkpoints)),
	}
	if len(m.inFlight) > 0 {
		st.State = StateRunning
	}
	for k, v := range m.sources {
		st.Sources[k] = v
	}
	for k, v := range m.checkpoints {
		st.Checkpoints[k] = v
	}
	if n := len(m.reports); n > 0 {
		r := m.reports[n-1]
		st.LastReport = &r
	}
	return st
}
