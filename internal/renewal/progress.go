package renewal

import (
	"fmt"
	"sync"
	"time"
)

// Progress state constants
const (
	StateNotRunning = "not_running"
	StateRunning    = "running"
	StateSuccess    = "success"
	StateError      = "error"
	StateWarning    = "warning"
)

// RequestProgressState is the observable status of one in-flight renewal.
// A fresh state is created per attempt; it becomes terminal on success or
// error and is pushed to subscribers as it changes.
type RequestProgressState struct {
	ManagedCertificateID string    `json:"managedCertificateId"`
	AttemptID            string    `json:"attemptId"`
	CurrentState         string    `json:"currentState"` // not_running|running|success|error|warning
	Message              string    `json:"message"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// IsTerminal reports whether the attempt has finished
func (s *RequestProgressState) IsTerminal() bool {
	return s.CurrentState == StateSuccess || s.CurrentState == StateError
}

// ProgressSink receives progress state pushes. Implementations must not
// block the renewal pipeline; failures are the sink's problem.
type ProgressSink interface {
	Report(state RequestProgressState)
}

// ProgressSinks fans one report out to multiple sinks
type ProgressSinks []ProgressSink

// Report implements ProgressSink
func (ss ProgressSinks) Report(state RequestProgressState) {
	for _, s := range ss {
		s.Report(state)
	}
}

// ProgressTracker enforces the at-most-one-in-flight invariant: one entry per
// managed certificate id, inserted before dispatch and released when the
// attempt reaches a terminal state. Registration is a single insert-or-reject
// operation; a duplicate key is never silently overwritten.
type ProgressTracker struct {
	mu     sync.Mutex
	states map[string]*RequestProgressState
}

// NewProgressTracker creates an empty tracker
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		states: make(map[string]*RequestProgressState),
	}
}

// Register inserts a running state for the certificate id. It fails when an
// attempt for the same certificate is already in flight.
func (t *ProgressTracker) Register(certID, attemptID string) (*RequestProgressState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.states[certID]; ok {
		return nil, fmt.Errorf("certificate %s already has an in-flight renewal attempt (%s)", certID, existing.AttemptID)
	}

	state := &RequestProgressState{
		ManagedCertificateID: certID,
		AttemptID:            attemptID,
		CurrentState:         StateRunning,
		Message:              "renewal attempt started",
		UpdatedAt:            time.Now(),
	}
	t.states[certID] = state
	return state, nil
}

// Get returns a copy of the current state for the certificate id
func (t *ProgressTracker) Get(certID string) (RequestProgressState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[certID]
	if !ok {
		return RequestProgressState{}, false
	}
	return *state, true
}

// Update mutates the tracked state and returns a copy for reporting
func (t *ProgressTracker) Update(certID, currentState, message string) (RequestProgressState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[certID]
	if !ok {
		return RequestProgressState{}, false
	}

	state.CurrentState = currentState
	state.Message = message
	state.UpdatedAt = time.Now()
	return *state, true
}

// Release removes the entry for the certificate id, allowing the next attempt
func (t *ProgressTracker) Release(certID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, certID)
}

// Running returns the ids of all certificates with an in-flight attempt
func (t *ProgressTracker) Running() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.states))
	for id := range t.states {
		ids = append(ids, id)
	}
	return ids
}
