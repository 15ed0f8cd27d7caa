package runner

import (
	"context"
	"sync"

	"conductor/pkg/board"
	"conductor/pkg/proto"
)

// MockRunner is a scriptable Runner for tests. Sessions stay open until the
// test finishes them, so concurrency behavior can be observed deterministically.
type MockRunner struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	started    []string
	startedCh  chan string
	startErrs  map[string]error
	autoFinish map[string]Outcome
}

// NewMockRunner creates a mock with no scripted behavior: every Start
// succeeds and the session stays open until Finish is called.
func NewMockRunner() *MockRunner {
	return &MockRunner{
		sessions:   make(map[string]*Session),
		startedCh:  make(chan string, 64),
		startErrs:  make(map[string]error),
		autoFinish: make(map[string]Outcome),
	}
}

// FailStart scripts a Start error for the given feature.
func (m *MockRunner) FailStart(featureID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErrs[featureID] = err
}

// AutoFinish scripts the session for the given feature to finish immediately
// after starting with the given outcome.
func (m *MockRunner) AutoFinish(featureID string, outcome Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoFinish[featureID] = outcome
}

// Start implements Runner.
func (m *MockRunner) Start(ctx context.Context, feature *board.Feature) (*Session, error) {
	m.mu.Lock()

	if err, scripted := m.startErrs[feature.ID]; scripted {
		m.mu.Unlock()
		return nil, err
	}

	_, cancel := context.WithCancel(ctx)
	session := NewSession(feature.ID, cancel)
	m.sessions[feature.ID] = session
	m.started = append(m.started, feature.ID)
	outcome, auto := m.autoFinish[feature.ID]
	m.mu.Unlock()

	m.startedCh <- feature.ID

	if auto {
		if outcome.Success {
			session.Emit(proto.NewResultEvent(feature.ID, outcome.Reason))
		} else {
			session.Emit(proto.NewErrorEvent(feature.ID, outcome.Reason))
		}
	}
	return session, nil
}

// StartedCh yields feature IDs in dispatch order as sessions start.
func (m *MockRunner) StartedCh() <-chan string {
	return m.startedCh
}

// Started returns the feature IDs dispatched so far, in order.
func (m *MockRunner) Started() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.started))
	copy(out, m.started)
	return out
}

// Running returns the number of sessions started and not yet finished.
func (m *MockRunner) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range m.sessions {
		s.mu.Lock()
		if !s.finished {
			count++
		}
		s.mu.Unlock()
	}
	return count
}

// Finish ends the open session for the feature with the given outcome.
// Returns false if no session was started for the feature.
func (m *MockRunner) Finish(featureID string, success bool, reason string) bool {
	m.mu.Lock()
	session, ok := m.sessions[featureID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	if success {
		session.Emit(proto.NewResultEvent(featureID, reason))
	} else {
		session.Emit(proto.NewErrorEvent(featureID, reason))
	}
	return true
}

// SessionFor returns the session started for the feature, if any.
func (m *MockRunner) SessionFor(featureID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[featureID]
}
