package scheduler

import "fmt"

// Snapshot is a point-in-time view of the scheduler's control state.
type Snapshot struct {
	Enabled          bool     `json:"enabled"`
	ConcurrencyLimit int      `json:"concurrency_limit"`
	ActiveCount      int      `json:"active_count"`
	ActiveFeatureIDs []string `json:"active_feature_ids"`
}

// Enable turns auto mode on and triggers a pass. Idempotent.
func (s *Scheduler) Enable() {
	s.mu.Lock()
	already := s.enabled
	s.enabled = true
	s.mu.Unlock()

	if !already {
		s.logger.Info("auto mode enabled")
	}
	s.Poke()
}

// Disable turns auto mode off. In-flight sessions run to completion; only
// new dispatch stops. Idempotent.
func (s *Scheduler) Disable() {
	s.mu.Lock()
	already := !s.enabled
	s.enabled = false
	s.mu.Unlock()

	if !already {
		s.logger.Info("auto mode disabled, in-flight sessions continue")
	}
}

// SetConcurrency changes the session limit. Values below 1 are rejected.
// Lowering the limit never cancels running sessions; the active set drains
// below the new limit before dispatch resumes.
func (s *Scheduler) SetConcurrency(limit int) error {
	if limit < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", limit)
	}

	s.mu.Lock()
	s.limit = limit
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.SetConcurrencyLimit(limit)
	}
	s.logger.Info("concurrency limit set to %d", limit)
	s.Poke()
	return nil
}

// Status returns a consistent snapshot of the control state.
func (s *Scheduler) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Enabled:          s.enabled,
		ConcurrencyLimit: s.limit,
		ActiveCount:      len(s.active),
		ActiveFeatureIDs: s.sortedActiveIDsLocked(),
	}
}
