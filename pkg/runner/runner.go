// Package runner abstracts agent sessions: starting an agent against a
// feature and consuming its normalized event stream until a single terminal
// outcome is delivered.
package runner

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"conductor/pkg/board"
	"conductor/pkg/logx"
	"conductor/pkg/proto"
)

// Outcome is the terminal result of a session. Exactly one is delivered per
// session on the Done channel.
type Outcome struct {
	Success bool
	Reason  string
}

// Runner starts agent sessions. Implementations wrap a concrete provider
// (SDK client, subprocess CLI, or a test mock).
type Runner interface {
	Start(ctx context.Context, feature *board.Feature) (*Session, error)
}

// sessionEventBuffer bounds the event channel. Consumers that fall behind
// lose intermediate events, never the terminal outcome.
const sessionEventBuffer = 256

// Session is one running agent attempt against a feature. Events streams
// normalized agent events; Done delivers the single terminal outcome. The
// first terminal wins: a Cancel that races a natural finish is a no-op.
type Session struct {
	ID        string
	FeatureID string

	events chan proto.AgentEvent
	done   chan Outcome
	cancel context.CancelFunc

	mu       sync.Mutex
	finished bool

	logger *logx.Logger
}

// NewSession creates a session handle for the given feature. Providers call
// Emit for each event and Finish exactly once when the attempt ends.
func NewSession(featureID string, cancel context.CancelFunc) *Session {
	return &Session{
		ID:        uuid.New().String(),
		FeatureID: featureID,
		events:    make(chan proto.AgentEvent, sessionEventBuffer),
		done:      make(chan Outcome, 1),
		cancel:    cancel,
		logger:    logx.NewLogger("runner"),
	}
}

// Events returns the normalized event stream. Closed when the session ends.
func (s *Session) Events() <-chan proto.AgentEvent {
	return s.events
}

// Done delivers the terminal outcome. Buffered, so the provider never blocks
// on a slow consumer.
func (s *Session) Done() <-chan Outcome {
	return s.done
}

// Cancel requests best-effort termination of the session. If a natural
// terminal event already won the race, Cancel does nothing.
func (s *Session) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
	s.Finish(Outcome{Success: false, Reason: "canceled"})
}

// Emit delivers an event to the stream. Slow consumers drop intermediate
// events rather than stall the provider; terminal events also finish the
// session.
func (s *Session) Emit(ev proto.AgentEvent) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("session %s: event buffer full, dropping %s event", s.ID, ev.Kind)
	}
	s.mu.Unlock()

	if ev.Terminal() {
		outcome := Outcome{Success: ev.Kind == proto.EventResult, Reason: ev.Text}
		s.Finish(outcome)
	}
}

// Finish records the terminal outcome and closes the event stream. Only the
// first call has any effect.
func (s *Session) Finish(outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	close(s.events)
	s.done <- outcome
	s.logger.Debug("session %s for %s finished (success=%v)", s.ID, s.FeatureID, outcome.Success)
}

// finishWithError is a provider helper for abnormal termination.
func (s *Session) finishWithError(reason string) {
	s.Emit(proto.NewErrorEvent(s.FeatureID, reason))
	s.Finish(Outcome{Success: false, Reason: reason})
}
