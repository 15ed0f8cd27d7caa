package runner

import (
	"context"
	"testing"
	"time"

	"conductor/pkg/board"
	"conductor/pkg/proto"
)

func TestSessionSingleTerminalOutcome(t *testing.T) {
	session := NewSession("f1", func() {})

	session.Emit(proto.NewResultEvent("f1", "done"))
	session.Emit(proto.NewErrorEvent("f1", "late error"))

	outcome := <-session.Done()
	if !outcome.Success {
		t.Fatalf("expected success outcome, got %+v", outcome)
	}

	select {
	case second, ok := <-session.Done():
		if ok {
			t.Fatalf("unexpected second outcome: %+v", second)
		}
	default:
	}
}

func TestSessionCancelLosesRaceToTerminal(t *testing.T) {
	session := NewSession("f1", func() {})

	session.Emit(proto.NewResultEvent("f1", "done"))
	session.Cancel()

	outcome := <-session.Done()
	if !outcome.Success {
		t.Fatalf("cancel after terminal must not override outcome: %+v", outcome)
	}
}

func TestSessionCancelDeliversCanceledOutcome(t *testing.T) {
	canceled := false
	session := NewSession("f1", func() { canceled = true })

	session.Cancel()

	outcome := <-session.Done()
	if outcome.Success {
		t.Fatalf("expected failure outcome, got %+v", outcome)
	}
	if outcome.Reason != "canceled" {
		t.Fatalf("expected canceled reason, got %q", outcome.Reason)
	}
	if !canceled {
		t.Fatal("cancel func was not invoked")
	}
}

func TestSessionEventsClosedAfterFinish(t *testing.T) {
	session := NewSession("f1", func() {})
	session.Emit(proto.NewErrorEvent("f1", "boom"))

	<-session.Done()

	// Drain the stream; it must terminate.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-session.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event stream never closed")
		}
	}
}

func TestSessionEmitAfterFinishIsNoop(t *testing.T) {
	session := NewSession("f1", func() {})
	session.Finish(Outcome{Success: true})

	// Must not panic on the closed channel.
	session.Emit(proto.AgentEvent{Kind: proto.EventAssistant, FeatureID: "f1"})
}

func TestMockRunnerDispatchOrderAndFinish(t *testing.T) {
	mock := NewMockRunner()
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if _, err := mock.Start(ctx, &board.Feature{ID: id, Title: id}); err != nil {
			t.Fatalf("start %s: %v", id, err)
		}
	}

	started := mock.Started()
	if len(started) != 2 || started[0] != "a" || started[1] != "b" {
		t.Fatalf("unexpected dispatch order: %v", started)
	}
	if got := mock.Running(); got != 2 {
		t.Fatalf("expected 2 running sessions, got %d", got)
	}

	if !mock.Finish("a", true, "ok") {
		t.Fatal("finish of started session reported not found")
	}
	outcome := <-mock.SessionFor("a").Done()
	if !outcome.Success {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if got := mock.Running(); got != 1 {
		t.Fatalf("expected 1 running session, got %d", got)
	}
}

func TestMockRunnerAutoFinish(t *testing.T) {
	mock := NewMockRunner()
	mock.AutoFinish("f1", Outcome{Success: false, Reason: "scripted failure"})

	session, err := mock.Start(context.Background(), &board.Feature{ID: "f1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	outcome := <-session.Done()
	if outcome.Success || outcome.Reason != "scripted failure" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestEstimateTokensNonZero(t *testing.T) {
	if got := EstimateTokens("implement the feature dispatch loop"); got <= 0 {
		t.Fatalf("expected positive estimate, got %d", got)
	}
	if got := EstimateTokens(""); got != 0 {
		t.Fatalf("expected zero estimate for empty text, got %d", got)
	}
}
