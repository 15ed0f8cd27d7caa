package runner

import (
	"context"
	"runtime"
	"testing"
	"time"

	"conductor/pkg/board"
	"conductor/pkg/proto"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func collectEvents(t *testing.T, session *Session) []proto.AgentEvent {
	t.Helper()
	var events []proto.AgentEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-session.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatal("timed out waiting for event stream to close")
		}
	}
}

func TestSubprocessStreamsNDJSONEvents(t *testing.T) {
	requireShell(t)

	script := `echo '{"kind":"assistant","text":"working on it"}'; ` +
		`echo '{"kind":"tool_use","tool_name":"write_file","tool_use_id":"t1"}'; ` +
		`echo '{"kind":"result","text":"all done"}'`
	r := NewSubprocessRunner("/bin/sh", []string{"-c", script}, 0)

	session, err := r.Start(context.Background(), &board.Feature{ID: "f1", Title: "t"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	events := collectEvents(t, session)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[0].Kind != proto.EventAssistant || events[0].Text != "working on it" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Kind != proto.EventToolUse || events[1].ToolName != "write_file" {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
	if events[2].Kind != proto.EventResult {
		t.Fatalf("unexpected third event: %+v", events[2])
	}

	outcome := <-session.Done()
	if !outcome.Success || outcome.Reason != "all done" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	for _, ev := range events {
		if ev.FeatureID != "f1" {
			t.Fatalf("event missing feature id: %+v", ev)
		}
	}
}

func TestSubprocessNonJSONOutputBecomesAssistantText(t *testing.T) {
	requireShell(t)

	r := NewSubprocessRunner("/bin/sh", []string{"-c", `echo plain progress line`}, 0)
	session, err := r.Start(context.Background(), &board.Feature{ID: "f1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	events := collectEvents(t, session)
	if len(events) < 1 || events[0].Kind != proto.EventAssistant || events[0].Text != "plain progress line" {
		t.Fatalf("unexpected events: %+v", events)
	}

	// Clean exit without an explicit terminal event is a success.
	outcome := <-session.Done()
	if !outcome.Success {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestSubprocessNonZeroExitFails(t *testing.T) {
	requireShell(t)

	r := NewSubprocessRunner("/bin/sh", []string{"-c", `exit 3`}, 0)
	session, err := r.Start(context.Background(), &board.Feature{ID: "f1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	outcome := <-session.Done()
	if outcome.Success {
		t.Fatalf("expected failure outcome, got %+v", outcome)
	}
}

func TestSubprocessExplicitErrorEventWins(t *testing.T) {
	requireShell(t)

	// Error event followed by a clean exit: the explicit terminal wins.
	r := NewSubprocessRunner("/bin/sh", []string{"-c", `echo '{"kind":"error","text":"could not apply patch"}'`}, 0)
	session, err := r.Start(context.Background(), &board.Feature{ID: "f1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	outcome := <-session.Done()
	if outcome.Success || outcome.Reason != "could not apply patch" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestSubprocessCancelKillsChild(t *testing.T) {
	requireShell(t)

	r := NewSubprocessRunner("/bin/sh", []string{"-c", `sleep 30`}, 0)
	session, err := r.Start(context.Background(), &board.Feature{ID: "f1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	session.Cancel()

	select {
	case outcome := <-session.Done():
		if outcome.Success {
			t.Fatalf("expected canceled failure, got %+v", outcome)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end after cancel")
	}
}

func TestSubprocessMissingCommand(t *testing.T) {
	r := NewSubprocessRunner("", nil, 0)
	if _, err := r.Start(context.Background(), &board.Feature{ID: "f1"}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestSubprocessTimeout(t *testing.T) {
	requireShell(t)

	r := NewSubprocessRunner("/bin/sh", []string{"-c", `sleep 30`}, 100*time.Millisecond)
	session, err := r.Start(context.Background(), &board.Feature{ID: "f1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case outcome := <-session.Done():
		if outcome.Success {
			t.Fatalf("expected timeout failure, got %+v", outcome)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end at timeout")
	}
}
