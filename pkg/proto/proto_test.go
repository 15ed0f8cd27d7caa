package proto

import "testing"

func TestStatusSatisfied(t *testing.T) {
	satisfied := map[Status]bool{
		StatusCompleted: true,
		StatusVerified:  true,
	}
	for _, status := range ValidStatuses() {
		if got := status.Satisfied(); got != satisfied[status] {
			t.Errorf("%s.Satisfied() = %v, want %v", status, got, satisfied[status])
		}
	}
}

func TestIsValidStatus(t *testing.T) {
	for _, status := range ValidStatuses() {
		if !IsValidStatus(status) {
			t.Errorf("%s should be valid", status)
		}
	}
	if IsValidStatus(Status("done")) {
		t.Error("unknown status accepted")
	}
}

func TestTerminalEvents(t *testing.T) {
	cases := []struct {
		kind     EventKind
		terminal bool
	}{
		{EventAssistant, false},
		{EventToolUse, false},
		{EventToolResult, false},
		{EventResult, true},
		{EventError, true},
	}
	for _, tc := range cases {
		ev := AgentEvent{Kind: tc.kind}
		if got := ev.Terminal(); got != tc.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tc.kind, got, tc.terminal)
		}
	}

	if ev := NewResultEvent("f1", "done"); !ev.Terminal() || ev.FeatureID != "f1" || ev.Timestamp.IsZero() {
		t.Errorf("unexpected result event: %+v", ev)
	}
	if ev := NewErrorEvent("f1", "boom"); ev.Kind != EventError || ev.Text != "boom" {
		t.Errorf("unexpected error event: %+v", ev)
	}
}
