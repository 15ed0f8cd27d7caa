package logx

import (
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger("scheduler")
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}
	if logger.GetComponent() != "scheduler" {
		t.Errorf("Expected component 'scheduler', got '%s'", logger.GetComponent())
	}
}

func TestRingBufferRetention(t *testing.T) {
	logger := NewLogger("ring-test")
	logger.Info("first message")
	logger.Warn("second message")

	entries := RecentEntries("ring-test", time.Time{})
	if len(entries) < 2 {
		t.Fatalf("Expected at least 2 buffered entries, got %d", len(entries))
	}

	last := entries[len(entries)-1]
	if last.Level != string(LevelWarn) {
		t.Errorf("Expected last entry level WARN, got %s", last.Level)
	}
	if last.Message != "second message" {
		t.Errorf("Expected 'second message', got %q", last.Message)
	}
}

func TestRecentEntriesComponentFilter(t *testing.T) {
	NewLogger("comp-a").Info("from a")
	NewLogger("comp-b").Info("from b")

	entries := RecentEntries("comp-a", time.Time{})
	for i := range entries {
		if !strings.EqualFold(entries[i].Component, "comp-a") {
			t.Errorf("Filter leaked entry from component %s", entries[i].Component)
		}
	}
}

func TestDebugDisabledByDefault(t *testing.T) {
	SetDebug(false)
	if IsDebugEnabled("anything") {
		t.Error("Debug should be disabled by default")
	}

	SetDebug(true)
	defer SetDebug(false)
	if !IsDebugEnabled("anything") {
		t.Error("Debug should be enabled after SetDebug(true)")
	}
}

func TestErrorfReturnsError(t *testing.T) {
	err := Errorf("operation failed: %s", "timeout")
	if err == nil {
		t.Fatal("Errorf returned nil")
	}
	if err.Error() != "operation failed: timeout" {
		t.Errorf("Unexpected error text: %q", err.Error())
	}
}

func TestWrapNilPassthrough(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}
