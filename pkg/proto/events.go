package proto

import (
	"time"
)

// EventKind tags the normalized agent session event variants. Provider
// adapters translate each provider's wire format into this set so the
// scheduler core never sees loosely-typed subprocess output.
type EventKind string

const (
	// EventAssistant carries assistant text output from the agent.
	EventAssistant EventKind = "assistant"

	// EventToolUse reports that the agent invoked a tool.
	EventToolUse EventKind = "tool_use"

	// EventToolResult carries the result of a tool invocation.
	EventToolResult EventKind = "tool_result"

	// EventResult is the session's terminal success event. Exactly one
	// terminal event (result or error) is emitted per session.
	EventResult EventKind = "result"

	// EventError is the session's terminal failure event.
	EventError EventKind = "error"
)

// AgentEvent is one normalized event in an agent session's stream.
//
//nolint:govet // Field grouping preferred over alignment optimization
type AgentEvent struct {
	Kind      EventKind `json:"kind"`
	FeatureID string    `json:"feature_id"`
	Timestamp time.Time `json:"timestamp"`

	// Text is assistant output for EventAssistant, the completion summary
	// for EventResult, and the failure reason for EventError.
	Text string `json:"text,omitempty"`

	// Tool fields, set for EventToolUse and EventToolResult.
	ToolName  string         `json:"tool_name,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
}

// Terminal reports whether this event ends the session.
func (e *AgentEvent) Terminal() bool {
	return e.Kind == EventResult || e.Kind == EventError
}

// NewResultEvent creates a terminal success event.
func NewResultEvent(featureID, summary string) AgentEvent {
	return AgentEvent{
		Kind:      EventResult,
		FeatureID: featureID,
		Timestamp: time.Now().UTC(),
		Text:      summary,
	}
}

// NewErrorEvent creates a terminal failure event.
func NewErrorEvent(featureID, reason string) AgentEvent {
	return AgentEvent{
		Kind:      EventError,
		FeatureID: featureID,
		Timestamp: time.Now().UTC(),
		Text:      reason,
	}
}
