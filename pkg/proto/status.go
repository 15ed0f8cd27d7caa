// Package proto defines the shared types exchanged between the scheduler,
// the feature store, and the agent runner: feature statuses, status-change
// notifications, and the normalized agent session event set.
package proto

import (
	"time"
)

// Status represents the lifecycle status of a feature.
type Status string

const (
	// StatusBacklog is the initial status for newly created features.
	StatusBacklog Status = "backlog"

	// StatusInProgress means the scheduler has dispatched the feature to an agent session.
	StatusInProgress Status = "in_progress"

	// StatusWaitingApproval means the agent session finished successfully and a human review is pending.
	StatusWaitingApproval Status = "waiting_approval"

	// StatusCompleted means the feature's work has been approved.
	StatusCompleted Status = "completed"

	// StatusVerified means the feature's work has been verified after completion.
	StatusVerified Status = "verified"

	// StatusFailed means the agent session reported failure or was aborted.
	StatusFailed Status = "failed"

	// StatusArchived means the feature has been retired from the board.
	StatusArchived Status = "archived"
)

// ValidStatuses returns all valid feature statuses.
func ValidStatuses() []Status {
	return []Status{
		StatusBacklog,
		StatusInProgress,
		StatusWaitingApproval,
		StatusCompleted,
		StatusVerified,
		StatusFailed,
		StatusArchived,
	}
}

// IsValidStatus checks if a status string is valid.
func IsValidStatus(status Status) bool {
	for _, validStatus := range ValidStatuses() {
		if status == validStatus {
			return true
		}
	}
	return false
}

// Satisfied reports whether a feature in this status satisfies dependents.
// Only completed and verified features unblock the features that depend on them.
func (s Status) Satisfied() bool {
	return s == StatusCompleted || s == StatusVerified
}

// String returns the status as a string.
func (s Status) String() string {
	return string(s)
}

// StatusChangeNotification is published on every transition the scheduler
// performs, for UI reactivity and the event log. Consumers must never block
// the publisher; sends are non-blocking and droppable.
type StatusChangeNotification struct {
	FeatureID string         `json:"feature_id"`
	From      Status         `json:"from"`
	To        Status         `json:"to"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
