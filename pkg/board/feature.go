// Package board defines the feature model and the dependency graph over it:
// validation of graph-mutating writes, transitive closure queries, and the
// eligibility rule the scheduler uses to pick dispatch candidates.
package board

import (
	"errors"
	"sort"
	"time"

	"conductor/pkg/proto"
)

var (
	// ErrNotFound is returned when a feature does not exist in the store.
	ErrNotFound = errors.New("feature not found")

	// ErrStale is returned when a store write detects a concurrent
	// modification, e.g. the feature was deleted while a session ran.
	ErrStale = errors.New("feature modified concurrently")
)

// Feature represents a unit of backlog work tracked through the status
// lifecycle. Model and ThinkingLevel are opaque agent configuration passed
// through to the runner; the scheduler never interprets them.
//
//nolint:govet // Field grouping preferred over alignment optimization
type Feature struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	Status       proto.Status `json:"status"`
	Dependencies []string     `json:"dependencies,omitempty"`
	Priority     int          `json:"priority"`

	// Agent configuration, opaque to the scheduler.
	Model         string `json:"model,omitempty"`
	ThinkingLevel string `json:"thinking_level,omitempty"`

	// ErrorMessage is set when the feature enters the failed status.
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Eligible reports whether the feature may be dispatched: it must be in
// backlog and every dependency must be satisfied in the given feature set.
// A dependency on an unknown id keeps the feature blocked, not errored.
func (f *Feature) Eligible(all map[string]*Feature) bool {
	if f.Status != proto.StatusBacklog {
		return false
	}
	for _, depID := range f.Dependencies {
		dep, exists := all[depID]
		if !exists {
			return false
		}
		if !dep.Status.Satisfied() {
			return false
		}
	}
	return true
}

// SortForDispatch orders features by (priority ascending, createdAt
// ascending, id ascending). The final id tie-break keeps dispatch order
// deterministic even for equal-timestamp fixtures.
func SortForDispatch(features []*Feature) {
	sort.Slice(features, func(i, j int) bool {
		if features[i].Priority != features[j].Priority {
			return features[i].Priority < features[j].Priority
		}
		if !features[i].CreatedAt.Equal(features[j].CreatedAt) {
			return features[i].CreatedAt.Before(features[j].CreatedAt)
		}
		return features[i].ID < features[j].ID
	})
}

// ByID indexes a feature slice by id.
func ByID(features []*Feature) map[string]*Feature {
	indexed := make(map[string]*Feature, len(features))
	for _, f := range features {
		indexed[f.ID] = f
	}
	return indexed
}
