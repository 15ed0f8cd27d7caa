// Package scheduler implements auto mode: a single decision loop that
// dispatches eligible backlog features to agent sessions while keeping the
// number of concurrent sessions at or below the configured limit.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"conductor/pkg/board"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/proto"
	"conductor/pkg/runner"
)

// FeatureStore is the persistence surface the scheduler consumes. Errors
// board.ErrNotFound and board.ErrStale are recognized sentinels: during
// completion handling they drop the feature from the active set without a
// revert write.
type FeatureStore interface {
	ListByStatus(status proto.Status) ([]*board.Feature, error)
	Get(id string) (*board.Feature, error)
	UpdateStatus(id string, status proto.Status, errorMessage string) error
}

// notificationBuffer bounds the transition stream; consumers that fall
// behind lose notifications rather than stall scheduling.
const notificationBuffer = 64

type activeEntry struct {
	feature   *board.Feature
	session   *runner.Session
	startedAt time.Time
}

// Scheduler owns the auto-mode decision loop. All dispatch decisions happen
// on one goroutine consuming a trigger channel; the control surface and
// session completions only mutate guarded state and poke that loop.
type Scheduler struct {
	store    FeatureStore
	runner   runner.Runner
	recorder *metrics.Recorder
	logger   *logx.Logger

	trigger  chan struct{}
	notifyCh chan proto.StatusChangeNotification

	mu       sync.Mutex
	enabled  bool
	limit    int
	active   map[string]*activeEntry
	draining bool

	wg      sync.WaitGroup
	started bool
}

// New creates a scheduler with auto mode disabled and the given session limit.
func New(store FeatureStore, r runner.Runner, recorder *metrics.Recorder, limit int) *Scheduler {
	if limit < 1 {
		limit = 1
	}
	s := &Scheduler{
		store:    store,
		runner:   r,
		recorder: recorder,
		logger:   logx.NewLogger("scheduler"),
		trigger:  make(chan struct{}, 1),
		notifyCh: make(chan proto.StatusChangeNotification, notificationBuffer),
		limit:    limit,
		active:   make(map[string]*activeEntry),
	}
	if recorder != nil {
		recorder.SetConcurrencyLimit(limit)
	}
	return s
}

// Notifications returns the stream of status transitions the scheduler
// performs. Delivery is best effort: the send never blocks the decision loop.
func (s *Scheduler) Notifications() <-chan proto.StatusChangeNotification {
	return s.notifyCh
}

// Start launches the decision loop. It runs until ctx is canceled; in-flight
// sessions are then canceled best effort.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)
	s.Poke()
}

// Wait blocks until the decision loop has exited after context cancellation.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Poke nudges the decision loop to run another pass. Safe from any
// goroutine; coalesces while a pass is pending.
func (s *Scheduler) Poke() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	s.logger.Info("decision loop started")

	for {
		select {
		case <-ctx.Done():
			s.cancelActiveSessions()
			s.logger.Info("decision loop stopped")
			return
		case <-s.trigger:
			s.schedulePass(ctx)
		}
	}
}

// schedulePass dispatches as many eligible features as open slots allow.
// Runs only on the decision goroutine, so active set growth is serialized
// and len(active) never exceeds the limit.
func (s *Scheduler) schedulePass(ctx context.Context) {
	s.mu.Lock()
	enabled := s.enabled
	slots := s.limit - len(s.active)
	activeIDs := make(map[string]bool, len(s.active))
	for id := range s.active {
		activeIDs[id] = true
	}
	s.mu.Unlock()

	if !enabled || slots <= 0 {
		return
	}

	candidates, err := s.eligibleCandidates(activeIDs)
	if err != nil {
		s.logger.Error("pass aborted: %v", err)
		return
	}
	if len(candidates) == 0 {
		return
	}

	board.SortForDispatch(candidates)

	dispatched := 0
	for _, feature := range candidates {
		if dispatched >= slots {
			break
		}
		if ctx.Err() != nil {
			return
		}
		ok, stop := s.dispatch(ctx, feature)
		if stop {
			return
		}
		if ok {
			dispatched++
		}
	}
	if dispatched > 0 {
		s.logger.Info("dispatched %d feature(s), %d slot(s) were open", dispatched, slots)
	}
}

// eligibleCandidates returns backlog features whose dependencies are all
// satisfied, excluding features already active. Dependency lookups are
// cached per pass; an unknown dependency id blocks its dependent silently.
func (s *Scheduler) eligibleCandidates(activeIDs map[string]bool) ([]*board.Feature, error) {
	backlog, err := s.store.ListByStatus(proto.StatusBacklog)
	if err != nil {
		return nil, logx.Wrap(err, "failed to list backlog")
	}

	known := board.ByID(backlog)
	var candidates []*board.Feature
	for _, feature := range backlog {
		if activeIDs[feature.ID] {
			continue
		}
		if err := s.resolveDeps(feature, known); err != nil {
			return nil, err
		}
		if feature.Eligible(known) {
			candidates = append(candidates, feature)
		}
	}
	return candidates, nil
}

func (s *Scheduler) resolveDeps(feature *board.Feature, known map[string]*board.Feature) error {
	for _, depID := range feature.Dependencies {
		if _, ok := known[depID]; ok {
			continue
		}
		dep, err := s.store.Get(depID)
		if err != nil {
			if errors.Is(err, board.ErrNotFound) {
				continue // Missing dep keeps the feature blocked, not errored.
			}
			return logx.Wrap(err, "failed to resolve dependency "+depID)
		}
		known[depID] = dep
	}
	return nil
}

// dispatch moves one feature to in_progress and starts its agent session.
// The active-set insertion re-checks the budget under the lock: a limit
// reduction or a disable landing mid-pass refuses the insertion, reverts
// the store write, and reports stop so the pass ends instead of
// overshooting the new limit. A plain store or runner failure reverts and
// reports dispatched=false so the pass continues with the next candidate.
func (s *Scheduler) dispatch(ctx context.Context, feature *board.Feature) (dispatched, stop bool) {
	if err := s.store.UpdateStatus(feature.ID, proto.StatusInProgress, ""); err != nil {
		s.logger.Error("dispatch of %s failed at store update: %v", feature.ID, err)
		if s.recorder != nil {
			s.recorder.ObserveDispatchError()
		}
		return false, false
	}

	entry := &activeEntry{feature: feature, startedAt: time.Now()}
	s.mu.Lock()
	withinBudget := s.enabled && len(s.active) < s.limit
	if withinBudget {
		s.active[feature.ID] = entry
	}
	s.mu.Unlock()

	if !withinBudget {
		s.logger.Info("dispatch budget withdrawn mid-pass, returning %s to backlog", feature.ID)
		if revertErr := s.store.UpdateStatus(feature.ID, proto.StatusBacklog, ""); revertErr != nil {
			s.logger.Error("revert of %s to backlog failed: %v", feature.ID, revertErr)
		}
		return false, true
	}

	session, err := s.runner.Start(ctx, feature)
	if err != nil {
		s.mu.Lock()
		delete(s.active, feature.ID)
		s.mu.Unlock()
		s.logger.Error("dispatch of %s failed at runner start, reverting: %v", feature.ID, err)
		if revertErr := s.store.UpdateStatus(feature.ID, proto.StatusBacklog, ""); revertErr != nil {
			s.logger.Error("revert of %s to backlog failed: %v", feature.ID, revertErr)
		}
		if s.recorder != nil {
			s.recorder.ObserveDispatchError()
		}
		return false, false
	}
	entry.session = session

	if s.recorder != nil {
		s.recorder.ObserveDispatch(feature.Priority)
	}
	s.notify(feature.ID, proto.StatusBacklog, proto.StatusInProgress)
	s.logger.Info("dispatched %s (priority %d, session %s)", feature.ID, feature.Priority, session.ID)

	s.wg.Add(1)
	go s.watchSession(entry)
	return true, false
}

// watchSession drains the session's event stream and handles its single
// terminal outcome.
func (s *Scheduler) watchSession(entry *activeEntry) {
	defer s.wg.Done()

	for ev := range entry.session.Events() {
		switch ev.Kind {
		case proto.EventAssistant:
			s.logger.Debug("agent[%s]: %s", ev.FeatureID, ev.Text)
		case proto.EventToolUse:
			s.logger.Debug("agent[%s] tool: %s", ev.FeatureID, ev.ToolName)
		case proto.EventToolResult, proto.EventResult, proto.EventError:
		}
	}

	outcome := <-entry.session.Done()
	s.handleCompletion(entry, outcome)
}

// handleCompletion removes the feature from the active set and records the
// terminal status. A stale or missing store row means something else owned
// the feature meanwhile; the active entry is dropped without a revert write.
func (s *Scheduler) handleCompletion(entry *activeEntry, outcome runner.Outcome) {
	featureID := entry.feature.ID

	s.mu.Lock()
	delete(s.active, featureID)
	draining := s.draining
	s.mu.Unlock()

	duration := time.Since(entry.startedAt)
	if s.recorder != nil {
		s.recorder.ObserveSessionEnd(outcome.Success, duration)
	}

	// During shutdown the feature stays in_progress; the orphan recovery
	// pass at next startup requeues it, same as after a crash.
	if draining {
		s.logger.Info("shutdown: leaving %s in_progress for restart recovery", featureID)
		return
	}

	to := proto.StatusWaitingApproval
	errorMessage := ""
	if !outcome.Success {
		to = proto.StatusFailed
		errorMessage = outcome.Reason
	}

	err := s.store.UpdateStatus(featureID, to, errorMessage)
	switch {
	case err == nil:
		s.notify(featureID, proto.StatusInProgress, to)
		s.logger.Info("session for %s finished after %s: %s", featureID, duration.Round(time.Second), to)
	case errors.Is(err, board.ErrNotFound), errors.Is(err, board.ErrStale):
		s.logger.Warn("feature %s changed during its session, dropping result: %v", featureID, err)
	default:
		s.logger.Error("failed to record outcome for %s: %v", featureID, err)
	}

	s.Poke()
}

func (s *Scheduler) cancelActiveSessions() {
	s.mu.Lock()
	s.draining = true
	entries := make([]*activeEntry, 0, len(s.active))
	for _, entry := range s.active {
		entries = append(entries, entry)
	}
	s.mu.Unlock()

	for _, entry := range entries {
		entry.session.Cancel()
	}
}

// notify publishes a transition without ever blocking the caller.
func (s *Scheduler) notify(featureID string, from, to proto.Status) {
	n := proto.StatusChangeNotification{
		FeatureID: featureID,
		From:      from,
		To:        to,
		Timestamp: time.Now().UTC(),
	}
	select {
	case s.notifyCh <- n:
	default:
		s.logger.Warn("notification channel full, dropping %s -> %s for %s", from, to, featureID)
	}
}

// sortedActiveIDsLocked returns the active feature IDs in lexicographic
// order. Caller must hold s.mu.
func (s *Scheduler) sortedActiveIDsLocked() []string {
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
