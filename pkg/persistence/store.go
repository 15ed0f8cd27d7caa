package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"conductor/pkg/board"
	"conductor/pkg/logx"
	"conductor/pkg/proto"
)

// Store provides feature persistence backed by SQLite. All dependency-graph
// mutations are validated before they reach the database, so stored graphs
// are acyclic by construction.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// NewStore creates a Store on top of an initialized database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:     db,
		logger: logx.NewLogger("persistence"),
	}
}

// Create inserts a new feature. Dependencies are validated against the
// existing graph before the write.
func (s *Store) Create(f *board.Feature) error {
	if f.ID == "" {
		return fmt.Errorf("feature ID is required")
	}
	if f.Status == "" {
		f.Status = proto.StatusBacklog
	}
	if !proto.IsValidStatus(f.Status) {
		return fmt.Errorf("invalid status %q", f.Status)
	}

	if len(f.Dependencies) > 0 {
		if err := s.validateDependencies(f.ID, f.Dependencies); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO features (id, title, description, status, priority, model, thinking_level, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Title, f.Description, string(f.Status), f.Priority,
		f.Model, f.ThinkingLevel, f.ErrorMessage, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert feature %s: %w", f.ID, err)
	}

	if err := insertDependencies(tx, f.ID, f.Dependencies); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit feature %s: %w", f.ID, err)
	}

	s.logger.Debug("created feature %s (%d deps)", f.ID, len(f.Dependencies))
	return nil
}

// Upsert inserts the feature if it does not exist and leaves existing rows
// untouched. Used by the importer so re-imports never clobber runtime state.
func (s *Store) Upsert(f *board.Feature) error {
	_, err := s.Get(f.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, board.ErrNotFound) {
		return err
	}
	return s.Create(f)
}

// Get returns a single feature by ID, or board.ErrNotFound.
func (s *Store) Get(id string) (*board.Feature, error) {
	row := s.db.QueryRow(`
		SELECT id, title, description, status, priority, model, thinking_level, error_message,
		       created_at, updated_at, started_at, completed_at
		FROM features WHERE id = ?`, id)

	f, err := scanFeature(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, board.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get feature %s: %w", id, err)
	}

	deps, err := s.dependenciesOf(id)
	if err != nil {
		return nil, err
	}
	f.Dependencies = deps
	return f, nil
}

// ListAll returns every feature with dependencies populated.
func (s *Store) ListAll() ([]*board.Feature, error) {
	return s.list(`
		SELECT id, title, description, status, priority, model, thinking_level, error_message,
		       created_at, updated_at, started_at, completed_at
		FROM features ORDER BY created_at, id`)
}

// ListByStatus returns all features currently in the given status.
func (s *Store) ListByStatus(status proto.Status) ([]*board.Feature, error) {
	return s.list(`
		SELECT id, title, description, status, priority, model, thinking_level, error_message,
		       created_at, updated_at, started_at, completed_at
		FROM features WHERE status = ? ORDER BY created_at, id`, string(status))
}

func (s *Store) list(query string, args ...any) ([]*board.Feature, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query features: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var features []*board.Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feature: %w", err)
		}
		features = append(features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("feature row iteration failed: %w", err)
	}

	for _, f := range features {
		deps, err := s.dependenciesOf(f.ID)
		if err != nil {
			return nil, err
		}
		f.Dependencies = deps
	}
	return features, nil
}

// UpdateStatus moves a feature to the given status, recording lifecycle
// timestamps as a side effect. Returns board.ErrNotFound if the feature
// does not exist.
func (s *Store) UpdateStatus(id string, status proto.Status, errorMessage string) error {
	if !proto.IsValidStatus(status) {
		return fmt.Errorf("invalid status %q", status)
	}

	now := time.Now().UTC()
	query := `UPDATE features SET status = ?, error_message = ?, updated_at = ?`
	args := []any{string(status), errorMessage, now}

	switch status {
	case proto.StatusInProgress:
		query += `, started_at = ?`
		args = append(args, now)
	case proto.StatusCompleted, proto.StatusVerified:
		query += `, completed_at = ?`
		args = append(args, now)
	}

	query += ` WHERE id = ?`
	args = append(args, id)

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update status of %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return board.ErrNotFound
	}

	s.logger.Debug("feature %s -> %s", id, status)
	return nil
}

// Transition performs a compare-and-swap status change: the update applies
// only if the feature is currently in the expected status. Returns
// board.ErrStale when the feature exists but is in a different status.
func (s *Store) Transition(id string, from, to proto.Status) error {
	if !proto.IsValidStatus(to) {
		return fmt.Errorf("invalid status %q", to)
	}

	now := time.Now().UTC()
	query := `UPDATE features SET status = ?, updated_at = ?`
	args := []any{string(to), now}

	switch to {
	case proto.StatusInProgress:
		query += `, started_at = ?`
		args = append(args, now)
	case proto.StatusCompleted, proto.StatusVerified:
		query += `, completed_at = ?`
		args = append(args, now)
	case proto.StatusBacklog:
		query += `, error_message = ''`
	}

	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, string(from))

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected > 0 {
		s.logger.Debug("feature %s %s -> %s", id, from, to)
		return nil
	}

	// Distinguish a missing row from a status mismatch.
	if _, err := s.Get(id); err != nil {
		return err
	}
	return board.ErrStale
}

// Approve marks a waiting_approval feature as completed.
func (s *Store) Approve(id string) error {
	return s.Transition(id, proto.StatusWaitingApproval, proto.StatusCompleted)
}

// Verify marks a completed feature as verified.
func (s *Store) Verify(id string) error {
	return s.Transition(id, proto.StatusCompleted, proto.StatusVerified)
}

// Requeue returns a failed feature to the backlog, clearing its error.
func (s *Store) Requeue(id string) error {
	return s.Transition(id, proto.StatusFailed, proto.StatusBacklog)
}

// SetDependencies replaces a feature's dependency list. The proposed edges
// are validated against the rest of the stored graph first, so a write that
// would introduce a cycle, a self-reference, or a duplicate is rejected.
func (s *Store) SetDependencies(id string, deps []string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	if err := s.validateDependencies(id, deps); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM feature_dependencies WHERE feature_id = ?`, id); err != nil {
		return fmt.Errorf("failed to clear dependencies of %s: %w", id, err)
	}
	if err := insertDependencies(tx, id, deps); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE features SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("failed to touch feature %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dependencies of %s: %w", id, err)
	}
	return nil
}

// Delete removes a feature and its outgoing dependency edges.
func (s *Store) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM features WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete feature %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return board.ErrNotFound
	}
	return nil
}

// validateDependencies runs the graph validator over the stored feature set
// plus the proposed edges.
func (s *Store) validateDependencies(id string, deps []string) error {
	all, err := s.ListAll()
	if err != nil {
		return err
	}
	graph := board.NewGraph(board.ByID(all))
	result := graph.Validate(id, deps)
	if !result.Valid {
		return fmt.Errorf("invalid dependencies for %s: %v", id, result.Errors)
	}
	return nil
}

func (s *Store) dependenciesOf(id string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT depends_on FROM feature_dependencies WHERE feature_id = ? ORDER BY depends_on`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies of %s: %w", id, err)
	}
	defer rows.Close() //nolint:errcheck

	var deps []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, dep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dependency row iteration failed: %w", err)
	}
	return deps, nil
}

func insertDependencies(tx *sql.Tx, id string, deps []string) error {
	for _, dep := range deps {
		if _, err := tx.Exec(
			`INSERT INTO feature_dependencies (feature_id, depends_on) VALUES (?, ?)`,
			id, dep,
		); err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", id, dep, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeature(row rowScanner) (*board.Feature, error) {
	var (
		f           board.Feature
		status      string
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&f.ID, &f.Title, &f.Description, &status, &f.Priority,
		&f.Model, &f.ThinkingLevel, &f.ErrorMessage,
		&f.CreatedAt, &f.UpdatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	f.Status = proto.Status(status)
	if startedAt.Valid {
		f.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		f.CompletedAt = &completedAt.Time
	}
	return &f, nil
}
