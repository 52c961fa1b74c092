package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"judgehub/internal/common/db"
	"judgehub/internal/solution/model"
	"judgehub/internal/task"
	"judgehub/pkg/repository"
)

var (
	ErrSolutionNotFound = fmt.Errorf("solution: %w", repository.ErrNotFound)
	ErrSolutionConflict = fmt.Errorf("solution: %w", repository.ErrConflict)
)

// ClaimOptions tunes eligibility of ClaimNext.
type ClaimOptions struct {
	// StaleBefore, when positive, also makes QUEUED/RUNNING solutions claimed
	// before this instant eligible again.
	StaleBefore int64
}

// SolutionRepository defines solution persistence. Every state transition is
// a single conditional write; ErrSolutionConflict means the precondition no
// longer held.
type SolutionRepository interface {
	Create(ctx context.Context, s *model.Solution) error
	Get(ctx context.Context, id string) (*model.Solution, error)

	// Submit moves a CREATED solution owned by userID to PENDING.
	Submit(ctx context.Context, id, userID string, now int64) error
	// Rejudge resets any non-CREATED solution to PENDING.
	Rejudge(ctx context.Context, id string, now int64) error
	// ResetMany resets every solution selected by filter whose state is in from.
	ResetMany(ctx context.Context, filter model.BulkFilter, from []model.State, now int64) (int64, error)

	// FindHeld and ClaimNext only consider solutions whose problem data hash is set.
	FindHeld(ctx context.Context, c task.Claimant) (*model.Solution, error)
	ClaimNext(ctx context.Context, c task.Claimant, taskID string, now int64, opts ClaimOptions) (*model.Solution, error)
	// Release returns a QUEUED solution still held under taskID to PENDING.
	Release(ctx context.Context, id, taskID, runnerID string) error

	// Patch merges runner progress and moves the solution to RUNNING.
	Patch(ctx context.Context, id, taskID, runnerID string, p model.Patch) error
	// Complete moves the solution to COMPLETED and returns the stored document.
	Complete(ctx context.Context, id, taskID, runnerID string, now int64) (*model.Solution, error)

	// ListCompletedSince pages completed solutions of a contest in (completedAt, id) order.
	ListCompletedSince(ctx context.Context, contestID string, page repository.PageOptions) ([]*model.Solution, error)
}

// MySQLSolutionRepository implements SolutionRepository with MySQL.
type MySQLSolutionRepository struct {
	db db.Database
}

// NewSolutionRepository creates a MySQL-backed solution repository.
func NewSolutionRepository(database db.Database) *MySQLSolutionRepository {
	return &MySQLSolutionRepository{db: database}
}

const solutionColumns = "id, org_id, problem_id, contest_id, user_id, label, problem_data_hash, state, solution_data_hash, " +
	"score, metrics, status, message, runner_id, task_id, created_at, submitted_at, completed_at, claimed_at"

// resetAssignments returns a solution to PENDING with judging output and ownership cleared.
const resetAssignments = "state = ?, score = 0, metrics = NULL, status = '', message = '', runner_id = NULL, task_id = NULL, " +
	"completed_at = 0, claimed_at = 0, submitted_at = ?"

func (r *MySQLSolutionRepository) Create(ctx context.Context, s *model.Solution) error {
	if s == nil {
		return errors.New("solution is nil")
	}
	if s.ID == "" || s.OrgID == "" || s.ProblemID == "" || s.UserID == "" {
		return errors.New("solution id, org, problem and user are required")
	}
	query := "INSERT INTO solutions (" + solutionColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err := r.db.Exec(ctx, query,
		s.ID, s.OrgID, s.ProblemID, nullable(s.ContestID), s.UserID, s.Label, s.ProblemDataHash, s.State,
		s.SolutionDataHash, s.Score, db.JSON[map[string]float64]{V: s.Metrics}, s.Status, s.Message,
		nullable(s.RunnerID), nullable(s.TaskID), s.CreatedAt, s.SubmittedAt, s.CompletedAt, s.ClaimedAt,
	)
	if _, dup := db.UniqueViolation(err); dup {
		return fmt.Errorf("solution %s: %w", s.ID, repository.ErrAlreadyExists)
	}
	return err
}

func (r *MySQLSolutionRepository) Get(ctx context.Context, id string) (*model.Solution, error) {
	row := r.db.QueryRow(ctx, "SELECT "+solutionColumns+" FROM solutions WHERE id = ? LIMIT 1", id)
	return scanSolution(row)
}

func (r *MySQLSolutionRepository) Submit(ctx context.Context, id, userID string, now int64) error {
	query := "UPDATE solutions SET " + resetAssignments + " WHERE id = ? AND user_id = ? AND state = ?"
	res, err := r.db.Exec(ctx, query, model.StatePending, now, id, userID, model.StateCreated)
	if err != nil {
		return err
	}
	return r.settle(ctx, res, id)
}

func (r *MySQLSolutionRepository) Rejudge(ctx context.Context, id string, now int64) error {
	query := "UPDATE solutions SET " + resetAssignments + " WHERE id = ? AND state <> ?"
	res, err := r.db.Exec(ctx, query, model.StatePending, now, id, model.StateCreated)
	if err != nil {
		return err
	}
	return r.settle(ctx, res, id)
}

func (r *MySQLSolutionRepository) ResetMany(ctx context.Context, filter model.BulkFilter, from []model.State, now int64) (int64, error) {
	if filter.ProblemID == "" {
		return 0, errors.New("problemID is required")
	}
	if len(from) == 0 {
		return 0, nil
	}
	var where strings.Builder
	args := []any{model.StatePending, now, filter.ProblemID}
	where.WriteString("problem_id = ?")
	if filter.ContestID != "" {
		where.WriteString(" AND contest_id = ?")
		args = append(args, filter.ContestID)
	}
	where.WriteString(" AND state IN (" + db.Placeholders(len(from)) + ")")
	for _, st := range from {
		args = append(args, st)
	}
	res, err := r.db.Exec(ctx, "UPDATE solutions SET "+resetAssignments+" WHERE "+where.String(), args...)
	if err != nil {
		return 0, err
	}
	return db.Affected(res)
}

func (r *MySQLSolutionRepository) FindHeld(ctx context.Context, c task.Claimant) (*model.Solution, error) {
	query := "SELECT " + solutionColumns + " FROM solutions WHERE runner_id = ? AND org_id = ? AND state = ? AND task_id IS NOT NULL " +
		"AND problem_data_hash <> '' ORDER BY claimed_at, id LIMIT 1"
	s, err := scanSolution(r.db.QueryRow(ctx, query, c.RunnerID, c.OrgID, model.StateQueued))
	if errors.Is(err, ErrSolutionNotFound) {
		return nil, repository.ErrNoTask
	}
	return s, err
}

// ClaimNext claims the oldest eligible solution with MySQL's ordered
// single-row UPDATE, then reads it back through the unique task id.
func (r *MySQLSolutionRepository) ClaimNext(ctx context.Context, c task.Claimant, taskID string, now int64, opts ClaimOptions) (*model.Solution, error) {
	if len(c.Labels) == 0 {
		return nil, repository.ErrNoTask
	}
	eligible := "(state = ? AND (runner_id IS NULL OR runner_id = ?))"
	args := []any{model.StateQueued, c.RunnerID, taskID, now, c.OrgID}
	args = append(args, db.StringArgs(c.Labels)...)
	args = append(args, model.StatePending, c.RunnerID)
	if opts.StaleBefore > 0 {
		eligible = "(" + eligible + " OR (state IN (?, ?) AND claimed_at < ?))"
		args = append(args, model.StateQueued, model.StateRunning, opts.StaleBefore)
	}
	query := "UPDATE solutions SET state = ?, runner_id = ?, task_id = ?, claimed_at = ? " +
		"WHERE org_id = ? AND problem_data_hash <> '' AND label IN (" + db.Placeholders(len(c.Labels)) + ") AND " + eligible + " " +
		"ORDER BY submitted_at, id LIMIT 1"
	res, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	n, err := db.Affected(res)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, repository.ErrNoTask
	}
	row := r.db.QueryRow(ctx, "SELECT "+solutionColumns+" FROM solutions WHERE task_id = ? LIMIT 1", taskID)
	s, err := scanSolution(row)
	if errors.Is(err, ErrSolutionNotFound) {
		// Rejudged between the claim and the read.
		return nil, repository.ErrNoTask
	}
	return s, err
}

func (r *MySQLSolutionRepository) Release(ctx context.Context, id, taskID, runnerID string) error {
	query := "UPDATE solutions SET state = ?, runner_id = NULL, task_id = NULL, claimed_at = 0 " +
		"WHERE id = ? AND task_id = ? AND runner_id = ? AND state = ?"
	res, err := r.db.Exec(ctx, query, model.StatePending, id, taskID, runnerID, model.StateQueued)
	if err != nil {
		return err
	}
	return r.settle(ctx, res, id)
}

func (r *MySQLSolutionRepository) Patch(ctx context.Context, id, taskID, runnerID string, p model.Patch) error {
	var metrics any
	if p.Metrics != nil {
		metrics = db.JSON[map[string]float64]{V: p.Metrics}
	}
	query := "UPDATE solutions SET state = ?, status = COALESCE(?, status), score = COALESCE(?, score), " +
		"metrics = COALESCE(?, metrics), message = COALESCE(?, message) " +
		"WHERE id = ? AND task_id = ? AND runner_id = ? AND state IN (?, ?)"
	res, err := r.db.Exec(ctx, query,
		model.StateRunning, p.Status, p.Score, metrics, p.Message,
		id, taskID, runnerID, model.StateQueued, model.StateRunning,
	)
	if err != nil {
		return err
	}
	return r.settle(ctx, res, id)
}

func (r *MySQLSolutionRepository) Complete(ctx context.Context, id, taskID, runnerID string, now int64) (*model.Solution, error) {
	var completed *model.Solution
	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		query := "UPDATE solutions SET state = ?, completed_at = ?, task_id = NULL, runner_id = NULL, claimed_at = 0 " +
			"WHERE id = ? AND task_id = ? AND runner_id = ? AND state IN (?, ?)"
		res, err := tx.Exec(ctx, query, model.StateCompleted, now, id, taskID, runnerID, model.StateQueued, model.StateRunning)
		if err != nil {
			return err
		}
		n, err := db.Affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return r.missOrConflict(ctx, tx, id)
		}
		completed, err = scanSolution(tx.QueryRow(ctx, "SELECT "+solutionColumns+" FROM solutions WHERE id = ?", id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return completed, nil
}

func (r *MySQLSolutionRepository) ListCompletedSince(ctx context.Context, contestID string, page repository.PageOptions) ([]*model.Solution, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	query := "SELECT " + solutionColumns + " FROM solutions WHERE contest_id = ? AND state = ? " +
		"AND (completed_at > ? OR (completed_at = ? AND id > ?)) ORDER BY completed_at, id LIMIT ?"
	rows, err := r.db.Query(ctx, query, contestID, model.StateCompleted, page.Since, page.Since, page.LastID, page.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Solution
	for rows.Next() {
		s, err := scanSolution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// settle turns a zero-row conditional update into not-found or conflict.
func (r *MySQLSolutionRepository) settle(ctx context.Context, res db.Result, id string) error {
	n, err := db.Affected(res)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return r.missOrConflict(ctx, r.db, id)
}

func (r *MySQLSolutionRepository) missOrConflict(ctx context.Context, q db.Querier, id string) error {
	var one int
	if err := q.QueryRow(ctx, "SELECT 1 FROM solutions WHERE id = ?", id).Scan(&one); err != nil {
		if db.IsNoRows(err) {
			return ErrSolutionNotFound
		}
		return err
	}
	return ErrSolutionConflict
}

func scanSolution(row db.Row) (*model.Solution, error) {
	s := &model.Solution{}
	var contestID, runnerID, taskID *string
	var metrics db.JSON[map[string]float64]
	if err := row.Scan(
		&s.ID, &s.OrgID, &s.ProblemID, &contestID, &s.UserID, &s.Label, &s.ProblemDataHash, &s.State,
		&s.SolutionDataHash, &s.Score, &metrics, &s.Status, &s.Message, &runnerID, &taskID,
		&s.CreatedAt, &s.SubmittedAt, &s.CompletedAt, &s.ClaimedAt,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSolutionNotFound
		}
		return nil, err
	}
	s.ContestID = deref(contestID)
	s.RunnerID = deref(runnerID)
	s.TaskID = deref(taskID)
	s.Metrics = metrics.V
	return s, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
