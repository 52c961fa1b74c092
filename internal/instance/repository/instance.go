package repository

import (
	"context"
	"errors"
	"fmt"

	"judgehub/internal/common/db"
	"judgehub/internal/instance/model"
	"judgehub/internal/task"
	"judgehub/pkg/repository"
)

var (
	ErrInstanceNotFound = fmt.Errorf("instance: %w", repository.ErrNotFound)
	ErrInstanceConflict = fmt.Errorf("instance: %w", repository.ErrConflict)
	ErrInstanceExists   = fmt.Errorf("instance: %w", repository.ErrAlreadyExists)
)

// ClaimOptions tunes eligibility of ClaimNext.
type ClaimOptions struct {
	// StaleBefore, when positive, also makes queued or in-progress tasks
	// claimed before this instant eligible again.
	StaleBefore int64
}

// InstanceRepository defines instance persistence.
type InstanceRepository interface {
	// Create inserts a new instance; ErrInstanceExists reports a live
	// instance already occupying the problem or slot.
	Create(ctx context.Context, i *model.Instance) error
	Get(ctx context.Context, id string) (*model.Instance, error)

	FindHeld(ctx context.Context, c task.Claimant) (*model.Instance, error)
	ClaimNext(ctx context.Context, c task.Claimant, taskID string, now int64, opts ClaimOptions) (*model.Instance, error)

	// Patch marks the task in progress and optionally replaces the message.
	Patch(ctx context.Context, id, taskID, runnerID string, message *string) error
	// CompleteTask applies c if the instance is still in c.From and the task is held.
	CompleteTask(ctx context.Context, id, taskID, runnerID string, c model.Completion) error
	// RequestDestroy moves a live instance to DESTROYING with a pending task.
	RequestDestroy(ctx context.Context, id string) error
}

// MySQLInstanceRepository implements InstanceRepository with MySQL.
// The live-uniqueness rules are unique indexes over generated columns that
// are NULL once an instance is destroyed.
type MySQLInstanceRepository struct {
	db db.Database
}

// NewInstanceRepository creates a MySQL-backed instance repository.
func NewInstanceRepository(database db.Database) *MySQLInstanceRepository {
	return &MySQLInstanceRepository{db: database}
}

const instanceColumns = "id, org_id, user_id, problem_id, contest_id, slot_no, state, task_state, label, runner_id, task_id, " +
	"message, created_at, activated_at, destroyed_at, task_claimed_at"

func (r *MySQLInstanceRepository) Create(ctx context.Context, i *model.Instance) error {
	if i == nil {
		return errors.New("instance is nil")
	}
	if err := i.Validate(); err != nil {
		return err
	}
	query := "INSERT INTO instances (" + instanceColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err := r.db.Exec(ctx, query,
		i.ID, i.OrgID, i.UserID, i.ProblemID, i.ContestID, i.SlotNo, i.State, i.TaskState, i.Label,
		nullable(i.RunnerID), nullable(i.TaskID), i.Message, i.CreatedAt, i.ActivatedAt, i.DestroyedAt, i.TaskClaimedAt,
	)
	if key, dup := db.UniqueViolation(err); dup {
		return fmt.Errorf("%w (%s)", ErrInstanceExists, key)
	}
	return err
}

func (r *MySQLInstanceRepository) Get(ctx context.Context, id string) (*model.Instance, error) {
	return scanInstance(r.db.QueryRow(ctx, "SELECT "+instanceColumns+" FROM instances WHERE id = ? LIMIT 1", id))
}

func (r *MySQLInstanceRepository) FindHeld(ctx context.Context, c task.Claimant) (*model.Instance, error) {
	query := "SELECT " + instanceColumns + " FROM instances WHERE runner_id = ? AND org_id = ? AND task_state = ? " +
		"AND task_id IS NOT NULL ORDER BY task_claimed_at, id LIMIT 1"
	inst, err := scanInstance(r.db.QueryRow(ctx, query, c.RunnerID, c.OrgID, model.TaskQueued))
	if errors.Is(err, ErrInstanceNotFound) {
		return nil, repository.ErrNoTask
	}
	return inst, err
}

func (r *MySQLInstanceRepository) ClaimNext(ctx context.Context, c task.Claimant, taskID string, now int64, opts ClaimOptions) (*model.Instance, error) {
	if len(c.Labels) == 0 {
		return nil, repository.ErrNoTask
	}
	eligible := "(task_state = ? AND (runner_id IS NULL OR runner_id = ?))"
	args := []any{model.TaskQueued, c.RunnerID, taskID, now, c.OrgID}
	args = append(args, db.StringArgs(c.Labels)...)
	args = append(args, model.TaskPending, c.RunnerID)
	if opts.StaleBefore > 0 {
		eligible = "(" + eligible + " OR (task_state IN (?, ?) AND task_claimed_at < ?))"
		args = append(args, model.TaskQueued, model.TaskInProgress, opts.StaleBefore)
	}
	query := "UPDATE instances SET task_state = ?, runner_id = ?, task_id = ?, task_claimed_at = ? " +
		"WHERE org_id = ? AND label IN (" + db.Placeholders(len(c.Labels)) + ") AND " + eligible + " " +
		"ORDER BY created_at, id LIMIT 1"
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
	inst, err := scanInstance(r.db.QueryRow(ctx, "SELECT "+instanceColumns+" FROM instances WHERE task_id = ? LIMIT 1", taskID))
	if errors.Is(err, ErrInstanceNotFound) {
		return nil, repository.ErrNoTask
	}
	return inst, err
}

func (r *MySQLInstanceRepository) Patch(ctx context.Context, id, taskID, runnerID string, message *string) error {
	query := "UPDATE instances SET task_state = ?, message = COALESCE(?, message) " +
		"WHERE id = ? AND task_id = ? AND runner_id = ? AND state <> ? AND task_state IN (?, ?)"
	res, err := r.db.Exec(ctx, query,
		model.TaskInProgress, message,
		id, taskID, runnerID, model.StateDestroyed, model.TaskQueued, model.TaskInProgress,
	)
	if err != nil {
		return err
	}
	return r.settle(ctx, res, id)
}

func (r *MySQLInstanceRepository) CompleteTask(ctx context.Context, id, taskID, runnerID string, c model.Completion) error {
	if !model.ValidPair(c.To, model.TaskNone) {
		return fmt.Errorf("completion target %s cannot settle a task", c.To)
	}
	query := "UPDATE instances SET state = ?, task_state = ?, task_id = NULL, task_claimed_at = 0, message = ?, " +
		"activated_at = CASE WHEN ? THEN ? ELSE activated_at END, " +
		"destroyed_at = CASE WHEN ? THEN ? ELSE destroyed_at END " +
		"WHERE id = ? AND task_id = ? AND runner_id = ? AND state = ?"
	res, err := r.db.Exec(ctx, query,
		c.To, model.TaskNone, c.Message,
		c.To == model.StateActive, c.Timestamp,
		c.To == model.StateDestroyed, c.Timestamp,
		id, taskID, runnerID, c.From,
	)
	if err != nil {
		return err
	}
	return r.settle(ctx, res, id)
}

func (r *MySQLInstanceRepository) RequestDestroy(ctx context.Context, id string) error {
	// runner_id is kept: the runner hosting the sandbox is the one that can tear it down.
	query := "UPDATE instances SET state = ?, task_state = ?, task_id = NULL, task_claimed_at = 0 " +
		"WHERE id = ? AND state NOT IN (?, ?)"
	res, err := r.db.Exec(ctx, query,
		model.StateDestroying, model.TaskPending,
		id, model.StateDestroying, model.StateDestroyed,
	)
	if err != nil {
		return err
	}
	return r.settle(ctx, res, id)
}

func (r *MySQLInstanceRepository) settle(ctx context.Context, res db.Result, id string) error {
	n, err := db.Affected(res)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	if err := r.db.QueryRow(ctx, "SELECT 1 FROM instances WHERE id = ?", id).Scan(&one); err != nil {
		if db.IsNoRows(err) {
			return ErrInstanceNotFound
		}
		return err
	}
	return ErrInstanceConflict
}

func scanInstance(row db.Row) (*model.Instance, error) {
	i := &model.Instance{}
	var runnerID, taskID *string
	if err := row.Scan(
		&i.ID, &i.OrgID, &i.UserID, &i.ProblemID, &i.ContestID, &i.SlotNo, &i.State, &i.TaskState, &i.Label,
		&runnerID, &taskID, &i.Message, &i.CreatedAt, &i.ActivatedAt, &i.DestroyedAt, &i.TaskClaimedAt,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	if runnerID != nil {
		i.RunnerID = *runnerID
	}
	if taskID != nil {
		i.TaskID = *taskID
	}
	return i, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
