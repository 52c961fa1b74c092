package repository

import (
	"context"
	"errors"
	"fmt"

	"judgehub/internal/common/db"
	"judgehub/internal/contest/model"
	"judgehub/internal/task"
	"judgehub/pkg/repository"
)

var (
	ErrContestNotFound = fmt.Errorf("contest: %w", repository.ErrNotFound)
	ErrContestConflict = fmt.Errorf("contest: %w", repository.ErrConflict)
)

// ContestRepository persists the ranklist and stage slices of contests.
type ContestRepository interface {
	Create(ctx context.Context, c *model.Contest) error
	Get(ctx context.Context, id string) (*model.Contest, error)

	FindHeldRanklist(ctx context.Context, c task.Claimant) (*model.Contest, error)
	ClaimRanklist(ctx context.Context, c task.Claimant, taskID string) (*model.Contest, error)
	// GetRanklistTask returns the contest only while taskID held by runnerID is live.
	GetRanklistTask(ctx context.Context, contestID, taskID, runnerID string) (*model.Contest, error)
	// CompleteRanklist settles the task and returns the resulting state.
	CompleteRanklist(ctx context.Context, contestID, taskID, runnerID string, stamp int64) (model.RanklistState, error)
	// InvalidateRanklist marks the ranklist stale and returns the new stamp.
	InvalidateRanklist(ctx context.Context, contestID string, now int64, releaseRunner bool) (int64, error)

	ListDue(ctx context.Context, now int64, limit int) ([]*model.Contest, error)
	// ApplyStatus writes upd if the contest still carries expectVersion.
	ApplyStatus(ctx context.Context, contestID string, expectVersion int64, upd model.StatusUpdate, now int64) error
	// ReplaceStages stores stages, schedules an immediate sweep and invalidates the ranklist.
	ReplaceStages(ctx context.Context, contestID string, stages []model.Stage, now int64) error
}

// MySQLContestRepository implements ContestRepository with MySQL.
type MySQLContestRepository struct {
	db db.Database
}

// NewContestRepository creates a MySQL-backed contest repository.
func NewContestRepository(database db.Database) *MySQLContestRepository {
	return &MySQLContestRepository{db: database}
}

const contestColumns = "id, org_id, title, stages, ranklists, status, current_stage, next_status_update, " +
	"ranklist_state, ranklist_updated_at, ranklist_runner_id, ranklist_task_id, version"

// invalidateAssignments marks the ranklist stale; the stamp never moves backwards.
const invalidateAssignments = "ranklist_state = ?, ranklist_updated_at = GREATEST(ranklist_updated_at + 1, ?)"

func (r *MySQLContestRepository) Create(ctx context.Context, c *model.Contest) error {
	if c == nil || c.ID == "" || c.OrgID == "" {
		return errors.New("contest id and org are required")
	}
	query := "INSERT INTO contests (" + contestColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err := r.db.Exec(ctx, query,
		c.ID, c.OrgID, c.Title, db.JSON[[]model.Stage]{V: c.Stages}, db.JSON[[]model.Ranklist]{V: c.Ranklists},
		c.Status, c.CurrentStage, c.NextStatusUpdate, c.RanklistState, c.RanklistUpdatedAt,
		nullable(c.RanklistRunnerID), nullable(c.RanklistTaskID), c.Version,
	)
	if _, dup := db.UniqueViolation(err); dup {
		return fmt.Errorf("contest %s: %w", c.ID, repository.ErrAlreadyExists)
	}
	return err
}

func (r *MySQLContestRepository) Get(ctx context.Context, id string) (*model.Contest, error) {
	return scanContest(r.db.QueryRow(ctx, "SELECT "+contestColumns+" FROM contests WHERE id = ? LIMIT 1", id))
}

func (r *MySQLContestRepository) FindHeldRanklist(ctx context.Context, c task.Claimant) (*model.Contest, error) {
	query := "SELECT " + contestColumns + " FROM contests WHERE ranklist_runner_id = ? AND org_id = ? " +
		"AND ranklist_state = ? AND ranklist_task_id IS NOT NULL ORDER BY ranklist_updated_at, id LIMIT 1"
	contest, err := scanContest(r.db.QueryRow(ctx, query, c.RunnerID, c.OrgID, model.RanklistPending))
	if errors.Is(err, ErrContestNotFound) {
		return nil, repository.ErrNoTask
	}
	return contest, err
}

func (r *MySQLContestRepository) ClaimRanklist(ctx context.Context, c task.Claimant, taskID string) (*model.Contest, error) {
	query := "UPDATE contests SET ranklist_state = ?, ranklist_runner_id = ?, ranklist_task_id = ? " +
		"WHERE org_id = ? AND ranklist_state = ? AND (ranklist_runner_id IS NULL OR ranklist_runner_id = ?) " +
		"ORDER BY ranklist_updated_at, id LIMIT 1"
	res, err := r.db.Exec(ctx, query,
		model.RanklistPending, c.RunnerID, taskID,
		c.OrgID, model.RanklistInvalid, c.RunnerID,
	)
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
	contest, err := scanContest(r.db.QueryRow(ctx, "SELECT "+contestColumns+" FROM contests WHERE ranklist_task_id = ? LIMIT 1", taskID))
	if errors.Is(err, ErrContestNotFound) {
		return nil, repository.ErrNoTask
	}
	return contest, err
}

func (r *MySQLContestRepository) GetRanklistTask(ctx context.Context, contestID, taskID, runnerID string) (*model.Contest, error) {
	contest, err := r.Get(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if contest.RanklistTaskID != taskID || contest.RanklistRunnerID != runnerID {
		return nil, ErrContestConflict
	}
	return contest, nil
}

func (r *MySQLContestRepository) CompleteRanklist(ctx context.Context, contestID, taskID, runnerID string, stamp int64) (model.RanklistState, error) {
	var state model.RanklistState
	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		query := "UPDATE contests SET ranklist_state = IF(ranklist_updated_at = ?, ?, ?), ranklist_task_id = NULL " +
			"WHERE id = ? AND ranklist_task_id = ? AND ranklist_runner_id = ?"
		res, err := tx.Exec(ctx, query, stamp, model.RanklistValid, model.RanklistInvalid, contestID, taskID, runnerID)
		if err != nil {
			return err
		}
		n, err := db.Affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return missOrConflict(ctx, tx, contestID)
		}
		return tx.QueryRow(ctx, "SELECT ranklist_state FROM contests WHERE id = ?", contestID).Scan(&state)
	})
	return state, err
}

func (r *MySQLContestRepository) InvalidateRanklist(ctx context.Context, contestID string, now int64, releaseRunner bool) (int64, error) {
	var stamp int64
	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		query := "UPDATE contests SET " + invalidateAssignments
		if releaseRunner {
			query += ", ranklist_runner_id = NULL"
		}
		res, err := tx.Exec(ctx, query+" WHERE id = ?", model.RanklistInvalid, now, contestID)
		if err != nil {
			return err
		}
		n, err := db.Affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrContestNotFound
		}
		return tx.QueryRow(ctx, "SELECT ranklist_updated_at FROM contests WHERE id = ?", contestID).Scan(&stamp)
	})
	return stamp, err
}

func (r *MySQLContestRepository) ListDue(ctx context.Context, now int64, limit int) ([]*model.Contest, error) {
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT " + contestColumns + " FROM contests WHERE next_status_update <= ? ORDER BY next_status_update, id LIMIT ?"
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Contest
	for rows.Next() {
		c, err := scanContest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *MySQLContestRepository) ApplyStatus(ctx context.Context, contestID string, expectVersion int64, upd model.StatusUpdate, now int64) error {
	query := "UPDATE contests SET status = ?, current_stage = ?, next_status_update = ?, version = version + 1"
	args := []any{upd.Status, upd.CurrentStage, upd.NextStatusUpdate}
	if upd.StageChanged {
		query += ", " + invalidateAssignments
		args = append(args, model.RanklistInvalid, now)
	}
	args = append(args, contestID, expectVersion)
	res, err := r.db.Exec(ctx, query+" WHERE id = ? AND version = ?", args...)
	if err != nil {
		return err
	}
	n, err := db.Affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return missOrConflict(ctx, r.db, contestID)
	}
	return nil
}

func (r *MySQLContestRepository) ReplaceStages(ctx context.Context, contestID string, stages []model.Stage, now int64) error {
	query := "UPDATE contests SET stages = ?, next_status_update = 0, version = version + 1, " + invalidateAssignments + " WHERE id = ?"
	res, err := r.db.Exec(ctx, query, db.JSON[[]model.Stage]{V: stages}, model.RanklistInvalid, now, contestID)
	if err != nil {
		return err
	}
	n, err := db.Affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrContestNotFound
	}
	return nil
}

func missOrConflict(ctx context.Context, q db.Querier, id string) error {
	var one int
	if err := q.QueryRow(ctx, "SELECT 1 FROM contests WHERE id = ?", id).Scan(&one); err != nil {
		if db.IsNoRows(err) {
			return ErrContestNotFound
		}
		return err
	}
	return ErrContestConflict
}

func scanContest(row db.Row) (*model.Contest, error) {
	c := &model.Contest{}
	var stages db.JSON[[]model.Stage]
	var ranklists db.JSON[[]model.Ranklist]
	var runnerID, taskID *string
	if err := row.Scan(
		&c.ID, &c.OrgID, &c.Title, &stages, &ranklists, &c.Status, &c.CurrentStage, &c.NextStatusUpdate,
		&c.RanklistState, &c.RanklistUpdatedAt, &runnerID, &taskID, &c.Version,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrContestNotFound
		}
		return nil, err
	}
	c.Stages = stages.V
	c.Ranklists = ranklists.V
	if runnerID != nil {
		c.RanklistRunnerID = *runnerID
	}
	if taskID != nil {
		c.RanklistTaskID = *taskID
	}
	return c, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
