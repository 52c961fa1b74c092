package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"

	"judgehub/internal/common/db"
	"judgehub/internal/solution/model"
	"judgehub/internal/task"
	"judgehub/pkg/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
)

func newMockRepo(t *testing.T) (*MySQLSolutionRepository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = conn.Close()
	})
	return NewSolutionRepository(db.NewMySQLWithDB(conn)), mock
}

func solutionRow(id, taskID string, state model.State) *sqlmock.Rows {
	cols := []string{"id", "org_id", "problem_id", "contest_id", "user_id", "label", "problem_data_hash", "state",
		"solution_data_hash", "score", "metrics", "status", "message", "runner_id", "task_id",
		"created_at", "submitted_at", "completed_at", "claimed_at"}
	var held driver.Value
	if taskID != "" {
		held = taskID
	}
	return sqlmock.NewRows(cols).AddRow(
		id, "org", "p1", nil, "u1", "cpp", "ph", int64(state),
		"sh", 12.5, []byte(`{"time":0.3}`), "AC", "", "r1", held,
		int64(1), int64(5), int64(0), int64(10),
	)
}

func q(s string) string {
	return regexp.QuoteMeta(s)
}

func TestClaimNextClaimsAndReadsBack(t *testing.T) {
	repo, mock := newMockRepo(t)
	c := task.Claimant{RunnerID: "r1", OrgID: "org", Labels: []string{"cpp", "py"}}

	mock.ExpectExec(q("UPDATE solutions SET state = ?, runner_id = ?, task_id = ?, claimed_at = ?")+".*"+
		q("problem_data_hash <> '' AND label IN (?, ?)")+".*"+q("ORDER BY submitted_at, id LIMIT 1")).
		WithArgs(int64(model.StateQueued), "r1", "t1", int64(10), "org", "cpp", "py", int64(model.StatePending), "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("FROM solutions WHERE task_id = ?")).
		WithArgs("t1").
		WillReturnRows(solutionRow("s1", "t1", model.StateQueued))

	s, err := repo.ClaimNext(context.Background(), c, "t1", 10, ClaimOptions{})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if s.ID != "s1" || s.TaskID != "t1" || s.State != model.StateQueued {
		t.Fatalf("unexpected solution: %+v", s)
	}
	if s.ContestID != "" || s.Metrics["time"] != 0.3 {
		t.Fatalf("unexpected scan: contest=%q metrics=%v", s.ContestID, s.Metrics)
	}
}

func TestClaimNextStaleReclaim(t *testing.T) {
	repo, mock := newMockRepo(t)
	c := task.Claimant{RunnerID: "r1", OrgID: "org", Labels: []string{"cpp"}}

	mock.ExpectExec(q("OR (state IN (?, ?) AND claimed_at < ?)")).
		WithArgs(int64(model.StateQueued), "r1", "t1", int64(100), "org", "cpp", int64(model.StatePending), "r1",
			int64(model.StateQueued), int64(model.StateRunning), int64(40)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := repo.ClaimNext(context.Background(), c, "t1", 100, ClaimOptions{StaleBefore: 40})
	if !errors.Is(err, repository.ErrNoTask) {
		t.Fatalf("expected ErrNoTask, got %v", err)
	}
}

func TestClaimNextWithoutLabels(t *testing.T) {
	repo, _ := newMockRepo(t)
	_, err := repo.ClaimNext(context.Background(), task.Claimant{RunnerID: "r1", OrgID: "org"}, "t1", 1, ClaimOptions{})
	if !errors.Is(err, repository.ErrNoTask) {
		t.Fatalf("expected ErrNoTask, got %v", err)
	}
}

func TestFindHeldSkipsMissingProblemData(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(q("WHERE runner_id = ? AND org_id = ? AND state = ? AND task_id IS NOT NULL AND problem_data_hash <> ''")).
		WithArgs("r1", "org", int64(model.StateQueued)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindHeld(context.Background(), task.Claimant{RunnerID: "r1", OrgID: "org", Labels: []string{"cpp"}})
	if !errors.Is(err, repository.ErrNoTask) {
		t.Fatalf("expected ErrNoTask, got %v", err)
	}
}

func TestReleaseFencedByTask(t *testing.T) {
	repo, mock := newMockRepo(t)
	release := q("UPDATE solutions SET state = ?, runner_id = NULL, task_id = NULL, claimed_at = 0 " +
		"WHERE id = ? AND task_id = ? AND runner_id = ? AND state = ?")

	mock.ExpectExec(release).
		WithArgs(int64(model.StatePending), "s1", "t1", "r1", int64(model.StateQueued)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.Release(context.Background(), "s1", "t1", "r1"); err != nil {
		t.Fatalf("release: %v", err)
	}

	mock.ExpectExec(release).
		WithArgs(int64(model.StatePending), "s1", "t0", "r1", int64(model.StateQueued)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("SELECT 1 FROM solutions WHERE id = ?")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	if err := repo.Release(context.Background(), "s1", "t0", "r1"); !errors.Is(err, ErrSolutionConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestSubmitMissOrConflict(t *testing.T) {
	repo, mock := newMockRepo(t)
	update := q("UPDATE solutions SET state = ?") + ".*" + q("WHERE id = ? AND user_id = ? AND state = ?")

	mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("SELECT 1 FROM solutions WHERE id = ?")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	if err := repo.Submit(context.Background(), "s1", "u1", 5); !errors.Is(err, ErrSolutionConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("SELECT 1 FROM solutions WHERE id = ?")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	if err := repo.Submit(context.Background(), "missing", "u1", 5); !errors.Is(err, ErrSolutionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	mock.ExpectExec(update).
		WithArgs(int64(model.StatePending), int64(5), "s2", "u1", int64(model.StateCreated)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.Submit(context.Background(), "s2", "u1", 5); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestResetManyScopesByContest(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(q("WHERE problem_id = ? AND contest_id = ? AND state IN (?, ?)")).
		WithArgs(int64(model.StatePending), int64(7), "p1", "c1", int64(model.StateQueued), int64(model.StateRunning)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.ResetMany(context.Background(), model.BulkFilter{ProblemID: "p1", ContestID: "c1"},
		[]model.State{model.StateQueued, model.StateRunning}, 7)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}
}

func TestCompleteInTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE solutions SET state = ?, completed_at = ?, task_id = NULL")).
		WithArgs(int64(model.StateCompleted), int64(20), "s1", "t1", "r1", int64(model.StateQueued), int64(model.StateRunning)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q("FROM solutions WHERE id = ?")).
		WithArgs("s1").
		WillReturnRows(solutionRow("s1", "", model.StateCompleted))
	mock.ExpectCommit()

	s, err := repo.Complete(context.Background(), "s1", "t1", "r1", 20)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if s.State != model.StateCompleted || s.TaskID != "" {
		t.Fatalf("unexpected solution: %+v", s)
	}
}

func TestCompleteLostTaskRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE solutions SET state = ?, completed_at = ?")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("SELECT 1 FROM solutions WHERE id = ?")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectRollback()

	if _, err := repo.Complete(context.Background(), "s1", "stale", "r1", 20); !errors.Is(err, ErrSolutionConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(q("INSERT INTO solutions")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 's1' for key 'PRIMARY'"})

	err := repo.Create(context.Background(), &model.Solution{ID: "s1", OrgID: "org", ProblemID: "p1", UserID: "u1"})
	if !errors.Is(err, repository.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}
