package repository

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"

	"judgehub/internal/common/db"
	"judgehub/internal/contest/model"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestUpsertResultGuardsCreationOrder(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = conn.Close() }()
	repo := NewParticipantRepository(db.NewMySQLWithDB(conn))

	result := model.ProblemResult{SolutionID: "s1", SolutionCreatedAt: 10, Score: 100, Status: "Accepted", CompletedAt: 30}
	doc := `{"solutionId":"s1","solutionCreatedAt":10,"score":100,"status":"Accepted","completedAt":30}`
	guard := []any{`$."p1"`, `$."p1".solutionId`, "s1", `$."p1".solutionCreatedAt`, int64(10),
		`$."p1".solutionCreatedAt`, int64(10), `$."p1".solutionId`, "s1"}

	args := []any{sqlmock.AnyArg(), "c1", "u1", "p1", doc, int64(30)}
	args = append(args, guard...)
	args = append(args, int64(30))
	args = append(args, guard...)
	args = append(args, `$."p1"`, doc)
	values := make([]driver.Value, len(args))
	for i, a := range args {
		values[i] = a
	}

	mock.ExpectExec(regexp.QuoteMeta("ON DUPLICATE KEY UPDATE updated_at = IF((JSON_EXTRACT(results, ?) IS NULL") + ".*" +
		regexp.QuoteMeta("results = IF((JSON_EXTRACT(results, ?) IS NULL")).
		WithArgs(values...).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := repo.UpsertResult(context.Background(), "c1", "u1", "p1", result, 30); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
