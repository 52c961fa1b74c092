package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"judgehub/internal/common/db"
	"judgehub/internal/contest/model"
	"judgehub/pkg/repository"

	"github.com/google/uuid"
)

// ParticipantRepository stores per-user contest results.
type ParticipantRepository interface {
	// UpsertResult records the latest result of userID for problemID and
	// advances the participant's updatedAt past its previous value.
	UpsertResult(ctx context.Context, contestID, userID, problemID string, result model.ProblemResult, now int64) error
	// ListSince pages participants in (updatedAt, id) order after the cursor.
	ListSince(ctx context.Context, contestID string, page repository.PageOptions) ([]*model.Participant, error)
}

// MySQLParticipantRepository implements ParticipantRepository with MySQL.
type MySQLParticipantRepository struct {
	db db.Database
}

// NewParticipantRepository creates a MySQL-backed participant repository.
func NewParticipantRepository(database db.Database) *MySQLParticipantRepository {
	return &MySQLParticipantRepository{db: database}
}

const participantColumns = "id, contest_id, user_id, results, updated_at"

// UpsertResult keeps the stored result when it belongs to a later created
// solution. updated_at is assigned before results so both read the old row.
func (r *MySQLParticipantRepository) UpsertResult(ctx context.Context, contestID, userID, problemID string, result model.ProblemResult, now int64) error {
	if contestID == "" || userID == "" || problemID == "" {
		return errors.New("contestID, userID and problemID are required")
	}
	doc, err := json.Marshal(result)
	if err != nil {
		return err
	}
	path := "$." + strconv.Quote(problemID)
	replaces, replacesArgs := replacesStored(path, result)
	query := "INSERT INTO contest_participants (" + participantColumns + ") " +
		"VALUES (?, ?, ?, JSON_OBJECT(?, CAST(? AS JSON)), ?) " +
		"ON DUPLICATE KEY UPDATE " +
		"updated_at = IF(" + replaces + ", GREATEST(updated_at + 1, ?), updated_at), " +
		"results = IF(" + replaces + ", JSON_SET(COALESCE(results, JSON_OBJECT()), ?, CAST(? AS JSON)), results)"
	args := []any{uuid.NewString(), contestID, userID, problemID, string(doc), now}
	args = append(args, replacesArgs...)
	args = append(args, now)
	args = append(args, replacesArgs...)
	args = append(args, path, string(doc))
	_, err = r.db.Exec(ctx, query, args...)
	return err
}

// replacesStored is the SQL form of model.ProblemResult.Replaces against the
// result stored at path.
func replacesStored(path string, result model.ProblemResult) (string, []any) {
	idPath := path + ".solutionId"
	createdPath := path + ".solutionCreatedAt"
	cond := "(JSON_EXTRACT(results, ?) IS NULL " +
		"OR JSON_UNQUOTE(JSON_EXTRACT(results, ?)) = ? " +
		"OR COALESCE(CAST(JSON_EXTRACT(results, ?) AS SIGNED), 0) < ? " +
		"OR (COALESCE(CAST(JSON_EXTRACT(results, ?) AS SIGNED), 0) = ? AND JSON_UNQUOTE(JSON_EXTRACT(results, ?)) < ?))"
	args := []any{
		path,
		idPath, result.SolutionID,
		createdPath, result.SolutionCreatedAt,
		createdPath, result.SolutionCreatedAt, idPath, result.SolutionID,
	}
	return cond, args
}

func (r *MySQLParticipantRepository) ListSince(ctx context.Context, contestID string, page repository.PageOptions) ([]*model.Participant, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	query := "SELECT " + participantColumns + " FROM contest_participants WHERE contest_id = ? " +
		"AND (updated_at > ? OR (updated_at = ? AND id > ?)) ORDER BY updated_at, id LIMIT ?"
	rows, err := r.db.Query(ctx, query, contestID, page.Since, page.Since, page.LastID, page.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Participant
	for rows.Next() {
		p := &model.Participant{}
		var results db.JSON[map[string]model.ProblemResult]
		if err := rows.Scan(&p.ID, &p.ContestID, &p.UserID, &results, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Results = results.V
		out = append(out, p)
	}
	return out, rows.Err()
}
