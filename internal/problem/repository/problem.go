package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"judgehub/internal/common/cache"
	"judgehub/internal/common/db"
	"judgehub/internal/problem/model"
	"judgehub/pkg/repository"
)

const (
	defaultProblemTTL      = 10 * time.Minute
	defaultProblemEmptyTTL = time.Minute
	problemKeyPrefix       = "problem:dispatch:"
)

var ErrProblemNotFound = fmt.Errorf("problem: %w", repository.ErrNotFound)

// ProblemRepository reads the problem data needed to dispatch work.
type ProblemRepository interface {
	Get(ctx context.Context, id string) (*model.Problem, error)
	ListContestProblems(ctx context.Context, contestID string) ([]model.ContestProblem, error)
}

type MySQLProblemRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewProblemRepository(database db.Database, cacheClient cache.Cache) *MySQLProblemRepository {
	return NewProblemRepositoryWithTTL(database, cacheClient, defaultProblemTTL, defaultProblemEmptyTTL)
}

func NewProblemRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *MySQLProblemRepository {
	if ttl <= 0 {
		ttl = defaultProblemTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultProblemEmptyTTL
	}
	return &MySQLProblemRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

func (r *MySQLProblemRepository) Get(ctx context.Context, id string) (*model.Problem, error) {
	if r.cache == nil {
		return r.getFromDB(ctx, id)
	}
	problem, err := cache.GetWithCached[*model.Problem](
		ctx,
		r.cache,
		problemKeyPrefix+id,
		r.ttl,
		r.emptyTTL,
		func(p *model.Problem) bool { return p == nil },
		marshalProblem,
		unmarshalProblem,
		func(ctx context.Context) (*model.Problem, error) {
			p, err := r.getFromDB(ctx, id)
			if errors.Is(err, ErrProblemNotFound) {
				return nil, nil
			}
			return p, err
		},
	)
	if err != nil {
		return nil, err
	}
	if problem == nil {
		return nil, ErrProblemNotFound
	}
	return problem, nil
}

func (r *MySQLProblemRepository) ListContestProblems(ctx context.Context, contestID string) ([]model.ContestProblem, error) {
	query := `
		SELECT cp.contest_id, cp.problem_id, cp.problem_key, p.title, cp.settings
		FROM contest_problems cp
		JOIN problems p ON p.id = cp.problem_id
		WHERE cp.contest_id = ?
		ORDER BY cp.position, cp.problem_key`
	rows, err := r.db.Query(ctx, query, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ContestProblem
	for rows.Next() {
		var cp model.ContestProblem
		var settings db.JSON[map[string]any]
		if err := rows.Scan(&cp.ContestID, &cp.ProblemID, &cp.Key, &cp.Title, &settings); err != nil {
			return nil, err
		}
		cp.Settings = settings.V
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (r *MySQLProblemRepository) getFromDB(ctx context.Context, id string) (*model.Problem, error) {
	query := "SELECT id, org_id, title, label, instance_label, data_hash, settings FROM problems WHERE id = ? LIMIT 1"
	p := &model.Problem{}
	var settings db.JSON[map[string]any]
	err := r.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.OrgID, &p.Title, &p.Label, &p.InstanceLabel, &p.DataHash, &settings)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, err
	}
	p.Settings = settings.V
	return p, nil
}

func marshalProblem(p *model.Problem) string {
	payload, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(payload)
}

func unmarshalProblem(data string) (*model.Problem, error) {
	var p model.Problem
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
