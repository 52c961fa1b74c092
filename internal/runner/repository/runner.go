package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"judgehub/internal/common/cache"
	"judgehub/internal/common/db"
	"judgehub/internal/runner/model"
	"judgehub/pkg/repository"
)

const (
	runnerKeyPrefix       = "runner:info:"
	defaultRunnerTTL      = 5 * time.Minute
	defaultRunnerEmptyTTL = 30 * time.Second
)

var ErrRunnerNotFound = fmt.Errorf("runner: %w", repository.ErrNotFound)

type RunnerRepository interface {
	Create(ctx context.Context, r *model.Runner) error
	Get(ctx context.Context, id string) (*model.Runner, error)
	// Touch records runner liveness.
	Touch(ctx context.Context, id string, now int64) error
}

type MySQLRunnerRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewRunnerRepository(database db.Database, cacheClient cache.Cache) *MySQLRunnerRepository {
	return &MySQLRunnerRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      defaultRunnerTTL,
		emptyTTL: defaultRunnerEmptyTTL,
	}
}

const runnerColumns = "id, org_id, name, labels, key_hash, version, created_at, accessed_at"

func (r *MySQLRunnerRepository) Create(ctx context.Context, runner *model.Runner) error {
	if runner == nil || runner.ID == "" || runner.OrgID == "" {
		return errors.New("runner id and org are required")
	}
	query := "INSERT INTO runners (" + runnerColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
	_, err := r.db.Exec(ctx, query,
		runner.ID, runner.OrgID, runner.Name, db.JSON[[]string]{V: runner.Labels}, runner.KeyHash,
		runner.Version, runner.CreatedAt, runner.AccessedAt,
	)
	if _, dup := db.UniqueViolation(err); dup {
		return fmt.Errorf("runner %s: %w", runner.ID, repository.ErrAlreadyExists)
	}
	if err == nil && r.cache != nil {
		_ = r.cache.Del(ctx, runnerKeyPrefix+runner.ID)
	}
	return err
}

// Get loads a runner through the cache. The cached copy carries the key hash
// so that authentication can be served without a database round trip.
func (r *MySQLRunnerRepository) Get(ctx context.Context, id string) (*model.Runner, error) {
	runner, err := cache.GetWithCached[*model.Runner](
		ctx,
		r.cache,
		runnerKeyPrefix+id,
		r.ttl,
		r.emptyTTL,
		func(v *model.Runner) bool { return v == nil },
		marshalRunner,
		unmarshalRunner,
		func(ctx context.Context) (*model.Runner, error) {
			v, err := r.getFromDB(ctx, id)
			if errors.Is(err, ErrRunnerNotFound) {
				return nil, nil
			}
			return v, err
		},
	)
	if err != nil {
		return nil, err
	}
	if runner == nil {
		return nil, ErrRunnerNotFound
	}
	return runner, nil
}

func (r *MySQLRunnerRepository) Touch(ctx context.Context, id string, now int64) error {
	_, err := r.db.Exec(ctx, "UPDATE runners SET accessed_at = GREATEST(accessed_at, ?) WHERE id = ?", now, id)
	return err
}

func (r *MySQLRunnerRepository) getFromDB(ctx context.Context, id string) (*model.Runner, error) {
	runner := &model.Runner{}
	var labels db.JSON[[]string]
	err := r.db.QueryRow(ctx, "SELECT "+runnerColumns+" FROM runners WHERE id = ? LIMIT 1", id).Scan(
		&runner.ID, &runner.OrgID, &runner.Name, &labels, &runner.KeyHash, &runner.Version,
		&runner.CreatedAt, &runner.AccessedAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrRunnerNotFound
		}
		return nil, err
	}
	runner.Labels = labels.V
	return runner, nil
}

// cachedRunner mirrors model.Runner with the key hash serialized.
type cachedRunner struct {
	model.Runner
	KeyHash string `json:"keyHash"`
}

func marshalRunner(v *model.Runner) string {
	payload, err := json.Marshal(cachedRunner{Runner: *v, KeyHash: v.KeyHash})
	if err != nil {
		return ""
	}
	return string(payload)
}

func unmarshalRunner(data string) (*model.Runner, error) {
	var c cachedRunner
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, err
	}
	c.Runner.KeyHash = c.KeyHash
	return &c.Runner, nil
}
