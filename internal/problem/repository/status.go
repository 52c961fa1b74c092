package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"judgehub/internal/common/cache"
	"judgehub/internal/problem/model"
	appErr "judgehub/pkg/errors"
)

const statusKeyPrefix = "problem:status:"

// StatusRepository keeps each user's latest result per problem in a Redis hash.
type StatusRepository struct {
	cache cache.Cache
}

// NewStatusRepository creates a new repository.
func NewStatusRepository(cacheClient cache.Cache) *StatusRepository {
	return &StatusRepository{cache: cacheClient}
}

// Save records status as the latest result of userID for problemID unless
// the cached entry belongs to a later created solution. The read and the
// write are not atomic, so two completions racing on one problem may keep
// either result.
func (r *StatusRepository) Save(ctx context.Context, orgID, userID, problemID string, status model.Status) error {
	prev, err := r.Get(ctx, orgID, userID, problemID)
	if err != nil {
		return err
	}
	if prev != nil && !status.Replaces(*prev) {
		return nil
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	if err := r.cache.HSet(ctx, statusKey(orgID, userID), problemID, string(data)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store status failed")
	}
	return nil
}

// Get returns the cached status of userID for problemID, nil when absent.
func (r *StatusRepository) Get(ctx context.Context, orgID, userID, problemID string) (*model.Status, error) {
	if r.cache == nil {
		return nil, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	raw, err := r.cache.HGet(ctx, statusKey(orgID, userID), problemID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load status failed")
	}
	if raw == "" {
		return nil, nil
	}
	var st model.Status
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, nil
	}
	return &st, nil
}

// List returns every cached problem status of userID keyed by problem id.
func (r *StatusRepository) List(ctx context.Context, orgID, userID string) (map[string]model.Status, error) {
	if r.cache == nil {
		return nil, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	raw, err := r.cache.HGetAll(ctx, statusKey(orgID, userID))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "load status failed")
	}
	out := make(map[string]model.Status, len(raw))
	for problemID, val := range raw {
		var st model.Status
		if err := json.Unmarshal([]byte(val), &st); err != nil {
			continue
		}
		out[problemID] = st
	}
	return out, nil
}

func statusKey(orgID, userID string) string {
	return statusKeyPrefix + orgID + ":" + userID
}
