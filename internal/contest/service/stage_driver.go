package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"judgehub/internal/common/cache"
	"judgehub/internal/common/metrics"
	"judgehub/internal/contest/model"
	"judgehub/internal/contest/repository"
	"judgehub/internal/task"
	"judgehub/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval = time.Second
	defaultSweepBatch    = 100
	defaultSweepLockTTL  = 5 * time.Second
	sweepLockKey         = "contest:status-sweep:lock"
	// maxSweepAttempts bounds retries of a contest whose version moved under us.
	maxSweepAttempts     = 3
)

// SweepConfig tunes the stage driver.
type SweepConfig struct {
	Interval time.Duration `yaml:"interval"`
	Batch    int           `yaml:"batch"`
	LockTTL  time.Duration `yaml:"lockTTL"`
}

// StageDriver moves contests between statuses as their stage boundaries pass.
type StageDriver struct {
	contests repository.ContestRepository
	lock     cache.LockOps
	notifier *ContestService
	metrics  *metrics.Metrics
	now      task.Clock
	config   SweepConfig
	owner    string
}

// NewStageDriver creates a new StageDriver. lock may be nil when a single
// coordinator runs; correctness never depends on it.
func NewStageDriver(contests repository.ContestRepository, lock cache.LockOps, notifier *ContestService, m *metrics.Metrics, now task.Clock, cfg SweepConfig) *StageDriver {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}
	if cfg.Batch <= 0 {
		cfg.Batch = defaultSweepBatch
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultSweepLockTTL
	}
	if now == nil {
		now = task.SystemClock
	}
	return &StageDriver{
		contests: contests,
		lock:     lock,
		notifier: notifier,
		metrics:  m,
		now:      now,
		config:   cfg,
		owner:    uuid.NewString(),
	}
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// Sweep updates every due contest once. Individual failures are logged and
// left for the next sweep; the returned error is the first of them.
func (d *StageDriver) Sweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	now := d.now()
	res := &SweepResult{}

	due, err := d.contests.ListDue(ctx, now, d.config.Batch)
	if err != nil {
		d.metrics.Sweep(0, time.Since(start), err)
		return nil, fmt.Errorf("list due contests failed: %w", err)
	}
	var firstErr error
	for _, c := range due {
		updated, err := d.advance(ctx, c, now)
		if err != nil {
			res.Failed++
			if firstErr == nil {
				firstErr = err
			}
			logger.Warn(ctx, "contest status update failed", zap.String("contest_id", c.ID), zap.Error(err))
			continue
		}
		if updated {
			res.Updated++
		}
	}
	d.metrics.Sweep(res.Updated, time.Since(start), firstErr)
	if len(due) > 0 {
		logger.Debug(ctx, "contest sweep finished",
			zap.Int("due", len(due)),
			zap.Int("updated", res.Updated),
			zap.Int("failed", res.Failed),
		)
	}
	return res, firstErr
}

// advance writes the status of c at now, re-reading it when a concurrent
// writer bumped its version.
func (d *StageDriver) advance(ctx context.Context, c *model.Contest, now int64) (bool, error) {
	for attempt := 0; attempt < maxSweepAttempts; attempt++ {
		if c.NextStatusUpdate > now {
			return false, nil
		}
		upd := model.Plan(c, now)
		err := d.contests.ApplyStatus(ctx, c.ID, c.Version, upd, now)
		if err == nil {
			logger.Info(ctx, "contest status updated",
				zap.String("contest_id", c.ID),
				zap.Stringer("status", upd.Status),
				zap.String("stage", upd.CurrentStage),
				zap.Int64("next_status_update", upd.NextStatusUpdate),
			)
			if upd.StageChanged && d.notifier != nil {
				if fresh, err := d.contests.Get(ctx, c.ID); err == nil {
					d.notifier.publish(ctx, fresh, fresh.RanklistUpdatedAt, ReasonStageChanged)
				}
			}
			return true, nil
		}
		if !errors.Is(err, repository.ErrContestConflict) {
			return false, err
		}
		if c, err = d.contests.Get(ctx, c.ID); err != nil {
			return false, err
		}
	}
	return false, fmt.Errorf("contest %s kept changing during sweep", c.ID)
}

// Run sweeps on every tick until ctx is done.
func (d *StageDriver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()
	logger.Info(ctx, "contest stage driver started", zap.Duration("interval", d.config.Interval))
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "contest stage driver stopped")
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *StageDriver) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "contest sweep panicked", zap.Any("panic", r))
		}
	}()
	if d.lock != nil {
		ok, err := d.lock.TryLock(ctx, sweepLockKey, d.owner, d.config.LockTTL)
		if err != nil {
			logger.Warn(ctx, "acquire sweep lock failed", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		defer func() {
			if err := d.lock.Unlock(context.WithoutCancel(ctx), sweepLockKey, d.owner); err != nil {
				logger.Warn(ctx, "release sweep lock failed", zap.Error(err))
			}
		}()
	}
	_, _ = d.Sweep(ctx)
}
