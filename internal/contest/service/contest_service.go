package service

import (
	"context"
	"errors"

	"judgehub/internal/auth"
	"judgehub/internal/common/mq"
	"judgehub/internal/contest/model"
	"judgehub/internal/contest/repository"
	"judgehub/internal/task"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	EventRanklistInvalidated = "ranklist.invalidated"

	ReasonStagesUpdated = "stages.updated"
	ReasonStageChanged  = "stage.changed"
	ReasonAdmin         = "admin"
)

// ContestService handles the admin side of contests: stages and ranklist invalidation.
type ContestService struct {
	contests repository.ContestRepository
	checker  auth.Checker
	events   *mq.EventPublisher
	now      task.Clock
}

// NewContestService creates a new ContestService.
func NewContestService(contests repository.ContestRepository, checker auth.Checker, events *mq.EventPublisher, now task.Clock) *ContestService {
	if now == nil {
		now = task.SystemClock
	}
	return &ContestService{contests: contests, checker: checker, events: events, now: now}
}

// StagesInput replaces a contest's stage list.
type StagesInput struct {
	Stages []model.Stage `json:"stages" validate:"required,min=3,max=64,dive"`
}

// InvalidateInput controls an admin ranklist invalidation.
type InvalidateInput struct {
	// ReleaseRunner lets any ranker pick up the next regeneration.
	ReleaseRunner bool `json:"releaseRunner"`
}

// InvalidateResult carries the stamp the next regeneration must complete with.
type InvalidateResult struct {
	RanklistUpdatedAt int64 `json:"ranklistUpdatedAt"`
}

// Get returns the contest to principals allowed to view it.
func (s *ContestService) Get(ctx context.Context, p auth.Principal, id string) (*model.Contest, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := auth.Authorize(ctx, s.checker, p, target(c), auth.CapContestView); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateStages validates and stores a new stage list. The next sweep
// re-derives the status and the ranklist is regenerated.
func (s *ContestService) UpdateStages(ctx context.Context, p auth.Principal, id string, input StagesInput) error {
	c, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := auth.Authorize(ctx, s.checker, p, target(c), auth.CapContestManage); err != nil {
		return err
	}
	if err := model.ValidateStages(input.Stages); err != nil {
		return appErr.New(appErr.InvalidStages).WithMessage(err.Error())
	}
	if err := s.contests.ReplaceStages(ctx, id, input.Stages, s.now()); err != nil {
		return contestError(err)
	}
	logger.Info(ctx, "contest stages updated", zap.String("contest_id", id), zap.Int("stages", len(input.Stages)))
	if updated, err := s.contests.Get(ctx, id); err == nil {
		s.publish(ctx, updated, updated.RanklistUpdatedAt, ReasonStagesUpdated)
	}
	return nil
}

// Invalidate marks the ranklist stale on behalf of an admin.
func (s *ContestService) Invalidate(ctx context.Context, p auth.Principal, id string, input InvalidateInput) (*InvalidateResult, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := auth.Authorize(ctx, s.checker, p, target(c), auth.CapRanklistManage); err != nil {
		return nil, err
	}
	stamp, err := s.contests.InvalidateRanklist(ctx, id, s.now(), input.ReleaseRunner)
	if err != nil {
		return nil, contestError(err)
	}
	logger.Info(ctx, "ranklist invalidated",
		zap.String("contest_id", id),
		zap.Int64("ranklist_updated_at", stamp),
		zap.Bool("release_runner", input.ReleaseRunner),
	)
	s.publish(ctx, c, stamp, ReasonAdmin)
	return &InvalidateResult{RanklistUpdatedAt: stamp}, nil
}

// InvalidateRanklist marks the ranklist stale after a result changed.
func (s *ContestService) InvalidateRanklist(ctx context.Context, contestID, reason string) error {
	stamp, err := s.contests.InvalidateRanklist(ctx, contestID, s.now(), false)
	if err != nil {
		return contestError(err)
	}
	s.publish(ctx, &model.Contest{ID: contestID}, stamp, reason)
	return nil
}

func (s *ContestService) publish(ctx context.Context, c *model.Contest, stamp int64, reason string) {
	event := model.RanklistInvalidatedEvent{
		ContestID:         c.ID,
		OrgID:             c.OrgID,
		RanklistUpdatedAt: stamp,
		Reason:            reason,
	}
	if err := s.events.Publish(ctx, c.ID, EventRanklistInvalidated, event); err != nil {
		logger.Warn(ctx, "publish ranklist event failed", zap.String("contest_id", c.ID), zap.Error(err))
	}
}

func (s *ContestService) load(ctx context.Context, id string) (*model.Contest, error) {
	c, err := s.contests.Get(ctx, id)
	if err != nil {
		return nil, contestError(err)
	}
	return c, nil
}

func target(c *model.Contest) auth.Target {
	return auth.Target{Kind: "contest", ID: c.ID, OrgID: c.OrgID}
}

func contestError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrContestNotFound):
		return appErr.New(appErr.ContestNotFound)
	case errors.Is(err, repository.ErrContestConflict):
		return appErr.ConflictError(appErr.RanklistTaskConflict, "")
	default:
		return appErr.Wrapf(err, appErr.DatabaseError, "contest store failed")
	}
}
