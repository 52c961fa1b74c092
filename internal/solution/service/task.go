package service

import (
	"context"
	"slices"
	"strings"

	"judgehub/internal/common/metrics"
	contestModel "judgehub/internal/contest/model"
	problemModel "judgehub/internal/problem/model"
	runnerModel "judgehub/internal/runner/model"
	"judgehub/internal/solution/model"
	"judgehub/internal/solution/repository"
	"judgehub/internal/task"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/logger"

	"go.uber.org/zap"
)

// claimSource adapts the repository to the generic claim protocol.
type claimSource struct {
	repo repository.SolutionRepository
	opts repository.ClaimOptions
}

func (c claimSource) FindHeld(ctx context.Context, cl task.Claimant) (*model.Solution, error) {
	return c.repo.FindHeld(ctx, cl)
}

func (c claimSource) ClaimNext(ctx context.Context, cl task.Claimant, taskID string, now int64) (*model.Solution, error) {
	return c.repo.ClaimNext(ctx, cl, taskID, now, c.opts)
}

// Poll claims one PENDING solution for the runner. A nil task means there is
// nothing to judge.
func (s *SolutionService) Poll(ctx context.Context, runner *runnerModel.Runner) (*model.Task, error) {
	if s.storage == nil {
		s.metrics.Poll(metrics.KindSolution, "rejected")
		return nil, appErr.New(appErr.StorageNotConfigured)
	}
	claimant := runner.Claimant()
	claimant.Labels = judgingLabels(claimant.Labels)
	if len(claimant.Labels) == 0 {
		s.metrics.Poll(metrics.KindSolution, string(task.OutcomeEmpty))
		return nil, nil
	}

	now := s.now()
	src := claimSource{repo: s.solutions}
	if s.claimTTL > 0 {
		src.opts.StaleBefore = now - s.claimTTL.Milliseconds()
	}
	sol, outcome, err := task.Poll[*model.Solution](ctx, src, claimant, now)
	if err != nil {
		s.metrics.Poll(metrics.KindSolution, "error")
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "claim solution failed")
	}
	s.metrics.Poll(metrics.KindSolution, string(outcome))
	if sol == nil {
		return nil, nil
	}
	logger.Debug(ctx, "solution claimed",
		zap.String("solution_id", sol.ID),
		zap.String("task_id", sol.TaskID),
		zap.String("outcome", string(outcome)),
	)
	tk, err := s.buildTask(ctx, sol)
	if err != nil {
		s.release(ctx, sol)
		return nil, err
	}
	return tk, nil
}

// release hands a claimed solution back to the queue when no task could be
// built for it, so the next poll does not return it again.
func (s *SolutionService) release(ctx context.Context, sol *model.Solution) {
	if err := s.solutions.Release(ctx, sol.ID, sol.TaskID, sol.RunnerID); err != nil {
		logger.Warn(ctx, "release solution claim failed",
			zap.String("solution_id", sol.ID),
			zap.String("task_id", sol.TaskID),
			zap.Error(err),
		)
		return
	}
	logger.Info(ctx, "solution claim released", zap.String("solution_id", sol.ID), zap.String("task_id", sol.TaskID))
}

func (s *SolutionService) buildTask(ctx context.Context, sol *model.Solution) (*model.Task, error) {
	if sol.ProblemDataHash == "" {
		return nil, appErr.New(appErr.ProblemDataMissing).WithDetail("problemId", sol.ProblemID)
	}
	problemURL, err := s.storage.PresignGet(ctx, problemObjectKey(sol.ProblemID, sol.ProblemDataHash), s.presignTTL)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "presign problem data failed")
	}
	solutionURL, err := s.storage.PresignGet(ctx, solutionObjectKey(sol.ID), s.presignTTL)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "presign solution data failed")
	}
	return &model.Task{
		TaskID:           sol.TaskID,
		SolutionID:       sol.ID,
		ProblemID:        sol.ProblemID,
		ContestID:        sol.ContestID,
		UserID:           sol.UserID,
		Label:            sol.Label,
		ProblemDataHash:  sol.ProblemDataHash,
		SolutionDataHash: sol.SolutionDataHash,
		ProblemDataURL:   problemURL,
		SolutionDataURL:  solutionURL,
	}, nil
}

// Patch records judging progress from the task holder.
func (s *SolutionService) Patch(ctx context.Context, runner *runnerModel.Runner, id, taskID string, patch model.Patch) error {
	err := solutionError(s.solutions.Patch(ctx, id, taskID, runner.ID, patch), appErr.TaskConflict)
	s.metrics.TaskUpdate(metrics.KindSolution, "patch", err)
	return err
}

// Complete settles the task and fans the result out to contest or problem
// status. Fan-out failures are logged and do not fail the completion.
func (s *SolutionService) Complete(ctx context.Context, runner *runnerModel.Runner, id, taskID string) error {
	now := s.now()
	sol, err := s.solutions.Complete(ctx, id, taskID, runner.ID, now)
	err = solutionError(err, appErr.TaskConflict)
	s.metrics.TaskUpdate(metrics.KindSolution, "complete", err)
	if err != nil {
		return err
	}
	logger.Info(ctx, "solution completed",
		zap.String("solution_id", sol.ID),
		zap.String("status", sol.Status),
		zap.Float64("score", sol.Score),
	)

	if sol.ContestID != "" {
		s.recordContestResult(ctx, sol, now)
	} else if s.statuses != nil {
		status := problemModel.Status{
			SolutionID:        sol.ID,
			SolutionCreatedAt: sol.CreatedAt,
			Status:            sol.Status,
			Score:             sol.Score,
			CompletedAt:       sol.CompletedAt,
		}
		if err := s.statuses.Save(ctx, sol.OrgID, sol.UserID, sol.ProblemID, status); err != nil {
			logger.Warn(ctx, "update problem status failed", zap.String("solution_id", sol.ID), zap.Error(err))
		}
	}

	event := model.CompletedEvent{
		SolutionID:  sol.ID,
		OrgID:       sol.OrgID,
		ProblemID:   sol.ProblemID,
		ContestID:   sol.ContestID,
		UserID:      sol.UserID,
		Status:      sol.Status,
		Score:       sol.Score,
		Metrics:     sol.Metrics,
		CompletedAt: sol.CompletedAt,
	}
	if err := s.events.Publish(ctx, sol.ID, EventSolutionComplete, event); err != nil {
		logger.Warn(ctx, "publish solution event failed", zap.String("solution_id", sol.ID), zap.Error(err))
	}
	return nil
}

func (s *SolutionService) recordContestResult(ctx context.Context, sol *model.Solution, now int64) {
	if s.participants != nil {
		result := contestModel.ProblemResult{
			SolutionID:        sol.ID,
			SolutionCreatedAt: sol.CreatedAt,
			Score:             sol.Score,
			Status:            sol.Status,
			CompletedAt:       sol.CompletedAt,
		}
		if err := s.participants.UpsertResult(ctx, sol.ContestID, sol.UserID, sol.ProblemID, result, now); err != nil {
			logger.Error(ctx, "update participant failed",
				zap.String("solution_id", sol.ID),
				zap.String("contest_id", sol.ContestID),
				zap.Error(err),
			)
		}
	}
	if s.ranklists != nil {
		if err := s.ranklists.InvalidateRanklist(ctx, sol.ContestID, EventSolutionComplete); err != nil {
			logger.Error(ctx, "invalidate ranklist failed",
				zap.String("solution_id", sol.ID),
				zap.String("contest_id", sol.ContestID),
				zap.Error(err),
			)
		}
	}
}

// judgingLabels drops the labels reserved for instance and ranklist tasks.
func judgingLabels(labels []string) []string {
	return slices.DeleteFunc(slices.Clone(labels), func(l string) bool {
		return l == runnerModel.LabelRanker || strings.HasPrefix(l, runnerModel.InstanceLabelPrefix)
	})
}
