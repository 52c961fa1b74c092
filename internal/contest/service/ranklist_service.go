package service

import (
	"context"
	"fmt"
	"time"

	"judgehub/internal/common/metrics"
	"judgehub/internal/common/storage"
	"judgehub/internal/contest/model"
	"judgehub/internal/contest/repository"
	problemModel "judgehub/internal/problem/model"
	problemRepo "judgehub/internal/problem/repository"
	runnerModel "judgehub/internal/runner/model"
	solutionModel "judgehub/internal/solution/model"
	solutionRepo "judgehub/internal/solution/repository"
	"judgehub/internal/task"
	appErr "judgehub/pkg/errors"
	pkgrepo "judgehub/pkg/repository"
	"judgehub/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultPresignTTL    = 15 * time.Minute
	ranklistObjectPrefix = "ranklists/"
)

// RanklistConfig holds ranklist service dependencies and settings.
type RanklistConfig struct {
	Contests     repository.ContestRepository
	Participants repository.ParticipantRepository
	Solutions    solutionRepo.SolutionRepository
	Problems     problemRepo.ProblemRepository
	Storage      storage.ObjectStorage
	Metrics      *metrics.Metrics
	Clock        task.Clock

	PageSize   int
	PresignTTL time.Duration
}

// RanklistService runs the ranklist regeneration protocol for ranker runners.
type RanklistService struct {
	contests     repository.ContestRepository
	participants repository.ParticipantRepository
	solutions    solutionRepo.SolutionRepository
	problems     problemRepo.ProblemRepository
	storage      storage.ObjectStorage
	metrics      *metrics.Metrics
	now          task.Clock
	pageSize     int
	presignTTL   time.Duration
}

// NewRanklistService creates a new RanklistService.
func NewRanklistService(cfg RanklistConfig) (*RanklistService, error) {
	if cfg.Contests == nil || cfg.Participants == nil || cfg.Solutions == nil || cfg.Problems == nil {
		return nil, fmt.Errorf("contest, participant, solution and problem repositories are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = task.SystemClock
	}
	if cfg.PageSize <= 0 || cfg.PageSize > pkgrepo.MaxPageSize {
		cfg.PageSize = pkgrepo.DefaultPageSize
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = defaultPresignTTL
	}
	return &RanklistService{
		contests:     cfg.Contests,
		participants: cfg.Participants,
		solutions:    cfg.Solutions,
		problems:     cfg.Problems,
		storage:      cfg.Storage,
		metrics:      cfg.Metrics,
		now:          cfg.Clock,
		pageSize:     cfg.PageSize,
		presignTTL:   cfg.PresignTTL,
	}, nil
}

// Page is one slice of a cursor ordered export. Next resumes after the last item.
type Page[T any] struct {
	Items []T            `json:"items"`
	Next  pkgrepo.Cursor `json:"next"`
}

// CompleteInput carries the stamp the runner started from.
type CompleteInput struct {
	RanklistUpdatedAt *int64 `json:"ranklistUpdatedAt" validate:"required,gte=0"`
}

// CompleteResult reports whether the uploaded ranklist is current.
type CompleteResult struct {
	RanklistState model.RanklistState `json:"ranklistState"`
}

type rankSource struct {
	repo repository.ContestRepository
}

func (r rankSource) FindHeld(ctx context.Context, c task.Claimant) (*model.Contest, error) {
	return r.repo.FindHeldRanklist(ctx, c)
}

func (r rankSource) ClaimNext(ctx context.Context, c task.Claimant, taskID string, _ int64) (*model.Contest, error) {
	return r.repo.ClaimRanklist(ctx, c, taskID)
}

// Poll claims one stale ranklist for a ranker.
func (s *RanklistService) Poll(ctx context.Context, runner *runnerModel.Runner) (*model.RanklistTask, error) {
	claimant := runner.Claimant()
	if !claimant.HasLabel(runnerModel.LabelRanker) {
		s.metrics.Poll(metrics.KindRanklist, "rejected")
		return nil, appErr.New(appErr.LabelNotAllowed).WithDetail("required", runnerModel.LabelRanker)
	}
	if s.storage == nil {
		s.metrics.Poll(metrics.KindRanklist, "rejected")
		return nil, appErr.New(appErr.StorageNotConfigured)
	}
	c, outcome, err := task.Poll[*model.Contest](ctx, rankSource{repo: s.contests}, claimant, s.now())
	if err != nil {
		s.metrics.Poll(metrics.KindRanklist, "error")
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "claim ranklist failed")
	}
	s.metrics.Poll(metrics.KindRanklist, string(outcome))
	if c == nil {
		return nil, nil
	}
	logger.Debug(ctx, "ranklist claimed",
		zap.String("contest_id", c.ID),
		zap.String("task_id", c.RanklistTaskID),
		zap.Int64("ranklist_updated_at", c.RanklistUpdatedAt),
	)
	return &model.RanklistTask{
		TaskID:            c.RanklistTaskID,
		ContestID:         c.ID,
		RanklistUpdatedAt: c.RanklistUpdatedAt,
		Ranklists:         c.Ranklists,
		Stages:            c.Stages,
	}, nil
}

// Problems lists the problems of the contest being ranked.
func (s *RanklistService) Problems(ctx context.Context, runner *runnerModel.Runner, contestID, taskID string) ([]problemModel.ContestProblem, error) {
	if _, err := s.held(ctx, runner, contestID, taskID); err != nil {
		return nil, err
	}
	problems, err := s.problems.ListContestProblems(ctx, contestID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list contest problems failed")
	}
	return problems, nil
}

// Participants pages participants after the cursor.
func (s *RanklistService) Participants(ctx context.Context, runner *runnerModel.Runner, contestID, taskID string, cursor pkgrepo.Cursor) (*Page[*model.Participant], error) {
	if _, err := s.held(ctx, runner, contestID, taskID); err != nil {
		return nil, err
	}
	items, err := s.participants.ListSince(ctx, contestID, s.page(cursor))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list participants failed")
	}
	page := &Page[*model.Participant]{Items: items, Next: cursor}
	if n := len(items); n > 0 {
		page.Next = pkgrepo.Cursor{Since: items[n-1].UpdatedAt, LastID: items[n-1].ID}
	}
	return page, nil
}

// Solutions pages completed contest solutions after the cursor.
func (s *RanklistService) Solutions(ctx context.Context, runner *runnerModel.Runner, contestID, taskID string, cursor pkgrepo.Cursor) (*Page[*solutionModel.Solution], error) {
	if _, err := s.held(ctx, runner, contestID, taskID); err != nil {
		return nil, err
	}
	items, err := s.solutions.ListCompletedSince(ctx, contestID, s.page(cursor))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list solutions failed")
	}
	page := &Page[*solutionModel.Solution]{Items: items, Next: cursor}
	if n := len(items); n > 0 {
		page.Next = pkgrepo.Cursor{Since: items[n-1].CompletedAt, LastID: items[n-1].ID}
	}
	return page, nil
}

// UploadURLs returns one presigned upload URL per ranklist key.
func (s *RanklistService) UploadURLs(ctx context.Context, runner *runnerModel.Runner, contestID, taskID string) (map[string]string, error) {
	c, err := s.held(ctx, runner, contestID, taskID)
	if err != nil {
		return nil, err
	}
	if s.storage == nil {
		return nil, appErr.New(appErr.StorageNotConfigured)
	}
	urls := make(map[string]string, len(c.Ranklists))
	for _, rl := range c.Ranklists {
		url, err := s.storage.PresignPut(ctx, RanklistObjectKey(contestID, rl.Key), s.presignTTL)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.StorageError, "presign ranklist upload failed")
		}
		urls[rl.Key] = url
	}
	return urls, nil
}

// Complete settles the task. The result is VALID only if nothing invalidated
// the ranklist since the runner's stamp.
func (s *RanklistService) Complete(ctx context.Context, runner *runnerModel.Runner, contestID, taskID string, input CompleteInput) (*CompleteResult, error) {
	state, err := s.contests.CompleteRanklist(ctx, contestID, taskID, runner.ID, *input.RanklistUpdatedAt)
	err = contestError(err)
	s.metrics.TaskUpdate(metrics.KindRanklist, "complete", err)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "ranklist task completed",
		zap.String("contest_id", contestID),
		zap.Int64("stamp", *input.RanklistUpdatedAt),
		zap.Stringer("state", state),
	)
	return &CompleteResult{RanklistState: state}, nil
}

// RanklistObjectKey is where the artifact of one ranklist is stored.
func RanklistObjectKey(contestID, key string) string {
	return ranklistObjectPrefix + contestID + "/" + key
}

func (s *RanklistService) held(ctx context.Context, runner *runnerModel.Runner, contestID, taskID string) (*model.Contest, error) {
	c, err := s.contests.GetRanklistTask(ctx, contestID, taskID, runner.ID)
	if err != nil {
		return nil, contestError(err)
	}
	return c, nil
}

func (s *RanklistService) page(cursor pkgrepo.Cursor) pkgrepo.PageOptions {
	return pkgrepo.PageOptions{Cursor: cursor, Limit: s.pageSize}
}
