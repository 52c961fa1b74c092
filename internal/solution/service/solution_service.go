package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"judgehub/internal/auth"
	"judgehub/internal/common/metrics"
	"judgehub/internal/common/mq"
	"judgehub/internal/common/storage"
	contestModel "judgehub/internal/contest/model"
	contestRepo "judgehub/internal/contest/repository"
	problemModel "judgehub/internal/problem/model"
	problemRepo "judgehub/internal/problem/repository"
	"judgehub/internal/solution/model"
	"judgehub/internal/solution/repository"
	"judgehub/internal/task"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPresignTTL     = 15 * time.Minute
	solutionObjectPrefix  = "solutions/"
	problemObjectPrefix   = "problems/"
	EventSolutionComplete = "solution.completed"
)

var (
	submitAllFrom  = []model.State{model.StateCreated}
	rejudgeAllFrom = []model.State{model.StatePending, model.StateQueued, model.StateRunning, model.StateCompleted}
)

// RanklistInvalidator marks a contest ranklist stale.
type RanklistInvalidator interface {
	InvalidateRanklist(ctx context.Context, contestID, reason string) error
}

// StatusStore keeps the latest per-user result of problems judged outside contests.
type StatusStore interface {
	Save(ctx context.Context, orgID, userID, problemID string, status problemModel.Status) error
	List(ctx context.Context, orgID, userID string) (map[string]problemModel.Status, error)
}

// Config holds solution service dependencies and settings.
type Config struct {
	Solutions repository.SolutionRepository
	Problems  problemRepo.ProblemRepository
	Checker   auth.Checker

	// Optional collaborators.
	Contests     contestRepo.ContestRepository
	Participants contestRepo.ParticipantRepository
	Ranklists    RanklistInvalidator
	Statuses     StatusStore
	Storage      storage.ObjectStorage
	Events       *mq.EventPublisher
	Metrics      *metrics.Metrics
	Clock        task.Clock

	// ClaimTTL makes claims older than the TTL reclaimable. Zero disables it.
	ClaimTTL   time.Duration
	PresignTTL time.Duration
}

// SolutionService drives the solution judging state machine.
type SolutionService struct {
	solutions    repository.SolutionRepository
	problems     problemRepo.ProblemRepository
	checker      auth.Checker
	contests     contestRepo.ContestRepository
	participants contestRepo.ParticipantRepository
	ranklists    RanklistInvalidator
	statuses     StatusStore
	storage      storage.ObjectStorage
	events       *mq.EventPublisher
	metrics      *metrics.Metrics
	now          task.Clock

	claimTTL   time.Duration
	presignTTL time.Duration
}

// NewSolutionService creates a new solution service.
func NewSolutionService(cfg Config) (*SolutionService, error) {
	if cfg.Solutions == nil {
		return nil, fmt.Errorf("solution repository is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.Checker == nil {
		return nil, fmt.Errorf("capability checker is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = task.SystemClock
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = defaultPresignTTL
	}
	return &SolutionService{
		solutions:    cfg.Solutions,
		problems:     cfg.Problems,
		checker:      cfg.Checker,
		contests:     cfg.Contests,
		participants: cfg.Participants,
		ranklists:    cfg.Ranklists,
		statuses:     cfg.Statuses,
		storage:      cfg.Storage,
		events:       cfg.Events,
		metrics:      cfg.Metrics,
		now:          cfg.Clock,
		claimTTL:     cfg.ClaimTTL,
		presignTTL:   cfg.PresignTTL,
	}, nil
}

// CreateInput describes a new solution.
type CreateInput struct {
	ProblemID string `json:"problemId" validate:"required,max=64"`
	ContestID string `json:"contestId" validate:"omitempty,max=64"`
	DataHash  string `json:"dataHash" validate:"omitempty,max=128"`
}

// Created is returned to the author of a new solution.
type Created struct {
	Solution  *model.Solution `json:"solution"`
	UploadURL string          `json:"uploadUrl,omitempty"`
}

// BulkResult reports how many solutions an admin reset touched.
type BulkResult struct {
	Affected int64 `json:"affected"`
}

// Create stores a CREATED solution and hands out an upload URL for its data.
func (s *SolutionService) Create(ctx context.Context, p auth.Principal, input CreateInput) (*Created, error) {
	problem, err := s.problem(ctx, input.ProblemID)
	if err != nil {
		return nil, err
	}
	if err := auth.Authorize(ctx, s.checker, p, problemTarget(problem), auth.CapSolutionSubmit); err != nil {
		return nil, err
	}
	if problem.DataHash == "" {
		return nil, appErr.New(appErr.ProblemDataMissing).WithDetail("problemId", problem.ID)
	}
	if input.ContestID != "" {
		if err := s.checkContestOpen(ctx, problem, input.ContestID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	sol := &model.Solution{
		ID:               uuid.NewString(),
		OrgID:            problem.OrgID,
		ProblemID:        problem.ID,
		ContestID:        input.ContestID,
		UserID:           p.UserID,
		Label:            problem.Label,
		ProblemDataHash:  problem.DataHash,
		State:            model.StateCreated,
		SolutionDataHash: input.DataHash,
		CreatedAt:        now,
	}
	if err := s.solutions.Create(ctx, sol); err != nil {
		return nil, appErr.Wrapf(err, appErr.SolutionCreateFailed, "create solution failed")
	}

	out := &Created{Solution: sol}
	if s.storage != nil {
		url, err := s.storage.PresignPut(ctx, solutionObjectKey(sol.ID), s.presignTTL)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.StorageError, "presign solution upload failed")
		}
		out.UploadURL = url
	}
	logger.Info(ctx, "solution created",
		zap.String("solution_id", sol.ID),
		zap.String("problem_id", sol.ProblemID),
		zap.String("contest_id", sol.ContestID),
	)
	return out, nil
}

// Get returns a solution to its author or to a principal allowed to view it.
func (s *SolutionService) Get(ctx context.Context, p auth.Principal, id string) (*model.Solution, error) {
	sol, err := s.solutions.Get(ctx, id)
	if err != nil {
		return nil, solutionError(err, appErr.Conflict)
	}
	if sol.UserID != p.UserID || sol.OrgID != p.OrgID {
		if err := auth.Authorize(ctx, s.checker, p, solutionTarget(sol), auth.CapSolutionView); err != nil {
			return nil, err
		}
	}
	return sol, nil
}

// Statuses returns the caller's latest result per problem judged outside
// contests, keyed by problem id.
func (s *SolutionService) Statuses(ctx context.Context, p auth.Principal) (map[string]problemModel.Status, error) {
	if s.statuses == nil {
		return map[string]problemModel.Status{}, nil
	}
	return s.statuses.List(ctx, p.OrgID, p.UserID)
}

// Submit queues the author's CREATED solution for judging.
func (s *SolutionService) Submit(ctx context.Context, p auth.Principal, id string) error {
	sol, err := s.solutions.Get(ctx, id)
	if err != nil {
		return solutionError(err, appErr.SolutionNotCreated)
	}
	if sol.UserID != p.UserID || sol.OrgID != p.OrgID {
		return appErr.New(appErr.PermissionDenied).WithMessage("only the author can submit a solution")
	}
	if s.storage != nil {
		if _, err := s.storage.StatObject(ctx, solutionObjectKey(id)); err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return appErr.New(appErr.PreconditionFailed).WithMessage("solution data has not been uploaded")
			}
			return appErr.Wrapf(err, appErr.StorageError, "check solution data failed")
		}
	}
	if err := s.solutions.Submit(ctx, id, p.UserID, s.now()); err != nil {
		return solutionError(err, appErr.SolutionNotCreated)
	}
	logger.Info(ctx, "solution submitted", zap.String("solution_id", id))
	return nil
}

// Rejudge returns a submitted solution to PENDING, fencing out its current runner.
func (s *SolutionService) Rejudge(ctx context.Context, p auth.Principal, id string) error {
	sol, err := s.solutions.Get(ctx, id)
	if err != nil {
		return solutionError(err, appErr.SolutionNotCreated)
	}
	if err := auth.Authorize(ctx, s.checker, p, solutionTarget(sol), auth.CapSolutionRejudge); err != nil {
		return err
	}
	if err := s.solutions.Rejudge(ctx, id, s.now()); err != nil {
		return solutionError(err, appErr.SolutionNotCreated)
	}
	logger.Info(ctx, "solution rejudged",
		zap.String("solution_id", id),
		zap.String("previous_runner", sol.RunnerID),
		zap.Stringer("previous_state", sol.State),
	)
	return nil
}

// SubmitAll moves every CREATED solution of a problem to PENDING.
func (s *SolutionService) SubmitAll(ctx context.Context, p auth.Principal, problemID, contestID string) (*BulkResult, error) {
	return s.resetMany(ctx, p, problemID, contestID, submitAllFrom, "submit-all")
}

// RejudgeAll resets every submitted solution of a problem to PENDING.
func (s *SolutionService) RejudgeAll(ctx context.Context, p auth.Principal, problemID, contestID string) (*BulkResult, error) {
	return s.resetMany(ctx, p, problemID, contestID, rejudgeAllFrom, "rejudge-all")
}

func (s *SolutionService) resetMany(ctx context.Context, p auth.Principal, problemID, contestID string, from []model.State, op string) (*BulkResult, error) {
	problem, err := s.problem(ctx, problemID)
	if err != nil {
		return nil, err
	}
	if err := auth.Authorize(ctx, s.checker, p, problemTarget(problem), auth.CapSolutionRejudge); err != nil {
		return nil, err
	}
	filter := model.BulkFilter{ProblemID: problemID, ContestID: contestID}
	n, err := s.solutions.ResetMany(ctx, filter, from, s.now())
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "%s failed", op)
	}
	logger.Info(ctx, "solutions reset",
		zap.String("op", op),
		zap.String("problem_id", problemID),
		zap.String("contest_id", contestID),
		zap.Int64("affected", n),
	)
	return &BulkResult{Affected: n}, nil
}

func (s *SolutionService) problem(ctx context.Context, id string) (*problemModel.Problem, error) {
	problem, err := s.problems.Get(ctx, id)
	if errors.Is(err, problemRepo.ErrProblemNotFound) {
		return nil, appErr.New(appErr.ProblemNotFound)
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load problem failed")
	}
	return problem, nil
}

// checkContestOpen requires the problem to belong to a contest whose current
// stage accepts solutions.
func (s *SolutionService) checkContestOpen(ctx context.Context, problem *problemModel.Problem, contestID string) error {
	if s.contests == nil {
		return appErr.New(appErr.PreconditionFailed).WithMessage("contests are not enabled")
	}
	contest, err := s.contests.Get(ctx, contestID)
	if errors.Is(err, contestRepo.ErrContestNotFound) {
		return appErr.New(appErr.ContestNotFound)
	}
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "load contest failed")
	}
	if contest.OrgID != problem.OrgID {
		return appErr.New(appErr.ContestNotFound)
	}
	listed, err := s.problems.ListContestProblems(ctx, contestID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "load contest problems failed")
	}
	if !slices.ContainsFunc(listed, func(cp problemModel.ContestProblem) bool { return cp.ProblemID == problem.ID }) {
		return appErr.New(appErr.ProblemNotFound).WithMessage("problem is not part of the contest")
	}
	if !contestModel.Evaluate(contest.Stages, s.now()).Stage.Settings.SolutionEnabled {
		return appErr.New(appErr.PreconditionFailed).WithMessage("contest does not accept solutions now")
	}
	return nil
}

func solutionObjectKey(id string) string {
	return solutionObjectPrefix + id
}

func problemObjectKey(problemID, dataHash string) string {
	return problemObjectPrefix + problemID + "/" + dataHash
}

func problemTarget(p *problemModel.Problem) auth.Target {
	return auth.Target{Kind: "problem", ID: p.ID, OrgID: p.OrgID}
}

func solutionTarget(s *model.Solution) auth.Target {
	return auth.Target{Kind: "solution", ID: s.ID, OrgID: s.OrgID}
}

// solutionError maps repository sentinels to coded errors. conflict is the
// code a lost conditional update surfaces as.
func solutionError(err error, conflict appErr.ErrorCode) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrSolutionNotFound):
		return appErr.New(appErr.SolutionNotFound)
	case errors.Is(err, repository.ErrSolutionConflict):
		if conflict.IsConflict() {
			return appErr.ConflictError(conflict, "")
		}
		return appErr.New(conflict)
	default:
		return appErr.Wrapf(err, appErr.DatabaseError, "solution store failed")
	}
}
