package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"judgehub/internal/auth"
	"judgehub/internal/common/metrics"
	contestRepo "judgehub/internal/contest/repository"
	"judgehub/internal/instance/model"
	"judgehub/internal/instance/repository"
	problemModel "judgehub/internal/problem/model"
	problemRepo "judgehub/internal/problem/repository"
	runnerModel "judgehub/internal/runner/model"
	"judgehub/internal/task"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InstanceService drives the instance lifecycle state machine.
type InstanceService struct {
	instances repository.InstanceRepository
	problems  problemRepo.ProblemRepository
	contests  contestRepo.ContestRepository
	checker   auth.Checker
	metrics   *metrics.Metrics
	now       task.Clock
	claimTTL  time.Duration
}

// NewInstanceService creates a new InstanceService. contests may be nil, in
// which case contest-scoped instances are refused. claimTTL of zero keeps
// claimed tasks with their runner until completion.
func NewInstanceService(instances repository.InstanceRepository, problems problemRepo.ProblemRepository, contests contestRepo.ContestRepository, checker auth.Checker, m *metrics.Metrics, now task.Clock, claimTTL time.Duration) (*InstanceService, error) {
	if instances == nil || problems == nil {
		return nil, fmt.Errorf("instance and problem repositories are required")
	}
	if checker == nil {
		return nil, fmt.Errorf("capability checker is required")
	}
	if now == nil {
		now = task.SystemClock
	}
	return &InstanceService{
		instances: instances,
		problems:  problems,
		contests:  contests,
		checker:   checker,
		metrics:   m,
		now:       now,
		claimTTL:  claimTTL,
	}, nil
}

// CreateInput requests a sandbox for a problem.
type CreateInput struct {
	ProblemID string `json:"problemId" validate:"required,max=64"`
	ContestID string `json:"contestId" validate:"omitempty,max=64"`
	SlotNo    int    `json:"slotNo" validate:"gte=0,lte=64"`
}

// CompleteInput is the runner-reported task outcome.
type CompleteInput struct {
	Succeeded *bool   `json:"succeeded" validate:"required"`
	Message   *string `json:"message" validate:"omitempty,max=65535"`
}

// PatchInput is the runner-writable progress of an instance task.
type PatchInput struct {
	Message *string `json:"message" validate:"omitempty,max=65535"`
}

// Create allocates a live instance for the caller.
func (s *InstanceService) Create(ctx context.Context, p auth.Principal, input CreateInput) (*model.Instance, error) {
	problem, err := s.problems.Get(ctx, input.ProblemID)
	if errors.Is(err, problemRepo.ErrProblemNotFound) {
		return nil, appErr.New(appErr.ProblemNotFound)
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load problem failed")
	}
	target := auth.Target{Kind: "problem", ID: problem.ID, OrgID: problem.OrgID}
	if err := auth.Authorize(ctx, s.checker, p, target, auth.CapSolutionSubmit); err != nil {
		return nil, err
	}
	if input.ContestID != "" {
		if err := s.checkContestProblem(ctx, problem, input.ContestID); err != nil {
			return nil, err
		}
	}

	inst := &model.Instance{
		ID:        uuid.NewString(),
		OrgID:     problem.OrgID,
		UserID:    p.UserID,
		ProblemID: problem.ID,
		ContestID: input.ContestID,
		SlotNo:    input.SlotNo,
		State:     model.StateAllocating,
		TaskState: model.TaskPending,
		Label:     problem.InstancePool(),
		CreatedAt: s.now(),
	}
	if err := s.instances.Create(ctx, inst); err != nil {
		if errors.Is(err, repository.ErrInstanceExists) {
			return nil, appErr.New(appErr.InstanceAlreadyExists)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "create instance failed")
	}
	logger.Info(ctx, "instance requested",
		zap.String("instance_id", inst.ID),
		zap.String("problem_id", inst.ProblemID),
		zap.String("contest_id", inst.ContestID),
		zap.Int("slot_no", inst.SlotNo),
	)
	return inst, nil
}

// checkContestProblem requires contestID to name a contest of the problem's
// org that lists the problem.
func (s *InstanceService) checkContestProblem(ctx context.Context, problem *problemModel.Problem, contestID string) error {
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
	return nil
}

// Get returns an instance to its owner or an instance manager.
func (s *InstanceService) Get(ctx context.Context, p auth.Principal, id string) (*model.Instance, error) {
	inst, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOwner(ctx, p, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// Destroy queues teardown. Destroying an instance already on its way out is a conflict.
func (s *InstanceService) Destroy(ctx context.Context, p auth.Principal, id string) error {
	inst, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorizeOwner(ctx, p, inst); err != nil {
		return err
	}
	if !model.CanDestroy(inst.State) {
		return appErr.New(appErr.InstanceTransitionDenied).WithDetail("state", inst.State.String())
	}
	if err := s.instances.RequestDestroy(ctx, id); err != nil {
		return instanceError(err, appErr.InstanceTransitionDenied)
	}
	logger.Info(ctx, "instance destroy requested", zap.String("instance_id", id), zap.String("runner_id", inst.RunnerID))
	return nil
}

// Poll claims one pending instance task for the runner's instance pools.
func (s *InstanceService) Poll(ctx context.Context, runner *runnerModel.Runner) (*model.Task, error) {
	claimant := runner.Claimant()
	claimant.Labels = slices.DeleteFunc(claimant.Labels, func(l string) bool {
		return !strings.HasPrefix(l, runnerModel.InstanceLabelPrefix)
	})
	if len(claimant.Labels) == 0 {
		s.metrics.Poll(metrics.KindInstance, string(task.OutcomeEmpty))
		return nil, nil
	}

	now := s.now()
	src := claimSource{repo: s.instances}
	if s.claimTTL > 0 {
		src.opts.StaleBefore = now - s.claimTTL.Milliseconds()
	}
	inst, outcome, err := task.Poll[*model.Instance](ctx, src, claimant, now)
	if err != nil {
		s.metrics.Poll(metrics.KindInstance, "error")
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "claim instance failed")
	}
	s.metrics.Poll(metrics.KindInstance, string(outcome))
	if inst == nil {
		return nil, nil
	}
	return &model.Task{
		TaskID:     inst.TaskID,
		InstanceID: inst.ID,
		State:      inst.State,
		Label:      inst.Label,
		UserID:     inst.UserID,
		ProblemID:  inst.ProblemID,
		ContestID:  inst.ContestID,
		SlotNo:     inst.SlotNo,
	}, nil
}

// Patch marks the held task in progress.
func (s *InstanceService) Patch(ctx context.Context, runner *runnerModel.Runner, id, taskID string, input PatchInput) error {
	err := instanceError(s.instances.Patch(ctx, id, taskID, runner.ID, input.Message), appErr.TaskConflict)
	s.metrics.TaskUpdate(metrics.KindInstance, "patch", err)
	return err
}

// Complete applies the task outcome to the state the runner was working on.
func (s *InstanceService) Complete(ctx context.Context, runner *runnerModel.Runner, id, taskID string, input CompleteInput) error {
	err := s.complete(ctx, runner, id, taskID, input)
	s.metrics.TaskUpdate(metrics.KindInstance, "complete", err)
	return err
}

func (s *InstanceService) complete(ctx context.Context, runner *runnerModel.Runner, id, taskID string, input CompleteInput) error {
	inst, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if inst.TaskID == "" || inst.TaskID != taskID || inst.RunnerID != runner.ID {
		return appErr.ConflictError(appErr.TaskConflict, "")
	}
	to, ok := model.Transition(inst.State, *input.Succeeded)
	if !ok {
		return appErr.New(appErr.InstanceTransitionDenied).WithDetail("state", inst.State.String())
	}
	c := model.Completion{From: inst.State, To: to, Message: inst.Message, Timestamp: s.now()}
	if input.Message != nil {
		c.Message = *input.Message
	}
	if err := s.instances.CompleteTask(ctx, id, taskID, runner.ID, c); err != nil {
		return instanceError(err, appErr.TaskConflict)
	}
	logger.Info(ctx, "instance task completed",
		zap.String("instance_id", id),
		zap.Stringer("from", c.From),
		zap.Stringer("to", c.To),
	)
	return nil
}

func (s *InstanceService) load(ctx context.Context, id string) (*model.Instance, error) {
	inst, err := s.instances.Get(ctx, id)
	if err != nil {
		return nil, instanceError(err, appErr.Conflict)
	}
	return inst, nil
}

func (s *InstanceService) authorizeOwner(ctx context.Context, p auth.Principal, inst *model.Instance) error {
	if inst.UserID == p.UserID && inst.OrgID == p.OrgID {
		return nil
	}
	target := auth.Target{Kind: "instance", ID: inst.ID, OrgID: inst.OrgID}
	return auth.Authorize(ctx, s.checker, p, target, auth.CapInstanceManage)
}

type claimSource struct {
	repo repository.InstanceRepository
	opts repository.ClaimOptions
}

func (c claimSource) FindHeld(ctx context.Context, cl task.Claimant) (*model.Instance, error) {
	return c.repo.FindHeld(ctx, cl)
}

func (c claimSource) ClaimNext(ctx context.Context, cl task.Claimant, taskID string, now int64) (*model.Instance, error) {
	return c.repo.ClaimNext(ctx, cl, taskID, now, c.opts)
}

func instanceError(err error, conflict appErr.ErrorCode) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrInstanceNotFound):
		return appErr.New(appErr.InstanceNotFound)
	case errors.Is(err, repository.ErrInstanceConflict):
		return appErr.ConflictError(conflict, "")
	default:
		return appErr.Wrapf(err, appErr.DatabaseError, "instance store failed")
	}
}
