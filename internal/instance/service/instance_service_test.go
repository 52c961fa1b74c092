package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"judgehub/internal/auth"
	contestModel "judgehub/internal/contest/model"
	"judgehub/internal/instance/model"
	problemModel "judgehub/internal/problem/model"
	runnerModel "judgehub/internal/runner/model"
	"judgehub/internal/store/memory"
	appErr "judgehub/pkg/errors"
)

var (
	owner   = auth.Principal{UserID: "u1", OrgID: "org", Caps: auth.CapSolutionSubmit}
	manager = auth.Principal{UserID: "ops", OrgID: "org", Caps: auth.CapInstanceManage}
)

func newService(t *testing.T) (*InstanceService, *memory.Store) {
	t.Helper()
	return newServiceAt(t, func() int64 { return 42 }, 0)
}

func newServiceAt(t *testing.T, now func() int64, claimTTL time.Duration) (*InstanceService, *memory.Store) {
	t.Helper()
	store := memory.New()
	store.Problems.Put(problemModel.Problem{ID: "p1", OrgID: "org", InstanceLabel: "instance:gpu"})
	store.Problems.Put(problemModel.Problem{ID: "p2", OrgID: "org"})
	store.Problems.PutContestProblem(problemModel.ContestProblem{ContestID: "c1", ProblemID: "p1", Key: "A"})
	for _, c := range []*contestModel.Contest{{ID: "c1", OrgID: "org"}, {ID: "foreign", OrgID: "other"}} {
		if err := store.Contests.Create(context.Background(), c); err != nil {
			t.Fatalf("seed contest: %v", err)
		}
	}
	svc, err := NewInstanceService(store.Instances, store.Problems, store.Contests, auth.TokenChecker{}, nil, now, claimTTL)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store
}

func host(id string, labels ...string) *runnerModel.Runner {
	return &runnerModel.Runner{ID: id, OrgID: "org", Labels: labels}
}

func succeeded(ok bool) CompleteInput {
	return CompleteInput{Succeeded: &ok}
}

func TestInstanceAllocateAndDestroy(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	inst, err := svc.Create(ctx, owner, CreateInput{ProblemID: "p1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inst.Label != "instance:gpu" || inst.State != model.StateAllocating || inst.TaskState != model.TaskPending {
		t.Fatalf("unexpected instance: %+v", inst)
	}
	if _, err := svc.Create(ctx, owner, CreateInput{ProblemID: "p1", SlotNo: 1}); appErr.GetCode(err) != appErr.InstanceAlreadyExists {
		t.Fatalf("second live instance of a problem must be rejected, got %v", err)
	}

	if tk, err := svc.Poll(ctx, host("R1", "cpp", "instance:default")); err != nil || tk != nil {
		t.Fatalf("wrong pool should see no task: %+v, %v", tk, err)
	}
	tk, err := svc.Poll(ctx, host("R1", "instance:gpu"))
	if err != nil || tk == nil || tk.InstanceID != inst.ID || tk.State != model.StateAllocating {
		t.Fatalf("poll: %+v, %v", tk, err)
	}
	msg := "pulling image"
	if err := svc.Patch(ctx, host("R1"), inst.ID, tk.TaskID, PatchInput{Message: &msg}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if err := svc.Complete(ctx, host("R1"), inst.ID, tk.TaskID, succeeded(true)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err := svc.Get(ctx, owner, inst.ID)
	if err != nil || got.State != model.StateActive || got.ActivatedAt != 42 || got.Message != msg {
		t.Fatalf("unexpected active instance: %+v, %v", got, err)
	}

	if err := svc.Destroy(ctx, auth.Principal{UserID: "u2", OrgID: "org"}, inst.ID); appErr.GetCode(err) != appErr.InsufficientPermission {
		t.Fatalf("stranger cannot destroy, got %v", err)
	}
	if err := svc.Destroy(ctx, manager, inst.ID); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if err := svc.Destroy(ctx, owner, inst.ID); appErr.GetCode(err) != appErr.InstanceTransitionDenied {
		t.Fatalf("second destroy should be denied, got %v", err)
	}
	if tk, _ := svc.Poll(ctx, host("R2", "instance:gpu")); tk != nil {
		t.Fatalf("destroy task belongs to the hosting runner, R2 got %+v", tk)
	}
	tk, err = svc.Poll(ctx, host("R1", "instance:gpu"))
	if err != nil || tk == nil || tk.State != model.StateDestroying {
		t.Fatalf("destroy poll: %+v, %v", tk, err)
	}
	if err := svc.Complete(ctx, host("R1"), inst.ID, tk.TaskID, succeeded(true)); err != nil {
		t.Fatalf("destroy complete: %v", err)
	}
	got, _ = svc.Get(ctx, owner, inst.ID)
	if got.State != model.StateDestroyed || got.DestroyedAt != 42 {
		t.Fatalf("unexpected destroyed instance: %+v", got)
	}

	if _, err := svc.Create(ctx, owner, CreateInput{ProblemID: "p1"}); err != nil {
		t.Fatalf("destroyed instance frees the problem: %v", err)
	}
}

func TestInstanceCompletionConflicts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	inst, err := svc.Create(ctx, owner, CreateInput{ProblemID: "p2"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inst.Label != problemModel.DefaultInstanceLabel {
		t.Fatalf("expected default pool, got %q", inst.Label)
	}
	tk, err := svc.Poll(ctx, host("R1", problemModel.DefaultInstanceLabel))
	if err != nil || tk == nil {
		t.Fatalf("poll: %+v, %v", tk, err)
	}

	tests := []struct {
		name   string
		runner string
		taskID string
		code   appErr.ErrorCode
	}{
		{name: "foreign runner", runner: "R2", taskID: tk.TaskID, code: appErr.TaskConflict},
		{name: "stale task id", runner: "R1", taskID: "old", code: appErr.TaskConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Complete(ctx, host(tt.runner), inst.ID, tt.taskID, succeeded(true))
			if appErr.GetCode(err) != tt.code {
				t.Fatalf("expected %d, got %v", tt.code, err)
			}
		})
	}

	if err := svc.Complete(ctx, host("R1"), inst.ID, tk.TaskID, succeeded(false)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ := svc.Get(ctx, owner, inst.ID)
	if got.State != model.StateError {
		t.Fatalf("failed allocation should end in ERROR, got %s", got.State)
	}
	if err := svc.Complete(ctx, host("R1"), inst.ID, tk.TaskID, succeeded(true)); appErr.GetCode(err) != appErr.TaskConflict {
		t.Fatalf("settled task cannot complete twice, got %v", err)
	}
	if err := svc.Complete(ctx, host("R1"), "missing", "t", succeeded(true)); appErr.GetCode(err) != appErr.InstanceNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInstanceCreateChecksContest(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	tests := []struct {
		name  string
		input CreateInput
		code  appErr.ErrorCode
	}{
		{name: "unknown contest", input: CreateInput{ProblemID: "p1", ContestID: "nonexistent-0"}, code: appErr.ContestNotFound},
		{name: "contest of another org", input: CreateInput{ProblemID: "p1", ContestID: "foreign"}, code: appErr.ContestNotFound},
		{name: "problem not in contest", input: CreateInput{ProblemID: "p2", ContestID: "c1"}, code: appErr.ProblemNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, owner, tt.input); appErr.GetCode(err) != tt.code {
				t.Fatalf("expected %d, got %v", tt.code, err)
			}
		})
	}

	for i := 0; i < 5; i++ {
		input := CreateInput{ProblemID: "p1", ContestID: fmt.Sprintf("nonexistent-%d", i), SlotNo: i}
		if _, err := svc.Create(ctx, owner, input); err == nil {
			t.Fatalf("made-up contest %s must be rejected", input.ContestID)
		}
	}
	inst, err := svc.Create(ctx, owner, CreateInput{ProblemID: "p1", ContestID: "c1"})
	if err != nil || inst.ContestID != "c1" {
		t.Fatalf("listed problem: %+v, %v", inst, err)
	}
	if _, err := svc.Create(ctx, owner, CreateInput{ProblemID: "p1", ContestID: "c1", SlotNo: 1}); appErr.GetCode(err) != appErr.InstanceAlreadyExists {
		t.Fatalf("second live instance in the contest must be rejected, got %v", err)
	}
	if tk, err := svc.Poll(ctx, host("R1", "instance:gpu")); err != nil || tk == nil || tk.InstanceID != inst.ID {
		t.Fatalf("only the valid instance is queued: %+v, %v", tk, err)
	}

	bare, _ := NewInstanceService(store.Instances, store.Problems, nil, auth.TokenChecker{}, nil, nil, 0)
	if _, err := bare.Create(ctx, owner, CreateInput{ProblemID: "p2", ContestID: "c1"}); appErr.GetCode(err) != appErr.PreconditionFailed {
		t.Fatalf("contest instances need a contest store, got %v", err)
	}
}

func TestInstancePollRepeatsHeldTask(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	inst, err := svc.Create(ctx, owner, CreateInput{ProblemID: "p2"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := svc.Poll(ctx, host("R1", problemModel.DefaultInstanceLabel))
	if err != nil || first == nil || first.InstanceID != inst.ID {
		t.Fatalf("poll: %+v, %v", first, err)
	}
	for i := 0; i < 3; i++ {
		again, err := svc.Poll(ctx, host("R1", problemModel.DefaultInstanceLabel))
		if err != nil || again == nil || again.TaskID != first.TaskID {
			t.Fatalf("re-poll %d should return the held task, got %+v, %v", i, again, err)
		}
	}
	if other, err := svc.Poll(ctx, host("R2", problemModel.DefaultInstanceLabel)); err != nil || other != nil {
		t.Fatalf("other runner should see no task, got %+v, %v", other, err)
	}
}

func TestInstanceClaimTTL(t *testing.T) {
	ctx := context.Background()
	now := int64(1_000)
	svc, _ := newServiceAt(t, func() int64 { return now }, time.Second)
	inst, err := svc.Create(ctx, owner, CreateInput{ProblemID: "p2"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	first, err := svc.Poll(ctx, host("R1", problemModel.DefaultInstanceLabel))
	if err != nil || first == nil {
		t.Fatalf("poll: %+v, %v", first, err)
	}

	now += 1_000
	if tk, err := svc.Poll(ctx, host("R2", problemModel.DefaultInstanceLabel)); err != nil || tk != nil {
		t.Fatalf("claim at the deadline is still live, got %+v, %v", tk, err)
	}
	now++
	second, err := svc.Poll(ctx, host("R2", problemModel.DefaultInstanceLabel))
	if err != nil || second == nil || second.InstanceID != inst.ID || second.TaskID == first.TaskID {
		t.Fatalf("stale claim should move to R2 under a fresh task, got %+v, %v", second, err)
	}
	if err := svc.Complete(ctx, host("R1"), inst.ID, first.TaskID, succeeded(true)); appErr.GetCode(err) != appErr.TaskConflict {
		t.Fatalf("old holder must be fenced, got %v", err)
	}
	if err := svc.Complete(ctx, host("R2"), inst.ID, second.TaskID, succeeded(true)); err != nil {
		t.Fatalf("new holder complete: %v", err)
	}
}
