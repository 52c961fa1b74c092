package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"judgehub/internal/instance/model"
	instanceRepo "judgehub/internal/instance/repository"
	"judgehub/pkg/repository"
)

func newAllocating(id, problemID string, slot int) *model.Instance {
	return &model.Instance{
		ID:        id,
		OrgID:     "org",
		UserID:    "u1",
		ProblemID: problemID,
		SlotNo:    slot,
		State:     model.StateAllocating,
		TaskState: model.TaskPending,
		Label:     "instance:default",
		CreatedAt: 1,
	}
}

func TestInstanceLiveUniqueness(t *testing.T) {
	ctx := context.Background()
	store := NewInstanceStore()
	if err := store.Create(ctx, newAllocating("i1", "p1", 0)); err != nil {
		t.Fatalf("create: %v", err)
	}

	tests := []struct {
		name string
		inst *model.Instance
		err  error
	}{
		{name: "same problem", inst: newAllocating("i2", "p1", 1), err: instanceRepo.ErrInstanceExists},
		{name: "same slot", inst: newAllocating("i3", "p2", 0), err: instanceRepo.ErrInstanceExists},
		{name: "free slot and problem", inst: newAllocating("i4", "p2", 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Create(ctx, tt.inst)
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
		})
	}

	bad := newAllocating("i5", "p9", 9)
	bad.TaskState = model.TaskNone
	if err := store.Create(ctx, bad); err == nil {
		t.Fatal("allocating instance without a task must be rejected")
	}
}

func TestInstanceTransitionTable(t *testing.T) {
	tests := []struct {
		name      string
		from      model.State
		succeeded bool
		to        model.State
	}{
		{name: "allocate ok", from: model.StateAllocating, succeeded: true, to: model.StateActive},
		{name: "allocate failed", from: model.StateAllocating, succeeded: false, to: model.StateError},
		{name: "destroy ok", from: model.StateDestroying, succeeded: true, to: model.StateDestroyed},
		{name: "destroy failed", from: model.StateDestroying, succeeded: false, to: model.StateError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := NewInstanceStore()
			inst := newAllocating("i1", "p1", 0)
			inst.State = tt.from
			if err := store.Create(ctx, inst); err != nil {
				t.Fatalf("create: %v", err)
			}
			claimed, err := store.ClaimNext(ctx, claimant("r1", "instance:default"), "t1", 5, instanceRepo.ClaimOptions{})
			if err != nil {
				t.Fatalf("claim: %v", err)
			}
			if claimed.TaskState != model.TaskQueued || claimed.TaskID != "t1" {
				t.Fatalf("unexpected claim: %+v", claimed)
			}
			to, ok := model.Transition(tt.from, tt.succeeded)
			if !ok || to != tt.to {
				t.Fatalf("transition %s/%v = %s,%v", tt.from, tt.succeeded, to, ok)
			}
			err = store.CompleteTask(ctx, "i1", "t1", "r1", model.Completion{From: tt.from, To: to, Timestamp: 9})
			if err != nil {
				t.Fatalf("complete: %v", err)
			}
			got, _ := store.Get(ctx, "i1")
			if got.State != tt.to || got.TaskState != model.TaskNone || got.TaskID != "" {
				t.Fatalf("unexpected instance: %+v", got)
			}
			if got.RunnerID != "r1" {
				t.Fatalf("runner should stay attached, got %q", got.RunnerID)
			}
		})
	}

	for _, from := range []model.State{model.StateActive, model.StateError, model.StateDestroyed} {
		if _, ok := model.Transition(from, true); ok {
			t.Fatalf("completion from %s must be rejected", from)
		}
	}
}

func TestInstanceCompletionRequiresReadState(t *testing.T) {
	ctx := context.Background()
	store := NewInstanceStore()
	if err := store.Create(ctx, newAllocating("i1", "p1", 0)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.ClaimNext(ctx, claimant("r1", "instance:default"), "t1", 5, instanceRepo.ClaimOptions{}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// A destroy request lands between the runner's read and its completion.
	if err := store.RequestDestroy(ctx, "i1"); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	err := store.CompleteTask(ctx, "i1", "t1", "r1", model.Completion{From: model.StateAllocating, To: model.StateActive})
	if !errors.Is(err, instanceRepo.ErrInstanceConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// Only the hosting runner picks up the destroy task.
	if _, err := store.ClaimNext(ctx, claimant("r2", "instance:default"), "t2", 6, instanceRepo.ClaimOptions{}); !errors.Is(err, repository.ErrNoTask) {
		t.Fatalf("foreign runner should see no task, got %v", err)
	}
	claimed, err := store.ClaimNext(ctx, claimant("r1", "instance:default"), "t3", 6, instanceRepo.ClaimOptions{})
	if err != nil || claimed.State != model.StateDestroying {
		t.Fatalf("expected destroy task for r1, got %+v, %v", claimed, err)
	}

	msg := "tearing down"
	if err := store.Patch(ctx, "i1", "t3", "r1", &msg); err != nil {
		t.Fatalf("patch: %v", err)
	}
	got, _ := store.Get(ctx, "i1")
	if got.TaskState != model.TaskInProgress || got.Message != msg {
		t.Fatalf("unexpected patched instance: %+v", got)
	}

	if err := store.RequestDestroy(ctx, "i1"); !errors.Is(err, instanceRepo.ErrInstanceConflict) {
		t.Fatalf("second destroy should conflict, got %v", err)
	}
}

func TestInstanceClaimAtMostOnce(t *testing.T) {
	store := NewInstanceStore()
	if err := store.Create(context.Background(), newAllocating("i1", "p1", 0)); err != nil {
		t.Fatalf("create: %v", err)
	}

	const runners = 16
	var wg sync.WaitGroup
	wins := make(chan string, runners)
	for i := 0; i < runners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("r%d", i)
			inst, err := store.ClaimNext(context.Background(), claimant(id, "instance:default"), "task-"+id, 10, instanceRepo.ClaimOptions{})
			if err == nil {
				wins <- inst.RunnerID
				return
			}
			if !errors.Is(err, repository.ErrNoTask) {
				t.Errorf("claim: %v", err)
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one claim, got %v", winners)
	}
	got, _ := store.Get(context.Background(), "i1")
	if got.TaskState != model.TaskQueued || got.RunnerID != winners[0] || got.TaskID != "task-"+winners[0] {
		t.Fatalf("unexpected stored instance: %+v", got)
	}
}

func TestInstanceFindHeldReturnsSameTask(t *testing.T) {
	ctx := context.Background()
	store := NewInstanceStore()
	if err := store.Create(ctx, newAllocating("i1", "p1", 0)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.FindHeld(ctx, claimant("r1", "instance:default")); !errors.Is(err, repository.ErrNoTask) {
		t.Fatalf("nothing held yet, got %v", err)
	}
	claimed, err := store.ClaimNext(ctx, claimant("r1", "instance:default"), "t1", 5, instanceRepo.ClaimOptions{})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	for i := 0; i < 3; i++ {
		held, err := store.FindHeld(ctx, claimant("r1", "instance:default"))
		if err != nil || held.ID != claimed.ID || held.TaskID != "t1" {
			t.Fatalf("find held %d: %+v, %v", i, held, err)
		}
	}
	if _, err := store.FindHeld(ctx, claimant("r2", "instance:default")); !errors.Is(err, repository.ErrNoTask) {
		t.Fatalf("other runner holds nothing, got %v", err)
	}

	msg := "booting"
	if err := store.Patch(ctx, "i1", "t1", "r1", &msg); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if _, err := store.FindHeld(ctx, claimant("r1", "instance:default")); !errors.Is(err, repository.ErrNoTask) {
		t.Fatalf("in-progress task is not handed out again, got %v", err)
	}
}

func TestInstanceClaimTTL(t *testing.T) {
	ctx := context.Background()
	store := NewInstanceStore()
	if err := store.Create(ctx, newAllocating("i1", "p1", 0)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.ClaimNext(ctx, claimant("r1", "instance:default"), "t1", 100, instanceRepo.ClaimOptions{}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if _, err := store.ClaimNext(ctx, claimant("r2", "instance:default"), "t2", 200, instanceRepo.ClaimOptions{}); !errors.Is(err, repository.ErrNoTask) {
		t.Fatalf("base protocol never reclaims, got %v", err)
	}
	if _, err := store.ClaimNext(ctx, claimant("r2", "instance:default"), "t2", 200, instanceRepo.ClaimOptions{StaleBefore: 100}); !errors.Is(err, repository.ErrNoTask) {
		t.Fatalf("claim at the deadline is still live, got %v", err)
	}
	got, err := store.ClaimNext(ctx, claimant("r2", "instance:default"), "t2", 200, instanceRepo.ClaimOptions{StaleBefore: 101})
	if err != nil || got.RunnerID != "r2" || got.TaskID != "t2" || got.TaskClaimedAt != 200 {
		t.Fatalf("expected stale claim to move to r2, got %+v, %v", got, err)
	}
	if err := store.Patch(ctx, "i1", "t1", "r1", nil); !errors.Is(err, instanceRepo.ErrInstanceConflict) {
		t.Fatalf("old holder must be fenced, got %v", err)
	}
	err = store.CompleteTask(ctx, "i1", "t1", "r1", model.Completion{From: model.StateAllocating, To: model.StateActive})
	if !errors.Is(err, instanceRepo.ErrInstanceConflict) {
		t.Fatalf("old holder cannot complete, got %v", err)
	}
}
