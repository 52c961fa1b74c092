package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"

	"judgehub/internal/instance/model"
	instanceRepo "judgehub/internal/instance/repository"
	"judgehub/internal/task"
	"judgehub/pkg/repository"
)

// InstanceStore implements instanceRepo.InstanceRepository.
type InstanceStore struct {
	rows *table[*model.Instance]
}

func NewInstanceStore() *InstanceStore {
	return &InstanceStore{rows: newTable(func(i *model.Instance) *model.Instance {
		c := *i
		return &c
	})}
}

func (s *InstanceStore) Create(_ context.Context, inst *model.Instance) error {
	if inst == nil || inst.ID == "" {
		return errors.New("instance id is required")
	}
	if err := inst.Validate(); err != nil {
		return err
	}
	occupied := func(o *model.Instance) bool {
		if !inst.State.Live() || !o.State.Live() {
			return false
		}
		if o.OrgID != inst.OrgID || o.UserID != inst.UserID || o.ContestID != inst.ContestID {
			return false
		}
		return o.ProblemID == inst.ProblemID || o.SlotNo == inst.SlotNo
	}
	if err := s.rows.insert(inst.ID, inst, occupied); err != nil {
		return instanceRepo.ErrInstanceExists
	}
	return nil
}

func (s *InstanceStore) Get(_ context.Context, id string) (*model.Instance, error) {
	inst, _, ok := s.rows.get(id)
	if !ok {
		return nil, instanceRepo.ErrInstanceNotFound
	}
	return inst, nil
}

func (s *InstanceStore) FindHeld(_ context.Context, c task.Claimant) (*model.Instance, error) {
	inst, ok := s.rows.first(func(i *model.Instance) bool {
		return i.RunnerID == c.RunnerID && i.OrgID == c.OrgID && i.TaskState == model.TaskQueued && i.TaskID != ""
	}, func(a, b *model.Instance) int {
		return cmp.Or(cmp.Compare(a.TaskClaimedAt, b.TaskClaimedAt), cmp.Compare(a.ID, b.ID))
	})
	if !ok {
		return nil, repository.ErrNoTask
	}
	return inst, nil
}

func (s *InstanceStore) ClaimNext(_ context.Context, c task.Claimant, taskID string, now int64, opts instanceRepo.ClaimOptions) (*model.Instance, error) {
	eligible := func(i *model.Instance) bool {
		if i.OrgID != c.OrgID || !c.HasLabel(i.Label) {
			return false
		}
		if i.TaskState == model.TaskPending && (i.RunnerID == "" || i.RunnerID == c.RunnerID) {
			return true
		}
		inFlight := i.TaskState == model.TaskQueued || i.TaskState == model.TaskInProgress
		return opts.StaleBefore > 0 && inFlight && i.TaskClaimedAt < opts.StaleBefore
	}
	inst, ok := s.rows.claim(eligible, func(a, b *model.Instance) int {
		return cmp.Or(cmp.Compare(a.CreatedAt, b.CreatedAt), cmp.Compare(a.ID, b.ID))
	}, func(i *model.Instance) *model.Instance {
		i.TaskState = model.TaskQueued
		i.RunnerID = c.RunnerID
		i.TaskID = taskID
		i.TaskClaimedAt = now
		return i
	})
	if !ok {
		return nil, repository.ErrNoTask
	}
	return inst, nil
}

func (s *InstanceStore) Patch(_ context.Context, id, taskID, runnerID string, message *string) error {
	return s.write(id, func(i *model.Instance) error {
		inFlight := i.TaskState == model.TaskQueued || i.TaskState == model.TaskInProgress
		if i.TaskID == "" || i.TaskID != taskID || i.RunnerID != runnerID || i.State == model.StateDestroyed || !inFlight {
			return instanceRepo.ErrInstanceConflict
		}
		i.TaskState = model.TaskInProgress
		if message != nil {
			i.Message = *message
		}
		return nil
	})
}

func (s *InstanceStore) CompleteTask(_ context.Context, id, taskID, runnerID string, c model.Completion) error {
	if !model.ValidPair(c.To, model.TaskNone) {
		return fmt.Errorf("completion target %s cannot settle a task", c.To)
	}
	return s.write(id, func(i *model.Instance) error {
		if i.TaskID == "" || i.TaskID != taskID || i.RunnerID != runnerID || i.State != c.From {
			return instanceRepo.ErrInstanceConflict
		}
		c.Apply(i)
		return nil
	})
}

func (s *InstanceStore) RequestDestroy(_ context.Context, id string) error {
	return s.write(id, func(i *model.Instance) error {
		if !model.CanDestroy(i.State) {
			return instanceRepo.ErrInstanceConflict
		}
		i.State = model.StateDestroying
		i.TaskState = model.TaskPending
		i.TaskID = ""
		i.TaskClaimedAt = 0
		return nil
	})
}

func (s *InstanceStore) write(id string, fn func(*model.Instance) error) error {
	_, err := s.rows.update(id, func(i *model.Instance) (*model.Instance, error) {
		if err := fn(i); err != nil {
			return nil, err
		}
		if err := i.Validate(); err != nil {
			return nil, err
		}
		return i, nil
	})
	if errors.Is(err, errMissing) {
		return instanceRepo.ErrInstanceNotFound
	}
	return err
}
