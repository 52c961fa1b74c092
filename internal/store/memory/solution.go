package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"judgehub/internal/solution/model"
	solutionRepo "judgehub/internal/solution/repository"
	"judgehub/internal/task"
	"judgehub/pkg/repository"
)

// SolutionStore implements solutionRepo.SolutionRepository.
type SolutionStore struct {
	rows *table[*model.Solution]
}

func NewSolutionStore() *SolutionStore {
	return &SolutionStore{rows: newTable(cloneSolution)}
}

func cloneSolution(s *model.Solution) *model.Solution {
	c := *s
	c.Metrics = maps.Clone(s.Metrics)
	return &c
}

func bySubmission(a, b *model.Solution) int {
	return cmp.Or(cmp.Compare(a.SubmittedAt, b.SubmittedAt), cmp.Compare(a.ID, b.ID))
}

func (s *SolutionStore) Create(_ context.Context, sol *model.Solution) error {
	if sol == nil || sol.ID == "" {
		return errors.New("solution id is required")
	}
	if err := s.rows.insert(sol.ID, sol, nil); err != nil {
		return fmt.Errorf("solution %s: %w", sol.ID, repository.ErrAlreadyExists)
	}
	return nil
}

func (s *SolutionStore) Get(_ context.Context, id string) (*model.Solution, error) {
	sol, _, ok := s.rows.get(id)
	if !ok {
		return nil, solutionRepo.ErrSolutionNotFound
	}
	return sol, nil
}

func (s *SolutionStore) Submit(_ context.Context, id, userID string, now int64) error {
	return s.write(id, func(sol *model.Solution) error {
		if sol.UserID != userID || sol.State != model.StateCreated {
			return solutionRepo.ErrSolutionConflict
		}
		sol.Reset(now)
		return nil
	})
}

func (s *SolutionStore) Rejudge(_ context.Context, id string, now int64) error {
	return s.write(id, func(sol *model.Solution) error {
		if sol.State == model.StateCreated {
			return solutionRepo.ErrSolutionConflict
		}
		sol.Reset(now)
		return nil
	})
}

func (s *SolutionStore) ResetMany(_ context.Context, filter model.BulkFilter, from []model.State, now int64) (int64, error) {
	if filter.ProblemID == "" {
		return 0, errors.New("problemID is required")
	}
	selected := func(sol *model.Solution) bool {
		return filter.Matches(sol) && slices.Contains(from, sol.State)
	}
	var n int64
	for _, e := range s.rows.scan(selected) {
		err := s.write(e.id, func(sol *model.Solution) error {
			if !selected(sol) {
				return solutionRepo.ErrSolutionConflict
			}
			sol.Reset(now)
			return nil
		})
		if err == nil {
			n++
		}
	}
	return n, nil
}

func (s *SolutionStore) FindHeld(_ context.Context, c task.Claimant) (*model.Solution, error) {
	sol, ok := s.rows.first(func(sol *model.Solution) bool {
		return sol.RunnerID == c.RunnerID && sol.OrgID == c.OrgID && sol.State == model.StateQueued && sol.TaskID != "" &&
			sol.ProblemDataHash != ""
	}, func(a, b *model.Solution) int {
		return cmp.Or(cmp.Compare(a.ClaimedAt, b.ClaimedAt), cmp.Compare(a.ID, b.ID))
	})
	if !ok {
		return nil, repository.ErrNoTask
	}
	return sol, nil
}

func (s *SolutionStore) ClaimNext(_ context.Context, c task.Claimant, taskID string, now int64, opts solutionRepo.ClaimOptions) (*model.Solution, error) {
	eligible := func(sol *model.Solution) bool {
		if sol.OrgID != c.OrgID || sol.ProblemDataHash == "" || !c.HasLabel(sol.Label) {
			return false
		}
		if sol.State == model.StatePending && (sol.RunnerID == "" || sol.RunnerID == c.RunnerID) {
			return true
		}
		return opts.StaleBefore > 0 && sol.State.Held() && sol.ClaimedAt < opts.StaleBefore
	}
	sol, ok := s.rows.claim(eligible, bySubmission, func(sol *model.Solution) *model.Solution {
		sol.State = model.StateQueued
		sol.RunnerID = c.RunnerID
		sol.TaskID = taskID
		sol.ClaimedAt = now
		return sol
	})
	if !ok {
		return nil, repository.ErrNoTask
	}
	return sol, nil
}

func (s *SolutionStore) Release(_ context.Context, id, taskID, runnerID string) error {
	return s.write(id, func(sol *model.Solution) error {
		if sol.State != model.StateQueued || !heldBy(sol, taskID, runnerID) {
			return solutionRepo.ErrSolutionConflict
		}
		sol.State = model.StatePending
		sol.TaskID = ""
		sol.RunnerID = ""
		sol.ClaimedAt = 0
		return nil
	})
}

func (s *SolutionStore) Patch(_ context.Context, id, taskID, runnerID string, p model.Patch) error {
	return s.write(id, func(sol *model.Solution) error {
		if !heldBy(sol, taskID, runnerID) {
			return solutionRepo.ErrSolutionConflict
		}
		p.Apply(sol)
		sol.State = model.StateRunning
		return nil
	})
}

func (s *SolutionStore) Complete(_ context.Context, id, taskID, runnerID string, now int64) (*model.Solution, error) {
	out, err := s.rows.update(id, func(sol *model.Solution) (*model.Solution, error) {
		if !heldBy(sol, taskID, runnerID) {
			return nil, solutionRepo.ErrSolutionConflict
		}
		sol.State = model.StateCompleted
		sol.CompletedAt = now
		sol.TaskID = ""
		sol.RunnerID = ""
		sol.ClaimedAt = 0
		return sol, nil
	})
	if errors.Is(err, errMissing) {
		return nil, solutionRepo.ErrSolutionNotFound
	}
	return out, err
}

func (s *SolutionStore) ListCompletedSince(_ context.Context, contestID string, page repository.PageOptions) ([]*model.Solution, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	rows := s.rows.scan(func(sol *model.Solution) bool {
		return sol.ContestID == contestID && sol.State == model.StateCompleted && page.After(sol.CompletedAt, sol.ID)
	})
	slices.SortFunc(rows, func(a, b entry[*model.Solution]) int {
		return cmp.Or(cmp.Compare(a.doc.CompletedAt, b.doc.CompletedAt), cmp.Compare(a.id, b.id))
	})
	out := make([]*model.Solution, 0, min(len(rows), page.Limit))
	for _, e := range rows[:min(len(rows), page.Limit)] {
		out = append(out, e.doc)
	}
	return out, nil
}

func (s *SolutionStore) write(id string, fn func(*model.Solution) error) error {
	_, err := s.rows.update(id, func(sol *model.Solution) (*model.Solution, error) {
		if err := fn(sol); err != nil {
			return nil, err
		}
		return sol, nil
	})
	if errors.Is(err, errMissing) {
		return solutionRepo.ErrSolutionNotFound
	}
	return err
}

func heldBy(sol *model.Solution, taskID, runnerID string) bool {
	return sol.TaskID != "" && sol.TaskID == taskID && sol.RunnerID == runnerID && sol.State.Held()
}
