package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	problemModel "judgehub/internal/problem/model"
	problemRepo "judgehub/internal/problem/repository"
	runnerModel "judgehub/internal/runner/model"
	runnerRepo "judgehub/internal/runner/repository"
	"judgehub/pkg/repository"
)

// Store bundles every in-memory table the coordinator needs.
type Store struct {
	Solutions    *SolutionStore
	Instances    *InstanceStore
	Contests     *ContestStore
	Participants *ParticipantStore
	Runners      *RunnerStore
	Problems     *ProblemStore
}

// New creates an empty store.
func New() *Store {
	return &Store{
		Solutions:    NewSolutionStore(),
		Instances:    NewInstanceStore(),
		Contests:     NewContestStore(),
		Participants: NewParticipantStore(),
		Runners:      NewRunnerStore(),
		Problems:     NewProblemStore(),
	}
}

// RunnerStore implements runnerRepo.RunnerRepository.
type RunnerStore struct {
	rows *table[*runnerModel.Runner]
}

func NewRunnerStore() *RunnerStore {
	return &RunnerStore{rows: newTable(func(r *runnerModel.Runner) *runnerModel.Runner {
		out := *r
		out.Labels = slices.Clone(r.Labels)
		return &out
	})}
}

func (s *RunnerStore) Create(_ context.Context, r *runnerModel.Runner) error {
	if r == nil || r.ID == "" {
		return errors.New("runner id is required")
	}
	if err := s.rows.insert(r.ID, r, nil); err != nil {
		return fmt.Errorf("runner %s: %w", r.ID, repository.ErrAlreadyExists)
	}
	return nil
}

func (s *RunnerStore) Get(_ context.Context, id string) (*runnerModel.Runner, error) {
	r, _, ok := s.rows.get(id)
	if !ok {
		return nil, runnerRepo.ErrRunnerNotFound
	}
	return r, nil
}

func (s *RunnerStore) Touch(_ context.Context, id string, now int64) error {
	_, err := s.rows.update(id, func(r *runnerModel.Runner) (*runnerModel.Runner, error) {
		r.AccessedAt = max(r.AccessedAt, now)
		return r, nil
	})
	if errors.Is(err, errMissing) {
		return nil
	}
	return err
}

// ProblemStore implements problemRepo.ProblemRepository. Problems are
// managed elsewhere; Put seeds them.
type ProblemStore struct {
	mu       sync.RWMutex
	problems map[string]problemModel.Problem
	contest  map[string][]problemModel.ContestProblem
}

func NewProblemStore() *ProblemStore {
	return &ProblemStore{
		problems: make(map[string]problemModel.Problem),
		contest:  make(map[string][]problemModel.ContestProblem),
	}
}

// Put stores p, replacing any previous version.
func (s *ProblemStore) Put(p problemModel.Problem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.problems[p.ID] = p
}

// PutContestProblem attaches a problem to a contest.
func (s *ProblemStore) PutContestProblem(cp problemModel.ContestProblem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := slices.DeleteFunc(s.contest[cp.ContestID], func(o problemModel.ContestProblem) bool {
		return o.ProblemID == cp.ProblemID
	})
	list = append(list, cp)
	slices.SortFunc(list, func(a, b problemModel.ContestProblem) int { return cmp.Compare(a.Key, b.Key) })
	s.contest[cp.ContestID] = list
}

func (s *ProblemStore) Get(_ context.Context, id string) (*problemModel.Problem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.problems[id]
	if !ok {
		return nil, problemRepo.ErrProblemNotFound
	}
	return &p, nil
}

func (s *ProblemStore) ListContestProblems(_ context.Context, contestID string) ([]problemModel.ContestProblem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.contest[contestID])
	for i := range out {
		if p, ok := s.problems[out[i].ProblemID]; ok && out[i].Title == "" {
			out[i].Title = p.Title
		}
	}
	return out, nil
}
