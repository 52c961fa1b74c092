package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"judgehub/internal/contest/model"
	contestRepo "judgehub/internal/contest/repository"
	"judgehub/internal/task"
	"judgehub/pkg/repository"

	"github.com/google/uuid"
)

// ContestStore implements contestRepo.ContestRepository.
type ContestStore struct {
	rows *table[*model.Contest]
}

func NewContestStore() *ContestStore {
	return &ContestStore{rows: newTable(func(c *model.Contest) *model.Contest {
		out := *c
		out.Stages = slices.Clone(c.Stages)
		out.Ranklists = slices.Clone(c.Ranklists)
		return &out
	})}
}

func (s *ContestStore) Create(_ context.Context, c *model.Contest) error {
	if c == nil || c.ID == "" {
		return errors.New("contest id is required")
	}
	if err := s.rows.insert(c.ID, c, nil); err != nil {
		return fmt.Errorf("contest %s: %w", c.ID, repository.ErrAlreadyExists)
	}
	return nil
}

func (s *ContestStore) Get(_ context.Context, id string) (*model.Contest, error) {
	c, _, ok := s.rows.get(id)
	if !ok {
		return nil, contestRepo.ErrContestNotFound
	}
	return c, nil
}

func byRanklistAge(a, b *model.Contest) int {
	return cmp.Or(cmp.Compare(a.RanklistUpdatedAt, b.RanklistUpdatedAt), cmp.Compare(a.ID, b.ID))
}

func (s *ContestStore) FindHeldRanklist(_ context.Context, cl task.Claimant) (*model.Contest, error) {
	c, ok := s.rows.first(func(c *model.Contest) bool {
		return c.RanklistRunnerID == cl.RunnerID && c.OrgID == cl.OrgID &&
			c.RanklistState == model.RanklistPending && c.RanklistTaskID != ""
	}, byRanklistAge)
	if !ok {
		return nil, repository.ErrNoTask
	}
	return c, nil
}

func (s *ContestStore) ClaimRanklist(_ context.Context, cl task.Claimant, taskID string) (*model.Contest, error) {
	eligible := func(c *model.Contest) bool {
		return c.OrgID == cl.OrgID && c.RanklistState == model.RanklistInvalid &&
			(c.RanklistRunnerID == "" || c.RanklistRunnerID == cl.RunnerID)
	}
	c, ok := s.rows.claim(eligible, byRanklistAge, func(c *model.Contest) *model.Contest {
		c.RanklistState = model.RanklistPending
		c.RanklistRunnerID = cl.RunnerID
		c.RanklistTaskID = taskID
		return c
	})
	if !ok {
		return nil, repository.ErrNoTask
	}
	return c, nil
}

func (s *ContestStore) GetRanklistTask(ctx context.Context, contestID, taskID, runnerID string) (*model.Contest, error) {
	c, err := s.Get(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if c.RanklistTaskID == "" || c.RanklistTaskID != taskID || c.RanklistRunnerID != runnerID {
		return nil, contestRepo.ErrContestConflict
	}
	return c, nil
}

func (s *ContestStore) CompleteRanklist(_ context.Context, contestID, taskID, runnerID string, stamp int64) (model.RanklistState, error) {
	c, err := s.write(contestID, func(c *model.Contest) error {
		if c.RanklistTaskID == "" || c.RanklistTaskID != taskID || c.RanklistRunnerID != runnerID {
			return contestRepo.ErrContestConflict
		}
		c.CompleteRanklist(stamp)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return c.RanklistState, nil
}

func (s *ContestStore) InvalidateRanklist(_ context.Context, contestID string, now int64, releaseRunner bool) (int64, error) {
	c, err := s.write(contestID, func(c *model.Contest) error {
		c.Invalidate(now, releaseRunner)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return c.RanklistUpdatedAt, nil
}

func (s *ContestStore) ListDue(_ context.Context, now int64, limit int) ([]*model.Contest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows := s.rows.scan(func(c *model.Contest) bool { return c.NextStatusUpdate <= now })
	slices.SortFunc(rows, func(a, b entry[*model.Contest]) int {
		return cmp.Or(cmp.Compare(a.doc.NextStatusUpdate, b.doc.NextStatusUpdate), cmp.Compare(a.id, b.id))
	})
	out := make([]*model.Contest, 0, min(len(rows), limit))
	for _, e := range rows[:min(len(rows), limit)] {
		out = append(out, e.doc)
	}
	return out, nil
}

func (s *ContestStore) ApplyStatus(_ context.Context, contestID string, expectVersion int64, upd model.StatusUpdate, now int64) error {
	_, err := s.write(contestID, func(c *model.Contest) error {
		if c.Version != expectVersion {
			return contestRepo.ErrContestConflict
		}
		upd.Apply(c, now)
		return nil
	})
	return err
}

func (s *ContestStore) ReplaceStages(_ context.Context, contestID string, stages []model.Stage, now int64) error {
	_, err := s.write(contestID, func(c *model.Contest) error {
		c.Stages = slices.Clone(stages)
		c.NextStatusUpdate = 0
		c.Version++
		c.Invalidate(now, false)
		return nil
	})
	return err
}

func (s *ContestStore) write(id string, fn func(*model.Contest) error) (*model.Contest, error) {
	c, err := s.rows.update(id, func(c *model.Contest) (*model.Contest, error) {
		if err := fn(c); err != nil {
			return nil, err
		}
		return c, nil
	})
	if errors.Is(err, errMissing) {
		return nil, contestRepo.ErrContestNotFound
	}
	return c, err
}

// ParticipantStore implements contestRepo.ParticipantRepository.
type ParticipantStore struct {
	rows *table[*model.Participant]
}

func NewParticipantStore() *ParticipantStore {
	return &ParticipantStore{rows: newTable(func(p *model.Participant) *model.Participant {
		out := *p
		out.Results = maps.Clone(p.Results)
		return &out
	})}
}

func (s *ParticipantStore) UpsertResult(_ context.Context, contestID, userID, problemID string, result model.ProblemResult, now int64) error {
	if contestID == "" || userID == "" || problemID == "" {
		return errors.New("contestID, userID and problemID are required")
	}
	key := contestID + "/" + userID
	for {
		_, err := s.rows.update(key, func(p *model.Participant) (*model.Participant, error) {
			if p.Results == nil {
				p.Results = make(map[string]model.ProblemResult)
			}
			if prev, ok := p.Results[problemID]; ok && !result.Replaces(prev) {
				return p, nil
			}
			p.Results[problemID] = result
			p.UpdatedAt = max(p.UpdatedAt+1, now)
			return p, nil
		})
		if !errors.Is(err, errMissing) {
			return err
		}
		fresh := &model.Participant{
			ID:        uuid.NewString(),
			ContestID: contestID,
			UserID:    userID,
			Results:   map[string]model.ProblemResult{problemID: result},
			UpdatedAt: now,
		}
		if err := s.rows.insert(key, fresh, nil); err == nil {
			return nil
		}
	}
}

func (s *ParticipantStore) ListSince(_ context.Context, contestID string, page repository.PageOptions) ([]*model.Participant, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	rows := s.rows.scan(func(p *model.Participant) bool {
		return p.ContestID == contestID && page.After(p.UpdatedAt, p.ID)
	})
	slices.SortFunc(rows, func(a, b entry[*model.Participant]) int {
		return cmp.Or(cmp.Compare(a.doc.UpdatedAt, b.doc.UpdatedAt), cmp.Compare(a.doc.ID, b.doc.ID))
	})
	out := make([]*model.Participant, 0, min(len(rows), page.Limit))
	for _, e := range rows[:min(len(rows), page.Limit)] {
		out = append(out, e.doc)
	}
	return out, nil
}
