package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"judgehub/internal/contest/model"
	contestRepo "judgehub/internal/contest/repository"
	"judgehub/pkg/repository"
)

func seedContest(t *testing.T, s *ContestStore, id string) {
	t.Helper()
	err := s.Create(context.Background(), &model.Contest{
		ID:    id,
		OrgID: "org",
		Stages: []model.Stage{
			{Name: "before", Start: 0},
			{Name: "running", Start: 100, Settings: model.StageSettings{SolutionEnabled: true}},
			{Name: "after", Start: 200},
		},
		Ranklists:         []model.Ranklist{{Key: "main", Name: "Main"}},
		RanklistState:     model.RanklistInvalid,
		RanklistUpdatedAt: 10,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestRanklistClaimAtMostOnce(t *testing.T) {
	store := NewContestStore()
	seedContest(t, store, "c1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, id := range []string{"r1", "r2", "r3", "r4", "r5", "r6"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := store.ClaimRanklist(context.Background(), claimant(id, "ranker"), "t-"+id)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, repository.ErrNoTask) {
				t.Errorf("claim: %v", err)
			}
		}(id)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected one winner, got %d", wins)
	}
}

func TestRanklistVersionRace(t *testing.T) {
	ctx := context.Background()
	store := NewContestStore()
	seedContest(t, store, "c1")

	c, err := store.ClaimRanklist(ctx, claimant("r1", "ranker"), "t1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	stamp := c.RanklistUpdatedAt

	bumped, err := store.InvalidateRanklist(ctx, "c1", 5, false)
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if bumped <= stamp {
		t.Fatalf("stamp must move forward: %d -> %d", stamp, bumped)
	}

	state, err := store.CompleteRanklist(ctx, "c1", "t1", "r1", stamp)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if state != model.RanklistInvalid {
		t.Fatalf("expected INVALID after concurrent invalidation, got %s", state)
	}

	c, err = store.ClaimRanklist(ctx, claimant("r1", "ranker"), "t2")
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	state, err = store.CompleteRanklist(ctx, "c1", "t2", "r1", c.RanklistUpdatedAt)
	if err != nil || state != model.RanklistValid {
		t.Fatalf("expected VALID, got %s, %v", state, err)
	}
	if _, err := store.CompleteRanklist(ctx, "c1", "t2", "r1", c.RanklistUpdatedAt); !errors.Is(err, contestRepo.ErrContestConflict) {
		t.Fatalf("duplicate completion should conflict, got %v", err)
	}
}

func TestRanklistRunnerAffinity(t *testing.T) {
	ctx := context.Background()
	store := NewContestStore()
	seedContest(t, store, "c1")

	if _, err := store.ClaimRanklist(ctx, claimant("r1", "ranker"), "t1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := store.InvalidateRanklist(ctx, "c1", 5, false); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := store.ClaimRanklist(ctx, claimant("r2", "ranker"), "t2"); !errors.Is(err, repository.ErrNoTask) {
		t.Fatalf("contest stays bound to r1, got %v", err)
	}
	if _, err := store.GetRanklistTask(ctx, "c1", "t1", "r1"); err != nil {
		t.Fatalf("r1 still holds t1: %v", err)
	}

	if _, err := store.InvalidateRanklist(ctx, "c1", 6, true); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := store.ClaimRanklist(ctx, claimant("r2", "ranker"), "t2"); err != nil {
		t.Fatalf("released contest should be claimable by r2: %v", err)
	}
	if _, err := store.GetRanklistTask(ctx, "c1", "t1", "r1"); !errors.Is(err, contestRepo.ErrContestConflict) {
		t.Fatalf("r1 lost the task, got %v", err)
	}
}

func TestApplyStatusCAS(t *testing.T) {
	ctx := context.Background()
	store := NewContestStore()
	seedContest(t, store, "c1")

	c, _ := store.Get(ctx, "c1")
	upd := model.Plan(c, 150)
	if err := store.ApplyStatus(ctx, "c1", c.Version, upd, 150); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := store.ApplyStatus(ctx, "c1", c.Version, upd, 150); !errors.Is(err, contestRepo.ErrContestConflict) {
		t.Fatalf("stale version should conflict, got %v", err)
	}
	got, _ := store.Get(ctx, "c1")
	if got.Status != model.StatusRunning || got.CurrentStage != "running" || got.NextStatusUpdate != 200 {
		t.Fatalf("unexpected contest: %+v", got)
	}

	if err := store.ReplaceStages(ctx, "c1", got.Stages, 160); err != nil {
		t.Fatalf("replace stages: %v", err)
	}
	due, _ := store.ListDue(ctx, 160, 10)
	if len(due) != 1 || due[0].Version != got.Version+1 {
		t.Fatalf("stage edit should make the contest due with a new version: %+v", due)
	}
}

func TestParticipantCursor(t *testing.T) {
	ctx := context.Background()
	store := NewParticipantStore()
	res := model.ProblemResult{SolutionID: "s", Score: 1}
	for _, u := range []string{"u1", "u2", "u3"} {
		if err := store.UpsertResult(ctx, "c1", u, "p1", res, 100); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	first, err := store.ListSince(ctx, "c1", repository.PageOptions{Limit: 2})
	if err != nil || len(first) != 2 {
		t.Fatalf("first page: %v, %v", first, err)
	}
	cursor := repository.Cursor{Since: first[1].UpdatedAt, LastID: first[1].ID}

	// u1 scores again: it moves past the cursor instead of being skipped.
	if err := store.UpsertResult(ctx, "c1", first[0].UserID, "p2", res, 100); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	rest, err := store.ListSince(ctx, "c1", repository.PageOptions{Cursor: cursor, Limit: 10})
	if err != nil {
		t.Fatalf("rest: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("expected the untouched participant and the updated one, got %d", len(rest))
	}
	if rest[1].UserID != first[0].UserID || len(rest[1].Results) != 2 || rest[1].UpdatedAt != 101 {
		t.Fatalf("unexpected updated participant: %+v", rest[1])
	}
}

func TestParticipantKeepsLaterSolution(t *testing.T) {
	ctx := context.Background()
	store := NewParticipantStore()
	newer := model.ProblemResult{SolutionID: "s2", SolutionCreatedAt: 20, Score: 100, Status: "Accepted", CompletedAt: 30}
	if err := store.UpsertResult(ctx, "c1", "u1", "p1", newer, 30); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// s1 was created first and only finishes now because it was rejudged.
	older := model.ProblemResult{SolutionID: "s1", SolutionCreatedAt: 10, Score: 0, Status: "Wrong Answer", CompletedAt: 40}
	if err := store.UpsertResult(ctx, "c1", "u1", "p1", older, 40); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	parts, _ := store.ListSince(ctx, "c1", repository.PageOptions{})
	if len(parts) != 1 || parts[0].Results["p1"].SolutionID != "s2" || parts[0].UpdatedAt != 30 {
		t.Fatalf("older solution must not replace the newer result: %+v", parts)
	}

	rejudged := newer
	rejudged.Score, rejudged.CompletedAt = 50, 50
	if err := store.UpsertResult(ctx, "c1", "u1", "p1", rejudged, 50); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	parts, _ = store.ListSince(ctx, "c1", repository.PageOptions{})
	if got := parts[0].Results["p1"]; got.Score != 50 || parts[0].UpdatedAt != 50 {
		t.Fatalf("the same solution judged again replaces its result: %+v", parts[0])
	}
}
