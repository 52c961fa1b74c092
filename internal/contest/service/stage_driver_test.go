package service

import (
	"context"
	"encoding/json"
	"testing"

	"judgehub/internal/auth"
	"judgehub/internal/common/cache"
	"judgehub/internal/common/mq"
	"judgehub/internal/contest/model"
	"judgehub/internal/store/memory"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type recordingProducer struct {
	messages []*mq.Message
}

func (r *recordingProducer) Publish(_ context.Context, _ string, message *mq.Message) error {
	r.messages = append(r.messages, message)
	return nil
}

func (r *recordingProducer) Close() error { return nil }

func (r *recordingProducer) reasons(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, m := range r.messages {
		var ev model.RanklistInvalidatedEvent
		if err := json.Unmarshal(m.Body, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		out = append(out, ev.Reason)
	}
	return out
}

// racingContests bumps the contest version right before the first status write.
type racingContests struct {
	*memory.ContestStore
	raced bool
}

func (r *racingContests) ApplyStatus(ctx context.Context, contestID string, expectVersion int64, upd model.StatusUpdate, now int64) error {
	if !r.raced {
		r.raced = true
		c, err := r.ContestStore.Get(ctx, contestID)
		if err != nil {
			return err
		}
		if err := r.ContestStore.ReplaceStages(ctx, contestID, c.Stages, now); err != nil {
			return err
		}
	}
	return r.ContestStore.ApplyStatus(ctx, contestID, expectVersion, upd, now)
}

func newDriver(t *testing.T, store *memory.Store, clk *clock) (*StageDriver, *recordingProducer) {
	t.Helper()
	rec := &recordingProducer{}
	notifier := NewContestService(store.Contests, auth.TokenChecker{}, mq.NewEventPublisher(rec, "ranklist"), clk.Now)
	return NewStageDriver(store.Contests, nil, notifier, nil, clk.Now, SweepConfig{}), rec
}

func TestSweepFollowsStages(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedContest(t, store)
	clk := &clock{now: 1500}
	driver, rec := newDriver(t, store, clk)

	res, err := driver.Sweep(ctx)
	if err != nil || res.Updated != 1 {
		t.Fatalf("first sweep: %+v, %v", res, err)
	}
	c, _ := store.Contests.Get(ctx, "c1")
	if c.Status != model.StatusRunning || c.CurrentStage != "contest" || c.NextStatusUpdate != 2000 {
		t.Fatalf("unexpected contest after sweep: %+v", c)
	}
	if c.RanklistUpdatedAt != 1500 || c.RanklistState != model.RanklistInvalid {
		t.Fatalf("stage change should invalidate the ranklist: %+v", c)
	}

	res, err = driver.Sweep(ctx)
	if err != nil || res.Updated != 0 {
		t.Fatalf("repeated sweep must be a no-op: %+v, %v", res, err)
	}
	again, _ := store.Contests.Get(ctx, "c1")
	if again.Version != c.Version {
		t.Fatalf("no-op sweep wrote the contest: %d -> %d", c.Version, again.Version)
	}

	clk.now = 5000
	if res, err := driver.Sweep(ctx); err != nil || res.Updated != 1 {
		t.Fatalf("late sweep: %+v, %v", res, err)
	}
	c, _ = store.Contests.Get(ctx, "c1")
	if c.Status != model.StatusEnded || c.CurrentStage != "ended" || c.NextStatusUpdate != model.Never {
		t.Fatalf("contest should have ended: %+v", c)
	}

	got := rec.reasons(t)
	if len(got) != 2 || got[0] != ReasonStageChanged || got[1] != ReasonStageChanged {
		t.Fatalf("expected two stage change events, got %v", got)
	}
}

func TestUpdateStagesMakesContestDue(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedContest(t, store)
	clk := &clock{now: 1500}
	driver, rec := newDriver(t, store, clk)
	admin := auth.Principal{UserID: "admin", OrgID: "org", Caps: auth.CapContestManage | auth.CapContestView}

	if _, err := driver.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	stages := threeStages()
	stages[1].Start = 1800
	if err := driver.notifier.UpdateStages(ctx, admin, "c1", StagesInput{Stages: stages}); err != nil {
		t.Fatalf("update stages: %v", err)
	}
	c, _ := store.Contests.Get(ctx, "c1")
	if c.NextStatusUpdate > clk.now {
		t.Fatalf("replaced stages should be due immediately: %+v", c)
	}

	if res, err := driver.Sweep(ctx); err != nil || res.Updated != 1 {
		t.Fatalf("sweep after update: %+v, %v", res, err)
	}
	c, _ = store.Contests.Get(ctx, "c1")
	if c.CurrentStage != "registration" || c.Status != model.StatusPending || c.NextStatusUpdate != 1800 {
		t.Fatalf("stage should follow the new boundaries: %+v", c)
	}
	got := rec.reasons(t)
	if len(got) != 3 || got[1] != ReasonStagesUpdated {
		t.Fatalf("unexpected events: %v", got)
	}

	bad := threeStages()
	bad[2].Start = bad[1].Start
	if err := driver.notifier.UpdateStages(ctx, admin, "c1", StagesInput{Stages: bad}); err == nil {
		t.Fatal("non increasing stages must be rejected")
	}
}

func TestSweepRetriesOnVersionConflict(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedContest(t, store)
	clk := &clock{now: 1500}
	racing := &racingContests{ContestStore: store.Contests}
	driver := NewStageDriver(racing, nil, nil, nil, clk.Now, SweepConfig{})

	res, err := driver.Sweep(ctx)
	if err != nil || res.Updated != 1 || res.Failed != 0 {
		t.Fatalf("sweep should retry past the conflict: %+v, %v", res, err)
	}
	if !racing.raced {
		t.Fatal("racing writer never ran")
	}
	c, _ := store.Contests.Get(ctx, "c1")
	if c.CurrentStage != "contest" || c.NextStatusUpdate != 2000 {
		t.Fatalf("unexpected contest: %+v", c)
	}
}

func TestTickHonorsSweepLock(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rc, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}

	store := memory.New()
	seedContest(t, store)
	clk := &clock{now: 1500}
	driver := NewStageDriver(store.Contests, rc, nil, nil, clk.Now, SweepConfig{})

	if err := mr.Set(sweepLockKey, "another-coordinator"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	driver.tick(ctx)
	if c, _ := store.Contests.Get(ctx, "c1"); c.CurrentStage != "" {
		t.Fatalf("sweep ran without the lock: %+v", c)
	}

	mr.Del(sweepLockKey)
	driver.tick(ctx)
	if c, _ := store.Contests.Get(ctx, "c1"); c.CurrentStage != "contest" {
		t.Fatalf("sweep did not run with the lock: %+v", c)
	}
	if mr.Exists(sweepLockKey) {
		t.Fatal("sweep lock should be released after the tick")
	}
}
