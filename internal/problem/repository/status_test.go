package repository

import (
	"context"
	"testing"

	"judgehub/internal/common/cache"
	"judgehub/internal/problem/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newStatusRepo(t *testing.T) (*StatusRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rc, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	return NewStatusRepository(rc), mr
}

func TestStatusSaveKeepsLaterSolution(t *testing.T) {
	ctx := context.Background()
	repo, mr := newStatusRepo(t)

	if got, err := repo.Get(ctx, "org", "u1", "p1"); err != nil || got != nil {
		t.Fatalf("empty cache: %+v, %v", got, err)
	}
	newer := model.Status{SolutionID: "s2", SolutionCreatedAt: 20, Status: "Accepted", Score: 100, CompletedAt: 30}
	if err := repo.Save(ctx, "org", "u1", "p1", newer); err != nil {
		t.Fatalf("save: %v", err)
	}
	older := model.Status{SolutionID: "s1", SolutionCreatedAt: 10, Status: "Wrong Answer", CompletedAt: 40}
	if err := repo.Save(ctx, "org", "u1", "p1", older); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := repo.Get(ctx, "org", "u1", "p1")
	if err != nil || got == nil || got.SolutionID != "s2" {
		t.Fatalf("older solution must not replace the cached status: %+v, %v", got, err)
	}

	rejudged := newer
	rejudged.Score = 50
	if err := repo.Save(ctx, "org", "u1", "p1", rejudged); err != nil {
		t.Fatalf("save: %v", err)
	}
	other := model.Status{SolutionID: "s9", SolutionCreatedAt: 5, Status: "Accepted"}
	if err := repo.Save(ctx, "org", "u1", "p2", other); err != nil {
		t.Fatalf("save: %v", err)
	}
	all, err := repo.List(ctx, "org", "u1")
	if err != nil || len(all) != 2 || all["p1"].Score != 50 || all["p2"].SolutionID != "s9" {
		t.Fatalf("unexpected statuses: %+v, %v", all, err)
	}
	if !mr.Exists("problem:status:org:u1") {
		t.Fatal("statuses live in one hash per user")
	}

	mr.HSet("problem:status:org:u1", "p3", "not json")
	if got, err := repo.Get(ctx, "org", "u1", "p3"); err != nil || got != nil {
		t.Fatalf("unreadable entry is treated as absent: %+v, %v", got, err)
	}
}

func TestStatusWithoutCache(t *testing.T) {
	repo := NewStatusRepository(nil)
	if err := repo.Save(context.Background(), "org", "u1", "p1", model.Status{SolutionID: "s1"}); err == nil {
		t.Fatal("expected an error without a cache client")
	}
}
