package service

import (
	"context"
	"testing"
	"time"

	"judgehub/internal/common/cache"
	"judgehub/internal/store/memory"
	pkgerrors "judgehub/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestService(t *testing.T) (*RunnerService, *memory.RunnerStore, *int64) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rc, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	clock := int64(1000)
	store := memory.NewRunnerStore()
	svc := NewRunnerService(store, rc, Config{
		RegistrationTokens: map[string]string{"join-org": "org"},
		HeartbeatInterval:  time.Minute,
	}, func() int64 { return clock })
	return svc, store, &clock
}

func TestRegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc, store, clock := newTestService(t)

	if _, err := svc.Register(ctx, RegisterInput{Token: "wrong", Name: "r", Labels: []string{"cpp"}}); !pkgerrors.Is(err, pkgerrors.RunnerRegistrationDenied) {
		t.Fatalf("expected registration denied, got %v", err)
	}

	reg, err := svc.Register(ctx, RegisterInput{Token: "join-org", Name: "judge-1", Labels: []string{"cpp", "ranker"}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	stored, err := store.Get(ctx, reg.RunnerID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.OrgID != "org" || stored.KeyHash == "" || stored.KeyHash == reg.RunnerKey {
		t.Fatalf("unexpected stored runner: %+v", stored)
	}

	if _, err := svc.Authenticate(ctx, reg.RunnerID, "bad"); !pkgerrors.Is(err, pkgerrors.RunnerKeyInvalid) {
		t.Fatalf("expected invalid key, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "unknown", reg.RunnerKey); !pkgerrors.Is(err, pkgerrors.RunnerKeyInvalid) {
		t.Fatalf("expected invalid key for unknown runner, got %v", err)
	}

	*clock = 2000
	runner, err := svc.Authenticate(ctx, reg.RunnerID, reg.RunnerKey)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !runner.Claimant().HasLabel("ranker") {
		t.Fatalf("labels lost: %+v", runner.Labels)
	}
	stored, _ = store.Get(ctx, reg.RunnerID)
	if stored.AccessedAt != 2000 {
		t.Fatalf("expected heartbeat at 2000, got %d", stored.AccessedAt)
	}

	// Within the heartbeat interval the cached verification skips the write.
	*clock = 3000
	if _, err := svc.Authenticate(ctx, reg.RunnerID, reg.RunnerKey); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	stored, _ = store.Get(ctx, reg.RunnerID)
	if stored.AccessedAt != 2000 {
		t.Fatalf("heartbeat should be throttled, got %d", stored.AccessedAt)
	}
}
