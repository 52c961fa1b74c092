package task

import (
	"context"
	"errors"
	"testing"

	"judgehub/pkg/repository"
)

type fakeSource struct {
	held      *string
	next      *string
	heldErr   error
	claimErr  error
	claimedID string
}

func (f *fakeSource) FindHeld(ctx context.Context, c Claimant) (*string, error) {
	if f.heldErr != nil {
		return nil, f.heldErr
	}
	if f.held == nil {
		return nil, repository.ErrNoTask
	}
	return f.held, nil
}

func (f *fakeSource) ClaimNext(ctx context.Context, c Claimant, taskID string, now int64) (*string, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if f.next == nil {
		return nil, repository.ErrNoTask
	}
	f.claimedID = taskID
	return f.next, nil
}

func strPtr(s string) *string { return &s }

func TestPoll(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name        string
		src         *fakeSource
		wantOutcome Outcome
		wantValue   string
		wantErr     error
	}{
		{name: "reclaim held task", src: &fakeSource{held: strPtr("held"), next: strPtr("next")}, wantOutcome: OutcomeReclaimed, wantValue: "held"},
		{name: "claim next", src: &fakeSource{next: strPtr("next")}, wantOutcome: OutcomeClaimed, wantValue: "next"},
		{name: "no task", src: &fakeSource{}, wantOutcome: OutcomeEmpty},
		{name: "held lookup fails", src: &fakeSource{heldErr: boom}, wantOutcome: OutcomeEmpty, wantErr: boom},
		{name: "claim fails", src: &fakeSource{claimErr: boom}, wantOutcome: OutcomeEmpty, wantErr: boom},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, outcome, err := Poll[*string](context.Background(), tc.src, Claimant{RunnerID: "r1"}, 1)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
			if outcome != tc.wantOutcome {
				t.Fatalf("expected outcome %s, got %s", tc.wantOutcome, outcome)
			}
			if tc.wantValue == "" {
				if got != nil {
					t.Fatalf("expected nil value, got %v", *got)
				}
				return
			}
			if got == nil || *got != tc.wantValue {
				t.Fatalf("expected %s, got %v", tc.wantValue, got)
			}
			if outcome == OutcomeClaimed && tc.src.claimedID == "" {
				t.Fatalf("expected a fresh task id to be passed to ClaimNext")
			}
		})
	}
}

func TestClaimantHasLabel(t *testing.T) {
	c := Claimant{Labels: []string{"cpp", "ranker"}}
	if !c.HasLabel("ranker") {
		t.Fatalf("expected ranker label")
	}
	if c.HasLabel("instance:web") {
		t.Fatalf("unexpected instance label")
	}
}
