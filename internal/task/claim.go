// Package task holds the claim protocol shared by solution judging, instance
// lifecycle and ranklist regeneration: a runner polls, at most one runner wins
// a given document, and the winner is fenced by a fresh task id.
package task

import (
	"context"
	"errors"
	"slices"
	"time"

	"judgehub/pkg/repository"

	"github.com/google/uuid"
)

// Claimant identifies the polling runner.
type Claimant struct {
	RunnerID string
	OrgID    string
	Labels   []string
}

// HasLabel reports whether the runner advertises label.
func (c Claimant) HasLabel(label string) bool {
	return slices.Contains(c.Labels, label)
}

// Outcome classifies a poll for metrics and logs.
type Outcome string

const (
	OutcomeClaimed   Outcome = "claimed"
	OutcomeReclaimed Outcome = "reclaimed"
	OutcomeEmpty     Outcome = "empty"
)

// Source is implemented by each repository that hands out tasks.
//
// FindHeld returns a document already queued for the claimant so that a
// repeated poll sees the same task id. ClaimNext atomically moves one
// eligible document to the queued marker with runnerId = claimant and the
// given task id. Both return repository.ErrNoTask when nothing matches.
type Source[T any] interface {
	FindHeld(ctx context.Context, c Claimant) (T, error)
	ClaimNext(ctx context.Context, c Claimant, taskID string, now int64) (T, error)
}

// Clock returns the current time in epoch milliseconds.
type Clock func() int64

// SystemClock reads the wall clock.
func SystemClock() int64 {
	return time.Now().UnixMilli()
}

// NewID returns a fresh task id.
func NewID() string {
	return uuid.NewString()
}

// Poll runs the claim protocol against src.
func Poll[T any](ctx context.Context, src Source[T], c Claimant, now int64) (T, Outcome, error) {
	var zero T
	held, err := src.FindHeld(ctx, c)
	switch {
	case err == nil:
		return held, OutcomeReclaimed, nil
	case !errors.Is(err, repository.ErrNoTask):
		return zero, OutcomeEmpty, err
	}

	claimed, err := src.ClaimNext(ctx, c, NewID(), now)
	if errors.Is(err, repository.ErrNoTask) {
		return zero, OutcomeEmpty, nil
	}
	if err != nil {
		return zero, OutcomeEmpty, err
	}
	return claimed, OutcomeClaimed, nil
}
