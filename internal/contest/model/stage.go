package model

import "errors"

// MinStages is the fewest stages a contest may have: before, during, after.
const MinStages = 3

var (
	ErrTooFewStages        = errors.New("contest needs at least 3 stages")
	ErrFirstStageStart     = errors.New("first stage must start at 0")
	ErrStagesNotIncreasing = errors.New("stage starts must be strictly increasing")
)

// ValidateStages checks the ordering invariants of a stage list.
func ValidateStages(stages []Stage) error {
	if len(stages) < MinStages {
		return ErrTooFewStages
	}
	if stages[0].Start != 0 {
		return ErrFirstStageStart
	}
	for i := 1; i < len(stages); i++ {
		if stages[i].Start <= stages[i-1].Start {
			return ErrStagesNotIncreasing
		}
	}
	return nil
}

// Evaluation is the status a contest should carry at a given instant.
type Evaluation struct {
	Stage            Stage
	Status           Status
	NextStatusUpdate int64
}

// Evaluate derives the effective stage, status and next boundary at now.
// The effective stage is the last one whose start is not after now; the next
// boundary is the first start strictly after now, or Never.
func Evaluate(stages []Stage, now int64) Evaluation {
	ev := Evaluation{Status: StatusEnded, NextStatusUpdate: Never}
	current := -1
	for i, st := range stages {
		if st.Start <= now {
			current = i
			continue
		}
		ev.NextStatusUpdate = st.Start
		break
	}
	if current >= 0 {
		ev.Stage = stages[current]
		if ev.Stage.Running() {
			ev.Status = StatusRunning
			return ev
		}
	}
	for _, st := range stages[current+1:] {
		if st.Running() {
			ev.Status = StatusPending
			break
		}
	}
	return ev
}

// StatusUpdate is the result of evaluating one due contest.
type StatusUpdate struct {
	Status           Status
	CurrentStage     string
	NextStatusUpdate int64
	// StageChanged invalidates the ranklist in the same write.
	StageChanged bool
}

// Plan evaluates c at now and reports the write the sweep should perform.
func Plan(c *Contest, now int64) StatusUpdate {
	ev := Evaluate(c.Stages, now)
	return StatusUpdate{
		Status:           ev.Status,
		CurrentStage:     ev.Stage.Name,
		NextStatusUpdate: ev.NextStatusUpdate,
		StageChanged:     ev.Stage.Name != c.CurrentStage,
	}
}

// Apply writes u onto c, invalidating the ranklist on a stage change.
func (u StatusUpdate) Apply(c *Contest, now int64) {
	c.Status = u.Status
	c.CurrentStage = u.CurrentStage
	c.NextStatusUpdate = u.NextStatusUpdate
	if u.StageChanged {
		c.Invalidate(now, false)
	}
	c.Version++
}
