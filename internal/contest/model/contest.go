package model

import (
	"cmp"
	"fmt"
	"math"
)

// Never is the nextStatusUpdate of a contest with no boundary left.
const Never int64 = math.MaxInt64

// RanklistState is the freshness of a contest's published ranklist.
type RanklistState int

const (
	RanklistValid RanklistState = iota
	RanklistPending
	RanklistInvalid
)

var ranklistStateNames = map[RanklistState]string{
	RanklistValid:   "VALID",
	RanklistPending: "PENDING",
	RanklistInvalid: "INVALID",
}

func (s RanklistState) String() string {
	if name, ok := ranklistStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("RanklistState(%d)", int(s))
}

func (s RanklistState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Status is the coarse contest phase derived from its stages.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusEnded
)

var statusNames = map[Status]string{
	StatusPending: "PENDING",
	StatusRunning: "RUNNING",
	StatusEnded:   "ENDED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// StageSettings are the per-stage switches the status derivation reads.
type StageSettings struct {
	ForceRunning            bool `json:"forceRunning"`
	SolutionEnabled         bool `json:"solutionEnabled"`
	RanklistSkipCalculation bool `json:"ranklistSkipCalculation"`
}

// Stage starts at Start (epoch ms) and lasts until the next stage starts.
type Stage struct {
	Name     string        `json:"name" validate:"required,max=64"`
	Start    int64         `json:"start" validate:"gte=0"`
	Settings StageSettings `json:"settings"`
}

// Running reports whether the stage counts as an active contest phase.
func (s Stage) Running() bool {
	return s.Settings.ForceRunning || (s.Settings.SolutionEnabled && !s.Settings.RanklistSkipCalculation)
}

// Ranklist is one published ranklist definition.
type Ranklist struct {
	Key        string         `json:"key" validate:"required,max=64,label"`
	Name       string         `json:"name" validate:"required,max=128"`
	Visibility string         `json:"visibility" validate:"omitempty,oneof=public participants admin"`
	Settings   map[string]any `json:"settings,omitempty"`
}

// Contest carries the ranklist and stage slices of a contest document.
type Contest struct {
	ID                string        `json:"id"`
	OrgID             string        `json:"orgId"`
	Title             string        `json:"title"`
	Stages            []Stage       `json:"stages"`
	Ranklists         []Ranklist    `json:"ranklists"`
	Status            Status        `json:"status"`
	CurrentStage      string        `json:"currentStage"`
	NextStatusUpdate  int64         `json:"nextStatusUpdate"`
	RanklistState     RanklistState `json:"ranklistState"`
	RanklistUpdatedAt int64         `json:"ranklistUpdatedAt"`
	RanklistRunnerID  string        `json:"ranklistRunnerId,omitempty"`
	RanklistTaskID    string        `json:"-"`
	Version           int64         `json:"version"`
}

// Invalidate marks the ranklist stale. The stamp always moves forward so that
// a runner completing with an older stamp is detected.
func (c *Contest) Invalidate(now int64, releaseRunner bool) {
	c.RanklistState = RanklistInvalid
	c.RanklistUpdatedAt = max(c.RanklistUpdatedAt+1, now)
	if releaseRunner {
		c.RanklistRunnerID = ""
	}
}

// CompleteRanklist settles a ranklist task begun at stamp.
func (c *Contest) CompleteRanklist(stamp int64) {
	if stamp == c.RanklistUpdatedAt {
		c.RanklistState = RanklistValid
	} else {
		c.RanklistState = RanklistInvalid
	}
	c.RanklistTaskID = ""
}

// Participant is a contestant's per-problem results.
type Participant struct {
	ID        string                   `json:"id"`
	ContestID string                   `json:"contestId"`
	UserID    string                   `json:"userId"`
	Results   map[string]ProblemResult `json:"results"`
	UpdatedAt int64                    `json:"updatedAt"`
}

// ProblemResult is the result of a participant's latest solution for a problem.
type ProblemResult struct {
	SolutionID        string  `json:"solutionId"`
	SolutionCreatedAt int64   `json:"solutionCreatedAt"`
	Score             float64 `json:"score"`
	Status            string  `json:"status"`
	CompletedAt       int64   `json:"completedAt"`
}

// Replaces reports whether r may overwrite prev. A rejudge completes
// solutions out of creation order, so only the same solution or a later
// created one wins.
func (r ProblemResult) Replaces(prev ProblemResult) bool {
	if r.SolutionID == prev.SolutionID {
		return true
	}
	return cmp.Or(cmp.Compare(r.SolutionCreatedAt, prev.SolutionCreatedAt), cmp.Compare(r.SolutionID, prev.SolutionID)) > 0
}

// RanklistTask is the poll payload handed to a ranker.
type RanklistTask struct {
	TaskID            string     `json:"taskId"`
	ContestID         string     `json:"contestId"`
	RanklistUpdatedAt int64      `json:"ranklistUpdatedAt"`
	Ranklists         []Ranklist `json:"ranklists"`
	Stages            []Stage    `json:"stages"`
}

// RanklistInvalidatedEvent is published when a contest ranklist turns stale.
type RanklistInvalidatedEvent struct {
	ContestID         string `json:"contestId"`
	OrgID             string `json:"orgId,omitempty"`
	RanklistUpdatedAt int64  `json:"ranklistUpdatedAt"`
	Reason            string `json:"reason"`
}
