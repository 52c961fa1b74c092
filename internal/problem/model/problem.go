package model

import "cmp"

// DefaultInstanceLabel is used when a problem does not name its instance pool.
const DefaultInstanceLabel = "instance:default"

// Problem is the read model of a problem the coordinator needs for dispatch.
type Problem struct {
	ID    string `json:"id"`
	OrgID string `json:"orgId"`
	Title string `json:"title"`
	// Label routes judging tasks to runners advertising it.
	Label string `json:"label"`
	// InstanceLabel routes instance tasks; it carries the instance: prefix.
	InstanceLabel string         `json:"instanceLabel,omitempty"`
	DataHash      string         `json:"dataHash"`
	Settings      map[string]any `json:"settings,omitempty"`
}

// InstancePool returns the label instance tasks for p are routed by.
func (p *Problem) InstancePool() string {
	if p.InstanceLabel == "" {
		return DefaultInstanceLabel
	}
	return p.InstanceLabel
}

// ContestProblem is a problem as it appears within a contest.
type ContestProblem struct {
	ContestID string         `json:"contestId"`
	ProblemID string         `json:"problemId"`
	Key       string         `json:"key"`
	Title     string         `json:"title"`
	Settings  map[string]any `json:"settings,omitempty"`
}

// Status is the per-user summary kept for problems solved outside contests.
type Status struct {
	SolutionID        string  `json:"solutionId"`
	SolutionCreatedAt int64   `json:"solutionCreatedAt"`
	Status            string  `json:"status"`
	Score             float64 `json:"score"`
	CompletedAt       int64   `json:"completedAt"`
}

// Replaces reports whether s may overwrite prev: the same solution judged
// again, or a later created one.
func (s Status) Replaces(prev Status) bool {
	if s.SolutionID == prev.SolutionID {
		return true
	}
	return cmp.Or(cmp.Compare(s.SolutionCreatedAt, prev.SolutionCreatedAt), cmp.Compare(s.SolutionID, prev.SolutionID)) > 0
}
