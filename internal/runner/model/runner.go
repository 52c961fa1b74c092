package model

import (
	"slices"

	"judgehub/internal/task"
)

// Runner label conventions.
const (
	LabelRanker         = "ranker"
	InstanceLabelPrefix = "instance:"
)

// Runner is a registered worker process.
type Runner struct {
	ID         string   `json:"id"`
	OrgID      string   `json:"orgId"`
	Name       string   `json:"name"`
	Labels     []string `json:"labels"`
	KeyHash    string   `json:"-"`
	Version    string   `json:"version"`
	CreatedAt  int64    `json:"createdAt"`
	AccessedAt int64    `json:"accessedAt"`
}

// Claimant returns the identity the runner polls with.
func (r *Runner) Claimant() task.Claimant {
	return task.Claimant{
		RunnerID: r.ID,
		OrgID:    r.OrgID,
		Labels:   slices.Clone(r.Labels),
	}
}
