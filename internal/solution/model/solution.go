package model

import "fmt"

// State is the judging lifecycle of a solution.
type State int

const (
	StateCreated State = iota
	StatePending
	StateQueued
	StateRunning
	StateCompleted
)

var stateNames = map[State]string{
	StateCreated:   "CREATED",
	StatePending:   "PENDING",
	StateQueued:    "QUEUED",
	StateRunning:   "RUNNING",
	StateCompleted: "COMPLETED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for k, v := range stateNames {
		if v == string(b) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown solution state %q", string(b))
}

// Held reports whether a runner currently owns the solution.
func (s State) Held() bool {
	return s == StateQueued || s == StateRunning
}

// Solution is a judged submission.
type Solution struct {
	ID               string             `json:"id"`
	OrgID            string             `json:"orgId"`
	ProblemID        string             `json:"problemId"`
	ContestID        string             `json:"contestId,omitempty"`
	UserID           string             `json:"userId"`
	Label            string             `json:"label"`
	ProblemDataHash  string             `json:"problemDataHash"`
	State            State              `json:"state"`
	SolutionDataHash string             `json:"solutionDataHash"`
	Score            float64            `json:"score"`
	Metrics          map[string]float64 `json:"metrics,omitempty"`
	Status           string             `json:"status"`
	Message          string             `json:"message"`
	RunnerID         string             `json:"runnerId,omitempty"`
	TaskID           string             `json:"taskId,omitempty"`
	CreatedAt        int64              `json:"createdAt"`
	SubmittedAt      int64              `json:"submittedAt,omitempty"`
	CompletedAt      int64              `json:"completedAt,omitempty"`
	ClaimedAt        int64              `json:"claimedAt,omitempty"`
}

// Patch carries the runner-writable fields. Nil means unchanged.
type Patch struct {
	Status  *string            `json:"status" validate:"omitempty,max=64"`
	Score   *float64           `json:"score" validate:"omitempty,gte=0"`
	Metrics map[string]float64 `json:"metrics" validate:"omitempty,max=64"`
	Message *string            `json:"message" validate:"omitempty,max=65535"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Status == nil && p.Score == nil && p.Metrics == nil && p.Message == nil
}

// Apply writes the patch onto s.
func (p Patch) Apply(s *Solution) {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.Score != nil {
		s.Score = *p.Score
	}
	if p.Metrics != nil {
		s.Metrics = p.Metrics
	}
	if p.Message != nil {
		s.Message = *p.Message
	}
}

// Reset clears judging output and ownership, returning s to PENDING.
func (s *Solution) Reset(now int64) {
	s.State = StatePending
	s.Score = 0
	s.Status = ""
	s.Metrics = nil
	s.Message = ""
	s.RunnerID = ""
	s.TaskID = ""
	s.CompletedAt = 0
	s.ClaimedAt = 0
	s.SubmittedAt = now
}

// BulkFilter selects solutions for submit-all and rejudge-all.
// An empty ContestID matches solutions of the problem outside any contest too.
type BulkFilter struct {
	ProblemID string
	ContestID string
}

// Matches reports whether s is selected by f.
func (f BulkFilter) Matches(s *Solution) bool {
	if s.ProblemID != f.ProblemID {
		return false
	}
	return f.ContestID == "" || s.ContestID == f.ContestID
}

// Task is the poll payload handed to a judging runner.
type Task struct {
	TaskID           string `json:"taskId"`
	SolutionID       string `json:"solutionId"`
	ProblemID        string `json:"problemId"`
	ContestID        string `json:"contestId,omitempty"`
	UserID           string `json:"userId"`
	Label            string `json:"label"`
	ProblemDataHash  string `json:"problemDataHash"`
	SolutionDataHash string `json:"solutionDataHash"`
	ProblemDataURL   string `json:"problemDataUrl,omitempty"`
	SolutionDataURL  string `json:"solutionDataUrl,omitempty"`
}

// CompletedEvent is published once a solution completes.
type CompletedEvent struct {
	SolutionID  string             `json:"solutionId"`
	OrgID       string             `json:"orgId"`
	ProblemID   string             `json:"problemId"`
	ContestID   string             `json:"contestId,omitempty"`
	UserID      string             `json:"userId"`
	Status      string             `json:"status"`
	Score       float64            `json:"score"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	CompletedAt int64              `json:"completedAt"`
}
