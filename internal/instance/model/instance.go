package model

import "fmt"

// State is the lifecycle of a sandboxed problem instance.
type State int

const (
	StateDestroyed State = iota
	StateAllocating
	StateActive
	StateError
	StateDestroying
)

// TaskState tracks the runner task attached to an instance, orthogonal to State.
type TaskState int

const (
	TaskNone TaskState = iota
	TaskPending
	TaskQueued
	TaskInProgress
)

var stateNames = map[State]string{
	StateDestroyed:  "DESTROYED",
	StateAllocating: "ALLOCATING",
	StateActive:     "ACTIVE",
	StateError:      "ERROR",
	StateDestroying: "DESTROYING",
}

var taskStateNames = map[TaskState]string{
	TaskNone:       "NONE",
	TaskPending:    "PENDING",
	TaskQueued:     "QUEUED",
	TaskInProgress: "IN_PROGRESS",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s TaskState) String() string {
	if name, ok := taskStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("TaskState(%d)", int(s))
}

func (s TaskState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Live reports whether the instance counts against the uniqueness limits.
func (s State) Live() bool {
	return s != StateDestroyed
}

// allowedPairs lists every legal (State, TaskState) combination.
// Allocating and Destroying always carry a task; settled states never do.
var allowedPairs = map[State][]TaskState{
	StateDestroyed:  {TaskNone},
	StateAllocating: {TaskPending, TaskQueued, TaskInProgress},
	StateActive:     {TaskNone},
	StateError:      {TaskNone},
	StateDestroying: {TaskPending, TaskQueued, TaskInProgress},
}

// ValidPair reports whether state and taskState may coexist.
func ValidPair(state State, taskState TaskState) bool {
	for _, ts := range allowedPairs[state] {
		if ts == taskState {
			return true
		}
	}
	return false
}

// Transition returns the state a successful or failed task completion moves
// the instance to. ok is false when the current state has no pending task outcome.
func Transition(from State, succeeded bool) (to State, ok bool) {
	switch from {
	case StateAllocating:
		if succeeded {
			return StateActive, true
		}
		return StateError, true
	case StateDestroying:
		if succeeded {
			return StateDestroyed, true
		}
		return StateError, true
	}
	return from, false
}

// CanDestroy reports whether a destroy request changes anything.
func CanDestroy(s State) bool {
	return s != StateDestroying && s != StateDestroyed
}

// Instance is a runner-hosted sandbox for one (user, problem, contest) slot.
type Instance struct {
	ID            string    `json:"id"`
	OrgID         string    `json:"orgId"`
	UserID        string    `json:"userId"`
	ProblemID     string    `json:"problemId"`
	ContestID     string    `json:"contestId,omitempty"`
	SlotNo        int       `json:"slotNo"`
	State         State     `json:"state"`
	TaskState     TaskState `json:"taskState"`
	Label         string    `json:"label"`
	RunnerID      string    `json:"runnerId,omitempty"`
	TaskID        string    `json:"taskId,omitempty"`
	Message       string    `json:"message"`
	CreatedAt     int64     `json:"createdAt"`
	ActivatedAt   int64     `json:"activatedAt,omitempty"`
	DestroyedAt   int64     `json:"destroyedAt,omitempty"`
	TaskClaimedAt int64     `json:"taskClaimedAt,omitempty"`
}

// Validate checks the state pair invariant.
func (i *Instance) Validate() error {
	if !ValidPair(i.State, i.TaskState) {
		return fmt.Errorf("invalid instance state pair %s/%s", i.State, i.TaskState)
	}
	return nil
}

// Completion describes the runner-reported outcome of a task.
type Completion struct {
	From      State
	To        State
	Message   string
	Timestamp int64
}

// Apply moves i according to c and releases the task. The runner stays
// attached so that a later destroy prefers the host that allocated it.
func (c Completion) Apply(i *Instance) {
	i.State = c.To
	i.TaskState = TaskNone
	i.TaskID = ""
	i.TaskClaimedAt = 0
	i.Message = c.Message
	switch c.To {
	case StateActive:
		i.ActivatedAt = c.Timestamp
	case StateDestroyed:
		i.DestroyedAt = c.Timestamp
	}
}

// Task is the poll payload handed to an instance runner.
type Task struct {
	TaskID     string `json:"taskId"`
	InstanceID string `json:"instanceId"`
	State      State  `json:"state"`
	Label      string `json:"label"`
	UserID     string `json:"userId"`
	ProblemID  string `json:"problemId"`
	ContestID  string `json:"contestId,omitempty"`
	SlotNo     int    `json:"slotNo"`
}
