// internal/models/task.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task node
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// TaskNode is a single task inside an execution graph: its identity, opaque
// configuration, declared dependencies and execution lifecycle.
//
// Status transitions are expected to be monotonic
// (pending -> running -> completed|failed); the node does not police the
// caller. Transitioning out of a terminal state is a caller bug.
type TaskNode struct {
	TaskID       string     `json:"task_id"`
	TaskType     string     `json:"task_type"`
	Config       Payload    `json:"config"`
	Dependencies []string   `json:"dependencies"`
	Status       TaskStatus `json:"status"`
	Result       Payload    `json:"result,omitempty"`
	Error        *string    `json:"error,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
}

// NewTaskNode creates a pending task node with a generated id.
func NewTaskNode(taskType string, config Payload) *TaskNode {
	if config == nil {
		config = Payload{}
	}
	return &TaskNode{
		TaskID:       uuid.New().String(),
		TaskType:     taskType,
		Config:       config,
		Dependencies: make([]string, 0),
		Status:       TaskStatusPending,
	}
}

// ApplyStatus sets the node status and stamps the lifecycle timestamps:
// start_time when entering running, end_time plus result/error when entering
// a terminal state.
func (t *TaskNode) ApplyStatus(status TaskStatus, result Payload, errMsg *string) {
	now := time.Now().UTC()
	t.Status = status

	switch status {
	case TaskStatusRunning:
		if t.StartTime == nil {
			t.StartTime = &now
		}
	case TaskStatusCompleted:
		t.EndTime = &now
		if result != nil {
			t.Result = result
		}
	case TaskStatusFailed:
		t.EndTime = &now
		if errMsg != nil {
			t.Error = errMsg
		}
	}
}

// Clone returns a deep copy of the node. Snapshots hand out clones so later
// graph mutation cannot leak into persisted state.
func (t *TaskNode) Clone() *TaskNode {
	cp := *t
	cp.Config = t.Config.Clone()
	cp.Result = t.Result.Clone()
	cp.Dependencies = append([]string(nil), t.Dependencies...)
	if t.Error != nil {
		msg := *t.Error
		cp.Error = &msg
	}
	if t.StartTime != nil {
		ts := *t.StartTime
		cp.StartTime = &ts
	}
	if t.EndTime != nil {
		ts := *t.EndTime
		cp.EndTime = &ts
	}
	return &cp
}

// TaskInfo is the read-only projection returned by graph lookups: the node
// itself plus both directions of its adjacency.
type TaskInfo struct {
	Task         *TaskNode `json:"task"`
	Dependents   []string  `json:"dependents"`
	Dependencies []string  `json:"dependencies"`
}

// GraphState is a full point-in-time snapshot of a task graph, used when an
// execution is persisted. Edges map a task to the tasks it unblocks;
// ReverseEdges map a task to the tasks it is blocked by.
type GraphState struct {
	Nodes        map[string]*TaskNode `json:"nodes"`
	Edges        map[string][]string  `json:"edges"`
	ReverseEdges map[string][]string  `json:"reverse_edges"`
}
