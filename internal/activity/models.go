package activity

import (
	"strings"
	"time"

	"activity-platform/internal/event"
)

// Record is an append-only activity log row.
//
// Invariants:
//   - Created once, right after a successful domain mutation; never updated.
//   - RequestID equals the request_id of the envelope published for it.
//   - Data is the JSON snapshot or diff of the mutation, nil when there is none.
type Record struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	TaskID    *int64    `json:"task_id,omitempty"`
	Type      Type      `json:"activity_type"`
	Action    string    `json:"action"`
	RequestID string    `json:"request_id"`
	Data      *string   `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Type string

const (
	TaskCreated    Type = "task_created"
	TaskUpdated    Type = "task_updated"
	TaskDeleted    Type = "task_deleted"
	SubtaskCreated Type = "subtask_created"
	SubtaskUpdated Type = "subtask_updated"
	SubtaskDeleted Type = "subtask_deleted"
	ProfileUpdated Type = "profile_updated"
)

var actions = map[Type]string{
	TaskCreated:    "Task created",
	TaskUpdated:    "Task updated",
	TaskDeleted:    "Task deleted",
	SubtaskCreated: "Subtask created",
	SubtaskUpdated: "Subtask updated",
	SubtaskDeleted: "Subtask deleted",
	ProfileUpdated: "User profile updated",
}

func (t Type) Valid() bool {
	_, ok := actions[t]
	return ok
}

// Action is the default human-readable description of t.
func (t Type) Action() string {
	return actions[t]
}

// EventType is the dotted tag published for t: task_created -> task.created.
func (t Type) EventType() string {
	return strings.Replace(string(t), "_", ".", 1)
}

// ResourceType is the envelope resource tag for t.
func (t Type) ResourceType() string {
	switch {
	case strings.HasPrefix(string(t), "subtask_"):
		return event.ResourceSubtask
	case strings.HasPrefix(string(t), "task_"):
		return event.ResourceTask
	default:
		return event.ResourceUser
	}
}

// TaskTypes picks the task_* or subtask_* variant of an operation.
func TaskTypes(isSubtask bool) (created, updated, deleted Type) {
	if isSubtask {
		return SubtaskCreated, SubtaskUpdated, SubtaskDeleted
	}
	return TaskCreated, TaskUpdated, TaskDeleted
}
