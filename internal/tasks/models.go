package tasks

import (
	"errors"
	"time"
)

// Task is a user-owned to-do item. A task with a parent is a subtask.
type Task struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Title        string    `json:"title"`
	Description  *string   `json:"description"`
	ParentTaskID *int64    `json:"parent_task_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (t Task) IsSubtask() bool { return t.ParentTaskID != nil }

// Snapshot is the activity data recorded for creates and deletes.
func (t Task) Snapshot() map[string]any {
	return map[string]any{
		"id":             t.ID,
		"title":          t.Title,
		"description":    deref(t.Description),
		"parent_task_id": derefID(t.ParentTaskID),
	}
}

type CreateInput struct {
	Title        string  `json:"title"`
	Description  *string `json:"description"`
	ParentTaskID *int64  `json:"parent_task_id"`
}

// UpdateInput carries the fields a caller set. Nil means unset.
type UpdateInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

var (
	ErrNotFound       = errors.New("tasks: not found")
	ErrParentNotFound = errors.New("tasks: parent task not found")
	ErrForbidden      = errors.New("tasks: not allowed")
	ErrInvalidInput   = errors.New("tasks: invalid input")
)

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func derefID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
