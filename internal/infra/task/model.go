// Package task runs generation work in the background and tracks its
// status and progress so clients can poll for it.
package task

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the status of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Error represents a task error.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Task represents an async generation task.
type Task struct {
	ID          uuid.UUID      `json:"id"`
	Type        string         `json:"type"`
	Status      Status         `json:"status"`
	Progress    int            `json:"progress"`
	Stage       string         `json:"stage,omitempty"`
	Message     string         `json:"message,omitempty"`
	Input       map[string]any `json:"input"`
	Output      any            `json:"output,omitempty"`
	Error       *Error         `json:"error,omitempty"`
	JobID       string         `json:"job_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// IsTerminal checks if the task is in a terminal state.
func (t *Task) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed || t.Status == StatusCancelled
}

// clone returns a copy safe to hand out while the task keeps running.
func (t *Task) clone() *Task {
	c := *t
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// Filter represents task filter options.
type Filter struct {
	Type   *string
	Status *Status
	Limit  int
	Offset int
}

// SubmitRequest represents a task submission request.
type SubmitRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
	Timeout time.Duration  `json:"timeout,omitempty"`
}

// Update is a progress report from a running executor.
type Update struct {
	Progress int
	Stage    string
	Message  string
	JobID    string
}
