// Package tasks stores scheduled agent tasks and workflows and fires due
// tasks on their cron schedules.
package tasks

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidTask     = errors.New("invalid task")
	ErrInvalidWorkflow = errors.New("invalid workflow")
)

// RunStatus is the outcome of a task's most recent firing.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusSkipped   RunStatus = "skipped"
)

// Task sends Message to an agent every time Schedule fires.
type Task struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Schedule  string `json:"schedule"`
	Message   string `json:"message"`
	AgentType string `json:"agent_type,omitempty"`
	// Timezone interprets Schedule; empty means UTC.
	Timezone string `json:"timezone,omitempty"`
	Enabled  bool   `json:"enabled"`

	LastRun    *time.Time `json:"last_run,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	LastStatus RunStatus  `json:"last_status,omitempty"`
	LastRunID  string     `json:"last_run_id,omitempty"`
	LastError  string     `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the user-editable fields.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTask)
	}
	if strings.TrimSpace(t.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidTask)
	}
	if _, err := ParseSchedule(t.Schedule, t.Timezone); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	return nil
}

// Workflow is a named, ordered list of agent prompts kept for the front end.
// The daemon stores workflows; it does not execute them.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Steps       []WorkflowStep `json:"steps"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// WorkflowStep is one prompt in a workflow.
type WorkflowStep struct {
	Name      string `json:"name,omitempty"`
	AgentType string `json:"agent_type,omitempty"`
	Message   string `json:"message"`
}

// Validate checks the workflow has a name and non-empty steps.
func (w *Workflow) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidWorkflow)
	}
	for i, s := range w.Steps {
		if strings.TrimSpace(s.Message) == "" {
			return fmt.Errorf("%w: step %d has no message", ErrInvalidWorkflow, i+1)
		}
	}
	return nil
}
