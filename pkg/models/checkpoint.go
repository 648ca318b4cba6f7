package models

import "time"

// RunStatus is the lifecycle status of a checkpointed run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// AgentRunCheckpoint is a durable snapshot of an in-progress run.
type AgentRunCheckpoint struct {
	ID             string         `json:"id"`
	RunID          string         `json:"run_id,omitempty"`
	AgentType      string         `json:"agent_type"`
	Provider       string         `json:"provider,omitempty"`
	Model          string         `json:"model,omitempty"`
	StepCount      int            `json:"step_count"`
	Status         RunStatus      `json:"status"`
	UserMessage    string         `json:"user_message"`
	MessageHistory []Message      `json:"message_history"`
	ToolCounts     map[string]int `json:"tool_counts,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Clone returns a deep copy.
func (c *AgentRunCheckpoint) Clone() *AgentRunCheckpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.MessageHistory = CloneMessages(c.MessageHistory)
	if c.ToolCounts != nil {
		out.ToolCounts = make(map[string]int, len(c.ToolCounts))
		for k, v := range c.ToolCounts {
			out.ToolCounts[k] = v
		}
	}
	return &out
}
