package models

import "time"

// StepType discriminates the kind of progress a Step records.
type StepType string

const (
	StepThink          StepType = "think"
	StepToolCall       StepType = "tool_call"
	StepToolResult     StepType = "tool_result"
	StepFinalAnswer    StepType = "final_answer"
	StepError          StepType = "error"
	StepCheckpoint     StepType = "checkpoint"
	StepSubAgentSpawn  StepType = "sub_agent_spawn"
	StepSubAgentResult StepType = "sub_agent_result"
)

// Terminal reports whether a step of this type ends a run.
func (t StepType) Terminal() bool {
	switch t {
	case StepFinalAnswer, StepError, StepCheckpoint:
		return true
	}
	return false
}

// Step is one discrete unit of observable progress in an agent run.
//
// The ordered sequence of steps is both the live stream sent to callers and
// the audit trail of the run. Seq is strictly increasing within a run.
type Step struct {
	ID           string            `json:"id"`
	RunID        string            `json:"run_id"`
	Seq          uint64            `json:"seq"`
	Type         StepType          `json:"type"`
	Content      string            `json:"content,omitempty"`
	ToolName     string            `json:"tool_name,omitempty"`
	Arguments    map[string]string `json:"arguments,omitempty"`
	Success      *bool             `json:"success,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	Agent        string            `json:"agent,omitempty"`
	CheckpointID string            `json:"checkpoint_id,omitempty"`
	Time         time.Time         `json:"at"`
}

// Bool returns a pointer to b, for Step.Success.
func Bool(b bool) *bool {
	return &b
}
