package agent

import "github.com/haasonsaas/agentd/pkg/models"

// Request starts a run.
type Request struct {
	Message   string           `json:"message"`
	AgentType string           `json:"agent_type,omitempty"`
	Provider  string           `json:"provider,omitempty"`
	Model     string           `json:"model,omitempty"`
	History   []models.Message `json:"conversation_history,omitempty"`
	// RunID lets the caller pick the run id; empty generates one.
	RunID string `json:"run_id,omitempty"`
}

// Result summarizes a finished run. Agent-domain failures are reported
// through Success and Error rather than a Go error.
type Result struct {
	RunID        string              `json:"run_id"`
	AgentType    string              `json:"agent_type"`
	Output       string              `json:"output"`
	Success      bool                `json:"success"`
	StepCount    int                 `json:"steps"`
	Steps        []models.Step       `json:"step_log"`
	ToolResults  []models.ToolResult `json:"tool_results"`
	Turns        int                 `json:"turns"`
	CheckpointID string              `json:"checkpoint_id,omitempty"`
	Error        string              `json:"error,omitempty"`
	ErrorCode    string              `json:"error_code,omitempty"`
}

// Outcome names how the run ended.
func (r *Result) Outcome() string {
	switch {
	case r.CheckpointID != "" && r.Success:
		return "checkpointed"
	case r.Success:
		return "final_answer"
	}
	return "error"
}

// Error codes carried on error steps that do not come from a backend.
const (
	CodeStepBudget       = "step_budget_exhausted"
	CodeCheckpointFailed = "checkpoint_failed"
	CodeCanceled         = "canceled"
	CodeDisconnected     = "client_disconnected"
	CodeRuleViolation    = "rule_violation"
	CodeLimitExceeded    = "limit_exceeded"
	CodeDisabled         = "disabled"
)
