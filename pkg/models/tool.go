package models

import (
	"encoding/json"
	"sort"
)

// ResponseTool is the implicit tool that carries a plain-text reply.
// Model output with no structured call is normalized into a call to it.
const ResponseTool = "response"

// ToolCall is one structured request, extracted from model text, to invoke a
// named capability.
type ToolCall struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments"`
	Thoughts  []string          `json:"thoughts,omitempty"`
	RawID     string            `json:"raw_id,omitempty"`
}

// Argument returns the named argument or the empty string.
func (tc ToolCall) Argument(key string) string {
	if tc.Arguments == nil {
		return ""
	}
	return tc.Arguments[key]
}

// IsResponse reports whether the call is a plain reply.
func (tc ToolCall) IsResponse() bool {
	return tc.Name == ResponseTool
}

// ArgumentKeys returns the argument names in sorted order.
func (tc ToolCall) ArgumentKeys() []string {
	keys := make([]string, 0, len(tc.Arguments))
	for k := range tc.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToolResult is the outcome of one tool invocation. It feeds the next message.
type ToolResult struct {
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	Output    string `json:"output"`
	ErrorCode string `json:"error_code,omitempty"`
}

// RiskLevel is the declared risk tier of a tool.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ToolEntry is the registry's public view of a registered tool.
type ToolEntry struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	RiskLevel   RiskLevel       `json:"risk_level"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	ErrorCount  int             `json:"error_count"`
	Disabled    bool            `json:"disabled"`
}
