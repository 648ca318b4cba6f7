package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentd/pkg/models"
)

const callFormat = `## Tools
Call a tool by replying with one JSON object inside tool_call tags:
<tool_call>{"name": "tool_name", "arguments": {"key": "value"}}</tool_call>
Several calls may follow each other. To answer the user, call "response" with a "message" argument.
Argument values are strings.`

// systemPrompt compiles persona, memory and the tool catalog.
func (l *Loop) systemPrompt(p Profile) string {
	var b strings.Builder
	if l.rt.memory != nil {
		b.WriteString(l.rt.memory.Compile(p.Persona))
	} else {
		b.WriteString(strings.TrimSpace(p.Persona))
	}
	b.WriteString("\n\n")
	b.WriteString(callFormat)
	b.WriteString("\n\nAvailable tools:\n")
	for _, e := range l.rt.registry.Entries() {
		if e.Disabled || !p.Allows(e.Name) {
			continue
		}
		fmt.Fprintf(&b, "- %s (risk: %s)", e.Name, e.RiskLevel)
		if e.Description != "" {
			b.WriteString(": " + e.Description)
		}
		b.WriteByte('\n')
		if len(e.Schema) > 0 {
			fmt.Fprintf(&b, "  arguments: %s\n", compactSchema(e.Schema))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// toolResultsMessage renders one turn's results for the next user message.
func toolResultsMessage(results []models.ToolResult, hint string) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		status := "success"
		if !r.Success {
			status = "error"
			if r.ErrorCode != "" {
				status += ": " + r.ErrorCode
			}
		}
		fmt.Fprintf(&b, "<tool_result name=%q status=%q>\n%s\n</tool_result>", r.Name, status, r.Output)
	}
	if hint != "" {
		b.WriteString("\n\n" + hint)
	}
	return b.String()
}

// appendUser adds a user message, merging into a trailing user message so
// roles keep alternating.
func appendUser(msgs []models.Message, content string) []models.Message {
	if n := len(msgs); n > 0 && msgs[n-1].Role == models.RoleUser {
		msgs[n-1].Content += "\n\n" + content
		return msgs
	}
	return append(msgs, models.UserMessage(content))
}

// normalizeHistory drops system and empty messages from caller-supplied
// history and merges consecutive same-role messages.
func normalizeHistory(history []models.Message) []models.Message {
	out := make([]models.Message, 0, len(history))
	for _, m := range history {
		if m.Role == models.RoleSystem || !m.Role.Valid() || strings.TrimSpace(m.Content) == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	// Conversations must open with the user.
	for len(out) > 0 && out[0].Role != models.RoleUser {
		out = out[1:]
	}
	return out
}

func compactSchema(schema json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, schema); err != nil {
		return string(schema)
	}
	return buf.String()
}
