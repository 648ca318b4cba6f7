package parser

import (
	"regexp"

	"github.com/haasonsaas/agentd/pkg/models"
)

var (
	taggedPattern = regexp.MustCompile(`(?is)<(?:tool_call|function_call|tool)>(.*?)</(?:tool_call|function_call|tool)>`)
	fencedPattern = regexp.MustCompile("(?s)```[ \\t]*([A-Za-z0-9_]*)[ \\t]*\\r?\\n?(.*?)```")
)

// parseTagged extracts calls from explicit <tool_call> blocks, in order.
func parseTagged(text string) []models.ToolCall {
	var calls []models.ToolCall
	for _, m := range taggedPattern.FindAllStringSubmatch(text, -1) {
		body := m[1]
		if found := decodeCalls(body); len(found) > 0 {
			calls = append(calls, found...)
			continue
		}
		calls = append(calls, parseBraces(body)...)
	}
	return calls
}

// parseFenced extracts calls from ``` fenced blocks whose body is JSON.
func parseFenced(text string) []models.ToolCall {
	var calls []models.ToolCall
	for _, m := range fencedPattern.FindAllStringSubmatch(text, -1) {
		switch m[1] {
		case "", "json", "JSON", "json5", "tool_call", "tool":
		default:
			continue
		}
		body := m[2]
		if found := decodeCalls(body); len(found) > 0 {
			calls = append(calls, found...)
			continue
		}
		if repaired := repairLenient(body); repaired != body {
			calls = append(calls, decodeCalls(repaired)...)
		}
	}
	return calls
}
