package parser

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/haasonsaas/agentd/pkg/models"
)

// Two call shapes are accepted and normalized to models.ToolCall:
//
//	{"name": "file", "arguments": {"path": "/tmp"}}          (function dialect)
//	{"tool": "file", "tool_input": {"path": "/tmp"}}         (action dialect)
//
// The function dialect also accepts an OpenAI-style {"function": {...}}
// wrapper and "parameters"/"args" for the argument object. The action dialect
// accepts "action"/"action_input" as produced by ReAct prompts.

var (
	nameKeys     = []string{"name", "tool", "tool_name", "action"}
	argumentKeys = []string{"arguments", "parameters", "args", "tool_input", "action_input", "input"}
	thoughtKeys  = []string{"thoughts", "thought", "reasoning"}
	idKeys       = []string{"id", "call_id", "tool_call_id"}

	toolNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.:\-]{0,127}$`)
)

// decodeCalls strictly decodes data as one call object or an array of call
// objects. It returns nil when data is not valid JSON or holds no valid call.
func decodeCalls(data string) []models.ToolCall {
	data = strings.TrimSpace(data)
	if data == "" || (data[0] != '{' && data[0] != '[') {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	if dec.More() {
		return nil
	}
	return callsFromValue(v)
}

func callsFromValue(v any) []models.ToolCall {
	switch typed := v.(type) {
	case map[string]any:
		if call, ok := callFromObject(typed); ok {
			return []models.ToolCall{call}
		}
		// {"tool_calls": [...]} envelope.
		if inner, ok := typed["tool_calls"]; ok {
			return callsFromValue(inner)
		}
	case []any:
		var calls []models.ToolCall
		for _, item := range typed {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if call, ok := callFromObject(obj); ok {
				calls = append(calls, call)
			}
		}
		return calls
	}
	return nil
}

func callFromObject(obj map[string]any) (models.ToolCall, bool) {
	if fn, ok := obj["function"].(map[string]any); ok {
		merged := make(map[string]any, len(obj)+len(fn))
		for k, v := range obj {
			if k != "function" {
				merged[k] = v
			}
		}
		for k, v := range fn {
			merged[k] = v
		}
		obj = merged
	}

	name := firstString(obj, nameKeys)
	if strings.EqualFold(name, "final answer") || strings.EqualFold(name, "final_answer") {
		name = models.ResponseTool
	}
	if !toolNamePattern.MatchString(name) {
		return models.ToolCall{}, false
	}

	call := models.ToolCall{
		Name:      name,
		Arguments: map[string]string{},
		RawID:     firstString(obj, idKeys),
		Thoughts:  thoughtsFrom(obj),
	}

	for _, key := range argumentKeys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		switch args := raw.(type) {
		case map[string]any:
			for k, v := range args {
				call.Arguments[k] = stringify(v)
			}
		case string:
			if nested := decodeObject(args); nested != nil {
				for k, v := range nested {
					call.Arguments[k] = stringify(v)
				}
			} else if name == models.ResponseTool {
				call.Arguments["message"] = args
			} else {
				call.Arguments["input"] = args
			}
		case nil:
		default:
			call.Arguments["input"] = stringify(args)
		}
		break
	}

	return call, true
}

func decodeObject(s string) map[string]any {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil
	}
	return m
}

func firstString(obj map[string]any, keys []string) string {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func thoughtsFrom(obj map[string]any) []string {
	for _, key := range thoughtKeys {
		switch typed := obj[key].(type) {
		case string:
			if t := strings.TrimSpace(typed); t != "" {
				return []string{t}
			}
		case []any:
			var out []string
			for _, item := range typed {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}

// stringify renders a decoded JSON value as argument text. Numbers keep their
// literal form; objects and arrays are re-encoded compactly.
func stringify(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	case json.Number:
		return typed.String()
	case bool:
		if typed {
			return "true"
		}
		return "false"
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(typed); err != nil {
			return ""
		}
		return strings.TrimSpace(buf.String())
	}
}
