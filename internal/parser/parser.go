// Package parser recovers structured tool calls from free-text model output.
//
// Local models are unreliable about output format, so Parse tries several
// independent extraction strategies in a fixed priority order and stops at the
// first one that yields a structurally valid call:
//
//  1. explicit tagged blocks (<tool_call>...</tool_call>)
//  2. fenced code blocks containing JSON
//  3. a brace-balanced scan that tolerates unquoted keys and trailing commas
//  4. line-by-line JSON accumulation, which also repairs raw control
//     characters in strings and closes truncated objects
//
// When no strategy yields a call, the whole text becomes an implicit
// "response" call. Parse never panics and never returns an empty slice.
package parser

import (
	"regexp"
	"strings"

	"github.com/haasonsaas/agentd/pkg/models"
)

// Strategy names the extraction strategy that produced a result.
type Strategy string

const (
	StrategyTagged   Strategy = "tagged"
	StrategyFenced   Strategy = "fenced"
	StrategyBraces   Strategy = "braces"
	StrategyLines    Strategy = "lines"
	StrategyResponse Strategy = "response"
)

// Result is the outcome of parsing one blob of model text.
type Result struct {
	Calls    []models.ToolCall
	Strategy Strategy
	// Thoughts holds reasoning extracted from <think> blocks.
	Thoughts []string

	body string
}

// Inline reports whether the calls were found as bare JSON in the text
// rather than in a tagged or fenced block.
func (r Result) Inline() bool {
	return r.Strategy == StrategyBraces || r.Strategy == StrategyLines
}

// AsResponse reinterprets the parsed text as a plain reply.
func (r Result) AsResponse() Result {
	return Result{
		Calls:    []models.ToolCall{responseCall(r.body, r.Thoughts)},
		Strategy: StrategyResponse,
		Thoughts: r.Thoughts,
		body:     r.body,
	}
}

type strategyFunc func(text string) []models.ToolCall

var strategies = []struct {
	name Strategy
	fn   strategyFunc
}{
	{StrategyTagged, parseTagged},
	{StrategyFenced, parseFenced},
	{StrategyBraces, parseBraces},
	{StrategyLines, parseLines},
}

var thinkPattern = regexp.MustCompile(`(?is)<think(?:ing)?>(.*?)</think(?:ing)?>`)

// Parse returns the ordered tool calls found in text. It always returns at
// least one call.
func Parse(text string) []models.ToolCall {
	return ParseResult(text).Calls
}

// ParseResult is Parse with diagnostics about which strategy matched.
func ParseResult(text string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Calls:    []models.ToolCall{responseCall(text, nil)},
				Strategy: StrategyResponse,
				body:     text,
			}
		}
	}()

	body, thoughts := extractThoughts(text)

	for _, s := range strategies {
		calls := s.fn(body)
		if len(calls) == 0 {
			continue
		}
		if len(thoughts) > 0 {
			calls[0].Thoughts = append(append([]string{}, thoughts...), calls[0].Thoughts...)
		}
		return Result{Calls: calls, Strategy: s.name, Thoughts: thoughts, body: body}
	}

	return Result{
		Calls:    []models.ToolCall{responseCall(body, thoughts)},
		Strategy: StrategyResponse,
		Thoughts: thoughts,
		body:     body,
	}
}

// extractThoughts strips <think> blocks emitted by reasoning models and
// returns them separately.
func extractThoughts(text string) (string, []string) {
	matches := thinkPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, nil
	}
	thoughts := make([]string, 0, len(matches))
	for _, m := range matches {
		if t := strings.TrimSpace(m[1]); t != "" {
			thoughts = append(thoughts, t)
		}
	}
	return thinkPattern.ReplaceAllString(text, ""), thoughts
}

func responseCall(text string, thoughts []string) models.ToolCall {
	return models.ToolCall{
		Name:      models.ResponseTool,
		Arguments: map[string]string{"message": strings.TrimSpace(text)},
		Thoughts:  thoughts,
	}
}
