package parser

import (
	"encoding/json"
	"strings"

	"github.com/haasonsaas/agentd/pkg/models"
)

// parseLines looks for JSON values that begin a line. Each candidate's
// extent is found with one bracket scan and decoded once, with raw newlines
// and tabs inside strings escaped. The first start still open at end of text
// is closed and decoded last, which recovers truncated generations.
func parseLines(text string) []models.ToolCall {
	var calls []models.ToolCall
	unclosed := -1

	for off := 0; off < len(text); {
		lineEnd := len(text)
		if nl := strings.IndexByte(text[off:], '\n'); nl >= 0 {
			lineEnd = off + nl
		}
		start := off + len(text[off:lineEnd]) - len(strings.TrimLeft(text[off:lineEnd], " \t\r"))
		off = lineEnd + 1
		if start >= lineEnd || (text[start] != '{' && text[start] != '[') {
			continue
		}

		end := matchClose(text, start)
		if end < 0 {
			if unclosed < 0 {
				unclosed = start
			}
			continue
		}
		found := decodeLoose(text[start : end+1])
		if len(found) == 0 {
			continue
		}
		calls = append(calls, found...)
		// Anything open before this call encloses it.
		unclosed = -1
		if nl := strings.IndexByte(text[end:], '\n'); nl >= 0 {
			off = end + nl + 1
		} else {
			off = len(text)
		}
	}

	if unclosed >= 0 {
		calls = append(calls, decodeLoose(closeOpen(text[unclosed:]))...)
	}
	return calls
}

func decodeLoose(s string) []models.ToolCall {
	s = strings.TrimSpace(s)
	if found := decodeCalls(s); len(found) > 0 || json.Valid([]byte(s)) {
		return found
	}
	return decodeCalls(repairLenient(escapeControlInStrings(s)))
}

// escapeControlInStrings replaces raw newlines, carriage returns and tabs
// inside double-quoted strings with their escape sequences.
func escapeControlInStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}
		switch {
		case escaped:
			escaped = false
			b.WriteByte(c)
		case c == '\\':
			escaped = true
			b.WriteByte(c)
		case c == '"':
			inString = false
			b.WriteByte(c)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// closeOpen terminates an unterminated string and appends the closers for
// every bracket still open at the end of s.
func closeOpen(s string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) == 0 && !inString {
		return s
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(s, " \t\r\n,"))
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}
