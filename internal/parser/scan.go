package parser

import (
	"encoding/json"
	"strings"

	"github.com/haasonsaas/agentd/pkg/models"
)

// parseBraces scans text for brace-balanced JSON objects (and arrays of
// objects) anywhere in the prose and decodes each, repairing unquoted keys and
// trailing commas when strict decoding fails.
func parseBraces(text string) []models.ToolCall {
	var calls []models.ToolCall
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '{' && c != '[' {
			continue
		}
		if c == '[' && !arrayOfObjectsAhead(text[i+1:]) {
			continue
		}
		end := matchClose(text, i)
		if end < 0 {
			continue
		}
		candidate := text[i : end+1]
		found := decodeCalls(candidate)
		if len(found) == 0 && !json.Valid([]byte(candidate)) {
			found = decodeCalls(repairLenient(candidate))
		}
		if len(found) > 0 {
			calls = append(calls, found...)
			i = end
		}
	}
	return calls
}

func arrayOfObjectsAhead(s string) bool {
	s = strings.TrimLeft(s, " \t\r\n")
	return strings.HasPrefix(s, "{")
}

// matchClose returns the index of the bracket closing the one at start, or -1.
// Brackets inside double-quoted strings are ignored.
func matchClose(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
			if depth < 0 {
				return -1
			}
		}
	}
	return -1
}

// repairLenient quotes bare object keys and drops trailing commas, leaving
// string contents untouched.
func repairLenient(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	var open []byte
	inString := false
	escaped := false
	expectKey := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
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

		switch {
		case c == '"':
			inString = true
			expectKey = false
			b.WriteByte(c)
		case c == '{' || c == '[':
			open = append(open, c)
			expectKey = c == '{'
			b.WriteByte(c)
		case c == '}' || c == ']':
			if len(open) > 0 {
				open = open[:len(open)-1]
			}
			expectKey = false
			b.WriteByte(c)
		case c == ',':
			if next := nextSignificant(s, i+1); next == '}' || next == ']' {
				continue
			}
			expectKey = len(open) > 0 && open[len(open)-1] == '{'
			b.WriteByte(c)
		case expectKey && isIdentStart(c):
			j := i
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			if nextSignificant(s, j) == ':' {
				b.WriteByte('"')
				b.WriteString(s[i:j])
				b.WriteByte('"')
				i = j - 1
			} else {
				b.WriteByte(c)
			}
			expectKey = false
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			b.WriteByte(c)
		default:
			expectKey = false
			b.WriteByte(c)
		}
	}
	return b.String()
}

func nextSignificant(s string, from int) byte {
	for i := from; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return s[i]
		}
	}
	return 0
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c == '-' || (c >= '0' && c <= '9')
}
