// Package rules constrains tool-call sequencing within a single agent run.
package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Kind identifies a rule type.
type Kind string

const (
	// KindTerminal ends the run after the tool is called.
	KindTerminal Kind = "terminal"
	// KindContinueAfter cancels termination for a turn that calls the tool.
	KindContinueAfter Kind = "continue_after"
	// KindMaxCount rejects calls beyond a per-run limit.
	KindMaxCount Kind = "max_count"
	// KindChild suggests follow-up tools after the tool is called.
	KindChild Kind = "child"
)

// ErrLimitExceeded is returned by State.Check when a max-count rule rejects a call.
var ErrLimitExceeded = errors.New("tool call limit exceeded")

// Rule is one declarative constraint.
type Rule struct {
	Kind     Kind     `json:"type" yaml:"type"`
	Tool     string   `json:"tool" yaml:"tool"`
	Limit    int      `json:"limit,omitempty" yaml:"limit,omitempty"`
	Children []string `json:"children,omitempty" yaml:"children,omitempty"`
}

// Terminal ends the run once tool is called.
func Terminal(tool string) Rule { return Rule{Kind: KindTerminal, Tool: tool} }

// ContinueAfter keeps the run going after tool even if a terminal rule fired.
func ContinueAfter(tool string) Rule { return Rule{Kind: KindContinueAfter, Tool: tool} }

// MaxCount rejects calls to tool beyond limit per run.
func MaxCount(tool string, limit int) Rule {
	return Rule{Kind: KindMaxCount, Tool: tool, Limit: limit}
}

// Child suggests next as the follow-up tools after tool.
func Child(tool string, next ...string) Rule {
	return Rule{Kind: KindChild, Tool: tool, Children: next}
}

// Validate checks that the rule is well formed.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Tool) == "" {
		return fmt.Errorf("%s rule: tool is required", r.Kind)
	}
	switch r.Kind {
	case KindTerminal, KindContinueAfter:
	case KindMaxCount:
		if r.Limit < 0 {
			return fmt.Errorf("max_count rule for %s: limit must be >= 0", r.Tool)
		}
	case KindChild:
		if len(r.Children) == 0 {
			return fmt.Errorf("child rule for %s: children are required", r.Tool)
		}
	default:
		return fmt.Errorf("unknown rule type %q", r.Kind)
	}
	return nil
}

// RuleSet is a named collection of rules selectable per agent profile.
type RuleSet struct {
	Name  string `json:"name" yaml:"name"`
	Rules []Rule `json:"rules" yaml:"rules"`
}

// Validate checks every rule in the set.
func (rs RuleSet) Validate() error {
	for i, r := range rs.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule set %s: rule %d: %w", rs.Name, i, err)
		}
	}
	return nil
}

// Violation describes a rejected call.
type Violation struct {
	Tool  string
	Limit int
	Count int
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s called %d times (limit %d)", ErrLimitExceeded, v.Tool, v.Count, v.Limit)
}

func (v *Violation) Unwrap() error { return ErrLimitExceeded }

// State tracks per-tool call counts for one run and evaluates a RuleSet
// against them.
type State struct {
	mu       sync.Mutex
	set      RuleSet
	counts   map[string]int
	lastTool string
}

// NewState creates run-scoped state for the given rule set.
func NewState(set RuleSet) *State {
	return &State{set: set, counts: make(map[string]int)}
}

// RuleSet returns the rules this state evaluates.
func (s *State) RuleSet() RuleSet { return s.set }

// Check reports whether another call to tool is allowed. It returns a
// *Violation when a max-count rule would be exceeded.
func (s *State) Check(tool string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit, ok := s.limitLocked(tool); ok && s.counts[tool] >= limit {
		return &Violation{Tool: tool, Limit: limit, Count: s.counts[tool]}
	}
	return nil
}

// Record counts one call to tool.
func (s *State) Record(tool string) {
	s.mu.Lock()
	s.counts[tool]++
	s.lastTool = tool
	s.mu.Unlock()
}

// Count returns the number of recorded calls to tool.
func (s *State) Count(tool string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[tool]
}

// Counts returns a copy of all recorded counts.
func (s *State) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// Restore replaces recorded counts, used when resuming a checkpointed run.
func (s *State) Restore(counts map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = make(map[string]int, len(counts))
	for k, v := range counts {
		s.counts[k] = v
	}
}

// IsAtLimit reports whether tool has reached its max-count limit.
func (s *State) IsAtLimit(tool string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit, ok := s.limitLocked(tool)
	return ok && s.counts[tool] >= limit
}

// Reset clears all counts.
func (s *State) Reset() {
	s.mu.Lock()
	s.counts = make(map[string]int)
	s.lastTool = ""
	s.mu.Unlock()
}

// IsTerminal reports whether tool is covered by a terminal rule.
func (s *State) IsTerminal(tool string) bool {
	return s.has(KindTerminal, tool)
}

// ShouldTerminate reports whether a turn that called the given tools ends
// the run: at least one tool is terminal and none carries a continue-after
// rule.
func (s *State) ShouldTerminate(tools []string) bool {
	terminal := false
	for _, t := range tools {
		if s.has(KindContinueAfter, t) {
			return false
		}
		if s.has(KindTerminal, t) {
			terminal = true
		}
	}
	return terminal
}

// NextTools returns the follow-up tools suggested after the most recently
// recorded call, or nil.
func (s *State) NextTools() []string {
	s.mu.Lock()
	last := s.lastTool
	s.mu.Unlock()
	if last == "" {
		return nil
	}
	seen := make(map[string]bool)
	var next []string
	for _, r := range s.set.Rules {
		if r.Kind != KindChild || r.Tool != last {
			continue
		}
		for _, c := range r.Children {
			if !seen[c] {
				seen[c] = true
				next = append(next, c)
			}
		}
	}
	return next
}

// Hint renders NextTools as a prompt nudge, or "" when there is none.
func (s *State) Hint() string {
	next := s.NextTools()
	if len(next) == 0 {
		return ""
	}
	return "Suggested next tools: " + strings.Join(next, ", ")
}

// Limits returns the max-count limits declared by the rule set, keyed by tool.
func (s *State) Limits() map[string]int {
	out := make(map[string]int)
	for _, r := range s.set.Rules {
		if r.Kind == KindMaxCount {
			if cur, ok := out[r.Tool]; !ok || r.Limit < cur {
				out[r.Tool] = r.Limit
			}
		}
	}
	return out
}

func (s *State) has(kind Kind, tool string) bool {
	for _, r := range s.set.Rules {
		if r.Kind == kind && r.Tool == tool {
			return true
		}
	}
	return false
}

// limitLocked returns the strictest max-count limit for tool.
func (s *State) limitLocked(tool string) (int, bool) {
	limit, found := 0, false
	for _, r := range s.set.Rules {
		if r.Kind != KindMaxCount || r.Tool != tool {
			continue
		}
		if !found || r.Limit < limit {
			limit, found = r.Limit, true
		}
	}
	return limit, found
}

// Names returns the names of the built-in rule sets.
func Names() []string {
	names := make([]string, 0, len(defaults))
	for name := range defaults {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
