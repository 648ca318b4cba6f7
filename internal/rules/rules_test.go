package rules

import (
	"errors"
	"testing"
)

func TestMaxCountLimit(t *testing.T) {
	s := NewState(RuleSet{Name: "t", Rules: []Rule{MaxCount("file", 3)}})

	for i := 0; i < 3; i++ {
		if s.IsAtLimit("file") {
			t.Fatalf("at limit after %d calls", i)
		}
		if err := s.Check("file"); err != nil {
			t.Fatalf("Check() after %d calls: %v", i, err)
		}
		s.Record("file")
	}

	if !s.IsAtLimit("file") {
		t.Fatal("expected IsAtLimit after 3 calls")
	}
	err := s.Check("file")
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("Check() error = %v, want ErrLimitExceeded", err)
	}
	var v *Violation
	if !errors.As(err, &v) || v.Limit != 3 || v.Count != 3 {
		t.Fatalf("violation = %+v", v)
	}

	s.Reset()
	if s.IsAtLimit("file") {
		t.Fatal("IsAtLimit should be false after Reset")
	}
	if s.Count("file") != 0 {
		t.Fatalf("Count after Reset = %d", s.Count("file"))
	}
}

func TestUnlimitedTool(t *testing.T) {
	s := NewState(General())
	for i := 0; i < 100; i++ {
		s.Record("file")
	}
	if s.IsAtLimit("file") || s.Check("file") != nil {
		t.Fatal("tool without max_count rule should never hit a limit")
	}
}

func TestStrictestLimitWins(t *testing.T) {
	s := NewState(RuleSet{Rules: []Rule{MaxCount("x", 5), MaxCount("x", 2)}})
	s.Record("x")
	s.Record("x")
	if !s.IsAtLimit("x") {
		t.Fatal("expected the lower limit to apply")
	}
}

func TestShouldTerminate(t *testing.T) {
	s := NewState(Research())
	tests := []struct {
		name  string
		tools []string
		want  bool
	}{
		{"response alone", []string{"response"}, true},
		{"continue-after overrides", []string{"web_search", "response"}, false},
		{"non-terminal", []string{"memory_append"}, false},
		{"empty turn", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.ShouldTerminate(tt.tools); got != tt.want {
				t.Errorf("ShouldTerminate(%v) = %v, want %v", tt.tools, got, tt.want)
			}
		})
	}
}

func TestNextTools(t *testing.T) {
	s := NewState(Research())
	if s.NextTools() != nil || s.Hint() != "" {
		t.Fatal("no hint expected before any call")
	}
	s.Record("web_search")
	next := s.NextTools()
	if len(next) != 2 || next[0] != "web_fetch" || next[1] != "memory_append" {
		t.Fatalf("NextTools = %v", next)
	}
	if s.Hint() != "Suggested next tools: web_fetch, memory_append" {
		t.Fatalf("Hint = %q", s.Hint())
	}
}

func TestRestore(t *testing.T) {
	s := NewState(General())
	s.Restore(map[string]int{"delegate_task": 2})
	if !s.IsAtLimit("delegate_task") {
		t.Fatal("restored count should reach the limit")
	}
	counts := s.Counts()
	counts["delegate_task"] = 0
	if s.Count("delegate_task") != 2 {
		t.Fatal("Counts must return a copy")
	}
}

func TestDefaultsValidate(t *testing.T) {
	for _, name := range Names() {
		set, ok := Lookup(name)
		if !ok {
			t.Fatalf("Lookup(%q) failed", name)
		}
		if err := set.Validate(); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	if _, ok := Lookup("missing"); ok {
		t.Fatal("Lookup should fail for unknown set")
	}
}

func TestRuleValidate(t *testing.T) {
	bad := []Rule{
		{Kind: KindTerminal},
		{Kind: KindMaxCount, Tool: "x", Limit: -1},
		{Kind: KindChild, Tool: "x"},
		{Kind: "bogus", Tool: "x"},
	}
	for _, r := range bad {
		if err := r.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, want error", r)
		}
	}
}
