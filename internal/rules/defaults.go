package rules

const (
	// SetGeneral is the default rule set for conversational agents.
	SetGeneral = "general"
	// SetResearch favors gathering before answering.
	SetResearch = "research"
)

var defaults = map[string]func() RuleSet{
	SetGeneral:  General,
	SetResearch: Research,
}

// General answers as soon as the agent responds.
func General() RuleSet {
	return RuleSet{
		Name: SetGeneral,
		Rules: []Rule{
			Terminal("response"),
			MaxCount("delegate_task", 2),
			MaxCount("memory_search", 5),
			Child("memory_search", "response"),
		},
	}
}

// Research keeps the loop going while the agent is still searching and
// steers it from search to fetch to notes.
func Research() RuleSet {
	return RuleSet{
		Name: SetResearch,
		Rules: []Rule{
			Terminal("response"),
			ContinueAfter("web_search"),
			ContinueAfter("web_fetch"),
			MaxCount("web_search", 8),
			MaxCount("web_fetch", 12),
			MaxCount("delegate_task", 5),
			Child("web_search", "web_fetch", "memory_append"),
			Child("web_fetch", "memory_append", "response"),
			Child("memory_append", "response"),
		},
	}
}

// Lookup returns a fresh copy of the named built-in rule set.
func Lookup(name string) (RuleSet, bool) {
	fn, ok := defaults[name]
	if !ok {
		return RuleSet{}, false
	}
	return fn(), true
}
