package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/agentd/internal/rules"
)

// Built-in profile names.
const (
	ProfileGeneral  = "general"
	ProfileResearch = "research"
)

const (
	defaultMaxSteps = 20
	researchSteps   = 40
)

// Profile selects the persona, rule set and budgets for an agent_type.
type Profile struct {
	Name     string `yaml:"name" json:"name"`
	Persona  string `yaml:"persona" json:"persona"`
	RuleSet  string `yaml:"rule_set" json:"rule_set"`
	MaxSteps int    `yaml:"max_steps" json:"max_steps"`
	// Tools restricts which registered tools may be called. Empty allows all.
	Tools     []string `yaml:"tools" json:"tools,omitempty"`
	Provider  string   `yaml:"provider" json:"provider,omitempty"`
	Model     string   `yaml:"model" json:"model,omitempty"`
	MaxTokens int      `yaml:"max_tokens" json:"max_tokens,omitempty"`
}

// Allows reports whether the profile permits calling tool.
func (p Profile) Allows(tool string) bool {
	if len(p.Tools) == 0 || tool == "response" {
		return true
	}
	for _, t := range p.Tools {
		if t == tool {
			return true
		}
	}
	return false
}

// Validate checks the profile references a known rule set.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile name is required")
	}
	if _, ok := rules.Lookup(p.ruleSetName()); !ok {
		return fmt.Errorf("profile %s: unknown rule set %q (known: %s)", p.Name, p.RuleSet, strings.Join(rules.Names(), ", "))
	}
	if p.MaxSteps < 0 {
		return fmt.Errorf("profile %s: max_steps must be >= 0", p.Name)
	}
	return nil
}

func (p Profile) ruleSetName() string {
	if p.RuleSet == "" {
		return rules.SetGeneral
	}
	return p.RuleSet
}

func (p Profile) ruleSet() rules.RuleSet {
	rs, _ := rules.Lookup(p.ruleSetName())
	return rs
}

// DefaultProfiles returns the general and research profiles.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		ProfileGeneral: {
			Name: ProfileGeneral,
			Persona: "You are a capable local assistant running on the user's machine. " +
				"Use tools when they help, and answer with the response tool when you are done.",
			RuleSet:  rules.SetGeneral,
			MaxSteps: defaultMaxSteps,
		},
		ProfileResearch: {
			Name: ProfileResearch,
			Persona: "You are a careful research assistant. Search broadly, read primary sources, " +
				"record findings in memory, then answer with the response tool citing what you found.",
			RuleSet:  rules.SetResearch,
			MaxSteps: researchSteps,
		},
	}
}

// MergeProfiles overlays custom profiles on the defaults. Zero fields in an
// override keep the default's value.
func MergeProfiles(overrides map[string]Profile) (map[string]Profile, error) {
	out := DefaultProfiles()
	for name, p := range overrides {
		if p.Name == "" {
			p.Name = name
		}
		if base, ok := out[name]; ok {
			if p.Persona == "" {
				p.Persona = base.Persona
			}
			if p.RuleSet == "" {
				p.RuleSet = base.RuleSet
			}
			if p.MaxSteps == 0 {
				p.MaxSteps = base.MaxSteps
			}
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		out[name] = p
	}
	return out, nil
}

func profileNames(profiles map[string]Profile) []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
