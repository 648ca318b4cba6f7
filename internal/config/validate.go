package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentd/internal/agent"
	"github.com/haasonsaas/agentd/internal/llm"
)

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// Validate checks cross-field consistency. Call after ApplyDefaults.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if err := ValidateVersion(c.Version); err != nil {
		add("version: %v", err)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port must be between 1 and 65535")
	}
	if c.Server.MaxBodyBytes <= 0 {
		add("server.max_body_bytes must be positive")
	}
	if c.Server.MaxConnections <= 0 {
		add("server.max_connections must be positive")
	}

	if c.RateLimit.Requests <= 0 {
		add("rate_limit.requests_per_window must be positive")
	}
	for path, n := range c.RateLimit.Overrides {
		if !strings.HasPrefix(path, "/") {
			add("rate_limit.overrides: %q is not a path", path)
		}
		if n <= 0 {
			add("rate_limit.overrides[%s] must be positive", path)
		}
	}

	if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
		add("llm.default_provider %q is not in llm.providers", c.LLM.DefaultProvider)
	}
	for name, p := range c.LLM.Providers {
		kind := strings.ToLower(p.Kind)
		if kind == "" {
			kind = strings.ToLower(name)
		}
		switch kind {
		case llm.KindOllama, llm.KindOpenAI, llm.KindGoogle:
		case llm.KindAnthropic:
			if p.APIKey == "" {
				add("llm.providers.%s.api_key is required for anthropic", name)
			}
		default:
			add("llm.providers.%s: unknown kind %q (set kind to ollama, openai, anthropic or google)", name, p.Kind)
		}
	}

	profiles, err := agent.MergeProfiles(c.Agent.ProfileOverrides())
	if err != nil {
		add("agent.profiles: %v", err)
	} else if _, ok := profiles[c.Agent.DefaultProfile]; !ok {
		add("agent.default_profile %q is not a known profile", c.Agent.DefaultProfile)
	}
	if c.Agent.MaxSteps < 0 {
		add("agent.max_steps must be >= 0")
	}
	if c.Agent.MaxDelegationDepth < 0 {
		add("agent.max_delegation_depth must be >= 0")
	}

	if c.Pool.Size <= 0 {
		add("pool.size must be positive")
	}

	switch c.Storage.CheckpointBackend {
	case "file", "sqlite":
	default:
		add("storage.checkpoint_backend must be file or sqlite, got %q", c.Storage.CheckpointBackend)
	}

	seen := map[string]bool{}
	for i, b := range c.Memory.Blocks {
		if strings.TrimSpace(b.Label) == "" {
			add("memory.blocks[%d].label is required", i)
			continue
		}
		if seen[b.Label] {
			add("memory.blocks: duplicate label %q", b.Label)
		}
		seen[b.Label] = true
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format must be json or text, got %q", c.Logging.Format)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate must be between 0 and 1")
	}

	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}

// IsValidationError reports whether err came from Validate.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
