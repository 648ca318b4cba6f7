// Package config loads and validates the daemon configuration.
package config

import (
	"time"

	"github.com/haasonsaas/agentd/internal/agent"
	"github.com/haasonsaas/agentd/internal/auth"
	"github.com/haasonsaas/agentd/internal/llm"
	"github.com/haasonsaas/agentd/internal/observability"
	"github.com/haasonsaas/agentd/internal/ratelimit"
	"github.com/haasonsaas/agentd/pkg/models"
)

// Config is the top-level configuration file.
type Config struct {
	Version   int                       `yaml:"version"`
	Server    ServerConfig              `yaml:"server"`
	Auth      auth.Config               `yaml:"auth"`
	RateLimit ratelimit.Config          `yaml:"rate_limit"`
	LLM       LLMConfig                 `yaml:"llm"`
	Agent     AgentConfig               `yaml:"agent"`
	Pool      PoolConfig                `yaml:"pool"`
	Storage   StorageConfig             `yaml:"storage"`
	Memory    MemoryConfig              `yaml:"memory"`
	Tools     ToolsConfig               `yaml:"tools"`
	Tasks     TasksConfig               `yaml:"tasks"`
	Logging   observability.LogConfig   `yaml:"logging"`
	Tracing   observability.TraceConfig `yaml:"tracing"`
}

// ServerConfig controls the listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	MaxConnections  int           `yaml:"max_connections"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LLMConfig declares inference backends.
type LLMConfig struct {
	DefaultProvider string                  `yaml:"default_provider"`
	DefaultModel    string                  `yaml:"default_model"`
	Providers       map[string]llm.Settings `yaml:"providers"`
	// RequestTimeout bounds one backend call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// WaitReady makes serve block until the default backend answers.
	WaitReady    bool          `yaml:"wait_ready"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// AgentConfig tunes the agent loop. MaxSteps and Persona apply to the
// general profile; Profiles adds or overrides profiles by name.
type AgentConfig struct {
	DefaultProfile     string                   `yaml:"default_profile"`
	MaxSteps           int                      `yaml:"max_steps"`
	Persona            string                   `yaml:"persona"`
	MaxDelegationDepth int                      `yaml:"max_delegation_depth"`
	Profiles           map[string]agent.Profile `yaml:"profiles"`
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Size int `yaml:"size"`
}

// StorageConfig locates persistent state.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
	// CheckpointBackend is file or sqlite.
	CheckpointBackend string `yaml:"checkpoint_backend"`
}

// MemoryConfig seeds and bounds agent memory.
type MemoryConfig struct {
	Blocks          []models.MemoryBlock `yaml:"blocks"`
	ProtectedLabels []string             `yaml:"protected_labels"`
	MaxVersions     int                  `yaml:"max_versions"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	// FileRoots are the directories the file tool may touch.
	FileRoots        []string      `yaml:"file_roots"`
	AllowFileWrite   bool          `yaml:"allow_file_write"`
	Timeout          time.Duration `yaml:"timeout"`
	DisableThreshold int           `yaml:"disable_threshold"`
	Disabled         []string      `yaml:"disabled"`
}

// TasksConfig controls the scheduled-task dispatcher.
type TasksConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ProfileOverrides folds the general-profile shortcuts into Profiles.
func (c AgentConfig) ProfileOverrides() map[string]agent.Profile {
	out := make(map[string]agent.Profile, len(c.Profiles)+1)
	for name, p := range c.Profiles {
		out[name] = p
	}
	if c.MaxSteps > 0 || c.Persona != "" {
		general := out[agent.ProfileGeneral]
		if general.MaxSteps == 0 {
			general.MaxSteps = c.MaxSteps
		}
		if general.Persona == "" {
			general.Persona = c.Persona
		}
		out[agent.ProfileGeneral] = general
	}
	return out
}
