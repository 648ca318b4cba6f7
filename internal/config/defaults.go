package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/agentd/internal/agent"
	"github.com/haasonsaas/agentd/internal/auth"
	"github.com/haasonsaas/agentd/internal/llm"
	"github.com/haasonsaas/agentd/internal/ratelimit"
)

const (
	DefaultPort           = 8420
	DefaultMaxBodyBytes   = 10 << 20
	DefaultMaxConnections = 64
	DefaultPoolSize       = 4
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := newConfig()
	ApplyDefaults(cfg)
	return cfg
}

// newConfig presets the boolean defaults that a zero value cannot express.
func newConfig() *Config {
	return &Config{RateLimit: ratelimit.Config{Enabled: true}}
}

// ApplyDefaults fills zero values in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}

	s := &cfg.Server
	if s.Host == "" {
		s.Host = "127.0.0.1"
	}
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if s.MaxConnections == 0 {
		s.MaxConnections = DefaultMaxConnections
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 30 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 30 * time.Second
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 15 * time.Second
	}

	if len(cfg.Auth.PublicPaths) == 0 {
		cfg.Auth.PublicPaths = append([]string(nil), auth.DefaultPublicPaths...)
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}

	rl := &cfg.RateLimit
	def := ratelimit.DefaultConfig()
	if rl.Window == 0 {
		rl.Window = def.Window
	}
	if rl.Requests == 0 {
		rl.Requests = def.Requests
	}

	l := &cfg.LLM
	if len(l.Providers) == 0 {
		l.Providers = map[string]llm.Settings{llm.KindOllama: {Kind: llm.KindOllama}}
	}
	if l.DefaultProvider == "" {
		if _, ok := l.Providers[llm.KindOllama]; ok || len(l.Providers) != 1 {
			l.DefaultProvider = llm.KindOllama
		} else {
			for name := range l.Providers {
				l.DefaultProvider = name
			}
		}
	}
	if l.RequestTimeout == 0 {
		l.RequestTimeout = 5 * time.Minute
	}
	if l.ReadyTimeout == 0 {
		l.ReadyTimeout = 2 * time.Minute
	}

	if cfg.Agent.DefaultProfile == "" {
		cfg.Agent.DefaultProfile = agent.ProfileGeneral
	}
	if cfg.Agent.MaxDelegationDepth == 0 {
		cfg.Agent.MaxDelegationDepth = 2
	}

	if cfg.Pool.Size == 0 {
		cfg.Pool.Size = DefaultPoolSize
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = defaultDataDir()
	}
	if cfg.Storage.CheckpointBackend == "" {
		cfg.Storage.CheckpointBackend = "file"
	}

	if cfg.Memory.MaxVersions == 0 {
		cfg.Memory.MaxVersions = 200
	}

	if len(cfg.Tools.FileRoots) == 0 {
		cfg.Tools.FileRoots = []string{os.TempDir()}
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Tools.FileRoots = append(cfg.Tools.FileRoots, home)
		}
	}
	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = 2 * time.Minute
	}

	if cfg.Tasks.PollInterval == 0 {
		cfg.Tasks.PollInterval = 30 * time.Second
	}
	if cfg.Tasks.Timeout == 0 {
		cfg.Tasks.Timeout = 10 * time.Minute
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "agentd"
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "agentd")
	}
	return filepath.Join(os.TempDir(), "agentd")
}
