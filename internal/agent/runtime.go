// Package agent drives one conversational turn through repeated tool
// invocations: prompt assembly, backend call, tool-call parsing, rule checks,
// tool execution, and a terminal final answer, error or checkpoint.
package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/agentd/internal/checkpoint"
	"github.com/haasonsaas/agentd/internal/llm"
	"github.com/haasonsaas/agentd/internal/memory"
	"github.com/haasonsaas/agentd/internal/tools"
	"github.com/haasonsaas/agentd/pkg/models"
)

var (
	// ErrUnknownProfile is returned for an agent_type with no profile.
	ErrUnknownProfile = errors.New("unknown agent type")

	// ErrEmptyMessage is returned when a run has nothing to respond to.
	ErrEmptyMessage = errors.New("message is required")

	// ErrCheckpointsDisabled is returned by Resume when no store is configured.
	ErrCheckpointsDisabled = errors.New("checkpoint store not configured")

	// ErrRunNotFound is returned by Suspend for unknown or finished runs.
	ErrRunNotFound = errors.New("run not found")
)

// Observer receives run and backend measurements. Implementations must be
// safe for concurrent use.
type Observer interface {
	RunFinished(agentType, outcome string, d time.Duration, steps int)
	BackendCall(provider string, d time.Duration, err error)
}

// Config wires a Runtime.
type Config struct {
	Backend     llm.Backend
	Registry    *tools.Registry
	Memory      *memory.Store
	Checkpoints checkpoint.Store
	Profiles    map[string]Profile

	DefaultProfile string
	// BackendTimeout bounds a single backend call. Zero means no limit.
	BackendTimeout time.Duration
	// MaxDelegationDepth bounds nested sub-agents. Zero uses 2.
	MaxDelegationDepth int

	Observer Observer
	Tracer   trace.Tracer
	Logger   *slog.Logger
}

// Runtime holds the collaborators shared by every Loop and tracks the runs
// in flight so they can be suspended.
type Runtime struct {
	backend     llm.Backend
	registry    *tools.Registry
	memory      *memory.Store
	checkpoints checkpoint.Store
	profiles    map[string]Profile
	defProfile  string
	timeout     time.Duration
	maxDepth    int
	observer    Observer
	tracer      trace.Tracer
	logger      *slog.Logger

	mu   sync.Mutex
	runs map[string]*runHandle
}

type runHandle struct {
	info    RunInfo
	suspend bool
}

// RunInfo describes an in-flight run.
type RunInfo struct {
	RunID     string    `json:"run_id"`
	AgentType string    `json:"agent_type"`
	State     State     `json:"state"`
	Turns     int       `json:"turns"`
	Depth     int       `json:"depth,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// NewRuntime validates cfg and returns a Runtime.
func NewRuntime(cfg Config) (*Runtime, error) {
	if cfg.Backend == nil {
		return nil, errors.New("agent: backend is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("agent: tool registry is required")
	}
	profiles := cfg.Profiles
	if len(profiles) == 0 {
		profiles = DefaultProfiles()
	}
	for name, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("agent: %w", err)
		}
		if p.Name != name {
			return nil, fmt.Errorf("agent: profile key %q does not match name %q", name, p.Name)
		}
	}
	def := cfg.DefaultProfile
	if def == "" {
		def = ProfileGeneral
	}
	if _, ok := profiles[def]; !ok {
		return nil, fmt.Errorf("agent: %w: default %q", ErrUnknownProfile, def)
	}
	depth := cfg.MaxDelegationDepth
	if depth <= 0 {
		depth = 2
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/haasonsaas/agentd/internal/agent")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rt := &Runtime{
		backend:     cfg.Backend,
		registry:    cfg.Registry,
		memory:      cfg.Memory,
		checkpoints: cfg.Checkpoints,
		profiles:    profiles,
		defProfile:  def,
		timeout:     cfg.BackendTimeout,
		maxDepth:    depth,
		observer:    cfg.Observer,
		tracer:      tracer,
		logger:      logger.With("component", "agent"),
		runs:        map[string]*runHandle{},
	}
	if !rt.registry.Has(models.ResponseTool) {
		rt.registry.Register(tools.ResponseTool{})
	}
	if !rt.registry.Has(DelegateToolName) {
		rt.registry.Register(DelegateTool{})
	}
	return rt, nil
}

// NewLoop returns a reusable loop bound to this runtime.
func (rt *Runtime) NewLoop() *Loop {
	return &Loop{rt: rt}
}

// Profile resolves an agent_type; empty means the default profile.
func (rt *Runtime) Profile(name string) (Profile, error) {
	if name == "" {
		name = rt.defProfile
	}
	p, ok := rt.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownProfile, name, profileNames(rt.profiles))
	}
	return p, nil
}

// Profiles lists configured profiles sorted by name.
func (rt *Runtime) Profiles() []Profile {
	out := make([]Profile, 0, len(rt.profiles))
	for _, n := range profileNames(rt.profiles) {
		out = append(out, rt.profiles[n])
	}
	return out
}

// Checkpoints returns the configured store, or nil.
func (rt *Runtime) Checkpoints() checkpoint.Store { return rt.checkpoints }

// Suspend asks an in-flight run to checkpoint at its next turn boundary.
func (rt *Runtime) Suspend(runID string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	h, ok := rt.runs[runID]
	if !ok || h.info.Depth > 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	h.suspend = true
	return nil
}

// Active lists the runs in flight, oldest first.
func (rt *Runtime) Active() []RunInfo {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]RunInfo, 0, len(rt.runs))
	for _, h := range rt.runs {
		out = append(out, h.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (rt *Runtime) track(info RunInfo) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.runs[info.RunID] = &runHandle{info: info}
}

func (rt *Runtime) untrack(runID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.runs, runID)
}

func (rt *Runtime) update(runID string, state State, turns int) (suspend bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	h, ok := rt.runs[runID]
	if !ok {
		return false
	}
	h.info.State = state
	h.info.Turns = turns
	return h.suspend
}
