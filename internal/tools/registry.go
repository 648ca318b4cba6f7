package tools

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/agentd/pkg/models"
)

// DefaultDisableThreshold is the number of consecutive failures after which a
// tool is disabled.
const DefaultDisableThreshold = 5

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// DisableThreshold is the consecutive-failure count that disables a tool.
	DisableThreshold int

	// Timeout bounds a single tool execution. Zero means no timeout.
	Timeout time.Duration

	// OnDisable is called, outside the registry lock, when a tool is
	// auto-disabled.
	OnDisable func(name string, lastErr error)

	// OnResult is called after every invocation that reached the tool.
	OnResult func(name string, d time.Duration, err error)
}

type entry struct {
	tool       Tool
	errorCount int
	disabled   bool
}

// Registry manages tools with thread-safe registration, lookup and failure
// accounting.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	cfg     RegistryConfig
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.DisableThreshold <= 0 {
		cfg.DisableThreshold = DefaultDisableThreshold
	}
	return &Registry{
		entries: make(map[string]*entry),
		cfg:     cfg,
	}
}

// Register adds a tool, replacing any tool of the same name and clearing its
// failure state.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[tool.Name()] = &entry{tool: tool}
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// IsDisabled reports whether the tool is currently disabled.
func (r *Registry) IsDisabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return ok && e.disabled
}

// ErrorCount returns the consecutive failure count for a tool.
func (r *Registry) ErrorCount(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.errorCount
	}
	return 0
}

// Enable re-enables a disabled tool and clears its failure count.
func (r *Registry) Enable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	e.disabled = false
	e.errorCount = 0
	return nil
}

// Disable turns a tool off until Enable is called.
func (r *Registry) Disable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	e.disabled = true
	return nil
}

// RecordSuccess resets the tool's failure count.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		e.errorCount = 0
	}
}

// RecordFailure increments the failure count and reports whether this
// failure disabled the tool.
func (r *Registry) RecordFailure(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return false
	}
	e.errorCount++
	if !e.disabled && e.errorCount >= r.cfg.DisableThreshold {
		e.disabled = true
		return true
	}
	return false
}

// Entries returns registration entries sorted by name.
func (r *Registry) Entries() []models.ToolEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolEntry, 0, len(r.entries))
	for name, e := range r.entries {
		out = append(out, models.ToolEntry{
			Name:        name,
			Description: Describe(e.tool),
			RiskLevel:   e.tool.RiskLevel(),
			Schema:      e.tool.Schema(),
			ErrorCount:  e.errorCount,
			Disabled:    e.disabled,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the enabled tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name, e := range r.entries {
		if !e.disabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Invoke validates and executes a tool, updating its failure accounting.
// Not-found and disabled tools are rejected without running and without
// touching counters.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]string) (string, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	var (
		tool     Tool
		disabled bool
	)
	if ok {
		tool, disabled = e.tool, e.disabled
	}
	r.mu.RUnlock()

	if !ok {
		return "", NewError(name, fmt.Errorf("%w: %s", ErrToolNotFound, name))
	}
	if disabled {
		return "", NewError(name, fmt.Errorf("%w: %s failed %d consecutive times; re-enable it to use it again",
			ErrToolDisabled, name, r.ErrorCount(name)))
	}
	if args == nil {
		args = map[string]string{}
	}

	start := time.Now()
	output, err := r.run(ctx, tool, args)
	if r.cfg.OnResult != nil {
		r.cfg.OnResult(name, time.Since(start), err)
	}

	if err == nil {
		r.RecordSuccess(name)
		return output, nil
	}

	te := AsError(name, err)
	if te.Type.CountsAsFailure() && r.RecordFailure(name) && r.cfg.OnDisable != nil {
		r.cfg.OnDisable(name, te)
	}
	return output, te
}

func (r *Registry) run(ctx context.Context, tool Tool, args map[string]string) (output string, err error) {
	name := tool.Name()
	defer func() {
		if rec := recover(); rec != nil {
			err = &Error{
				Type:     ErrorPanic,
				ToolName: name,
				Message:  fmt.Sprintf("panic: %v", rec),
				Cause:    fmt.Errorf("%w: %v\n%s", ErrToolPanic, rec, debug.Stack()),
			}
		}
	}()

	if err := ValidateArguments(tool.Schema(), args); err != nil {
		return "", NewError(name, err).WithType(ErrorInvalidInput)
	}
	if err := tool.Validate(args); err != nil {
		return "", NewError(name, fmt.Errorf("%w: %v", ErrInvalidArguments, err))
	}

	if r.cfg.Timeout > 0 && !untimed(tool) {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	output, err = tool.Execute(ctx, args)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return output, NewError(name, fmt.Errorf("%w: %v", ErrToolTimeout, err)).WithType(ErrorTimeout)
	}
	return output, err
}
