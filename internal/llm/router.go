package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/agentd/pkg/models"
)

// ErrUnknownProvider is returned when a request names an unregistered backend.
var ErrUnknownProvider = errors.New("llm: unknown provider")

// Router dispatches requests to named backends. It is itself a Backend:
// ProviderConfig.Provider picks the target, empty means the default.
type Router struct {
	mu          sync.RWMutex
	backends    map[string]Backend
	defaultName string
}

var (
	_ Backend = (*Router)(nil)
	_ Pinger  = (*Router)(nil)
)

// NewRouter creates an empty router whose default is defaultName.
func NewRouter(defaultName string) *Router {
	return &Router{backends: map[string]Backend{}, defaultName: defaultName}
}

// Register adds b under name, replacing any previous backend.
func (r *Router) Register(name string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = b
	if r.defaultName == "" {
		r.defaultName = name
	}
}

// Default returns the default backend name.
func (r *Router) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// Names lists registered backends.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get resolves a backend; an empty name means the default.
func (r *Router) Get(name string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if strings.TrimSpace(name) == "" {
		name = r.defaultName
	}
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return b, nil
}

func (r *Router) Name() string { return "router" }

func (r *Router) Send(ctx context.Context, msgs []models.Message, cfg ProviderConfig) (string, error) {
	b, err := r.Get(cfg.Provider)
	if err != nil {
		return "", err
	}
	return b.Send(ctx, msgs, cfg)
}

func (r *Router) Stream(ctx context.Context, msgs []models.Message, cfg ProviderConfig) (<-chan Chunk, error) {
	b, err := r.Get(cfg.Provider)
	if err != nil {
		return nil, err
	}
	return b.Stream(ctx, msgs, cfg)
}

// Settings describes one configured backend.
type Settings struct {
	Kind    string        `yaml:"kind" json:"kind"`
	BaseURL string        `yaml:"base_url" json:"base_url,omitempty"`
	APIKey  string        `yaml:"api_key" json:"api_key,omitempty"`
	Model   string        `yaml:"model" json:"model,omitempty"`
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

// Kinds accepted by New.
const (
	KindOllama    = "ollama"
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
	KindGoogle    = "google"
)

// New builds a backend from settings. An empty kind uses the name.
func New(ctx context.Context, name string, s Settings) (Backend, error) {
	kind := strings.ToLower(strings.TrimSpace(s.Kind))
	if kind == "" {
		kind = strings.ToLower(name)
	}
	switch kind {
	case KindOllama:
		return NewOllama(OllamaConfig{BaseURL: s.BaseURL, DefaultModel: s.Model, Timeout: s.Timeout}), nil
	case KindOpenAI:
		return NewOpenAI(OpenAIConfig{Name: name, BaseURL: s.BaseURL, APIKey: s.APIKey, DefaultModel: s.Model}), nil
	case KindAnthropic:
		return NewAnthropic(AnthropicConfig{APIKey: s.APIKey, BaseURL: s.BaseURL, DefaultModel: s.Model})
	case KindGoogle:
		return NewGoogle(ctx, GoogleConfig{APIKey: s.APIKey, DefaultModel: s.Model})
	}
	return nil, fmt.Errorf("%w: kind %q for %q", ErrUnknownProvider, s.Kind, name)
}

// Ping probes the default backend when it supports readiness checks.
func (r *Router) Ping(ctx context.Context) error {
	b, err := r.Get("")
	if err != nil {
		return err
	}
	if p, ok := b.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
