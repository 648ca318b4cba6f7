// Package ratelimit limits requests per key over a sliding time window.
package ratelimit

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Config configures rate limiting.
type Config struct {
	Enabled bool          `yaml:"enabled" json:"enabled"`
	Window  time.Duration `yaml:"window" json:"window"`
	// Requests is the number of requests allowed per key per window.
	Requests int `yaml:"requests_per_window" json:"requests_per_window"`
	// Overrides sets a different request budget for keys with the given
	// prefix. The longest matching prefix wins.
	Overrides map[string]int `yaml:"overrides" json:"overrides,omitempty"`
}

// DefaultConfig allows 60 requests per key per minute.
func DefaultConfig() Config {
	return Config{Enabled: true, Window: time.Minute, Requests: 60}
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
}

// window holds request timestamps within the current window, oldest first.
type window struct {
	hits []time.Time
}

func (w *window) trim(cutoff time.Time) {
	i := sort.Search(len(w.hits), func(i int) bool { return w.hits[i].After(cutoff) })
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}

// Limiter tracks a sliding window per key.
type Limiter struct {
	mu       sync.Mutex
	cfg      Config
	windows  map[string]*window
	prefixes []string
	maxKeys  int
	now      func() time.Time
}

// NewLimiter creates a limiter. Zero window or request values take the
// defaults.
func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Requests <= 0 {
		cfg.Requests = def.Requests
	}
	prefixes := make([]string, 0, len(cfg.Overrides))
	for p := range cfg.Overrides {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	return &Limiter{
		cfg:      cfg,
		windows:  make(map[string]*window),
		prefixes: prefixes,
		maxKeys:  10000,
		now:      time.Now,
	}
}

// Limit returns the request budget for key.
func (l *Limiter) Limit(key string) int {
	for _, p := range l.prefixes {
		if strings.HasPrefix(key, p) {
			return l.cfg.Overrides[p]
		}
	}
	return l.cfg.Requests
}

// Allow records a request for key if it fits in the window.
func (l *Limiter) Allow(key string) Decision {
	limit := l.Limit(key)
	if !l.cfg.Enabled {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cutoff := now.Add(-l.cfg.Window)

	w, ok := l.windows[key]
	if !ok {
		if len(l.windows) >= l.maxKeys {
			l.pruneLocked(cutoff)
		}
		w = &window{}
		l.windows[key] = w
	}
	w.trim(cutoff)

	if len(w.hits) >= limit {
		retry := w.hits[0].Add(l.cfg.Window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Decision{Allowed: false, Limit: limit, Remaining: 0, RetryAfter: retry}
	}
	w.hits = append(w.hits, now)
	return Decision{Allowed: true, Limit: limit, Remaining: limit - len(w.hits)}
}

// pruneLocked drops keys with no hits inside the window.
func (l *Limiter) pruneLocked(cutoff time.Time) {
	for key, w := range l.windows {
		w.trim(cutoff)
		if len(w.hits) == 0 {
			delete(l.windows, key)
		}
	}
}

// Reset forgets a key's history.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// Keys returns how many keys are tracked.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
