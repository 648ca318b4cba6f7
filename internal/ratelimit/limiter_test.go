package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }
func newTestLimiter(cfg Config) (*Limiter, *clock) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLimiter(cfg)
	l.now = c.now
	return l, c
}

func TestSlidingWindow(t *testing.T) {
	l, c := newTestLimiter(Config{Enabled: true, Window: time.Minute, Requests: 3})

	for i := 0; i < 3; i++ {
		d := l.Allow("/agent")
		if !d.Allowed || d.Remaining != 2-i {
			t.Fatalf("request %d: %+v", i, d)
		}
		c.advance(10 * time.Second)
	}
	d := l.Allow("/agent")
	if d.Allowed || d.RetryAfter != 30*time.Second {
		t.Fatalf("over limit: %+v", d)
	}
	if !l.Allow("/memory").Allowed {
		t.Fatal("keys must be independent")
	}

	// The first hit (t=0) leaves the window at t=60s.
	c.advance(30 * time.Second)
	if d := l.Allow("/agent"); !d.Allowed {
		t.Fatalf("after slide: %+v", d)
	}
	if d := l.Allow("/agent"); d.Allowed {
		t.Fatalf("second hit at t=60 should still be limited: %+v", d)
	}
}

func TestDisabledAndDefaults(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if !l.Allow("k").Allowed {
			t.Fatal("disabled limiter rejected")
		}
	}
	if l.Limit("k") != 60 || l.Keys() != 0 {
		t.Fatalf("limit = %d keys = %d", l.Limit("k"), l.Keys())
	}
}

func TestOverridesLongestPrefix(t *testing.T) {
	l, _ := newTestLimiter(Config{
		Enabled:   true,
		Requests:  10,
		Overrides: map[string]int{"/agent": 2, "/agent/stream": 1},
	})
	tests := map[string]int{"/agent": 2, "/agent/stream": 1, "/agent/ws": 2, "/health": 10}
	for key, want := range tests {
		if got := l.Limit(key); got != want {
			t.Errorf("Limit(%s) = %d, want %d", key, got, want)
		}
	}
	l.Allow("/agent/stream")
	if l.Allow("/agent/stream").Allowed {
		t.Fatal("override not applied")
	}
}

func TestResetAndPrune(t *testing.T) {
	l, c := newTestLimiter(Config{Enabled: true, Window: time.Second, Requests: 1})
	l.maxKeys = 3
	l.Allow("a")
	if l.Allow("a").Allowed {
		t.Fatal("expected limit")
	}
	l.Reset("a")
	if !l.Allow("a").Allowed {
		t.Fatal("reset should clear history")
	}

	l.Allow("b")
	l.Allow("c")
	c.advance(2 * time.Second)
	l.Allow("d")
	if l.Keys() != 1 {
		t.Fatalf("keys after prune = %d", l.Keys())
	}
}

func TestConcurrentAllow(t *testing.T) {
	l := NewLimiter(Config{Enabled: true, Window: time.Hour, Requests: 50})
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if l.Allow(fmt.Sprintf("k%d", i%2)).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if allowed != 100 {
		t.Fatalf("allowed = %d, want 100", allowed)
	}
}
