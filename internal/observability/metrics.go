package observability

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/agentd/internal/pool"
)

const namespace = "agentd"

// Metrics collects daemon, agent, backend and tool measurements.
//
// Every Metrics owns its registry. Counters feed both the Prometheus
// exposition and the JSON snapshot served at /metrics; Reset clears both.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	rateLimited     *prometheus.CounterVec
	connections     prometheus.Gauge
	rejectedConns   prometheus.Counter
	runs            *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	runSteps        *prometheus.HistogramVec
	backendCalls    *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	toolDisabled    *prometheus.CounterVec

	mu        sync.Mutex
	snap      snapshotState
	poolStats func() pool.Stats
	now       func() time.Time
}

type snapshotState struct {
	since        time.Time
	requests     int64
	requestErrs  int64
	byPath       map[string]int64
	rateLimited  int64
	runs         int64
	byOutcome    map[string]int64
	runTime      time.Duration
	runSteps     int64
	backendCalls int64
	backendErrs  int64
	backendTime  time.Duration
	tools        map[string]*toolState
}

type toolState struct {
	calls    int64
	failures int64
	total    time.Duration
	disabled int64
}

// NewMetrics creates and registers all collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		now:      time.Now,

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, path and status code.",
		}, []string{"method", "path", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"method", "path"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"path"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_connections",
			Help:      "Currently open client connections.",
		}),
		rejectedConns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_connections_total",
			Help:      "Connections refused because the connection limit was reached.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_runs_total",
			Help:      "Agent runs by profile and outcome.",
		}, []string{"agent_type", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_run_duration_seconds",
			Help:      "Agent run wall time.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"agent_type"}),
		runSteps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_run_steps",
			Help:      "Steps emitted per agent run.",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 80},
		}, []string{"agent_type"}),
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "LLM backend requests by provider and status.",
		}, []string{"provider", "status"}),
		backendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "LLM backend request latency.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_executions_total",
			Help:      "Tool executions by tool and status.",
		}, []string{"tool_name", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_execution_duration_seconds",
			Help:      "Tool execution latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),
		toolDisabled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_auto_disabled_total",
			Help:      "Times a tool was disabled after consecutive failures.",
		}, []string{"tool_name"}),
	}
	m.registry.MustRegister(
		m.httpRequests, m.httpDuration, m.rateLimited, m.connections, m.rejectedConns,
		m.runs, m.runDuration, m.runSteps,
		m.backendCalls, m.backendDuration,
		m.toolCalls, m.toolDuration, m.toolDisabled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.resetSnapshot()
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the Prometheus text exposition.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterPool exports worker pool occupancy as gauges.
func (m *Metrics) RegisterPool(stats func() pool.Stats) {
	m.mu.Lock()
	m.poolStats = stats
	m.mu.Unlock()
	gauge := func(name, help string, pick func(pool.Stats) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(pick(stats())) })
	}
	m.registry.MustRegister(
		gauge("size", "Worker pool capacity.", func(s pool.Stats) int { return s.Size }),
		gauge("busy", "Workers currently running an agent.", func(s pool.Stats) int { return s.Busy }),
		gauge("waiting", "Requests queued for a worker.", func(s pool.Stats) int { return s.Waiting }),
	)
}

// RecordHTTPRequest records one completed request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.requests++
	m.snap.byPath[path]++
	if status >= 400 {
		m.snap.requestErrs++
	}
}

// RecordRateLimited counts a rejected request.
func (m *Metrics) RecordRateLimited(path string) {
	m.rateLimited.WithLabelValues(path).Inc()
	m.mu.Lock()
	m.snap.rateLimited++
	m.mu.Unlock()
}

// ConnectionOpened and ConnectionClosed track the open connection gauge.
func (m *Metrics) ConnectionOpened() { m.connections.Inc() }
func (m *Metrics) ConnectionClosed() { m.connections.Dec() }

// ConnectionRejected counts a connection refused at the limit.
func (m *Metrics) ConnectionRejected() { m.rejectedConns.Inc() }

// RunFinished records a completed top-level agent run.
func (m *Metrics) RunFinished(agentType, outcome string, d time.Duration, steps int) {
	m.runs.WithLabelValues(agentType, outcome).Inc()
	m.runDuration.WithLabelValues(agentType).Observe(d.Seconds())
	m.runSteps.WithLabelValues(agentType).Observe(float64(steps))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.runs++
	m.snap.byOutcome[outcome]++
	m.snap.runTime += d
	m.snap.runSteps += int64(steps)
}

// BackendCall records one LLM request.
func (m *Metrics) BackendCall(provider string, d time.Duration, err error) {
	m.backendCalls.WithLabelValues(provider, status(err)).Inc()
	m.backendDuration.WithLabelValues(provider).Observe(d.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.backendCalls++
	m.snap.backendTime += d
	if err != nil {
		m.snap.backendErrs++
	}
}

// ToolResult records one tool execution.
func (m *Metrics) ToolResult(name string, d time.Duration, err error) {
	m.toolCalls.WithLabelValues(name, status(err)).Inc()
	m.toolDuration.WithLabelValues(name).Observe(d.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.tool(name)
	ts.calls++
	ts.total += d
	if err != nil {
		ts.failures++
	}
}

// ToolDisabled records an automatic disable.
func (m *Metrics) ToolDisabled(name string, _ error) {
	m.toolDisabled.WithLabelValues(name).Inc()
	m.mu.Lock()
	m.tool(name).disabled++
	m.mu.Unlock()
}

func (m *Metrics) tool(name string) *toolState {
	ts, ok := m.snap.tools[name]
	if !ok {
		ts = &toolState{}
		m.snap.tools[name] = ts
	}
	return ts
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Snapshot is the JSON view served at GET /metrics.
type Snapshot struct {
	Since         time.Time    `json:"since"`
	UptimeSeconds float64      `json:"uptime_seconds"`
	Requests      RequestStats `json:"requests"`
	Runs          RunStats     `json:"runs"`
	Backend       BackendStats `json:"backend"`
	Tools         []ToolStats  `json:"tools"`
	Pool          *pool.Stats  `json:"pool,omitempty"`
}

type RequestStats struct {
	Total       int64            `json:"total"`
	Errors      int64            `json:"errors"`
	RateLimited int64            `json:"rate_limited"`
	ByPath      map[string]int64 `json:"by_path"`
}

type RunStats struct {
	Total         int64            `json:"total"`
	ByOutcome     map[string]int64 `json:"by_outcome"`
	AvgDurationMS float64          `json:"avg_duration_ms"`
	AvgSteps      float64          `json:"avg_steps"`
}

type BackendStats struct {
	Calls        int64   `json:"calls"`
	Errors       int64   `json:"errors"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

type ToolStats struct {
	Name          string  `json:"name"`
	Calls         int64   `json:"calls"`
	Failures      int64   `json:"failures"`
	AutoDisabled  int64   `json:"auto_disabled"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// Snapshot returns the counters accumulated since the last reset.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.snap
	out := Snapshot{
		Since:         s.since,
		UptimeSeconds: m.now().Sub(s.since).Seconds(),
		Requests: RequestStats{
			Total:       s.requests,
			Errors:      s.requestErrs,
			RateLimited: s.rateLimited,
			ByPath:      make(map[string]int64, len(s.byPath)),
		},
		Runs: RunStats{
			Total:         s.runs,
			ByOutcome:     make(map[string]int64, len(s.byOutcome)),
			AvgDurationMS: avgMS(s.runTime, s.runs),
		},
		Backend: BackendStats{
			Calls:        s.backendCalls,
			Errors:       s.backendErrs,
			AvgLatencyMS: avgMS(s.backendTime, s.backendCalls),
		},
		Tools: make([]ToolStats, 0, len(s.tools)),
	}
	for k, v := range s.byPath {
		out.Requests.ByPath[k] = v
	}
	for k, v := range s.byOutcome {
		out.Runs.ByOutcome[k] = v
	}
	if s.runs > 0 {
		out.Runs.AvgSteps = float64(s.runSteps) / float64(s.runs)
	}
	for name, ts := range s.tools {
		out.Tools = append(out.Tools, ToolStats{
			Name:          name,
			Calls:         ts.calls,
			Failures:      ts.failures,
			AutoDisabled:  ts.disabled,
			AvgDurationMS: avgMS(ts.total, ts.calls),
		})
	}
	sort.Slice(out.Tools, func(i, j int) bool { return out.Tools[i].Name < out.Tools[j].Name })
	if m.poolStats != nil {
		ps := m.poolStats()
		out.Pool = &ps
	}
	return out
}

func avgMS(total time.Duration, n int64) float64 {
	if n == 0 {
		return 0
	}
	return float64(total.Milliseconds()) / float64(n)
}

// Reset clears the JSON snapshot and the labelled Prometheus series.
func (m *Metrics) Reset() {
	for _, v := range []*prometheus.CounterVec{m.httpRequests, m.rateLimited, m.runs, m.backendCalls, m.toolCalls, m.toolDisabled} {
		v.Reset()
	}
	for _, v := range []*prometheus.HistogramVec{m.httpDuration, m.runDuration, m.runSteps, m.backendDuration, m.toolDuration} {
		v.Reset()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetSnapshot()
}

func (m *Metrics) resetSnapshot() {
	m.snap = snapshotState{
		since:     m.now(),
		byPath:    map[string]int64{},
		byOutcome: map[string]int64{},
		tools:     map[string]*toolState{},
	}
}
