package daemon

import (
	"net/http"
	"sort"
	"strings"
)

// methods maps HTTP methods to the handler serving them on one path.
type methods map[string]http.HandlerFunc

func (m methods) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h, ok := m[r.Method]; ok {
		h(w, r)
		return
	}
	if r.Method == http.MethodHead {
		if h, ok := m[http.MethodGet]; ok {
			h(w, r)
			return
		}
	}
	allowed := make([]string, 0, len(m))
	for k := range m {
		allowed = append(allowed, k)
	}
	sort.Strings(allowed)
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, newError(http.StatusMethodNotAllowed, CodeMethodNotAllowed,
		"%s is not allowed on %s", r.Method, r.URL.Path))
}

// endpoint describes one route for the capability document.
type endpoint struct {
	Path    string   `json:"path"`
	Methods []string `json:"methods"`
	Public  bool     `json:"public,omitempty"`
	Stream  string   `json:"stream,omitempty"`
}

func (s *Server) routeTable() map[string]methods {
	get, post := http.MethodGet, http.MethodPost
	table := map[string]methods{
		"/health":                 {get: s.handleHealth},
		"/.well-known/agent.json": {get: s.handleCapabilities},

		"/agent":         {post: s.handleAgent},
		"/agent/stream":  {post: s.handleAgentStream},
		"/agent/ws":      {get: s.handleAgentWS},
		"/agent/suspend": {post: s.handleSuspend},
		"/agent/runs":    {get: s.handleRuns},

		"/tools":        {get: s.handleTools},
		"/tools/enable": {post: s.handleToolEnable},

		"/checkpoints":        {get: s.handleCheckpoints, post: s.handleSuspend},
		"/checkpoints/resume": {post: s.handleResume},
		"/checkpoints/delete": {post: s.handleCheckpointDelete},

		"/metrics":            {get: s.handleMetrics},
		"/metrics/reset":      {post: s.handleMetricsReset},
		"/metrics/prometheus": {get: s.metrics.Handler().ServeHTTP},
		"/trace":              {get: s.handleTrace},
	}
	if s.memory != nil {
		table["/memory"] = methods{get: s.handleMemory, post: s.handleMemoryUpdate}
		table["/memory/entries"] = methods{get: s.handleEntries, post: s.handleEntriesUpdate}
		table["/memory/versions"] = methods{get: s.handleVersions}
		table["/memory/diff"] = methods{get: s.handleDiff}
		table["/memory/rollback"] = methods{post: s.handleRollback}
	}
	if s.tasks != nil {
		table["/tasks"] = methods{get: s.handleTasks, post: s.handleTasksUpdate}
		table["/workflows"] = methods{get: s.handleWorkflows, post: s.handleWorkflowsUpdate}
	}
	return table
}

// routes builds the mux and wraps it in the middleware chain. Outermost
// first: observe, recover, authenticate, rate limit, body limit.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	for path, m := range s.routeTable() {
		mux.Handle(path, m)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, notFound("no route for %s", r.URL.Path))
	})

	var h http.Handler = mux
	h = s.limitBody(h)
	h = s.rateLimit(h)
	h = s.authenticate(h)
	h = s.recoverPanics(h)
	h = s.observe(h)
	return h
}

func (s *Server) endpoints() []endpoint {
	table := s.routeTable()
	out := make([]endpoint, 0, len(table))
	for path, m := range table {
		ep := endpoint{Path: path, Public: s.auth.IsPublic(path)}
		for method := range m {
			ep.Methods = append(ep.Methods, method)
		}
		sort.Strings(ep.Methods)
		switch path {
		case "/agent/stream":
			ep.Stream = "sse"
		case "/agent/ws":
			ep.Stream = "websocket"
		}
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
