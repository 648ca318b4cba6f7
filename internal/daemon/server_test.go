package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/agentd/internal/agent"
	"github.com/haasonsaas/agentd/internal/auth"
	"github.com/haasonsaas/agentd/internal/checkpoint"
	"github.com/haasonsaas/agentd/internal/config"
	"github.com/haasonsaas/agentd/internal/llm/llmtest"
	"github.com/haasonsaas/agentd/internal/memory"
	"github.com/haasonsaas/agentd/internal/observability"
	"github.com/haasonsaas/agentd/internal/ratelimit"
	"github.com/haasonsaas/agentd/internal/tasks"
	"github.com/haasonsaas/agentd/internal/tools"
	"github.com/haasonsaas/agentd/internal/tools/files"
	"github.com/haasonsaas/agentd/internal/tools/memorytools"
	"github.com/haasonsaas/agentd/pkg/models"
)

type fixtureConfig struct {
	token          string
	rateLimit      *ratelimit.Config
	maxBody        int64
	maxConnections int
	workers        int
	profiles       map[string]agent.Profile
}

type fixture struct {
	srv         *Server
	http        *httptest.Server
	backend     *llmtest.Scripted
	registry    *tools.Registry
	memory      *memory.Store
	checkpoints checkpoint.Store
	metrics     *observability.Metrics
	token       string
}

func newFixture(t *testing.T, backend *llmtest.Scripted, opts ...func(*fixtureConfig)) *fixture {
	t.Helper()
	fc := fixtureConfig{workers: 2}
	for _, o := range opts {
		o(&fc)
	}

	reg := tools.NewRegistry(tools.RegistryConfig{})
	reg.Register(files.NewTool(files.Config{Roots: []string{os.TempDir()}}))
	mem, err := memory.NewStore(memory.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	memorytools.Register(reg, mem)
	cps, err := checkpoint.Open("file", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("checkpoints: %v", err)
	}
	t.Cleanup(func() { cps.Close() })
	taskStore, err := tasks.OpenStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	metrics := observability.NewMetrics()

	rt, err := agent.NewRuntime(agent.Config{
		Backend:     backend,
		Registry:    reg,
		Memory:      mem,
		Checkpoints: cps,
		Profiles:    fc.profiles,
		Observer:    metrics,
	})
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}

	limiter := ratelimit.NewLimiter(ratelimit.Config{Enabled: false})
	if fc.rateLimit != nil {
		limiter = ratelimit.NewLimiter(*fc.rateLimit)
	}
	srv, err := New(Config{
		Server: config.ServerConfig{
			MaxBodyBytes:   fc.maxBody,
			MaxConnections: fc.maxConnections,
		},
		Version:   "test",
		Runtime:   rt,
		Registry:  reg,
		Workers:   fc.workers,
		Memory:    mem,
		Tasks:     taskStore,
		Scheduler: &tasks.SchedulerConfig{PollInterval: time.Hour, MaxAttempts: 1},
		Auth:      auth.NewService(auth.Config{Token: fc.token}),
		Limiter:   limiter,
		Metrics:   metrics,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &fixture{
		srv:         srv,
		http:        hs,
		backend:     backend,
		registry:    reg,
		memory:      mem,
		checkpoints: cps,
		metrics:     metrics,
		token:       fc.token,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.http.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	resp, err := f.http.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status = %d, want %d; body = %s",
			resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

func tagged(name string, args map[string]string) string {
	return "<tool_call>" + llmtest.Call(name, args) + "</tool_call>"
}

func listTmp() string {
	return tagged("file", map[string]string{"action": "list", "path": os.TempDir()})
}

func TestAgentListFiles(t *testing.T) {
	f := newFixture(t, llmtest.New(listTmp(), "Here is what is in /tmp."))

	resp := f.do(t, http.MethodPost, "/agent", map[string]string{
		"message":    "list files in /tmp",
		"agent_type": "general",
	})
	expectStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get(agentStatusHeader); got != "ok" {
		t.Fatalf("%s = %q", agentStatusHeader, got)
	}
	res := decode[agent.Result](t, resp)
	if !res.Success || res.StepCount < 2 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.ToolResults) != 1 || res.ToolResults[0].Name != "file" || !res.ToolResults[0].Success {
		t.Fatalf("tool results = %+v", res.ToolResults)
	}
	if res.Output != "Here is what is in /tmp." {
		t.Fatalf("output = %q", res.Output)
	}
}

func TestAgentFailuresAreFlagged(t *testing.T) {
	f := newFixture(t, llmtest.New().ThenError(errors.New("connection refused")))

	resp := f.do(t, http.MethodPost, "/agent", map[string]string{"message": "hello"})
	expectStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get(agentStatusHeader); got != "error" {
		t.Fatalf("%s = %q", agentStatusHeader, got)
	}
	res := decode[agent.Result](t, resp)
	if res.Success || res.Error == "" {
		t.Fatalf("result = %+v", res)
	}

	resp = f.do(t, http.MethodPost, "/agent", map[string]string{"message": "hi", "agent_type": "pirate"})
	expectStatus(t, resp, http.StatusOK)
	res = decode[agent.Result](t, resp)
	if res.Success || res.ErrorCode != CodeUnknownAgentType {
		t.Fatalf("result = %+v", res)
	}
}

func TestMalformedRequests(t *testing.T) {
	f := newFixture(t, llmtest.New())
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"bad json", http.MethodPost, "/agent", `{"message":`, http.StatusBadRequest, CodeBadRequest},
		{"unknown field", http.MethodPost, "/agent", `{"msg":"hi"}`, http.StatusBadRequest, CodeBadRequest},
		{"empty message", http.MethodPost, "/agent", `{"message":"  "}`, http.StatusBadRequest, CodeBadRequest},
		{"empty stream message", http.MethodPost, "/agent/stream", `{}`, http.StatusBadRequest, CodeBadRequest},
		{"no body", http.MethodPost, "/tools/enable", ``, http.StatusBadRequest, CodeBadRequest},
		{"wrong method", http.MethodGet, "/agent", ``, http.StatusMethodNotAllowed, CodeMethodNotAllowed},
		{"unknown path", http.MethodGet, "/nope", ``, http.StatusNotFound, CodeNotFound},
		{"bad limit", http.MethodGet, "/trace?limit=-1", ``, http.StatusBadRequest, CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, f.http.URL+tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp, err := f.http.Client().Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			expectStatus(t, resp, tt.status)
			body := decode[errorBody](t, resp)
			if body.Success || body.Code != tt.code || body.Error == "" {
				t.Fatalf("body = %+v", body)
			}
		})
	}
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t, llmtest.New(), func(c *fixtureConfig) { c.token = "s3cret-token" })
	client := f.http.Client()

	for _, path := range []string{"/health", "/.well-known/agent.json"} {
		resp, err := client.Get(f.http.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("public %s: status %d", path, resp.StatusCode)
		}
	}

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusUnauthorized},
		{"basic", "Basic czNjcmV0LXRva2Vu", http.StatusUnauthorized},
		{"valid", "Bearer s3cret-token", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, f.http.URL+"/tools", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := client.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.status == http.StatusUnauthorized && resp.Header.Get("WWW-Authenticate") == "" {
				t.Fatal("401 without WWW-Authenticate")
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, llmtest.New(), func(c *fixtureConfig) {
		c.rateLimit = &ratelimit.Config{Enabled: true, Window: time.Minute, Requests: 2}
	})
	for i := 0; i < 2; i++ {
		expectStatus(t, f.do(t, http.MethodGet, "/tools", nil), http.StatusOK)
	}
	resp := f.do(t, http.MethodGet, "/tools", nil)
	expectStatus(t, resp, http.StatusTooManyRequests)
	if resp.Header.Get("Retry-After") == "" || resp.Header.Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("headers = %v", resp.Header)
	}
	if body := decode[errorBody](t, resp); body.Code != CodeRateLimited {
		t.Fatalf("body = %+v", body)
	}

	// Limits are per path, and public paths are exempt.
	expectStatus(t, f.do(t, http.MethodGet, "/metrics", nil), http.StatusOK)
	for i := 0; i < 5; i++ {
		expectStatus(t, f.do(t, http.MethodGet, "/health", nil), http.StatusOK)
	}
	if snap := f.metrics.Snapshot(); snap.Requests.RateLimited != 1 {
		t.Fatalf("rate limited = %d", snap.Requests.RateLimited)
	}
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t, llmtest.New(), func(c *fixtureConfig) { c.maxBody = 64 })

	big := `{"message":"` + strings.Repeat("x", 200) + `"}`
	resp := f.do(t, http.MethodPost, "/agent", json.RawMessage(big))
	expectStatus(t, resp, http.StatusRequestEntityTooLarge)
	if body := decode[errorBody](t, resp); body.Code != CodeTooLarge {
		t.Fatalf("body = %+v", body)
	}

	// A body without a declared length is cut off while decoding.
	req, _ := http.NewRequest(http.MethodPost, f.http.URL+"/agent", io.MultiReader(strings.NewReader(big)))
	req.ContentLength = -1
	resp, err := f.http.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusRequestEntityTooLarge)
}

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v (partial %+v)", err, ev)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if ev.data != "" {
				t.Fatalf("event %s has more than one data line", ev.name)
			}
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func readUntilDone(t *testing.T, r *bufio.Reader) []models.Step {
	t.Helper()
	var steps []models.Step
	for {
		ev := readEvent(t, r)
		switch ev.name {
		case eventDone:
			if ev.data != "{}" {
				t.Fatalf("done data = %q", ev.data)
			}
			return steps
		case eventStep:
			var s models.Step
			if err := json.Unmarshal([]byte(ev.data), &s); err != nil {
				t.Fatalf("step data: %v", err)
			}
			steps = append(steps, s)
		default:
			t.Fatalf("unexpected event %+v", ev)
		}
	}
}

func TestStreamSteps(t *testing.T) {
	f := newFixture(t, llmtest.New(listTmp(), "Line one.\nLine two."))

	resp := f.do(t, http.MethodPost, "/agent/stream", map[string]string{"message": "list files in /tmp"})
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	steps := readUntilDone(t, bufio.NewReader(resp.Body))

	want := []models.StepType{models.StepToolCall, models.StepToolResult, models.StepFinalAnswer}
	if len(steps) != len(want) {
		t.Fatalf("steps = %+v", steps)
	}
	for i, s := range steps {
		if s.Type != want[i] || s.Seq != uint64(i+1) {
			t.Fatalf("step %d = %+v", i, s)
		}
	}
	if steps[2].Content != "Line one.\nLine two." {
		t.Fatalf("final answer = %q", steps[2].Content)
	}
}

func TestStreamReportsQueuePosition(t *testing.T) {
	f := newFixture(t, llmtest.New("Done waiting."), func(c *fixtureConfig) { c.workers = 1 })

	held, err := f.srv.Pool().Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	resp := f.do(t, http.MethodPost, "/agent/stream", map[string]string{"message": "hi"})
	expectStatus(t, resp, http.StatusOK)
	r := bufio.NewReader(resp.Body)

	ev := readEvent(t, r)
	if ev.name != eventQueued || !strings.Contains(ev.data, `"position":1`) {
		t.Fatalf("first event = %+v", ev)
	}
	if st := f.srv.Pool().Stats(); st.Waiting != 1 {
		t.Fatalf("pool stats = %+v", st)
	}
	f.srv.Pool().Release(held)

	steps := readUntilDone(t, r)
	if len(steps) != 1 || steps[0].Type != models.StepFinalAnswer {
		t.Fatalf("steps = %+v", steps)
	}
}

func TestStreamUnknownAgentType(t *testing.T) {
	f := newFixture(t, llmtest.New())
	resp := f.do(t, http.MethodPost, "/agent/stream", map[string]string{"message": "hi", "agent_type": "pirate"})
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	if res := decode[agent.Result](t, resp); res.Success || res.ErrorCode != CodeUnknownAgentType {
		t.Fatalf("result = %+v", res)
	}
}

func TestWebSocketRun(t *testing.T) {
	f := newFixture(t, llmtest.New(listTmp(), "Done."))
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/agent/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	defer resp.Body.Close()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	if err := conn.WriteJSON(map[string]string{"message": "list files in /tmp"}); err != nil {
		t.Fatal(err)
	}
	var types []string
	for {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame after %v: %v", types, err)
		}
		typ, _ := frame["type"].(string)
		types = append(types, typ)
		if typ == "done" {
			break
		}
	}
	want := []string{"tool_call", "tool_result", "final_answer", "done"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("frames = %v, want %v", types, want)
	}
}

func TestWebSocketRejectsEmptyMessage(t *testing.T) {
	f := newFixture(t, llmtest.New())
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/agent/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	defer resp.Body.Close()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	if err := conn.WriteJSON(map[string]string{"message": ""}); err != nil {
		t.Fatal(err)
	}
	var frame wsFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != "error" || frame.Code != CodeBadRequest {
		t.Fatalf("frame = %+v", frame)
	}
}

func TestEscapeData(t *testing.T) {
	tests := map[string]string{
		"plain":       "plain",
		"a\nb":        `a\nb`,
		"a\r\nb":      `a\nb`,
		"a\rb":        `a\rb`,
		"\n\nleading": `\n\nleading`,
	}
	for in, want := range tests {
		if got := escapeData(in); got != want {
			t.Errorf("escapeData(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSuspendUnknownRun(t *testing.T) {
	f := newFixture(t, llmtest.New())
	resp := f.do(t, http.MethodPost, "/agent/suspend", map[string]string{"run_id": "nope"})
	expectStatus(t, resp, http.StatusNotFound)

	resp = f.do(t, http.MethodPost, "/agent/suspend", map[string]string{})
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestSuspendInFlightRun(t *testing.T) {
	backend := llmtest.New(listTmp(), "never sent")
	backend.Block = make(chan struct{})
	f := newFixture(t, backend)

	type outcome struct {
		res agent.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		data, _ := json.Marshal(map[string]string{"message": "slow", "run_id": "run-1"})
		resp, err := f.http.Client().Post(f.http.URL+"/agent", "application/json", bytes.NewReader(data))
		if err != nil {
			done <- outcome{err: err}
			return
		}
		defer resp.Body.Close()
		var res agent.Result
		err = json.NewDecoder(resp.Body).Decode(&res)
		done <- outcome{res: res, err: err}
	}()

	deadline := time.Now().Add(5 * time.Second)
	awaiting := func() bool {
		for _, info := range f.srv.runtime.Active() {
			if info.RunID == "run-1" && info.State == agent.StateAwaitingBackend {
				return true
			}
		}
		return false
	}
	for !awaiting() {
		if time.Now().After(deadline) {
			t.Fatal("run never started")
		}
		time.Sleep(10 * time.Millisecond)
	}
	expectStatus(t, f.do(t, http.MethodPost, "/agent/suspend", map[string]string{"run_id": "run-1"}), http.StatusAccepted)
	backend.Block <- struct{}{}

	out := <-done
	if out.err != nil {
		t.Fatal(out.err)
	}
	if !out.res.Success || out.res.CheckpointID == "" {
		t.Fatalf("result = %+v", out.res)
	}
}

func TestCheckpointLifecycle(t *testing.T) {
	f := newFixture(t, llmtest.New(listTmp(), "All done."), func(c *fixtureConfig) {
		c.profiles = map[string]agent.Profile{
			agent.ProfileGeneral: {Name: agent.ProfileGeneral, RuleSet: "general", MaxSteps: 1},
		}
	})

	resp := f.do(t, http.MethodPost, "/agent", map[string]string{"message": "list files in /tmp"})
	expectStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get(agentStatusHeader); got != "checkpointed" {
		t.Fatalf("%s = %q", agentStatusHeader, got)
	}
	res := decode[agent.Result](t, resp)
	if !res.Success || res.CheckpointID == "" {
		t.Fatalf("result = %+v", res)
	}

	list := decode[struct {
		Checkpoints []models.AgentRunCheckpoint `json:"checkpoints"`
	}](t, f.do(t, http.MethodGet, "/checkpoints", nil))
	if len(list.Checkpoints) != 1 || list.Checkpoints[0].ID != res.CheckpointID || list.Checkpoints[0].MessageHistory != nil {
		t.Fatalf("list = %+v", list)
	}
	one := decode[models.AgentRunCheckpoint](t, f.do(t, http.MethodGet, "/checkpoints?id="+res.CheckpointID, nil))
	if one.Status != models.RunPaused || len(one.MessageHistory) == 0 {
		t.Fatalf("checkpoint = %+v", one)
	}

	resp = f.do(t, http.MethodPost, "/checkpoints/resume", map[string]string{"id": res.CheckpointID})
	expectStatus(t, resp, http.StatusOK)
	resumed := decode[agent.Result](t, resp)
	if !resumed.Success || resumed.Output != "All done." || resumed.RunID != res.RunID {
		t.Fatalf("resumed = %+v", resumed)
	}

	list = decode[struct {
		Checkpoints []models.AgentRunCheckpoint `json:"checkpoints"`
	}](t, f.do(t, http.MethodGet, "/checkpoints", nil))
	if len(list.Checkpoints) != 0 {
		t.Fatalf("completed resume should delete the checkpoint: %+v", list)
	}

	resp = f.do(t, http.MethodPost, "/checkpoints/resume", map[string]string{"id": res.CheckpointID})
	expectStatus(t, resp, http.StatusOK)
	if missing := decode[agent.Result](t, resp); missing.Success || missing.ErrorCode != CodeCheckpointNotFound {
		t.Fatalf("missing = %+v", missing)
	}
	expectStatus(t, f.do(t, http.MethodPost, "/checkpoints/delete", map[string]string{"id": res.CheckpointID}),
		http.StatusNotFound)
	expectStatus(t, f.do(t, http.MethodPost, "/checkpoints/delete", map[string]string{"id": "../etc"}),
		http.StatusBadRequest)
}

type memoryView struct {
	Blocks []struct {
		Label        string  `json:"label"`
		Value        string  `json:"value"`
		UsagePercent float64 `json:"usage_percent"`
		OverLimit    bool    `json:"over_limit"`
	} `json:"blocks"`
	VersionID string `json:"version_id"`
}

type diffView struct {
	Changes []models.BlockDiff `json:"changes"`
}

func TestMemoryEndpoints(t *testing.T) {
	f := newFixture(t, llmtest.New())

	initial := decode[memoryView](t, f.do(t, http.MethodGet, "/memory", nil))
	if len(initial.Blocks) != 3 || initial.VersionID == "" {
		t.Fatalf("memory = %+v", initial)
	}

	resp := f.do(t, http.MethodPost, "/memory", map[string]string{"action": "append", "label": "human", "text": "Prefers Go."})
	expectStatus(t, resp, http.StatusOK)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"read-only", map[string]string{"action": "append", "label": "runtime", "text": "x"}, http.StatusForbidden},
		{"unknown label", map[string]string{"action": "append", "label": "nope", "text": "x"}, http.StatusNotFound},
		{"missing text", map[string]string{"action": "replace", "label": "human", "old": "absent", "new": "y"}, http.StatusBadRequest},
		{"bad action", map[string]string{"action": "truncate"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, f.do(t, http.MethodPost, "/memory", tt.body), tt.status)
		})
	}
	diff := decode[diffView](t, f.do(t, http.MethodGet, "/memory/diff?from="+initial.VersionID, nil))
	if len(diff.Changes) != 1 || diff.Changes[0].Label != "human" || diff.Changes[0].Change != models.BlockChanged {
		t.Fatalf("diff = %+v", diff)
	}

	expectStatus(t, f.do(t, http.MethodPost, "/memory/rollback", map[string]string{"version_id": initial.VersionID}), http.StatusOK)
	diff = decode[diffView](t, f.do(t, http.MethodGet, "/memory/diff?from="+initial.VersionID, nil))
	if len(diff.Changes) != 0 {
		t.Fatalf("diff after rollback = %+v", diff)
	}

	versions := decode[struct {
		Versions []models.MemoryVersion `json:"versions"`
		Total    int                    `json:"total"`
	}](t, f.do(t, http.MethodGet, "/memory/versions?limit=2", nil))
	if versions.Total != 3 || len(versions.Versions) != 2 {
		t.Fatalf("versions = %+v", versions)
	}
	expectStatus(t, f.do(t, http.MethodGet, "/memory/diff?from=missing", nil), http.StatusNotFound)
	expectStatus(t, f.do(t, http.MethodPost, "/memory/rollback", map[string]string{"version_id": "missing"}), http.StatusNotFound)

	resp = f.do(t, http.MethodPost, "/memory/entries", map[string]any{"content": "The build server is buildbox-2.", "tags": []string{"infra"}})
	expectStatus(t, resp, http.StatusCreated)
	entries := decode[struct {
		Entries []models.MemoryEntry `json:"entries"`
	}](t, f.do(t, http.MethodGet, "/memory/entries?query=build", nil))
	if len(entries.Entries) != 1 {
		t.Fatalf("entries = %+v", entries)
	}
	expectStatus(t, f.do(t, http.MethodPost, "/memory/entries", map[string]string{"action": "delete", "id": entries.Entries[0].ID}), http.StatusOK)
	expectStatus(t, f.do(t, http.MethodPost, "/memory/entries", map[string]string{"action": "delete", "id": entries.Entries[0].ID}), http.StatusNotFound)
}

func TestToolAdmin(t *testing.T) {
	f := newFixture(t, llmtest.New())
	if err := f.registry.Disable("file"); err != nil {
		t.Fatal(err)
	}
	list := decode[struct {
		Tools []models.ToolEntry `json:"tools"`
	}](t, f.do(t, http.MethodGet, "/tools", nil))
	var found bool
	for _, e := range list.Tools {
		if e.Name == "file" {
			found = true
			if !e.Disabled || e.RiskLevel == "" || len(e.Schema) == 0 {
				t.Fatalf("entry = %+v", e)
			}
		}
	}
	if !found {
		t.Fatal("file tool not listed")
	}

	expectStatus(t, f.do(t, http.MethodPost, "/tools/enable", map[string]string{"name": "file"}), http.StatusOK)
	if f.registry.IsDisabled("file") {
		t.Fatal("file should be enabled")
	}
	expectStatus(t, f.do(t, http.MethodPost, "/tools/enable", map[string]string{"name": "nope"}), http.StatusNotFound)
}

func TestTasksAndWorkflows(t *testing.T) {
	f := newFixture(t, llmtest.New("Morning summary."))

	resp := f.do(t, http.MethodPost, "/tasks", map[string]any{"task": map[string]any{
		"name": "morning", "schedule": "0 9 * * *", "message": "summarize", "enabled": true,
	}})
	expectStatus(t, resp, http.StatusOK)
	created := decode[struct {
		Task tasks.Task `json:"task"`
	}](t, resp).Task
	if created.ID == "" || created.NextRun == nil {
		t.Fatalf("task = %+v", created)
	}
	expectStatus(t, f.do(t, http.MethodPost, "/tasks", map[string]any{"task": map[string]any{"name": "bad", "schedule": "nope", "message": "x"}}),
		http.StatusBadRequest)

	expectStatus(t, f.do(t, http.MethodPost, "/tasks", map[string]string{"action": "run", "id": created.ID}), http.StatusAccepted)
	f.srv.Scheduler().Wait()
	got := decode[tasks.Task](t, f.do(t, http.MethodGet, "/tasks?id="+created.ID, nil))
	if got.LastStatus != tasks.RunStatusSucceeded || got.LastRunID == "" {
		t.Fatalf("task after run = %+v", got)
	}

	expectStatus(t, f.do(t, http.MethodPost, "/tasks", map[string]string{"action": "delete", "id": created.ID}), http.StatusOK)
	expectStatus(t, f.do(t, http.MethodGet, "/tasks?id="+created.ID, nil), http.StatusNotFound)
	expectStatus(t, f.do(t, http.MethodPost, "/tasks", map[string]string{"action": "run", "id": created.ID}), http.StatusNotFound)

	resp = f.do(t, http.MethodPost, "/workflows", map[string]any{"workflow": map[string]any{
		"name": "triage", "steps": []map[string]string{{"message": "read inbox"}, {"message": "draft replies"}},
	}})
	expectStatus(t, resp, http.StatusOK)
	wf := decode[struct {
		Workflow tasks.Workflow `json:"workflow"`
	}](t, resp).Workflow
	all := decode[struct {
		Workflows []tasks.Workflow `json:"workflows"`
	}](t, f.do(t, http.MethodGet, "/workflows", nil))
	if len(all.Workflows) != 1 || all.Workflows[0].ID != wf.ID || len(all.Workflows[0].Steps) != 2 {
		t.Fatalf("workflows = %+v", all)
	}
	expectStatus(t, f.do(t, http.MethodPost, "/workflows", map[string]string{"action": "update", "id": "missing"}), http.StatusBadRequest)
	expectStatus(t, f.do(t, http.MethodPost, "/workflows", map[string]string{"action": "delete", "id": wf.ID}), http.StatusOK)
}

func TestMetricsAndTrace(t *testing.T) {
	f := newFixture(t, llmtest.New("Hello there."))
	expectStatus(t, f.do(t, http.MethodPost, "/agent", map[string]string{"message": "hi"}), http.StatusOK)
	expectStatus(t, f.do(t, http.MethodGet, "/health", nil), http.StatusOK)

	snap := decode[observability.Snapshot](t, f.do(t, http.MethodGet, "/metrics", nil))
	if snap.Requests.Total < 2 || snap.Runs.Total != 1 || snap.Runs.ByOutcome["final_answer"] != 1 || snap.Pool == nil {
		t.Fatalf("snapshot = %+v", snap)
	}

	trace := decode[struct {
		Requests []observability.RequestRecord `json:"requests"`
	}](t, f.do(t, http.MethodGet, "/trace?limit=10", nil))
	var agentRecord *observability.RequestRecord
	for i, r := range trace.Requests {
		if r.Path == "/agent" {
			agentRecord = &trace.Requests[i]
		}
	}
	if agentRecord == nil || agentRecord.RunID == "" || agentRecord.Status != http.StatusOK {
		t.Fatalf("trace = %+v", trace.Requests)
	}

	resp := f.do(t, http.MethodGet, "/metrics/prometheus", nil)
	expectStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"agentd_http_requests_total", "agentd_agent_runs_total", "agentd_pool_size"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %s", want)
		}
	}

	expectStatus(t, f.do(t, http.MethodPost, "/metrics/reset", nil), http.StatusOK)
	snap = decode[observability.Snapshot](t, f.do(t, http.MethodGet, "/metrics", nil))
	if snap.Runs.Total != 0 {
		t.Fatalf("snapshot after reset = %+v", snap.Runs)
	}
}

func TestCapabilityDocument(t *testing.T) {
	f := newFixture(t, llmtest.New())
	doc := decode[capabilityDocument](t, f.do(t, http.MethodGet, "/.well-known/agent.json", nil))
	if doc.Name != "agentd" || len(doc.AgentTypes) != 2 || len(doc.Tools) == 0 {
		t.Fatalf("doc = %+v", doc)
	}
	paths := map[string]endpoint{}
	for _, ep := range doc.Endpoints {
		paths[ep.Path] = ep
	}
	if !paths["/health"].Public || paths["/agent"].Public || paths["/agent/stream"].Stream != "sse" {
		t.Fatalf("endpoints = %+v", doc.Endpoints)
	}
}

func TestPanicOnChatPathIsFlagged(t *testing.T) {
	f := newFixture(t, llmtest.New())
	h := f.srv.recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))

	for path, wantStatus := range map[string]int{"/agent": http.StatusOK, "/tools": http.StatusInternalServerError} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != wantStatus {
			t.Fatalf("%s: status = %d", path, rec.Code)
		}
		var body struct {
			Success bool `json:"success"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Success {
			t.Fatalf("%s: body = %s", path, rec.Body.String())
		}
	}
}

func TestConnectionLimit(t *testing.T) {
	f := newFixture(t, llmtest.New(), func(c *fixtureConfig) { c.maxConnections = 1 })
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.srv.Serve(ctx, ln) }()
	addr := ln.Addr().String()

	health := func(c net.Conn) *http.Response {
		t.Helper()
		_ = c.SetDeadline(time.Now().Add(5 * time.Second))
		fmt.Fprint(c, "GET /health HTTP/1.1\r\nHost: agentd\r\n\r\n")
		resp, err := http.ReadResponse(bufio.NewReader(c), nil)
		if err != nil {
			t.Fatalf("read response: %v", err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp
	}

	first, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	if resp := health(first); resp.StatusCode != http.StatusOK {
		t.Fatalf("first connection status = %d", resp.StatusCode)
	}

	second, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	_ = second.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(second), nil)
	if err != nil {
		t.Fatalf("rejected connection: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	second.Close()
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(string(body), CodeUnavailable) {
		t.Fatalf("second connection: %d %s", resp.StatusCode, body)
	}

	first.Close()
	deadline := time.Now().Add(5 * time.Second)
	for {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			t.Fatal(err)
		}
		status := health(c).StatusCode
		c.Close()
		if status == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("slot was never released")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Serve: %v", err)
	}
}
