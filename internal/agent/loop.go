package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/agentd/internal/llm"
	"github.com/haasonsaas/agentd/internal/parser"
	"github.com/haasonsaas/agentd/internal/rules"
	"github.com/haasonsaas/agentd/internal/tools"
	"github.com/haasonsaas/agentd/pkg/models"
)

// State is a position in the loop's state machine.
type State string

const (
	StateIdle            State = "idle"
	StatePromptAssembly  State = "prompt_assembly"
	StateAwaitingBackend State = "awaiting_backend"
	StateParsing         State = "parsing_response"
	StateInvokingTool    State = "invoking_tool"
	StateFinalAnswer     State = "final_answer"
	StateError           State = "error"
	StateCheckpointed    State = "checkpointed"
)

// EmitFunc receives each Step as it is produced. Returning an error detaches
// the caller: no further steps are delivered and the run stops at its next
// turn boundary.
type EmitFunc func(models.Step) error

var errDetached = errors.New("caller detached")

// Loop runs agent turns. A Loop handles one run at a time and is reused
// across runs; the worker pool hands out Loops.
type Loop struct {
	rt   *Runtime
	runs atomic.Int64
}

// Runs returns how many runs this loop has executed.
func (l *Loop) Runs() int64 { return l.runs.Load() }

type run struct {
	id        string
	profile   Profile
	depth     int
	provider  llm.ProviderConfig
	userMsg   string
	messages  []models.Message
	rules     *rules.State
	turns     int
	budget    int
	resumedID string

	seq      uint64
	steps    []models.Step
	results  []models.ToolResult
	emit     EmitFunc
	detached bool
	started  time.Time
	logger   *slog.Logger
}

// Run executes a new run to completion.
func (l *Loop) Run(ctx context.Context, req Request, emit EmitFunc) (*Result, error) {
	p, err := l.rt.Profile(req.AgentType)
	if err != nil {
		return nil, err
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, ErrEmptyMessage
	}
	r := l.newRun(p, req.RunID, 0, emit)
	r.provider = l.providerConfig(p, req.Provider, req.Model)
	r.userMsg = msg
	r.messages = append([]models.Message{models.SystemMessage("")}, normalizeHistory(req.History)...)
	r.messages = appendUser(r.messages, msg)
	return l.execute(ctx, r), nil
}

// Resume continues a checkpointed run. message, when set, is appended as a
// new user turn.
func (l *Loop) Resume(ctx context.Context, checkpointID, message string, emit EmitFunc) (*Result, error) {
	store := l.rt.checkpoints
	if store == nil {
		return nil, ErrCheckpointsDisabled
	}
	cp, err := store.Load(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	p, err := l.rt.Profile(cp.AgentType)
	if err != nil {
		return nil, err
	}

	r := l.newRun(p, cp.RunID, 0, emit)
	r.resumedID = cp.ID
	r.provider = l.providerConfig(p, cp.Provider, cp.Model)
	r.userMsg = cp.UserMessage
	r.turns = cp.StepCount
	r.budget = cp.StepCount + p.MaxSteps
	r.rules.Restore(cp.ToolCounts)
	r.messages = append([]models.Message{models.SystemMessage("")}, models.CloneMessages(cp.MessageHistory)...)
	switch {
	case strings.TrimSpace(message) != "":
		r.messages = appendUser(r.messages, strings.TrimSpace(message))
	case r.messages[len(r.messages)-1].Role != models.RoleUser:
		r.messages = appendUser(r.messages, "Continue where you left off.")
	}

	res := l.execute(ctx, r)
	switch {
	case res.CheckpointID != "":
	case res.Success:
		if err := store.Delete(context.WithoutCancel(ctx), cp.ID); err != nil {
			r.logger.Warn("delete completed checkpoint", "checkpoint_id", cp.ID, "error", err)
		}
	default:
		// A failed resume keeps its history so the caller can retry.
		cp.Status = models.RunFailed
		cp.Reason = res.Error
		cp.StepCount = r.turns
		cp.MessageHistory = models.CloneMessages(r.messages[1:])
		cp.ToolCounts = r.rules.Counts()
		if err := store.Save(context.WithoutCancel(ctx), cp); err != nil {
			r.logger.Warn("update resumed checkpoint", "checkpoint_id", cp.ID, "error", err)
		}
	}
	return res, nil
}

func (l *Loop) newRun(p Profile, id string, depth int, emit EmitFunc) *run {
	if id == "" {
		id = uuid.NewString()
	}
	budget := p.MaxSteps
	if budget <= 0 {
		budget = defaultMaxSteps
	}
	return &run{
		id:      id,
		profile: p,
		depth:   depth,
		rules:   rules.NewState(p.ruleSet()),
		budget:  budget,
		emit:    emit,
		started: time.Now(),
		logger:  l.rt.logger.With("run_id", id, "agent_type", p.Name, "depth", depth),
	}
}

func (l *Loop) providerConfig(p Profile, provider, model string) llm.ProviderConfig {
	cfg := llm.ProviderConfig{Provider: p.Provider, Model: p.Model, MaxTokens: p.MaxTokens}
	if provider != "" {
		cfg.Provider = provider
	}
	if model != "" {
		cfg.Model = model
	}
	return cfg
}

func (l *Loop) execute(ctx context.Context, r *run) *Result {
	l.runs.Add(1)
	l.rt.track(RunInfo{RunID: r.id, AgentType: r.profile.Name, State: StateIdle, Depth: r.depth, StartedAt: r.started})
	defer l.rt.untrack(r.id)

	ctx, span := l.rt.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("agent.run_id", r.id),
		attribute.String("agent.type", r.profile.Name),
		attribute.Int("agent.depth", r.depth),
	))
	defer span.End()

	r.logger.Info("agent run started", "turns", r.turns, "budget", r.budget, "resumed_from", r.resumedID)
	res := l.loop(ctx, r)
	res.RunID = r.id
	res.AgentType = r.profile.Name
	res.Steps = r.steps
	res.StepCount = len(r.steps)
	res.ToolResults = r.results
	res.Turns = r.turns
	if res.ToolResults == nil {
		res.ToolResults = []models.ToolResult{}
	}

	d := time.Since(r.started)
	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
	}
	span.SetAttributes(attribute.String("agent.outcome", res.Outcome()), attribute.Int("agent.turns", r.turns))
	r.logger.Info("agent run finished", "outcome", res.Outcome(), "turns", r.turns, "steps", len(r.steps), "duration", d)
	if l.rt.observer != nil && r.depth == 0 {
		l.rt.observer.RunFinished(r.profile.Name, res.Outcome(), d, len(r.steps))
	}
	return res
}

func (l *Loop) loop(ctx context.Context, r *run) *Result {
	for {
		if r.detached {
			return &Result{Error: "client disconnected", ErrorCode: CodeDisconnected}
		}
		if err := ctx.Err(); err != nil {
			return l.fail(r, fmt.Sprintf("run canceled: %v", err), CodeCanceled)
		}
		if l.rt.update(r.id, StatePromptAssembly, r.turns) {
			return l.checkpoint(ctx, r, "suspended on request")
		}
		if r.turns >= r.budget {
			return l.checkpoint(ctx, r, fmt.Sprintf("step budget of %d turns exhausted", r.budget))
		}
		r.turns++

		r.messages[0] = models.SystemMessage(l.systemPrompt(r.profile))
		l.rt.update(r.id, StateAwaitingBackend, r.turns)
		text, err := l.callBackend(ctx, r)
		if err != nil {
			r.logger.Warn("backend call failed", "turn", r.turns, "error", err)
			return l.fail(r, err.Error(), llm.ErrorCode(err))
		}
		r.messages = append(r.messages, models.AssistantMessage(text))

		l.rt.update(r.id, StateParsing, r.turns)
		parsed := parser.ParseResult(text)
		if l.strayJSON(parsed) {
			r.logger.Debug("inline JSON names no registered tool; treating it as a reply", "strategy", parsed.Strategy)
			parsed = parsed.AsResponse()
		}
		r.logger.Debug("parsed model output", "strategy", parsed.Strategy, "calls", len(parsed.Calls))

		if answer, done := l.turn(ctx, r, parsed.Calls); done {
			r.step(models.Step{Type: models.StepFinalAnswer, Content: answer, Success: models.Bool(true)})
			return &Result{Output: answer, Success: true}
		}
	}
}

// strayJSON reports whether every call was lifted from bare JSON in prose
// and names a tool the registry does not know, as when a model quotes a
// record in its answer.
func (l *Loop) strayJSON(parsed parser.Result) bool {
	if !parsed.Inline() {
		return false
	}
	for _, call := range parsed.Calls {
		if call.IsResponse() || l.rt.registry.Has(call.Name) {
			return false
		}
	}
	return true
}

func (l *Loop) callBackend(ctx context.Context, r *run) (string, error) {
	if l.rt.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.rt.timeout)
		defer cancel()
	}
	ctx, span := l.rt.tracer.Start(ctx, "llm.send", trace.WithAttributes(
		attribute.String("llm.provider", r.provider.Provider),
		attribute.String("llm.model", r.provider.Model),
		attribute.Int("llm.messages", len(r.messages)),
	))
	defer span.End()

	start := time.Now()
	text, err := l.rt.backend.Send(ctx, models.CloneMessages(r.messages), r.provider)
	if l.rt.observer != nil {
		provider := r.provider.Provider
		if provider == "" {
			provider = l.rt.backend.Name()
		}
		l.rt.observer.BackendCall(provider, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return text, nil
}

// turn runs one turn's calls and reports whether the run should end, with
// the final answer.
func (l *Loop) turn(ctx context.Context, r *run, calls []models.ToolCall) (string, bool) {
	var (
		results  []models.ToolResult
		names    []string
		answers  []string
		answered bool
	)
	for _, call := range calls {
		for _, th := range call.Thoughts {
			if th = strings.TrimSpace(th); th != "" {
				r.step(models.Step{Type: models.StepThink, Content: th})
			}
		}
		names = append(names, call.Name)
		if call.IsResponse() {
			r.rules.Record(call.Name)
			if msg := strings.TrimSpace(call.Argument("message")); msg != "" {
				answers = append(answers, msg)
			}
			answered = true
			continue
		}

		l.rt.update(r.id, StateInvokingTool, r.turns)
		r.step(models.Step{Type: models.StepToolCall, ToolName: call.Name, Arguments: call.Arguments})
		res := l.invoke(ctx, r, call)
		results = append(results, res)
		r.results = append(r.results, res)
		r.step(models.Step{
			Type:      models.StepToolResult,
			ToolName:  res.Name,
			Content:   res.Output,
			Success:   models.Bool(res.Success),
			ErrorCode: res.ErrorCode,
		})
	}

	answer := strings.Join(answers, "\n\n")
	if r.rules.ShouldTerminate(names) {
		if !answered && len(results) > 0 {
			answer = results[len(results)-1].Output
		}
		return answer, true
	}
	if answer != "" {
		r.step(models.Step{Type: models.StepThink, Content: answer})
	}

	if len(results) == 0 {
		r.messages = appendUser(r.messages, "Continue.")
		return "", false
	}
	r.messages = appendUser(r.messages, toolResultsMessage(results, r.rules.Hint()))
	return "", false
}

// invoke applies profile and rule checks, then runs the tool through the
// registry. Rejections become failed results without invoking the tool.
func (l *Loop) invoke(ctx context.Context, r *run, call models.ToolCall) models.ToolResult {
	name := call.Name
	reject := func(code, msg string) models.ToolResult {
		r.logger.Debug("tool call rejected", "tool", name, "code", code, "reason", msg)
		return models.ToolResult{Name: name, Success: false, Output: msg, ErrorCode: code}
	}
	if !r.profile.Allows(name) {
		return reject(CodeRuleViolation, fmt.Sprintf("tool %s is not available to the %s agent", name, r.profile.Name))
	}
	if l.rt.registry.IsDisabled(name) {
		return reject(CodeDisabled, fmt.Sprintf("tool %s is disabled after %d consecutive failures",
			name, l.rt.registry.ErrorCount(name)))
	}
	if err := r.rules.Check(name); err != nil {
		return reject(CodeLimitExceeded, err.Error())
	}
	r.rules.Record(name)

	ctx, span := l.rt.tracer.Start(ctx, "tool.invoke", trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()

	ctx = withSpawner(ctx, l.spawner(r))
	start := time.Now()
	out, err := l.rt.registry.Invoke(ctx, name, call.Arguments)
	r.logger.Debug("tool invoked", "tool", name, "duration", time.Since(start), "error", err)
	if err != nil {
		te := tools.AsError(name, err)
		span.SetStatus(codes.Error, te.Error())
		msg := te.Message
		if msg == "" {
			msg = te.Error()
		}
		return models.ToolResult{Name: name, Success: false, Output: msg, ErrorCode: string(te.Type)}
	}
	return models.ToolResult{Name: name, Success: true, Output: out}
}

func (l *Loop) fail(r *run, msg, code string) *Result {
	r.step(models.Step{Type: models.StepError, Content: msg, ErrorCode: code, Success: models.Bool(false)})
	return &Result{Output: msg, Success: false, Error: msg, ErrorCode: code}
}

func (l *Loop) checkpoint(ctx context.Context, r *run, reason string) *Result {
	store := l.rt.checkpoints
	if store == nil || r.depth > 0 {
		return l.fail(r, reason, CodeStepBudget)
	}
	id := r.resumedID
	if id == "" {
		id = uuid.NewString()
	}
	cp := &models.AgentRunCheckpoint{
		ID:             id,
		RunID:          r.id,
		AgentType:      r.profile.Name,
		Provider:       r.provider.Provider,
		Model:          r.provider.Model,
		StepCount:      r.turns,
		Status:         models.RunPaused,
		UserMessage:    r.userMsg,
		MessageHistory: models.CloneMessages(r.messages[1:]),
		ToolCounts:     r.rules.Counts(),
		Reason:         reason,
	}
	if r.resumedID != "" {
		if prev, err := store.Load(ctx, id); err == nil {
			cp.CreatedAt = prev.CreatedAt
		}
	}
	if err := store.Save(context.WithoutCancel(ctx), cp); err != nil {
		return l.fail(r, fmt.Sprintf("%s; saving checkpoint failed: %v", reason, err), CodeCheckpointFailed)
	}
	r.step(models.Step{Type: models.StepCheckpoint, Content: reason, CheckpointID: id})
	out := fmt.Sprintf("Paused after %d turns (%s). Resume from checkpoint %s.", r.turns, reason, id)
	return &Result{Output: out, Success: true, CheckpointID: id}
}

// step stamps and records s, delivers it unless detached, then yields so
// a burst of fast steps cannot starve other runs.
func (r *run) step(s models.Step) {
	r.seq++
	s.ID = uuid.NewString()
	s.RunID = r.id
	s.Seq = r.seq
	s.Time = time.Now().UTC()
	r.steps = append(r.steps, s)
	if !r.detached && r.emit != nil {
		if err := r.emit(s); err != nil {
			r.detached = true
			r.logger.Info("caller detached; continuing without emission", "error", err)
		}
	}
	runtime.Gosched()
}
