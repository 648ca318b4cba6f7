package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/agentd/internal/agent"
	"github.com/haasonsaas/agentd/internal/backoff"
	"github.com/haasonsaas/agentd/internal/checkpoint"
	"github.com/haasonsaas/agentd/internal/tasks"
	"github.com/haasonsaas/agentd/pkg/models"
)

// agentStatusHeader carries the run outcome so generic HTTP tooling can see
// failures that the body reports with a 200.
const agentStatusHeader = "X-Agent-Status"

const (
	wsFirstFrameWait = 30 * time.Second
	wsWriteWait      = 10 * time.Second
)

// Agent-domain error codes reported inside a 200 envelope.
const (
	CodeUnknownAgentType   = "unknown_agent_type"
	CodeCheckpointNotFound = "checkpoint_not_found"
	CodeCheckpointsOff     = "checkpoints_disabled"
	CodeInvalidRequest     = "invalid_request"
)

var errClientGone = errors.New("client disconnected")

func failureEnvelope(code, msg string) *agent.Result {
	return &agent.Result{
		Output:      msg,
		Success:     false,
		Error:       msg,
		ErrorCode:   code,
		Steps:       []models.Step{},
		ToolResults: []models.ToolResult{},
	}
}

// runFailure converts an error returned before a run started into the
// agent-domain envelope.
func runFailure(err error) *agent.Result {
	switch {
	case errors.Is(err, agent.ErrUnknownProfile):
		return failureEnvelope(CodeUnknownAgentType, err.Error())
	case errors.Is(err, agent.ErrEmptyMessage):
		return failureEnvelope(CodeInvalidRequest, err.Error())
	case errors.Is(err, checkpoint.ErrCheckpointNotFound):
		return failureEnvelope(CodeCheckpointNotFound, err.Error())
	case errors.Is(err, agent.ErrCheckpointsDisabled):
		return failureEnvelope(CodeCheckpointsOff, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return failureEnvelope(agent.CodeCanceled, err.Error())
	}
	return failureEnvelope(CodeInternal, err.Error())
}

func agentStatus(res *agent.Result) string {
	switch res.Outcome() {
	case "final_answer":
		return "ok"
	case "checkpointed":
		return "checkpointed"
	}
	return "error"
}

// writeResult always answers 200; success lives in the body and the
// X-Agent-Status header.
func writeResult(w http.ResponseWriter, res *agent.Result) {
	w.Header().Set(agentStatusHeader, agentStatus(res))
	writeJSON(w, http.StatusOK, res)
}

// decodeAgentRequest applies the transport-level checks shared by every
// chat transport.
func decodeAgentRequest(r *http.Request) (agent.Request, error) {
	var req agent.Request
	if err := decodeJSON(r, &req); err != nil {
		return req, err
	}
	if strings.TrimSpace(req.Message) == "" {
		return req, badRequest("message is required")
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	return req, nil
}

// requestEmitter reports the client's disconnect to the loop so it stops
// emitting and ends at the next turn boundary.
func requestEmitter(ctx context.Context, write func(models.Step) error) agent.EmitFunc {
	return func(step models.Step) error {
		if ctx.Err() != nil {
			return errClientGone
		}
		if write == nil {
			return nil
		}
		return write(step)
	}
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAgentRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	setRunID(r, req.RunID)
	detachDeadline(w)

	loop, err := s.pool.Acquire(r.Context())
	if err != nil {
		writeResult(w, runFailure(err))
		return
	}
	defer s.pool.Release(loop)

	res, err := loop.Run(context.WithoutCancel(r.Context()), req, requestEmitter(r.Context(), nil))
	if err != nil {
		res = runFailure(err)
	}
	writeResult(w, res)
}

func (s *Server) handleAgentStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAgentRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	setRunID(r, req.RunID)
	if _, err := s.runtime.Profile(req.AgentType); err != nil {
		writeResult(w, runFailure(err))
		return
	}
	detachDeadline(w)

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, err)
		return
	}
	loop, err := s.pool.AcquireNotify(r.Context(), func(position int) {
		_ = sse.send(eventQueued, map[string]any{"run_id": req.RunID, "position": position})
	})
	if err != nil {
		return
	}
	defer s.pool.Release(loop)

	emit := requestEmitter(r.Context(), func(step models.Step) error {
		return sse.send(eventStep, step)
	})
	if _, err := loop.Run(context.WithoutCancel(r.Context()), req, emit); err != nil {
		_ = sse.send(eventError, runFailure(err))
	}
	_ = sse.done()
}

// wsFrame is a control frame on the WebSocket transport. Steps are sent as
// bare step objects.
type wsFrame struct {
	Type     string `json:"type"`
	RunID    string `json:"run_id,omitempty"`
	Position int    `json:"position,omitempty"`
	Code     string `json:"code,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.cfg.MaxBodyBytes)

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	}
	finish := func(code, msg string) {
		if code != "" {
			_ = write(wsFrame{Type: "error", Code: code, Error: msg})
		}
		_ = write(wsFrame{Type: "done"})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
	}

	_ = conn.SetReadDeadline(time.Now().Add(wsFirstFrameWait))
	var req agent.Request
	if err := conn.ReadJSON(&req); err != nil {
		finish(CodeBadRequest, fmt.Sprintf("invalid request frame: %v", err))
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	if strings.TrimSpace(req.Message) == "" {
		finish(CodeBadRequest, "message is required")
		return
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	setRunID(r, req.RunID)

	// Reading is required to process close frames; a read error means the
	// peer is gone.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	loop, err := s.pool.AcquireNotify(ctx, func(position int) {
		_ = write(wsFrame{Type: "queued", RunID: req.RunID, Position: position})
	})
	if err != nil {
		return
	}
	defer s.pool.Release(loop)

	emit := requestEmitter(ctx, func(step models.Step) error { return write(step) })
	if _, err := loop.Run(context.WithoutCancel(ctx), req, emit); err != nil {
		res := runFailure(err)
		finish(res.ErrorCode, res.Error)
		return
	}
	finish("", "")
}

type runIDRequest struct {
	RunID string `json:"run_id"`
}

// handleSuspend asks an in-flight run to checkpoint at its next turn
// boundary.
func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	var req runIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.RunID == "" {
		writeError(w, badRequest("run_id is required"))
		return
	}
	if s.checkpoints == nil {
		writeError(w, newError(http.StatusConflict, CodeConflict, "checkpoint store is not configured"))
		return
	}
	if err := s.runtime.Suspend(req.RunID); err != nil {
		writeError(w, notFound("%v", err))
		return
	}
	setRunID(r, req.RunID)
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "run_id": req.RunID, "status": "suspending"})
}

func (s *Server) handleRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"runs": s.runtime.Active(), "pool": s.pool.Stats()})
}

type resumeRequest struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := checkpoint.ValidateID(req.ID); err != nil {
		writeError(w, badRequest("%v", err))
		return
	}
	detachDeadline(w)

	loop, err := s.pool.Acquire(r.Context())
	if err != nil {
		writeResult(w, runFailure(err))
		return
	}
	defer s.pool.Release(loop)

	res, err := loop.Resume(context.WithoutCancel(r.Context()), req.ID, req.Message, requestEmitter(r.Context(), nil))
	if err != nil {
		writeResult(w, runFailure(err))
		return
	}
	setRunID(r, res.RunID)
	writeResult(w, res)
}

// runTask executes one scheduled task firing through the worker pool.
func (s *Server) runTask(ctx context.Context, t tasks.Task) (string, error) {
	loop, err := s.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer s.pool.Release(loop)

	res, err := loop.Run(ctx, agent.Request{Message: t.Message, AgentType: t.AgentType}, nil)
	if err != nil {
		// Bad agent types and empty messages do not improve on retry.
		return "", backoff.Permanent(err)
	}
	if !res.Success {
		return res.RunID, fmt.Errorf("%s: %s", res.ErrorCode, res.Error)
	}
	return res.RunID, nil
}
