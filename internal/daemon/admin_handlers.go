package daemon

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/haasonsaas/agentd/internal/agent"
	"github.com/haasonsaas/agentd/internal/pool"
	"github.com/haasonsaas/agentd/internal/tools"
	"github.com/haasonsaas/agentd/pkg/models"
)

const healthPingTimeout = 3 * time.Second

type healthResponse struct {
	Status        string     `json:"status"`
	Version       string     `json:"version,omitempty"`
	UptimeSeconds float64    `json:"uptime_seconds"`
	Pool          pool.Stats `json:"pool"`
	ActiveRuns    int        `json:"active_runs"`
	Connections   int        `json:"connections"`
	Backend       string     `json:"backend,omitempty"`
	BackendError  string     `json:"backend_error,omitempty"`
}

// handleHealth reports liveness. With ?deep=1 it also probes the backend;
// an unreachable backend degrades the status but still answers 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: time.Since(s.started).Seconds(),
		Pool:          s.pool.Stats(),
		ActiveRuns:    len(s.runtime.Active()),
	}
	s.mu.Lock()
	if s.listener != nil {
		resp.Connections = s.listener.Open()
	}
	s.mu.Unlock()

	if deep, _ := strconv.ParseBool(r.URL.Query().Get("deep")); deep && s.backend != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()
		if err := s.backend.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Backend = "unreachable"
			resp.BackendError = err.Error()
		} else {
			resp.Backend = "ready"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type capabilityDocument struct {
	Name        string          `json:"name"`
	Version     string          `json:"version,omitempty"`
	Description string          `json:"description"`
	Auth        map[string]any  `json:"auth"`
	AgentTypes  []agent.Profile `json:"agent_types"`
	Tools       []string        `json:"tools"`
	Streaming   []string        `json:"streaming"`
	Endpoints   []endpoint      `json:"endpoints"`
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	profiles := s.runtime.Profiles()
	for i := range profiles {
		profiles[i].Persona = ""
	}
	writeJSON(w, http.StatusOK, capabilityDocument{
		Name:        "agentd",
		Version:     s.version,
		Description: "Local-inference agent runtime with tool calling, checkpoints and versioned memory.",
		Auth:        map[string]any{"type": "bearer", "required": s.auth.Enabled()},
		AgentTypes:  profiles,
		Tools:       s.registry.Names(),
		Streaming:   []string{"sse", "websocket"},
		Endpoints:   s.endpoints(),
	})
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]models.ToolEntry{"tools": s.registry.Entries()})
}

type toolEnableRequest struct {
	Name string `json:"name"`
}

// handleToolEnable is the explicit re-enable for auto-disabled tools.
func (s *Server) handleToolEnable(w http.ResponseWriter, r *http.Request) {
	var req toolEnableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, badRequest("name is required"))
		return
	}
	if err := s.registry.Enable(req.Name); err != nil {
		if errors.Is(err, tools.ErrToolNotFound) {
			writeError(w, notFound("%v", err))
			return
		}
		writeError(w, err)
		return
	}
	s.logger.InfoContext(r.Context(), "tool re-enabled", "tool", req.Name)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "name": req.Name, "disabled": false})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleMetricsReset(w http.ResponseWriter, r *http.Request) {
	s.metrics.Reset()
	s.logger.InfoContext(r.Context(), "metrics reset")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": s.traceLog.Recent(limit), "total": s.traceLog.Len()})
}

// queryInt parses a non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("%s must be a non-negative integer", name)
	}
	return n, nil
}
