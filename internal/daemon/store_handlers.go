package daemon

import (
	"errors"
	"net/http"
	"strings"

	"github.com/haasonsaas/agentd/internal/checkpoint"
	"github.com/haasonsaas/agentd/internal/memory"
	"github.com/haasonsaas/agentd/internal/tasks"
	"github.com/haasonsaas/agentd/pkg/models"
)

// storeError maps store sentinel errors to transport errors.
func storeError(err error) error {
	switch {
	case errors.Is(err, memory.ErrBlockNotFound),
		errors.Is(err, memory.ErrVersionNotFound),
		errors.Is(err, memory.ErrEntryNotFound),
		errors.Is(err, checkpoint.ErrCheckpointNotFound),
		errors.Is(err, tasks.ErrNotFound):
		return notFound("%v", err)
	case errors.Is(err, memory.ErrBlockReadOnly):
		return newError(http.StatusForbidden, CodeForbidden, "%v", err)
	case errors.Is(err, memory.ErrTextNotFound),
		errors.Is(err, tasks.ErrInvalidTask),
		errors.Is(err, tasks.ErrInvalidWorkflow):
		return badRequest("%v", err)
	case errors.Is(err, tasks.ErrAlreadyRunning):
		return newError(http.StatusConflict, CodeConflict, "%v", err)
	}
	return err
}

// blockView adds the derived usage fields to a memory block.
type blockView struct {
	models.MemoryBlock
	Chars        int     `json:"chars"`
	UsagePercent float64 `json:"usage_percent"`
	OverLimit    bool    `json:"over_limit"`
}

func viewBlock(b models.MemoryBlock) blockView {
	return blockView{MemoryBlock: b, Chars: b.Length(), UsagePercent: b.UsagePercent(), OverLimit: b.IsOverLimit()}
}

func viewBlocks(blocks []models.MemoryBlock) []blockView {
	out := make([]blockView, len(blocks))
	for i, b := range blocks {
		out[i] = viewBlock(b)
	}
	return out
}

func (s *Server) handleMemory(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"blocks": viewBlocks(s.memory.Blocks())}
	if head, ok := s.memory.Versions().Head(); ok {
		resp["version_id"] = head.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// memoryUpdate is the body of POST /memory. Action defaults to upsert when
// a block is given.
type memoryUpdate struct {
	Action string              `json:"action,omitempty"`
	Label  string              `json:"label,omitempty"`
	Text   string              `json:"text,omitempty"`
	Old    string              `json:"old,omitempty"`
	New    string              `json:"new,omitempty"`
	Block  *models.MemoryBlock `json:"block,omitempty"`
}

func (s *Server) handleMemoryUpdate(w http.ResponseWriter, r *http.Request) {
	var req memoryUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Action == "" && req.Block != nil {
		req.Action = "upsert"
	}

	var (
		block models.MemoryBlock
		err   error
	)
	switch req.Action {
	case "append":
		if req.Label == "" || req.Text == "" {
			writeError(w, badRequest("append requires label and text"))
			return
		}
		block, err = s.memory.Append(req.Label, req.Text)
	case "replace":
		if req.Label == "" {
			writeError(w, badRequest("replace requires label"))
			return
		}
		block, err = s.memory.Replace(req.Label, req.Old, req.New)
	case "upsert":
		if req.Block == nil || strings.TrimSpace(req.Block.Label) == "" {
			writeError(w, badRequest("upsert requires block with a label"))
			return
		}
		block, err = s.memory.Upsert(*req.Block)
	default:
		writeError(w, badRequest("action must be append, replace or upsert"))
		return
	}
	if err != nil {
		writeError(w, storeError(err))
		return
	}
	resp := map[string]any{"success": true, "block": viewBlock(block)}
	if head, ok := s.memory.Versions().Head(); ok {
		resp["version_id"] = head.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, err)
		return
	}
	archive := s.memory.Archive()
	var entries []models.MemoryEntry
	if q := strings.TrimSpace(r.URL.Query().Get("query")); q != "" {
		entries = archive.Search(q, limit)
	} else {
		entries = archive.List(limit)
	}
	if entries == nil {
		entries = []models.MemoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "total": archive.Len()})
}

type entryUpdate struct {
	Action  string   `json:"action,omitempty"`
	ID      string   `json:"id,omitempty"`
	Content string   `json:"content,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

func (s *Server) handleEntriesUpdate(w http.ResponseWriter, r *http.Request) {
	var req entryUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	archive := s.memory.Archive()
	switch req.Action {
	case "", "insert":
		if strings.TrimSpace(req.Content) == "" {
			writeError(w, badRequest("content is required"))
			return
		}
		entry, err := archive.Insert(req.Content, req.Tags)
		if err != nil {
			writeError(w, storeError(err))
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "entry": entry})
	case "delete":
		if req.ID == "" {
			writeError(w, badRequest("id is required"))
			return
		}
		if err := archive.Delete(req.ID); err != nil {
			writeError(w, storeError(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": req.ID})
	default:
		writeError(w, badRequest("action must be insert or delete"))
	}
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, err)
		return
	}
	versions := s.memory.Versions()
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions.Log(limit), "total": versions.Len()})
}

// handleDiff compares ?from= with ?to=, which defaults to the head version.
func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" {
		writeError(w, badRequest("from is required"))
		return
	}
	versions := s.memory.Versions()
	if to == "" {
		head, ok := versions.Head()
		if !ok {
			writeError(w, notFound("no memory versions"))
			return
		}
		to = head.ID
	}
	diff, err := versions.Diff(from, to)
	if err != nil {
		writeError(w, storeError(err))
		return
	}
	if diff == nil {
		diff = []models.BlockDiff{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "changes": diff})
}

type rollbackRequest struct {
	VersionID string `json:"version_id"`
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.VersionID == "" {
		writeError(w, badRequest("version_id is required"))
		return
	}
	blocks, err := s.memory.Rollback(req.VersionID)
	if err != nil {
		writeError(w, storeError(err))
		return
	}
	resp := map[string]any{"success": true, "blocks": viewBlocks(blocks)}
	if head, ok := s.memory.Versions().Head(); ok {
		resp["version_id"] = head.ID
	}
	s.logger.InfoContext(r.Context(), "memory rolled back", "to", req.VersionID)
	writeJSON(w, http.StatusOK, resp)
}

// handleCheckpoints lists checkpoints, or returns one in full with ?id=.
func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	if s.checkpoints == nil {
		writeJSON(w, http.StatusOK, map[string]any{"checkpoints": []any{}})
		return
	}
	if id := r.URL.Query().Get("id"); id != "" {
		cp, err := s.checkpoints.Load(r.Context(), id)
		if err != nil {
			writeError(w, storeError(err))
			return
		}
		writeJSON(w, http.StatusOK, cp)
		return
	}
	list, err := s.checkpoints.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	// The list omits message histories.
	summaries := make([]models.AgentRunCheckpoint, len(list))
	for i, cp := range list {
		summaries[i] = *cp
		summaries[i].MessageHistory = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoints": summaries})
}

type idRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleCheckpointDelete(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := checkpoint.ValidateID(req.ID); err != nil {
		writeError(w, badRequest("%v", err))
		return
	}
	if s.checkpoints == nil {
		writeError(w, notFound("checkpoint store is not configured"))
		return
	}
	if err := s.checkpoints.Delete(r.Context(), req.ID); err != nil {
		writeError(w, storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": req.ID})
}

// taskUpdate is the body of POST /tasks. Action defaults to save, which
// creates the task when it has no id and updates it otherwise.
type taskUpdate struct {
	Action string      `json:"action,omitempty"`
	ID     string      `json:"id,omitempty"`
	Task   *tasks.Task `json:"task,omitempty"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		t, err := s.tasks.Task(id)
		if err != nil {
			writeError(w, storeError(err))
			return
		}
		writeJSON(w, http.StatusOK, t)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": s.tasks.Tasks()})
}

func (s *Server) handleTasksUpdate(w http.ResponseWriter, r *http.Request) {
	var req taskUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	switch req.Action {
	case "", "save", "create", "update":
		if req.Task == nil {
			writeError(w, badRequest("task is required"))
			return
		}
		t := *req.Task
		if req.Action == "create" {
			t.ID = ""
		}
		if req.Action == "update" {
			if t.ID == "" {
				t.ID = req.ID
			}
			if _, err := s.tasks.Task(t.ID); err != nil {
				writeError(w, storeError(err))
				return
			}
		}
		saved, err := s.tasks.SaveTask(t)
		if err != nil {
			writeError(w, storeError(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "task": saved})
	case "delete":
		if err := s.tasks.DeleteTask(req.ID); err != nil {
			writeError(w, storeError(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": req.ID})
	case "run":
		if s.scheduler == nil {
			writeError(w, newError(http.StatusConflict, CodeConflict, "task scheduler is disabled"))
			return
		}
		if err := s.scheduler.RunNow(r.Context(), req.ID); err != nil {
			writeError(w, storeError(err))
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "id": req.ID, "status": "running"})
	default:
		writeError(w, badRequest("action must be save, create, update, delete or run"))
	}
}

type workflowUpdate struct {
	Action   string          `json:"action,omitempty"`
	ID       string          `json:"id,omitempty"`
	Workflow *tasks.Workflow `json:"workflow,omitempty"`
}

func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		wf, err := s.tasks.Workflow(id)
		if err != nil {
			writeError(w, storeError(err))
			return
		}
		writeJSON(w, http.StatusOK, wf)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": s.tasks.Workflows()})
}

func (s *Server) handleWorkflowsUpdate(w http.ResponseWriter, r *http.Request) {
	var req workflowUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	switch req.Action {
	case "", "save", "create", "update":
		if req.Workflow == nil {
			writeError(w, badRequest("workflow is required"))
			return
		}
		wf := *req.Workflow
		if req.Action == "create" {
			wf.ID = ""
		}
		if req.Action == "update" {
			if wf.ID == "" {
				wf.ID = req.ID
			}
			if _, err := s.tasks.Workflow(wf.ID); err != nil {
				writeError(w, storeError(err))
				return
			}
		}
		saved, err := s.tasks.SaveWorkflow(wf)
		if err != nil {
			writeError(w, storeError(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "workflow": saved})
	case "delete":
		if err := s.tasks.DeleteWorkflow(req.ID); err != nil {
			writeError(w, storeError(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": req.ID})
	default:
		writeError(w, badRequest("action must be save, create, update or delete"))
	}
}
