package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentd/internal/jsonstore"
)

// ErrNotFound is returned for unknown task or workflow IDs.
var ErrNotFound = jsonstore.ErrNotFound

const (
	tasksFile     = "tasks.json"
	workflowsFile = "workflows.json"
)

// Store persists tasks and workflows as JSON files under one directory.
type Store struct {
	tasks     *jsonstore.Collection[Task]
	workflows *jsonstore.Collection[Workflow]
	logger    *slog.Logger
	now       func() time.Time
}

// OpenStore opens (or creates on first write) the task and workflow files in dir.
func OpenStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "tasks")
	tasks, err := jsonstore.NewCollection(filepath.Join(dir, tasksFile), func(t Task) string { return t.ID }, logger)
	if err != nil {
		return nil, fmt.Errorf("open tasks: %w", err)
	}
	workflows, err := jsonstore.NewCollection(filepath.Join(dir, workflowsFile), func(w Workflow) string { return w.ID }, logger)
	if err != nil {
		return nil, fmt.Errorf("open workflows: %w", err)
	}
	return &Store{tasks: tasks, workflows: workflows, logger: logger, now: time.Now}, nil
}

// Tasks lists all tasks ordered by ID.
func (s *Store) Tasks() []Task { return s.tasks.List() }

// Task returns one task.
func (s *Store) Task(id string) (Task, error) { return s.tasks.Get(id) }

// SaveTask validates and upserts a task. A new task gets an ID and creation
// time; the next run is recomputed from the (possibly edited) schedule.
func (s *Store) SaveTask(t Task) (Task, error) {
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	now := s.now().UTC()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if prev, err := s.tasks.Get(t.ID); err == nil {
		t.CreatedAt = prev.CreatedAt
		t.LastRun, t.LastStatus, t.LastRunID, t.LastError = prev.LastRun, prev.LastStatus, prev.LastRunID, prev.LastError
	} else if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.NextRun = nil
	if t.Enabled {
		next, err := NextRun(t, now)
		if err != nil {
			return Task{}, fmt.Errorf("%w: %w", ErrInvalidTask, err)
		}
		t.NextRun = &next
	}
	if err := s.tasks.Put(t); err != nil {
		return Task{}, err
	}
	return t, nil
}

// DeleteTask removes a task.
func (s *Store) DeleteTask(id string) error { return s.tasks.Delete(id) }

// Due returns enabled tasks whose next run is at or before now, oldest first.
func (s *Store) Due(now time.Time) []Task {
	var due []Task
	for _, t := range s.tasks.List() {
		if t.Enabled && t.NextRun != nil && !t.NextRun.After(now) {
			due = append(due, t)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].NextRun.Before(*due[j].NextRun) })
	return due
}

// update applies fn to the stored copy of a task and persists it.
func (s *Store) update(id string, fn func(*Task)) (Task, error) {
	t, err := s.tasks.Get(id)
	if err != nil {
		return Task{}, err
	}
	fn(&t)
	t.UpdatedAt = s.now().UTC()
	return t, s.tasks.Put(t)
}

// Workflows lists all workflows ordered by ID.
func (s *Store) Workflows() []Workflow { return s.workflows.List() }

// Workflow returns one workflow.
func (s *Store) Workflow(id string) (Workflow, error) { return s.workflows.Get(id) }

// SaveWorkflow validates and upserts a workflow.
func (s *Store) SaveWorkflow(w Workflow) (Workflow, error) {
	if err := w.Validate(); err != nil {
		return Workflow{}, err
	}
	now := s.now().UTC()
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if prev, err := s.workflows.Get(w.ID); err == nil {
		w.CreatedAt = prev.CreatedAt
	} else if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	if err := s.workflows.Put(w); err != nil {
		return Workflow{}, err
	}
	return w, nil
}

// DeleteWorkflow removes a workflow.
func (s *Store) DeleteWorkflow(id string) error { return s.workflows.Delete(id) }

// Watch reloads both files when they are edited outside the daemon. It
// blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	errc := make(chan error, 2)
	watch := func(f *jsonstore.File, reload func() error) {
		errc <- f.Watch(ctx, 0, func() {
			if err := reload(); err != nil {
				s.logger.Warn("reload after external edit failed", "path", f.Path(), "error", err)
				return
			}
			s.logger.Info("reloaded after external edit", "path", f.Path())
		})
	}
	go watch(s.tasks.File(), s.tasks.Reload)
	go watch(s.workflows.File(), s.workflows.Reload)
	return errors.Join(<-errc, <-errc)
}
