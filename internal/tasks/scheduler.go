package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/agentd/internal/backoff"
)

// RunFunc executes one firing of a task and returns the agent run ID.
// Returning a backoff.Permanent error stops retries.
type RunFunc func(ctx context.Context, t Task) (runID string, err error)

// SchedulerConfig configures the dispatcher.
type SchedulerConfig struct {
	// PollInterval is how often due tasks are checked. Defaults to 30s.
	PollInterval time.Duration
	// Timeout bounds one firing including retries. Defaults to 10m.
	Timeout time.Duration
	// MaxAttempts caps retries of a failed firing. Defaults to 3.
	MaxAttempts int
	Retry       backoff.Policy
	Logger      *slog.Logger
}

// Scheduler fires due tasks. A task never overlaps itself: if a firing is
// still running when the task comes due again, that activation is skipped.
type Scheduler struct {
	store  *Store
	run    RunFunc
	cfg    SchedulerConfig
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running map[string]struct{}
	base    context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler over store.
func NewScheduler(store *Store, run RunFunc, cfg SchedulerConfig) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Retry == (backoff.Policy{}) {
		cfg.Retry = backoff.Policy{Initial: 2 * time.Second, Max: time.Minute, Factor: 2, Jitter: 0.1}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:   store,
		run:     run,
		cfg:     cfg,
		logger:  logger.With("component", "task-scheduler"),
		now:     time.Now,
		running: make(map[string]struct{}),
	}
}

// Start launches the poll loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.base = ctx
	s.logger.Info("starting task scheduler", "poll_interval", s.cfg.PollInterval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()
		s.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop cancels in-flight firings and waits for them, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel, s.base = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("task scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick dispatches every task that is due now and returns how many firings
// were started.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now().UTC()
	started := 0
	for _, t := range s.store.Due(now) {
		if s.fire(ctx, t, now) {
			started++
		}
	}
	return started
}

// RunNow fires a task immediately regardless of its schedule. The firing
// outlives ctx; it is bound to the scheduler's lifetime when started.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	t, err := s.store.Task(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	if base == nil {
		base = context.WithoutCancel(ctx)
	}
	if !s.fire(base, t, s.now().UTC()) {
		return ErrAlreadyRunning
	}
	return nil
}

// ErrAlreadyRunning is returned by RunNow while the task's previous firing
// has not finished.
var ErrAlreadyRunning = errors.New("task is already running")

// Wait blocks until all in-flight firings have finished.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) fire(ctx context.Context, t Task, now time.Time) bool {
	s.mu.Lock()
	_, busy := s.running[t.ID]
	if !busy {
		s.running[t.ID] = struct{}{}
	}
	s.mu.Unlock()

	next, err := NextRun(t, now)
	if err != nil {
		s.logger.Error("invalid schedule, disabling task", "task_id", t.ID, "schedule", t.Schedule, "error", err)
		s.record(t.ID, func(t *Task) {
			t.Enabled = false
			t.NextRun = nil
			t.LastError = err.Error()
		})
		s.finish(t.ID, busy)
		return false
	}

	if busy {
		s.logger.Debug("skipping overlapping firing", "task_id", t.ID, "task_name", t.Name)
		s.record(t.ID, func(t *Task) {
			if t.Enabled {
				t.NextRun = &next
			}
			t.LastStatus = RunStatusSkipped
		})
		return false
	}

	s.record(t.ID, func(t *Task) {
		if t.Enabled {
			t.NextRun = &next
		}
		t.LastRun = &now
		t.LastStatus = RunStatusRunning
		t.LastError = ""
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.finish(t.ID, false)
		s.execute(ctx, t)
	}()
	return true
}

func (s *Scheduler) finish(id string, busy bool) {
	if busy {
		return
	}
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}

func (s *Scheduler) execute(ctx context.Context, t Task) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	logger := s.logger.With("task_id", t.ID, "task_name", t.Name)
	logger.Info("firing scheduled task", "agent_type", t.AgentType)
	start := time.Now()

	runID, err := backoff.Retry(ctx, s.cfg.Retry, s.cfg.MaxAttempts, func(int) (string, error) {
		return s.run(ctx, t)
	}, func(attempt int, err error, wait time.Duration) {
		logger.Warn("scheduled task failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	})

	s.record(t.ID, func(t *Task) {
		t.LastRunID = runID
		if err != nil {
			t.LastStatus = RunStatusFailed
			t.LastError = err.Error()
			return
		}
		t.LastStatus = RunStatusSucceeded
		t.LastError = ""
	})
	if err != nil {
		logger.Error("scheduled task failed", "run_id", runID, "duration", time.Since(start), "error", err)
		return
	}
	logger.Info("scheduled task completed", "run_id", runID, "duration", time.Since(start))
}

func (s *Scheduler) record(id string, fn func(*Task)) {
	if _, err := s.store.update(id, fn); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Error("failed to persist task state", "task_id", id, "error", err)
	}
}
