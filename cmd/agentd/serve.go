package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/haasonsaas/agentd/internal/agent"
	"github.com/haasonsaas/agentd/internal/auth"
	"github.com/haasonsaas/agentd/internal/backoff"
	"github.com/haasonsaas/agentd/internal/checkpoint"
	"github.com/haasonsaas/agentd/internal/config"
	"github.com/haasonsaas/agentd/internal/daemon"
	"github.com/haasonsaas/agentd/internal/llm"
	"github.com/haasonsaas/agentd/internal/memory"
	"github.com/haasonsaas/agentd/internal/observability"
	"github.com/haasonsaas/agentd/internal/ratelimit"
	"github.com/haasonsaas/agentd/internal/tasks"
	"github.com/haasonsaas/agentd/internal/tools"
	"github.com/haasonsaas/agentd/internal/tools/files"
	"github.com/haasonsaas/agentd/internal/tools/memorytools"
)

// runServe wires every component from cfg and serves until a signal arrives.
func runServe(ctx context.Context, cfg *config.Config, configPath string, debug bool) error {
	if debug {
		cfg.Logging.Level = "debug"
	}
	logger := observability.NewLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting agentd",
		"version", version,
		"commit", commit,
		"config", configPath,
		"data_dir", cfg.Storage.DataDir,
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg.Tracing.ServiceVersion = version
	shutdownTracing, err := observability.NewTracerProvider(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	metrics := observability.NewMetrics()

	backend, err := buildBackend(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	if cfg.LLM.WaitReady {
		wctx, cancel := context.WithTimeout(ctx, cfg.LLM.ReadyTimeout)
		err := llm.WaitReady(wctx, backend, backoff.ReadinessPolicy(), logger)
		cancel()
		if err != nil {
			return fmt.Errorf("backend %s not ready: %w", cfg.LLM.DefaultProvider, err)
		}
		logger.Info("backend ready", "provider", cfg.LLM.DefaultProvider)
	}

	registry := tools.NewRegistry(tools.RegistryConfig{
		DisableThreshold: cfg.Tools.DisableThreshold,
		Timeout:          cfg.Tools.Timeout,
		OnResult:         metrics.ToolResult,
		OnDisable: func(name string, lastErr error) {
			metrics.ToolDisabled(name, lastErr)
			logger.Warn("tool auto-disabled", "tool", name, "error", lastErr)
		},
	})
	registry.Register(files.NewTool(files.Config{
		Roots:      cfg.Tools.FileRoots,
		AllowWrite: cfg.Tools.AllowFileWrite,
	}))

	dataDir := cfg.Storage.DataDir
	mem, err := memory.NewStore(memory.Config{
		Dir:             filepath.Join(dataDir, "memory"),
		Blocks:          cfg.Memory.Blocks,
		ProtectedLabels: cfg.Memory.ProtectedLabels,
		MaxVersions:     cfg.Memory.MaxVersions,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("memory store: %w", err)
	}
	memorytools.Register(registry, mem)

	checkpoints, err := checkpoint.Open(cfg.Storage.CheckpointBackend, filepath.Join(dataDir, "checkpoints"), logger)
	if err != nil {
		return fmt.Errorf("checkpoint store: %w", err)
	}
	defer checkpoints.Close()

	profiles, err := agent.MergeProfiles(cfg.Agent.ProfileOverrides())
	if err != nil {
		return fmt.Errorf("agent profiles: %w", err)
	}
	rt, err := agent.NewRuntime(agent.Config{
		Backend:            backend,
		Registry:           registry,
		Memory:             mem,
		Checkpoints:        checkpoints,
		Profiles:           profiles,
		DefaultProfile:     cfg.Agent.DefaultProfile,
		BackendTimeout:     cfg.LLM.RequestTimeout,
		MaxDelegationDepth: cfg.Agent.MaxDelegationDepth,
		Observer:           metrics,
		Logger:             logger,
	})
	if err != nil {
		return err
	}
	for _, name := range cfg.Tools.Disabled {
		if err := registry.Disable(name); err != nil {
			logger.Warn("cannot disable tool from config", "tool", name, "error", err)
		}
	}

	taskStore, err := tasks.OpenStore(filepath.Join(dataDir, "tasks"), logger)
	if err != nil {
		return fmt.Errorf("task store: %w", err)
	}
	var scheduler *tasks.SchedulerConfig
	if cfg.Tasks.Enabled {
		scheduler = &tasks.SchedulerConfig{
			PollInterval: cfg.Tasks.PollInterval,
			Timeout:      cfg.Tasks.Timeout,
			Logger:       logger,
		}
	}

	authSvc := auth.NewService(cfg.Auth)
	if !authSvc.Enabled() {
		logger.Warn("authentication is disabled; set auth.token or auth.jwt_secret")
	}

	srv, err := daemon.New(daemon.Config{
		Server:    cfg.Server,
		Version:   version,
		Runtime:   rt,
		Registry:  registry,
		Workers:   cfg.Pool.Size,
		Memory:    mem,
		Tasks:     taskStore,
		Scheduler: scheduler,
		Auth:      authSvc,
		Limiter:   ratelimit.NewLimiter(cfg.RateLimit),
		Metrics:   metrics,
		Backend:   backend,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildBackend registers every configured provider behind a router whose
// default is llm.default_provider.
func buildBackend(ctx context.Context, cfg config.LLMConfig) (*llm.Router, error) {
	router := llm.NewRouter(cfg.DefaultProvider)
	for name, s := range cfg.Providers {
		if s.Model == "" && name == cfg.DefaultProvider {
			s.Model = cfg.DefaultModel
		}
		b, err := llm.New(ctx, name, s)
		if err != nil {
			return nil, fmt.Errorf("llm provider %s: %w", name, err)
		}
		router.Register(name, b)
	}
	return router, nil
}
