// Package daemon is the agent runtime's transport: a raw-socket accept loop
// that admits a bounded number of connections, authenticates and rate limits
// requests, and routes them to buffered JSON handlers or to the streaming
// endpoints that relay agent steps as server-sent events or WebSocket frames.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/agentd/internal/agent"
	"github.com/haasonsaas/agentd/internal/auth"
	"github.com/haasonsaas/agentd/internal/checkpoint"
	"github.com/haasonsaas/agentd/internal/config"
	"github.com/haasonsaas/agentd/internal/llm"
	"github.com/haasonsaas/agentd/internal/memory"
	"github.com/haasonsaas/agentd/internal/observability"
	"github.com/haasonsaas/agentd/internal/pool"
	"github.com/haasonsaas/agentd/internal/ratelimit"
	"github.com/haasonsaas/agentd/internal/tasks"
	"github.com/haasonsaas/agentd/internal/tools"
)

// Config wires a Server. Runtime and Registry are required; everything
// else is optional and disables the endpoints that need it when nil.
type Config struct {
	Server  config.ServerConfig
	Version string

	Runtime  *agent.Runtime
	Registry *tools.Registry
	// Workers is the worker pool size. Defaults to config.DefaultPoolSize.
	Workers int

	Memory *memory.Store
	Tasks  *tasks.Store
	// Scheduler, when set with Tasks, fires due tasks while serving.
	Scheduler *tasks.SchedulerConfig

	Auth     *auth.Service
	Limiter  *ratelimit.Limiter
	Metrics  *observability.Metrics
	TraceLog *observability.TraceLog
	// Backend is probed by GET /health?deep=1 when it supports it.
	Backend llm.Pinger

	Tracer trace.Tracer
	Logger *slog.Logger
}

// Server serves the daemon's HTTP API.
type Server struct {
	cfg         config.ServerConfig
	version     string
	runtime     *agent.Runtime
	registry    *tools.Registry
	pool        *pool.Pool[*agent.Loop]
	memory      *memory.Store
	checkpoints checkpoint.Store
	tasks       *tasks.Store
	scheduler   *tasks.Scheduler
	auth        *auth.Service
	limiter     *ratelimit.Limiter
	metrics     *observability.Metrics
	traceLog    *observability.TraceLog
	backend     llm.Pinger
	tracer      trace.Tracer
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	handler     http.Handler
	started     time.Time

	mu         sync.Mutex
	httpServer *http.Server
	listener   *gatedListener
}

// New builds a Server and its worker pool.
func New(cfg Config) (*Server, error) {
	if cfg.Runtime == nil {
		return nil, errors.New("daemon: agent runtime is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("daemon: tool registry is required")
	}
	sc := cfg.Server
	if sc.MaxBodyBytes <= 0 {
		sc.MaxBodyBytes = config.DefaultMaxBodyBytes
	}
	if sc.MaxConnections <= 0 {
		sc.MaxConnections = config.DefaultMaxConnections
	}
	if sc.ShutdownTimeout <= 0 {
		sc.ShutdownTimeout = 15 * time.Second
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = config.DefaultPoolSize
	}
	loops := make([]*agent.Loop, workers)
	for i := range loops {
		loops[i] = cfg.Runtime.NewLoop()
	}
	p, err := pool.New(loops)
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/haasonsaas/agentd/internal/daemon")
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewLimiter(ratelimit.Config{Enabled: false})
	}
	authSvc := cfg.Auth
	if authSvc == nil {
		authSvc = auth.NewService(auth.Config{})
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	traceLog := cfg.TraceLog
	if traceLog == nil {
		traceLog = observability.NewTraceLog(observability.DefaultTraceLogSize)
	}
	metrics.RegisterPool(p.Stats)

	s := &Server{
		cfg:         sc,
		version:     cfg.Version,
		runtime:     cfg.Runtime,
		registry:    cfg.Registry,
		pool:        p,
		memory:      cfg.Memory,
		checkpoints: cfg.Runtime.Checkpoints(),
		tasks:       cfg.Tasks,
		auth:        authSvc,
		limiter:     limiter,
		metrics:     metrics,
		traceLog:    traceLog,
		backend:     cfg.Backend,
		tracer:      tracer,
		logger:      logger.With("component", "daemon"),
		started:     time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 8192,
			// The daemon binds to loopback and requires a bearer token.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if cfg.Tasks != nil && cfg.Scheduler != nil {
		sched := *cfg.Scheduler
		if sched.Logger == nil {
			sched.Logger = logger
		}
		s.scheduler = tasks.NewScheduler(cfg.Tasks, s.runTask, sched)
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Pool exposes the worker pool.
func (s *Server) Pool() *pool.Pool[*agent.Loop] { return s.pool }

// Scheduler returns the task scheduler, or nil when tasks are disabled.
func (s *Server) Scheduler() *tasks.Scheduler { return s.scheduler }

// Addr returns the bound address once serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe binds the configured host and port and serves until ctx is
// done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("daemon: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	gated := newGatedListener(ln, s.cfg.MaxConnections, s.logger)
	gated.onOpen = s.metrics.ConnectionOpened
	gated.onClose = s.metrics.ConnectionClosed
	gated.onReject = s.metrics.ConnectionRejected

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.mu.Lock()
	s.httpServer = srv
	s.listener = gated
	s.mu.Unlock()

	if s.scheduler != nil {
		s.scheduler.Start(ctx)
	}
	if s.tasks != nil {
		go func() {
			if err := s.tasks.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("task file watch stopped", "error", err)
			}
		}()
	}

	gated.start()
	s.logger.Info("daemon listening", "addr", gated.Addr().String(),
		"max_connections", s.cfg.MaxConnections, "workers", s.pool.Stats().Size)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(gated) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.shutdown(shutdownCtx)
}

func (s *Server) shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.scheduler != nil {
		if err := s.scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
		}
	}
	s.logger.Info("daemon stopped")
	return errors.Join(errs...)
}
