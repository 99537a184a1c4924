package server

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Hook priorities. Lower runs first: stop accepting work, drain jobs,
// then close the stores they write to.
const (
	PriorityHTTP     = 10
	PriorityWatcher  = 15
	PriorityTemporal = 20
	PriorityJobs     = 30
	PriorityQuery    = 40
	PriorityProjects = 70
	PriorityTracing  = 80
	PriorityStorage  = 90
	PriorityAudit    = 95
)

// ShutdownHook is a function called during shutdown.
type ShutdownHook struct {
	Name     string
	Priority int
	Fn       func(ctx context.Context) error
}

// ShutdownConfig configures the shutdown handler.
type ShutdownConfig struct {
	Timeout time.Duration // default 30s
	Signals []os.Signal   // default SIGTERM, SIGINT
	Logger  *slog.Logger
}

// DefaultShutdownConfig returns default configuration.
func DefaultShutdownConfig() *ShutdownConfig {
	return &ShutdownConfig{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGTERM, syscall.SIGINT},
	}
}

// ShutdownHandler runs hooks in priority order once a signal arrives or
// Shutdown is called.
type ShutdownHandler struct {
	mu      sync.Mutex
	hooks   []ShutdownHook
	timeout time.Duration
	signals []os.Signal
	logger  *slog.Logger
	err     error

	started      bool
	shutdownCh   chan struct{}
	doneCh       chan struct{}
	shutdownOnce sync.Once
}

// NewShutdownHandler creates a new shutdown handler.
func NewShutdownHandler(config *ShutdownConfig) *ShutdownHandler {
	def := DefaultShutdownConfig()
	if config == nil {
		config = def
	}
	h := &ShutdownHandler{
		timeout:    config.Timeout,
		signals:    config.Signals,
		logger:     config.Logger,
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	if h.timeout <= 0 {
		h.timeout = def.Timeout
	}
	if len(h.signals) == 0 {
		h.signals = def.Signals
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// RegisterHook adds a shutdown hook. Hooks with equal priority run in
// registration order.
func (s *ShutdownHandler) RegisterHook(name string, priority int, fn func(ctx context.Context) error) {
	s.Register(ShutdownHook{Name: name, Priority: priority, Fn: fn})
}

// Register adds a prepared hook.
func (s *ShutdownHandler) Register(hook ShutdownHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
	sort.SliceStable(s.hooks, func(i, j int) bool { return s.hooks[i].Priority < s.hooks[j].Priority })
}

// Start begins listening for shutdown signals.
func (s *ShutdownHandler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, s.signals...)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))
			s.shutdownOnce.Do(func() { close(s.shutdownCh) })
		case <-s.shutdownCh:
		}
		s.run()
	}()
}

// Shutdown triggers a manual shutdown. It is a no-op before Start.
func (s *ShutdownHandler) Shutdown() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

// Wait blocks until every hook has run and returns their joined errors.
func (s *ShutdownHandler) Wait() error {
	<-s.doneCh
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// WaitWithTimeout blocks until shutdown is complete or timeout.
func (s *ShutdownHandler) WaitWithTimeout(timeout time.Duration) bool {
	select {
	case <-s.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Done returns a channel that closes when shutdown is complete.
func (s *ShutdownHandler) Done() <-chan struct{} { return s.doneCh }

// ShutdownCh returns a channel that closes when shutdown starts.
func (s *ShutdownHandler) ShutdownCh() <-chan struct{} { return s.shutdownCh }

func (s *ShutdownHandler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.mu.Lock()
	hooks := append([]ShutdownHook(nil), s.hooks...)
	s.mu.Unlock()

	var errs []error
	for _, hook := range hooks {
		start := time.Now()
		if err := hook.Fn(ctx); err != nil {
			s.logger.Error("shutdown hook failed", slog.String("hook", hook.Name), slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		s.logger.Debug("shutdown hook done", slog.String("hook", hook.Name), slog.Duration("duration", time.Since(start)))
	}

	s.mu.Lock()
	s.err = errors.Join(errs...)
	s.mu.Unlock()
	close(s.doneCh)
}

// HTTPServerHook stops an HTTP server from accepting new connections.
func HTTPServerHook(name string, shutdownFn func(ctx context.Context) error) ShutdownHook {
	return ShutdownHook{Name: name, Priority: PriorityHTTP, Fn: shutdownFn}
}

// WatcherHook stops a source watcher so it triggers no further analyses.
func WatcherHook(closeFn func() error) ShutdownHook {
	return ShutdownHook{Name: "watcher", Priority: PriorityWatcher, Fn: func(context.Context) error { return closeFn() }}
}

// TemporalWorkerHook stops the Temporal worker.
func TemporalWorkerHook(stopFn func()) ShutdownHook {
	return ShutdownHook{Name: "temporal-worker", Priority: PriorityTemporal, Fn: func(context.Context) error {
		stopFn()
		return nil
	}}
}

// JobsHook cancels running analyses and waits for them to settle.
func JobsHook(shutdownFn func(ctx context.Context) error) ShutdownHook {
	return ShutdownHook{Name: "jobs", Priority: PriorityJobs, Fn: shutdownFn}
}

// QueryHook releases the report cache.
func QueryHook(closeFn func()) ShutdownHook {
	return ShutdownHook{Name: "query", Priority: PriorityQuery, Fn: func(context.Context) error {
		closeFn()
		return nil
	}}
}

// TracingHook flushes and stops the tracer provider.
func TracingHook(shutdownFn func(ctx context.Context) error) ShutdownHook {
	return ShutdownHook{Name: "tracing", Priority: PriorityTracing, Fn: shutdownFn}
}

// StorageHook closes a store once nothing writes to it.
func StorageHook(name string, closeFn func() error) ShutdownHook {
	return ShutdownHook{Name: name, Priority: PriorityStorage, Fn: func(context.Context) error { return closeFn() }}
}

// AuditHook closes the audit log last so shutdown events are captured.
func AuditHook(closeFn func() error) ShutdownHook {
	return ShutdownHook{Name: "audit-logger", Priority: PriorityAudit, Fn: func(context.Context) error { return closeFn() }}
}

// GracefulServer combines health probes with shutdown handling.
type GracefulServer struct {
	Health   *HealthServer
	Shutdown *ShutdownHandler
}

// NewGracefulServer creates a server that reports not ready as soon as
// shutdown starts.
func NewGracefulServer(healthConfig *HealthConfig, shutdownConfig *ShutdownConfig) *GracefulServer {
	g := &GracefulServer{
		Health:   NewHealthServer(healthConfig),
		Shutdown: NewShutdownHandler(shutdownConfig),
	}
	go func() {
		<-g.Shutdown.ShutdownCh()
		g.Health.SetReady(false)
	}()
	return g
}

// Start listens for signals and marks the process ready.
func (g *GracefulServer) Start() {
	g.Shutdown.Start()
	g.Health.SetReady(true)
}

// Wait waits for shutdown to complete.
func (g *GracefulServer) Wait() error { return g.Shutdown.Wait() }

// Register adds a shutdown hook.
func (g *GracefulServer) Register(hook ShutdownHook) { g.Shutdown.Register(hook) }
