// Package environment wires a session, its terminal host and the shutdown
// coordinator into one running agent environment.
package environment

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/agentenv/internal/audit"
	"github.com/harun/agentenv/internal/config"
	"github.com/harun/agentenv/internal/metrics"
	"github.com/harun/agentenv/internal/terminal"
	"github.com/harun/agentenv/internal/tracing"
	"github.com/harun/agentenv/pkg/events"
	"github.com/harun/agentenv/pkg/history"
	"github.com/harun/agentenv/pkg/job"
	"github.com/harun/agentenv/pkg/provider"
	"github.com/harun/agentenv/pkg/session"
	"github.com/harun/agentenv/pkg/shutdown"
	"github.com/harun/agentenv/pkg/task"
	"github.com/harun/agentenv/pkg/tools"
	"github.com/harun/agentenv/pkg/worker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	serviceName  = "agentenv"
	auditLogName = "audit.log"
)

// Options configures an Environment
type Options struct {
	Config *config.Config
	// ConfigPath is watched for live tunable changes; empty disables the watcher
	ConfigPath string
	Version    string

	In      io.Reader
	Out     io.Writer
	NoColor bool
	Verbose bool

	// Providers replaces the providers built from the AI profiles
	Providers []provider.Provider
	// WorkDir confines the file tools; defaults to the current directory
	WorkDir string
	// HandleSignals routes SIGINT and SIGTERM to the coordinator
	HandleSignals bool

	Logger *zerolog.Logger
}

// RunOptions selects the workers and the initial message of one run
type RunOptions struct {
	Workers     int
	Names       []string
	Message     string
	Interactive bool
}

// Environment owns every component of one agentenv process
type Environment struct {
	cfg        *config.Config
	configPath string
	version    string
	logger     zerolog.Logger

	metrics     *metrics.Metrics
	bus         *events.Bus
	terminal    *terminal.Host
	input       *terminal.LineReader
	host        worker.Host
	session     *session.Session
	coordinator *shutdown.Coordinator
	history     *history.Store
	tools       *tools.Registry
	pidFile     *PIDFile
	audit       *audit.Logger
	auditDone   chan struct{}

	handleSignals bool
	tracer        *tracing.Provider

	mu    sync.RWMutex
	agent config.AgentConfig
}

// New builds an environment from configuration
func New(opts Options) (*Environment, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := opts.Config

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	providers := opts.Providers
	if len(providers) == 0 {
		built, err := buildProviders(cfg, logger)
		if err != nil {
			return nil, err
		}
		providers = built
	}
	pool, err := provider.NewPool(providers...)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider pool: %w", err)
	}

	e := &Environment{
		cfg:           cfg,
		configPath:    opts.ConfigPath,
		version:       opts.Version,
		logger:        logger,
		metrics:       metrics.NewMetrics(),
		pidFile:       NewPIDFile(cfg.DataDir),
		handleSignals: opts.HandleSignals,
		agent:         cfg.Agent,
	}

	if cfg.Tracing.Enabled {
		tracer, err := tracing.Setup(tracing.Options{
			ServiceName: serviceName,
			Version:     opts.Version,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		}
		e.tracer = tracer
	}

	busLogger := logger.With().Str("component", "events").Logger()
	e.bus = events.NewBus(events.Config{Logger: &busLogger})

	in := opts.In
	if in == nil {
		in = os.Stdin
	}
	e.input = terminal.NewLineReader(in)
	e.terminal = terminal.NewHost(terminal.Config{
		Out:     opts.Out,
		Input:   e.input,
		NoColor: opts.NoColor,
		Verbose: opts.Verbose,
	})
	e.host = terminal.Observe(e.terminal, e.metrics, e.bus)

	e.session, err = session.New(session.Config{
		Providers:       pool,
		MaxInactiveJobs: cfg.Session.MaxInactiveJobs,
		Host:            e.host,
		Events:          e.bus,
		Metrics:         e.metrics,
		Logger:          &logger,
	})
	if err != nil {
		e.bus.Close()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	e.coordinator = shutdown.New(shutdown.Config{
		DoubleInterruptWindow: cfg.Shutdown.DoubleInterruptWindow(),
		Timeout:               cfg.Shutdown.Timeout(),
		Logger:                &logger,
		Metrics:               e.metrics,
		Events:                e.bus,
	})

	e.history, err = history.Open(history.Config{
		Path:   cfg.History.Path,
		Limit:  cfg.History.Limit,
		Logger: &logger,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Input history disabled")
		e.history = nil
	}

	workDir := opts.WorkDir
	if workDir == "" {
		if workDir, err = os.Getwd(); err != nil {
			workDir = "."
		}
	}
	toolOpts := []tools.Option{tools.WithLogger(logger)}
	e.audit, err = audit.Open(filepath.Join(cfg.DataDir, auditLogName))
	if err != nil {
		logger.Warn().Err(err).Msg("Audit trail disabled")
		e.audit = nil
	} else {
		toolOpts = append(toolOpts, tools.WithAuditor(e.audit))
	}
	e.tools = tools.NewRegistry(toolOpts...)
	if err := tools.RegisterBuiltins(e.tools, workDir); err != nil {
		e.Close()
		return nil, err
	}

	logger.Info().
		Str("sessionId", e.session.ID()).
		Int("providers", pool.Len()).
		Msg("Environment initialized")

	return e, nil
}

func buildProviders(cfg *config.Config, logger zerolog.Logger) ([]provider.Provider, error) {
	if len(cfg.AI.Profiles) == 0 {
		return nil, fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	retry := provider.DefaultRetryConfig()
	retry.Logger = &logger

	providers := make([]provider.Provider, 0, len(cfg.AI.Profiles))
	for _, profile := range cfg.AI.Profiles {
		p, err := provider.New(provider.Profile{
			ID:          profile.ID,
			Provider:    profile.Provider,
			APIKey:      profile.APIKey,
			Model:       profile.Model,
			MaxTokens:   profile.MaxTokens,
			Temperature: profile.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("AI profile %s: %w", profile.ID, err)
		}
		providers = append(providers, provider.WithRetry(p, retry))
	}
	return providers, nil
}

// Session returns the environment's session
func (e *Environment) Session() *session.Session {
	return e.session
}

// Coordinator returns the shutdown coordinator
func (e *Environment) Coordinator() *shutdown.Coordinator {
	return e.coordinator
}

// Run builds the workers, optionally launches the initial message on each,
// then drives the interactive loop or waits for the jobs, and finally runs
// the graceful shutdown sequence. It returns the process exit code.
func (e *Environment) Run(ctx context.Context, ro RunOptions) (int, error) {
	if err := e.pidFile.Acquire(); err != nil {
		return 1, err
	}
	defer func() {
		if err := e.pidFile.Release(); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to release PID file")
		}
	}()

	e.startAudit()

	var metricsSrv *metricsServer
	if addr := e.cfg.Metrics.Addr; addr != "" {
		srv, err := startMetricsServer(addr, e.metrics.Handler(), e.logger)
		if err != nil {
			e.logger.Warn().Err(err).Str("addr", addr).Msg("Metrics endpoint disabled")
		} else {
			metricsSrv = srv
		}
	}

	var watcher *config.Watcher
	if e.configPath != "" {
		w, err := config.NewWatcher(config.NewLoader(e.configPath), e.logger, e.applyConfig)
		if err != nil {
			e.logger.Warn().Err(err).Msg("Config hot reload disabled")
		} else {
			watcher = w
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if e.handleSignals {
		go e.coordinator.Listen(runCtx, e.session)
	}

	workers := e.buildWorkers(ro)

	if ro.Message != "" {
		for _, w := range workers {
			if _, err := e.launchPrompt(w, ro.Message); err != nil {
				e.terminal.Notice("failed to start %s: %v", w.Name(), err)
			}
		}
	}

	if ro.Interactive {
		go newLoop(e, workers).run(runCtx)
	} else if err := e.startMonitor(runCtx); err != nil {
		e.logger.Warn().Err(err).Msg("Job monitor unavailable")
		e.coordinator.RequestShutdown()
	}

	select {
	case <-e.coordinator.ShutdownRequested():
	case <-ctx.Done():
	}

	var persister shutdown.Persister
	if e.history != nil {
		persister = e.history
	}
	result := e.coordinator.Run(context.Background(), e.session, persister)
	cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}
	if metricsSrv != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		metricsSrv.stop(stopCtx)
		stopCancel()
	}

	// A forced stop leaves tasks that ignored cancellation running; waiting
	// for the lanes to drain would block the exit.
	if !result.Forced() {
		e.Close()
	} else {
		e.closeStores()
	}

	return result.ExitCode(), nil
}

func (e *Environment) buildWorkers(ro RunOptions) []*worker.Worker {
	n := ro.Workers
	if len(ro.Names) > n {
		n = len(ro.Names)
	}
	if n < 1 {
		n = 1
	}

	workers := make([]*worker.Worker, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("worker-%d", i+1)
		if i < len(ro.Names) && ro.Names[i] != "" {
			name = ro.Names[i]
		}
		workers = append(workers, e.addWorker(name))
	}
	return workers
}

func (e *Environment) addWorker(name string) *worker.Worker {
	w := e.session.BuildWorker(name)
	e.terminal.AddWorker(w)
	return w
}

func (e *Environment) launchPrompt(w *worker.Worker, message string) (*job.Job, error) {
	e.mu.RLock()
	agent := e.agent
	e.mu.RUnlock()

	loop := task.NewAgentLoop(task.AgentLoopConfig{
		Worker:       w,
		Host:         e.host,
		Message:      message,
		SystemPrompt: agent.SystemPrompt,
		Tools:        e.tools.Definitions(),
		ToolRunner:   e.tools,
		MaxTurns:     agent.MaxTurns,
		Logger:       &e.logger,
	})
	return e.session.Launch(w, loop)
}

func (e *Environment) launchCompact(w *worker.Worker, instruction string) (*job.Job, error) {
	return e.session.Launch(w, task.NewCompact(w, e.host, instruction))
}

// applyConfig applies the tunables that can change without a restart
func (e *Environment) applyConfig(cfg *config.Config) {
	e.session.SetMaxInactiveJobs(cfg.Session.MaxInactiveJobs)
	e.coordinator.Reconfigure(cfg.Shutdown.DoubleInterruptWindow(), cfg.Shutdown.Timeout())

	e.mu.Lock()
	e.agent = cfg.Agent
	e.mu.Unlock()

	e.logger.Info().
		Int("maxInactiveJobs", cfg.Session.MaxInactiveJobs).
		Int("doubleInterruptWindowMs", cfg.Shutdown.DoubleInterruptWindowMs).
		Int("timeoutSeconds", cfg.Shutdown.TimeoutSeconds).
		Msg("Live settings applied")
}

// startMonitor requests shutdown once no active jobs remain. The check after
// subscribing covers jobs that finished before the subscription existed. The
// subscription is drained until ctx ends so publishers never block on it.
func (e *Environment) startMonitor(ctx context.Context) error {
	ch, err := e.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	if !e.session.HasActiveJobs() {
		e.coordinator.RequestShutdown()
	}

	go func() {
		for ev := range ch {
			if ev.Type == events.JobCompleted && !e.session.HasActiveJobs() {
				e.logger.Debug().Msg("All jobs finished")
				e.coordinator.RequestShutdown()
			}
		}
	}()
	return nil
}

// startAudit records every bus event until the bus closes
func (e *Environment) startAudit() {
	if e.audit == nil || e.auditDone != nil {
		return
	}
	ch, err := e.bus.Subscribe(context.Background())
	if err != nil {
		e.logger.Warn().Err(err).Msg("Audit trail unavailable")
		return
	}

	e.auditDone = make(chan struct{})
	go func() {
		defer close(e.auditDone)
		e.audit.Consume(context.Background(), ch)
	}()
}

// Close releases the session, stores and telemetry
func (e *Environment) Close() {
	e.session.Close()
	e.closeStores()
}

func (e *Environment) closeStores() {
	if e.history != nil {
		if err := e.history.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to close input history")
		}
	}
	if err := e.bus.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to close event bus")
	}
	if e.audit != nil {
		if e.auditDone != nil {
			<-e.auditDone
		}
		if err := e.audit.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to close audit trail")
		}
	}
	if e.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.tracer.Shutdown(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to shut down tracing")
		}
	}
}
