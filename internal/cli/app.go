package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/harun/grove/internal/config"
	"github.com/harun/grove/internal/logger"
	"github.com/harun/grove/internal/observability"
	"github.com/harun/grove/internal/tracing"
	"github.com/harun/grove/pkg/model"
	"github.com/harun/grove/pkg/prompt"
	"github.com/harun/grove/pkg/protocol"
	"github.com/harun/grove/pkg/router"
	"github.com/harun/grove/pkg/sandbox"
	"github.com/harun/grove/pkg/statemachine"
	"github.com/harun/grove/pkg/tot"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

// app wires the configured components of one CLI invocation.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	logger   zerolog.Logger
	client   model.Completer
	repairer *protocol.Repairer
	prompts  *prompt.Library
	executor *sandbox.CodeExecutor

	searchDef *statemachine.Definition
	routerDef *statemachine.Definition

	closers []func(ctx context.Context) error
}

// loadConfig loads the config file and applies the global flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr = metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logCfg := cfg.Logging
	for _, profile := range cfg.Model.Profiles {
		logCfg.Secrets = append(logCfg.Secrets, profile.APIKey)
	}
	a.log, err = logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.log.Close() })
	a.logger = a.log.Zerolog()

	if err := a.setupObservability(); err != nil {
		return nil, err
	}

	client, err := model.NewClient(cfg.Model.ClientConfig(), cfg.Model.Profiles,
		model.WithLogger(a.log.Component("model")),
	)
	if err != nil {
		return nil, fmt.Errorf("init model client: %w", err)
	}
	a.client = client

	a.repairer = protocol.NewRepairer(client,
		protocol.WithMaxDepth(cfg.Search.RepairDepth),
		protocol.WithLogger(a.log.Component("protocol")),
	)

	a.prompts, err = loadPrompts(cfg.Prompts.Dir, a.log.Component("prompt"))
	if err != nil {
		return nil, err
	}
	if cfg.Prompts.Watch {
		watcher, err := prompt.NewWatcher(a.prompts,
			prompt.WithDebounce(cfg.Prompts.Debounce),
			prompt.WithWatcherLogger(a.log.Component("prompt")),
		)
		if err != nil {
			return nil, fmt.Errorf("watch prompts: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return nil, fmt.Errorf("watch prompts: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return watcher.Stop() })
	}

	if a.searchDef, err = loadDefinition(cfg.Search.States); err != nil {
		return nil, err
	}
	if a.routerDef, err = loadDefinition(cfg.Router.States); err != nil {
		return nil, err
	}

	sb, err := sandbox.New(cfg.Sandbox)
	if err != nil {
		return nil, fmt.Errorf("init sandbox: %w", err)
	}
	if docker, ok := sb.(*sandbox.DockerSandbox); ok {
		if err := docker.Ping(ctx); err != nil {
			return nil, err
		}
	}
	if err := sb.Start(ctx); err != nil {
		return nil, fmt.Errorf("start sandbox: %w", err)
	}
	a.closers = append(a.closers, sb.Stop)
	a.executor = sandbox.NewCodeExecutor(sb, sandbox.WithLogger(a.log.Component("sandbox")))

	return a, nil
}

func (a *app) setupObservability() error {
	if path := a.cfg.Metrics.AuditLog; path != "" {
		if err := observability.InitAuditLogger(path); err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error {
			return observability.GetAuditLogger().Close()
		})
	}

	if a.cfg.Tracing.Enabled {
		opts := tracing.Options{
			ServiceName: a.cfg.Tracing.ServiceName,
			SampleRatio: a.cfg.Tracing.SampleRatio,
			Endpoint:    a.cfg.Tracing.Endpoint,
			Insecure:    a.cfg.Tracing.Insecure,
		}
		if path := a.cfg.Tracing.File; path != "" {
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("open span file: %w", err)
			}
			a.closers = append(a.closers, func(context.Context) error { return file.Close() })
			opts.Writer = file
		}

		provider, err := tracing.InitOpenTelemetry(context.Background(), opts)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		a.closers = append(a.closers, provider.Shutdown)
	}

	if addr := a.cfg.Metrics.Addr; addr != "" {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen for metrics: %w", err)
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
		a.logger.Info().Str("addr", listener.Addr().String()).Msg("Serving metrics")
		a.closers = append(a.closers, server.Shutdown)
	}

	return nil
}

// newEngine builds the search engine of one agent.
func (a *app) newEngine(name string) (*tot.Engine, error) {
	return tot.New(tot.Dependencies{
		Completer:  a.client,
		Executor:   a.executor,
		Prompts:    a.prompts,
		Repairer:   a.repairer,
		Definition: a.searchDef,
		Logger:     a.logger.With().Str("agent", name).Logger(),
	}, a.cfg.Search.EngineConfig())
}

func (a *app) newRouter() (*router.Router, error) {
	return router.New(router.Dependencies{
		Completer: a.client,
		Factory: func(name, description string) (router.Runner, error) {
			engine, err := a.newEngine(name)
			if err != nil {
				return nil, err
			}
			return engine, nil
		},
		Prompts:    a.prompts,
		Repairer:   a.repairer,
		Definition: a.routerDef,
		Logger:     a.log.Component("router"),
	}, router.WithTemperature(a.cfg.Router.Temperature))
}

// Close releases everything newApp set up, newest first.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// loadPrompts compiles the built-in search and routing prompts with the
// optional override dir on top.
func loadPrompts(dir string, logger zerolog.Logger) (*prompt.Library, error) {
	opts := []prompt.Option{prompt.WithLogger(logger)}
	if dir != "" {
		opts = append(opts, prompt.WithOverrideDir(dir))
	}

	lib, err := prompt.New([][]byte{tot.DefaultPrompts(), router.DefaultPrompts()}, opts...)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	return lib, nil
}

// loadDefinition reads a state table override. An empty path selects the
// built-in table.
func loadDefinition(path string) (*statemachine.Definition, error) {
	if path == "" {
		return nil, nil
	}
	def, err := statemachine.LoadDefinition(path)
	if err != nil {
		return nil, fmt.Errorf("load state table %s: %w", path, err)
	}
	return &def, nil
}
