// Package daemon assembles the engine: config, store, monitor, orchestrator,
// integration engine and API server, with one Run call owning their
// lifetimes.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rewindlabs/rewind/internal/adapters"
	"github.com/rewindlabs/rewind/internal/api"
	"github.com/rewindlabs/rewind/internal/archive"
	"github.com/rewindlabs/rewind/internal/cdn"
	"github.com/rewindlabs/rewind/internal/config"
	"github.com/rewindlabs/rewind/internal/configresolver"
	"github.com/rewindlabs/rewind/internal/constants"
	"github.com/rewindlabs/rewind/internal/dbtool"
	"github.com/rewindlabs/rewind/internal/deployer"
	"github.com/rewindlabs/rewind/internal/integration"
	"github.com/rewindlabs/rewind/internal/logging"
	"github.com/rewindlabs/rewind/internal/metrics"
	"github.com/rewindlabs/rewind/internal/monitor"
	"github.com/rewindlabs/rewind/internal/notify"
	"github.com/rewindlabs/rewind/internal/orchestrator"
	"github.com/rewindlabs/rewind/internal/rollback"
	"github.com/rewindlabs/rewind/internal/secrets"
	"github.com/rewindlabs/rewind/internal/store"
)

// Options come from the rewindd command line.
type Options struct {
	ConfigPath string
	// LogLevel overrides the config file's logs.level when non-empty.
	LogLevel string
}

// Run starts the daemon and blocks until ctx is cancelled or a component
// fails to start. Shutdown drains the HTTP server, stops the loops and waits
// for in-flight executions to settle.
func Run(ctx context.Context, opts Options) error {
	cfg, _, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logs.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}

	broker := logging.NewBroker()
	defer broker.Close()
	logger := logging.NewWithBroker("rewindd", logging.ParseLevel(level), broker)

	dataDir := cfg.Server.DataDir
	if err := os.MkdirAll(dataDir, constants.ModeDirPrivate); err != nil {
		return fmt.Errorf("failed to create data dir %s: %w", dataDir, err)
	}

	identity, err := secrets.EnsureIdentity(dataDir)
	if err != nil {
		return fmt.Errorf("failed to set up encryption identity: %w", err)
	}

	st, err := store.New(dataDir, identity)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}

	resolved, err := configresolver.Resolve(&cfg, st)
	if err != nil {
		return fmt.Errorf("failed to resolve config secrets: %w", err)
	}

	apiToken, err := config.LoadAPIToken("")
	if err != nil {
		return fmt.Errorf("the API server cannot start without a token: %w", err)
	}

	m := metrics.New()
	registry := prometheus.NewRegistry()
	if err := m.Register(registry); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	notifier := notify.New(resolved.Notifications, logger)

	adapterRegistry, dbProber, closeAdapters, err := buildAdapters(resolved, st, logger)
	if err != nil {
		return err
	}
	defer closeAdapters()

	sink := &engineSink{}
	mon := monitor.New(resolved.Deployment, resolved.Monitoring, monitor.Deps{
		RuleState: st,
		Sink:      sink,
		Notifier:  notifier,
		Archiver: &logArchiver{
			srcDir:  resolved.Logs.PreserveDir,
			destDir: resolved.Logs.ArchiveDir,
		},
		Database: dbProber,
		Metrics:  m,
		Logger:   logger,
	})

	orch := orchestrator.New(st, adapterRegistry, mon, m, logger, orchestratorOptions(resolved))
	engine := integration.New(*resolved, mon, orch, notifier, broker, logger)
	sink.engine = engine

	if recovered, err := orch.RecoverOrphans(); err != nil {
		logger.Error("orphan recovery failed", "error", err)
	} else if recovered > 0 {
		logger.Info("closed out orphaned executions", "count", recovered)
	}

	server := api.New(api.Config{
		Engine:   engine,
		Driver:   orch,
		Secrets:  st,
		Broker:   broker,
		Registry: registry,
		APIToken: apiToken,
		Logger:   logger,
	})

	var wg sync.WaitGroup

	if resolved.Monitoring.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("health monitor failed", "error", err)
			}
		}()
	} else if len(resolved.Monitoring.Checks) > 0 {
		logger.Warn("monitoring is disabled but checks are configured, set monitoring.enabled to start them")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("integration engine failed", "error", err)
		}
	}()

	logger.Info("rewindd started",
		"version", constants.Version,
		"deployment_id", resolved.Deployment.DeploymentID,
		"environment", resolved.Deployment.Environment,
		"data_dir", dataDir)

	err = server.Run(ctx, ":"+resolved.Server.APIPort.String())

	wg.Wait()
	orch.Shutdown()
	logger.Info("rewindd stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildAdapters constructs the adapter registry for the service kinds the
// config actually declares, so a deployment without backend services never
// needs a reachable container runtime. The returned close func releases the
// runtime and database handles.
func buildAdapters(cfg *config.Config, st *store.Store, logger *slog.Logger) (*adapters.Registry, monitor.DatabaseProber, func(), error) {
	var list []adapters.Adapter
	var closers []io.Closer
	var prober monitor.DatabaseProber

	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	services := cfg.Deployment.Services
	if hasServiceKind(services, rollback.ServiceBackend) {
		runtime, err := deployer.New(logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create container runtime: %w", err)
		}
		closers = append(closers, runtime)
		list = append(list, adapters.NewBackendAdapter(runtime, st, services, logger))
	}

	if hasServiceKind(services, rollback.ServiceFrontend) {
		var cdnClient adapters.CDN
		var purgePaths []string
		if cfg.CDN != nil {
			cdnClient = cdn.New(cfg.CDN.BaseURL, cfg.CDN.APIKey.Value, logger)
			purgePaths = cfg.CDN.PurgePaths
		}
		list = append(list, adapters.NewFrontendAdapter(cdnClient, st, services, purgePaths, logger))
	}

	if cfg.Database != nil {
		tool, err := dbtool.New(cfg.Database.DSN.Value, cfg.Database.MigrationsDir, cfg.Database.SnapshotDir, logger)
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("failed to connect to managed database: %w", err)
		}
		closers = append(closers, tool)
		prober = tool
		list = append(list, adapters.NewDatabaseAdapter(tool, logger))
	}

	if hasServiceKind(services, rollback.ServiceCustom) {
		list = append(list, adapters.NewCustomAdapter(services, logger))
	}

	return adapters.NewRegistry(list...), prober, closeAll, nil
}

func hasServiceKind(services []config.ServiceConfig, kind rollback.Service) bool {
	for _, svc := range services {
		if svc.Kind == string(kind) {
			return true
		}
	}
	return false
}

// orchestratorOptions maps the rollback config onto the execution driver.
// Blocking services are configured by name but the driver thinks in tiers,
// so names translate through the declared service kinds.
func orchestratorOptions(cfg *config.Config) orchestrator.Options {
	opts := orchestrator.Options{
		StrictOrdering: cfg.Rollback.StrictOrdering,
	}
	if cfg.Rollback.MaxRetryAttempts != nil {
		opts.RetryPolicy = adapters.DefaultRetryPolicy(*cfg.Rollback.MaxRetryAttempts)
	}
	if cfg.Rollback.StepTimeoutMinutes != nil {
		opts.StepTimeout = time.Duration(*cfg.Rollback.StepTimeoutMinutes) * time.Minute
	}

	kinds := make(map[string]rollback.Service, len(cfg.Deployment.Services))
	for _, svc := range cfg.Deployment.Services {
		kinds[svc.Name] = rollback.Service(svc.Kind)
	}
	seen := make(map[rollback.Service]bool)
	for _, name := range cfg.Rollback.BlockingServices {
		tier, ok := kinds[name]
		if !ok || seen[tier] {
			continue
		}
		seen[tier] = true
		opts.BlockingServices = append(opts.BlockingServices, tier)
	}
	return opts
}

// engineSink breaks the construction cycle between the monitor and the
// integration engine: the monitor needs its action sink before the engine
// exists. The binding happens before any loop starts.
type engineSink struct {
	engine *integration.Engine
}

func (s *engineSink) RollbackRequested(ctx context.Context, rule config.RuleConfig, service string) {
	if s.engine == nil {
		return
	}
	s.engine.RollbackRequested(ctx, rule, service)
}

// logArchiver adapts the archive package to the monitor's preserve_logs
// action.
type logArchiver struct {
	srcDir  string
	destDir string
}

func (a *logArchiver) PreserveLogs(label string) (string, error) {
	if a.srcDir == "" {
		return "", fmt.Errorf("logs.preserve_dir is not configured")
	}
	return archive.PreserveLogs(a.srcDir, a.destDir, label)
}
