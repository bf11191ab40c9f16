package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/glacieros/glacierd/pkg/bus"
	"github.com/glacieros/glacierd/pkg/config"
	"github.com/glacieros/glacierd/pkg/process"
	"github.com/glacieros/glacierd/pkg/project"
	"github.com/glacieros/glacierd/pkg/store"
	"github.com/glacieros/glacierd/pkg/telemetry"
)

// daemon bundles the collaborators both daemon modes share.
type daemon struct {
	cfg        config.Config
	logger     zerolog.Logger
	metrics    *telemetry.Metrics
	tracer     *telemetry.Tracer
	bus        *bus.Bus
	supervisor *process.Supervisor
	store      *store.Store
	project    *project.Project
}

// setupDaemon builds the shared runtime from the config file. The returned
// cleanup flushes traces and closes the store.
func setupDaemon(ctx context.Context, version string) (*daemon, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("configure logging: %w", err)
	}

	metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	if err != nil {
		return nil, nil, fmt.Errorf("configure metrics: %w", err)
	}
	if err := metrics.StartMetricsServer(logger); err != nil {
		return nil, nil, fmt.Errorf("start metrics server: %w", err)
	}

	tracer, err := telemetry.NewTracer(cfg.Telemetry.Tracing, cfg.Telemetry.ServiceName, version)
	if err != nil {
		return nil, nil, fmt.Errorf("configure tracing: %w", err)
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create state dir: %w", err)
	}
	st, err := store.New(filepath.Join(cfg.StateDir, "glacierd.db"))
	if err != nil {
		return nil, nil, err
	}
	if err := st.Init(ctx); err != nil {
		return nil, nil, fmt.Errorf("open appliance record: %w", err)
	}

	d := &daemon{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		tracer:     tracer,
		bus:        bus.New(cfg.BusCapacity, metrics),
		supervisor: process.NewSupervisor(logger),
		store:      st,
		project:    project.New(cfg.FlakeRef, cfg.ConfigPath, st, logger),
	}

	cleanup := func() {
		shutdownCtx := context.Background()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown")
		}
		if err := st.Close(); err != nil {
			logger.Warn().Err(err).Msg("close appliance record")
		}
	}
	return d, cleanup, nil
}
