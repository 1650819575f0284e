// Package main runs the zonewatch dashboard: it subscribes to the zone sensor
// topics, evaluates alerts and serves live state over HTTP and websockets.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/c360/zonewatch/api"
	"github.com/c360/zonewatch/broker"
	"github.com/c360/zonewatch/config"
	"github.com/c360/zonewatch/engine"
	"github.com/c360/zonewatch/health"
	"github.com/c360/zonewatch/hub"
	"github.com/c360/zonewatch/metric"
)

// Build information
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "zonewatch"
)

const shutdownTimeout = 10 * time.Second

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stdout, os.Stderr); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, getenv func(string) string, stdout, stderr io.Writer) error {
	cli, err := parseFlags(args, getenv, stderr)
	if err != nil {
		if stderrors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, format := cfg.Log.Level, cfg.Log.Format
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		format = cli.LogFormat
	}
	logger := setupLogger(stdout, level, format)
	slog.SetDefault(logger)
	logger.Debug("Effective configuration", "config", cfg.String())

	if cli.Validate {
		logger.Info("Configuration is valid", "config_path", cli.ConfigPath)
		return nil
	}

	logger.Info("Starting zonewatch",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cli.ConfigPath,
		"transport", cfg.Broker.Transport,
		"zones", cfg.Zones)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	return a.run(ctx)
}

// app is the wired consumer role: broker session, pipeline, hub and the two
// HTTP listeners.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	hub     *hub.Hub
	broker  *broker.Manager
	engine  *engine.Pipeline
	api     *api.Server
	metrics *metric.Server
	monitor *health.Monitor
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	registry := metric.NewMetricsRegistry()
	core := registry.CoreMetrics()

	h := hub.New(
		hub.WithQueueSize(cfg.Hub.SubscriberBuffer),
		hub.WithMetrics(core),
		hub.WithLogger(logger))

	pipeline, err := engine.New(cfg.EngineConfig(), h,
		engine.WithLogger(logger),
		engine.WithMetrics(registry))
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	h.SetSource(pipeline)

	manager, err := broker.NewManager(cfg.ManagerConfig(broker.RoleConsumer), cfg.Dialer(broker.RoleConsumer),
		broker.WithHandler(pipeline.Handle),
		broker.WithNotifier(h),
		broker.WithLogger(logger),
		broker.WithMetrics(core))
	if err != nil {
		return nil, fmt.Errorf("create broker manager: %w", err)
	}
	pipeline.SetConnection(manager)

	monitor := health.NewMonitor()
	monitor.Register("broker", manager.Health)
	monitor.Register("pipeline", pipeline.Health)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		hub:     h,
		broker:  manager,
		engine:  pipeline,
		monitor: monitor,
	}
	a.api = api.NewServer(cfg.HTTP.Addr, pipeline, h,
		api.WithLogger(logger),
		api.WithHealth(a.health),
		api.WithSubscriberBuffer(cfg.Hub.SubscriberBuffer))
	if cfg.Metrics.Port > 0 {
		a.metrics = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
	}
	return a, nil
}

func (a *app) health() health.Status {
	return a.monitor.AggregateHealth(appName)
}

// run blocks until ctx is cancelled or a listener fails, then shuts
// everything down in reverse order.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.engine.Run(gctx) })
	g.Go(func() error { return a.broker.Run(gctx) })
	g.Go(a.api.Start)
	if a.metrics != nil {
		g.Go(a.metrics.Start)
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := a.api.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop api: %w", err))
		}
		if a.metrics != nil {
			if err := a.metrics.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("stop metrics: %w", err))
			}
		}
		_ = a.broker.Close()
		a.hub.Close()
		return stderrors.Join(errs...)
	})

	err := g.Wait()
	if err != nil {
		return err
	}
	a.logger.Info("zonewatch shutdown complete")
	return nil
}
