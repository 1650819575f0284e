// Package main replays JSON-lines sensor readings onto the broker through a
// producer-role connection.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/c360/zonewatch/broker"
	"github.com/c360/zonewatch/config"
	"github.com/c360/zonewatch/hub"
	"github.com/c360/zonewatch/producer"
)

// Build information
const (
	Version = "0.1.0"
	appName = "zonepub"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	Input       string
	Interval    time.Duration
	Enrich      bool
	WaitTimeout time.Duration
	LogLevel    string
	LogFormat   string
	ShowVersion bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stdin, os.Stderr); err != nil {
		slog.Error("zonepub failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, getenv func(string) string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVarP(&cfg.ConfigPath, "config", "c", envOr(getenv, "ZONEWATCH_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: ZONEWATCH_CONFIG)")
	fs.StringVarP(&cfg.Input, "input", "i", "-",
		"JSON-lines file of readings, - for stdin")
	fs.DurationVar(&cfg.Interval, "interval", 0,
		"Pause between readings")
	fs.BoolVar(&cfg.Enrich, "enrich", false,
		"Fill missing air_quality, hvac_status and device_id fields")
	fs.DurationVar(&cfg.WaitTimeout, "wait", 2*time.Minute,
		"How long to wait for the first broker connection")
	fs.StringVar(&cfg.LogLevel, "log-level", envOr(getenv, "ZONEWATCH_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: ZONEWATCH_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", envOr(getenv, "ZONEWATCH_LOG_FORMAT", "text"),
		"Log format: json, text (env: ZONEWATCH_LOG_FORMAT)")
	fs.BoolVarP(&cfg.ShowVersion, "version", "v", false, "Show version information")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(stderr, "%s - replay zone readings onto the broker\n\nUsage: %s [options]\n\n", appName, appName)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("invalid interval: %s", cfg.Interval)
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, getenv func(string) string, stdin io.Reader, stderr io.Writer) error {
	cli, err := parseFlags(args, getenv, stderr)
	if err != nil {
		if stderrors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stderr, "%s version %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(stderr, cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	input, err := openInput(cli.Input, stdin)
	if err != nil {
		return err
	}
	defer input.Close()

	ready := newReadyNotifier()
	manager, err := broker.NewManager(cfg.ManagerConfig(broker.RoleProducer), cfg.Dialer(broker.RoleProducer),
		broker.WithNotifier(ready),
		broker.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create broker manager: %w", err)
	}

	pub := producer.New(manager, producer.Config{
		Topics:   cfg.TopicNames(),
		Interval: cli.Interval,
		Enrich:   cli.Enrich,
	}, producer.WithLogger(logger))

	return replay(ctx, manager, ready, pub, producer.NewLinesSource(input), cli.WaitTimeout, logger)
}

// runner is the part of broker.Manager the replay loop drives
type runner interface {
	Run(ctx context.Context) error
	Close() error
}

// replay keeps the connection up while the source is published, then closes
// it. Publishing starts after the first successful connect.
func replay(
	ctx context.Context,
	conn runner,
	ready *readyNotifier,
	pub *producer.Producer,
	src producer.Source,
	wait time.Duration,
	logger *slog.Logger,
) error {
	connCtx, stopConn := context.WithCancel(ctx)
	defer stopConn()

	g, gctx := errgroup.WithContext(connCtx)
	g.Go(func() error { return conn.Run(gctx) })
	g.Go(func() error {
		defer stopConn()

		waitCtx, cancel := context.WithTimeout(gctx, wait)
		defer cancel()
		select {
		case <-ready.Ready():
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("no broker connection after %s", wait)
		}

		if err := pub.Run(gctx, src); err != nil {
			return err
		}
		logger.Info("Replay complete",
			"published", pub.Published(),
			"failed", pub.Failed(),
			"forced_reconnects", pub.Reconnects())
		return nil
	})

	err := g.Wait()
	_ = conn.Close()
	return err
}

// readyNotifier closes Ready on the first connected transition
type readyNotifier struct {
	once  sync.Once
	ready chan struct{}
}

func newReadyNotifier() *readyNotifier {
	return &readyNotifier{ready: make(chan struct{})}
}

func (n *readyNotifier) Publish(t hub.EventType, data any) hub.Event {
	if status, ok := data.(hub.ConnectionStatus); ok && t == hub.EventConnectionStatus && status.Connected {
		n.once.Do(func() { close(n.ready) })
	}
	return hub.Event{Type: t, Time: time.Now(), Data: data}
}

func (n *readyNotifier) Ready() <-chan struct{} {
	return n.ready
}

func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}

func setupLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With("service", appName, "version", Version, "pid", os.Getpid())
}

func envOr(getenv func(string) string, key, defaultValue string) string {
	if value := getenv(key); value != "" {
		return value
	}
	return defaultValue
}
