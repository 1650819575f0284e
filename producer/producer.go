// Package producer publishes readings on the sensor topics through a
// producer-role broker connection.
package producer

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/c360/zonewatch/errors"
	"github.com/c360/zonewatch/pkg/retry"
	"github.com/c360/zonewatch/telemetry"
)

// DefaultFailureThreshold is how many consecutive failed publishes force a reconnect
const DefaultFailureThreshold = 3

// Publisher is the producer side of a broker connection
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	ForceReconnect()
}

// Source yields readings until it returns io.EOF
type Source interface {
	Next() (telemetry.Reading, error)
}

// Config controls the publish loop
type Config struct {
	Topics           telemetry.Topics
	Interval         time.Duration // Pause after each reading
	FailureThreshold int
	// Enrich fills missing air_quality and hvac_status labels
	Enrich bool
}

// Producer publishes readings and escalates repeated failures into a
// forced reconnect. Any success resets the failure count.
type Producer struct {
	pub    Publisher
	cfg    Config
	sleep  retry.SleepFunc
	logger *slog.Logger

	consecutive int
	published   atomic.Uint64
	failed      atomic.Uint64
	reconnects  atomic.Uint64
}

// Option configures a Producer
type Option func(*Producer)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Producer) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithSleep replaces the pause between readings
func WithSleep(sleep retry.SleepFunc) Option {
	return func(p *Producer) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// New creates a Producer
func New(pub Publisher, cfg Config, opts ...Option) *Producer {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Topics.Prefix == "" {
		cfg.Topics = telemetry.NewTopics(telemetry.DefaultPrefix)
	}
	p := &Producer{
		pub:    pub,
		cfg:    cfg,
		sleep:  retry.Sleep,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "producer")
	return p
}

// Send encodes r and publishes it on its zone's sensor topic. Send is not
// safe for concurrent use.
func (p *Producer) Send(ctx context.Context, r telemetry.Reading) error {
	if p.cfg.Enrich {
		r = Enrich(r)
	}
	payload, err := telemetry.Encode(r)
	if err != nil {
		return err
	}

	topic := p.cfg.Topics.Sensor(r.ZoneID)
	if err := p.pub.Publish(ctx, topic, payload); err != nil {
		p.failed.Add(1)
		p.consecutive++
		p.logger.Warn("Publish failed",
			"topic", topic,
			"consecutive_failures", p.consecutive,
			"error", err)
		if p.consecutive >= p.cfg.FailureThreshold {
			p.logger.Warn("Too many consecutive publish failures, forcing reconnect",
				"threshold", p.cfg.FailureThreshold)
			p.pub.ForceReconnect()
			p.reconnects.Add(1)
			p.consecutive = 0
		}
		return err
	}

	p.consecutive = 0
	p.published.Add(1)
	p.logger.Debug("Reading published",
		"topic", topic,
		"temperature_celsius", r.TemperatureCelsius,
		"humidity_percent", r.HumidityPercent,
		"co2_ppm", r.CO2PPM)
	return nil
}

// Run publishes every reading from src until it is exhausted or ctx is
// cancelled. Publish failures are logged and do not stop the loop; a
// source error other than io.EOF does.
func (p *Producer) Run(ctx context.Context, src Source) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		r, err := src.Next()
		if stderrors.Is(err, io.EOF) {
			p.logger.Info("Source exhausted",
				"published", p.Published(),
				"failed", p.Failed())
			return nil
		}
		if err != nil {
			if errors.IsInvalid(err) {
				p.logger.Warn("Skipping unreadable reading", "error", err)
				continue
			}
			return errors.Wrap(err, "Producer", "Run", "read source")
		}

		_ = p.Send(ctx, r)

		if p.cfg.Interval > 0 {
			if p.sleep(ctx, p.cfg.Interval) != nil {
				return nil
			}
		}
	}
}

// Published returns the number of acknowledged publishes
func (p *Producer) Published() uint64 { return p.published.Load() }

// Failed returns the number of failed publishes
func (p *Producer) Failed() uint64 { return p.failed.Load() }

// Reconnects returns how many times a reconnect was forced
func (p *Producer) Reconnects() uint64 { return p.reconnects.Load() }
