// Package engine turns inbound sensor messages into zone state, alerts and
// stats, and answers consistent point-in-time queries over that state.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/zonewatch/alert"
	"github.com/c360/zonewatch/errors"
	"github.com/c360/zonewatch/hub"
	"github.com/c360/zonewatch/metric"
	"github.com/c360/zonewatch/pkg/buffer"
	"github.com/c360/zonewatch/telemetry"
	"github.com/c360/zonewatch/zone"
)

const previewBytes = 100

// Broadcaster receives state changes after they are applied
type Broadcaster interface {
	Publish(t hub.EventType, data any) hub.Event
}

// Connection reports the broker session state included in stats
type Connection interface {
	Status() hub.ConnectionStatus
}

// Config sizes the pipeline
type Config struct {
	Zones           []string
	Topics          telemetry.Topics
	HistoryCapacity int
	AlertCapacity   int
	ActiveWindow    time.Duration
	InboxSize       int
	Thresholds      alert.Thresholds
}

// DefaultConfig returns the building defaults
func DefaultConfig() Config {
	return Config{
		Zones:           []string{"lobby", "office_floor_1", "office_floor_2", "conference_room"},
		Topics:          telemetry.NewTopics(telemetry.DefaultPrefix),
		HistoryCapacity: zone.DefaultHistoryCapacity,
		AlertCapacity:   alert.DefaultLogCapacity,
		ActiveWindow:    alert.DefaultActiveWindow,
		InboxSize:       1024,
		Thresholds:      alert.DefaultThresholds(),
	}
}

type inbound struct {
	topic   string
	payload []byte
}

// Pipeline is the single writer of zone state, the alert log and stats.
// Reads take a shared lock and always observe a state between two ingestions.
type Pipeline struct {
	cfg       Config
	evaluator *alert.Evaluator

	// ingestMu serializes Ingest so broadcasts follow state order
	ingestMu sync.Mutex

	mu             sync.RWMutex
	store          *zone.Store
	alerts         *alert.Log
	totalMessages  uint64
	connectedZones int
	lastUpdate     *time.Time

	inbox        chan inbound
	dropped      atomic.Uint64
	droppedSeen  atomic.Uint64
	broadcaster  Broadcaster
	connection   Connection
	connectionMu sync.RWMutex

	now     func() time.Time
	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Pipeline
type Option func(*pipelineOptions)

type pipelineOptions struct {
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metric.Metrics
	registrar metric.MetricsRegistrar
}

// WithClock overrides the ingestion clock
func WithClock(now func() time.Time) Option {
	return func(o *pipelineOptions) { o.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *pipelineOptions) { o.logger = logger }
}

// WithMetrics records ingestion metrics and exports alert log buffer metrics
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(o *pipelineOptions) {
		if registry != nil {
			o.metrics = registry.CoreMetrics()
			o.registrar = registry
		}
	}
}

// New creates a pipeline that announces changes through b
func New(cfg Config, b Broadcaster, opts ...Option) (*Pipeline, error) {
	o := pipelineOptions{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	def := DefaultConfig()
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = def.InboxSize
	}
	if cfg.Topics.Prefix == "" {
		cfg.Topics = def.Topics
	}
	cfg.Zones = append([]string(nil), cfg.Zones...)

	logger := o.logger.With("component", "pipeline")
	logOpts := []buffer.Option[alert.Alert]{
		buffer.WithDropCallback[alert.Alert](func(a alert.Alert) {
			logger.Debug("Alert evicted from log", "alert_id", a.ID, "type", a.Kind, "zone", a.ZoneID)
		}),
	}
	if o.registrar != nil {
		logOpts = append(logOpts, buffer.WithMetrics[alert.Alert](o.registrar, "alert_log"))
	}
	alertLog, err := alert.NewLog(cfg.AlertCapacity, cfg.ActiveWindow, logOpts...)
	if err != nil {
		return nil, errors.WrapFatal(err, "Pipeline", "New", "create alert log")
	}

	return &Pipeline{
		cfg:         cfg,
		evaluator:   alert.NewEvaluator(cfg.Thresholds),
		store:       zone.NewStore(cfg.HistoryCapacity),
		alerts:      alertLog,
		inbox:       make(chan inbound, cfg.InboxSize),
		broadcaster: b,
		now:         o.now,
		logger:      logger,
		metrics:     o.metrics,
	}, nil
}

// SetConnection attaches the broker session whose state is reported in stats
func (p *Pipeline) SetConnection(c Connection) {
	p.connectionMu.Lock()
	p.connection = c
	p.connectionMu.Unlock()
}

// Handle queues a raw message for ingestion without blocking. It is the
// broker delivery callback; when the inbox is full the message is dropped.
func (p *Pipeline) Handle(topic string, payload []byte) {
	msg := inbound{topic: topic, payload: append([]byte(nil), payload...)}
	select {
	case p.inbox <- msg:
		p.metrics.RecordInboxDepth(len(p.inbox))
	default:
		p.dropped.Add(1)
		p.metrics.RecordMessage(metric.ResultDropped)
		p.logger.Warn("Inbox full, message dropped", "topic", topic, "capacity", cap(p.inbox))
	}
}

// Run ingests queued messages until ctx is cancelled
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("Pipeline started", "zones", p.cfg.Zones, "inbox", cap(p.inbox))
	defer p.logger.Info("Pipeline stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-p.inbox:
			p.metrics.RecordInboxDepth(len(p.inbox))
			// Malformed payloads are logged and counted inside Ingest
			_ = p.Ingest(msg.topic, msg.payload)
		}
	}
}

// Ingest applies one raw message. A malformed payload returns an error
// matching errors.ErrMalformedPayload and leaves all state untouched.
func (p *Pipeline) Ingest(topic string, payload []byte) error {
	start := time.Now()
	p.ingestMu.Lock()
	defer p.ingestMu.Unlock()

	p.logger.Debug("Message received", "topic", topic, "preview", preview(payload))

	reading, err := telemetry.Decode(payload)
	if err != nil {
		p.metrics.RecordMessage(metric.ResultMalformed)
		p.logger.Warn("Malformed payload dropped", "topic", topic, "error", err)
		return err
	}
	if zoneID, ok := p.cfg.Topics.ZoneFromTopic(topic); ok && zoneID != reading.ZoneID {
		p.logger.Debug("Topic zone differs from payload zone_id, using payload",
			"topic", topic, "zone_id", reading.ZoneID)
	}

	now := p.now()
	alerts := p.evaluator.Evaluate(reading, now)
	connection := p.connectionStatus()

	p.mu.Lock()
	p.store.Record(reading)
	p.totalMessages++
	p.connectedZones = p.store.ReportingCount()
	updated := now
	p.lastUpdate = &updated
	p.alerts.Append(alerts...)
	stats := p.statsLocked(now, connection)
	p.mu.Unlock()

	p.metrics.RecordMessage(metric.ResultAccepted)
	p.metrics.RecordZonesReporting(stats.ConnectedZones)
	p.metrics.RecordActiveAlerts(stats.ActiveAlerts)

	for _, a := range alerts {
		p.metrics.RecordAlert(string(a.Kind), string(a.Severity))
		p.logger.Info("Alert raised", "zone", a.ZoneID, "type", a.Kind, "severity", a.Severity, "message", a.Message)
		if p.broadcaster != nil {
			p.broadcaster.Publish(hub.EventNewAlert, a)
		}
	}
	if p.broadcaster != nil {
		p.broadcaster.Publish(hub.EventSensorUpdate, hub.SensorUpdate{
			Zone:    reading.ZoneID,
			Reading: reading,
			Stats:   stats,
		})
	}

	p.logger.Debug("Reading ingested",
		"zone", reading.ZoneID,
		"temperature_celsius", reading.TemperatureCelsius,
		"humidity_percent", reading.HumidityPercent,
		"co2_ppm", reading.CO2PPM,
		"alerts", len(alerts))
	p.metrics.RecordIngestDuration(time.Since(start))
	return nil
}

func (p *Pipeline) connectionStatus() hub.ConnectionStatus {
	p.connectionMu.RLock()
	c := p.connection
	p.connectionMu.RUnlock()
	if c == nil {
		return hub.ConnectionStatus{State: "disconnected"}
	}
	return c.Status()
}

// statsLocked builds stats with active alerts recomputed at now. Caller holds p.mu.
func (p *Pipeline) statsLocked(now time.Time, connection hub.ConnectionStatus) hub.Stats {
	stats := hub.Stats{
		TotalMessages:   p.totalMessages,
		ConnectedZones:  p.connectedZones,
		ActiveAlerts:    p.alerts.ActiveCount(now),
		ConnectionState: connection.State,
	}
	if p.lastUpdate != nil {
		last := *p.lastUpdate
		stats.LastUpdate = &last
	}
	return stats
}

func preview(payload []byte) string {
	if len(payload) <= previewBytes {
		return string(payload)
	}
	return string(payload[:previewBytes]) + "..."
}
