package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by zonewatch
const Namespace = "zonewatch"

// Message results recorded by the ingestion pipeline
const (
	ResultAccepted  = "accepted"
	ResultMalformed = "malformed"
	ResultDropped   = "dropped"
)

// Metrics contains the metrics shared by the zonewatch components.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Ingestion
	Messages       *prometheus.CounterVec
	IngestDuration prometheus.Histogram
	ZonesReporting prometheus.Gauge
	Alerts         *prometheus.CounterVec
	ActiveAlerts   prometheus.Gauge
	InboxDepth     prometheus.Gauge

	// Broker
	BrokerState       *prometheus.GaugeVec
	BrokerAttempts    *prometheus.CounterVec
	BrokerTransitions *prometheus.CounterVec
	Publishes         *prometheus.CounterVec

	// Hub
	HubSubscribers prometheus.Gauge
	HubDropped     *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		Messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "messages_total",
				Help:      "Inbound telemetry messages by result (accepted, malformed, dropped)",
			},
			[]string{"result"},
		),

		IngestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "duration_seconds",
				Help:      "Time spent ingesting one message",
				Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01},
			},
		),

		ZonesReporting: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "zones",
				Name:      "reporting",
				Help:      "Number of zones with at least one reading",
			},
		),

		Alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "alerts",
				Name:      "raised_total",
				Help:      "Alerts raised by kind and severity",
			},
			[]string{"kind", "severity"},
		),

		ActiveAlerts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "alerts",
				Name:      "active",
				Help:      "Alerts inside the active window at the last ingestion",
			},
		),

		InboxDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "ingest",
				Name:      "inbox_depth",
				Help:      "Messages waiting in the pipeline inbox",
			},
		),

		BrokerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "broker",
				Name:      "state",
				Help:      "Connection state (0=disconnected, 1=connecting, 2=connected)",
			},
			[]string{"role"},
		),

		BrokerAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "broker",
				Name:      "connect_attempts_total",
				Help:      "Connect attempts by role and result",
			},
			[]string{"role", "result"},
		),

		BrokerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "broker",
				Name:      "transitions_total",
				Help:      "Connection state transitions by role and target state",
			},
			[]string{"role", "state"},
		),

		Publishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "broker",
				Name:      "publishes_total",
				Help:      "Outbound publishes by result",
			},
			[]string{"result"},
		),

		HubSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "hub",
				Name:      "subscribers",
				Help:      "Current number of hub subscriptions",
			},
		),

		HubDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "hub",
				Name:      "dropped_events_total",
				Help:      "Events dropped because a subscriber queue was full",
			},
			[]string{"type"},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.Messages,
		c.IngestDuration,
		c.ZonesReporting,
		c.Alerts,
		c.ActiveAlerts,
		c.InboxDepth,
		c.BrokerState,
		c.BrokerAttempts,
		c.BrokerTransitions,
		c.Publishes,
		c.HubSubscribers,
		c.HubDropped,
	}
}

// RecordMessage increments the message counter for a result
func (c *Metrics) RecordMessage(result string) {
	if c == nil {
		return
	}
	c.Messages.WithLabelValues(result).Inc()
}

// RecordIngestDuration records the time spent on one ingestion
func (c *Metrics) RecordIngestDuration(d time.Duration) {
	if c == nil {
		return
	}
	c.IngestDuration.Observe(d.Seconds())
}

// RecordZonesReporting sets the number of zones with a latest reading
func (c *Metrics) RecordZonesReporting(n int) {
	if c == nil {
		return
	}
	c.ZonesReporting.Set(float64(n))
}

// RecordAlert increments the alert counter
func (c *Metrics) RecordAlert(kind, severity string) {
	if c == nil {
		return
	}
	c.Alerts.WithLabelValues(kind, severity).Inc()
}

// RecordActiveAlerts sets the active alert gauge
func (c *Metrics) RecordActiveAlerts(n int) {
	if c == nil {
		return
	}
	c.ActiveAlerts.Set(float64(n))
}

// RecordInboxDepth sets the inbox depth gauge
func (c *Metrics) RecordInboxDepth(n int) {
	if c == nil {
		return
	}
	c.InboxDepth.Set(float64(n))
}

// RecordBrokerState updates the connection state gauge for a role
func (c *Metrics) RecordBrokerState(role string, state int) {
	if c == nil {
		return
	}
	c.BrokerState.WithLabelValues(role).Set(float64(state))
}

// RecordBrokerAttempt increments the connect attempt counter
func (c *Metrics) RecordBrokerAttempt(role string, success bool) {
	if c == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	c.BrokerAttempts.WithLabelValues(role, result).Inc()
}

// RecordBrokerTransition increments the transition counter
func (c *Metrics) RecordBrokerTransition(role, state string) {
	if c == nil {
		return
	}
	c.BrokerTransitions.WithLabelValues(role, state).Inc()
}

// RecordPublish increments the publish counter
func (c *Metrics) RecordPublish(success bool) {
	if c == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	c.Publishes.WithLabelValues(result).Inc()
}

// RecordHubSubscribers sets the subscriber gauge
func (c *Metrics) RecordHubSubscribers(n int) {
	if c == nil {
		return
	}
	c.HubSubscribers.Set(float64(n))
}

// RecordHubDropped increments the dropped event counter
func (c *Metrics) RecordHubDropped(eventType string) {
	if c == nil {
		return
	}
	c.HubDropped.WithLabelValues(eventType).Inc()
}
