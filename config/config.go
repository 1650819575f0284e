package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/c360/zonewatch/alert"
	"github.com/c360/zonewatch/broker"
	"github.com/c360/zonewatch/engine"
	"github.com/c360/zonewatch/errors"
	"github.com/c360/zonewatch/pkg/retry"
	"github.com/c360/zonewatch/pkg/security"
	"github.com/c360/zonewatch/telemetry"
	"github.com/c360/zonewatch/zone"
)

// Transport names
const (
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
)

// Config represents the complete application configuration
type Config struct {
	Broker  BrokerConfig  `json:"broker" yaml:"broker"`
	Topics  TopicsConfig  `json:"topics" yaml:"topics"`
	Zones   []string      `json:"zones" yaml:"zones"`
	Engine  EngineConfig  `json:"engine" yaml:"engine"`
	Hub     HubConfig     `json:"hub" yaml:"hub"`
	HTTP    HTTPConfig    `json:"http" yaml:"http"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Log     LogConfig     `json:"log" yaml:"log"`
}

// BrokerConfig defines the broker connection for both roles
type BrokerConfig struct {
	Transport        string      `json:"transport" yaml:"transport"` // mqtt or nats
	Endpoint         string      `json:"endpoint" yaml:"endpoint"`   // Host name, or a full URL for nats
	Port             int         `json:"port" yaml:"port"`
	ClientID         string      `json:"client_id" yaml:"client_id"`
	ConnectTimeout   Duration    `json:"connect_timeout" yaml:"connect_timeout"`
	KeepAlive        Duration    `json:"keep_alive" yaml:"keep_alive"`
	LivenessInterval Duration    `json:"liveness_interval" yaml:"liveness_interval"`
	Retry            RetryConfig `json:"retry" yaml:"retry"`

	// Producer role overrides
	ProducerClientID       string      `json:"producer_client_id" yaml:"producer_client_id"`
	ProducerConnectTimeout Duration    `json:"producer_connect_timeout" yaml:"producer_connect_timeout"`
	ProducerRetry          RetryConfig `json:"producer_retry" yaml:"producer_retry"`

	TLS security.ClientTLSConfig `json:"tls" yaml:"tls"`
}

// RetryConfig mirrors retry.Policy with string durations
type RetryConfig struct {
	MaxAttempts  int      `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     Duration `json:"max_delay" yaml:"max_delay"`
	Strategy     string   `json:"strategy" yaml:"strategy"`
	Multiplier   float64  `json:"multiplier" yaml:"multiplier"`
	Cooldown     Duration `json:"cooldown" yaml:"cooldown"`
	Jitter       bool     `json:"jitter" yaml:"jitter"`
}

// TopicsConfig defines the topic namespace
type TopicsConfig struct {
	Prefix string `json:"prefix" yaml:"prefix"`
}

// EngineConfig sizes the ingestion pipeline
type EngineConfig struct {
	HistoryCapacity int              `json:"history_capacity" yaml:"history_capacity"`
	AlertCapacity   int              `json:"alert_capacity" yaml:"alert_capacity"`
	ActiveWindow    Duration         `json:"active_window" yaml:"active_window"`
	InboxSize       int              `json:"inbox_size" yaml:"inbox_size"`
	Thresholds      alert.Thresholds `json:"thresholds" yaml:"thresholds"`
}

// HubConfig sizes subscriber queues
type HubConfig struct {
	SubscriberBuffer int `json:"subscriber_buffer" yaml:"subscriber_buffer"`
}

// HTTPConfig defines the query and websocket listener
type HTTPConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// MetricsConfig defines the Prometheus listener. Port 0 disables it.
type MetricsConfig struct {
	Port int    `json:"port" yaml:"port"`
	Path string `json:"path" yaml:"path"`
}

// LogConfig selects log level and format
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns the consumer-side defaults
func Default() *Config {
	th := alert.DefaultThresholds()
	return &Config{
		Broker: BrokerConfig{
			Transport:              TransportMQTT,
			Port:                   8883,
			ClientID:               "zonewatch-dashboard",
			ConnectTimeout:         Duration(15 * time.Second),
			KeepAlive:              Duration(60 * time.Second),
			LivenessInterval:       Duration(60 * time.Second),
			Retry:                  retryConfigFrom(retry.ConsumerPolicy()),
			ProducerClientID:       "zonewatch-producer",
			ProducerConnectTimeout: Duration(10 * time.Second),
			ProducerRetry:          retryConfigFrom(retry.ProducerPolicy()),
			TLS:                    security.ClientTLSConfig{MinVersion: "1.2"},
		},
		Topics: TopicsConfig{Prefix: telemetry.DefaultPrefix},
		Zones:  []string{"lobby", "office_floor_1", "office_floor_2", "conference_room"},
		Engine: EngineConfig{
			HistoryCapacity: zone.DefaultHistoryCapacity,
			AlertCapacity:   alert.DefaultLogCapacity,
			ActiveWindow:    Duration(alert.DefaultActiveWindow),
			InboxSize:       1024,
			Thresholds:      th,
		},
		Hub:     HubConfig{SubscriberBuffer: 64},
		HTTP:    HTTPConfig{Addr: ":5000"},
		Metrics: MetricsConfig{Port: 9090, Path: "/metrics"},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

func retryConfigFrom(p retry.Policy) RetryConfig {
	return RetryConfig{
		MaxAttempts:  p.MaxAttempts,
		InitialDelay: Duration(p.InitialDelay),
		MaxDelay:     Duration(p.MaxDelay),
		Strategy:     string(p.Strategy),
		Multiplier:   p.Multiplier,
		Cooldown:     Duration(p.Cooldown),
		Jitter:       p.AddJitter,
	}
}

// Policy converts to a retry.Policy
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:  r.MaxAttempts,
		InitialDelay: r.InitialDelay.Std(),
		MaxDelay:     r.MaxDelay.Std(),
		Strategy:     retry.Strategy(r.Strategy),
		Multiplier:   r.Multiplier,
		Cooldown:     r.Cooldown.Std(),
		AddJitter:    r.Jitter,
	}
}

// TopicNames returns the topic helper for the configured prefix
func (c *Config) TopicNames() telemetry.Topics {
	return telemetry.NewTopics(c.Topics.Prefix)
}

// SensorTopics returns one sensor topic per configured zone
func (c *Config) SensorTopics() []string {
	topics := c.TopicNames()
	out := make([]string, 0, len(c.Zones))
	for _, z := range c.Zones {
		out = append(out, topics.Sensor(z))
	}
	return out
}

// EngineConfig returns the pipeline configuration
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Zones:           append([]string(nil), c.Zones...),
		Topics:          c.TopicNames(),
		HistoryCapacity: c.Engine.HistoryCapacity,
		AlertCapacity:   c.Engine.AlertCapacity,
		ActiveWindow:    c.Engine.ActiveWindow.Std(),
		InboxSize:       c.Engine.InboxSize,
		Thresholds:      c.Engine.Thresholds,
	}
}

// ManagerConfig returns the connection manager settings for role
func (c *Config) ManagerConfig(role broker.Role) broker.Config {
	if role == broker.RoleProducer {
		return broker.Config{
			Role:             broker.RoleProducer,
			ConnectTimeout:   c.Broker.ProducerConnectTimeout.Std(),
			LivenessInterval: c.Broker.LivenessInterval.Std(),
			Retry:            c.Broker.ProducerRetry.Policy(),
		}
	}
	return broker.Config{
		Role:             broker.RoleConsumer,
		Topics:           c.SensorTopics(),
		ConnectTimeout:   c.Broker.ConnectTimeout.Std(),
		LivenessInterval: c.Broker.LivenessInterval.Std(),
		Retry:            c.Broker.Retry.Policy(),
	}
}

// Dialer builds the transport for role
func (c *Config) Dialer(role broker.Role) broker.Dialer {
	clientID := c.Broker.ClientID
	if role == broker.RoleProducer {
		clientID = c.Broker.ProducerClientID
	}

	if c.Broker.Transport == TransportNATS {
		url := c.Broker.Endpoint
		if !strings.Contains(url, "://") {
			scheme := "nats"
			if c.Broker.TLS.Enabled() {
				scheme = "tls"
			}
			url = fmt.Sprintf("%s://%s:%d", scheme, url, c.Broker.Port)
		}
		return broker.NewNATSDialer(broker.NATSOptions{
			URL:          url,
			ClientName:   clientID,
			PingInterval: c.Broker.KeepAlive.Std(),
			TLS:          c.Broker.TLS,
		})
	}
	return broker.NewMQTTDialer(broker.MQTTOptions{
		Host:      c.Broker.Endpoint,
		Port:      c.Broker.Port,
		ClientID:  clientID,
		KeepAlive: c.Broker.KeepAlive.Std(),
		TLS:       c.Broker.TLS,
	})
}

// Validate reports every problem in the configuration at once
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	// Broker
	switch c.Broker.Transport {
	case TransportMQTT, TransportNATS:
	default:
		add("broker.transport must be %q or %q, got %q", TransportMQTT, TransportNATS, c.Broker.Transport)
	}
	if c.Broker.Endpoint == "" {
		add("broker.endpoint is required")
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		add("broker.port %d out of range", c.Broker.Port)
	}
	if c.Broker.ConnectTimeout <= 0 || c.Broker.ProducerConnectTimeout <= 0 {
		add("broker connect timeouts must be positive")
	}
	if c.Broker.LivenessInterval <= 0 {
		add("broker.liveness_interval must be positive")
	}
	if err := c.Broker.Retry.Policy().Validate(); err != nil {
		add("broker.retry: %v", err)
	}
	if err := c.Broker.ProducerRetry.Policy().Validate(); err != nil {
		add("broker.producer_retry: %v", err)
	}
	if c.Broker.Transport == TransportMQTT || c.Broker.TLS.Enabled() {
		if len(c.Broker.TLS.CAFiles) == 0 {
			add("broker.tls.ca_files is required")
		}
		if c.Broker.TLS.MTLS.CertFile == "" || c.Broker.TLS.MTLS.KeyFile == "" {
			add("broker.tls.mtls.cert_file and key_file are required")
		}
	}
	switch c.Broker.TLS.MinVersion {
	case "", "1.2", "1.3":
	default:
		add("broker.tls.min_version must be 1.2 or 1.3, got %q", c.Broker.TLS.MinVersion)
	}

	// Topics and zones
	if c.Topics.Prefix == "" || strings.ContainsAny(c.Topics.Prefix, "+#") {
		add("topics.prefix must be non-empty and free of wildcards")
	}
	if len(c.Zones) == 0 {
		add("at least one zone is required")
	}
	seen := make(map[string]bool, len(c.Zones))
	for _, z := range c.Zones {
		switch {
		case z == "" || strings.ContainsAny(z, "/+#. "):
			add("zone %q is not a valid topic segment", z)
		case seen[z]:
			add("zone %q is listed twice", z)
		}
		seen[z] = true
	}

	// Engine
	if c.Engine.HistoryCapacity <= 0 || c.Engine.AlertCapacity <= 0 || c.Engine.InboxSize <= 0 {
		add("engine capacities must be positive")
	}
	if c.Engine.ActiveWindow <= 0 {
		add("engine.active_window must be positive")
	}
	th := c.Engine.Thresholds
	if th.TemperatureLow >= th.TemperatureHigh {
		add("engine.thresholds.temperature_low must be below temperature_high")
	}
	if th.HumidityLow >= th.HumidityHigh {
		add("engine.thresholds.humidity_low must be below humidity_high")
	}
	if th.CO2High <= 0 {
		add("engine.thresholds.co2_high must be positive")
	}

	if c.Hub.SubscriberBuffer <= 0 {
		add("hub.subscriber_buffer must be positive")
	}
	if c.HTTP.Addr == "" {
		add("http.addr is required")
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		add("metrics.port %d out of range", c.Metrics.Port)
	}
	if c.Metrics.Port > 0 && !strings.HasPrefix(c.Metrics.Path, "/") {
		add("metrics.path must start with /")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		add("log.format %q is not one of json, text", c.Log.Format)
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.WrapInvalid(
		errors.Join(errors.ErrInvalidConfig, stderrors.New(strings.Join(problems, "; "))),
		"Config", "Validate", "validate configuration")
}

// clone deep-copies the configuration through its JSON form
func (c *Config) clone() *Config {
	if c == nil {
		return Default()
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String renders the configuration with credential paths elided
func (c *Config) String() string {
	redacted := c.clone()
	if redacted.Broker.TLS.MTLS.KeyFile != "" {
		redacted.Broker.TLS.MTLS.KeyFile = "[REDACTED]"
	}
	data, err := json.MarshalIndent(redacted, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{transport=%s endpoint=%s zones=%v}", c.Broker.Transport, c.Broker.Endpoint, c.Zones)
	}
	return string(data)
}
