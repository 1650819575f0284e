// Package broker owns the lifecycle of the encrypted broker connection:
// connect, subscribe, liveness, publish and reconnection with backoff.
package broker

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/c360/zonewatch/errors"
	"github.com/c360/zonewatch/health"
	"github.com/c360/zonewatch/hub"
	"github.com/c360/zonewatch/metric"
	"github.com/c360/zonewatch/pkg/retry"
)

// errReconnectRequested marks a session dropped by ForceReconnect
var errReconnectRequested = stderrors.New("reconnect requested")

// Notifier receives a connection_status event on every state transition
type Notifier interface {
	Publish(t hub.EventType, data any) hub.Event
}

// Config controls one Manager
type Config struct {
	Role             Role
	Topics           []string      // Subscribed on every successful connect (consumer role)
	ConnectTimeout   time.Duration // Bound on handshake plus subscription
	LivenessInterval time.Duration // How often a connected session is checked
	Retry            retry.Policy
}

// ConsumerConfig returns the dashboard-side defaults for the given topics
func ConsumerConfig(topics []string) Config {
	return Config{
		Role:             RoleConsumer,
		Topics:           topics,
		ConnectTimeout:   15 * time.Second,
		LivenessInterval: 60 * time.Second,
		Retry:            retry.ConsumerPolicy(),
	}
}

// ProducerConfig returns the publisher-side defaults
func ProducerConfig() Config {
	return Config{
		Role:             RoleProducer,
		ConnectTimeout:   10 * time.Second,
		LivenessInterval: 60 * time.Second,
		Retry:            retry.ProducerPolicy(),
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Role != RoleConsumer && c.Role != RoleProducer {
		return errors.WrapInvalid(fmt.Errorf("unknown role %q", c.Role), "Config", "Validate", "check role")
	}
	if c.ConnectTimeout <= 0 {
		return errors.WrapInvalid(fmt.Errorf("connect timeout must be positive"), "Config", "Validate", "check timeout")
	}
	if c.LivenessInterval <= 0 {
		return errors.WrapInvalid(fmt.Errorf("liveness interval must be positive"), "Config", "Validate", "check liveness")
	}
	if err := c.Retry.Validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "check retry policy")
	}
	return nil
}

// Manager maintains exactly one logical session for its role.
// State: Disconnected -> Connecting -> Connected, and back to Disconnected
// on any failure or loss.
type Manager struct {
	cfg    Config
	dialer Dialer

	handler  MessageHandler
	notifier Notifier
	sleep    retry.SleepFunc
	logger   *slog.Logger
	metrics  *metric.Metrics

	mu       sync.RWMutex
	state    State
	attempts int // consecutive failures in the current cycle
	lastErr  error
	session  Session

	// notifyMu keeps connection_status events in transition order
	notifyMu sync.Mutex

	force    chan struct{}
	closed   atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Manager
type Option func(*Manager)

// WithHandler sets the inbound message callback
func WithHandler(h MessageHandler) Option {
	return func(m *Manager) { m.handler = h }
}

// WithNotifier sets where connection_status events are published
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records broker metrics
func WithMetrics(metrics *metric.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithSleep replaces the wait used between attempts
func WithSleep(sleep retry.SleepFunc) Option {
	return func(m *Manager) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// NewManager creates a disconnected Manager
func NewManager(cfg Config, dialer Dialer, opts ...Option) (*Manager, error) {
	if dialer == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("dialer is required"), "Manager", "NewManager", "check dialer")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Topics = append([]string(nil), cfg.Topics...)

	m := &Manager{
		cfg:    cfg,
		dialer: dialer,
		sleep:  retry.Sleep,
		logger: slog.Default(),
		force:  make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "broker", "role", string(cfg.Role))
	m.metrics.RecordBrokerState(string(cfg.Role), int(StateDisconnected))
	return m, nil
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Attempts returns consecutive failed connects in the current retry cycle
func (m *Manager) Attempts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempts
}

// Status returns the connection state as published to subscribers
func (m *Manager) Status() hub.ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() hub.ConnectionStatus {
	s := hub.ConnectionStatus{
		Connected: m.state == StateConnected,
		State:     m.state.String(),
		Attempt:   m.attempts,
	}
	if m.lastErr != nil && m.state != StateConnected {
		s.Error = m.lastErr.Error()
	}
	return s
}

// Health reports unhealthy unless a session is established
func (m *Manager) Health() health.Status {
	m.mu.RLock()
	state, lastErr := m.state, m.lastErr
	m.mu.RUnlock()

	switch state {
	case StateConnected:
		return health.NewHealthy("broker", "Connected to "+m.dialer.Endpoint())
	case StateConnecting:
		return health.NewDegraded("broker", "Connecting to "+m.dialer.Endpoint())
	}
	if lastErr != nil {
		return health.FromError("broker", lastErr, "")
	}
	return health.NewUnhealthy("broker", "Not connected")
}

// Connect makes one connection attempt bounded by ConnectTimeout. On
// success the consumer topics are subscribed and the attempt counter
// resets; on failure the counter increments and the state returns to
// Disconnected.
func (m *Manager) Connect(ctx context.Context) error {
	if m.closed.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStopped, "Manager", "Connect", "check state")
	}

	m.mu.Lock()
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		if state == StateConnected {
			return nil
		}
		return errors.WrapInvalid(fmt.Errorf("connect already in progress"), "Manager", "Connect", "check state")
	}
	attempt := m.attempts + 1
	m.mu.Unlock()

	m.transition(StateConnecting)
	m.logger.Info("Connecting to broker",
		"endpoint", m.dialer.Endpoint(),
		"attempt", attempt,
		"max_attempts", m.cfg.Retry.MaxAttempts)

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	session, err := m.dialer.Dial(dialCtx)
	if err == nil && m.cfg.Role == RoleConsumer && len(m.cfg.Topics) > 0 {
		if subErr := session.Subscribe(dialCtx, m.cfg.Topics, m.deliver); subErr != nil {
			_ = session.Close()
			err = subErr
		}
	}
	if err != nil {
		err = classifyDialError(ctx, dialCtx, err)
		m.mu.Lock()
		m.attempts++
		m.lastErr = err
		m.mu.Unlock()
		m.metrics.RecordBrokerAttempt(string(m.cfg.Role), false)
		m.transition(StateDisconnected)
		return err
	}

	// A reconnect request raised before this session existed is stale
	select {
	case <-m.force:
	default:
	}

	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		_ = session.Close()
		m.transition(StateDisconnected)
		return errors.WrapFatal(errors.ErrAlreadyStopped, "Manager", "Connect", "check state")
	}
	m.session = session
	m.attempts = 0
	m.lastErr = nil
	m.mu.Unlock()

	m.metrics.RecordBrokerAttempt(string(m.cfg.Role), true)
	m.transition(StateConnected)
	if m.cfg.Role == RoleConsumer {
		m.logger.Info("Subscribed to sensor topics", "topics", m.cfg.Topics)
	}
	return nil
}

func (m *Manager) deliver(topic string, payload []byte) {
	if m.handler != nil {
		m.handler(topic, payload)
	}
}

// Run connects and keeps the session alive until ctx is cancelled or Close
// is called. Failures back off per the retry policy; an exhausted cycle
// waits the cooldown and starts over. Run never gives up on its own.
//
// A session lost within one liveness interval of being established counts
// as a failed attempt, so a broker that accepts and immediately drops the
// client is retried on the normal backoff schedule.
func (m *Manager) Run(ctx context.Context) error {
	defer func() { _ = m.Disconnect() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	shortLived := 0
	for ctx.Err() == nil && !m.closed.Load() {
		if err := m.Connect(ctx); err != nil {
			if ctx.Err() != nil || m.closed.Load() {
				return nil
			}
			if m.backoff(ctx, err) != nil {
				return nil
			}
			continue
		}

		m.mu.RLock()
		session := m.session
		m.mu.RUnlock()
		if session == nil {
			continue
		}

		connectedAt := time.Now()
		err := m.supervise(ctx, session)
		if err == nil {
			continue
		}
		m.logger.Warn("Broker connection lost", "endpoint", m.dialer.Endpoint(), "error", err)
		m.teardown(err)

		if stderrors.Is(err, errReconnectRequested) || time.Since(connectedAt) >= m.cfg.LivenessInterval {
			shortLived = 0
			continue
		}
		shortLived++
		m.mu.Lock()
		m.attempts = shortLived
		m.mu.Unlock()
		if m.backoff(ctx, err) != nil {
			return nil
		}
		if m.Attempts() == 0 {
			// The cooldown ended the cycle
			shortLived = 0
		}
	}
	return nil
}

func (m *Manager) backoff(ctx context.Context, cause error) error {
	attempts := m.Attempts()
	policy := m.cfg.Retry

	if errors.IsFatal(cause) {
		m.logger.Error("Broker transport setup failed", "endpoint", m.dialer.Endpoint(), "error", cause)
	}

	if policy.Exhausted(attempts) {
		m.logger.Warn("Max connection attempts reached, cooling down",
			"attempts", attempts,
			"cooldown", policy.Cooldown)
		if err := m.sleep(ctx, policy.Cooldown); err != nil {
			return err
		}
		m.mu.Lock()
		m.attempts = 0
		m.mu.Unlock()
		return nil
	}

	delay := policy.Delay(attempts)
	m.logger.Warn("Broker connection failed, retrying",
		"attempt", attempts,
		"max_attempts", policy.MaxAttempts,
		"retry_in", delay,
		"error", cause)
	return m.sleep(ctx, delay)
}

// supervise blocks while the session is healthy
func (m *Manager) supervise(ctx context.Context, session Session) error {
	ticker := time.NewTicker(m.cfg.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-session.Lost():
			cause := session.Err()
			if cause == nil {
				cause = fmt.Errorf("session closed by transport")
			}
			return errors.WrapTransient(errors.Join(errors.ErrConnectionLost, cause),
				"Manager", "supervise", "keep session")
		case <-m.force:
			return errors.WrapTransient(errors.Join(errors.ErrConnectionLost, errReconnectRequested),
				"Manager", "supervise", "keep session")
		case <-ticker.C:
			if !session.Alive() {
				return errors.WrapTransient(errors.Join(errors.ErrConnectionLost, fmt.Errorf("liveness check failed")),
					"Manager", "supervise", "check liveness")
			}
			m.logger.Debug("Liveness check passed", "endpoint", m.dialer.Endpoint())
		}
	}
}

// ForceReconnect drops the current session; Run then re-establishes it
func (m *Manager) ForceReconnect() {
	select {
	case m.force <- struct{}{}:
		m.logger.Warn("Reconnect requested")
	default:
	}
}

// Publish hands payload to the transport with at-least-once delivery.
// It fails immediately when not connected and never retries internally.
func (m *Manager) Publish(ctx context.Context, topic string, payload []byte) error {
	if m.cfg.Role != RoleProducer {
		return errors.WrapInvalid(fmt.Errorf("publish requires the producer role"), "Manager", "Publish", "check role")
	}

	m.mu.RLock()
	session, state := m.session, m.state
	m.mu.RUnlock()

	if state != StateConnected || session == nil {
		m.metrics.RecordPublish(false)
		return errors.WrapTransient(errors.ErrNotConnected, "Manager", "Publish", "check connection")
	}
	if err := session.Publish(ctx, topic, payload); err != nil {
		m.metrics.RecordPublish(false)
		return errors.WrapTransient(errors.Join(errors.ErrPublishFailure, err), "Manager", "Publish", "publish")
	}
	m.metrics.RecordPublish(true)
	return nil
}

// Disconnect releases the session if there is one and moves to
// Disconnected. It is safe to call repeatedly and after errors.
func (m *Manager) Disconnect() error {
	return m.teardown(nil)
}

// Close disconnects, prevents further connects and wakes a Run that is
// waiting out a backoff or cooldown
func (m *Manager) Close() error {
	m.closed.Store(true)
	m.stopOnce.Do(func() { close(m.stop) })
	return m.Disconnect()
}

func (m *Manager) teardown(cause error) error {
	m.mu.Lock()
	session := m.session
	m.session = nil
	if cause != nil {
		m.lastErr = cause
	}
	m.mu.Unlock()

	var err error
	if session != nil {
		if err = session.Close(); err != nil {
			m.logger.Warn("Error closing broker session", "error", err)
			err = errors.Wrap(err, "Manager", "Disconnect", "close session")
		}
	}
	m.transition(StateDisconnected)
	return err
}

// transition moves to next and announces it when the state changed
func (m *Manager) transition(next State) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	prev := m.state
	m.state = next
	status := m.statusLocked()
	m.mu.Unlock()

	if prev == next {
		return
	}

	role := string(m.cfg.Role)
	m.metrics.RecordBrokerState(role, int(next))
	m.metrics.RecordBrokerTransition(role, next.String())
	m.logger.Info("Broker state changed", "from", prev.String(), "to", next.String(), "endpoint", m.dialer.Endpoint())

	if m.notifier != nil {
		m.notifier.Publish(hub.EventConnectionStatus, status)
	}
}

func classifyDialError(parent, dialCtx context.Context, err error) error {
	const component, method = "Manager", "Connect"

	switch {
	case errors.IsFatal(err):
		return err
	case parent.Err() != nil:
		return errors.WrapTransient(parent.Err(), component, method, "dial broker")
	case stderrors.Is(dialCtx.Err(), context.DeadlineExceeded) || stderrors.Is(err, context.DeadlineExceeded):
		return errors.WrapTransient(errors.Join(errors.ErrConnectionTimeout, err), component, method, "dial broker")
	case isRefused(err):
		return errors.WrapTransient(errors.Join(errors.ErrConnectionRefused, err), component, method, "dial broker")
	default:
		return errors.WrapTransient(err, component, method, "dial broker")
	}
}

func isRefused(err error) bool {
	if stderrors.Is(err, syscall.ECONNREFUSED) || stderrors.Is(err, errors.ErrConnectionRefused) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "refused") || strings.Contains(msg, "not authori")
}
