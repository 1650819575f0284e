package broker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/zonewatch/errors"
	"github.com/c360/zonewatch/hub"
	"github.com/c360/zonewatch/pkg/retry"
)

type fakeSession struct {
	*lostSignal
	alive      atomic.Bool
	closed     atomic.Int32
	publishErr error
	// blockSubscribe holds Subscribe until its context is done
	blockSubscribe bool

	mu        sync.Mutex
	topics    []string
	handler   MessageHandler
	published []string
}

func newFakeSession() *fakeSession {
	s := &fakeSession{lostSignal: newLostSignal()}
	s.alive.Store(true)
	return s
}

func (s *fakeSession) Subscribe(ctx context.Context, topics []string, h MessageHandler) error {
	if s.blockSubscribe {
		<-ctx.Done()
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append(s.topics, topics...)
	s.handler = h
	return nil
}

func (s *fakeSession) Publish(_ context.Context, topic string, _ []byte) error {
	if s.publishErr != nil {
		return s.publishErr
	}
	s.mu.Lock()
	s.published = append(s.published, topic)
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Alive() bool { return s.alive.Load() }

func (s *fakeSession) Close() error {
	s.closed.Add(1)
	return nil
}

// fakeDialer hands out results in order and repeats the last one
type fakeDialer struct {
	mu      sync.Mutex
	results []any // *fakeSession, error, or "block"
	dials   int
}

func (d *fakeDialer) Endpoint() string { return "fake://broker" }

func (d *fakeDialer) Dial(ctx context.Context) (Session, error) {
	d.mu.Lock()
	idx := d.dials
	if idx >= len(d.results) {
		idx = len(d.results) - 1
	}
	r := d.results[idx]
	d.dials++
	d.mu.Unlock()

	switch v := r.(type) {
	case *fakeSession:
		return v, nil
	case error:
		return nil, v
	default:
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) Publish(t hub.EventType, data any) hub.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t == hub.EventConnectionStatus {
		r.states = append(r.states, data.(hub.ConnectionStatus).State)
	}
	return hub.Event{Type: t, Data: data}
}

func (r *recorder) States() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

type sleeper struct {
	mu     sync.Mutex
	delays []time.Duration
	limit  int
	cancel context.CancelFunc
}

func (s *sleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	n := len(s.delays)
	s.mu.Unlock()
	if s.limit > 0 && n >= s.limit {
		s.cancel()
	}
	return ctx.Err()
}

func (s *sleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func testConsumerConfig() Config {
	cfg := ConsumerConfig([]string{"hvac/building/sensors/lobby", "hvac/building/sensors/office_floor_1"})
	cfg.ConnectTimeout = 50 * time.Millisecond
	return cfg
}

func TestConnect_SubscribesAndResetsAttempts(t *testing.T) {
	session := newFakeSession()
	dialer := &fakeDialer{results: []any{stderrors.New("dial tcp: connection refused"), session}}
	rec := &recorder{}
	var got []string
	m, err := NewManager(testConsumerConfig(), dialer, WithNotifier(rec), WithHandler(func(topic string, _ []byte) {
		got = append(got, topic)
	}))
	require.NoError(t, err)

	err = m.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConnectionRefused)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, 1, m.Attempts())
	assert.Equal(t, StateDisconnected, m.State())
	assert.Contains(t, m.Status().Error, "refused")

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 0, m.Attempts())
	assert.Equal(t, []string{"hvac/building/sensors/lobby", "hvac/building/sensors/office_floor_1"}, session.topics)
	assert.Equal(t, hub.ConnectionStatus{Connected: true, State: "connected"}, m.Status())

	session.handler("hvac/building/sensors/lobby", []byte("{}"))
	assert.Equal(t, []string{"hvac/building/sensors/lobby"}, got)

	assert.Equal(t, []string{"connecting", "disconnected", "connecting", "connected"}, rec.States())
}

func TestConnect_TimesOut(t *testing.T) {
	m, err := NewManager(testConsumerConfig(), &fakeDialer{results: []any{"block"}})
	require.NoError(t, err)

	start := time.Now()
	err = m.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConnectionTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 1, m.Attempts())
}

func TestConnect_SubscribeBoundByConnectTimeout(t *testing.T) {
	session := newFakeSession()
	session.blockSubscribe = true
	m, err := NewManager(testConsumerConfig(), &fakeDialer{results: []any{session}})
	require.NoError(t, err)

	start := time.Now()
	err = m.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConnectionTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 1, m.Attempts())
	assert.EqualValues(t, 1, session.closed.Load())
}

func TestConnect_TransportSetupIsFatal(t *testing.T) {
	setup := errors.WrapFatal(errors.Join(errors.ErrTransportSetup, stderrors.New("bad certificate")),
		"tlsutil", "LoadClientTLSConfig", "load client certificate")
	m, err := NewManager(testConsumerConfig(), &fakeDialer{results: []any{setup}})
	require.NoError(t, err)

	err = m.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTransportSetup)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, 1, m.Attempts())
	assert.True(t, m.Health().IsUnhealthy())
}

func TestRun_BacksOffThenCoolsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sl := &sleeper{limit: 6, cancel: cancel}
	dialer := &fakeDialer{results: []any{stderrors.New("connection refused")}}

	m, err := NewManager(testConsumerConfig(), dialer, WithSleep(sl.Sleep))
	require.NoError(t, err)

	require.NoError(t, m.Run(ctx))

	// 3 attempts per cycle at 10s * n, then the 120s cooldown, then a fresh cycle
	assert.Equal(t, []time.Duration{
		10 * time.Second,
		20 * time.Second,
		120 * time.Second,
		10 * time.Second,
		20 * time.Second,
		120 * time.Second,
	}, sl.Delays())
	assert.Equal(t, 6, dialer.Dials())
	assert.Equal(t, StateDisconnected, m.State())
}

func TestRun_ProducerBackoffIsCapped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sl := &sleeper{limit: 5, cancel: cancel}
	cfg := ProducerConfig()
	cfg.ConnectTimeout = 50 * time.Millisecond
	cfg.Retry.InitialDelay = 8 * time.Second

	m, err := NewManager(cfg, &fakeDialer{results: []any{stderrors.New("i/o timeout")}}, WithSleep(sl.Sleep))
	require.NoError(t, err)
	require.NoError(t, m.Run(ctx))

	assert.Equal(t, []time.Duration{
		8 * time.Second,
		16 * time.Second,
		24 * time.Second,
		30 * time.Second,
		60 * time.Second,
	}, sl.Delays())
}

func TestRun_ShortLivedSessionsBackOff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sl := &sleeper{limit: 6, cancel: cancel}

	// The broker accepts the client and drops it straight away
	dropped := newFakeSession()
	dropped.fire(stderrors.New("duplicate client id"))
	dialer := &fakeDialer{results: []any{dropped}}

	m, err := NewManager(testConsumerConfig(), dialer, WithSleep(sl.Sleep))
	require.NoError(t, err)
	require.NoError(t, m.Run(ctx))

	assert.Equal(t, []time.Duration{
		10 * time.Second,
		20 * time.Second,
		120 * time.Second,
		10 * time.Second,
		20 * time.Second,
		120 * time.Second,
	}, sl.Delays())
	assert.Equal(t, 6, dialer.Dials())
}

func TestRun_ReconnectsAfterLoss(t *testing.T) {
	first, second := newFakeSession(), newFakeSession()
	dialer := &fakeDialer{results: []any{first, second}}
	rec := &recorder{}
	sl := &sleeper{}
	m, err := NewManager(testConsumerConfig(), dialer, WithNotifier(rec), WithSleep(sl.Sleep))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.State() == StateConnected }, time.Second, 5*time.Millisecond)
	first.fire(stderrors.New("EOF"))

	require.Eventually(t, func() bool {
		return dialer.Dials() == 2 && m.State() == StateConnected
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, first.closed.Load())

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StateDisconnected, m.State())
	assert.EqualValues(t, 1, second.closed.Load())
	assert.Equal(t, []string{
		"connecting", "connected", "disconnected",
		"connecting", "connected", "disconnected",
	}, rec.States())
	// Lost within the liveness interval, so the first backoff step applies
	assert.Equal(t, []time.Duration{10 * time.Second}, sl.Delays())
}

func TestRun_LivenessFailureReconnects(t *testing.T) {
	first, second := newFakeSession(), newFakeSession()
	cfg := testConsumerConfig()
	cfg.LivenessInterval = 10 * time.Millisecond
	dialer := &fakeDialer{results: []any{first, second}}
	m, err := NewManager(cfg, dialer, WithSleep((&sleeper{}).Sleep))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	require.Eventually(t, func() bool { return dialer.Dials() == 1 }, time.Second, 5*time.Millisecond)
	first.alive.Store(false)
	require.Eventually(t, func() bool { return dialer.Dials() == 2 }, time.Second, 5*time.Millisecond)
}

func TestForceReconnect(t *testing.T) {
	first, second := newFakeSession(), newFakeSession()
	cfg := ProducerConfig()
	dialer := &fakeDialer{results: []any{first, second}}
	sl := &sleeper{}
	m, err := NewManager(cfg, dialer, WithSleep(sl.Sleep))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.State() == StateConnected }, time.Second, 5*time.Millisecond)
	m.ForceReconnect()
	require.Eventually(t, func() bool {
		return dialer.Dials() == 2 && m.State() == StateConnected
	}, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, first.closed.Load())
	assert.Empty(t, sl.Delays(), "a requested reconnect redials at once")
}

func TestPublish(t *testing.T) {
	session := newFakeSession()
	m, err := NewManager(ProducerConfig(), &fakeDialer{results: []any{session}})
	require.NoError(t, err)

	err = m.Publish(context.Background(), "hvac/building/sensors/lobby", []byte("{}"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotConnected)

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Publish(context.Background(), "hvac/building/sensors/lobby", []byte("{}")))
	assert.Equal(t, []string{"hvac/building/sensors/lobby"}, session.published)

	session.publishErr = fmt.Errorf("not acknowledged")
	err = m.Publish(context.Background(), "hvac/building/sensors/lobby", []byte("{}"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPublishFailure)
	assert.Equal(t, StateConnected, m.State(), "publish failures do not change state")
}

func TestPublish_ConsumerRoleRejected(t *testing.T) {
	m, err := NewManager(testConsumerConfig(), &fakeDialer{results: []any{newFakeSession()}})
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))

	err = m.Publish(context.Background(), "x", nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestDisconnect_Idempotent(t *testing.T) {
	session := newFakeSession()
	rec := &recorder{}
	m, err := NewManager(testConsumerConfig(), &fakeDialer{results: []any{session}}, WithNotifier(rec))
	require.NoError(t, err)

	require.NoError(t, m.Disconnect())
	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Disconnect())
	require.NoError(t, m.Disconnect())

	assert.EqualValues(t, 1, session.closed.Load())
	assert.Equal(t, []string{"connecting", "connected", "disconnected"}, rec.States())
}

func TestClose_PreventsConnect(t *testing.T) {
	m, err := NewManager(testConsumerConfig(), &fakeDialer{results: []any{newFakeSession()}})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	err = m.Connect(context.Background())
	assert.ErrorIs(t, err, errors.ErrAlreadyStopped)
	assert.NoError(t, m.Run(context.Background()))
}

func TestClose_InterruptsBackoff(t *testing.T) {
	dialer := &fakeDialer{results: []any{stderrors.New("connection refused")}}
	m, err := NewManager(testConsumerConfig(), dialer)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	require.Eventually(t, func() bool { return dialer.Dials() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run kept sleeping after Close")
	}
	assert.Equal(t, StateDisconnected, m.State())
}

func TestHealth(t *testing.T) {
	m, err := NewManager(testConsumerConfig(), &fakeDialer{results: []any{newFakeSession()}})
	require.NoError(t, err)
	assert.True(t, m.Health().IsUnhealthy())

	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, m.Health().IsHealthy())
}

func TestNewManager_Validates(t *testing.T) {
	_, err := NewManager(testConsumerConfig(), nil)
	assert.Error(t, err)

	cfg := testConsumerConfig()
	cfg.Retry = retry.Policy{}
	_, err = NewManager(cfg, &fakeDialer{results: []any{newFakeSession()}})
	assert.True(t, errors.IsInvalid(err))
}

func TestTopicSubjectMapping(t *testing.T) {
	assert.Equal(t, "hvac.building.sensors.lobby", TopicToSubject("hvac/building/sensors/lobby"))
	assert.Equal(t, "hvac.building.sensors.*", TopicToSubject("hvac/building/sensors/+"))
	assert.Equal(t, "hvac.>", TopicToSubject("hvac/#"))
	assert.Equal(t, "hvac/building/sensors/lobby", SubjectToTopic("hvac.building.sensors.lobby"))
}

func TestEndpoints(t *testing.T) {
	assert.Equal(t, "ssl://a1b2.iot.example.com:8883", NewMQTTDialer(MQTTOptions{Host: "a1b2.iot.example.com"}).Endpoint())
	assert.Equal(t, "tls://broker:4222", NewNATSDialer(NATSOptions{URL: "tls://broker:4222"}).Endpoint())
}
