package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/zonewatch/alert"
	"github.com/c360/zonewatch/errors"
	"github.com/c360/zonewatch/hub"
	"github.com/c360/zonewatch/metric"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type staticConn struct{ status hub.ConnectionStatus }

func (s staticConn) Status() hub.ConnectionStatus { return s.status }

func payload(zone string, temp, humidity float64, co2 int) []byte {
	return []byte(fmt.Sprintf(
		`{"zone_id":%q,"timestamp":"2024-01-01T00:00:00Z","temperature_celsius":%v,"humidity_percent":%v,"co2_ppm":%d}`,
		zone, temp, humidity, co2))
}

func newPipeline(t *testing.T, cfg Config) (*Pipeline, *hub.Hub, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	h := hub.New()
	t.Cleanup(h.Close)
	p, err := New(cfg, h, WithClock(c.Now))
	require.NoError(t, err)
	h.SetSource(p)
	return p, h, c
}

func next(t *testing.T, sub *hub.Subscription) hub.Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return hub.Event{}
	}
}

func TestIngest_HighTemperatureRaisesWarning(t *testing.T) {
	p, h, c := newPipeline(t, DefaultConfig())
	sub := h.Subscribe(10)
	defer sub.Close()

	require.NoError(t, p.Ingest("hvac/building/sensors/lobby", payload("lobby", 27.5, 45, 600)))

	snap := p.Snapshot()
	require.Len(t, snap.Alerts, 1)
	a := snap.Alerts[0]
	assert.Equal(t, alert.KindTemperatureHigh, a.Kind)
	assert.Equal(t, alert.SeverityWarning, a.Severity)
	assert.Equal(t, "lobby", a.ZoneID)
	assert.Equal(t, "High temperature: 27.5°C", a.Message)
	assert.Equal(t, c.Now(), a.Timestamp)

	assert.EqualValues(t, 1, snap.Stats.TotalMessages)
	assert.Equal(t, 1, snap.Stats.ConnectedZones)
	assert.Equal(t, 1, snap.Stats.ActiveAlerts)
	require.NotNil(t, snap.Stats.LastUpdate)
	assert.Equal(t, c.Now(), *snap.Stats.LastUpdate)
	require.Contains(t, snap.Zones, "lobby")
	assert.Equal(t, 27.5, snap.Zones["lobby"].Latest.TemperatureCelsius)

	// Alerts go out before the sensor update that caused them
	ev := next(t, sub)
	assert.Equal(t, hub.EventNewAlert, ev.Type)
	ev = next(t, sub)
	require.Equal(t, hub.EventSensorUpdate, ev.Type)
	update := ev.Data.(hub.SensorUpdate)
	assert.Equal(t, "lobby", update.Zone)
	assert.EqualValues(t, 1, update.Stats.TotalMessages)
	assert.Equal(t, 1, update.Stats.ActiveAlerts)
}

func TestIngest_AlertsFollowRuleOrder(t *testing.T) {
	p, h, _ := newPipeline(t, DefaultConfig())
	sub := h.Subscribe(10, hub.EventNewAlert)
	defer sub.Close()

	require.NoError(t, p.Ingest("hvac/building/sensors/office_floor_1", payload("office_floor_1", 15, 75, 1200)))

	want := []alert.Kind{alert.KindTemperatureLow, alert.KindCO2High, alert.KindHumidityHigh}
	for _, kind := range want {
		ev := next(t, sub)
		assert.Equal(t, kind, ev.Data.(alert.Alert).Kind)
	}
	assert.Len(t, p.Snapshot().Alerts, 3)
}

func TestIngest_ComfortableReadingRaisesNothing(t *testing.T) {
	p, _, _ := newPipeline(t, DefaultConfig())

	require.NoError(t, p.Ingest("hvac/building/sensors/lobby", payload("lobby", 22, 45, 600)))

	snap := p.Snapshot()
	assert.Empty(t, snap.Alerts)
	assert.NotNil(t, snap.Alerts)
	assert.Equal(t, 0, snap.Stats.ActiveAlerts)
}

func TestIngest_HistoryIsBounded(t *testing.T) {
	p, _, _ := newPipeline(t, DefaultConfig())

	for i := 0; i < 51; i++ {
		require.NoError(t, p.Ingest("hvac/building/sensors/lobby", payload("lobby", 20+float64(i)/100, 45, 600)))
	}

	history := p.History("lobby")
	require.Len(t, history, 50)
	assert.Equal(t, 20.01, history[0].Temperature)
	assert.Equal(t, 20.5, history[49].Temperature)
	assert.EqualValues(t, 51, p.Stats().TotalMessages)
}

func TestIngest_AlertLogIsBounded(t *testing.T) {
	p, _, _ := newPipeline(t, DefaultConfig())

	for i := 0; i < 25; i++ {
		require.NoError(t, p.Ingest("hvac/building/sensors/lobby", payload("lobby", 30, 45, 600)))
	}

	snap := p.Snapshot()
	assert.Len(t, snap.Alerts, 20)
	assert.Equal(t, 20, snap.Stats.ActiveAlerts)
}

func TestIngest_EvictedAlertsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := hub.New()
	defer h.Close()

	cfg := DefaultConfig()
	cfg.AlertCapacity = 1
	p, err := New(cfg, h, WithLogger(logger))
	require.NoError(t, err)

	// Two rules fire; the first alert is evicted by the second
	require.NoError(t, p.Ingest("hvac/building/sensors/lobby", payload("lobby", 30, 45, 1200)))

	assert.Len(t, p.Snapshot().Alerts, 1)
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("Alert evicted from log")))
	assert.Contains(t, buf.String(), "zone=lobby")
}

func TestIngest_MalformedLeavesStateUntouched(t *testing.T) {
	p, h, _ := newPipeline(t, DefaultConfig())
	require.NoError(t, p.Ingest("hvac/building/sensors/lobby", payload("lobby", 22, 45, 600)))
	before := p.Snapshot()

	sub := h.Subscribe(10)
	defer sub.Close()

	inputs := [][]byte{
		[]byte("not json"),
		[]byte(`{"zone_id":"lobby"}`),
		[]byte(`{"zone_id":"lobby","timestamp":"2024-01-01T00:00:00Z","temperature_celsius":"hot","humidity_percent":45,"co2_ppm":600}`),
		[]byte(`{"zone_id":"lobby","timestamp":"yesterday","temperature_celsius":22,"humidity_percent":45,"co2_ppm":600}`),
	}
	for _, in := range inputs {
		err := p.Ingest("hvac/building/sensors/lobby", in)
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrMalformedPayload)
		assert.True(t, errors.IsInvalid(err))
	}

	assert.Equal(t, before, p.Snapshot())
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestIngest_PayloadZoneWinsOverTopic(t *testing.T) {
	p, _, _ := newPipeline(t, DefaultConfig())

	require.NoError(t, p.Ingest("hvac/building/sensors/lobby", payload("conference_room", 22, 45, 600)))

	snap := p.Snapshot()
	assert.Contains(t, snap.Zones, "conference_room")
	assert.NotContains(t, snap.Zones, "lobby")
}

func TestIngest_UnconfiguredZoneIsTracked(t *testing.T) {
	p, _, _ := newPipeline(t, DefaultConfig())

	require.NoError(t, p.Ingest("hvac/building/sensors/basement", payload("basement", 22, 45, 600)))
	require.NoError(t, p.Ingest("hvac/building/sensors/lobby", payload("lobby", 22, 45, 600)))

	assert.Equal(t, 2, p.Stats().ConnectedZones)
	assert.NotContains(t, p.Zones(), "basement")
	assert.Len(t, p.History("basement"), 1)
}

func TestStats_ActiveAlertsExpireWithTime(t *testing.T) {
	p, _, c := newPipeline(t, DefaultConfig())
	require.NoError(t, p.Ingest("hvac/building/sensors/lobby", payload("lobby", 30, 45, 600)))
	assert.Equal(t, 1, p.Stats().ActiveAlerts)

	c.Advance(9 * time.Minute)
	assert.Equal(t, 1, p.Stats().ActiveAlerts)

	// Exactly at the window boundary the alert is no longer active
	c.Advance(time.Minute)
	assert.Equal(t, 0, p.Stats().ActiveAlerts)
	assert.Len(t, p.Snapshot().Alerts, 1)
}

func TestHistory_UnknownZoneIsEmpty(t *testing.T) {
	p, _, _ := newPipeline(t, DefaultConfig())

	h := p.History("nowhere")
	assert.NotNil(t, h)
	assert.Empty(t, h)
}

func TestZones_ReturnsCopy(t *testing.T) {
	p, _, _ := newPipeline(t, DefaultConfig())

	zones := p.Zones()
	require.Equal(t, []string{"lobby", "office_floor_1", "office_floor_2", "conference_room"}, zones)
	zones[0] = "changed"
	assert.Equal(t, "lobby", p.Zones()[0])
}

func TestSnapshot_ReportsConnection(t *testing.T) {
	p, _, _ := newPipeline(t, DefaultConfig())
	assert.False(t, p.Snapshot().Connected)
	assert.Equal(t, "disconnected", p.Stats().ConnectionState)

	p.SetConnection(staticConn{status: hub.ConnectionStatus{Connected: true, State: "connected"}})
	snap := p.Snapshot()
	assert.True(t, snap.Connected)
	assert.Equal(t, "connected", snap.Stats.ConnectionState)
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	p, _, _ := newPipeline(t, DefaultConfig())
	require.NoError(t, p.Ingest("hvac/building/sensors/lobby", payload("lobby", 30, 45, 600)))

	snap := p.Snapshot()
	snap.Alerts[0].Message = "changed"
	snap.Zones["lobby"].Latest.TemperatureCelsius = 0

	fresh := p.Snapshot()
	assert.Equal(t, "High temperature: 30°C", fresh.Alerts[0].Message)
	assert.Equal(t, 30.0, fresh.Zones["lobby"].Latest.TemperatureCelsius)
}

func TestHandle_DropsWhenInboxFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InboxSize = 2
	p, _, _ := newPipeline(t, cfg)

	for i := 0; i < 5; i++ {
		p.Handle("hvac/building/sensors/lobby", payload("lobby", 22, 45, 600))
	}
	assert.EqualValues(t, 3, p.Dropped())

	status := p.Health()
	assert.True(t, status.IsDegraded())
	assert.True(t, p.Health().IsHealthy(), "drops are reported once")
}

func TestRun_IngestsQueuedMessages(t *testing.T) {
	p, h, _ := newPipeline(t, DefaultConfig())
	sub := h.Subscribe(10, hub.EventSensorUpdate)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.Handle("hvac/building/sensors/lobby", []byte("garbage"))
	p.Handle("hvac/building/sensors/lobby", payload("lobby", 22, 45, 600))

	ev := next(t, sub)
	assert.Equal(t, "lobby", ev.Data.(hub.SensorUpdate).Zone)
	assert.EqualValues(t, 1, p.Stats().TotalMessages)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestHandle_CopiesPayload(t *testing.T) {
	p, _, _ := newPipeline(t, DefaultConfig())
	buf := payload("lobby", 22, 45, 600)
	p.Handle("hvac/building/sensors/lobby", buf)
	for i := range buf {
		buf[i] = 'x'
	}

	msg := <-p.inbox
	require.NoError(t, p.Ingest(msg.topic, msg.payload))
}

func TestNew_WithMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	h := hub.New()
	defer h.Close()

	p, err := New(DefaultConfig(), h, WithMetrics(registry))
	require.NoError(t, err)
	require.NoError(t, p.Ingest("hvac/building/sensors/lobby", payload("lobby", 30, 45, 600)))
	require.Error(t, p.Ingest("hvac/building/sensors/lobby", []byte("{")))

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["zonewatch_ingest_messages_total"])
	assert.True(t, names["zonewatch_alerts_raised_total"])
	assert.True(t, names["zonewatch_buffer_writes_total"])
}
