package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/zonewatch/alert"
	"github.com/c360/zonewatch/metric"
	"github.com/c360/zonewatch/zone"
)

type fixedSource struct{ snap Snapshot }

func (f fixedSource) Snapshot() Snapshot { return f.snap }

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertEmpty(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestHub_DeliversInPublishOrder(t *testing.T) {
	h := New()
	sub := h.Subscribe(10)
	defer sub.Close()

	h.Publish(EventConnectionStatus, ConnectionStatus{Connected: true, State: "connected"})
	h.Publish(EventNewAlert, alert.Alert{ID: "a1"})
	h.Publish(EventSensorUpdate, SensorUpdate{Zone: "lobby"})

	assert.Equal(t, EventConnectionStatus, receive(t, sub).Type)
	assert.Equal(t, EventNewAlert, receive(t, sub).Type)
	ev := receive(t, sub)
	assert.Equal(t, EventSensorUpdate, ev.Type)
	assert.Equal(t, "lobby", ev.Data.(SensorUpdate).Zone)
	assert.NotEmpty(t, ev.ID)
}

func TestHub_FiltersByCategory(t *testing.T) {
	h := New()
	alerts := h.Subscribe(10, EventNewAlert)
	status := h.Subscribe(10, EventConnectionStatus)

	h.Publish(EventSensorUpdate, SensorUpdate{Zone: "lobby"})
	h.Publish(EventNewAlert, alert.Alert{ID: "a1"})
	h.Publish(EventConnectionStatus, ConnectionStatus{})

	assert.Equal(t, EventNewAlert, receive(t, alerts).Type)
	assertEmpty(t, alerts)
	assert.Equal(t, EventConnectionStatus, receive(t, status).Type)
	assertEmpty(t, status)
}

func TestHub_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	m := metric.NewMetrics()
	h := New(WithMetrics(m))

	slow := h.Subscribe(1)
	fast := h.Subscribe(100)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			h.Publish(EventSensorUpdate, SensorUpdate{Zone: "lobby"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber queue")
	}

	assert.Len(t, fast.Events(), 50)
	assert.Len(t, slow.Events(), 1)
	assert.Equal(t, uint64(49), slow.Dropped())
	assert.Equal(t, uint64(0), fast.Dropped())
	assert.Equal(t, 49.0, testutil.ToFloat64(m.HubDropped.WithLabelValues("sensor_update")))
}

func TestHub_LateSubscriberMissesEarlierEvents(t *testing.T) {
	h := New()
	h.Publish(EventNewAlert, alert.Alert{ID: "early"})

	sub := h.Subscribe(10)
	assertEmpty(t, sub)
}

func TestHub_SnapshotDelegatesToSource(t *testing.T) {
	h := New()

	empty := h.Snapshot()
	assert.NotNil(t, empty.Zones)
	assert.NotNil(t, empty.Alerts)

	h.SetSource(fixedSource{snap: Snapshot{
		Zones:     map[string]zone.State{"lobby": {}},
		Stats:     Stats{TotalMessages: 3},
		Connected: true,
	}})

	snap := h.Snapshot()
	assert.Contains(t, snap.Zones, "lobby")
	assert.Equal(t, uint64(3), snap.Stats.TotalMessages)
	assert.True(t, snap.Connected)
}

func TestSubscription_Close(t *testing.T) {
	m := metric.NewMetrics()
	h := New(WithMetrics(m))
	sub := h.Subscribe(0)
	assert.Equal(t, 1, h.SubscriberCount())
	assert.Equal(t, DefaultQueueSize, cap(sub.ch))

	sub.Close()
	sub.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, h.SubscriberCount())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HubSubscribers))

	assert.NotPanics(t, func() { h.Publish(EventNewAlert, alert.Alert{}) })
}

func TestHub_Close(t *testing.T) {
	h := New()
	sub := h.Subscribe(1)

	h.Close()
	h.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.NotPanics(t, sub.Close)

	late := h.Subscribe(1)
	_, ok = <-late.Events()
	assert.False(t, ok)
}

func TestHub_ConcurrentPublishSubscribe(t *testing.T) {
	h := New(WithQueueSize(8))
	var wg sync.WaitGroup

	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h.Publish(EventSensorUpdate, SensorUpdate{})
			}
		}()
	}
	for s := 0; s < 4; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				sub := h.Subscribe(0)
				sub.Close()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.SubscriberCount())
}

func TestHub_EventTimestampUsesClock(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h := New(WithClock(func() time.Time { return at }))
	ev := h.Publish(EventConnectionStatus, ConnectionStatus{})
	assert.Equal(t, at, ev.Time)
}
