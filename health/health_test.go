package health

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusConstructors(t *testing.T) {
	tests := []struct {
		status  Status
		state   string
		healthy bool
	}{
		{NewHealthy("broker", "ok"), StateHealthy, true},
		{NewDegraded("broker", "slow"), StateDegraded, false},
		{NewUnhealthy("broker", "down"), StateUnhealthy, false},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			assert.Equal(t, "broker", tt.status.Component)
			assert.Equal(t, tt.state, tt.status.Status)
			assert.Equal(t, tt.healthy, tt.status.Healthy)
			assert.False(t, tt.status.Timestamp.IsZero())
		})
	}

	assert.True(t, NewHealthy("a", "").IsHealthy())
	assert.True(t, NewDegraded("a", "").IsDegraded())
	assert.True(t, NewUnhealthy("a", "").IsUnhealthy())
	assert.False(t, Status{}.IsHealthy())
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		subs     []Status
		expected string
	}{
		{"empty is healthy", nil, StateHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StateHealthy},
		{"degraded wins over healthy", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StateDegraded},
		{"unhealthy wins over degraded", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, StateUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := Aggregate("zonewatch", tt.subs)
			assert.Equal(t, tt.expected, agg.Status)
			assert.Len(t, agg.SubStatuses, len(tt.subs))
		})
	}
}

func TestAggregate_DoesNotShareInput(t *testing.T) {
	subs := []Status{NewHealthy("a", "")}
	agg := Aggregate("zonewatch", subs)
	subs[0].Status = StateUnhealthy
	assert.Equal(t, StateHealthy, agg.SubStatuses[0].Status)
}

func TestFromError_Sanitizes(t *testing.T) {
	assert.True(t, FromError("broker", nil, "connected").IsHealthy())

	err := fmt.Errorf("dial ssl://a1b2c3-ats.iot.us-east-1.amazonaws.com:8883 failed; " +
		"open /etc/zonewatch/certs/private.pem.key: no such file; peer 10.0.0.12 token=abc123")
	status := FromError("broker", err, "")

	require.True(t, status.IsUnhealthy())
	assert.NotContains(t, status.Message, "amazonaws.com")
	assert.NotContains(t, status.Message, "/etc/zonewatch")
	assert.NotContains(t, status.Message, "10.0.0.12")
	assert.NotContains(t, status.Message, "abc123")
	assert.Contains(t, status.Message, "[URL]")
	assert.Contains(t, status.Message, "[PATH]")
}

func TestMonitor(t *testing.T) {
	m := NewMonitor()
	assert.Equal(t, StateHealthy, m.AggregateHealth("zonewatch").Status)

	brokerUp := false
	m.Register("broker", func() Status {
		if brokerUp {
			return NewHealthy("", "connected")
		}
		return NewUnhealthy("", "disconnected")
	})
	m.Register("pipeline", func() Status { return NewHealthy("", "ok") })
	assert.Equal(t, 2, m.Count())

	agg := m.AggregateHealth("zonewatch")
	assert.Equal(t, StateUnhealthy, agg.Status)
	require.Len(t, agg.SubStatuses, 2)
	assert.Equal(t, "broker", agg.SubStatuses[0].Component)
	assert.Equal(t, "pipeline", agg.SubStatuses[1].Component)

	brokerUp = true
	assert.Equal(t, StateHealthy, m.AggregateHealth("zonewatch").Status)

	status, ok := m.Get("broker")
	require.True(t, ok)
	assert.Equal(t, "connected", status.Message)

	m.Remove("broker")
	_, ok = m.Get("broker")
	assert.False(t, ok)
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			m.Register(fmt.Sprintf("c%d", i), func() Status { return NewHealthy("", "") })
		}(i)
		go func() {
			defer wg.Done()
			_ = m.AggregateHealth("zonewatch")
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, m.Count())
}
