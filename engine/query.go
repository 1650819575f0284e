package engine

import (
	"fmt"

	"github.com/c360/zonewatch/health"
	"github.com/c360/zonewatch/hub"
	"github.com/c360/zonewatch/telemetry"
)

// Snapshot returns a consistent copy of all zones, the alert log and stats.
// Active alerts are recomputed against the current time.
func (p *Pipeline) Snapshot() hub.Snapshot {
	now := p.now()
	connection := p.connectionStatus()

	p.mu.RLock()
	defer p.mu.RUnlock()

	return hub.Snapshot{
		Zones:     p.store.Snapshot(),
		Alerts:    p.alerts.Entries(),
		Stats:     p.statsLocked(now, connection),
		Connected: connection.Connected,
	}
}

// Stats returns the current counters with active alerts recomputed now
func (p *Pipeline) Stats() hub.Stats {
	now := p.now()
	connection := p.connectionStatus()

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.statsLocked(now, connection)
}

// Zones returns the configured zone list
func (p *Pipeline) Zones() []string {
	return append([]string(nil), p.cfg.Zones...)
}

// History returns a zone's rolling history, oldest first. Unknown zones yield
// an empty slice, never an error.
func (p *Pipeline) History(zoneID string) []telemetry.HistoryPoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.store.History(zoneID)
}

// Dropped returns how many messages were dropped because the inbox was full
func (p *Pipeline) Dropped() uint64 {
	return p.dropped.Load()
}

// Health is degraded when messages were dropped since the previous check
func (p *Pipeline) Health() health.Status {
	total := p.dropped.Load()
	seen := p.droppedSeen.Swap(total)
	if total > seen {
		return health.NewDegraded("pipeline",
			fmt.Sprintf("%d messages dropped since last check (inbox full)", total-seen))
	}
	return health.NewHealthy("pipeline", "Ingesting")
}
