package hub

import (
	"time"

	"github.com/c360/zonewatch/alert"
	"github.com/c360/zonewatch/telemetry"
	"github.com/c360/zonewatch/zone"
)

// EventType is the category a subscriber filters on
type EventType string

const (
	EventConnectionStatus EventType = "connection_status"
	EventSensorUpdate     EventType = "sensor_update"
	EventNewAlert         EventType = "new_alert"
)

// AllEventTypes lists every category published through the hub
var AllEventTypes = []EventType{EventConnectionStatus, EventSensorUpdate, EventNewAlert}

// Event is one published state change. Data holds a ConnectionStatus,
// SensorUpdate or alert.Alert depending on Type.
type Event struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`
	Time time.Time `json:"timestamp"`
	Data any       `json:"payload"`
}

// Stats is the aggregate counters view shared with subscribers
type Stats struct {
	TotalMessages   uint64     `json:"total_messages"`
	ConnectedZones  int        `json:"connected_zones"`
	ActiveAlerts    int        `json:"active_alerts"`
	LastUpdate      *time.Time `json:"last_update"`
	ConnectionState string     `json:"connection_state"`
}

// ConnectionStatus is the payload of connection_status events
type ConnectionStatus struct {
	Connected bool   `json:"connected"`
	State     string `json:"state"`
	Attempt   int    `json:"attempt,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SensorUpdate is the payload of sensor_update events
type SensorUpdate struct {
	Zone    string            `json:"zone"`
	Reading telemetry.Reading `json:"reading"`
	Stats   Stats             `json:"stats"`
}

// Snapshot is a consistent point-in-time copy of all live state
type Snapshot struct {
	Zones     map[string]zone.State `json:"zones"`
	Alerts    []alert.Alert         `json:"alerts"`
	Stats     Stats                 `json:"stats"`
	Connected bool                  `json:"connected"`
}

// Snapshotter produces snapshots for late-joining consumers
type Snapshotter interface {
	Snapshot() Snapshot
}
