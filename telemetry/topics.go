package telemetry

import "strings"

// DefaultPrefix is the topic namespace used when none is configured.
const DefaultPrefix = "hvac/building"

// Topics derives topic names under a namespace prefix.
type Topics struct {
	Prefix string
}

// NewTopics returns Topics for prefix, trimming any trailing separator.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{Prefix: prefix}
}

// Sensor returns the sensor data topic for a zone.
func (t Topics) Sensor(zoneID string) string {
	return t.Prefix + "/sensors/" + zoneID
}

// SensorWildcard matches every zone's sensor topic.
func (t Topics) SensorWildcard() string {
	return t.Prefix + "/sensors/+"
}

// Status is reserved for device status messages.
func (t Topics) Status() string {
	return t.Prefix + "/status"
}

// Alerts is reserved for alert fan-out over the broker.
func (t Topics) Alerts() string {
	return t.Prefix + "/alerts"
}

// ZoneFromTopic extracts the zone from a sensor topic.
func (t Topics) ZoneFromTopic(topic string) (string, bool) {
	zone, ok := strings.CutPrefix(topic, t.Prefix+"/sensors/")
	if !ok || zone == "" || strings.Contains(zone, "/") {
		return "", false
	}
	return zone, true
}
