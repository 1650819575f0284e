package telemetry

import (
	"fmt"
	"time"
)

// Reading is one zone's measurement at one instant. Readings are values and
// are never mutated after construction.
type Reading struct {
	ZoneID             string    `json:"zone_id"`
	Timestamp          time.Time `json:"timestamp"`
	TemperatureCelsius float64   `json:"temperature_celsius"`
	HumidityPercent    float64   `json:"humidity_percent"`
	CO2PPM             int       `json:"co2_ppm"`

	// Passthrough metadata, carried opaquely
	DeviceID   string `json:"device_id,omitempty"`
	AirQuality string `json:"air_quality,omitempty"`
	HVACStatus string `json:"hvac_status,omitempty"`
	BuildingID string `json:"building_id,omitempty"`
}

// HistoryPoint is the projection of a Reading kept in a zone's rolling history.
type HistoryPoint struct {
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	CO2         int       `json:"co2"`
}

// Point projects the reading onto a HistoryPoint.
func (r Reading) Point() HistoryPoint {
	return HistoryPoint{
		Timestamp:   r.Timestamp,
		Temperature: r.TemperatureCelsius,
		Humidity:    r.HumidityPercent,
		CO2:         r.CO2PPM,
	}
}

// Validate checks the fields a producer must set before publishing.
func (r Reading) Validate() error {
	if r.ZoneID == "" {
		return fmt.Errorf("zone_id is required")
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}
