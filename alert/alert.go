// Package alert evaluates threshold rules against readings and keeps the
// bounded log of recent alerts.
package alert

import (
	"time"

	"github.com/google/uuid"

	"github.com/c360/zonewatch/telemetry"
)

// Kind identifies which rule produced an alert
type Kind string

const (
	KindTemperatureHigh Kind = "temperature_high"
	KindTemperatureLow  Kind = "temperature_low"
	KindCO2High         Kind = "co2_high"
	KindHumidityHigh    Kind = "humidity_high"
	KindHumidityLow     Kind = "humidity_low"
)

// Severity ranks an alert for display
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is an immutable record of one rule firing for one reading.
// Timestamp is the evaluation instant, not the reading's timestamp.
type Alert struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"type"`
	ZoneID    string    `json:"zone"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// Thresholds are the rule boundaries. Comparisons are strict.
type Thresholds struct {
	TemperatureHigh float64 `json:"temperature_high" yaml:"temperature_high"`
	TemperatureLow  float64 `json:"temperature_low" yaml:"temperature_low"`
	CO2High         int     `json:"co2_high" yaml:"co2_high"`
	HumidityHigh    float64 `json:"humidity_high" yaml:"humidity_high"`
	HumidityLow     float64 `json:"humidity_low" yaml:"humidity_low"`
}

// DefaultThresholds returns the building comfort defaults
func DefaultThresholds() Thresholds {
	return Thresholds{
		TemperatureHigh: 26,
		TemperatureLow:  18,
		CO2High:         1000,
		HumidityHigh:    70,
		HumidityLow:     30,
	}
}

// Rule is one threshold check
type Rule struct {
	Kind     Kind
	Severity Severity
	Matches  func(r telemetry.Reading) bool
	Message  func(r telemetry.Reading) string
}

// Evaluator is a stateless rule set. Safe for concurrent use.
type Evaluator struct {
	rules []Rule
	newID func() string
}

// NewEvaluator builds the rule table for the given thresholds
func NewEvaluator(th Thresholds) *Evaluator {
	return &Evaluator{
		rules: Rules(th),
		newID: uuid.NewString,
	}
}

// Rules returns the rule table in evaluation order
func Rules(th Thresholds) []Rule {
	return []Rule{
		{
			Kind:     KindTemperatureHigh,
			Severity: SeverityWarning,
			Matches:  func(r telemetry.Reading) bool { return r.TemperatureCelsius > th.TemperatureHigh },
			Message: func(r telemetry.Reading) string {
				return "High temperature: " + formatFloat(r.TemperatureCelsius) + "°C"
			},
		},
		{
			Kind:     KindTemperatureLow,
			Severity: SeverityWarning,
			Matches:  func(r telemetry.Reading) bool { return r.TemperatureCelsius < th.TemperatureLow },
			Message: func(r telemetry.Reading) string {
				return "Low temperature: " + formatFloat(r.TemperatureCelsius) + "°C"
			},
		},
		{
			Kind:     KindCO2High,
			Severity: SeverityCritical,
			Matches:  func(r telemetry.Reading) bool { return r.CO2PPM > th.CO2High },
			Message: func(r telemetry.Reading) string {
				return "High CO₂ levels: " + formatInt(r.CO2PPM) + " PPM"
			},
		},
		{
			Kind:     KindHumidityHigh,
			Severity: SeverityInfo,
			Matches:  func(r telemetry.Reading) bool { return r.HumidityPercent > th.HumidityHigh },
			Message: func(r telemetry.Reading) string {
				return "High humidity: " + formatFloat(r.HumidityPercent) + "%"
			},
		},
		{
			Kind:     KindHumidityLow,
			Severity: SeverityInfo,
			Matches:  func(r telemetry.Reading) bool { return r.HumidityPercent < th.HumidityLow },
			Message: func(r telemetry.Reading) string {
				return "Low humidity: " + formatFloat(r.HumidityPercent) + "%"
			},
		},
	}
}

// Evaluate returns the alerts a reading triggers, in rule order, stamped with now.
func (e *Evaluator) Evaluate(r telemetry.Reading, now time.Time) []Alert {
	var alerts []Alert
	for _, rule := range e.rules {
		if !rule.Matches(r) {
			continue
		}
		alerts = append(alerts, Alert{
			ID:        e.newID(),
			Kind:      rule.Kind,
			ZoneID:    r.ZoneID,
			Message:   rule.Message(r),
			Severity:  rule.Severity,
			Timestamp: now,
		})
	}
	return alerts
}
