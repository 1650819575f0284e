package producer

import "github.com/c360/zonewatch/telemetry"

// AirQuality labels a CO2 concentration
func AirQuality(co2PPM int) string {
	switch {
	case co2PPM < 600:
		return "excellent"
	case co2PPM < 800:
		return "good"
	case co2PPM < 1000:
		return "moderate"
	default:
		return "poor"
	}
}

// HVACStatus labels the plant mode a reading implies
func HVACStatus(tempCelsius float64, co2PPM int) string {
	switch {
	case tempCelsius > 25 || co2PPM > 1000:
		return "cooling_high"
	case tempCelsius < 20:
		return "heating"
	case tempCelsius > 24:
		return "cooling_low"
	default:
		return "auto"
	}
}

// Enrich fills empty passthrough labels
func Enrich(r telemetry.Reading) telemetry.Reading {
	if r.AirQuality == "" {
		r.AirQuality = AirQuality(r.CO2PPM)
	}
	if r.HVACStatus == "" {
		r.HVACStatus = HVACStatus(r.TemperatureCelsius, r.CO2PPM)
	}
	if r.DeviceID == "" {
		r.DeviceID = "hvac-sensor-" + r.ZoneID
	}
	return r
}
