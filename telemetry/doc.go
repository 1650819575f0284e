// Package telemetry defines the Reading record and its wire format.
//
// A sensor message is a JSON object published on <prefix>/sensors/<zone_id>:
//
//	{
//	  "zone_id": "lobby",
//	  "timestamp": "2024-01-01T00:00:00",
//	  "temperature_celsius": 22.4,
//	  "humidity_percent": 45.0,
//	  "co2_ppm": 612,
//	  "device_id": "hvac_sensor_lobby",
//	  "air_quality": "good",
//	  "hvac_status": "active",
//	  "building_id": "building_001"
//	}
//
// Decode validates the body against a JSON schema before decoding it. A missing
// zone_id or metric, a non-numeric metric, an unparseable timestamp or a body that
// is not JSON all yield an error matching errors.ErrMalformedPayload. Values outside
// physical ranges are accepted.
package telemetry
