package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/zonewatch/errors"
)

// payloadSchema describes the wire body of a sensor message.
// Ranges are absent: out-of-range values still update state. Metadata
// fields are not constrained at all.
const payloadSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["zone_id", "timestamp", "temperature_celsius", "humidity_percent", "co2_ppm"],
  "properties": {
    "zone_id":             {"type": "string", "minLength": 1},
    "timestamp":           {"type": "string", "minLength": 1},
    "temperature_celsius": {"type": "number"},
    "humidity_percent":    {"type": "number"},
    "co2_ppm":             {"type": "integer"}
  }
}`

var schema = mustCompileSchema(payloadSchema)

func mustCompileSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("telemetry: compile payload schema: %v", err))
	}
	return s
}

// timestampLayouts are tried in order. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

type wireReading struct {
	ZoneID             string  `json:"zone_id"`
	Timestamp          string  `json:"timestamp"`
	TemperatureCelsius float64 `json:"temperature_celsius"`
	HumidityPercent    float64 `json:"humidity_percent"`
	CO2PPM             float64 `json:"co2_ppm"`

	DeviceID   json.RawMessage `json:"device_id"`
	AirQuality json.RawMessage `json:"air_quality"`
	HVACStatus json.RawMessage `json:"hvac_status"`
	BuildingID json.RawMessage `json:"building_id"`
}

// passthrough renders a metadata value as text. Strings are unquoted, null
// and absent values become empty, anything else keeps its JSON form.
func passthrough(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Decode parses one raw message body into a Reading. Any failure wraps
// errors.ErrMalformedPayload and is classified invalid.
func Decode(payload []byte) (Reading, error) {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		// Not parseable as JSON at all
		return Reading{}, malformed(err, "parse payload")
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return Reading{}, malformed(fmt.Errorf("%s", strings.Join(details, "; ")), "validate payload")
	}

	var wire wireReading
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Reading{}, malformed(err, "decode payload")
	}

	ts, err := ParseTimestamp(wire.Timestamp)
	if err != nil {
		return Reading{}, malformed(err, "parse timestamp")
	}

	if wire.CO2PPM > math.MaxInt32 || wire.CO2PPM < math.MinInt32 {
		return Reading{}, malformed(fmt.Errorf("co2_ppm %v out of integer range", wire.CO2PPM), "decode payload")
	}

	return Reading{
		ZoneID:             wire.ZoneID,
		Timestamp:          ts,
		TemperatureCelsius: wire.TemperatureCelsius,
		HumidityPercent:    wire.HumidityPercent,
		CO2PPM:             int(wire.CO2PPM),
		DeviceID:           passthrough(wire.DeviceID),
		AirQuality:         passthrough(wire.AirQuality),
		HVACStatus:         passthrough(wire.HVACStatus),
		BuildingID:         passthrough(wire.BuildingID),
	}, nil
}

// Encode renders a Reading in the wire format.
func Encode(r Reading) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "telemetry", "Encode", "validate reading")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.WrapInvalid(err, "telemetry", "Encode", "marshal reading")
	}
	return data, nil
}

// ParseTimestamp accepts ISO-8601 timestamps with or without a zone offset.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q is not ISO-8601", s)
}

func malformed(err error, action string) error {
	return errors.WrapInvalid(errors.Join(errors.ErrMalformedPayload, err), "telemetry", "Decode", action)
}
