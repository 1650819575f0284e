// Package zonewatch ingests HVAC zone telemetry from a message broker,
// evaluates alert rules against every reading and serves the live building
// state to dashboards.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│        Connection Manager           │  broker: MQTT or NATS session,
//	│  (connect, retry, cooldown, ping)   │  backoff and liveness checks
//	└─────────────────────────────────────┘
//	           ↓ raw (topic, payload)
//	┌─────────────────────────────────────┐
//	│        Ingestion Pipeline           │  engine: decode, zone store,
//	│   (single writer, bounded inbox)    │  alert rules, stats
//	└─────────────────────────────────────┘
//	           ↓ new_alert, sensor_update
//	┌─────────────────────────────────────┐
//	│           Broadcast Hub             │  hub: non-blocking fan-out
//	│  (filtered, per-subscriber queues)  │  to websocket clients
//	└─────────────────────────────────────┘
//
// The producer side runs the same Connection Manager in the producer role
// and publishes readings on <prefix>/sensors/<zone>.
//
// # Binaries
//
//   - cmd/zonewatch: the consumer. Subscribes to every configured zone,
//     serves /api/data, /api/zones, /api/history/{zone}, /health and the
//     /ws event stream, and exposes Prometheus metrics.
//   - cmd/zonepub: the producer. Replays JSON-lines readings from a file or
//     stdin onto the broker.
//
// # Packages
//
//   - telemetry: Reading, the wire codec and topic naming
//   - alert: threshold rules and the bounded alert log
//   - zone: per-zone latest reading and rolling history
//   - engine: the ingestion pipeline and its read-only queries
//   - hub: event fan-out and snapshots for late joiners
//   - broker: connection state machine and transports
//   - producer: publish loop with forced-reconnect escalation
//   - api: HTTP routes and the websocket stream
//   - config, errors, metric, health: ambient infrastructure
//   - pkg/buffer, pkg/retry, pkg/security, pkg/tlsutil: reusable helpers
//
// # Wire Format
//
// One JSON object per message:
//
//	{
//	  "zone_id": "lobby",
//	  "timestamp": "2024-01-01T12:00:00Z",
//	  "temperature_celsius": 22.5,
//	  "humidity_percent": 45.0,
//	  "co2_ppm": 650
//	}
//
// Extra fields such as device_id, air_quality, hvac_status and building_id
// are carried through untouched.
package zonewatch
