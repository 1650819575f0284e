// Package buffer provides Ring, a generic fixed-capacity buffer that keeps the
// most recent items in arrival order and evicts the oldest item on overflow.
//
// Ring backs the per-zone reading history and the alert log. Both need the same
// contract: bounded memory, FIFO eviction and a consistent copy for readers.
//
//	history := buffer.MustRing[telemetry.HistoryPoint](50)
//	history.Write(point)
//	points := history.Items() // oldest first, never nil
//
// Prometheus metrics and an eviction callback are opt-in:
//
//	log, err := buffer.NewRing[alert.Alert](20,
//	    buffer.WithMetrics[alert.Alert](registry, "alert_log"),
//	    buffer.WithDropCallback[alert.Alert](func(a alert.Alert) { ... }),
//	)
//
// The drop callback runs after the buffer lock is released, so it may safely
// call back into the buffer.
package buffer
