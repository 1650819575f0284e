// Package health tracks component health for zonewatch.
//
// A Status is healthy, degraded or unhealthy. Components expose a CheckFunc and
// the Monitor polls them on demand, so the /health endpoint always reflects the
// current broker connection and pipeline state:
//
//	monitor := health.NewMonitor()
//	monitor.Register("broker", manager.Health)
//	monitor.Register("pipeline", pipeline.Health)
//
//	status := monitor.AggregateHealth("zonewatch")
//
// Aggregation is worst-wins: any unhealthy sub-status makes the aggregate
// unhealthy; otherwise any degraded sub-status makes it degraded.
//
// FromError redacts endpoints, file paths, addresses and credentials from error
// text, since broker errors routinely carry certificate paths and host names.
package health
