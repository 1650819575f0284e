// Package metric provides Prometheus metrics for zonewatch and the HTTP server
// that exposes them.
//
// NewMetricsRegistry creates a private Prometheus registry holding the core
// metrics (ingestion results, alerts, zones reporting, broker state and hub
// delivery) plus the Go runtime and process collectors. Components receive the
// *Metrics value and call its Record* helpers; a nil *Metrics records nothing,
// which keeps tests free of registry plumbing.
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//	go server.Start()
//	defer server.Stop(ctx)
//
//	registry.CoreMetrics().RecordMessage(metric.ResultAccepted)
//
// Components that own extra collectors (for example the alert log ring buffer)
// register them through the MetricsRegistrar interface. Registering the same
// component/metric pair twice fails with an invalid-class error.
package metric
