// Package health reports component health for the acquisition daemon.
//
// A Status is "healthy", "degraded" or "unhealthy". Aggregate folds child
// statuses: any unhealthy child makes the parent unhealthy, otherwise any
// degraded child makes it degraded.
//
// Monitor stores the latest status per component. Components implementing
// Checker are registered once and polled by Refresh, which the HTTP gateway
// calls before serving /health:
//
//	monitor := health.NewMonitor(registry.CoreMetrics())
//	monitor.Register("acquisition", svc)
//	monitor.Refresh()
//	status := monitor.AggregateHealth("acqstream")
//
// Every Update also sets the acqstream_health_status gauge when the monitor
// was built with metrics.
package health
