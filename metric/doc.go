// Package metric provides the Prometheus registry shared by acqstream components.
//
// MetricsRegistry wraps a private prometheus.Registry. It pre-registers the
// acquisition core metrics (Metrics) plus Go runtime collectors and lets
// components add their own collectors keyed by "service.metric":
//
//	registry := metric.NewMetricsRegistry()
//	core := registry.CoreMetrics()
//	core.RecordRPC("acq.toggleAcquisition", nil, 3*time.Millisecond)
//
//	_ = registry.RegisterCollector("analog_0_16214", "buffer_size", gauge)
//	defer registry.Unregister("analog_0_16214", "buffer_size")
//
// Duplicate keys are rejected with an invalid-class error. Collectors whose
// lifetime is shorter than the process, such as per-stream buffer metrics,
// must Unregister when they go away so a replacement can register again.
//
// The Record helpers on *Metrics are nil-safe: components built without a
// registry pass a nil *Metrics and every call is a no-op.
//
// Handler() exposes the registry in Prometheus/OpenMetrics format.
package metric
