package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/acqstream/metric"
)

// bufferMetrics exports one buffer's statistics. The component const label keeps
// series from concurrently live buffers apart; Close unregisters them.
type bufferMetrics struct {
	registry *metric.MetricsRegistry
	prefix   string

	writes      prometheus.Counter
	reads       prometheus.Counter
	overflows   prometheus.Counter
	size        prometheus.Gauge
	utilization prometheus.Gauge
}

var bufferMetricNames = []string{
	"buffer_writes", "buffer_reads", "buffer_overflows", "buffer_size", "buffer_utilization",
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        name,
			ConstLabels: labels,
			Help:        help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "buffer",
			Name:        name,
			ConstLabels: labels,
			Help:        help,
		})
	}

	m := &bufferMetrics{
		registry:    registry,
		prefix:      prefix,
		writes:      counter("writes_total", "Total number of items written"),
		reads:       counter("reads_total", "Total number of items read"),
		overflows:   counter("overflows_total", "Total number of items lost to overflow"),
		size:        gauge("size", "Current number of items in buffer"),
		utilization: gauge("utilization", "Buffer utilization (0.0 to 1.0)"),
	}

	collectors := []prometheus.Collector{m.writes, m.reads, m.overflows, m.size, m.utilization}
	for i, c := range collectors {
		if err := registry.RegisterCollector(prefix, bufferMetricNames[i], c); err != nil {
			// undo the partial registration
			for _, name := range bufferMetricNames[:i] {
				registry.Unregister(prefix, name)
			}
			return nil, err
		}
	}

	return m, nil
}

func (m *bufferMetrics) recordWrite(n, size, capacity int) {
	m.writes.Add(float64(n))
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordRead(n, size, capacity int) {
	m.reads.Add(float64(n))
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordOverflow() {
	m.overflows.Inc()
}

func (m *bufferMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}

func (m *bufferMetrics) unregister() {
	for _, name := range bufferMetricNames {
		m.registry.Unregister(m.prefix, name)
	}
}
