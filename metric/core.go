package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the acquisition-wide metrics shared by every component.
type Metrics struct {
	// Service
	ServiceStatus     *prometheus.GaugeVec
	ErrorsTotal       *prometheus.CounterVec
	HealthCheckStatus *prometheus.GaugeVec

	// Control RPC
	RPCCalls    *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec

	// Session
	Activations        *prometheus.CounterVec
	AcquisitionToggles prometheus.Counter
	ChannelsActive     prometheus.Gauge

	// Streams
	StreamConnections *prometheus.CounterVec
	SamplesReceived   *prometheus.CounterVec
	SamplesDrained    *prometheus.CounterVec
	BatchesDrained    *prometheus.CounterVec

	// Discovery
	DiscoveryReplies *prometheus.CounterVec

	// Sinks
	SinkPublished *prometheus.CounterVec
	SinkErrors    *prometheus.CounterVec

	// NATS
	NATSConnected      prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates the core metric set. Registration happens in NewMetricsRegistry.
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "service", Name: "status",
			Help: "Service status (0=stopped, 1=starting, 2=running, 3=stopping)",
		}, []string{"service"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "errors_total",
			Help: "Total number of errors by component and class",
		}, []string{"component", "class"}),
		HealthCheckStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "health", Name: "status",
			Help: "Component health (1=healthy, 0=unhealthy)",
		}, []string{"component"}),

		RPCCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "control", Name: "calls_total",
			Help: "Remote control calls by method and outcome",
		}, []string{"method", "status"}),
		RPCDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace, Subsystem: "control", Name: "call_duration_seconds",
			Help:    "Remote control call latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method"}),

		Activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "session", Name: "activations_total",
			Help: "Channel activations by result",
		}, []string{"result"}),
		AcquisitionToggles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "session", Name: "toggles_total",
			Help: "Acquisition toggles issued to the server",
		}),
		ChannelsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "session", Name: "channels",
			Help: "Channels currently registered",
		}),

		StreamConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "stream", Name: "connections_total",
			Help: "Data connections accepted per channel",
		}, []string{"channel"}),
		SamplesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "stream", Name: "samples_received_total",
			Help: "Samples decoded from data connections",
		}, []string{"channel"}),
		SamplesDrained: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "session", Name: "samples_drained_total",
			Help: "Samples handed to the consumer",
		}, []string{"channel"}),
		BatchesDrained: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "session", Name: "batches_drained_total",
			Help: "Batches handed to the consumer",
		}, []string{"channel"}),

		DiscoveryReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "discovery", Name: "replies_total",
			Help: "Discovery replies by outcome (accepted, malformed, foreign)",
		}, []string{"result"}),

		SinkPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "sink", Name: "published_total",
			Help: "Batches delivered per sink",
		}, []string{"sink"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "sink", Name: "errors_total",
			Help: "Failed batch deliveries per sink",
		}, []string{"sink"}),

		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "nats", Name: "connected",
			Help: "NATS connection status (1=connected, 0=disconnected)",
		}),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "nats", Name: "reconnects_total",
			Help: "Total number of NATS reconnections",
		}),
		NATSCircuitBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "nats", Name: "circuit_breaker",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ServiceStatus, c.ErrorsTotal, c.HealthCheckStatus,
		c.RPCCalls, c.RPCDuration,
		c.Activations, c.AcquisitionToggles, c.ChannelsActive,
		c.StreamConnections, c.SamplesReceived, c.SamplesDrained, c.BatchesDrained,
		c.DiscoveryReplies,
		c.SinkPublished, c.SinkErrors,
		c.NATSConnected, c.NATSReconnects, c.NATSCircuitBreaker,
	}
}

// The Record helpers are nil-safe so components can run without a registry.

func (c *Metrics) RecordServiceStatus(service string, status int) {
	if c == nil {
		return
	}
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

func (c *Metrics) RecordError(component, class string) {
	if c == nil {
		return
	}
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	if c == nil {
		return
	}
	c.HealthCheckStatus.WithLabelValues(component).Set(boolToFloat(healthy))
}

// RecordRPC counts one control call and observes its latency.
func (c *Metrics) RecordRPC(method string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.RPCCalls.WithLabelValues(method, status).Inc()
	c.RPCDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (c *Metrics) RecordActivation(ok bool) {
	if c == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.Activations.WithLabelValues(result).Inc()
}

func (c *Metrics) RecordToggle() {
	if c == nil {
		return
	}
	c.AcquisitionToggles.Inc()
}

func (c *Metrics) SetChannelsActive(n int) {
	if c == nil {
		return
	}
	c.ChannelsActive.Set(float64(n))
}

func (c *Metrics) RecordConnection(channel string) {
	if c == nil {
		return
	}
	c.StreamConnections.WithLabelValues(channel).Inc()
}

func (c *Metrics) RecordSamplesReceived(channel string, n int) {
	if c == nil {
		return
	}
	c.SamplesReceived.WithLabelValues(channel).Add(float64(n))
}

// RecordBatchDrained counts one drained batch of n samples.
func (c *Metrics) RecordBatchDrained(channel string, n int) {
	if c == nil {
		return
	}
	c.BatchesDrained.WithLabelValues(channel).Inc()
	c.SamplesDrained.WithLabelValues(channel).Add(float64(n))
}

func (c *Metrics) RecordDiscoveryReply(result string) {
	if c == nil {
		return
	}
	c.DiscoveryReplies.WithLabelValues(result).Inc()
}

func (c *Metrics) RecordSinkPublish(sink string, err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.SinkErrors.WithLabelValues(sink).Inc()
		return
	}
	c.SinkPublished.WithLabelValues(sink).Inc()
}

func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	c.NATSConnected.Set(boolToFloat(connected))
}

func (c *Metrics) RecordNATSReconnect() {
	if c == nil {
		return
	}
	c.NATSReconnects.Inc()
}

func (c *Metrics) RecordCircuitBreakerState(state int) {
	if c == nil {
		return
	}
	c.NATSCircuitBreaker.Set(float64(state))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
