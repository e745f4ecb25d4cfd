package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/c360/acqstream/control"
	"github.com/c360/acqstream/errors"
	"github.com/c360/acqstream/health"
	"github.com/c360/acqstream/metric"
	"github.com/c360/acqstream/output"
	"github.com/c360/acqstream/session"
	"github.com/c360/acqstream/stream"
)

const (
	DefaultDrainInterval   = 50 * time.Millisecond
	DefaultDeliveryTimeout = 2 * time.Second

	// maxTemplateSize bounds LoadTemplate payloads.
	maxTemplateSize = 16 << 20
)

// AcquisitionConfig configures the acquisition service.
type AcquisitionConfig struct {
	// Channels are activated on Start, in order ("analog:0", "digital:3").
	Channels []string `json:"channels" yaml:"channels"`
	// DrainInterval is the period of the drain loop.
	DrainInterval time.Duration `json:"drain_interval" yaml:"drain_interval"`
	// TemplatePath names a graph template sent to the server before any
	// channel is activated.
	TemplatePath string `json:"template_path" yaml:"template_path"`
	// DataConnectionTimeout is pushed to the server when positive.
	DataConnectionTimeout time.Duration `json:"data_connection_timeout" yaml:"data_connection_timeout"`
	// StopAcquisitionOnExit stops acquisition on the server in Stop.
	StopAcquisitionOnExit bool          `json:"stop_acquisition_on_exit" yaml:"stop_acquisition_on_exit"`
	DeliveryTimeout       time.Duration `json:"delivery_timeout" yaml:"delivery_timeout"`
}

// Validate checks the channel list and durations.
func (c AcquisitionConfig) Validate() error {
	for _, ch := range c.Channels {
		if _, err := control.ParseChannelKey(ch); err != nil {
			return errors.WrapInvalid(err, "AcquisitionConfig", "Validate", "parse channel "+ch)
		}
	}
	if c.DrainInterval < 0 || c.DeliveryTimeout < 0 || c.DataConnectionTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "AcquisitionConfig", "Validate",
			"durations must not be negative")
	}
	return nil
}

// AcquisitionDeps are the collaborators of the acquisition service.
type AcquisitionDeps struct {
	Client   control.Client
	Session  *session.Session
	Sinks    []output.Sink
	Logger   *slog.Logger
	Registry *metric.MetricsRegistry
}

// Acquisition owns one session. It activates the configured channels,
// drains them periodically and hands every batch to the sinks.
type Acquisition struct {
	*BaseService

	cfg     AcquisitionConfig
	client  control.Client
	session *session.Session
	sinks   []output.Sink
	logger  *slog.Logger
	metrics *metric.Metrics

	mu         sync.RWMutex
	failed     map[string]string // channel -> activation error
	sinkErrors map[string]int64
}

// NewAcquisition creates a stopped acquisition service.
func NewAcquisition(cfg AcquisitionConfig, deps AcquisitionDeps) (*Acquisition, error) {
	if deps.Client == nil || deps.Session == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Acquisition", "New",
			"control client and session required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DrainInterval == 0 {
		cfg.DrainInterval = DefaultDrainInterval
	}
	if cfg.DeliveryTimeout == 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "acquisition")
	}

	a := &Acquisition{
		cfg:        cfg,
		client:     deps.Client,
		session:    deps.Session,
		sinks:      deps.Sinks,
		logger:     logger,
		failed:     make(map[string]string),
		sinkErrors: make(map[string]int64),
	}
	if deps.Registry != nil {
		a.metrics = deps.Registry.CoreMetrics()
	}
	a.BaseService = NewBaseService("acquisition",
		WithLogger(logger),
		WithMetrics(deps.Registry),
		WithHealthCheck(a.check),
		WithHealthInterval(10*time.Second),
	)
	return a, nil
}

// Session returns the owned session.
func (a *Acquisition) Session() *session.Session {
	return a.session
}

// Start prepares the server and starts the drain loop. Channels that fail to
// activate are logged and reported by Health; they do not fail Start.
func (a *Acquisition) Start(ctx context.Context) error {
	if a.Status() == StatusRunning {
		return nil
	}

	if a.cfg.TemplatePath != "" {
		if err := a.loadTemplate(ctx); err != nil {
			return err
		}
	}

	if a.cfg.DataConnectionTimeout > 0 {
		seconds := int(a.cfg.DataConnectionTimeout.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		if err := a.client.SetDataConnectionTimeout(ctx, seconds); err != nil {
			return errors.Wrap(err, "Acquisition", "Start", "set data connection timeout")
		}
	}

	for _, ch := range a.cfg.Channels {
		key, _ := control.ParseChannelKey(ch) // validated in NewAcquisition
		if err := a.session.Activate(ctx, key); err != nil {
			a.logger.Warn("channel activation failed", "channel", ch, "error", err)
			a.mu.Lock()
			a.failed[key.String()] = err.Error()
			a.mu.Unlock()
			continue
		}
		a.mu.Lock()
		delete(a.failed, key.String())
		a.mu.Unlock()
	}

	if err := a.BaseService.Start(ctx); err != nil {
		return err
	}
	a.Go(a.drainLoop)

	a.logger.Info("acquisition started",
		"session", a.session.ID(),
		"channels", len(a.session.Channels()),
		"sinks", len(a.sinks),
		"interval", a.cfg.DrainInterval)
	return nil
}

func (a *Acquisition) loadTemplate(ctx context.Context) error {
	info, err := os.Stat(a.cfg.TemplatePath)
	if err != nil {
		return errors.WrapInvalid(err, "Acquisition", "loadTemplate", "stat template")
	}
	if info.Size() > maxTemplateSize {
		return errors.WrapInvalid(fmt.Errorf("template is %d bytes", info.Size()),
			"Acquisition", "loadTemplate", "check template size")
	}
	data, err := os.ReadFile(a.cfg.TemplatePath)
	if err != nil {
		return errors.WrapInvalid(err, "Acquisition", "loadTemplate", "read template")
	}
	if err := a.client.LoadTemplate(ctx, data); err != nil {
		return errors.Wrap(err, "Acquisition", "loadTemplate", "send template")
	}
	a.logger.Info("template loaded", "path", a.cfg.TemplatePath, "bytes", len(data))
	return nil
}

func (a *Acquisition) drainLoop(done <-chan struct{}) {
	ticker := time.NewTicker(a.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			a.DrainOnce()
		}
	}
}

// DrainOnce drains every channel and delivers the result to all sinks.
// It returns the number of batches drained.
func (a *Acquisition) DrainOnce() int {
	events := a.session.DrainAll()
	if len(events) == 0 {
		return 0
	}

	batches := make([]output.Batch, len(events))
	for i, ev := range events {
		batches[i] = output.NewBatch(a.session.ID(), ev)
	}

	for _, sink := range a.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.DeliveryTimeout)
		err := sink.Deliver(ctx, batches)
		cancel()
		if err != nil {
			a.logger.Warn("sink delivery failed", "sink", sink.Name(), "batches", len(batches), "error", err)
			a.metrics.RecordError(sink.Name(), errors.Classify(err).String())
			a.mu.Lock()
			a.sinkErrors[sink.Name()]++
			a.mu.Unlock()
		}
	}

	a.RecordActivity(len(batches))
	return len(batches)
}

// SinkErrors returns delivery failures per sink.
func (a *Acquisition) SinkErrors() map[string]int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]int64, len(a.sinkErrors))
	for k, v := range a.sinkErrors {
		out[k] = v
	}
	return out
}

// FailedChannels returns configured channels whose activation failed, with
// the error text.
func (a *Acquisition) FailedChannels() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]string, len(a.failed))
	for k, v := range a.failed {
		out[k] = v
	}
	return out
}

// Stop ends the drain loop, delivers what is left, optionally stops
// acquisition on the server, shuts the session down and closes the sinks.
func (a *Acquisition) Stop(timeout time.Duration) error {
	if s := a.Status(); s == StatusStopped || s == StatusStopping {
		return nil
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	var errs []error
	if err := a.BaseService.Stop(timeout); err != nil {
		errs = append(errs, err)
	}
	a.DrainOnce()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.cfg.StopAcquisitionOnExit {
		if err := a.session.SetAcquiring(ctx, false); err != nil {
			a.logger.Warn("stop acquisition failed", "error", err)
			errs = append(errs, err)
		}
	}
	a.session.Shutdown()

	for _, sink := range a.sinks {
		if err := sink.Close(ctx); err != nil {
			a.logger.Warn("sink close failed", "sink", sink.Name(), "error", err)
			errs = append(errs, err)
		}
	}

	a.logger.Info("acquisition stopped", "batches", a.GetStatus().BatchesProcessed)
	if len(errs) > 0 {
		return errors.Wrap(stderrors.Join(errs...), "Acquisition", "Stop", "shutdown")
	}
	return nil
}

// check backs the periodic health poll: failing when no channel is
// registered although some were configured.
func (a *Acquisition) check() error {
	if len(a.cfg.Channels) > 0 && len(a.session.Channels()) == 0 {
		return fmt.Errorf("none of %d configured channels active", len(a.cfg.Channels))
	}
	return nil
}

// Health combines lifecycle, channel and sink states.
func (a *Acquisition) Health() health.Status {
	base := a.BaseService.Health()
	if !base.IsHealthy() {
		return base
	}

	channels := a.session.Channels()
	subs := make([]health.Status, 0, len(channels)+len(a.sinks))
	var buffered int64
	for _, ch := range channels {
		buffered += int64(ch.Buffered)
		name := ch.Key.String()
		switch ch.State {
		case stream.Active:
			subs = append(subs, health.NewHealthy(name, fmt.Sprintf("connected on port %d", ch.Port)))
		case stream.Listening:
			subs = append(subs, health.NewDegraded(name, fmt.Sprintf("waiting for server on port %d", ch.Port)))
		default:
			subs = append(subs, health.NewUnhealthy(name, "stream stopped"))
		}
	}

	for name, msg := range a.FailedChannels() {
		subs = append(subs, health.NewUnhealthy(name, "activation failed: "+msg))
	}

	for _, sink := range a.sinks {
		if c, ok := sink.(health.Checker); ok {
			subs = append(subs, c.Health())
		}
	}

	a.mu.RLock()
	var sinkErrs int64
	for _, n := range a.sinkErrors {
		sinkErrs += n
	}
	a.mu.RUnlock()

	info := a.GetStatus()
	status := health.Aggregate(a.Name(), subs)
	if len(subs) == 0 {
		status = health.NewDegraded(a.Name(), "no channels registered")
	}
	return status.WithMetrics(&health.Metrics{
		Uptime:          info.Uptime,
		ErrorCount:      int(sinkErrs),
		Channels:        len(channels),
		BufferedSamples: buffered,
		LastActivity:    info.LastActivity,
	})
}

var (
	_ Service        = (*Acquisition)(nil)
	_ health.Checker = (*Acquisition)(nil)
)
