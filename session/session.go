package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/acqstream/control"
	"github.com/c360/acqstream/errors"
	"github.com/c360/acqstream/metric"
	"github.com/c360/acqstream/pkg/retry"
	"github.com/c360/acqstream/stream"
)

// DefaultBatchSize is the number of samples per drained event.
const DefaultBatchSize = 1

// firstArmToggles is the number of toggles issued by the first successful
// activation of a session. The server's acquisition state is not trusted
// until then.
const firstArmToggles = 3

// Controller is the part of control.Client the session drives.
type Controller interface {
	IsChannelEnabled(ctx context.Context, key control.ChannelKey) (bool, error)
	SetDataConnectionMethod(ctx context.Context, method control.ConnectionMethod) error
	SetTransportType(ctx context.Context, transport control.TransportType) error
	DisableAllDataDelivery(ctx context.Context) error
	SetMostRecentSampleEnabled(ctx context.Context, key control.ChannelKey, enabled bool) error
	SetDeliveryEnabled(ctx context.Context, key control.ChannelKey, enabled bool) error
	SetConnectionPort(ctx context.Context, key control.ChannelKey, port int) error
	SetBinaryEncoding(ctx context.Context, key control.ChannelKey, enc control.Encoding) error
	IsAcquisitionInProgress(ctx context.Context) (bool, error)
	ToggleAcquisition(ctx context.Context) error
}

var _ Controller = (control.Client)(nil)

// Config holds session tuning.
type Config struct {
	BatchSize      int    `json:"batch_size" yaml:"batch_size"`
	BufferCapacity int    `json:"buffer_capacity" yaml:"buffer_capacity"`
	BindHost       string `json:"bind_host" yaml:"bind_host"`
}

// Deps are the collaborators of a Session. Client is required; a nil Pool
// gets a private DefaultPortPool.
type Deps struct {
	Client   Controller
	Pool     *PortPool
	Logger   *slog.Logger
	Registry *metric.MetricsRegistry
}

// Event is one drained batch of a channel.
type Event struct {
	Key       control.ChannelKey `json:"channel"`
	Samples   []float64          `json:"samples"`
	Timestamp time.Time          `json:"timestamp"`
}

// ChannelInfo describes a registered channel.
type ChannelInfo struct {
	Key      control.ChannelKey `json:"channel"`
	Port     int                `json:"port"`
	State    stream.State       `json:"state"`
	Buffered int                `json:"buffered"`
}

// Session maps channels to streams on an acquisition server and keeps the
// server's delivery configuration in step with that mapping.
type Session struct {
	id       string
	client   Controller
	pool     *PortPool
	cfg      Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics

	batchSize atomic.Int64

	// opMu serializes the operations that reconfigure the server.
	opMu         sync.Mutex
	firstArmDone bool
	closed       bool

	mu      sync.RWMutex
	streams map[control.ChannelKey]*stream.ChannelStream
	order   []control.ChannelKey
}

// New creates an empty session.
func New(cfg Config, deps Deps) (*Session, error) {
	if deps.Client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Session", "New", "control client required")
	}
	pool := deps.Pool
	if pool == nil {
		pool = DefaultPortPool()
	}

	id := uuid.New().String()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "session")
	}

	s := &Session{
		id:       id,
		client:   deps.Client,
		pool:     pool,
		cfg:      cfg,
		logger:   logger.With("session", id),
		registry: deps.Registry,
		streams:  make(map[control.ChannelKey]*stream.ChannelStream),
	}
	if deps.Registry != nil {
		s.metrics = deps.Registry.CoreMetrics()
	}
	s.SetBatchSize(cfg.BatchSize)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Activate starts streaming key. An existing stream for key is replaced by a
// fresh one on a new port. On failure the mapping is as it was before the
// call and a replaced stream is restarted on its original port.
func (s *Session) Activate(ctx context.Context, key control.ChannelKey) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.closed {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Session", "Activate", "session shut down")
	}
	if !key.Class.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidData, "Session", "Activate", "unknown channel class "+string(key.Class))
	}

	enabled, err := s.client.IsChannelEnabled(ctx, key)
	if err != nil {
		s.metrics.RecordActivation(false)
		return errors.Wrap(err, "Session", "Activate", "check channel "+key.String())
	}
	if !enabled {
		s.metrics.RecordActivation(false)
		return &errors.ChannelUnavailableError{Channel: key.String()}
	}

	old := s.lookup(key)
	oldPort := 0
	if old != nil {
		oldPort = old.Port()
		old.Stop()
	}

	fresh, port, err := s.bindStream(ctx, key)
	if err != nil {
		s.restore(old, oldPort)
		s.metrics.RecordActivation(false)
		return err
	}

	if err := s.configureServer(ctx, key, port); err != nil {
		s.discard(fresh, port)
		s.restore(old, oldPort)
		s.metrics.RecordActivation(false)
		return err
	}

	if err := fresh.Serve(); err != nil {
		s.discard(fresh, port)
		s.restore(old, oldPort)
		s.metrics.RecordActivation(false)
		return errors.Wrap(err, "Session", "Activate", "serve stream")
	}

	if err := s.arm(ctx); err != nil {
		s.discard(fresh, port)
		s.restore(old, oldPort)
		s.metrics.RecordActivation(false)
		return err
	}

	s.mu.Lock()
	if old == nil {
		s.order = append(s.order, key)
	}
	s.streams[key] = fresh
	count := len(s.streams)
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
		s.pool.Release(oldPort)
	}

	s.metrics.RecordActivation(true)
	s.metrics.SetChannelsActive(count)
	s.logger.Info("channel activated", "channel", key.String(), "port", port, "replaced", old != nil)
	return nil
}

func (s *Session) lookup(key control.ChannelKey) *stream.ChannelStream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streams[key]
}

// bindStream creates a stream for key and binds it to the next free pool
// port. A port that fails to bind is released and the next one is tried.
func (s *Session) bindStream(ctx context.Context, key control.ChannelKey) (*stream.ChannelStream, int, error) {
	opts := []stream.Option{
		stream.WithBufferCapacity(s.cfg.BufferCapacity),
		stream.WithBindHost(s.cfg.BindHost),
		stream.WithLogger(s.logger.With("channel", key.String())),
	}
	if s.registry != nil {
		opts = append(opts, stream.WithMetrics(s.registry))
	}

	fresh, err := stream.New(key, opts...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "Session", "bindStream", "create stream")
	}

	cfg := retry.Bind()
	cfg.OnRetry = func(attempt int, err error) {
		s.logger.Debug("data port bind failed, trying next", "attempt", attempt, "error", err)
	}

	var port int
	err = retry.Do(ctx, cfg, func() error {
		p, err := s.pool.Acquire()
		if err != nil {
			return retry.NonRetryable(err)
		}
		if err := fresh.Listen(p); err != nil {
			s.pool.Release(p)
			return err
		}
		port = p
		return nil
	})
	if err != nil {
		_ = fresh.Close()
		return nil, 0, errors.Wrap(err, "Session", "bindStream", "bind data port for "+key.String())
	}
	return fresh, port, nil
}

type portAssignment struct {
	key  control.ChannelKey
	port int
}

// configureServer rewrites the server's delivery setup for every registered
// channel, in insertion order, followed by key on port.
func (s *Session) configureServer(ctx context.Context, key control.ChannelKey, port int) error {
	s.mu.RLock()
	plan := make([]portAssignment, 0, len(s.order)+1)
	for _, k := range s.order {
		if k == key {
			continue
		}
		plan = append(plan, portAssignment{key: k, port: s.streams[k].Port()})
	}
	s.mu.RUnlock()
	plan = append(plan, portAssignment{key: key, port: port})

	if err := s.client.SetDataConnectionMethod(ctx, control.MultipleConnections); err != nil {
		return errors.Wrap(err, "Session", "configureServer", "set connection method")
	}
	if err := s.client.SetTransportType(ctx, control.TCP); err != nil {
		return errors.Wrap(err, "Session", "configureServer", "set transport")
	}
	if err := s.client.DisableAllDataDelivery(ctx); err != nil {
		return errors.Wrap(err, "Session", "configureServer", "disable delivery")
	}

	for _, a := range plan {
		if err := s.client.SetMostRecentSampleEnabled(ctx, a.key, true); err != nil {
			return errors.Wrap(err, "Session", "configureServer", "enable most recent for "+a.key.String())
		}
		if err := s.client.SetDeliveryEnabled(ctx, a.key, true); err != nil {
			return errors.Wrap(err, "Session", "configureServer", "enable delivery for "+a.key.String())
		}
		if err := s.client.SetConnectionPort(ctx, a.key, a.port); err != nil {
			return errors.Wrap(err, "Session", "configureServer", "set port for "+a.key.String())
		}
		if err := s.client.SetBinaryEncoding(ctx, a.key, control.DefaultEncoding); err != nil {
			return errors.Wrap(err, "Session", "configureServer", "set encoding for "+a.key.String())
		}
	}
	return nil
}

// arm makes sure acquisition is running after a reconfiguration. Caller holds opMu.
func (s *Session) arm(ctx context.Context) error {
	if !s.firstArmDone {
		for i := 0; i < firstArmToggles; i++ {
			if err := s.toggle(ctx); err != nil {
				return errors.Wrap(err, "Session", "arm", "initial toggle")
			}
		}
		s.firstArmDone = true
		return nil
	}

	running, err := s.client.IsAcquisitionInProgress(ctx)
	if err != nil {
		return errors.Wrap(err, "Session", "arm", "query acquisition")
	}
	if running {
		return nil
	}
	if err := s.toggle(ctx); err != nil {
		return errors.Wrap(err, "Session", "arm", "start acquisition")
	}
	return nil
}

func (s *Session) toggle(ctx context.Context) error {
	if err := s.client.ToggleAcquisition(ctx); err != nil {
		return err
	}
	s.metrics.RecordToggle()
	return nil
}

func (s *Session) discard(st *stream.ChannelStream, port int) {
	_ = st.Close()
	s.pool.Release(port)
}

// restore restarts a replaced stream on its original port. If that fails the
// stopped stream stays mapped and its port stays reserved.
func (s *Session) restore(old *stream.ChannelStream, port int) {
	if old == nil {
		return
	}
	if err := old.Start(port); err != nil {
		s.logger.Warn("failed to restore replaced stream",
			"channel", old.Key().String(), "port", port, "error", err)
	}
}

// Deactivate stops and forgets key's stream and frees its port. The server is
// not reconfigured and acquisition keeps running. Reports whether key was
// registered.
func (s *Session) Deactivate(key control.ChannelKey) bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	st, ok := s.streams[key]
	if ok {
		delete(s.streams, key)
		for i, k := range s.order {
			if k == key {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	count := len(s.streams)
	s.mu.Unlock()

	if !ok {
		return false
	}

	port := st.Port()
	_ = st.Close()
	s.pool.Release(port)

	s.metrics.SetChannelsActive(count)
	s.logger.Info("channel deactivated", "channel", key.String(), "port", port)
	return true
}

// SetBatchSize sets the drain batch size. Values below 1 become 1.
func (s *Session) SetBatchSize(n int) {
	if n < 1 {
		n = 1
	}
	s.batchSize.Store(int64(n))
}

// BatchSize returns the drain batch size.
func (s *Session) BatchSize() int {
	return int(s.batchSize.Load())
}

// DrainAll removes every complete batch buffered on every channel, channels
// in insertion order and batches oldest first. It never blocks on I/O.
func (s *Session) DrainAll() []Event {
	n := s.BatchSize()

	s.mu.RLock()
	streams := make([]*stream.ChannelStream, 0, len(s.order))
	for _, k := range s.order {
		streams = append(streams, s.streams[k])
	}
	s.mu.RUnlock()

	var events []Event
	for _, st := range streams {
		key := st.Key().String()
		for st.BufferedCount() >= n {
			samples, err := st.ReadBatch(n)
			if err != nil {
				break
			}
			events = append(events, Event{Key: st.Key(), Samples: samples, Timestamp: time.Now()})
			s.metrics.RecordBatchDrained(key, n)
		}
	}
	return events
}

// SetAcquiring starts or stops acquisition, toggling only when the server's
// state differs from on.
func (s *Session) SetAcquiring(ctx context.Context, on bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	running, err := s.client.IsAcquisitionInProgress(ctx)
	if err != nil {
		return errors.Wrap(err, "Session", "SetAcquiring", "query acquisition")
	}
	if running == on {
		return nil
	}
	if err := s.toggle(ctx); err != nil {
		return errors.Wrap(err, "Session", "SetAcquiring", "toggle acquisition")
	}
	s.logger.Info("acquisition toggled", "running", on)
	return nil
}

// IsAcquiring reports whether the server is acquiring.
func (s *Session) IsAcquiring(ctx context.Context) (bool, error) {
	running, err := s.client.IsAcquisitionInProgress(ctx)
	if err != nil {
		return false, errors.Wrap(err, "Session", "IsAcquiring", "query acquisition")
	}
	return running, nil
}

// Channels lists registered channels in insertion order.
func (s *Session) Channels() []ChannelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ChannelInfo, 0, len(s.order))
	for _, k := range s.order {
		st := s.streams[k]
		out = append(out, ChannelInfo{
			Key:      k,
			Port:     st.Port(),
			State:    st.State(),
			Buffered: st.BufferedCount(),
		})
	}
	return out
}

// Stats returns buffer statistics for key.
func (s *Session) Stats(key control.ChannelKey) (ChannelStats, bool) {
	st := s.lookup(key)
	if st == nil {
		return ChannelStats{}, false
	}
	sum := st.Stats()
	return ChannelStats{
		Received:  sum.Writes,
		Drained:   sum.Reads,
		Dropped:   sum.Drops,
		Buffered:  sum.CurrentSize,
		HighWater: sum.MaxSize,
		DropRate:  sum.DropRate,
	}, true
}

// ChannelStats summarizes one channel's buffer.
type ChannelStats struct {
	Received  int64   `json:"received"`
	Drained   int64   `json:"drained"`
	Dropped   int64   `json:"dropped"`
	Buffered  int64   `json:"buffered"`
	HighWater int64   `json:"high_water"`
	DropRate  float64 `json:"drop_rate"`
}

// Shutdown closes every stream and frees their ports. Acquisition on the
// server is left as is. Later Activate calls fail.
func (s *Session) Shutdown() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	s.mu.Lock()
	streams := s.streams
	s.streams = make(map[control.ChannelKey]*stream.ChannelStream)
	s.order = nil
	s.mu.Unlock()

	for _, st := range streams {
		port := st.Port()
		_ = st.Close()
		s.pool.Release(port)
	}
	s.metrics.SetChannelsActive(0)
	s.logger.Info("session shut down", "channels", len(streams))
}
