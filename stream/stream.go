package stream

import (
	"bufio"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/acqstream/control"
	"github.com/c360/acqstream/errors"
	"github.com/c360/acqstream/metric"
	"github.com/c360/acqstream/pkg/buffer"
)

// DefaultBufferCapacity is the number of samples retained per channel.
const DefaultBufferCapacity = 1 << 20

const (
	sampleSize    = 8
	maxPending    = 4096
	wakeupTimeout = 500 * time.Millisecond
)

// State is the lifecycle state of a ChannelStream.
type State int32

const (
	Idle State = iota
	Listening
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = Idle
	case "listening":
		*s = Listening
	case "active":
		*s = Active
	default:
		return fmt.Errorf("unknown stream state %q", text)
	}
	return nil
}

var instanceSeq atomic.Uint64

// Option configures a ChannelStream.
type Option func(*ChannelStream)

// WithBufferCapacity sets the ring size in samples.
func WithBufferCapacity(n int) Option {
	return func(s *ChannelStream) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithBindHost restricts the listener to one local address. Default is all interfaces.
func WithBindHost(host string) Option {
	return func(s *ChannelStream) {
		s.bindHost = host
	}
}

// WithLogger replaces the default component logger. A nil logger is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(s *ChannelStream) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics exports per-stream buffer metrics and feeds the core stream counters.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *ChannelStream) {
		s.registry = registry
	}
}

// ChannelStream receives one channel's samples over a TCP data connection
// opened by the server and keeps them in a bounded ring.
type ChannelStream struct {
	key      control.ChannelKey
	capacity int
	bindHost string
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics

	buf buffer.Buffer[float64]

	mu       sync.Mutex
	listener net.Listener
	port     int
	serving  bool
	closed   bool
	conns    map[net.Conn]struct{}

	stopping atomic.Bool
	state    atomic.Int32
	wg       sync.WaitGroup
}

// New creates an idle stream for key.
func New(key control.ChannelKey, opts ...Option) (*ChannelStream, error) {
	s := &ChannelStream{
		key:      key,
		capacity: DefaultBufferCapacity,
		conns:    make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default().With("component", "stream", "channel", key.String())
	}

	bufOpts := []buffer.Option[float64]{
		buffer.WithOverflowPolicy[float64](buffer.DropOldest),
	}
	if s.registry != nil {
		s.metrics = s.registry.CoreMetrics()
		label := fmt.Sprintf("%s#%d", key, instanceSeq.Add(1))
		bufOpts = append(bufOpts, buffer.WithMetrics[float64](s.registry, label))
	}

	buf, err := buffer.NewCircularBuffer[float64](s.capacity, bufOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "ChannelStream", "New", "create sample buffer")
	}
	s.buf = buf
	return s, nil
}

// Key returns the channel this stream carries.
func (s *ChannelStream) Key() control.ChannelKey { return s.key }

// Listen binds the data listener without accepting connections. Port 0 picks
// a free port.
func (s *ChannelStream) Listen(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.WrapInvalid(errors.ErrShuttingDown, "ChannelStream", "Listen", "stream closed")
	}
	if s.listener != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "ChannelStream", "Listen",
			fmt.Sprintf("already listening on %d", s.port))
	}

	l, err := net.Listen("tcp", net.JoinHostPort(s.bindHost, strconv.Itoa(port)))
	if err != nil {
		return &errors.TransportError{Port: port, Op: "listen", Err: err}
	}

	s.listener = l
	s.port = l.Addr().(*net.TCPAddr).Port
	s.stopping.Store(false)
	s.state.Store(int32(Listening))
	s.logger.Debug("listening for data connection", "port", s.port)
	return nil
}

// Serve starts accepting data connections on the bound listener.
func (s *ChannelStream) Serve() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "ChannelStream", "Serve", "listener not bound")
	}
	if s.serving {
		return nil
	}
	s.serving = true
	s.wg.Add(1)
	go s.acceptLoop(s.listener)
	return nil
}

// Start stops any running listener, then listens on port and serves.
func (s *ChannelStream) Start(port int) error {
	s.Stop()
	if err := s.Listen(port); err != nil {
		return err
	}
	return s.Serve()
}

// Stop closes the listener and every data connection and waits for all
// goroutines. No sample is appended after Stop returns. Safe when idle.
func (s *ChannelStream) Stop() {
	s.mu.Lock()
	l := s.listener
	if l == nil {
		s.mu.Unlock()
		return
	}
	s.stopping.Store(true)
	port, serving := s.port, s.serving
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if serving {
		// wake Accept with a throwaway local connection
		if c, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), wakeupTimeout); err == nil {
			_ = c.Close()
		}
	}
	_ = l.Close()
	for _, c := range conns {
		_ = c.Close()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.listener = nil
	s.serving = false
	clear(s.conns)
	s.state.Store(int32(Idle))
	s.mu.Unlock()
	s.logger.Debug("stream stopped", "port", port)
}

// Close stops the stream and releases its buffer. The stream cannot be restarted.
func (s *ChannelStream) Close() error {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.buf.Close()
}

func (s *ChannelStream) acceptLoop(l net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.stopping.Load() || stderrors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", &errors.TransportError{Port: s.Port(), Op: "accept", Err: err})
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s.mu.Lock()
		if s.stopping.Load() {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.state.Store(int32(Active))
		s.wg.Add(1)
		s.mu.Unlock()

		s.metrics.RecordConnection(s.key.String())
		s.logger.Info("data connection accepted", "remote", conn.RemoteAddr().String())
		go s.receive(conn)
	}
}

// receive decodes big-endian IEEE-754 doubles until the connection ends.
func (s *ChannelStream) receive(conn net.Conn) {
	defer s.wg.Done()
	defer s.dropConn(conn)

	r := bufio.NewReaderSize(conn, 64*1024)
	var frame [sampleSize]byte
	pending := make([]float64, 0, maxPending)

	for {
		if _, err := io.ReadFull(r, frame[:]); err != nil {
			s.flush(pending)
			s.logReceiveEnd(err)
			return
		}
		pending = append(pending, math.Float64frombits(binary.BigEndian.Uint64(frame[:])))

		// hand samples over whenever the next read would block
		if r.Buffered() < sampleSize || len(pending) == maxPending {
			s.flush(pending)
			pending = pending[:0]
		}
	}
}

func (s *ChannelStream) flush(samples []float64) {
	if len(samples) == 0 {
		return
	}
	if err := s.buf.WriteBatch(samples); err != nil {
		s.logger.Debug("dropping samples", "count", len(samples), "error", err)
		return
	}
	s.metrics.RecordSamplesReceived(s.key.String(), len(samples))
}

func (s *ChannelStream) logReceiveEnd(err error) {
	switch {
	case err == io.EOF:
		s.logger.Info("data connection closed by server")
	case stderrors.Is(err, io.ErrUnexpectedEOF):
		s.logger.Warn("data connection closed mid-sample, partial sample discarded")
	case s.stopping.Load():
	default:
		terr := &errors.TransportError{Port: s.Port(), Op: "receive", Err: err}
		s.metrics.RecordError("stream", errors.Classify(terr).String())
		s.logger.Error("data connection failed", "error", terr)
	}
}

func (s *ChannelStream) dropConn(conn net.Conn) {
	_ = conn.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
	if len(s.conns) == 0 && s.listener != nil && !s.stopping.Load() {
		s.state.Store(int32(Listening))
	}
}

// Port returns the bound port, or the last bound port once stopped.
func (s *ChannelStream) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// State returns the current lifecycle state.
func (s *ChannelStream) State() State {
	return State(s.state.Load())
}

// IsActive reports whether the stream is listening or connected.
func (s *ChannelStream) IsActive() bool {
	return s.State() != Idle
}

// BufferedCount returns the number of samples waiting to be read.
func (s *ChannelStream) BufferedCount() int {
	return s.buf.Size()
}

// ReadBatch removes exactly n of the oldest samples, or returns an
// InsufficientDataError and removes nothing.
func (s *ChannelStream) ReadBatch(n int) ([]float64, error) {
	return s.buf.ReadExact(n)
}

// Stats returns buffer statistics.
func (s *ChannelStream) Stats() buffer.StatsSummary {
	return s.buf.Stats().Summary()
}
