package stream

import (
	"encoding/binary"
	"math"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/acqstream/control"
	"github.com/c360/acqstream/errors"
	"github.com/c360/acqstream/metric"
)

var analog0 = control.ChannelKey{Class: control.Analog, Index: 0}

func newTestStream(t *testing.T, opts ...Option) *ChannelStream {
	t.Helper()
	s, err := New(analog0, append([]Option{WithBindHost("127.0.0.1")}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func encode(values ...float64) []byte {
	out := make([]byte, 0, 8*len(values))
	for _, v := range values {
		out = binary.BigEndian.AppendUint64(out, math.Float64bits(v))
	}
	return out
}

func dial(t *testing.T, s *ChannelStream) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port())))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitBuffered(t *testing.T, s *ChannelStream, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.BufferedCount() == n },
		2*time.Second, 5*time.Millisecond, "want %d buffered, have %d", n, s.BufferedCount())
}

func TestChannelStream_ReceivesBigEndianDoubles(t *testing.T) {
	s := newTestStream(t)
	require.NoError(t, s.Start(0))
	assert.Equal(t, Listening, s.State())
	assert.True(t, s.IsActive())
	assert.NotZero(t, s.Port())

	conn := dial(t, s)
	_, err := conn.Write(encode(1.5, -2.25, math.Pi))
	require.NoError(t, err)
	waitBuffered(t, s, 3)
	assert.Equal(t, Active, s.State())

	batch, err := s.ReadBatch(2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, -2.25}, batch)
	assert.Equal(t, 1, s.BufferedCount())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return s.State() == Listening }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.IsActive())
}

func TestChannelStream_SamplesSplitAcrossWrites(t *testing.T) {
	s := newTestStream(t)
	require.NoError(t, s.Start(0))
	conn := dial(t, s)

	data := encode(10, 20)
	_, err := conn.Write(data[:5])
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, s.BufferedCount())

	_, err = conn.Write(data[5:])
	require.NoError(t, err)
	waitBuffered(t, s, 2)

	batch, err := s.ReadBatch(2)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20}, batch)
}

func TestChannelStream_PartialTrailingSampleDiscarded(t *testing.T) {
	s := newTestStream(t)
	require.NoError(t, s.Start(0))
	conn := dial(t, s)

	data := append(encode(1, 2, 3), 0x40, 0x09, 0x21)
	_, err := conn.Write(data)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	waitBuffered(t, s, 3)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, s.BufferedCount())
}

func TestChannelStream_ReadBatchInsufficient(t *testing.T) {
	s := newTestStream(t)
	require.NoError(t, s.Start(0))
	conn := dial(t, s)
	_, err := conn.Write(encode(1, 2))
	require.NoError(t, err)
	waitBuffered(t, s, 2)

	_, err = s.ReadBatch(3)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInsufficientData)
	assert.Equal(t, 2, s.BufferedCount())
}

func TestChannelStream_RingDropsOldest(t *testing.T) {
	s := newTestStream(t, WithBufferCapacity(4))
	require.NoError(t, s.Start(0))
	conn := dial(t, s)

	_, err := conn.Write(encode(0, 1, 2, 3, 4, 5, 6, 7, 8, 9))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return s.Stats().Writes == 10 }, 2*time.Second, 5*time.Millisecond)
	batch, err := s.ReadBatch(4)
	require.NoError(t, err)
	assert.Equal(t, []float64{6, 7, 8, 9}, batch)
	assert.Equal(t, int64(6), s.Stats().Drops)
}

func TestChannelStream_StopWhileConnected(t *testing.T) {
	s := newTestStream(t)
	require.NoError(t, s.Start(0))
	port := s.Port()
	conn := dial(t, s)

	_, err := conn.Write(encode(1, 2))
	require.NoError(t, err)
	waitBuffered(t, s, 2)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}

	assert.Equal(t, Idle, s.State())
	assert.False(t, s.IsActive())
	assert.Equal(t, port, s.Port())

	// no appends after Stop
	_, _ = conn.Write(encode(3, 4, 5))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, s.BufferedCount())

	// port is free again and the buffer survives a restart
	require.NoError(t, s.Start(port))
	assert.Equal(t, port, s.Port())
	assert.Equal(t, 2, s.BufferedCount())
}

func TestChannelStream_StopIdempotent(t *testing.T) {
	s := newTestStream(t)

	assert.NotPanics(t, func() {
		s.Stop()
		s.Stop()
	})

	require.NoError(t, s.Listen(0))
	// listening without serving still stops cleanly
	s.Stop()
	s.Stop()
	assert.Equal(t, Idle, s.State())
}

func TestChannelStream_ListenThenServe(t *testing.T) {
	s := newTestStream(t)
	require.NoError(t, s.Listen(0))
	assert.Equal(t, Listening, s.State())

	// the kernel queues the connection until Serve accepts it
	conn := dial(t, s)
	_, err := conn.Write(encode(42))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, s.BufferedCount())

	require.NoError(t, s.Serve())
	require.NoError(t, s.Serve())
	waitBuffered(t, s, 1)
}

func TestChannelStream_ListenErrors(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()
	port := occupied.Addr().(*net.TCPAddr).Port

	s := newTestStream(t)
	err = s.Listen(port)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTransport)

	var te *errors.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, port, te.Port)
	assert.Equal(t, Idle, s.State())

	assert.Error(t, s.Serve())

	require.NoError(t, s.Listen(0))
	assert.ErrorIs(t, s.Listen(0), errors.ErrAlreadyStarted)
}

func TestChannelStream_ClosedCannotRestart(t *testing.T) {
	s, err := New(analog0, WithBindHost("127.0.0.1"))
	require.NoError(t, err)
	require.NoError(t, s.Start(0))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Error(t, s.Listen(0))
}

func TestChannelStream_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	s := newTestStream(t, WithMetrics(registry))
	require.NoError(t, s.Start(0))

	conn := dial(t, s)
	_, err := conn.Write(encode(1, 2, 3))
	require.NoError(t, err)
	waitBuffered(t, s, 3)

	core := registry.CoreMetrics()
	assert.Equal(t, 3.0, testutil.ToFloat64(core.SamplesReceived.WithLabelValues("analog:0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.StreamConnections.WithLabelValues("analog:0")))

	// two streams for the same channel can coexist during a replace
	other, err := New(analog0, WithMetrics(registry))
	require.NoError(t, err)
	require.NoError(t, other.Close())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "listening", Listening.String())
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "unknown", State(7).String())
}
