package buffer

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/c360/acqstream/errors"
	"github.com/c360/acqstream/metric"
)

func newTestBuffer(t *testing.T, capacity int, opts ...Option[float64]) Buffer[float64] {
	t.Helper()
	buf, err := NewCircularBuffer[float64](capacity, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = buf.Close() })
	return buf
}

func TestCircularBuffer_InitialState(t *testing.T) {
	buf := newTestBuffer(t, 5)

	assert.Equal(t, 0, buf.Size())
	assert.Equal(t, 5, buf.Capacity())
	assert.True(t, buf.IsEmpty())
	assert.False(t, buf.IsFull())

	_, ok := buf.Read()
	assert.False(t, ok)
	_, ok = buf.Peek()
	assert.False(t, ok)
	assert.Nil(t, buf.ReadBatch(3))
}

func TestCircularBuffer_MinimumCapacity(t *testing.T) {
	buf := newTestBuffer(t, 0)
	assert.Equal(t, 1, buf.Capacity())
}

func TestCircularBuffer_FIFO(t *testing.T) {
	buf := newTestBuffer(t, 4)

	require.NoError(t, buf.Write(1.5))
	require.NoError(t, buf.WriteBatch([]float64{2.5, 3.5}))

	v, ok := buf.Peek()
	require.True(t, ok)
	assert.Equal(t, 1.5, v)
	assert.Equal(t, 3, buf.Size())

	v, ok = buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1.5, v)
	assert.Equal(t, []float64{2.5, 3.5}, buf.ReadBatch(10))
	assert.True(t, buf.IsEmpty())
}

func TestCircularBuffer_DropOldest(t *testing.T) {
	var dropped []float64
	buf := newTestBuffer(t, 3, WithDropCallback[float64](func(v float64) {
		dropped = append(dropped, v)
	}))

	require.NoError(t, buf.WriteBatch([]float64{1, 2, 3, 4, 5}))

	assert.True(t, buf.IsFull())
	assert.Equal(t, []float64{1, 2}, dropped)
	assert.Equal(t, []float64{3, 4, 5}, buf.ReadBatch(3))
	assert.Equal(t, int64(2), buf.Stats().Drops())
	assert.Equal(t, int64(2), buf.Stats().Overflows())
}

func TestCircularBuffer_DropNewest(t *testing.T) {
	var dropped []float64
	buf := newTestBuffer(t, 2,
		WithOverflowPolicy[float64](DropNewest),
		WithDropCallback[float64](func(v float64) { dropped = append(dropped, v) }),
	)

	for _, v := range []float64{1, 2, 3} {
		require.NoError(t, buf.Write(v))
	}

	assert.Equal(t, []float64{3}, dropped)
	assert.Equal(t, []float64{1, 2}, buf.ReadBatch(2))
}

func TestCircularBuffer_ReadExact(t *testing.T) {
	buf := newTestBuffer(t, 8)
	require.NoError(t, buf.WriteBatch([]float64{1, 2, 3}))

	_, err := buf.ReadExact(5)
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrInsufficientData)

	var ide *cerrors.InsufficientDataError
	require.ErrorAs(t, err, &ide)
	assert.Equal(t, 5, ide.Requested)
	assert.Equal(t, 3, ide.Available)

	// failed read leaves contents untouched
	assert.Equal(t, 3, buf.Size())

	got, err := buf.ReadExact(2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, got)
	assert.Equal(t, 1, buf.Size())

	_, err = buf.ReadExact(0)
	assert.True(t, cerrors.IsInvalid(err))
}

func TestCircularBuffer_ReadExactAcrossWrap(t *testing.T) {
	buf := newTestBuffer(t, 4)

	require.NoError(t, buf.WriteBatch([]float64{1, 2, 3}))
	_, err := buf.ReadExact(2)
	require.NoError(t, err)
	require.NoError(t, buf.WriteBatch([]float64{4, 5, 6}))

	got, err := buf.ReadExact(4)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4, 5, 6}, got)
	assert.True(t, buf.IsEmpty())
}

func TestCircularBuffer_Clear(t *testing.T) {
	var dropped int
	buf := newTestBuffer(t, 4, WithDropCallback[float64](func(float64) { dropped++ }))
	require.NoError(t, buf.WriteBatch([]float64{1, 2, 3}))

	buf.Clear()

	assert.True(t, buf.IsEmpty())
	assert.Equal(t, 3, dropped)
	require.NoError(t, buf.Write(9))
	v, _ := buf.Read()
	assert.Equal(t, 9.0, v)
}

func TestCircularBuffer_CloseRejectsWrites(t *testing.T) {
	buf, err := NewCircularBuffer[float64](4)
	require.NoError(t, err)
	require.NoError(t, buf.Write(1))

	require.NoError(t, buf.Close())
	require.NoError(t, buf.Close())

	err = buf.Write(2)
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrShuttingDown)
	assert.Error(t, buf.WriteBatch([]float64{3}))

	// buffered items survive Close
	v, ok := buf.Read()
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestCircularBuffer_Statistics(t *testing.T) {
	buf := newTestBuffer(t, 4)
	require.NoError(t, buf.WriteBatch([]float64{1, 2, 3}))
	_ = buf.ReadBatch(2)

	s := buf.Stats().Summary()
	assert.Equal(t, int64(3), s.Writes)
	assert.Equal(t, int64(2), s.Reads)
	assert.Equal(t, int64(1), s.CurrentSize)
	assert.Equal(t, int64(3), s.MaxSize)
	assert.Zero(t, s.DropRate)

	buf.Stats().Reset()
	assert.Zero(t, buf.Stats().Writes())
	assert.Zero(t, buf.Stats().MaxSize())
}

func TestCircularBuffer_MetricsLifecycle(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	buf, err := NewCircularBuffer[float64](4, WithMetrics[float64](registry, "analog_0_16214"))
	require.NoError(t, err)

	// same component label cannot be registered twice while live
	_, err = NewCircularBuffer[float64](4, WithMetrics[float64](registry, "analog_0_16214"))
	require.Error(t, err)

	require.NoError(t, buf.WriteBatch([]float64{1, 2}))
	cb := buf.(*circularBuffer[float64])
	assert.Equal(t, 2.0, testutil.ToFloat64(cb.metrics.writes))
	assert.Equal(t, 0.5, testutil.ToFloat64(cb.metrics.utilization))

	require.NoError(t, buf.Close())

	// Close frees the label for a replacement stream
	again, err := NewCircularBuffer[float64](4, WithMetrics[float64](registry, "analog_0_16214"))
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestCircularBuffer_ConcurrentProducerConsumer(t *testing.T) {
	const total = 10000
	buf := newTestBuffer(t, total)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i += 100 {
			batch := make([]float64, 100)
			for j := range batch {
				batch[j] = float64(i + j)
			}
			_ = buf.WriteBatch(batch)
		}
	}()

	var got []float64
	for len(got) < total {
		if batch, err := buf.ReadExact(50); err == nil {
			got = append(got, batch...)
		}
	}
	wg.Wait()

	for i, v := range got {
		require.Equal(t, float64(i), v)
	}
}

func TestOverflowPolicy_String(t *testing.T) {
	assert.Equal(t, "DropOldest", DropOldest.String())
	assert.Equal(t, "DropNewest", DropNewest.String())
	assert.Equal(t, "Unknown", OverflowPolicy(9).String())
}
