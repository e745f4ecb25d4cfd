// Package buffer provides generic, thread-safe ring buffers with overflow policies.
//
// The circular buffer backs every channel stream: a producer goroutine appends
// decoded samples while a consumer drains fixed-size batches. All operations
// hold one mutex, so a batch read never observes a half-finished append and a
// writer never observes a buffer mid-removal.
//
// Statistics are always collected. Prometheus metrics are optional via
// WithMetrics() and are unregistered again by Close().
//
// Typical use by a channel stream:
//
//	buf, err := buffer.NewCircularBuffer[float64](1<<20,
//	    buffer.WithOverflowPolicy[float64](buffer.DropOldest),
//	    buffer.WithMetrics[float64](registry, "analog_0_16214"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer buf.Close()
//
//	_ = buf.WriteBatch(decoded)
//
//	batch, err := buf.ReadExact(256)
//	if errors.Is(err, errors.ErrInsufficientData) {
//	    // wait for more samples
//	}
//
// ReadExact is all-or-nothing: a short buffer returns an InsufficientDataError
// and keeps its contents.
package buffer
