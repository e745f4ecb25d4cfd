package buffer

import (
	"sync"

	"github.com/c360/acqstream/errors"
)

// circularBuffer is a fixed-capacity ring. head is the next write slot, tail the next read slot.
type circularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int
	tail     int
	stats    *Statistics
	metrics  *bufferMetrics
	opts     *bufferOptions[T]
	closed   bool
}

var _ Buffer[float64] = (*circularBuffer[float64])(nil)

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newCircularBuffer", "metrics registration")
		}
	}

	return &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}, nil
}

// Write adds an item to the buffer according to the overflow policy.
func (cb *circularBuffer[T]) Write(item T) error {
	cb.mu.Lock()
	if cb.closed {
		cb.mu.Unlock()
		return errors.WrapInvalid(errors.ErrShuttingDown, "buffer", "Write", "buffer closed")
	}
	dropped, lost := cb.push(item)
	cb.afterWrite(1)
	cb.mu.Unlock()

	if lost && cb.opts.dropCallback != nil {
		cb.opts.dropCallback(dropped)
	}
	return nil
}

// WriteBatch appends items in order under one lock so readers never see a partial batch.
func (cb *circularBuffer[T]) WriteBatch(items []T) error {
	if len(items) == 0 {
		return nil
	}

	cb.mu.Lock()
	if cb.closed {
		cb.mu.Unlock()
		return errors.WrapInvalid(errors.ErrShuttingDown, "buffer", "WriteBatch", "buffer closed")
	}

	var droppedItems []T
	for _, item := range items {
		if dropped, lost := cb.push(item); lost && cb.opts.dropCallback != nil {
			droppedItems = append(droppedItems, dropped)
		}
	}
	cb.afterWrite(len(items))
	cb.mu.Unlock()

	for _, item := range droppedItems {
		cb.opts.dropCallback(item)
	}
	return nil
}

// push stores one item and reports which item, if any, the overflow policy discarded.
// Caller holds cb.mu.
func (cb *circularBuffer[T]) push(item T) (T, bool) {
	var dropped T
	lost := false

	if cb.size == cb.capacity {
		cb.stats.Overflow()
		cb.stats.Drop()
		if cb.metrics != nil {
			cb.metrics.recordOverflow()
		}

		if cb.opts.overflowPolicy == DropNewest {
			return item, true
		}

		var zero T
		dropped = cb.items[cb.tail]
		cb.items[cb.tail] = zero
		cb.tail = (cb.tail + 1) % cb.capacity
		cb.size--
		lost = true
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++
	return dropped, lost
}

func (cb *circularBuffer[T]) afterWrite(n int) {
	cb.stats.Write(int64(n))
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordWrite(n, cb.size, cb.capacity)
	}
}

// pop removes n items from the tail. Caller holds cb.mu and guarantees n <= size.
func (cb *circularBuffer[T]) pop(n int) []T {
	result := make([]T, n)

	// at most two contiguous segments
	first := n
	if cb.tail+first > cb.capacity {
		first = cb.capacity - cb.tail
	}
	copy(result, cb.items[cb.tail:cb.tail+first])
	clear(cb.items[cb.tail : cb.tail+first])
	if rest := n - first; rest > 0 {
		copy(result[first:], cb.items[:rest])
		clear(cb.items[:rest])
	}

	cb.tail = (cb.tail + n) % cb.capacity
	cb.size -= n

	cb.stats.Read(int64(n))
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordRead(n, cb.size, cb.capacity)
	}
	return result
}

// Read retrieves and removes one item from the buffer.
func (cb *circularBuffer[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		var zero T
		return zero, false
	}
	return cb.pop(1)[0], true
}

// ReadBatch retrieves and removes up to max items from the buffer.
func (cb *circularBuffer[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		return nil
	}
	return cb.pop(min(max, cb.size))
}

// ReadExact removes exactly n items or leaves the buffer untouched.
func (cb *circularBuffer[T]) ReadExact(n int) ([]T, error) {
	if n <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "buffer", "ReadExact", "batch size must be positive")
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size < n {
		return nil, &errors.InsufficientDataError{Requested: n, Available: cb.size}
	}
	return cb.pop(n), nil
}

// Peek retrieves one item without removing it from the buffer.
func (cb *circularBuffer[T]) Peek() (T, bool) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.size == 0 {
		var zero T
		return zero, false
	}
	return cb.items[cb.tail], true
}

func (cb *circularBuffer[T]) Size() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size
}

// Capacity is immutable.
func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity
}

func (cb *circularBuffer[T]) IsFull() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == cb.capacity
}

func (cb *circularBuffer[T]) IsEmpty() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == 0
}

// Clear removes all items from the buffer.
func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()

	var dropped []T
	if cb.opts.dropCallback != nil && cb.size > 0 {
		dropped = make([]T, 0, cb.size)
		for i := 0; i < cb.size; i++ {
			dropped = append(dropped, cb.items[(cb.tail+i)%cb.capacity])
		}
	}

	clear(cb.items)
	cb.head = 0
	cb.tail = 0
	cb.size = 0

	cb.stats.UpdateSize(0)
	if cb.metrics != nil {
		cb.metrics.updateSize(0, cb.capacity)
	}
	cb.mu.Unlock()

	for _, item := range dropped {
		cb.opts.dropCallback(item)
	}
}

func (cb *circularBuffer[T]) Stats() *Statistics {
	return cb.stats
}

// Close is idempotent.
func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return nil
	}
	cb.closed = true

	if cb.metrics != nil {
		cb.metrics.unregister()
		cb.metrics = nil
	}
	return nil
}
