package buffer

// Buffer represents a generic FIFO buffer parameterized by item type T.
type Buffer[T any] interface {
	// Write appends one item. When full, the overflow policy decides which item is lost.
	Write(item T) error

	// WriteBatch appends items in order under a single lock acquisition.
	WriteBatch(items []T) error

	// Read removes and returns the oldest item.
	Read() (T, bool)

	// ReadBatch removes and returns up to max of the oldest items.
	ReadBatch(max int) []T

	// ReadExact removes and returns exactly n of the oldest items, or nothing.
	// It fails with an InsufficientDataError when fewer than n items are buffered.
	ReadExact(n int) ([]T, error)

	// Peek returns the oldest item without removing it.
	Peek() (T, bool)

	Size() int
	Capacity() int
	IsFull() bool
	IsEmpty() bool

	// Clear removes all items, invoking the drop callback for each.
	Clear()

	// Stats returns buffer statistics.
	Stats() *Statistics

	// Close rejects further writes and unregisters metrics. Buffered items stay readable.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest discards incoming items while the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called, outside the buffer lock, for each item lost to overflow or Clear.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a circular buffer with the given capacity.
// Returns an error if metrics registration fails when metrics are requested.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
