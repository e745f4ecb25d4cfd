package session

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/c360/acqstream/errors"
)

// Default local port range handed to the server as data connection targets.
const (
	DefaultPortMin = 16214
	DefaultPortMax = 18000
)

// ErrPoolExhausted is returned when every port in the pool is reserved.
var ErrPoolExhausted = stderrors.New("port pool exhausted")

// PortPool hands out local data ports. A port stays reserved until Release,
// so no two live streams share one. Safe for concurrent use and may be shared
// between sessions.
type PortPool struct {
	mu       sync.Mutex
	min      int
	max      int
	next     int
	reserved map[int]struct{}
}

// NewPortPool creates a pool over [min, max] inclusive.
func NewPortPool(min, max int) (*PortPool, error) {
	if min <= 0 || max > 65535 || min > max {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "PortPool", "NewPortPool",
			fmt.Sprintf("bad port range %d..%d", min, max))
	}
	return &PortPool{
		min:      min,
		max:      max,
		next:     min,
		reserved: make(map[int]struct{}),
	}, nil
}

// DefaultPortPool covers DefaultPortMin..DefaultPortMax.
func DefaultPortPool() *PortPool {
	p, _ := NewPortPool(DefaultPortMin, DefaultPortMax)
	return p
}

// Acquire reserves the next free port after the cursor, wrapping at the top
// of the range.
func (p *PortPool) Acquire() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	size := p.max - p.min + 1
	for i := 0; i < size; i++ {
		port := p.next
		p.next++
		if p.next > p.max {
			p.next = p.min
		}
		if _, taken := p.reserved[port]; !taken {
			p.reserved[port] = struct{}{}
			return port, nil
		}
	}
	return 0, errors.WrapTransient(ErrPoolExhausted, "PortPool", "Acquire",
		fmt.Sprintf("all %d ports reserved", size))
}

// Release returns port to the pool. Unknown ports are ignored.
func (p *PortPool) Release(port int) {
	p.mu.Lock()
	delete(p.reserved, port)
	p.mu.Unlock()
}

// Reserved returns the number of ports currently held.
func (p *PortPool) Reserved() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reserved)
}

// IsReserved reports whether port is currently held.
func (p *PortPool) IsReserved(port int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.reserved[port]
	return ok
}

// Contains reports whether port lies inside the pool range.
func (p *PortPool) Contains(port int) bool {
	return port >= p.min && port <= p.max
}

// Range returns the inclusive bounds.
func (p *PortPool) Range() (int, int) {
	return p.min, p.max
}
