// Package network allocates TCP ports for sandboxed services, avoiding
// the bind race between "port chosen" and "port bound by the child
// process" as far as a single process can.
package network

import (
	"fmt"
	"net"
	"sync"

	"github.com/cuemby/pactown/pkg/metrics"
	"github.com/cuemby/pactown/pkg/pactownerr"
)

const (
	defaultRangeStart = 10000
	defaultRangeEnd   = 65000
)

// Allocator hands out free TCP ports on the loopback address, preferring
// a caller-supplied port when it is free.
type Allocator struct {
	mu         sync.Mutex
	rangeStart int
	rangeEnd   int
	issued     map[int]bool
}

// NewAllocator creates an Allocator scanning [start, end]. A zero range
// falls back to the default 10000-65000.
func NewAllocator(start, end int) *Allocator {
	if start == 0 || end == 0 || start > end {
		start, end = defaultRangeStart, defaultRangeEnd
	}
	return &Allocator{
		rangeStart: start,
		rangeEnd:   end,
		issued:     make(map[int]bool),
	}
}

// Allocate chooses preferred when it is non-zero, free, and not already
// issued; otherwise it scans the configured range upward for the first
// free port. It fails with pactownerr.NoFreePort if the range is
// exhausted.
func (a *Allocator) Allocate(preferred int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if preferred != 0 && !a.issued[preferred] && a.isFree(preferred) {
		a.issued[preferred] = true
		metrics.AllocatedPortsTotal.Set(float64(len(a.issued)))
		return preferred, nil
	}

	for port := a.rangeStart; port <= a.rangeEnd; port++ {
		if a.issued[port] {
			continue
		}
		if a.isFree(port) {
			a.issued[port] = true
			metrics.AllocatedPortsTotal.Set(float64(len(a.issued)))
			return port, nil
		}
	}

	return 0, pactownerr.NoFreePort(fmt.Sprintf("%d-%d", a.rangeStart, a.rangeEnd))
}

// Release returns a previously issued port to the pool. It is pure
// bookkeeping: the OS, not this map, is the real authority on whether the
// port is actually free again.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.issued, port)
	metrics.AllocatedPortsTotal.Set(float64(len(a.issued)))
}

// isFree reports whether a bind-and-immediately-release probe succeeds on
// the loopback address. Errors other than "address in use" (permission
// denied, family unavailable) are treated as "not usable" and the caller
// moves on to the next candidate.
func (a *Allocator) isFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
