// Package addresspool implements the bootstrap-side address allocator from
// spec.md §4.8: a bounded [start, end] range of DIF addresses handed out to
// enrolling members, lowest address first. Release returns an address to
// the pool; nothing in the core calls it when a member departs.
package addresspool

import (
	"fmt"
	"sync"
)

// Error mirrors the sentinel-error style used across the other components
// (rib.Error, routing.Error).
type Error struct {
	Kind string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

var ErrExhausted = &Error{Kind: "Exhausted", Msg: "addresspool: no addresses available"}
var ErrOutOfRange = &Error{Kind: "OutOfRange", Msg: "addresspool: address outside pool range"}
var ErrNotAllocated = &Error{Kind: "NotAllocated", Msg: "addresspool: address not currently allocated"}

// Pool allocates addresses from a fixed inclusive range. It is guarded by a
// mutex rather than a channel actor: allocation is a short, always-terminating
// critical section with no blocking I/O, the same carve-out spec.md §5 makes
// for the RIB.
type Pool struct {
	mu        sync.Mutex
	start     uint64
	end       uint64
	allocated map[uint64]bool
}

// New constructs a Pool over the inclusive range [start, end]. Panics if the
// range is empty, which indicates a configuration error caught by
// state.Config.Validate before a Pool is ever built.
func New(start, end uint64) *Pool {
	if end < start {
		panic(fmt.Sprintf("addresspool: invalid range [%d, %d]", start, end))
	}
	return &Pool{
		start:     start,
		end:       end,
		allocated: make(map[uint64]bool),
	}
}

// Allocate returns the lowest unallocated address in range, or ErrExhausted
// if none remain (spec.md §8's "Address exhaustion" scenario).
func (p *Pool) Allocate() (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for candidate := p.start; candidate <= p.end; candidate++ {
		if !p.allocated[candidate] {
			p.allocated[candidate] = true
			return candidate, nil
		}
	}
	return 0, ErrExhausted
}

// Reserve marks addr as allocated, used to seed the pool with the
// bootstrap's own statically configured address so it is never handed out
// to a member (spec.md §4.8).
func (p *Pool) Reserve(addr uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if addr < p.start || addr > p.end {
		return ErrOutOfRange
	}
	p.allocated[addr] = true
	return nil
}

// Release returns addr to the pool, failing with ErrNotAllocated if it was
// not outstanding.
func (p *Pool) Release(addr uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.allocated[addr] {
		return ErrNotAllocated
	}
	delete(p.allocated, addr)
	return nil
}

// InUse reports whether addr is currently allocated.
func (p *Pool) InUse(addr uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated[addr]
}

// Available returns the count of unallocated addresses remaining.
func (p *Pool) Available() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	span := p.end - p.start + 1
	return span - uint64(len(p.allocated))
}
