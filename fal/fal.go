// Package fal implements the InterIpcpFlowAllocator from spec.md §4.4: it
// encapsulates per-neighbour N-1 flow state between the RMT and the Shim,
// the sole owner of InterIpcpFlow (the RMT holds only a shared handle).
package fal

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/arinet/corina/pdu"
	"github.com/arinet/corina/routing"
	"github.com/arinet/corina/shim"
)

// State is the InterIpcpFlow lifecycle from spec.md §3.
type State uint8

const (
	StateActive State = iota
	StateStale
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "Active"
	case StateStale:
		return "Stale"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Error mirrors the sentinel-error style used across the other components.
type Error struct {
	Kind string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

var ErrNoRoute = &Error{Kind: "NoRoute", Msg: "fal: no route to remote address"}

// Flow is an InterIpcpFlow (spec.md §3): per-neighbour N-1 flow state,
// exclusively owned by the Allocator.
type Flow struct {
	RemoteAddr   uint64
	Endpoint     netip.AddrPort
	State        State
	LastActivity time.Time
	SentPdus     uint64
	ReceivedPdus uint64
	SendErrors   uint64
}

// Stats is the read-only snapshot returned by Allocator.Stats.
type Stats struct {
	RemoteAddr   uint64
	State        State
	LastActivity time.Time
	SentPdus     uint64
	ReceivedPdus uint64
	SendErrors   uint64
}

// Allocator owns every InterIpcpFlow. It is guarded by a mutex rather than
// a channel actor: every operation is a short, non-blocking critical
// section once the Shim call (itself non-blocking for UDP) returns, the
// same carve-out spec.md §5 allows for the RIB and AddressPool.
type Allocator struct {
	mu    sync.Mutex
	flows map[uint64]*Flow

	shim     shim.Shim
	resolver *routing.Resolver
	now      func() time.Time
}

func New(s shim.Shim, r *routing.Resolver) *Allocator {
	return &Allocator{
		flows:    make(map[uint64]*Flow),
		shim:     s,
		resolver: r,
		now:      time.Now,
	}
}

// GetOrCreateFlow resolves remoteAddr's next hop and ensures a Flow exists
// for it, registering the peer with the Shim on first creation (spec.md
// §4.4).
func (a *Allocator) GetOrCreateFlow(remoteAddr uint64) (*Flow, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.flows[remoteAddr]; ok {
		return f, nil
	}

	route, err := a.resolver.ResolveNextHop(remoteAddr)
	if err != nil {
		return nil, ErrNoRoute
	}
	endpoint, err := netip.ParseAddrPort(route.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("fal: malformed route endpoint %q: %w", route.Endpoint, err)
	}

	a.shim.RegisterPeer(remoteAddr, endpoint)
	f := &Flow{RemoteAddr: remoteAddr, Endpoint: endpoint, State: StateActive, LastActivity: a.now()}
	a.flows[remoteAddr] = f
	return f, nil
}

// SendPdu sends p to remoteAddr, creating the flow if needed.
func (a *Allocator) SendPdu(remoteAddr uint64, p pdu.Pdu) error {
	f, err := a.GetOrCreateFlow(remoteAddr)
	if err != nil {
		return err
	}

	if err := a.shim.SendPdu(p); err != nil {
		a.mu.Lock()
		f.SendErrors++
		f.State = StateFailed
		a.mu.Unlock()
		return fmt.Errorf("fal: send to %d: %w", remoteAddr, err)
	}

	a.mu.Lock()
	f.SentPdus++
	f.LastActivity = a.now()
	if f.State == StateFailed || f.State == StateStale {
		f.State = StateActive // lazy healing, spec.md §3
	}
	a.mu.Unlock()
	return nil
}

// RecordReceivedFrom auto-discovers a flow for remoteAddr on first
// inbound PDU and rebinds the endpoint if it changed (NAT/DHCP churn,
// spec.md §4.4).
func (a *Allocator) RecordReceivedFrom(remoteAddr uint64, endpoint netip.AddrPort) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.flows[remoteAddr]
	if !ok {
		f = &Flow{RemoteAddr: remoteAddr, Endpoint: endpoint, State: StateActive, ReceivedPdus: 1, LastActivity: a.now()}
		a.flows[remoteAddr] = f
		a.shim.RegisterPeer(remoteAddr, endpoint)
		return
	}
	f.ReceivedPdus++
	f.LastActivity = a.now()
	if f.State == StateFailed || f.State == StateStale {
		f.State = StateActive
	}
	if f.Endpoint != endpoint {
		f.Endpoint = endpoint
		a.shim.UpdatePeer(remoteAddr, endpoint)
	}
}

// UpdatePeerEndpoint explicitly rebinds a flow's underlay endpoint.
func (a *Allocator) UpdatePeerEndpoint(remoteAddr uint64, newEndpoint netip.AddrPort) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.flows[remoteAddr]; ok {
		f.Endpoint = newEndpoint
	}
	a.shim.UpdatePeer(remoteAddr, newEndpoint)
}

func (a *Allocator) CloseFlow(remoteAddr uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.flows, remoteAddr)
}

// CleanupStale transitions every flow whose last activity exceeds timeout
// from Active to Stale (spec.md §3: "Active → Stale when now - last_activity
// > stale_timeout").
func (a *Allocator) CleanupStale(timeout time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	for _, f := range a.flows {
		if f.State == StateActive && now.Sub(f.LastActivity) > timeout {
			f.State = StateStale
		}
	}
}

func (a *Allocator) Stats() []Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Stats, 0, len(a.flows))
	for _, f := range a.flows {
		out = append(out, Stats{
			RemoteAddr:   f.RemoteAddr,
			State:        f.State,
			LastActivity: f.LastActivity,
			SentPdus:     f.SentPdus,
			ReceivedPdus: f.ReceivedPdus,
			SendErrors:   f.SendErrors,
		})
	}
	return out
}
