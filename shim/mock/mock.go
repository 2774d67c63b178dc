// Package mock provides an in-memory shim.Shim double used to wire two or
// more IPCPs together in-process for component and integration tests,
// avoiding real UDP sockets (grounded on the teacher's preference for
// direct in-process wiring over sockets in unit tests).
package mock

import (
	"net/netip"
	"sync"

	"github.com/arinet/corina/pdu"
	"github.com/arinet/corina/shim"
)

// Network is a shared registry of Shim endpoints, acting as the virtual
// underlay. Every MockShim bound to the same Network can reach every other.
type Network struct {
	mu    sync.Mutex
	nodes map[netip.AddrPort]*MockShim
}

func NewNetwork() *Network {
	return &Network{nodes: make(map[netip.AddrPort]*MockShim)}
}

// MockShim implements shim.Shim entirely in memory.
type MockShim struct {
	net  *Network
	self netip.AddrPort

	mu    sync.RWMutex
	peers map[uint64]netip.AddrPort

	inbound chan shim.Received
	closed  bool
}

func New(net *Network) *MockShim {
	return &MockShim{net: net, peers: make(map[uint64]netip.AddrPort), inbound: make(chan shim.Received, 256)}
}

func (m *MockShim) Bind(endpoint netip.AddrPort) error {
	m.self = endpoint
	m.net.mu.Lock()
	m.net.nodes[endpoint] = m
	m.net.mu.Unlock()
	return nil
}

func (m *MockShim) SendPdu(p pdu.Pdu) error {
	m.mu.RLock()
	endpoint, ok := m.peers[p.DstAddr]
	m.mu.RUnlock()
	if !ok {
		return shim.ErrUnknownPeer
	}

	m.net.mu.Lock()
	dst, ok := m.net.nodes[endpoint]
	m.net.mu.Unlock()
	if !ok {
		return shim.ErrUnknownPeer
	}

	select {
	case dst.inbound <- shim.Received{Pdu: p, Source: m.self}:
	default:
	}
	return nil
}

func (m *MockShim) Inbound() <-chan shim.Received { return m.inbound }

func (m *MockShim) RegisterPeer(rinaAddr uint64, endpoint netip.AddrPort) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[rinaAddr] = endpoint
}

func (m *MockShim) LookupPeer(rinaAddr uint64) (netip.AddrPort, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ep, ok := m.peers[rinaAddr]
	return ep, ok
}

func (m *MockShim) UpdatePeer(rinaAddr uint64, newEndpoint netip.AddrPort) {
	m.RegisterPeer(rinaAddr, newEndpoint)
}

func (m *MockShim) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.net.mu.Lock()
	delete(m.net.nodes, m.self)
	m.net.mu.Unlock()
	close(m.inbound)
	return nil
}
