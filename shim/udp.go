package shim

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/arinet/corina/pdu"
)

const inboundQueueSize = 256

// UdpShim is the UDP/IP underlay implementation named in spec.md §4.1.
type UdpShim struct {
	log *slog.Logger

	mu    sync.RWMutex
	peers map[uint64]netip.AddrPort

	sock    *net.UDPConn
	inbound chan Received

	closed       atomic.Bool
	decodeErrors atomic.Uint64
	sendErrors   atomic.Uint64
	oversizeDrop atomic.Uint64
}

func NewUdp(log *slog.Logger) *UdpShim {
	return &UdpShim{
		log:     log,
		peers:   make(map[uint64]netip.AddrPort),
		inbound: make(chan Received, inboundQueueSize),
	}
}

func (s *UdpShim) Bind(endpoint netip.AddrPort) error {
	sock, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(endpoint))
	if err != nil {
		return fmt.Errorf("shim: bind %s: %w", endpoint, err)
	}
	s.sock = sock
	go s.receiveLoop()
	return nil
}

// receiveLoop is the dedicated reception task spec.md §4.1 calls for: it
// decodes datagrams and pushes them into Inbound, incrementing a counter
// and dropping on decode failure rather than surfacing an error (spec.md
// §7: "CDAP decode failures counted, dropped").
func (s *UdpShim) receiveLoop() {
	buf := make([]byte, 65535)
	for {
		n, addrport, err := s.sock.ReadFromUDPAddrPort(buf)
		if err != nil {
			if s.closed.Load() {
				close(s.inbound)
				return
			}
			s.log.Warn("shim read error", "err", err)
			continue
		}
		p, err := pdu.Decode(buf[:n])
		if err != nil {
			s.decodeErrors.Add(1)
			s.log.Debug("shim dropped malformed datagram", "from", addrport, "err", err)
			continue
		}
		select {
		case s.inbound <- Received{Pdu: p, Source: addrport}:
		default:
			s.log.Warn("shim inbound queue full, dropping pdu", "from", addrport)
		}
	}
}

func (s *UdpShim) SendPdu(p pdu.Pdu) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if p.Size() > MTU {
		s.oversizeDrop.Add(1)
		return ErrPduTooLarge
	}
	endpoint, ok := s.LookupPeer(p.DstAddr)
	if !ok {
		return ErrUnknownPeer
	}
	data, err := pdu.Encode(p)
	if err != nil {
		return fmt.Errorf("shim: encode pdu: %w", err)
	}
	if _, err := s.sock.WriteToUDPAddrPort(data, endpoint); err != nil {
		s.sendErrors.Add(1)
		return fmt.Errorf("shim: send to %s: %w", endpoint, err)
	}
	return nil
}

func (s *UdpShim) Inbound() <-chan Received { return s.inbound }

func (s *UdpShim) RegisterPeer(rinaAddr uint64, endpoint netip.AddrPort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[rinaAddr] = endpoint
}

func (s *UdpShim) LookupPeer(rinaAddr uint64) (netip.AddrPort, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.peers[rinaAddr]
	return ep, ok
}

func (s *UdpShim) UpdatePeer(rinaAddr uint64, newEndpoint netip.AddrPort) {
	s.RegisterPeer(rinaAddr, newEndpoint)
}

func (s *UdpShim) DecodeErrors() uint64  { return s.decodeErrors.Load() }
func (s *UdpShim) SendErrors() uint64    { return s.sendErrors.Load() }
func (s *UdpShim) OversizeDrops() uint64 { return s.oversizeDrop.Load() }

func (s *UdpShim) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.sock == nil {
		close(s.inbound)
		return nil
	}
	return s.sock.Close()
}
