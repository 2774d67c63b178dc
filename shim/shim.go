// Package shim implements the underlay abstraction from spec.md §4.1: a
// polymorphic transport contract with one concrete UDP/IP implementation,
// plus an in-memory double under shim/mock for component tests.
package shim

import (
	"net/netip"

	"github.com/arinet/corina/pdu"
)

// Error mirrors the sentinel-error style used across the other components.
type Error struct {
	Kind string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

var (
	ErrUnknownPeer = &Error{Kind: "UnknownPeer", Msg: "shim: destination address has no registered peer endpoint"}
	ErrClosed      = &Error{Kind: "Closed", Msg: "shim: underlay socket is closed"}
	ErrPduTooLarge = &Error{Kind: "PduTooLarge", Msg: "shim: pdu exceeds underlay MTU"}
)

// MTU bounds the on-wire size of a single PDU's UDP/IP datagram (spec.md
// §6: "datagrams exceeding MTU are considered malformed in the core").
// 1472 is the Ethernet-safe UDP payload size (1500 MTU minus the 20-byte
// IPv4 header and 8-byte UDP header) so a PDU never depends on IP
// fragmentation to reach its peer.
const MTU = 1472

// Received pairs a decoded PDU with the underlay endpoint it arrived from,
// needed by the RMT to auto-register the sender (spec.md §4.1, §4.8 step 1).
type Received struct {
	Pdu    pdu.Pdu
	Source netip.AddrPort
}

// Shim is the polymorphic underlay contract (spec.md §4.1, §6). Implementations
// must be safe for concurrent SendPdu calls alongside a single Inbound
// receive loop.
type Shim interface {
	Bind(endpoint netip.AddrPort) error
	SendPdu(p pdu.Pdu) error
	// Inbound is the channel a dedicated receive task pushes decoded PDUs
	// into; closed when the shim is closed.
	Inbound() <-chan Received
	RegisterPeer(rinaAddr uint64, endpoint netip.AddrPort)
	LookupPeer(rinaAddr uint64) (netip.AddrPort, bool)
	UpdatePeer(rinaAddr uint64, newEndpoint netip.AddrPort)
	Close() error
}
