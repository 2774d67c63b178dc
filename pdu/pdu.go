// Package pdu defines the unit that crosses the Shim: the Protocol Data
// Unit exchanged between IPC Processes.
package pdu

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Type tags the kind of PDU carried on the wire.
type Type uint8

const (
	TypeData Type = iota
	TypeAck
	TypeControl
	TypeManagement
)

func (t Type) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeAck:
		return "ACK"
	case TypeControl:
		return "CONTROL"
	case TypeManagement:
		return "MANAGEMENT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// QoS carries the drop-vs-priority class spec.md §3 requires a PDU to
// transport, without the core enforcing it (EFCP propagates it; nothing
// downstream schedules on it yet — see spec.md §4.6).
type QoS struct {
	Class    uint8 `cbor:"1,keyasint"`
	Priority uint8 `cbor:"2,keyasint"`
}

// Pdu is immutable after construction: every field is set at New* time and
// nothing downstream mutates it in transit, per spec.md §3.
type Pdu struct {
	SrcAddr uint64 `cbor:"1,keyasint"`
	DstAddr uint64 `cbor:"2,keyasint"`
	PType   Type   `cbor:"3,keyasint"`
	FlowId  uint64 `cbor:"4,keyasint"`
	SeqNo   uint64 `cbor:"5,keyasint"`
	QoS     QoS    `cbor:"6,keyasint"`
	Payload []byte `cbor:"7,keyasint,omitempty"`
}

// fixedHeaderSize approximates the on-wire header cost (two u64 addresses,
// a type tag, flow id, sequence number, two QoS bytes) for MTU bookkeeping;
// the actual CBOR encoding is a few bytes larger due to framing.
const fixedHeaderSize = 8 + 8 + 1 + 8 + 8 + 2

func NewData(src, dst uint64, flowId, seqNo uint64, payload []byte) Pdu {
	return Pdu{SrcAddr: src, DstAddr: dst, PType: TypeData, FlowId: flowId, SeqNo: seqNo, Payload: payload}
}

func NewDataWithQoS(src, dst uint64, flowId, seqNo uint64, payload []byte, qos QoS) Pdu {
	p := NewData(src, dst, flowId, seqNo, payload)
	p.QoS = qos
	return p
}

func NewAck(src, dst uint64, flowId, ackNo uint64) Pdu {
	return Pdu{SrcAddr: src, DstAddr: dst, PType: TypeAck, FlowId: flowId, SeqNo: ackNo}
}

func NewManagement(src, dst uint64, payload []byte) Pdu {
	return Pdu{SrcAddr: src, DstAddr: dst, PType: TypeManagement, Payload: payload}
}

func (p Pdu) IsData() bool       { return p.PType == TypeData }
func (p Pdu) IsAck() bool        { return p.PType == TypeAck }
func (p Pdu) IsManagement() bool { return p.PType == TypeManagement }
func (p Pdu) IsControl() bool    { return p.PType == TypeControl }

// Size estimates the on-wire size in bytes; used for the MTU check at the
// Shim boundary (spec.md §6: "datagrams exceeding MTU are considered
// malformed in the core").
func (p Pdu) Size() int {
	return fixedHeaderSize + len(p.Payload)
}

var encMode = func() cbor.EncMode {
	m, err := cbor.CTAP2EncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// Encode renders the PDU using the DIF-wide compact binary encoding
// (spec.md §6: "a single encoding is used consistently across PDUs, CDAP
// messages..., enrolment request/response objects, and RIB snapshots").
func Encode(p Pdu) ([]byte, error) {
	b, err := encMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode pdu: %w", err)
	}
	return b, nil
}

// Decode parses a PDU previously produced by Encode. A malformed datagram
// is the caller's cue to drop it and increment a counter (spec.md §3).
func Decode(data []byte) (Pdu, error) {
	var p Pdu
	if err := cbor.Unmarshal(data, &p); err != nil {
		return Pdu{}, fmt.Errorf("decode pdu: %w", err)
	}
	return p, nil
}
