// Package cdap implements the Common Distributed Application Protocol
// control messages carried as the payload of Management PDUs (spec.md
// §4.7): operation-coded Create/Read/Write/Delete requests over named RIB
// objects, plus reserved Start/Stop codes.
package cdap

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/arinet/corina/rib"
)

// OpCode is the CDAP operation code.
type OpCode uint8

const (
	OpCreate OpCode = iota
	OpRead
	OpWrite
	OpDelete
	// OpStart and OpStop are recognised on the wire but not implemented by
	// any handler in the core (spec.md §4.7); a handler that receives one
	// replies with ResultNotImplemented.
	OpStart
	OpStop
)

func (o OpCode) String() string {
	switch o {
	case OpCreate:
		return "Create"
	case OpRead:
		return "Read"
	case OpWrite:
		return "Write"
	case OpDelete:
		return "Delete"
	case OpStart:
		return "Start"
	case OpStop:
		return "Stop"
	default:
		return fmt.Sprintf("OpCode(%d)", uint8(o))
	}
}

// Result codes carried in a reply message.
const (
	ResultOk             = 0
	ResultError          = 1
	ResultUnknownOp      = 2
	ResultNotImplemented = 3
)

// Message is the CDAP message shape from spec.md §4.7. ObjValue is an
// optional *rib.Value; SyncRequest and SyncResponse are opaque CBOR-encoded
// payloads rather than typed union members, mirroring how rib.Value itself
// is a struct of optional fields: it keeps Message a single flat
// CBOR-taggable type usable for every operation without a union-tag layer
// on top.
type Message struct {
	OpCode       OpCode     `cbor:"1,keyasint"`
	ObjName      string     `cbor:"2,keyasint,omitempty"`
	ObjClass     string     `cbor:"3,keyasint,omitempty"`
	ObjValue     *rib.Value `cbor:"4,keyasint,omitempty"`
	InvokeID     uint64     `cbor:"5,keyasint"`
	Result       int32      `cbor:"6,keyasint"`
	ResultReason string     `cbor:"7,keyasint,omitempty"`
	SyncRequest  []byte     `cbor:"8,keyasint,omitempty"`
	SyncResponse []byte     `cbor:"9,keyasint,omitempty"`
}

// NewRequest builds an unanswered request message (Result left zero,
// meaning "ok" by convention until a reply overwrites it).
func NewRequest(op OpCode, invokeID uint64, objName, objClass string, value *rib.Value) Message {
	return Message{OpCode: op, ObjName: objName, ObjClass: objClass, ObjValue: value, InvokeID: invokeID}
}

// Reply builds a success or failure reply correlated to req by InvokeID.
func Reply(req Message, result int32, reason string) Message {
	return Message{OpCode: req.OpCode, ObjName: req.ObjName, InvokeID: req.InvokeID, Result: result, ResultReason: reason}
}

// ReplyWithValue builds a success reply carrying a RIB object value, used
// for enrolment and sync responses.
func ReplyWithValue(req Message, value *rib.Value) Message {
	return Message{OpCode: req.OpCode, ObjName: req.ObjName, InvokeID: req.InvokeID, Result: ResultOk, ObjValue: value}
}

func (m Message) IsReply() bool {
	return m.Result != 0 || m.ObjValue != nil || m.ResultReason != "" || m.SyncResponse != nil
}
func (m Message) Ok() bool { return m.Result == ResultOk }

var encMode = func() cbor.EncMode {
	m, err := cbor.CTAP2EncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// Encode renders m using the DIF-wide encoding (spec.md §6).
func Encode(m Message) ([]byte, error) {
	b, err := encMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode cdap message: %w", err)
	}
	return b, nil
}

// Decode parses a CDAP message from a Management PDU's payload.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := cbor.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode cdap message: %w", err)
	}
	return m, nil
}
