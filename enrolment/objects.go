package enrolment

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/arinet/corina/rib"
)

// Request is EnrolmentRequest from spec.md §6, carried as the value of a
// CDAP Create on "enrolment/request".
type Request struct {
	IpcpName       string `cbor:"1,keyasint"`
	IpcpAddress    uint64 `cbor:"2,keyasint"`
	DifName        string `cbor:"3,keyasint"`
	Timestamp      uint64 `cbor:"4,keyasint"`
	RequestAddress bool   `cbor:"5,keyasint"`
}

// Response is EnrolmentResponse from spec.md §6.
type Response struct {
	Accepted        bool   `cbor:"1,keyasint"`
	Error           string `cbor:"2,keyasint,omitempty"`
	AssignedAddress uint64 `cbor:"3,keyasint,omitempty"`
	DifName         string `cbor:"4,keyasint"`
	RibSnapshot     []byte `cbor:"5,keyasint,omitempty"`
	RibVersion      uint64 `cbor:"6,keyasint"`
}

// SyncRequest is SyncRequest from spec.md §6.
type SyncRequest struct {
	LastKnownVersion uint64 `cbor:"1,keyasint"`
	Requester        string `cbor:"2,keyasint"`
}

// SyncResponse is SyncResponse from spec.md §6.
type SyncResponse struct {
	CurrentVersion uint64       `cbor:"1,keyasint"`
	Changes        []rib.Change `cbor:"2,keyasint,omitempty"`
	FullSnapshot   []byte       `cbor:"3,keyasint,omitempty"`
	Error          string       `cbor:"4,keyasint,omitempty"`
}

var encMode = func() cbor.EncMode {
	m, err := cbor.CTAP2EncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// encodeAsValue wraps an enrolment object as the CBOR bytes carried by a
// rib.Value, reusing the DIF-wide encoding (spec.md §6) instead of a
// bespoke struct-in-struct layout.
func encodeAsValue(obj any) (rib.Value, error) {
	b, err := encMode.Marshal(obj)
	if err != nil {
		return rib.Value{}, fmt.Errorf("encode enrolment object: %w", err)
	}
	return rib.Bytes(b), nil
}

func decodeFromValue(v rib.Value, out any) error {
	if !v.IsBytes() {
		return fmt.Errorf("enrolment object value is not bytes")
	}
	if err := cbor.Unmarshal(v.Bytes, out); err != nil {
		return fmt.Errorf("decode enrolment object: %w", err)
	}
	return nil
}

func encodeBytes(obj any) ([]byte, error) {
	b, err := encMode.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode enrolment object: %w", err)
	}
	return b, nil
}

func decodeBytes(data []byte, out any) error {
	if err := cbor.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode enrolment object: %w", err)
	}
	return nil
}
