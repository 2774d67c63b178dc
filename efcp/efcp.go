// Package efcp implements the flow endpoint operations from spec.md §4.6:
// AllocateFlow, SendData, and inbound delivery via ReceivePdu. No
// acknowledgement or retransmission is implemented in the core; QoS is
// propagated but not enforced here.
package efcp

import (
	"sync"
	"sync/atomic"

	"github.com/arinet/corina/pdu"
)

// Error mirrors the sentinel-error style used across the other components.
type Error struct {
	Kind string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

var ErrFlowNotFound = &Error{Kind: "FlowNotFound", Msg: "efcp: flow id not found"}

// Forwarder is the RMT's outbound entry point; EFCP hands constructed Data
// PDUs to it rather than talking to the Shim/FAL directly (spec.md §4.6).
type Forwarder interface {
	Forward(p pdu.Pdu)
}

// flow is the per-flow state from spec.md §3: (local_addr, remote_addr,
// qos, next_seq, recv_queue).
type flow struct {
	mu        sync.Mutex
	local     uint64
	remote    uint64
	qos       pdu.QoS
	nextSeq   uint64
	recvQueue [][]byte
}

// Endpoint is the EFCP actor. It owns every flow it allocates; the RMT
// reaches it only through ReceivePdu.
type Endpoint struct {
	localAddr atomic.Uint64
	forwarder Forwarder

	mu         sync.Mutex
	flows      map[uint64]*flow
	nextFlowID atomic.Uint64
}

func New(localAddr uint64, forwarder Forwarder) *Endpoint {
	e := &Endpoint{
		forwarder: forwarder,
		flows:     make(map[uint64]*flow),
	}
	e.localAddr.Store(localAddr)
	return e
}

// SetForwarder rebinds the RMT the endpoint forwards through. Used by ipcp
// wiring to break the construction cycle between rmt.Relay (which needs a
// DataHandler) and efcp.Endpoint (which needs a Forwarder): the Endpoint is
// built first with a nil forwarder, the Relay is built against it, then
// SetForwarder closes the loop before either is started.
func (e *Endpoint) SetForwarder(f Forwarder) { e.forwarder = f }

// SetLocalAddr updates the address new flows and outbound PDUs use as
// source, needed because a member IPCP constructs its EFCP endpoint before
// enrolment assigns it a real RINA address (spec.md §4.8).
func (e *Endpoint) SetLocalAddr(addr uint64) { e.localAddr.Store(addr) }

func (e *Endpoint) LocalAddr() uint64 { return e.localAddr.Load() }

// AllocateFlow creates a new flow and returns its locally unique flow_id
// (spec.md §4.6).
func (e *Endpoint) AllocateFlow(remote uint64, qos pdu.QoS) uint64 {
	id := e.nextFlowID.Add(1)
	f := &flow{local: e.localAddr.Load(), remote: remote, qos: qos}

	e.mu.Lock()
	e.flows[id] = f
	e.mu.Unlock()
	return id
}

// SendData constructs a Data PDU with the flow's next sequence number and
// hands it to the RMT for forwarding (spec.md §4.6).
func (e *Endpoint) SendData(flowID uint64, payload []byte) error {
	e.mu.Lock()
	f, ok := e.flows[flowID]
	e.mu.Unlock()
	if !ok {
		return ErrFlowNotFound
	}

	f.mu.Lock()
	seq := f.nextSeq
	f.nextSeq++
	remote := f.remote
	qos := f.qos
	f.mu.Unlock()

	p := pdu.NewDataWithQoS(e.localAddr.Load(), remote, flowID, seq, payload, qos)
	e.forwarder.Forward(p)
	return nil
}

// ReceivePdu appends an inbound Data PDU's payload to its flow's receive
// queue, indexed by flow_id from the PDU header (spec.md §4.6). If the
// flow does not yet exist locally, it is auto-created so that the first
// PDU on a newly allocated remote flow is never dropped.
func (e *Endpoint) ReceivePdu(p pdu.Pdu) error {
	if !p.IsData() {
		return nil
	}

	e.mu.Lock()
	f, ok := e.flows[p.FlowId]
	if !ok {
		f = &flow{local: e.localAddr.Load(), remote: p.SrcAddr, qos: p.QoS}
		e.flows[p.FlowId] = f
	}
	e.mu.Unlock()

	f.mu.Lock()
	f.recvQueue = append(f.recvQueue, p.Payload)
	f.mu.Unlock()
	return nil
}

// Drain returns and clears a flow's pending received payloads, failing
// with ErrFlowNotFound if the flow id is unknown.
func (e *Endpoint) Drain(flowID uint64) ([][]byte, error) {
	e.mu.Lock()
	f, ok := e.flows[flowID]
	e.mu.Unlock()
	if !ok {
		return nil, ErrFlowNotFound
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.recvQueue
	f.recvQueue = nil
	return out, nil
}

// HandleData implements rmt.DataHandler.
func (e *Endpoint) HandleData(p pdu.Pdu) {
	_ = e.ReceivePdu(p)
}
