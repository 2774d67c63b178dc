// Package rmt implements Relaying and Multiplexing (spec.md §4.5): the
// single inbound demultiplexer between the Shim and the upper components,
// and the single outbound forwarding path back down to the FAL.
package rmt

import (
	"context"
	"log/slog"
	"net/netip"
	"sync/atomic"

	"github.com/arinet/corina/fal"
	"github.com/arinet/corina/pdu"
	"github.com/arinet/corina/routing"
	"github.com/arinet/corina/shim"
)

// NextHopStrategy is the policy point spec.md §4.5 calls out: "the RMT
// holds policy points (routing/scheduling/QoS) as polymorphic strategies".
// The default strategy below consults the RouteResolver; alternative
// strategies may be substituted at construction.
type NextHopStrategy interface {
	ComputeNextHop(dst uint64) (routing.Route, error)
}

// resolverStrategy is the default NextHopStrategy.
type resolverStrategy struct {
	resolver *routing.Resolver
}

func (s resolverStrategy) ComputeNextHop(dst uint64) (routing.Route, error) {
	return s.resolver.ResolveNextHop(dst)
}

// ManagementHandler processes Management PDUs addressed to the local IPCP
// (CDAP / enrolment traffic, spec.md §4.5). source is the underlay endpoint
// the PDU actually arrived from, needed so the bootstrap-side enrolment
// handler can register a joiner's endpoint before it has a RINA address
// (spec.md §4.8 step 1: "if src_addr == 0, defer until after allocation").
type ManagementHandler interface {
	HandleManagement(p pdu.Pdu, source netip.AddrPort)
}

// DataHandler delivers Data PDUs addressed to the local IPCP to EFCP.
type DataHandler interface {
	HandleData(p pdu.Pdu)
}

// Relay is the RMT. It owns no PDUs itself: every inbound PDU is either
// delivered upward or handed to the FAL for forwarding, within the same
// call — there is no internal forwarding queue, matching spec.md §4.5's
// flat inbound/outbound description.
type Relay struct {
	localAddr atomic.Uint64
	log       *slog.Logger

	shim     shim.Shim
	fal      *fal.Allocator
	strategy NextHopStrategy

	management ManagementHandler
	data       DataHandler

	droppedNoRoute  atomic.Uint64
	droppedBadRoute atomic.Uint64
}

// Option configures a Relay at construction.
type Option func(*Relay)

func WithStrategy(s NextHopStrategy) Option {
	return func(r *Relay) { r.strategy = s }
}

func New(localAddr uint64, log *slog.Logger, s shim.Shim, f *fal.Allocator, resolver *routing.Resolver, mgmt ManagementHandler, data DataHandler, opts ...Option) *Relay {
	r := &Relay{
		log:        log,
		shim:       s,
		fal:        f,
		strategy:   resolverStrategy{resolver: resolver},
		management: mgmt,
		data:       data,
	}
	r.localAddr.Store(localAddr)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetLocalAddr updates the address this relay treats as "locally addressed".
// Needed because a member IPCP constructs its Relay before enrolment
// assigns it a real RINA address (spec.md §4.8).
func (r *Relay) SetLocalAddr(addr uint64) { r.localAddr.Store(addr) }

func (r *Relay) LocalAddr() uint64 { return r.localAddr.Load() }

// Run drains the Shim's inbound queue until ctx is cancelled or the queue
// is closed. It is meant to be run in its own goroutine, the RMT's
// long-lived inbound task (spec.md §5).
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case recv, ok := <-r.shim.Inbound():
			if !ok {
				return
			}
			r.handleInbound(recv)
		}
	}
}

func (r *Relay) handleInbound(recv shim.Received) {
	p := recv.Pdu
	r.fal.RecordReceivedFrom(p.SrcAddr, recv.Source)

	if p.DstAddr == r.localAddr.Load() {
		switch {
		case p.IsManagement():
			r.management.HandleManagement(p, recv.Source)
		case p.IsData():
			r.data.HandleData(p)
		default:
			r.log.Debug("rmt dropped locally-addressed non-data/management pdu", "type", p.PType)
		}
		return
	}

	r.forward(p)
}

// Forward resolves the next hop for p.DstAddr and hands it to the FAL.
// Used both for transit traffic received off the wire and for Forward/
// SendOut requests from EFCP (spec.md §4.5's outbound path is identical
// resolution and hand-off).
func (r *Relay) Forward(p pdu.Pdu) {
	r.forward(p)
}

func (r *Relay) forward(p pdu.Pdu) {
	route, err := r.strategy.ComputeNextHop(p.DstAddr)
	if err != nil {
		r.droppedNoRoute.Add(1)
		r.log.Debug("rmt dropped pdu, no route", "dst", p.DstAddr)
		return
	}
	if err := r.fal.SendPdu(route.NextHop, p); err != nil {
		r.droppedBadRoute.Add(1)
		r.log.Warn("rmt dropped pdu, send failed", "dst", p.DstAddr, "next_hop", route.NextHop, "err", err)
		return
	}
}

func (r *Relay) DroppedNoRoute() uint64  { return r.droppedNoRoute.Load() }
func (r *Relay) DroppedSendFail() uint64 { return r.droppedBadRoute.Load() }
