// Package enrolment implements the EnrolmentManager from spec.md §4.8: the
// member-side phase machine for joining a DIF, the bootstrap-side handler
// that serves joiners, the connection-health monitor that drives
// re-enrolment, and incremental RIB sync.
package enrolment

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arinet/corina/addresspool"
	"github.com/arinet/corina/cdap"
	"github.com/arinet/corina/pdu"
	"github.com/arinet/corina/rib"
	"github.com/arinet/corina/routing"
	"github.com/arinet/corina/shim"
	"github.com/arinet/corina/state"
)

const (
	objEnrolmentRequest = "enrolment/request"
	objRibSync          = "rib/sync"

	localAddressObject = "/local/address"
)

func neighbourObject(name string) string { return "/enrolment/neighbours/" + name }

// Params configures a Manager. Durations come from state.Config's
// accessor methods so callers never hand-roll the zero-value defaulting
// spec.md §6 requires.
type Params struct {
	IpcpName          string
	DifName           string
	LocalAddr         uint64 // 0 for a member awaiting allocation
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	AttemptTimeout    time.Duration
	MaxRetries        int
	InitialBackoff    time.Duration
	DynamicRouteTTL   time.Duration

	Shim     shim.Shim
	Rib      *rib.Rib
	Resolver *routing.Resolver
	Pool     *addresspool.Pool // non-nil on the bootstrap
	Log      *slog.Logger
}

// Manager is the EnrolmentManager actor. The phase and heartbeat fields
// are accessed from both the caller's goroutine (EnrolWithBootstrap) and
// the RMT's inbound goroutine (HandleManagement) and the monitor's
// goroutine, so they're guarded by mu rather than following the pure
// single-owner actor discipline spec.md §5 describes for the rest of the
// core — the same RIB-style exception, justified by how small and
// non-blocking every critical section here is.
type Manager struct {
	p Params

	mu                sync.Mutex
	phase             Phase
	failReason        string
	localAddr         uint64
	bootstrapAddr     uint64
	bootstrapEndpoint netip.AddrPort
	lastSyncedVersion uint64
	lastHeartbeat     time.Time

	reEnrolmentInProgress atomic.Bool

	tracker *cdap.InvokeTracker
	now     func() time.Time
}

func New(p Params) *Manager {
	return &Manager{
		p:         p,
		phase:     NotEnrolled,
		localAddr: p.LocalAddr,
		tracker:   cdap.NewInvokeTracker(),
		now:       time.Now,
	}
}

func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Manager) LocalAddr() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localAddr
}

func (m *Manager) setPhase(ph Phase) {
	m.mu.Lock()
	m.phase = ph
	m.mu.Unlock()
}

func (m *Manager) setFailed(reason string) {
	m.mu.Lock()
	m.phase = Failed
	m.failReason = reason
	m.mu.Unlock()
}

// EnrolWithBootstrap runs the member-side phase machine (spec.md §4.8,
// steps 1-7) against bootstrapAddr, reachable at bootstrapEndpoint.
func (m *Manager) EnrolWithBootstrap(ctx context.Context, bootstrapAddr uint64, bootstrapEndpoint netip.AddrPort) (string, error) {
	m.mu.Lock()
	if m.phase == Enrolled {
		m.mu.Unlock()
		return "", ErrAlreadyEnrolled
	}
	m.phase = Initiated
	m.bootstrapAddr = bootstrapAddr
	m.bootstrapEndpoint = bootstrapEndpoint
	m.mu.Unlock()

	// step 2: register the bootstrap peer's underlay endpoint.
	m.p.Shim.RegisterPeer(bootstrapAddr, bootstrapEndpoint)

	backoff := m.p.InitialBackoff
	for attempt := 1; attempt <= m.p.MaxRetries; attempt++ {
		difName, err := m.attemptEnrolment(ctx, bootstrapAddr)
		if err == nil {
			return difName, nil
		}
		if rejected, ok := err.(*Error); ok && rejected.Kind == "Rejected" {
			m.setFailed(rejected.Reason)
			return "", err // step 7: rejection is not transient, do not retry
		}
		if attempt == m.p.MaxRetries {
			break
		}
		if sleepErr := state.SleepContext(ctx, backoff); sleepErr != nil {
			m.setFailed("cancelled")
			return "", sleepErr
		}
		backoff *= 2
	}

	m.setFailed(fmt.Sprintf("timeout after %d attempts", m.p.MaxRetries))
	return "", errTimeout(m.p.MaxRetries)
}

// attemptEnrolment runs steps 3-5 of the phase machine once.
func (m *Manager) attemptEnrolment(ctx context.Context, bootstrapAddr uint64) (string, error) {
	m.setPhase(Authenticating)

	invokeID := m.tracker.NextID()
	req := Request{
		IpcpName:       m.p.IpcpName,
		IpcpAddress:    m.LocalAddr(),
		DifName:        m.p.DifName,
		Timestamp:      uint64(m.now().Unix()),
		RequestAddress: m.LocalAddr() == state.UnassignedAddress,
	}
	value, err := encodeAsValue(req)
	if err != nil {
		return "", errSerializationFailed(err)
	}

	msg := cdap.NewRequest(cdap.OpCreate, invokeID, objEnrolmentRequest, "enrolment.request", &value)
	wait := m.tracker.Register(invokeID)
	if err := m.sendManagement(bootstrapAddr, msg); err != nil {
		m.tracker.Forget(invokeID)
		return "", errSendFailed(err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, m.p.AttemptTimeout)
	defer cancel()
	reply, err := wait(attemptCtx)
	if err != nil {
		return "", errReceiveFailed(err)
	}

	return m.handleEnrolmentReply(reply)
}

func (m *Manager) handleEnrolmentReply(reply cdap.Message) (string, error) {
	if reply.ObjValue == nil {
		return "", ErrInvalidResponse
	}
	var resp Response
	if err := decodeFromValue(*reply.ObjValue, &resp); err != nil {
		return "", ErrInvalidResponse
	}
	if !resp.Accepted {
		return "", errRejected(resp.Error)
	}

	m.setPhase(Synchronizing)

	if len(resp.RibSnapshot) > 0 {
		if _, err := m.p.Rib.DeserializeSnapshot(resp.RibSnapshot); err != nil {
			return "", ErrRibSyncFailed
		}
	}
	if resp.AssignedAddress != state.UnassignedAddress {
		m.mu.Lock()
		m.localAddr = resp.AssignedAddress
		m.mu.Unlock()
		m.storeLocalAddress(resp.AssignedAddress)
	}
	m.mu.Lock()
	m.lastSyncedVersion = resp.RibVersion
	m.lastHeartbeat = m.now()
	m.phase = Enrolled
	m.mu.Unlock()

	return resp.DifName, nil
}

func (m *Manager) storeLocalAddress(addr uint64) {
	v := rib.Int(int64(addr))
	if _, err := m.p.Rib.Create(localAddressObject, "address", v); err != nil {
		_, _ = m.p.Rib.Update(localAddressObject, v)
	}
}

func (m *Manager) sendManagement(dst uint64, msg cdap.Message) error {
	data, err := cdap.Encode(msg)
	if err != nil {
		return err
	}
	p := pdu.NewManagement(m.LocalAddr(), dst, data)
	return m.p.Shim.SendPdu(p)
}

// HandleManagement implements rmt.ManagementHandler. Every inbound
// Management PDU addressed to the local IPCP passes through here: replies
// to outstanding requests resolve the waiting attempt, everything else is
// dispatched as a fresh bootstrap-side request.
func (m *Manager) HandleManagement(p pdu.Pdu, source netip.AddrPort) {
	msg, err := cdap.Decode(p.Payload)
	if err != nil {
		m.p.Log.Debug("enrolment dropped malformed cdap message", "err", err)
		return
	}

	m.mu.Lock()
	fromBootstrap := m.bootstrapAddr != state.UnassignedAddress && p.SrcAddr == m.bootstrapAddr
	m.mu.Unlock()
	if fromBootstrap {
		m.mu.Lock()
		m.lastHeartbeat = m.now()
		m.mu.Unlock()
	}

	// Only a reply can resolve a pending invoke_id. A Create request carries
	// an object value just as a value reply does, so a message whose only
	// reply marker is an object value and which resolves nothing is
	// dispatched below as a fresh request.
	if msg.IsReply() {
		if m.tracker.Resolve(msg) {
			return
		}
		if msg.Result != cdap.ResultOk || msg.ResultReason != "" || msg.SyncResponse != nil {
			return // a reply that nothing is waiting for
		}
	}

	switch {
	case msg.OpCode == cdap.OpCreate && msg.ObjName == objEnrolmentRequest:
		m.handleEnrolmentRequest(p.SrcAddr, source, msg)
	case msg.OpCode == cdap.OpRead && msg.ObjName == objRibSync:
		m.handleSyncRequest(p.SrcAddr, msg)
	case msg.OpCode == cdap.OpStart || msg.OpCode == cdap.OpStop:
		m.reply(p.SrcAddr, cdap.Reply(msg, cdap.ResultNotImplemented, "start/stop not implemented"))
	default:
		m.reply(p.SrcAddr, cdap.Reply(msg, cdap.ResultUnknownOp, "unknown op"))
	}
}

// handleEnrolmentRequest is the bootstrap-side handler from spec.md §4.8.
// source is the underlay endpoint the request actually arrived from,
// needed verbatim because srcEndpointAddr is 0 ("unassigned") for a
// member that hasn't yet been allocated an address.
func (m *Manager) handleEnrolmentRequest(srcEndpointAddr uint64, source netip.AddrPort, msg cdap.Message) {
	if msg.ObjValue == nil {
		m.reply(srcEndpointAddr, cdap.Reply(msg, cdap.ResultError, "missing enrolment request body"))
		return
	}
	var req Request
	if err := decodeFromValue(*msg.ObjValue, &req); err != nil {
		m.reply(srcEndpointAddr, cdap.Reply(msg, cdap.ResultError, "malformed enrolment request"))
		return
	}

	// Register the sender's endpoint even when srcEndpointAddr is the
	// unassigned sentinel: a reply (including an exhaustion rejection)
	// must still be routable back to source before any real address
	// exists.
	m.p.Shim.RegisterPeer(srcEndpointAddr, source)

	var assigned uint64
	var respondTo uint64 = srcEndpointAddr
	if req.RequestAddress {
		addr, err := m.p.Pool.Allocate()
		if err != nil {
			resp := Response{Accepted: false, Error: "address pool exhausted", DifName: m.p.DifName}
			m.sendEnrolmentReply(respondTo, msg, resp)
			return
		}
		assigned = addr
		// The reply still goes to the requester's own source address: its
		// RMT delivers locally only what is addressed to its current address.
		m.p.Shim.RegisterPeer(assigned, source)
		if err := m.p.Resolver.AddDynamicRoute(assigned, assigned, source.String(), m.p.DynamicRouteTTL); err != nil {
			m.p.Log.Warn("enrolment failed to install dynamic route for new member", "addr", assigned, "err", err)
		}
		m.storeNeighbour(req.IpcpName, assigned)
	} else {
		m.storeNeighbour(req.IpcpName, req.IpcpAddress)
	}

	snapshot, err := m.p.Rib.SerializeSnapshot()
	if err != nil {
		resp := Response{Accepted: false, Error: "failed to snapshot rib", DifName: m.p.DifName}
		m.sendEnrolmentReply(respondTo, msg, resp)
		return
	}

	resp := Response{
		Accepted:        true,
		AssignedAddress: assigned,
		DifName:         m.p.DifName,
		RibSnapshot:     snapshot,
		RibVersion:      m.p.Rib.CurrentVersion(),
	}
	m.sendEnrolmentReply(respondTo, msg, resp)
}

func (m *Manager) storeNeighbour(name string, addr uint64) {
	name = neighbourObject(name)
	v := rib.Int(int64(addr))
	if _, err := m.p.Rib.Create(name, "neighbour", v); err != nil {
		_, _ = m.p.Rib.Update(name, v)
	}
}

func (m *Manager) sendEnrolmentReply(dst uint64, req cdap.Message, resp Response) {
	value, err := encodeAsValue(resp)
	if err != nil {
		m.p.Log.Error("enrolment failed to encode reply", "err", err)
		return
	}
	reply := cdap.ReplyWithValue(req, &value)
	if err := m.sendManagement(dst, reply); err != nil {
		m.p.Log.Warn("enrolment failed to send reply", "dst", dst, "err", err)
	}
}

func (m *Manager) reply(dst uint64, msg cdap.Message) {
	if err := m.sendManagement(dst, msg); err != nil {
		m.p.Log.Warn("enrolment failed to send reply", "dst", dst, "err", err)
	}
}

// handleSyncRequest is the bootstrap-side incremental-sync handler
// (spec.md §4.8's "Incremental sync" paragraph).
func (m *Manager) handleSyncRequest(srcAddr uint64, msg cdap.Message) {
	var req SyncRequest
	if err := decodeBytes(msg.SyncRequest, &req); err != nil {
		m.reply(srcAddr, cdap.Reply(msg, cdap.ResultError, "malformed sync request"))
		return
	}

	var resp SyncResponse
	changes, err := m.p.Rib.GetChangesSince(req.LastKnownVersion)
	if err == nil {
		resp = SyncResponse{CurrentVersion: m.p.Rib.CurrentVersion(), Changes: changes}
	} else if rib.IsTooOld(err) {
		snapshot, serr := m.p.Rib.SerializeSnapshot()
		if serr != nil {
			m.reply(srcAddr, cdap.Reply(msg, cdap.ResultError, "failed to snapshot rib"))
			return
		}
		resp = SyncResponse{CurrentVersion: m.p.Rib.CurrentVersion(), FullSnapshot: snapshot}
	} else {
		m.reply(srcAddr, cdap.Reply(msg, cdap.ResultError, err.Error()))
		return
	}

	payload, err := encodeBytes(resp)
	if err != nil {
		m.p.Log.Error("enrolment failed to encode sync response", "err", err)
		return
	}
	reply := cdap.Reply(msg, cdap.ResultOk, "")
	reply.SyncResponse = payload
	m.reply(srcAddr, reply)
}

// RunSync periodically issues an incremental sync request against the
// stored bootstrap address (spec.md §4.8's member-side incremental sync
// loop). Run in its own goroutine by the owning IPCP.
func (m *Manager) RunSync(ctx context.Context, interval time.Duration) {
	state.RepeatTask(ctx, interval, func() {
		if m.Phase() != Enrolled {
			return
		}
		if err := m.syncOnce(ctx); err != nil {
			m.p.Log.Debug("enrolment sync attempt failed", "err", err)
		}
	})
}

func (m *Manager) syncOnce(ctx context.Context) error {
	m.mu.Lock()
	bootstrapAddr := m.bootstrapAddr
	lastVersion := m.lastSyncedVersion
	m.mu.Unlock()

	invokeID := m.tracker.NextID()
	reqPayload, err := encodeBytes(SyncRequest{LastKnownVersion: lastVersion, Requester: m.p.IpcpName})
	if err != nil {
		return errSerializationFailed(err)
	}
	msg := cdap.NewRequest(cdap.OpRead, invokeID, objRibSync, "", nil)
	msg.SyncRequest = reqPayload

	wait := m.tracker.Register(invokeID)
	if err := m.sendManagement(bootstrapAddr, msg); err != nil {
		m.tracker.Forget(invokeID)
		return errSendFailed(err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, m.p.AttemptTimeout)
	defer cancel()
	reply, err := wait(waitCtx)
	if err != nil {
		return errReceiveFailed(err)
	}
	if !reply.Ok() {
		return ErrRibSyncFailed
	}

	var resp SyncResponse
	if err := decodeBytes(reply.SyncResponse, &resp); err != nil {
		return ErrInvalidResponse
	}

	if len(resp.FullSnapshot) > 0 {
		if _, err := m.p.Rib.DeserializeSnapshot(resp.FullSnapshot); err != nil {
			return ErrRibSyncFailed
		}
	} else if len(resp.Changes) > 0 {
		m.p.Rib.ApplyChanges(resp.Changes)
	}

	m.mu.Lock()
	m.lastSyncedVersion = resp.CurrentVersion
	m.mu.Unlock()
	return nil
}

// RunConnectionMonitor starts the long-lived health check from spec.md
// §4.8's "Connection monitor" paragraph: every heartbeat_interval/2 it
// checks for silence exceeding connection_timeout and, if exceeded,
// re-runs the phase machine under a latch so overlapping attempts never
// occur.
func (m *Manager) RunConnectionMonitor(ctx context.Context) {
	if m.p.HeartbeatInterval <= 0 {
		return
	}
	state.RepeatTask(ctx, m.p.HeartbeatInterval/2, func() {
		m.checkConnection(ctx)
	})
}

func (m *Manager) checkConnection(ctx context.Context) {
	m.mu.Lock()
	silence := m.now().Sub(m.lastHeartbeat)
	bootstrapAddr := m.bootstrapAddr
	bootstrapEndpoint := m.bootstrapEndpoint
	m.mu.Unlock()

	if silence <= m.p.ConnectionTimeout {
		return
	}
	if !m.reEnrolmentInProgress.CompareAndSwap(false, true) {
		return // a re-enrolment attempt is already in flight
	}
	defer m.reEnrolmentInProgress.Store(false)

	m.setPhase(NotEnrolled)
	if _, err := m.EnrolWithBootstrap(ctx, bootstrapAddr, bootstrapEndpoint); err != nil {
		m.p.Log.Warn("re-enrolment failed", "err", err)
		return
	}
	m.mu.Lock()
	m.lastHeartbeat = m.now()
	m.mu.Unlock()
}
