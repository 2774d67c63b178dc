// Package ipcp wires every core component into one running IPC Process
// (spec.md §2's component graph): Shim, RIB, RouteResolver, AddressPool,
// FAL, RMT, EFCP, and EnrolmentManager, constructed and started in
// dependency order and torn down in reverse, the same module-lifecycle
// shape as the teacher's core/entrypoint.go (state.NyModule's Init/Cleanup
// pair, generalised here to state.Module's Start/Stop).
package ipcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arinet/corina/addresspool"
	"github.com/arinet/corina/efcp"
	"github.com/arinet/corina/enrolment"
	"github.com/arinet/corina/fal"
	"github.com/arinet/corina/pdu"
	"github.com/arinet/corina/rib"
	"github.com/arinet/corina/rmt"
	"github.com/arinet/corina/routing"
	"github.com/arinet/corina/shim"
	"github.com/arinet/corina/state"
)

// Error mirrors the sentinel-error style used across the other components.
type Error struct {
	Kind string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

var ErrNoReachableBootstrapPeer = &Error{Kind: "NoReachableBootstrapPeer", Msg: "ipcp: enrolment failed against every configured bootstrap peer"}

// Option configures an Ipcp at construction, mirroring the rmt.Option/
// fal construction pattern used elsewhere in this codebase.
type Option func(*Ipcp)

// WithShim overrides the underlay, used by tests to inject shim/mock
// instead of a real UdpShim.
func WithShim(s shim.Shim) Option {
	return func(ip *Ipcp) { ip.shim = s }
}

// Ipcp is one running IPC Process: the concrete wiring of spec.md §2's
// component graph for a single DIF membership.
type Ipcp struct {
	cfg *state.Config
	log *slog.Logger

	rib      *rib.Rib
	resolver *routing.Resolver
	pool     *addresspool.Pool // non-nil only in bootstrap mode
	shim     shim.Shim
	fal      *fal.Allocator
	relay    *rmt.Relay
	efcpEp   *efcp.Endpoint
	enrolMgr *enrolment.Manager

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
}

// New constructs every component for cfg but starts nothing; call Start to
// bring the IPCP up.
func New(cfg *state.Config, log *slog.Logger, opts ...Option) (*Ipcp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ipcp: invalid config: %w", err)
	}

	r := rib.New(cfg.ChangeLogCapacity())
	resolver := routing.New(r)

	var pool *addresspool.Pool
	localAddr := state.UnassignedAddress
	if cfg.Mode == state.ModeBootstrap {
		pool = addresspool.New(cfg.AddressPoolStart, cfg.AddressPoolEnd)
		if err := pool.Reserve(cfg.Address); err != nil && err != addresspool.ErrOutOfRange {
			return nil, fmt.Errorf("ipcp: reserve bootstrap address: %w", err)
		}
		localAddr = cfg.Address
	}

	ip := &Ipcp{
		cfg:      cfg,
		log:      log,
		rib:      r,
		resolver: resolver,
		pool:     pool,
	}
	for _, opt := range opts {
		opt(ip)
	}
	if ip.shim == nil {
		ip.shim = shim.NewUdp(log)
	}

	ip.fal = fal.New(ip.shim, resolver)
	ip.efcpEp = efcp.New(localAddr, nil) // forwarder wired in below, see efcp.Endpoint.SetForwarder

	ip.enrolMgr = enrolment.New(enrolment.Params{
		IpcpName:          cfg.IpcpName,
		DifName:           cfg.DifName,
		LocalAddr:         localAddr,
		HeartbeatInterval: cfg.HeartbeatInterval(),
		ConnectionTimeout: cfg.ConnectionTimeout(),
		AttemptTimeout:    state.DefaultInvokeTimeout,
		MaxRetries:        cfg.MaxRetries(),
		InitialBackoff:    cfg.InitialBackoff(),
		DynamicRouteTTL:   state.DefaultDynamicRouteTTL,
		Shim:              ip.shim,
		Rib:               r,
		Resolver:          resolver,
		Pool:              pool,
		Log:               log.With("component", "enrolment"),
	})

	ip.relay = rmt.New(localAddr, log.With("component", "rmt"), ip.shim, ip.fal, resolver, ip.enrolMgr, ip.efcpEp)
	ip.efcpEp.SetForwarder(ip.relay)

	return ip, nil
}

// Start implements state.Module: binds the Shim, installs configured
// static routes, starts the RMT inbound loop and the periodic background
// tasks, and — in member mode — runs enrolment against the configured
// bootstrap peers before returning.
func (ip *Ipcp) Start() error {
	ip.mu.Lock()
	if ip.started {
		ip.mu.Unlock()
		return nil
	}
	ip.started = true
	ip.mu.Unlock()

	ip.ctx, ip.cancel = context.WithCancel(context.Background())

	endpoint, err := netip.ParseAddrPort(ip.cfg.Shim.BindEndpoint)
	if err != nil {
		return fmt.Errorf("ipcp: parse shim bind_endpoint: %w", err)
	}
	if err := ip.shim.Bind(endpoint); err != nil {
		return fmt.Errorf("ipcp: bind shim: %w", err)
	}

	for _, sr := range ip.cfg.Routing.StaticRoutes {
		if err := ip.resolver.AddStaticRoute(sr.Dst, sr.NextHopRinaAddr, sr.NextHopEndpoint); err != nil {
			return fmt.Errorf("ipcp: install static route to %d: %w", sr.Dst, err)
		}
	}

	if ip.cfg.Mode == state.ModeBootstrap {
		ip.loadPersistedSnapshot()
	}

	go ip.relay.Run(ip.ctx)
	state.RepeatTask(ip.ctx, state.DefaultStaleFlowTimeout, func() {
		ip.fal.CleanupStale(state.DefaultStaleFlowTimeout)
	})
	if ip.cfg.Rib.SnapshotPath != "" {
		state.RepeatTask(ip.ctx, ip.cfg.SnapshotInterval(), ip.persistSnapshot)
	}

	if ip.cfg.Mode == state.ModeMember {
		if err := ip.enrolWithConfiguredPeers(); err != nil {
			return err
		}
		addr := ip.enrolMgr.LocalAddr()
		ip.relay.SetLocalAddr(addr)
		ip.efcpEp.SetLocalAddr(addr)

		ip.enrolMgr.RunSync(ip.ctx, ip.cfg.RibSyncInterval())
		ip.enrolMgr.RunConnectionMonitor(ip.ctx)
	}

	ip.log.Info("ipcp started", "ipcp_name", ip.cfg.IpcpName, "mode", ip.cfg.Mode, "local_addr", ip.LocalAddr())
	return nil
}

// enrolWithConfiguredPeers tries each of cfg.BootstrapPeers in order,
// returning the first success. spec.md §6 allows more than one configured
// peer but is silent on selection policy beyond "obtains its address and
// initial state from an existing member" — first-reachable is the simplest
// policy consistent with that.
func (ip *Ipcp) enrolWithConfiguredPeers() error {
	var lastErr error
	for _, peer := range ip.cfg.BootstrapPeers {
		endpoint, err := netip.ParseAddrPort(peer.Endpoint)
		if err != nil {
			lastErr = fmt.Errorf("ipcp: parse bootstrap peer endpoint %q: %w", peer.Endpoint, err)
			continue
		}
		ctx, cancel := context.WithTimeout(ip.ctx, ip.cfg.EnrolmentTimeout())
		difName, err := ip.enrolMgr.EnrolWithBootstrap(ctx, peer.RinaAddr, endpoint)
		cancel()
		if err == nil {
			ip.log.Info("enrolled", "dif_name", difName, "bootstrap_addr", peer.RinaAddr)
			return nil
		}
		ip.log.Warn("enrolment attempt against bootstrap peer failed", "bootstrap_addr", peer.RinaAddr, "err", err)
		lastErr = err
	}
	if lastErr != nil {
		return fmt.Errorf("%w: %v", ErrNoReachableBootstrapPeer, lastErr)
	}
	return ErrNoReachableBootstrapPeer
}

// Stop implements state.Module: cancels every background task, persists a
// final RIB snapshot if configured, and closes the Shim. Safe to call more
// than once.
func (ip *Ipcp) Stop() error {
	ip.mu.Lock()
	if !ip.started {
		ip.mu.Unlock()
		return nil
	}
	ip.started = false
	ip.mu.Unlock()

	if ip.cancel != nil {
		ip.cancel()
	}
	if ip.cfg.Rib.SnapshotPath != "" {
		ip.persistSnapshot()
	}
	ip.resolver.Close()
	if err := ip.shim.Close(); err != nil {
		return fmt.Errorf("ipcp: close shim: %w", err)
	}
	return nil
}

func (ip *Ipcp) persistSnapshot() {
	payload, err := ip.rib.SerializeSnapshot()
	if err != nil {
		ip.log.Error("snapshot persistence failed to serialize rib", "err", err)
		return
	}
	env := state.SnapshotEnvelope{SavedAt: time.Now(), Version: ip.rib.CurrentVersion(), Payload: payload}
	if err := state.SaveSnapshot(ip.cfg.Rib.SnapshotPath, env); err != nil {
		ip.log.Error("snapshot persistence failed to write file", "path", ip.cfg.Rib.SnapshotPath, "err", err)
	}
}

// loadPersistedSnapshot warm-starts the bootstrap's RIB from a prior run's
// snapshot file, if one exists. A member never does this: it always
// receives its initial state from enrolment, and loading stale local state
// before that first sync would let it briefly disagree with the bootstrap
// it is about to defer to entirely.
func (ip *Ipcp) loadPersistedSnapshot() {
	if ip.cfg.Rib.SnapshotPath == "" {
		return
	}
	env, err := state.LoadSnapshot(ip.cfg.Rib.SnapshotPath)
	if err != nil {
		ip.log.Debug("no persisted rib snapshot to load", "path", ip.cfg.Rib.SnapshotPath, "err", err)
		return
	}
	n, err := ip.rib.DeserializeSnapshot(env.Payload)
	if err != nil {
		ip.log.Warn("failed to load persisted rib snapshot", "path", ip.cfg.Rib.SnapshotPath, "err", err)
		return
	}
	ip.log.Info("loaded persisted rib snapshot", "objects", n, "saved_at", env.SavedAt)
}

// LocalAddr returns this IPCP's current RINA address (0 if a member has not
// yet completed enrolment).
func (ip *Ipcp) LocalAddr() uint64 { return ip.relay.LocalAddr() }

// AllocateFlow, SendData, and Drain expose EFCP's application-facing flow
// operations (spec.md §4.6's "application → EFCP" dataflow edge) on the
// assembled IPCP, rather than requiring a caller to reach into internals.
func (ip *Ipcp) AllocateFlow(remote uint64, qos pdu.QoS) uint64 {
	return ip.efcpEp.AllocateFlow(remote, qos)
}
func (ip *Ipcp) SendData(flowID uint64, payload []byte) error {
	return ip.efcpEp.SendData(flowID, payload)
}
func (ip *Ipcp) Drain(flowID uint64) ([][]byte, error) { return ip.efcpEp.Drain(flowID) }

// Rib exposes the underlying RIB for direct object management (enrolment
// object seeding, tests); it is not otherwise part of the application-facing
// surface.
func (ip *Ipcp) Rib() *rib.Rib { return ip.rib }

// Resolver exposes the route resolver for static route management beyond
// what cfg.Routing.StaticRoutes installs at startup.
func (ip *Ipcp) Resolver() *routing.Resolver { return ip.resolver }

// Inspect renders a human-readable debug dump of neighbours, routes, and
// RIB object counts, grounded on the teacher's core/ipc.go
// HandleNylonIPCGet "inspect" text-rendering pattern — a debug affordance,
// not a control-plane operation (spec.md §9 supplemented features).
func (ip *Ipcp) Inspect() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ipcp: %s (%s, dif=%s)\n", ip.cfg.IpcpName, ip.cfg.Mode, ip.cfg.DifName)
	fmt.Fprintf(&sb, "local_addr: %d\n", ip.LocalAddr())
	fmt.Fprintf(&sb, "enrolment phase: %s\n", ip.enrolMgr.Phase())

	sb.WriteString("\nflows:\n")
	stats := ip.fal.Stats()
	if len(stats) == 0 {
		sb.WriteString("  (none)\n")
	}
	for _, s := range stats {
		fmt.Fprintf(&sb, "  - remote=%d state=%s last_activity=%s sent=%d recv=%d errors=%d\n",
			s.RemoteAddr, s.State, s.LastActivity.Format(time.RFC3339), s.SentPdus, s.ReceivedPdus, s.SendErrors)
	}

	sb.WriteString("\nroutes:\n")
	for _, dst := range sortedDestinations(ip.rib.ListByClass("route.static"), "/routing/static/") {
		fmt.Fprintf(&sb, "  - static %d\n", dst)
	}
	for _, dst := range sortedDestinations(ip.rib.ListByClass("route.dynamic"), "/routing/dynamic/") {
		fmt.Fprintf(&sb, "  - dynamic %d\n", dst)
	}

	sb.WriteString("\nneighbours:\n")
	neighbours := ip.rib.ListByClass("neighbour")
	if len(neighbours) == 0 {
		sb.WriteString("  (none)\n")
	}
	for _, name := range neighbours {
		obj, ok := ip.rib.Read(name)
		addr := int64(0)
		if ok {
			addr, _ = obj.Value.AsInt()
		}
		fmt.Fprintf(&sb, "  - %s -> %d\n", strings.TrimPrefix(name, "/enrolment/neighbours/"), addr)
	}

	fmt.Fprintf(&sb, "\nrib: %d objects, version=%d\n", ip.rib.Count(), ip.rib.CurrentVersion())
	return sb.String()
}

// sortedDestinations turns RIB route object names into a numerically
// ordered list of destination addresses. rib.ListByClass iterates a map and
// gives no ordering guarantee, so Inspect's output would otherwise vary
// between calls; state.Pair/state.SortPairs gives a stable, numeric (not
// lexicographic-string) ordering.
func sortedDestinations(names []string, prefix string) []uint64 {
	pairs := make([]state.Pair[uint64, string], 0, len(names))
	for _, name := range names {
		dst, err := strconv.ParseUint(strings.TrimPrefix(name, prefix), 10, 64)
		if err != nil {
			continue
		}
		pairs = append(pairs, state.Pair[uint64, string]{V1: dst, V2: name})
	}
	state.SortPairs(pairs)

	out := make([]uint64, len(pairs))
	for i, p := range pairs {
		out[i] = p.V1
	}
	return out
}
