package rmt

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arinet/corina/fal"
	"github.com/arinet/corina/pdu"
	"github.com/arinet/corina/rib"
	"github.com/arinet/corina/routing"
	"github.com/arinet/corina/shim/mock"
)

type recordingHandler struct {
	mu       sync.Mutex
	received []pdu.Pdu
}

func (h *recordingHandler) HandleManagement(p pdu.Pdu, _ netip.AddrPort) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, p)
}

func (h *recordingHandler) HandleData(p pdu.Pdu) {
	h.HandleManagement(p, netip.AddrPort{})
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.received)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRelayDeliversLocalManagement(t *testing.T) {
	net := mock.NewNetwork()
	s := mock.New(net)
	require.NoError(t, s.Bind(netip.MustParseAddrPort("127.0.0.1:9500")))

	r := routing.New(rib.New(10))
	f := fal.New(s, r)
	mgmt := &recordingHandler{}
	data := &recordingHandler{}

	relay := New(1, testLogger(), s, f, r, mgmt, data)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)

	p := pdu.NewManagement(2, 1, []byte("hello"))
	s.RegisterPeer(2, netip.MustParseAddrPort("127.0.0.1:9500"))

	other := mock.New(net)
	require.NoError(t, other.Bind(netip.MustParseAddrPort("127.0.0.1:9600")))
	other.RegisterPeer(1, netip.MustParseAddrPort("127.0.0.1:9500"))
	require.NoError(t, other.SendPdu(p))

	require.Eventually(t, func() bool { return mgmt.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, data.count())
}

func TestRelayForwardsTransitTraffic(t *testing.T) {
	net := mock.NewNetwork()
	s := mock.New(net)
	require.NoError(t, s.Bind(netip.MustParseAddrPort("127.0.0.1:9510")))

	dest := mock.New(net)
	require.NoError(t, dest.Bind(netip.MustParseAddrPort("127.0.0.1:9520")))

	r := routing.New(rib.New(10))
	require.NoError(t, r.AddStaticRoute(3, 3, "127.0.0.1:9520"))
	f := fal.New(s, r)

	relay := New(1, testLogger(), s, f, r, &recordingHandler{}, &recordingHandler{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)

	origin := mock.New(net)
	require.NoError(t, origin.Bind(netip.MustParseAddrPort("127.0.0.1:9530")))
	origin.RegisterPeer(1, netip.MustParseAddrPort("127.0.0.1:9510"))
	require.NoError(t, origin.SendPdu(pdu.NewData(2, 3, 0, 0, []byte("transit"))))

	select {
	case recv := <-dest.Inbound():
		assert.Equal(t, []byte("transit"), recv.Pdu.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected transit pdu to be forwarded")
	}
}

func TestRelayDropsOnNoRoute(t *testing.T) {
	net := mock.NewNetwork()
	s := mock.New(net)
	require.NoError(t, s.Bind(netip.MustParseAddrPort("127.0.0.1:9540")))
	r := routing.New(rib.New(10))
	f := fal.New(s, r)

	relay := New(1, testLogger(), s, f, r, &recordingHandler{}, &recordingHandler{})
	relay.Forward(pdu.NewData(2, 999, 0, 0, nil))

	assert.Equal(t, uint64(1), relay.DroppedNoRoute())
}

func TestRelaySetLocalAddrRetargetsLocalDelivery(t *testing.T) {
	net := mock.NewNetwork()
	s := mock.New(net)
	require.NoError(t, s.Bind(netip.MustParseAddrPort("127.0.0.1:9550")))

	r := routing.New(rib.New(10))
	f := fal.New(s, r)
	mgmt := &recordingHandler{}

	relay := New(0, testLogger(), s, f, r, mgmt, &recordingHandler{})
	assert.Equal(t, uint64(0), relay.LocalAddr())
	relay.SetLocalAddr(9)
	assert.Equal(t, uint64(9), relay.LocalAddr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)

	other := mock.New(net)
	require.NoError(t, other.Bind(netip.MustParseAddrPort("127.0.0.1:9560")))
	other.RegisterPeer(9, netip.MustParseAddrPort("127.0.0.1:9550"))
	require.NoError(t, other.SendPdu(pdu.NewManagement(1, 9, []byte("hi"))))

	require.Eventually(t, func() bool { return mgmt.count() == 1 }, time.Second, 5*time.Millisecond)
}
