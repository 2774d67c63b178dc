package mock

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arinet/corina/pdu"
	"github.com/arinet/corina/shim"
)

func mustAddr(s string) netip.AddrPort {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		panic(err)
	}
	return ap
}

func TestSendPduDeliversToRegisteredPeer(t *testing.T) {
	net := NewNetwork()
	a := New(net)
	b := New(net)

	require.NoError(t, a.Bind(mustAddr("127.0.0.1:9001")))
	require.NoError(t, b.Bind(mustAddr("127.0.0.1:9002")))

	a.RegisterPeer(2, mustAddr("127.0.0.1:9002"))

	p := pdu.NewData(1, 2, 0, 0, []byte("hi"))
	require.NoError(t, a.SendPdu(p))

	select {
	case recv := <-b.Inbound():
		assert.Equal(t, uint64(1), recv.Pdu.SrcAddr)
		assert.Equal(t, []byte("hi"), recv.Pdu.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestSendPduUnknownPeerFails(t *testing.T) {
	net := NewNetwork()
	a := New(net)
	require.NoError(t, a.Bind(mustAddr("127.0.0.1:9003")))

	err := a.SendPdu(pdu.NewData(1, 99, 0, 0, nil))
	assert.ErrorIs(t, err, shim.ErrUnknownPeer)
}

func TestUpdatePeerRedirectsTraffic(t *testing.T) {
	net := NewNetwork()
	a, b, c := New(net), New(net), New(net)
	require.NoError(t, a.Bind(mustAddr("127.0.0.1:9011")))
	require.NoError(t, b.Bind(mustAddr("127.0.0.1:9012")))
	require.NoError(t, c.Bind(mustAddr("127.0.0.1:9013")))

	a.RegisterPeer(2, mustAddr("127.0.0.1:9012"))
	a.UpdatePeer(2, mustAddr("127.0.0.1:9013"))

	require.NoError(t, a.SendPdu(pdu.NewData(1, 2, 0, 0, nil)))
	select {
	case <-c.Inbound():
	case <-time.After(time.Second):
		t.Fatal("expected delivery to updated endpoint")
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	net := NewNetwork()
	a := New(net)
	require.NoError(t, a.Bind(mustAddr("127.0.0.1:9021")))
	require.NoError(t, a.Close())

	_, ok := <-a.Inbound()
	assert.False(t, ok)
}
