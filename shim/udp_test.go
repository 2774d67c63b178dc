package shim

import (
	"io"
	"log/slog"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arinet/corina/pdu"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// TestSendPduRejectsOversizePdu verifies the MTU check spec.md §6 requires
// at the UDP/IP framing boundary: a PDU whose payload pushes it past
// shim.MTU is rejected before any encode/send attempt, and the rejection is
// counted.
func TestSendPduRejectsOversizePdu(t *testing.T) {
	s := NewUdp(testLogger())
	require.NoError(t, s.Bind(netip.MustParseAddrPort("127.0.0.1:0")))
	defer s.Close()

	s.RegisterPeer(2, netip.MustParseAddrPort("127.0.0.1:1"))

	oversized := pdu.NewData(1, 2, 0, 0, make([]byte, MTU))
	err := s.SendPdu(oversized)
	assert.ErrorIs(t, err, ErrPduTooLarge)
	assert.EqualValues(t, 1, s.OversizeDrops())
}

func TestSendPduAcceptsPduWithinMtu(t *testing.T) {
	s := NewUdp(testLogger())
	require.NoError(t, s.Bind(netip.MustParseAddrPort("127.0.0.1:0")))
	defer s.Close()

	self, err := netip.ParseAddrPort(s.sock.LocalAddr().String())
	require.NoError(t, err)
	s.RegisterPeer(2, self)

	small := pdu.NewData(1, 2, 0, 0, []byte("hello"))
	require.NoError(t, s.SendPdu(small))
	assert.EqualValues(t, 0, s.OversizeDrops())
}
