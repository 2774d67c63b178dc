package efcp

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arinet/corina/pdu"
)

type capturingForwarder struct {
	mu  sync.Mutex
	out []pdu.Pdu
}

func (f *capturingForwarder) Forward(p pdu.Pdu) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, p)
}

func TestAllocateFlowReturnsUniqueIDs(t *testing.T) {
	fw := &capturingForwarder{}
	e := New(1, fw)
	a := e.AllocateFlow(2, pdu.QoS{})
	b := e.AllocateFlow(2, pdu.QoS{})
	assert.NotEqual(t, a, b)
}

func TestSendDataConstructsDataPdu(t *testing.T) {
	fw := &capturingForwarder{}
	e := New(1, fw)
	id := e.AllocateFlow(2, pdu.QoS{Class: 1, Priority: 5})

	require.NoError(t, e.SendData(id, []byte("payload1")))
	require.NoError(t, e.SendData(id, []byte("payload2")))

	require.Len(t, fw.out, 2)
	assert.Equal(t, uint64(0), fw.out[0].SeqNo)
	assert.Equal(t, uint64(1), fw.out[1].SeqNo)
	assert.Equal(t, uint64(2), fw.out[0].DstAddr)
	assert.Equal(t, uint64(1), fw.out[0].SrcAddr)
	assert.True(t, fw.out[0].IsData())
}

func TestSendDataUnknownFlow(t *testing.T) {
	fw := &capturingForwarder{}
	e := New(1, fw)
	err := e.SendData(999, []byte("x"))
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestReceivePduAppendsToQueue(t *testing.T) {
	fw := &capturingForwarder{}
	e := New(1, fw)
	id := e.AllocateFlow(2, pdu.QoS{})

	p := pdu.NewData(2, 1, id, 0, []byte("inbound"))
	require.NoError(t, e.ReceivePdu(p))

	drained, err := e.Drain(id)
	require.NoError(t, err)
	require.Len(t, drained, 1)
	assert.Equal(t, []byte("inbound"), drained[0])
}

func TestReceivePduAutoCreatesFlow(t *testing.T) {
	fw := &capturingForwarder{}
	e := New(1, fw)

	p := pdu.NewData(5, 1, 42, 0, []byte("new-flow"))
	require.NoError(t, e.ReceivePdu(p))

	drained, err := e.Drain(42)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("new-flow")}, drained)
}

func TestDrainClearsQueue(t *testing.T) {
	fw := &capturingForwarder{}
	e := New(1, fw)
	id := e.AllocateFlow(2, pdu.QoS{})
	require.NoError(t, e.ReceivePdu(pdu.NewData(2, 1, id, 0, []byte("a"))))

	first, err := e.Drain(id)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := e.Drain(id)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestReceivePduIgnoresNonData(t *testing.T) {
	fw := &capturingForwarder{}
	e := New(1, fw)
	require.NoError(t, e.ReceivePdu(pdu.NewAck(2, 1, 1, 0)))
}

func TestSetLocalAddrAffectsSubsequentSends(t *testing.T) {
	fw := &capturingForwarder{}
	e := New(0, fw)
	e.SetLocalAddr(7)
	assert.Equal(t, uint64(7), e.LocalAddr())

	id := e.AllocateFlow(2, pdu.QoS{})
	require.NoError(t, e.SendData(id, []byte("x")))
	require.Len(t, fw.out, 1)
	assert.Equal(t, uint64(7), fw.out[0].SrcAddr)
}

func TestSetForwarderRebindsOutboundTarget(t *testing.T) {
	first := &capturingForwarder{}
	e := New(1, first)
	second := &capturingForwarder{}
	e.SetForwarder(second)

	id := e.AllocateFlow(2, pdu.QoS{})
	require.NoError(t, e.SendData(id, []byte("x")))
	assert.Empty(t, first.out)
	assert.Len(t, second.out, 1)
}
