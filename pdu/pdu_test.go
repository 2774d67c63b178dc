package pdu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDataPdu(t *testing.T) {
	p := NewData(100, 200, 1, 0, []byte{1, 2, 3, 4})
	assert.EqualValues(t, 100, p.SrcAddr)
	assert.EqualValues(t, 200, p.DstAddr)
	assert.EqualValues(t, 0, p.SeqNo)
	assert.True(t, p.IsData())
}

func TestPduTypePredicates(t *testing.T) {
	data := NewData(1, 2, 1, 0, nil)
	ack := NewAck(1, 2, 1, 5)
	mgmt := NewManagement(1, 2, nil)

	assert.True(t, data.IsData())
	assert.True(t, ack.IsAck())
	assert.True(t, mgmt.IsManagement())
	assert.False(t, data.IsAck())
}

func TestPduWithQoS(t *testing.T) {
	qos := QoS{Class: 1, Priority: 200}
	p := NewDataWithQoS(1, 2, 1, 0, []byte{1, 2, 3}, qos)
	assert.Equal(t, uint8(200), p.QoS.Priority)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := NewDataWithQoS(100, 200, 42, 7, []byte("hello"), QoS{Class: 2, Priority: 9})
	enc, err := Encode(p)
	require.NoError(t, err)

	dec, err := Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, p, dec)
}

func TestDecodeMalformedFails(t *testing.T) {
	_, err := Decode([]byte{0xff, 0x00, 0x01})
	assert.Error(t, err)
}

func TestPduSizeIncludesPayload(t *testing.T) {
	p := NewData(1, 2, 1, 0, make([]byte, 100))
	assert.Equal(t, fixedHeaderSize+100, p.Size())
}
