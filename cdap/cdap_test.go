package cdap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arinet/corina/rib"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	v := rib.Int(42)
	req := NewRequest(OpCreate, 7, "/enrolment/request", "enrolment.request", &v)

	data, err := Encode(req)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, req.OpCode, got.OpCode)
	assert.Equal(t, req.ObjName, got.ObjName)
	assert.Equal(t, req.InvokeID, got.InvokeID)
	require.NotNil(t, got.ObjValue)
	assert.Equal(t, int64(42), *got.ObjValue.Int)
}

func TestDecodeMalformedFails(t *testing.T) {
	_, err := Decode([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}

func TestReplyCorrelatesInvokeID(t *testing.T) {
	req := NewRequest(OpRead, 99, "/rib/sync", "", nil)
	reply := Reply(req, ResultOk, "")
	assert.Equal(t, req.InvokeID, reply.InvokeID)
	assert.True(t, reply.Ok())
}

func TestIsReply(t *testing.T) {
	req := NewRequest(OpRead, 1, "/rib/sync", "", nil)
	assert.False(t, req.IsReply())

	errReply := Reply(req, ResultError, "boom")
	assert.True(t, errReply.IsReply())

	v := rib.Int(7)
	valueReply := ReplyWithValue(req, &v)
	assert.True(t, valueReply.IsReply())

	syncReply := Reply(req, ResultOk, "")
	syncReply.SyncResponse = []byte{1}
	assert.True(t, syncReply.IsReply())
}

func TestUnknownOpReplyShape(t *testing.T) {
	req := Message{OpCode: OpCode(250), InvokeID: 1}
	reply := Reply(req, ResultUnknownOp, "unknown op")
	assert.Equal(t, int32(ResultUnknownOp), reply.Result)
	assert.False(t, reply.Ok())
}

func TestInvokeTrackerRoundTrip(t *testing.T) {
	tr := NewInvokeTracker()
	id := tr.NextID()
	wait := tr.Register(id)

	go func() {
		tr.Resolve(Reply(Message{InvokeID: id}, ResultOk, ""))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, got.InvokeID)
}

func TestInvokeTrackerTimesOut(t *testing.T) {
	tr := NewInvokeTracker()
	id := tr.NextID()
	wait := tr.Register(id)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := wait(ctx)
	assert.Error(t, err)
}

func TestInvokeTrackerIgnoresUnknownReply(t *testing.T) {
	tr := NewInvokeTracker()
	tr.Resolve(Reply(Message{InvokeID: 12345}, ResultOk, ""))
}

func TestInvokeTrackerDistinctIDs(t *testing.T) {
	tr := NewInvokeTracker()
	a := tr.NextID()
	b := tr.NextID()
	assert.NotEqual(t, a, b)
}
