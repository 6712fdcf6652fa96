package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, frame *Frame) *Frame {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, frame))
	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	return got
}

func TestCommandRoundTrip(t *testing.T) {
	frame := NewCommand(CmdSendMessage, "7", "3", "hello | world, with\nnewline")
	got := roundTrip(t, frame)

	assert.Equal(t, KindCommand, got.Kind)
	fields := got.Command()
	require.Len(t, fields, 4)
	assert.Equal(t, CmdSendMessage, fields[0])
	assert.Equal(t, "hello | world, with\nnewline", fields[3])
}

func TestBoolRoundTrip(t *testing.T) {
	assert.True(t, roundTrip(t, NewBool(true)).Bool())
	assert.False(t, roundTrip(t, NewBool(false)).Bool())
}

func TestIDListRoundTrip(t *testing.T) {
	frame, err := NewIDList([]int64{3, 1, 7})
	require.NoError(t, err)
	got := roundTrip(t, frame)

	assert.Equal(t, KindIDList, got.Kind)
	var ids []int64
	require.NoError(t, got.DecodeJSON(&ids))
	assert.Equal(t, []int64{3, 1, 7}, ids)
}

func TestIDListNilBecomesEmpty(t *testing.T) {
	frame, err := NewIDList(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(frame.Payload))
}

func TestBlobRoundTrip(t *testing.T) {
	data := []byte{0, 1, 2, 0xff, 0x7c, 0x5c}
	got := roundTrip(t, NewBlob(data))
	assert.Equal(t, KindBlob, got.Kind)
	assert.Equal(t, data, got.Payload)
}

func TestReadFrameRejectsUnknownKind(t *testing.T) {
	buf := bytes.NewBuffer([]byte{99, 0, 0, 0, 0})
	_, err := ReadFrame(buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptFrame)
}

func TestReadFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(KindBlob)
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := ReadFrame(&buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptFrame)
}

func TestReadFrameSequence(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, NewCommand(CmdPing)))
	require.NoError(t, WriteFrame(&buf, NewBlob([]byte("payload"))))

	first, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindCommand, first.Kind)

	second, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindBlob, second.Kind)
	assert.Equal(t, "payload", string(second.Payload))
}
