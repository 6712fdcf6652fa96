package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Frame kinds. Every object on the stream is tagged; the reader never has to
// guess a payload's shape. KindIDList is the one deliberately ambiguous
// payload: its meaning is positional within the login burst (friends, then
// pending requests, then online users).
const (
	KindCommand     = uint8(1)
	KindBool        = uint8(2)
	KindIDList      = uint8(3)
	KindMessageList = uint8(4)
	KindGroupList   = uint8(5)
	KindUserList    = uint8(6)
	KindGroup       = uint8(7)
	KindUser        = uint8(8)
	KindRecord      = uint8(9)
	KindBlob        = uint8(10)
)

// MaxPayloadSize bounds a single frame. Anything larger is treated as stream
// corruption rather than an allocation request.
const MaxPayloadSize = 64 << 20

var (
	// ErrCorruptFrame reports an unknown kind or an implausible length
	// prefix. The connection cannot be resynchronized after this.
	ErrCorruptFrame = errors.New("corrupt frame")
)

var littleEndian = binary.LittleEndian

// Frame is one tagged object on the stream.
type Frame struct {
	Kind    uint8
	Payload []byte
}

// ReadFrame reads exactly one frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	var head [5]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	kind := head[0]
	if kind < KindCommand || kind > KindBlob {
		return nil, fmt.Errorf("%w: kind %d", ErrCorruptFrame, kind)
	}
	size := littleEndian.Uint32(head[1:])
	if size > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload %d bytes", ErrCorruptFrame, size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return &Frame{Kind: kind, Payload: payload}, nil
}

// WriteFrame writes f to w as one frame.
func WriteFrame(w io.Writer, f *Frame) error {
	var head [5]byte
	head[0] = f.Kind
	littleEndian.PutUint32(head[1:], uint32(len(f.Payload)))
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	if _, err := w.Write(f.Payload); err != nil {
		return err
	}
	return nil
}

// NewCommand builds a command frame from pipe-joined, escaped fields.
func NewCommand(fields ...string) *Frame {
	return &Frame{Kind: KindCommand, Payload: []byte(JoinCommand(fields...))}
}

// NewBool builds a generic success/failure frame.
func NewBool(ok bool) *Frame {
	b := byte(0)
	if ok {
		b = 1
	}
	return &Frame{Kind: KindBool, Payload: []byte{b}}
}

// NewBlob wraps raw bytes (file payload, avatar bytes).
func NewBlob(data []byte) *Frame {
	return &Frame{Kind: KindBlob, Payload: data}
}

// NewJSON marshals v into a frame of the given kind.
func NewJSON(kind uint8, v interface{}) (*Frame, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Frame{Kind: kind, Payload: payload}, nil
}

// NewIDList builds the ambiguous integer-list frame.
func NewIDList(ids []int64) (*Frame, error) {
	if ids == nil {
		ids = []int64{}
	}
	return NewJSON(KindIDList, ids)
}

// Command returns the frame payload split on unescaped pipes.
func (f *Frame) Command() []string {
	return SplitCommand(string(f.Payload))
}

// Bool decodes a KindBool payload.
func (f *Frame) Bool() bool {
	return len(f.Payload) == 1 && f.Payload[0] == 1
}

// DecodeJSON unmarshals the payload into v.
func (f *Frame) DecodeJSON(v interface{}) error {
	return json.Unmarshal(f.Payload, v)
}
