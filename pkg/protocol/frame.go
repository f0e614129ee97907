package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	// MaxPayloadSize is the maximum payload length a frame may carry.
	MaxPayloadSize = 1020

	// MaxFrameSize is the maximum encoded frame size (header + payload).
	// It matches the server's fixed receive buffer, so a frame always
	// fits in a single read.
	MaxFrameSize = 1024

	// HeaderSize is the fixed frame header: type, command, length (u16 BE).
	HeaderSize = 4
)

// Frame type markers.
const (
	TypeRequest  = 0x01
	TypeResponse = 0x02
)

var (
	ErrFrameTooLarge      = errors.New("frame payload exceeds maximum size")
	ErrInsufficientHeader = errors.New("insufficient data for frame header")
	ErrLengthMismatch     = errors.New("declared payload length exceeds buffer")
	ErrEmbeddedNUL        = errors.New("argument contains embedded NUL byte")
)

// Frame is one discrete protocol message.
// Wire format (big-endian): [0] type, [1] command, [2:4] payload length,
// [4:] payload. The payload is a sequence of NUL-terminated argument strings.
type Frame struct {
	Type    uint8
	Command uint8
	Payload []byte
}

// NewRequest returns an empty request frame for the given command.
func NewRequest(command uint8) *Frame {
	return &Frame{Type: TypeRequest, Command: command}
}

// NewResponse returns an empty response frame for the given command.
func NewResponse(command uint8) *Frame {
	return &Frame{Type: TypeResponse, Command: command}
}

// AddArg appends a NUL-terminated argument to the payload.
// Arguments must not contain NUL bytes, since NUL is the separator.
func (f *Frame) AddArg(arg string) error {
	if bytes.IndexByte([]byte(arg), 0) >= 0 {
		return ErrEmbeddedNUL
	}
	f.Payload = append(f.Payload, arg...)
	f.Payload = append(f.Payload, 0)
	return nil
}

// AddArgs appends multiple arguments, stopping at the first invalid one.
func (f *Frame) AddArgs(args ...string) error {
	for _, arg := range args {
		if err := f.AddArg(arg); err != nil {
			return err
		}
	}
	return nil
}

// Args splits the payload into its NUL-terminated arguments.
// Trailing bytes without a terminator are ignored, mirroring the wire
// convention that every argument ends in NUL.
func (f *Frame) Args() []string {
	var args []string
	start := 0
	for i, b := range f.Payload {
		if b == 0 {
			args = append(args, string(f.Payload[start:i]))
			start = i + 1
		}
	}
	return args
}

// Codec encodes and decodes frames, applying a reversible byte transform
// to the full header+payload buffer before transmission. The transform is
// an obfuscation hook, not encryption.
type Codec struct {
	transform Transform
}

// NewCodec creates a codec using the given transform. A nil transform
// means Identity (no obfuscation).
func NewCodec(t Transform) *Codec {
	if t == nil {
		t = Identity{}
	}
	return &Codec{transform: t}
}

// Transform returns the codec's byte transform.
func (c *Codec) Transform() Transform {
	return c.transform
}

// Encode serializes a frame to wire bytes.
// Fails with ErrFrameTooLarge when the payload exceeds MaxPayloadSize.
func (c *Codec) Encode(f *Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = f.Type
	buf[1] = f.Command
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)

	c.transform.Apply(buf)
	return buf, nil
}

// Decode parses exactly one frame from the given bytes.
// Fails with ErrInsufficientHeader when fewer than 4 bytes are available
// after the inverse transform, and with ErrLengthMismatch when the declared
// payload length exceeds the remaining bytes. Bytes beyond the declared
// length are ignored.
func (c *Codec) Decode(data []byte) (*Frame, error) {
	plain := make([]byte, len(data))
	copy(plain, data)
	c.transform.Invert(plain)

	if len(plain) < HeaderSize {
		return nil, ErrInsufficientHeader
	}

	length := int(binary.BigEndian.Uint16(plain[2:4]))
	if length > len(plain)-HeaderSize {
		return nil, ErrLengthMismatch
	}

	payload := make([]byte, length)
	copy(payload, plain[HeaderSize:HeaderSize+length])

	return &Frame{
		Type:    plain[0],
		Command: plain[1],
		Payload: payload,
	}, nil
}
