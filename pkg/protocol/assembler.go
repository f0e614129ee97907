package protocol

import "encoding/binary"

// Assembler reassembles frames from a byte stream. One transport read does
// not necessarily carry exactly one frame: frames may be split across reads
// or coalesced into one, so the read path feeds raw bytes in and pulls
// complete frames out.
//
// Fed bytes are de-obfuscated incrementally, which is valid because
// Transform is positionally stateless.
type Assembler struct {
	transform Transform
	buf       []byte
}

// NewAssembler creates an assembler using the codec's transform.
func NewAssembler(c *Codec) *Assembler {
	return &Assembler{transform: c.Transform()}
}

// Feed appends raw wire bytes to the internal buffer.
func (a *Assembler) Feed(data []byte) {
	start := len(a.buf)
	a.buf = append(a.buf, data...)
	a.transform.Invert(a.buf[start:])
}

// Next returns the next complete frame, or nil when more bytes are needed.
// A non-nil error means the stream is desynchronized (a header declaring an
// impossible length); the caller should Reset or drop the connection.
func (a *Assembler) Next() (*Frame, error) {
	if len(a.buf) < HeaderSize {
		return nil, nil
	}

	length := int(binary.BigEndian.Uint16(a.buf[2:4]))
	if length > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}

	total := HeaderSize + length
	if len(a.buf) < total {
		return nil, nil
	}

	payload := make([]byte, length)
	copy(payload, a.buf[HeaderSize:total])
	frame := &Frame{
		Type:    a.buf[0],
		Command: a.buf[1],
		Payload: payload,
	}

	a.buf = a.buf[:copy(a.buf, a.buf[total:])]
	return frame, nil
}

// Pending reports how many buffered bytes await assembly.
func (a *Assembler) Pending() int {
	return len(a.buf)
}

// Reset discards any buffered bytes.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
}
