package server

import (
	"net"
	"sync"

	"github.com/jmallard/chatd/pkg/protocol"
)

// wire is the transport half a session writes to. TCP and WebSocket
// connections both satisfy it, so the dispatch path never cares which
// transport a session arrived on.
type wire interface {
	WriteBytes(data []byte) error
	Close() error
	RemoteAddr() net.Addr
}

// tcpWire adapts a net.Conn to the wire interface.
type tcpWire struct {
	conn net.Conn
}

func (w *tcpWire) WriteBytes(data []byte) error {
	_, err := w.conn.Write(data)
	return err
}

func (w *tcpWire) Close() error {
	return w.conn.Close()
}

func (w *tcpWire) RemoteAddr() net.Addr {
	return w.conn.RemoteAddr()
}

// SafeConn wraps a transport with automatic write synchronization to
// prevent concurrent writes from corrupting wire frames.
//
// Under load, multiple goroutines (request handlers and broadcast senders)
// may try to write to the same connection simultaneously. Without
// synchronization their frame bytes interleave on the wire. SafeConn
// encapsulates both the transport and its write mutex, making it
// impossible to write without proper synchronization.
type SafeConn struct {
	w     wire
	codec *protocol.Codec
	mu    sync.Mutex // Protects writes to w
}

// NewSafeConn wraps a transport with write synchronization.
func NewSafeConn(w wire, codec *protocol.Codec) *SafeConn {
	return &SafeConn{w: w, codec: codec}
}

// WriteFrame encodes and sends a protocol frame with automatic write
// synchronization. This is the only way to write frames to the
// connection; the raw transport is private.
func (sc *SafeConn) WriteFrame(frame *protocol.Frame) error {
	data, err := sc.codec.Encode(frame)
	if err != nil {
		return err
	}
	return sc.WriteBytes(data)
}

// WriteBytes writes raw bytes to the connection with synchronization.
// Used for pre-encoded frames in broadcast operations.
func (sc *SafeConn) WriteBytes(data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.w.WriteBytes(data)
}

// Close closes the underlying transport.
func (sc *SafeConn) Close() error {
	return sc.w.Close()
}

// RemoteAddr returns the remote network address.
func (sc *SafeConn) RemoteAddr() net.Addr {
	return sc.w.RemoteAddr()
}
