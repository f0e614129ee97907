package server

import (
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/jmallard/chatd/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  protocol.MaxFrameSize,
	WriteBufferSize: protocol.MaxFrameSize,
	// Browser clients connect from arbitrary origins; the protocol has
	// its own authentication.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsWire adapts a WebSocket connection to the wire interface. Each
// binary message carries exactly one obfuscated frame, so the bridge
// never needs stream reassembly.
type wsWire struct {
	conn *websocket.Conn
}

func (w *wsWire) WriteBytes(data []byte) error {
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsWire) Close() error {
	return w.conn.Close()
}

func (w *wsWire) RemoteAddr() net.Addr {
	return w.conn.RemoteAddr()
}

// HandleWebSocket upgrades an HTTP request and attaches the WebSocket
// connection to the same session and dispatch path as TCP clients.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.shutdown:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		errorLog.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	sess := s.sessions.Add(NewSafeConn(&wsWire{conn: conn}, s.codec))
	debugLog.Printf("New WebSocket connection from %s (session %d)", conn.RemoteAddr(), sess.ID)

	s.wg.Add(1)
	go s.wsReadLoop(sess, conn)
}

// wsReadLoop reads binary messages and queues the decoded frames on the
// session mailbox.
func (s *Server) wsReadLoop(sess *Session, conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			debugLog.Printf("Session %d: WebSocket closed: %v", sess.ID, err)
			s.removeSession(sess.ID)
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		frame, err := s.codec.Decode(data)
		if err != nil {
			// Same policy as TCP: malformed input is logged, the
			// connection stays open.
			errorLog.Printf("Session %d: frame decode failed: %v", sess.ID, err)
			s.metrics.RecordDecodeError()
			continue
		}

		s.enqueueFrame(sess.ID, frame)
	}
}
