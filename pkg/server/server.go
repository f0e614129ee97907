package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jmallard/chatd/pkg/database"
	"github.com/jmallard/chatd/pkg/executor"
	"github.com/jmallard/chatd/pkg/protocol"
)

// wireMask is the byte transform applied to every frame on the wire.
// It is obfuscation, not encryption.
const wireMask = protocol.XORMask(0xFF)

var (
	errorLog *log.Logger
	debugLog *log.Logger
)

func init() {
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
}

// EnableDebugLogging routes debug output to stderr.
func EnableDebugLogging() {
	debugLog = log.New(os.Stderr, "DEBUG: ", log.LstdFlags)
}

// Server is the chat server: listener, session and channel registries,
// the worker pool, and the persistence backend.
type Server struct {
	store     database.Store
	files     *FileStore
	sessions  *SessionManager
	channels  *ChannelRegistry
	codec     *protocol.Codec
	exec      *executor.Executor
	config    ServerConfig
	listener  net.Listener
	shutdown  chan struct{}
	wg        sync.WaitGroup
	metrics   *Metrics
	startTime time.Time
}

// NewServer creates a server instance, loading the channel registry from
// the store and creating any missing seed channels.
func NewServer(store database.Store, files *FileStore, config ServerConfig) (*Server, error) {
	metrics := NewMetrics()
	sessions := NewSessionManager()
	sessions.SetMetrics(metrics)

	s := &Server{
		store:     store,
		files:     files,
		sessions:  sessions,
		channels:  NewChannelRegistry(),
		codec:     protocol.NewCodec(wireMask),
		exec:      executor.New(config.Workers),
		config:    config,
		shutdown:  make(chan struct{}),
		metrics:   metrics,
		startTime: time.Now(),
	}

	if err := s.loadChannels(); err != nil {
		return nil, fmt.Errorf("failed to load channels: %w", err)
	}
	if err := s.seedChannels(); err != nil {
		return nil, fmt.Errorf("failed to seed channels: %w", err)
	}

	return s, nil
}

// loadChannels populates the channel registry from the store.
func (s *Server) loadChannels() error {
	ids, err := s.store.ListChannelIDs()
	if err != nil {
		return err
	}

	for _, id := range ids {
		rec, err := s.store.LoadChannel(id)
		if err != nil {
			return fmt.Errorf("failed to load channel %d: %w", id, err)
		}
		s.channels.Add(ChannelFromRecord(rec))
	}

	log.Printf("Loaded %d channels", len(ids))
	return nil
}

// seedChannels creates configured channels that don't exist yet. Seed
// channels have no creator and start without members.
func (s *Server) seedChannels() error {
	for _, seed := range s.config.SeedChannels {
		if _, ok := s.channels.GetByName(seed.Name); ok {
			continue
		}

		id, err := s.store.CreateChannel(seed.Name, seed.Description, "", 0)
		if err != nil {
			return fmt.Errorf("failed to create seed channel %s: %w", seed.Name, err)
		}
		s.channels.Add(NewChannel(id, seed.Name, seed.Description, "", 0))
		log.Printf("Created seed channel %s", seed.Name)
	}
	return nil
}

// Start begins listening for TCP connections and serving the auxiliary
// HTTP endpoints.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.TCPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	log.Printf("TCP server listening on %s", listener.Addr())

	// Internal metrics server - never expose publicly.
	if s.config.MetricsPort > 0 {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", s.metrics.Handler())
			mux.HandleFunc("/health", s.HealthHandler)
			addr := fmt.Sprintf(":%d", s.config.MetricsPort)
			log.Printf("Metrics server listening on %s (/metrics, /health) - INTERNAL ONLY", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Public WebSocket bridge.
	if s.config.HTTPPort > 0 {
		go func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/ws", s.HandleWebSocket)
			addr := fmt.Sprintf(":%d", s.config.HTTPPort)
			log.Printf("WebSocket bridge listening on %s (/ws)", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("WebSocket bridge error: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go s.acceptLoop(listener)

	return nil
}

// Addr returns the address the TCP listener is bound to.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the server: no new connections, all sessions
// closed, queued work drained.
func (s *Server) Stop() error {
	log.Println("Graceful shutdown initiated...")

	close(s.shutdown)

	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}

	s.sessions.CloseAll()
	s.wg.Wait()

	// Queued tasks always drain before the executor reports stopped.
	s.exec.Shutdown()

	log.Println("Graceful shutdown complete")
	return nil
}

// acceptLoop accepts incoming TCP connections.
func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				log.Printf("Accept error: %v", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection registers a session for the connection and runs its
// read loop. Stop waits for every read loop to unwind before draining
// the executor.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	// Disable Nagle's algorithm for immediate sends
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	sess := s.sessions.Add(NewSafeConn(&tcpWire{conn: conn}, s.codec))
	debugLog.Printf("New connection from %s (session %d)", conn.RemoteAddr(), sess.ID)

	s.readLoop(sess, conn)
}

// readLoop performs bounded reads and feeds the stream assembler. Frames
// may be split or coalesced across reads; the assembler reassembles them.
// Each complete frame is queued on the session's mailbox for serialized
// handling.
func (s *Server) readLoop(sess *Session, r io.Reader) {
	buf := make([]byte, protocol.MaxFrameSize)
	asm := protocol.NewAssembler(s.codec)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			asm.Feed(buf[:n])
			for {
				frame, ferr := asm.Next()
				if ferr != nil {
					// Malformed input does not close the connection, but a
					// desynced stream can't be re-framed; drop the buffer.
					errorLog.Printf("Session %d: frame decode failed: %v", sess.ID, ferr)
					s.metrics.RecordDecodeError()
					asm.Reset()
					break
				}
				if frame == nil {
					break
				}
				s.enqueueFrame(sess.ID, frame)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				debugLog.Printf("Session %d: disconnected", sess.ID)
			} else {
				select {
				case <-s.shutdown:
				default:
					debugLog.Printf("Session %d: read error: %v", sess.ID, err)
				}
			}
			s.removeSession(sess.ID)
			return
		}
	}
}

// enqueueFrame appends a frame to the session mailbox and schedules the
// session on the executor if it isn't already scheduled. At most one
// worker drains a given session at a time, so frames are handled in
// arrival order and all per-session mutation happens on one path.
func (s *Server) enqueueFrame(sessionID uint64, frame *protocol.Frame) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return
	}

	sess.mbMu.Lock()
	sess.mailbox = append(sess.mailbox, frame)
	schedule := !sess.scheduled
	if schedule {
		sess.scheduled = true
	}
	sess.mbMu.Unlock()

	if schedule {
		if !s.exec.Enqueue(func() { s.drainMailbox(sessionID) }) {
			// Executor stopped; frames are dropped during shutdown.
			sess.mbMu.Lock()
			sess.scheduled = false
			sess.mailbox = nil
			sess.mbMu.Unlock()
		}
	}
}

// drainMailbox handles queued frames for one session until the mailbox is
// empty. The session is re-resolved through the registry on every
// iteration so a racing disconnect stops the drain instead of touching a
// removed session.
func (s *Server) drainMailbox(sessionID uint64) {
	for {
		sess, ok := s.sessions.Get(sessionID)
		if !ok {
			return
		}

		sess.mbMu.Lock()
		if len(sess.mailbox) == 0 {
			sess.scheduled = false
			sess.mbMu.Unlock()
			return
		}
		frame := sess.mailbox[0]
		sess.mailbox = sess.mailbox[1:]
		sess.mbMu.Unlock()

		s.handleFrame(sess, frame)
	}
}

// handleFrame dispatches one request frame to its command handler.
func (s *Server) handleFrame(sess *Session, frame *protocol.Frame) {
	s.metrics.RecordFrameReceived(protocol.CommandName(frame.Command))

	if frame.Type != protocol.TypeRequest {
		debugLog.Printf("Session %d: dropping non-request frame (type 0x%02x)", sess.ID, frame.Type)
		return
	}

	var err error
	switch frame.Command {
	case protocol.CmdLogin:
		err = s.handleLogin(sess, frame)
	case protocol.CmdListChannels:
		err = s.handleListChannels(sess, frame)
	case protocol.CmdListUsers:
		err = s.handleListUsers(sess, frame)
	case protocol.CmdGetUserMessages:
		err = s.handleGetUserMessages(sess, frame)
	case protocol.CmdGetChannelMessages:
		err = s.handleGetChannelMessages(sess, frame)
	case protocol.CmdChannelMessage:
		err = s.handleChannelMessage(sess, frame)
	case protocol.CmdUserMessage:
		err = s.handleUserMessage(sess, frame)
	case protocol.CmdJoinChannel:
		err = s.handleJoinChannel(sess, frame)
	case protocol.CmdCreateChannel:
		err = s.handleCreateChannel(sess, frame)
	case protocol.CmdUpload:
		err = s.handleUpload(sess, frame)
	case protocol.CmdDownload:
		err = s.handleDownload(sess, frame)
	default:
		err = s.sendError(sess, protocol.RespClientError, "unknown command")
	}

	if err != nil {
		if errors.Is(err, protocol.ErrFrameTooLarge) {
			// The response did not fit in a frame; the connection itself
			// is fine. Tell the requester and keep the session.
			errorLog.Printf("Session %d: response to %s too large", sess.ID, protocol.CommandName(frame.Command))
			if err = s.sendError(sess, protocol.RespServerError, "response too large"); err == nil {
				return
			}
		}
		// A write failure means the connection is gone.
		debugLog.Printf("Session %d: send failed: %v", sess.ID, err)
		s.removeSession(sess.ID)
	}
}

// removeSession removes a session and closes its connection.
func (s *Server) removeSession(sessionID uint64) {
	s.sessions.Remove(sessionID)
}
