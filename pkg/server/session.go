package server

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jmallard/chatd/pkg/protocol"
)

// Session represents an active client connection.
//
// The identity fields are written only from the session's serialized
// dispatch path (see Server.drainMailbox), but may be read from broadcast
// fan-out on other sessions' paths, hence the RWMutex.
type Session struct {
	ID         uint64
	Conn       *SafeConn // Transport with automatic write synchronization
	RemoteAddr string

	mu       sync.RWMutex
	userID   int64 // 0 until authenticated
	username string
	nickname string

	// Inbound mailbox. Complete frames land here from the read loop;
	// a single executor task at a time drains them, which is what
	// guarantees in-order handling per connection.
	mbMu      sync.Mutex
	mailbox   []*protocol.Frame
	scheduled bool
}

// SetUser marks the session authenticated.
func (s *Session) SetUser(userID int64, username string) {
	s.mu.Lock()
	s.userID = userID
	s.username = username
	s.mu.Unlock()
}

// UserID returns the authenticated user id, 0 if not logged in.
func (s *Session) UserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Username returns the authenticated username, empty if not logged in.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// Nickname returns the session nickname, falling back to the username.
func (s *Session) Nickname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.nickname != "" {
		return s.nickname
	}
	return s.username
}

// SetNickname updates the session nickname.
func (s *Session) SetNickname(nickname string) {
	s.mu.Lock()
	s.nickname = nickname
	s.mu.Unlock()
}

// Authenticated reports whether a user is attached to this session.
func (s *Session) Authenticated() bool {
	return s.Username() != ""
}

// SessionManager manages all active sessions.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
	nextID   uint64
	metrics  *Metrics
}

// NewSessionManager creates an empty session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[uint64]*Session),
		nextID:   1,
	}
}

// SetMetrics attaches metrics to the session manager.
func (sm *SessionManager) SetMetrics(metrics *Metrics) {
	sm.metrics = metrics
}

// Add registers a new session for the given connection.
func (sm *SessionManager) Add(conn *SafeConn) *Session {
	sessionID := atomic.AddUint64(&sm.nextID, 1) - 1

	sess := &Session{
		ID:         sessionID,
		Conn:       conn,
		RemoteAddr: conn.RemoteAddr().String(),
	}

	sm.mu.Lock()
	sm.sessions[sessionID] = sess
	sessionCount := len(sm.sessions)
	sm.mu.Unlock()

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(sessionCount)
		sm.metrics.RecordSessionCreated()
	}

	return sess
}

// Get returns a session by id.
func (sm *SessionManager) Get(sessionID uint64) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sess, ok := sm.sessions[sessionID]
	return sess, ok
}

// All returns all active sessions.
func (sm *SessionManager) All() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sessions := make([]*Session, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// Remove unregisters a session and closes its connection. Removing an
// unknown id is a no-op, so a racing read-error and shutdown cannot
// double-close.
func (sm *SessionManager) Remove(sessionID uint64) {
	sm.mu.Lock()
	sess, ok := sm.sessions[sessionID]
	if !ok {
		sm.mu.Unlock()
		return
	}
	delete(sm.sessions, sessionID)
	sessionCount := len(sm.sessions)
	sm.mu.Unlock()

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(sessionCount)
		sm.metrics.RecordSessionClosed()
	}

	sess.Conn.Close()
}

// FindByUserID returns every live session authenticated as the given
// user. A user may be connected more than once.
func (sm *SessionManager) FindByUserID(userID int64) []*Session {
	if userID == 0 {
		return nil
	}

	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var result []*Session
	for _, sess := range sm.sessions {
		if sess.UserID() == userID {
			result = append(result, sess)
		}
	}
	return result
}

// OnlineUsernames returns the sorted, deduplicated usernames of all
// authenticated sessions.
func (sm *SessionManager) OnlineUsernames() []string {
	sm.mu.RLock()
	seen := make(map[string]bool)
	for _, sess := range sm.sessions {
		if name := sess.Username(); name != "" {
			seen[name] = true
		}
	}
	sm.mu.RUnlock()

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CloseAll closes every session connection and empties the registry.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, sess := range sm.sessions {
		sess.Conn.Close()
	}
	sm.sessions = make(map[uint64]*Session)
}
