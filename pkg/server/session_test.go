package server

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmallard/chatd/pkg/protocol"
)

// fakeWire records writes for assertions.
type fakeWire struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func (w *fakeWire) WriteBytes(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	w.writes = append(w.writes, buf)
	return nil
}

func (w *fakeWire) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWire) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

func (w *fakeWire) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func newFakeSession(sm *SessionManager) (*Session, *fakeWire) {
	w := &fakeWire{}
	return sm.Add(NewSafeConn(w, protocol.NewCodec(protocol.Identity{}))), w
}

func TestSessionAuthentication(t *testing.T) {
	sm := NewSessionManager()
	sess, _ := newFakeSession(sm)

	assert.False(t, sess.Authenticated())
	assert.Equal(t, int64(0), sess.UserID())

	sess.SetUser(7, "alice")
	assert.True(t, sess.Authenticated())
	assert.Equal(t, int64(7), sess.UserID())
	assert.Equal(t, "alice", sess.Username())

	// Nickname falls back to the username until set.
	assert.Equal(t, "alice", sess.Nickname())
	sess.SetNickname("al")
	assert.Equal(t, "al", sess.Nickname())
}

func TestSessionManagerAddGetRemove(t *testing.T) {
	sm := NewSessionManager()

	sess, w := newFakeSession(sm)
	require.Equal(t, 1, sm.Count())

	got, ok := sm.Get(sess.ID)
	require.True(t, ok)
	assert.Same(t, sess, got)

	sm.Remove(sess.ID)
	assert.Equal(t, 0, sm.Count())
	assert.True(t, w.isClosed())

	_, ok = sm.Get(sess.ID)
	assert.False(t, ok)

	// Removing twice is a no-op.
	sm.Remove(sess.ID)
}

func TestSessionManagerFindByUserID(t *testing.T) {
	sm := NewSessionManager()

	a1, _ := newFakeSession(sm)
	a2, _ := newFakeSession(sm)
	b, _ := newFakeSession(sm)
	a1.SetUser(1, "alice")
	a2.SetUser(1, "alice")
	b.SetUser(2, "bob")

	found := sm.FindByUserID(1)
	assert.Len(t, found, 2)

	assert.Empty(t, sm.FindByUserID(99))
	// Unauthenticated sessions all share user id 0; never match them.
	assert.Empty(t, sm.FindByUserID(0))
}

func TestSessionManagerOnlineUsernames(t *testing.T) {
	sm := NewSessionManager()

	a, _ := newFakeSession(sm)
	b, _ := newFakeSession(sm)
	c, _ := newFakeSession(sm)
	newFakeSession(sm) // never authenticates

	a.SetUser(1, "carol")
	b.SetUser(2, "alice")
	c.SetUser(2, "alice") // second connection, deduplicated

	assert.Equal(t, []string{"alice", "carol"}, sm.OnlineUsernames())
}

func TestSessionManagerCloseAll(t *testing.T) {
	sm := NewSessionManager()

	_, w1 := newFakeSession(sm)
	_, w2 := newFakeSession(sm)

	sm.CloseAll()
	assert.Equal(t, 0, sm.Count())
	assert.True(t, w1.isClosed())
	assert.True(t, w2.isClosed())
}
