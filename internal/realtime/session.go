package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"svchub/internal/auth"
)

// Session is one open bidirectional connection's ephemeral state. Created
// on connect, destroyed on close or error; mutated only by the hub's
// connect/disconnect and message handlers.
type Session struct {
	ID          string
	ConnectedAt time.Time

	conn *websocket.Conn

	// writeMu serializes writes; gorilla connections support one
	// concurrent writer only.
	writeMu sync.Mutex

	mu            sync.RWMutex
	authenticated bool
	identity      *auth.Identity
	closed        bool
}

// Authenticated reports whether the session has presented a valid token.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// Identity returns the associated client identity, or nil before
// authentication.
func (s *Session) Identity() *auth.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *Session) setIdentity(id *auth.Identity) {
	s.mu.Lock()
	s.authenticated = true
	s.identity = id
	s.mu.Unlock()
}

// send marshals and writes one message. On a write error the connection is
// broken; the read loop observes that and unregisters the session.
func (s *Session) send(msg Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

// close sends a close frame with the given reason and closes the
// underlying connection. Safe to call more than once.
func (s *Session) close(code int, reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	s.writeMu.Unlock()
	_ = s.conn.Close()
}
