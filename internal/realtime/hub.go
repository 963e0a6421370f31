// Package realtime implements the bidirectional session multiplexer: one
// WebSocket endpoint carrying per-connection authentication state, typed
// message dispatch and broadcast to authenticated sessions.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"svchub/internal/auth"
	"svchub/internal/protocol"
	"svchub/internal/router"
	"svchub/internal/services"
	"svchub/pkg/logging"
)

// Hub owns the session table and dispatches realtime messages. Sessions are
// added on connect and removed on close or error, by the hub only.
type Hub struct {
	authenticator *auth.Authenticator
	router        *router.Router
	upgrader      websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewHub creates a session hub sharing the given authenticator (and with
// it the cross-transport rate limiter) and dispatch router.
func NewHub(authenticator *auth.Authenticator, rt *router.Router, checkOrigin func(*http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		authenticator: authenticator,
		router:        rt,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		sessions: make(map[string]*Session),
	}
}

// ServeHTTP upgrades the request and runs the session's read loop until the
// connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("Realtime", "Upgrade failed: %v", err)
		return
	}

	session := &Session{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
		conn:        conn,
	}

	h.mu.Lock()
	h.sessions[session.ID] = session
	h.mu.Unlock()

	logging.Debug("Realtime", "Session %s connected from %s", session.ID, r.RemoteAddr)
	h.readLoop(session)
}

func (h *Hub) readLoop(session *Session) {
	defer h.unregister(session)

	for {
		_, data, err := session.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug("Realtime", "Session %s read error: %v", session.ID, err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			// A malformed payload has no effect on authentication state.
			h.sendError(session, "", CodeParseError, "invalid message payload")
			continue
		}

		h.dispatch(session, &msg)
	}
}

func (h *Hub) dispatch(session *Session, msg *Message) {
	switch msg.Type {
	case TypePing:
		// Heartbeat precedes authentication: always answered.
		h.trySend(session, Message{
			Type:      TypePong,
			ID:        msg.ID,
			Timestamp: time.Now().Format(time.RFC3339),
		})

	case TypeAuth:
		h.handleAuth(session, msg)

	case TypeToolCall:
		h.handleToolCall(session, msg)

	default:
		h.sendError(session, msg.ID, CodeUnknownType,
			fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// handleAuth performs the connected(unauthenticated) -> authenticated
// transition. A failed attempt leaves the session unauthenticated but open.
func (h *Hub) handleAuth(session *Session, msg *Message) {
	identity, authErr := h.authenticator.Authenticate(msg.Token)
	if authErr != nil {
		h.sendError(session, msg.ID, CodeAuthFailed, authErr.Message)
		return
	}

	session.setIdentity(identity)
	logging.Info("Realtime", "Session %s authenticated as %s", session.ID, identity.ID)
	h.trySend(session, Message{
		Type:     TypeAuthOK,
		ID:       msg.ID,
		Identity: identity.ID,
	})
}

// handleToolCall resolves and invokes a service capability. Scope and the
// shared rate limiter apply exactly as on the request-response transport.
func (h *Hub) handleToolCall(session *Session, msg *Message) {
	if !session.Authenticated() {
		h.sendError(session, msg.ID, CodeAuthRequired, "authentication required")
		return
	}
	identity := session.Identity()

	if err := h.authenticator.Authorize(identity, msg.Service); err != nil {
		h.sendError(session, msg.ID, CodeToolExecutionError, err.Message)
		return
	}
	if err := h.authenticator.CheckRateLimit(identity); err != nil {
		h.sendError(session, msg.ID, CodeToolExecutionError, err.Message)
		return
	}

	req := &protocol.Request{
		ID:      msg.ID,
		Service: msg.Service,
		Method:  msg.Tool,
		Params:  msg.Args,
	}

	// No cancellation flows with a routed request; a hung provider holds
	// the call pending until it resolves.
	resp, err := h.router.Route(context.Background(), req)
	if err != nil {
		h.sendError(session, msg.ID, CodeToolExecutionError, protocol.AsError(err).Message)
		return
	}

	h.trySend(session, Message{
		Type:   TypeToolResponse,
		ID:     msg.ID,
		Result: resp.Result,
	})
}

// ForwardLifecycleEvents pushes registry lifecycle events to every
// authenticated session as service_event messages. It runs until the event
// channel is closed; the caller owns the subscription.
func (h *Hub) ForwardLifecycleEvents(events <-chan services.Event) {
	for event := range events {
		h.Broadcast(Message{
			Type:      TypeServiceEvent,
			Service:   event.Service,
			Result:    event,
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
}

// Broadcast pushes a message to every authenticated session. Sessions that
// never authenticated do not receive broadcasts.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		if !s.Authenticated() {
			continue
		}
		h.trySend(s, msg)
	}
}

// SendTo pushes a message to one named, still-open session.
func (h *Hub) SendTo(sessionID string, msg Message) error {
	h.mu.RLock()
	session, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	return session.send(msg)
}

// Sessions returns the number of open sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Shutdown closes every open session with a normal-closure reason and stops
// accepting new connections.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.close(websocket.CloseNormalClosure, "server shutting down")
	}
	logging.Info("Realtime", "Closed %d sessions", len(sessions))
}

func (h *Hub) unregister(session *Session) {
	session.close(websocket.CloseNormalClosure, "")

	h.mu.Lock()
	delete(h.sessions, session.ID)
	h.mu.Unlock()

	logging.Debug("Realtime", "Session %s disconnected", session.ID)
}

func (h *Hub) trySend(session *Session, msg Message) {
	if err := session.send(msg); err != nil {
		logging.Debug("Realtime", "Send to session %s failed: %v", session.ID, err)
	}
}

func (h *Hub) sendError(session *Session, id, code, message string) {
	h.trySend(session, Message{
		Type:    TypeError,
		ID:      id,
		Code:    code,
		Message: message,
	})
}
