package realtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svchub/internal/auth"
	"svchub/internal/config"
	"svchub/internal/provider"
	"svchub/internal/router"
	"svchub/internal/services"
)

func newTestHub(t *testing.T) (*Hub, *services.Registry) {
	t.Helper()

	t.Setenv("SVCHUB_TEST_RT_TOKEN", "rt-token")
	authenticator := auth.NewAuthenticator(config.AuthConfig{}, []config.IdentityDefinition{
		{ID: "tester", TokenEnv: "SVCHUB_TEST_RT_TOKEN", Services: []string{"*"}},
	})

	providers := provider.NewRegistry()
	require.NoError(t, providers.Register("echo", func(cfg map[string]interface{}) (provider.Provider, error) {
		return provider.NewEchoProvider(), nil
	}))
	registry, err := services.NewRegistry([]config.ServiceDefinition{
		{Name: "echoer", Module: "echo"},
	}, providers)
	require.NoError(t, err)
	require.NoError(t, registry.Start(context.Background(), "echoer"))
	t.Cleanup(func() { _ = registry.Shutdown(context.Background()) })

	return NewHub(authenticator, router.New(registry), nil), registry
}

func dialTestHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg Message) Message {
	t.Helper()

	require.NoError(t, conn.WriteJSON(msg))
	var reply Message
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func authenticate(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	reply := roundTrip(t, conn, Message{Type: TypeAuth, ID: "auth-1", Token: "rt-token"})
	require.Equal(t, TypeAuthOK, reply.Type)
}

func TestHub_PingBeforeAuth(t *testing.T) {
	hub, _ := newTestHub(t)
	conn := dialTestHub(t, hub)

	reply := roundTrip(t, conn, Message{Type: TypePing, ID: "p1"})

	assert.Equal(t, TypePong, reply.Type)
	assert.Equal(t, "p1", reply.ID)
	_, err := time.Parse(time.RFC3339, reply.Timestamp)
	assert.NoError(t, err)
}

func TestHub_ToolCallBeforeAuthRejected(t *testing.T) {
	hub, _ := newTestHub(t)
	conn := dialTestHub(t, hub)

	reply := roundTrip(t, conn, Message{
		Type: TypeToolCall, ID: "c1", Service: "echoer", Tool: "echo",
	})

	assert.Equal(t, TypeError, reply.Type)
	assert.Equal(t, "c1", reply.ID)
	assert.Equal(t, CodeAuthRequired, reply.Code)
}

func TestHub_AuthSuccessAndFailure(t *testing.T) {
	hub, _ := newTestHub(t)
	conn := dialTestHub(t, hub)

	reply := roundTrip(t, conn, Message{Type: TypeAuth, ID: "a1", Token: "wrong"})
	assert.Equal(t, TypeError, reply.Type)
	assert.Equal(t, CodeAuthFailed, reply.Code)

	// A failed attempt leaves the session open for another try.
	reply = roundTrip(t, conn, Message{Type: TypeAuth, ID: "a2", Token: "rt-token"})
	assert.Equal(t, TypeAuthOK, reply.Type)
	assert.Equal(t, "a2", reply.ID)
	assert.Equal(t, "tester", reply.Identity)
}

func TestHub_ToolCallRoundTrip(t *testing.T) {
	hub, _ := newTestHub(t)
	conn := dialTestHub(t, hub)
	authenticate(t, conn)

	reply := roundTrip(t, conn, Message{
		Type:    TypeToolCall,
		ID:      "c1",
		Service: "echoer",
		Tool:    "echo",
		Args:    map[string]interface{}{"message": "hello"},
	})

	require.Equal(t, TypeToolResponse, reply.Type)
	assert.Equal(t, "c1", reply.ID)
	result, ok := reply.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "hello", result["message"])
}

func TestHub_ToolCallUnknownServiceReported(t *testing.T) {
	hub, _ := newTestHub(t)
	conn := dialTestHub(t, hub)
	authenticate(t, conn)

	reply := roundTrip(t, conn, Message{
		Type: TypeToolCall, ID: "c1", Service: "ghost", Tool: "echo",
	})

	assert.Equal(t, TypeError, reply.Type)
	assert.Equal(t, CodeToolExecutionError, reply.Code)
	assert.Contains(t, reply.Message, "ghost")
}

func TestHub_UnknownMessageType(t *testing.T) {
	hub, _ := newTestHub(t)
	conn := dialTestHub(t, hub)

	reply := roundTrip(t, conn, Message{Type: "subscribe", ID: "s1"})

	assert.Equal(t, TypeError, reply.Type)
	assert.Equal(t, CodeUnknownType, reply.Code)
}

func TestHub_MalformedPayloadKeepsSessionState(t *testing.T) {
	hub, _ := newTestHub(t)
	conn := dialTestHub(t, hub)
	authenticate(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var reply Message
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, TypeError, reply.Type)
	assert.Equal(t, CodeParseError, reply.Code)

	// Authentication survives the bad frame.
	reply = roundTrip(t, conn, Message{
		Type: TypeToolCall, ID: "c1", Service: "echoer", Tool: "time",
	})
	assert.Equal(t, TypeToolResponse, reply.Type)
}

func TestHub_BroadcastReachesAuthenticatedOnly(t *testing.T) {
	hub, _ := newTestHub(t)

	authed := dialTestHub(t, hub)
	authenticate(t, authed)

	anon := dialTestHub(t, hub)
	// Make sure the anonymous session is registered before broadcasting.
	reply := roundTrip(t, anon, Message{Type: TypePing, ID: "p1"})
	require.Equal(t, TypePong, reply.Type)

	hub.Broadcast(Message{Type: "service_event", ID: "b1"})

	var got Message
	require.NoError(t, authed.ReadJSON(&got))
	assert.Equal(t, "service_event", got.Type)

	// The anonymous session sees nothing; its next read times out.
	require.NoError(t, anon.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var silent Message
	err := anon.ReadJSON(&silent)
	assert.Error(t, err)
}

func TestHub_LifecycleEventsReachSessions(t *testing.T) {
	hub, registry := newTestHub(t)
	go hub.ForwardLifecycleEvents(registry.Subscribe())

	conn := dialTestHub(t, hub)
	authenticate(t, conn)

	require.NoError(t, registry.Stop(context.Background(), "echoer"))

	var got Message
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, TypeServiceEvent, got.Type)
	assert.Equal(t, "echoer", got.Service)
	event, ok := got.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "stopped", event["type"])
}

func TestHub_ShutdownClosesSessions(t *testing.T) {
	hub, _ := newTestHub(t)
	conn := dialTestHub(t, hub)
	authenticate(t, conn)

	hub.Shutdown()

	require.Eventually(t, func() bool {
		return hub.Sessions() == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, _, err := websocket.DefaultDialer.Dial(
		"ws://"+conn.RemoteAddr().String(), nil)
	// The HTTP server still runs, but the hub refuses the upgrade.
	assert.Error(t, err)
}
