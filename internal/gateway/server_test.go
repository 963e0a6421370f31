package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svchub/internal/auth"
	"svchub/internal/config"
	"svchub/internal/protocol"
	"svchub/internal/provider"
	"svchub/internal/realtime"
	"svchub/internal/router"
	"svchub/internal/services"
)

// newTestServer wires a full gateway over an in-process registry with one
// running echo service and one stopped service. Two identities are loaded:
// "admin" (wildcard) and "iface" (scoped to echoer, quota of 3 per minute).
func newTestServer(t *testing.T) (*httptest.Server, *services.Registry) {
	t.Helper()

	t.Setenv("SVCHUB_TEST_GW_ADMIN", "admin-token")
	t.Setenv("SVCHUB_TEST_GW_IFACE", "iface-token")

	cfg := config.GetDefaultConfig()
	cfg.Identities = []config.IdentityDefinition{
		{ID: "admin", TokenEnv: "SVCHUB_TEST_GW_ADMIN", Services: []string{"*"}},
		{
			ID: "iface", TokenEnv: "SVCHUB_TEST_GW_IFACE", Services: []string{"echoer"},
			RateLimit: &config.RateLimitConfig{Window: time.Minute, Max: 3},
		},
	}

	providers := provider.NewRegistry()
	require.NoError(t, providers.Register("echo", func(c map[string]interface{}) (provider.Provider, error) {
		return provider.NewEchoProvider(), nil
	}))
	registry, err := services.NewRegistry([]config.ServiceDefinition{
		{Name: "echoer", Module: "echo"},
		{Name: "idle", Module: "echo"},
	}, providers)
	require.NoError(t, err)
	require.NoError(t, registry.Start(context.Background(), "echoer"))
	t.Cleanup(func() { _ = registry.Shutdown(context.Background()) })

	authenticator := auth.NewAuthenticator(cfg.Auth, cfg.Identities)
	rt := router.New(registry)
	hub := realtime.NewHub(authenticator, rt, nil)

	s := New(&cfg, registry, rt, authenticator, hub)
	srv := httptest.NewServer(s.http.Handler)
	t.Cleanup(srv.Close)
	return srv, registry
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, token string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := decodeBody(t, resp)
	errObj, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "expected error body, got %v", body)
	code, _ := errObj["code"].(string)
	return code
}

func TestGateway_HealthIsPublic(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, srv, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Len(t, body["services"], 2)
}

func TestGateway_APIRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, srv, http.MethodGet, "/api/services", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, string(protocol.CodeAuthFailed), errorCode(t, resp))

	resp = doRequest(t, srv, http.MethodGet, "/api/services", "wrong-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_ListServices(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, srv, http.MethodGet, "/api/services", "admin-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Len(t, body["services"], 2)
}

func TestGateway_GetUnknownService(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, srv, http.MethodGet, "/api/services/ghost", "admin-token", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, string(protocol.CodeServiceNotFound), errorCode(t, resp))
}

func TestGateway_StartStopLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, srv, http.MethodPost, "/api/services/idle/start", "admin-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "running", body["state"])

	// Starting an already running service is a no-op success.
	resp = doRequest(t, srv, http.MethodPost, "/api/services/idle/start", "admin-token", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, srv, http.MethodPost, "/api/services/idle/restart", "admin-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, "running", body["state"])

	resp = doRequest(t, srv, http.MethodPost, "/api/services/idle/stop", "admin-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, "stopped", body["state"])
}

func TestGateway_ExecuteRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, srv, http.MethodPost, "/api/execute", "admin-token", protocol.Request{
		ID:      "req-1",
		Service: "echoer",
		Method:  "echo",
		Params:  map[string]interface{}{"message": "hi"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out protocol.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "req-1", out.ID)
	require.Nil(t, out.Error)
	result, ok := out.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "hi", result["message"])
}

func TestGateway_ExecuteRequiresServiceField(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, srv, http.MethodPost, "/api/execute", "admin-token", protocol.Request{
		ID: "req-1", Method: "echo",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(protocol.CodeInvalidParams), errorCode(t, resp))
}

func TestGateway_ExecuteNamedPathWins(t *testing.T) {
	srv, _ := newTestServer(t)

	// The body names a different service; the path binding takes
	// precedence.
	resp := doRequest(t, srv, http.MethodPost, "/api/services/echoer/execute", "admin-token", protocol.Request{
		ID: "req-1", Service: "idle", Method: "time",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out protocol.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Nil(t, out.Error)
}

func TestGateway_ExecuteNotRunningConflict(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, srv, http.MethodPost, "/api/execute", "admin-token", protocol.Request{
		ID: "req-1", Service: "idle", Method: "echo",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var out protocol.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.Error)
	assert.Equal(t, protocol.CodeServiceNotRunning, out.Error.Code)
}

func TestGateway_IdentityProfile(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, srv, http.MethodGet, "/api/identity", "iface-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "iface", body["id"])
	assert.Equal(t, []interface{}{"echoer"}, body["services"])

	resp = doRequest(t, srv, http.MethodGet, "/api/identity", "admin-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, "admin", body["id"])
	assert.Equal(t, []interface{}{"*"}, body["services"])
}

func TestGateway_ScopeEnforced(t *testing.T) {
	srv, _ := newTestServer(t)

	// The iface identity may reach echoer but not idle.
	resp := doRequest(t, srv, http.MethodPost, "/api/execute", "iface-token", protocol.Request{
		ID: "req-1", Service: "echoer", Method: "time",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, srv, http.MethodPost, "/api/services/idle/start", "iface-token", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, string(protocol.CodeScopeViolation), errorCode(t, resp))
}

func TestGateway_RateLimitEnforced(t *testing.T) {
	srv, _ := newTestServer(t)

	req := protocol.Request{ID: "req-1", Service: "echoer", Method: "time"}
	for i := 0; i < 3; i++ {
		resp := doRequest(t, srv, http.MethodPost, "/api/execute", "iface-token", req)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := doRequest(t, srv, http.MethodPost, "/api/execute", "iface-token", req)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, string(protocol.CodeRateLimited), errorCode(t, resp))

	// The admin identity draws from its own quota and is unaffected.
	resp = doRequest(t, srv, http.MethodPost, "/api/execute", "admin-token", req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
