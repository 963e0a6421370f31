// Package aggregator exposes the capabilities of all running, addressable
// services as tools on a single MCP endpoint, so MCP-speaking clients can
// discover and invoke them without knowing the service topology.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"svchub/internal/config"
	"svchub/internal/protocol"
	"svchub/internal/router"
	"svchub/internal/services"
	"svchub/pkg/logging"
)

// Server aggregates service capabilities behind one MCP SSE endpoint. The
// advertised tool set follows the lifecycle registry: tools appear when a
// service reaches running and disappear when it leaves it.
type Server struct {
	cfg      config.AggregatorConfig
	registry *services.Registry
	router   *router.Router

	mu        sync.RWMutex
	mcpServer *server.MCPServer
	sseServer *server.SSEServer

	// active tracks currently registered tool names so refreshes can diff
	// instead of rebuilding.
	active map[string]bool

	events <-chan services.Event

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// New creates an aggregator server. It does not listen until Start.
func New(cfg config.AggregatorConfig, registry *services.Registry, rt *router.Router) *Server {
	if cfg.Host == "" {
		cfg.Host = config.DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = config.DefaultAggregatorPort
	}
	return &Server{
		cfg:      cfg,
		registry: registry,
		router:   rt,
		active:   make(map[string]bool),
	}
}

// Start brings up the MCP server and its SSE transport and begins following
// registry events.
func (a *Server) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.mcpServer != nil {
		a.mu.Unlock()
		return fmt.Errorf("aggregator already started")
	}

	a.ctx, a.cancelFunc = context.WithCancel(ctx)

	mcpServer := server.NewMCPServer(
		"svchub-aggregator",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	a.mcpServer = mcpServer

	baseURL := fmt.Sprintf("http://%s:%d", a.cfg.Host, a.cfg.Port)
	a.sseServer = server.NewSSEServer(
		mcpServer,
		server.WithBaseURL(baseURL),
		server.WithSSEEndpoint("/sse"),
		server.WithMessageEndpoint("/message"),
		server.WithKeepAlive(true),
		server.WithKeepAliveInterval(30*time.Second),
	)
	sseServer := a.sseServer
	a.mu.Unlock()

	a.refreshTools()

	a.events = a.registry.Subscribe()
	a.wg.Add(1)
	go a.followRegistry(a.events)

	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)
	logging.Info("Aggregator", "Starting MCP aggregation endpoint on %s", addr)
	go func() {
		if err := sseServer.Start(addr); err != nil && err != http.ErrServerClosed {
			logging.Error("Aggregator", err, "SSE server error")
		}
	}()

	return nil
}

// Stop shuts the endpoint down and stops following registry events.
func (a *Server) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.mcpServer == nil {
		a.mu.Unlock()
		return nil
	}
	cancelFunc := a.cancelFunc
	sseServer := a.sseServer
	events := a.events
	a.mcpServer = nil
	a.sseServer = nil
	a.events = nil
	a.mu.Unlock()

	if cancelFunc != nil {
		cancelFunc()
	}
	if events != nil {
		a.registry.Unsubscribe(events)
	}

	if sseServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := sseServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("Aggregator", "Error shutting down SSE server: %v", err)
		}
	}

	a.wg.Wait()
	return nil
}

// followRegistry refreshes the tool set whenever a service transitions.
func (a *Server) followRegistry(events <-chan services.Event) {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			a.refreshTools()
		}
	}
}

// refreshTools diffs the advertised tool set against the capabilities of
// currently running services.
func (a *Server) refreshTools() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mcpServer == nil {
		return
	}

	desired := make(map[string]server.ServerTool)
	for _, status := range a.registry.Statuses() {
		if status.State != services.StateRunning {
			continue
		}
		p := a.registry.Provider(status.Name)
		if p == nil {
			// External processes have no routing bridge; nothing to expose.
			continue
		}
		for _, cap := range p.Capabilities() {
			name := fmt.Sprintf("%s_%s", status.Name, cap.Name)
			desired[name] = a.buildServerTool(name, status.Name, cap.Name, cap.Description, cap.Parameters)
		}
	}

	var obsolete []string
	for name := range a.active {
		if _, keep := desired[name]; !keep {
			obsolete = append(obsolete, name)
			delete(a.active, name)
		}
	}
	if len(obsolete) > 0 {
		a.mcpServer.DeleteTools(obsolete...)
	}

	var added []server.ServerTool
	for name, tool := range desired {
		if !a.active[name] {
			added = append(added, tool)
			a.active[name] = true
		}
	}
	if len(added) > 0 {
		a.mcpServer.AddTools(added...)
	}

	if len(obsolete) > 0 || len(added) > 0 {
		logging.Debug("Aggregator", "Tool set updated: %d added, %d removed, %d total",
			len(added), len(obsolete), len(a.active))
	}
}

func (a *Server) buildServerTool(toolName, serviceName, capability, description string, params map[string]interface{}) server.ServerTool {
	tool := mcp.Tool{
		Name:        toolName,
		Description: description,
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: params,
		},
	}

	return server.ServerTool{
		Tool: tool,
		Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := make(map[string]interface{})
			if req.Params.Arguments != nil {
				if argsMap, ok := req.Params.Arguments.(map[string]interface{}); ok {
					args = argsMap
				}
			}

			routed := &protocol.Request{
				ID:      toolName,
				Service: serviceName,
				Method:  capability,
				Params:  args,
			}
			resp, err := a.router.Route(ctx, routed)
			if err != nil {
				return mcp.NewToolResultError(protocol.AsError(err).Message), nil
			}

			payload, err := json.Marshal(resp.Result)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
			}
			return mcp.NewToolResultText(string(payload)), nil
		},
	}
}

// Endpoint returns the SSE endpoint URL.
func (a *Server) Endpoint() string {
	return fmt.Sprintf("http://%s:%d/sse", a.cfg.Host, a.cfg.Port)
}
