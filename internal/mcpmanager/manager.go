// Package mcpmanager implements spec §4.6's MCP manager: a stdio
// JSON-RPC client, one child per configured external tool server. Built
// on github.com/mark3labs/mcp-go's client subpackage in its client role
// — the teacher only imports mcp-go server-side
// (internal/agentctl/server/mcp), so this is the same real dependency
// exercised from the other side of the same protocol.
package mcpmanager

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/acpbridge/internal/core"
	"github.com/kandev/acpbridge/internal/logger"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
)

type serverConn struct {
	name    string
	client  *client.Client
	tools   map[string]bool
	mu      sync.Mutex
}

// Manager connects to every configured MCP server at startup and routes
// `<server>:<tool>` calls to the right one.
type Manager struct {
	log     *logger.Logger
	mu      sync.RWMutex
	servers map[string]*serverConn
}

// New builds an empty Manager; call Start to connect configured servers.
func New(log *logger.Logger) *Manager {
	return &Manager{log: log, servers: make(map[string]*serverConn)}
}

// Start connects to every descriptor. Connection failure for one server
// never blocks the others (spec §4.6).
func (m *Manager) Start(ctx context.Context, descriptors []core.McpServerDescriptor) {
	var wg sync.WaitGroup
	for _, d := range descriptors {
		wg.Add(1)
		go func(d core.McpServerDescriptor) {
			defer wg.Done()
			if err := m.connectWithRetry(ctx, d); err != nil {
				m.log.Error("failed to connect MCP server", zap.String("server", d.Name), zap.Error(err))
			}
		}(d)
	}
	wg.Wait()
}

// connectWithRetry retries the connect handshake up to the descriptor's
// configured max_retries, backing off a second between attempts.
func (m *Manager) connectWithRetry(ctx context.Context, d core.McpServerDescriptor) error {
	var lastErr error
	for attempt := 0; attempt <= d.Protocol.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return core.UpstreamErrorf("MCP server %q connect aborted: %v", d.Name, ctx.Err())
			case <-time.After(time.Second):
			}
			m.log.Info("retrying MCP server connect",
				zap.String("server", d.Name), zap.Int("attempt", attempt))
		}
		lastErr = m.connect(ctx, d)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (m *Manager) connect(ctx context.Context, d core.McpServerDescriptor) error {
	timeout := defaultHandshakeTimeout
	if d.Protocol.TimeoutSeconds > 0 {
		timeout = time.Duration(d.Protocol.TimeoutSeconds) * time.Second
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := client.NewStdioMCPClient(d.Command, nil, d.Args...)
	if err != nil {
		return core.UpstreamErrorf("failed to start MCP server %q: %v", d.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = "2024-11-05"
	initReq.Params.ClientInfo = mcp.Implementation{Name: "acp-agent-bridge", Version: "0.1.0"}
	initReq.Params.Capabilities = mcp.ClientCapabilities{}

	if _, err := c.Initialize(hctx, initReq); err != nil {
		_ = c.Close()
		return core.UpstreamErrorf("MCP server %q initialize failed: %v", d.Name, err)
	}

	listResult, err := c.ListTools(hctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return core.UpstreamErrorf("MCP server %q tools/list failed: %v", d.Name, err)
	}

	tools := make(map[string]bool, len(listResult.Tools))
	for _, t := range listResult.Tools {
		tools[t.Name] = true
	}

	conn := &serverConn{name: d.Name, client: c, tools: tools}

	m.mu.Lock()
	m.servers[d.Name] = conn
	m.mu.Unlock()

	m.log.Info("connected MCP server", zap.String("server", d.Name), zap.Int("tools", len(tools)))
	return nil
}

// ParseToolName splits "<server>:<tool>" per spec §4.6. ok is false if
// name contains no colon (it is not an external tool reference).
func ParseToolName(name string) (server, tool string, ok bool) {
	idx := strings.Index(name, ":")
	if idx < 0 {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}

// CallTool invokes `<server>:<tool>` or routes to the named server + bare
// tool directly. The reply is either result.content[].text joined by
// newlines, or error.message surfaced as an UpstreamError (spec §4.6).
func (m *Manager) CallTool(ctx context.Context, serverName, toolName string, arguments map[string]any) (string, error) {
	m.mu.RLock()
	conn, ok := m.servers[serverName]
	m.mu.RUnlock()
	if !ok {
		return "", core.ResourceErrorf("MCP server %q is not connected", serverName).
			WithData("serverName", serverName)
	}
	if !conn.tools[toolName] {
		return "", core.ResourceErrorf("MCP server %q does not advertise a tool named %q", serverName, toolName).
			WithData("serverName", serverName).
			WithSuggestion("call one of the tools the server listed at startup")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = arguments

	conn.mu.Lock()
	result, err := conn.client.CallTool(ctx, req)
	conn.mu.Unlock()
	if err != nil {
		return "", core.UpstreamErrorf("MCP tool call %s:%s failed: %v", serverName, toolName, err).
			WithData("serverName", serverName)
	}
	if result.IsError {
		return "", core.UpstreamErrorf("MCP tool %s:%s reported an error", serverName, toolName).
			WithData("serverName", serverName)
	}

	var parts []string
	for _, c := range result.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// HasServer reports whether serverName is connected.
func (m *Manager) HasServer(serverName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.servers[serverName]
	return ok
}

// Shutdown closes every server connection concurrently (spec §4.6).
func (m *Manager) Shutdown() {
	m.mu.Lock()
	servers := m.servers
	m.servers = make(map[string]*serverConn)
	m.mu.Unlock()

	var g errgroup.Group
	for name, conn := range servers {
		name, conn := name, conn
		g.Go(func() error {
			if err := conn.client.Close(); err != nil {
				m.log.Warn("error closing MCP server", zap.String("server", name), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
