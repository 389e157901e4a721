package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/0x7f/microclaw/internal/config"
	"github.com/0x7f/microclaw/internal/tools"
)

// Manager owns every configured MCP server connection and registers their
// discovered tools into the shared tools.Registry (§4.E).
type Manager struct {
	mu       sync.RWMutex
	servers  map[string]*Server
	registry *tools.Registry
}

func NewManager(registry *tools.Registry) *Manager {
	return &Manager{servers: make(map[string]*Server), registry: registry}
}

// Start connects every enabled server from config.McpServers. Connection
// failures are logged and skipped rather than fatal — one unreachable MCP
// server must not prevent the agent from starting.
func (m *Manager) Start(ctx context.Context, servers map[string]*config.MCPServerConfig) {
	for name, cfg := range servers {
		if !cfg.IsEnabled() {
			slog.Info("mcp.server.disabled", "server", name)
			continue
		}

		srv := NewServer(name, cfg)
		if err := srv.Connect(ctx); err != nil {
			slog.Warn("mcp.server.connect_failed", "server", name, "error", err)
			continue
		}

		for _, def := range srv.ToolDefinitions() {
			m.registry.Register(NewBridgeTool(srv, def.Name, def))
		}

		m.mu.Lock()
		m.servers[name] = srv
		m.mu.Unlock()

		slog.Info("mcp.server.connected", "server", name, "transport", cfg.Transport, "tools", len(srv.ToolDefinitions()))
	}
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, srv := range m.servers {
		if err := srv.Close(); err != nil {
			slog.Debug("mcp.server.close_error", "server", name, "error", err)
		}
	}
	m.servers = make(map[string]*Server)
}

// Server returns one connected server by name, for diagnostics or /api
// health surfaces.
func (m *Manager) Server(name string) (*Server, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[name]
	return s, ok
}

var errNotConnected = fmt.Errorf("mcp: server not connected")
