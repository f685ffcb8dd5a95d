package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cih1996/AI-intelligent-agent-system/internal/observability"
)

// Manager is the MCP Client Pool facade (spec §4.4): it owns one Client
// per successfully-initialized server and routes tool invocations to the
// owning server by name.
type Manager struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	clients map[string]*Client
	routes  map[string]string // tool name -> server name
	failed  map[string]error  // server name -> last init error
}

// NewManager constructs an empty pool. Call InitializeAll to connect.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:  logger,
		clients: make(map[string]*Client),
		routes:  make(map[string]string),
		failed:  make(map[string]error),
	}
}

// SetMetrics attaches a metrics sink; nil disables instrumentation.
func (m *Manager) SetMetrics(metrics *observability.Metrics) {
	m.metrics = metrics
}

// InitializeAll connects to every configured server, continuing past
// individual failures: a server that fails initialize, requiredContext
// validation, or tools/list is excluded from the routing table but does
// not abort its siblings (spec §4.4, §8).
func (m *Manager) InitializeAll(ctx context.Context, cfg Config) error {
	names := make([]string, 0, len(cfg.MCPServers))
	for name := range cfg.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range names {
		descriptor := cfg.MCPServers[name]
		descriptor.Name = name

		client, err := Connect(ctx, descriptor)
		if err != nil {
			m.logger.Warn("mcp server failed init", "server", name, "error", err)
			m.failed[name] = err
			continue
		}

		m.clients[name] = client
		for _, tool := range client.Tools() {
			if existing, ok := m.routes[tool.Name]; ok {
				m.logger.Warn("mcp tool name collision", "tool", tool.Name, "existing_server", existing, "new_server", name)
				continue
			}
			m.routes[tool.Name] = name
		}
	}

	return nil
}

// Invoke routes a tool call by name: exact match against the routing
// table first, then (for dotted names) a hyphen/underscore-insensitive
// prefix match against server names (spec §4.4).
func (m *Manager) Invoke(ctx context.Context, toolName string, arguments map[string]any) (ToolResult, error) {
	m.mu.RLock()
	client, err := m.resolveLocked(toolName)
	m.mu.RUnlock()

	if err != nil {
		m.metrics.RecordToolCall(toolName, "error", 0)
		return ToolResult{Success: false, Error: err.Error()}, nil
	}

	start := time.Now()
	result, err := client.CallTool(ctx, toolName, arguments)
	status := "success"
	if err != nil || !result.Success {
		status = "error"
	}
	m.metrics.RecordToolCall(toolName, status, time.Since(start).Seconds())
	return result, err
}

func (m *Manager) resolveLocked(toolName string) (*Client, error) {
	if server, ok := m.routes[toolName]; ok {
		return m.clients[server], nil
	}

	if dot := strings.Index(toolName, "."); dot > 0 {
		prefix := toolName[:dot]
		for name, client := range m.clients {
			if normalizeServerName(name) == normalizeServerName(prefix) {
				return client, nil
			}
		}
	}

	return nil, fmt.Errorf("tool not found: %s", toolName)
}

// normalizeServerName folds hyphens and underscores together so
// "my-server" and "my_server" route identically (spec §4.4).
func normalizeServerName(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(strings.ToLower(name), "-", "_"), "_", "")
}

// Plugin looks up one server's PluginDescriptor by name
// (hyphen/underscore/case insensitive), as used by the Router stage of
// the orchestrator (spec §4.5 stage 4).
func (m *Manager) Plugin(name string) (PluginDescriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for serverName, client := range m.clients {
		if normalizeServerName(serverName) == normalizeServerName(name) {
			return client.Plugin(), true
		}
	}
	return PluginDescriptor{}, false
}

// ListTools returns every registered tool across all initialized servers.
func (m *Manager) ListTools() []ToolDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)

	var tools []ToolDescriptor
	for _, name := range names {
		tools = append(tools, m.clients[name].Tools()...)
	}
	return tools
}

// SummarisePlugins renders a read-only, deterministic text projection of
// every initialized server and its tools, suitable for a prompt-template
// placeholder (spec §4.4).
func (m *Manager) SummarisePlugins() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		plugin := m.clients[name].Plugin()
		fmt.Fprintf(&sb, "## %s\n%s\n", plugin.Name, plugin.Description)
		for _, tool := range plugin.Tools {
			fmt.Fprintf(&sb, "- %s: %s\n", tool.Name, tool.Description)
		}
	}
	return sb.String()
}

// FailedServers returns the init error for every server excluded from
// the routing table.
func (m *Manager) FailedServers() map[string]error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]error, len(m.failed))
	for name, err := range m.failed {
		out[name] = err
	}
	return out
}
