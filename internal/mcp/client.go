package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ErrMissingContext is returned by Connect when the server's declared
// requiredContext is unsatisfied by config (spec §4.4, §7).
type ErrMissingContext struct {
	Server  string
	Missing []string
}

func (e *ErrMissingContext) Error() string {
	return fmt.Sprintf("mcp: server %s missing required context: %s", e.Server, strings.Join(e.Missing, ", "))
}

// Client owns one server's transport and cached tool list, for the
// lifetime of the process (spec §3, §5).
type Client struct {
	descriptor ServerDescriptor
	transport  *transport
	tools      []ToolDescriptor
	serverInfo initializeResult
}

// Connect dials the server, runs the initialize -> validate
// requiredContext -> tools/list sequence of spec §4.4, and returns a
// ready Client or a failed-init error.
func Connect(ctx context.Context, descriptor ServerDescriptor) (*Client, error) {
	t, err := dialTransport(ctx, descriptor.URL)
	if err != nil {
		return nil, fmt.Errorf("mcp: connect %s: %w", descriptor.Name, err)
	}

	initParams := map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "orchestration-core", "version": "1.0.0"},
		"context":         descriptor.Context,
	}
	raw, err := t.call(ctx, "initialize", initParams, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: initialize %s: %w", descriptor.Name, err)
	}

	var initResult initializeResult
	if err := json.Unmarshal(raw, &initResult); err != nil {
		return nil, fmt.Errorf("mcp: %s: malformed initialize result: %w", descriptor.Name, err)
	}

	if missing := missingRequiredContext(initResult.RequiredContext, descriptor.Context); len(missing) > 0 {
		return nil, &ErrMissingContext{Server: descriptor.Name, Missing: missing}
	}

	listRaw, err := t.call(ctx, "tools/list", nil, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: tools/list %s: %w", descriptor.Name, err)
	}
	var listResult toolsListResult
	if err := json.Unmarshal(listRaw, &listResult); err != nil {
		return nil, fmt.Errorf("mcp: %s: malformed tools/list result: %w", descriptor.Name, err)
	}

	return &Client{
		descriptor: descriptor,
		transport:  t,
		tools:      listResult.Tools,
		serverInfo: initResult,
	}, nil
}

// missingRequiredContext returns the required-and-absent-or-falsy keys of
// required that config does not satisfy.
func missingRequiredContext(required map[string]requiredContextParam, config map[string]any) []string {
	var missing []string
	keys := make([]string, 0, len(required))
	for k := range required {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		param := required[key]
		if !param.Required {
			continue
		}
		value, ok := config[key]
		if !ok || isFalsy(value) {
			missing = append(missing, key)
		}
	}
	return missing
}

func isFalsy(v any) bool {
	switch value := v.(type) {
	case nil:
		return true
	case string:
		return value == ""
	case bool:
		return !value
	case float64:
		return value == 0
	default:
		return false
	}
}

// Tools returns this server's registered tools.
func (c *Client) Tools() []ToolDescriptor { return c.tools }

// Descriptor returns the server's config descriptor.
func (c *Client) Descriptor() ServerDescriptor { return c.descriptor }

// Plugin projects this client as a PluginDescriptor.
func (c *Client) Plugin() PluginDescriptor {
	return PluginDescriptor{
		Name:        c.descriptor.Name,
		Description: c.serverInfo.ServerInfo.Description,
		Tools:       c.tools,
	}
}

// CallTool invokes tools/call and normalizes the result per spec §4.4:
// result.content[].text is parsed as JSON when possible, else passed
// through as text; result.isError=true becomes a failed ToolResult.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (ToolResult, error) {
	raw, err := c.transport.call(ctx, "tools/call", map[string]any{"name": name, "arguments": arguments}, toolCallTimeout)
	if err != nil {
		return ToolResult{}, err
	}

	var result toolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return ToolResult{}, fmt.Errorf("mcp: malformed tools/call result: %w", err)
	}

	text := joinContentText(result.Content)
	if result.IsError {
		return ToolResult{Success: false, Error: text}, nil
	}

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return ToolResult{Success: true, Content: parsed}, nil
	}
	return ToolResult{Success: true, Content: text}, nil
}

func joinContentText(content []toolCallContent) string {
	var sb strings.Builder
	for _, c := range content {
		sb.WriteString(c.Text)
	}
	return sb.String()
}
