package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// rpcHandler builds an httptest server answering JSON-RPC requests only
// at the given ServeMux pattern ("/{$}" matches the root alone), so tests
// can exercise the /mcp, /message, / endpoint-probing fallback of spec §4.4.
func rpcHandler(t *testing.T, path string, handle func(method string, params json.RawMessage) (any, *jsonrpcError)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		paramsRaw, _ := json.Marshal(req.Params)
		result, rpcErr := handle(req.Method, paramsRaw)

		resp := jsonrpcResponse{JSONRPC: "2.0", ID: req.ID}
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			raw, err := json.Marshal(result)
			require.NoError(t, err)
			resp.Result = raw
		}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func basicHandler(tools []ToolDescriptor, required map[string]requiredContextParam) func(string, json.RawMessage) (any, *jsonrpcError) {
	return func(method string, _ json.RawMessage) (any, *jsonrpcError) {
		switch method {
		case "ping":
			return map[string]any{"ok": true}, nil
		case "initialize":
			var result initializeResult
			result.ServerInfo.Name = "srv"
			result.ServerInfo.Description = "a test server"
			result.ServerInfo.Version = "1.0"
			result.RequiredContext = required
			return result, nil
		case "tools/list":
			return toolsListResult{Tools: tools}, nil
		case "tools/call":
			return toolCallResult{Content: []toolCallContent{{Type: "text", Text: `{"ok":true}`}}}, nil
		default:
			return nil, &jsonrpcError{Code: -32601, Message: "method not found"}
		}
	}
}

func TestConnect_EndpointProbingFallsBackToMessage(t *testing.T) {
	server := rpcHandler(t, "/message", basicHandler([]ToolDescriptor{{Name: "echo"}}, nil))

	client, err := Connect(context.Background(), ServerDescriptor{Name: "s1", URL: server.URL})
	require.NoError(t, err)
	require.Len(t, client.Tools(), 1)
}

func TestConnect_EndpointProbingFallsBackToRoot(t *testing.T) {
	server := rpcHandler(t, "/{$}", basicHandler([]ToolDescriptor{{Name: "echo"}}, nil))

	client, err := Connect(context.Background(), ServerDescriptor{Name: "s1", URL: server.URL})
	require.NoError(t, err)
	require.Len(t, client.Tools(), 1)
}

func TestConnect_MissingRequiredContextFailsInit(t *testing.T) {
	required := map[string]requiredContextParam{"api_key": {Required: true, Description: "needed"}}
	server := rpcHandler(t, "/mcp", basicHandler(nil, required))

	_, err := Connect(context.Background(), ServerDescriptor{Name: "s1", URL: server.URL, Context: map[string]any{}})
	require.Error(t, err)

	var missingErr *ErrMissingContext
	require.ErrorAs(t, err, &missingErr)
	require.Equal(t, []string{"api_key"}, missingErr.Missing)
}

func TestConnect_SatisfiedRequiredContextSucceeds(t *testing.T) {
	required := map[string]requiredContextParam{"api_key": {Required: true}}
	server := rpcHandler(t, "/mcp", basicHandler([]ToolDescriptor{{Name: "echo"}}, required))

	client, err := Connect(context.Background(), ServerDescriptor{
		Name: "s1", URL: server.URL, Context: map[string]any{"api_key": "secret"},
	})
	require.NoError(t, err)
	require.Len(t, client.Tools(), 1)
}

func TestCallTool_ParsesJSONContent(t *testing.T) {
	server := rpcHandler(t, "/mcp", basicHandler([]ToolDescriptor{{Name: "echo"}}, nil))
	client, err := Connect(context.Background(), ServerDescriptor{Name: "s1", URL: server.URL})
	require.NoError(t, err)

	result, err := client.CallTool(context.Background(), "echo", nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, map[string]any{"ok": true}, result.Content)
}

func TestManager_InitializeAllContinuesPastFailures(t *testing.T) {
	good := rpcHandler(t, "/mcp", basicHandler([]ToolDescriptor{{Name: "good.tool"}}, nil))
	bad := rpcHandler(t, "/mcp", basicHandler(nil, map[string]requiredContextParam{"k": {Required: true}}))

	cfg := Config{MCPServers: map[string]ServerDescriptor{
		"good": {URL: good.URL},
		"bad":  {URL: bad.URL, Context: map[string]any{}},
	}}

	manager := NewManager(nil)
	require.NoError(t, manager.InitializeAll(context.Background(), cfg))

	require.Len(t, manager.FailedServers(), 1)
	require.Contains(t, manager.FailedServers(), "bad")
	require.Len(t, manager.ListTools(), 1)
}

func TestManager_Invoke_ExactNameRouting(t *testing.T) {
	server := rpcHandler(t, "/mcp", basicHandler([]ToolDescriptor{{Name: "weather.lookup"}}, nil))
	cfg := Config{MCPServers: map[string]ServerDescriptor{"weather": {URL: server.URL}}}

	manager := NewManager(nil)
	require.NoError(t, manager.InitializeAll(context.Background(), cfg))

	result, err := manager.Invoke(context.Background(), "weather.lookup", nil)
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestManager_Invoke_HyphenUnderscoreInsensitivePrefixMatch(t *testing.T) {
	server := rpcHandler(t, "/mcp", basicHandler(nil, nil))
	cfg := Config{MCPServers: map[string]ServerDescriptor{"my-server": {URL: server.URL}}}

	manager := NewManager(nil)
	require.NoError(t, manager.InitializeAll(context.Background(), cfg))

	result, err := manager.Invoke(context.Background(), "my_server.do_thing", nil)
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestManager_Invoke_UnknownToolReturnsFailureNotError(t *testing.T) {
	manager := NewManager(nil)
	result, err := manager.Invoke(context.Background(), "nope", nil)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, result.Error, "not found")
}

func TestManager_RoutingDeterminism(t *testing.T) {
	server := rpcHandler(t, "/mcp", basicHandler([]ToolDescriptor{{Name: "x.tool"}}, nil))
	cfg := Config{MCPServers: map[string]ServerDescriptor{"x": {URL: server.URL}}}

	manager := NewManager(nil)
	require.NoError(t, manager.InitializeAll(context.Background(), cfg))

	for i := 0; i < 5; i++ {
		result, err := manager.Invoke(context.Background(), "x.tool", nil)
		require.NoError(t, err)
		require.True(t, result.Success)
	}
}
