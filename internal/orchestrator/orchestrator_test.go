package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cih1996/AI-intelligent-agent-system/internal/agentruntime"
	"github.com/cih1996/AI-intelligent-agent-system/internal/executor"
	"github.com/cih1996/AI-intelligent-agent-system/internal/mcp"
	"github.com/cih1996/AI-intelligent-agent-system/internal/memory"
	"github.com/cih1996/AI-intelligent-agent-system/internal/providers"
	"github.com/cih1996/AI-intelligent-agent-system/internal/session"
)

// roleScriptProvider dispatches canned replies by reading a "[role:X]"
// marker out of the system message, so a single shared Provider can
// drive all seven differently-rendered agent roles in one test.
type roleScriptProvider struct {
	scripts map[string][]string
	counts  map[string]int
	log     []string
}

func newRoleScriptProvider(scripts map[string][]string) *roleScriptProvider {
	return &roleScriptProvider{scripts: scripts, counts: make(map[string]int)}
}

func (p *roleScriptProvider) Name() string { return "role-script" }

func (p *roleScriptProvider) Complete(_ context.Context, messages []providers.Message, _ providers.Options, _ providers.StreamCallback) (*providers.Completion, error) {
	role := extractRole(messages[0].Content)
	p.log = append(p.log, role)

	replies := p.scripts[role]
	idx := p.counts[role]
	if idx >= len(replies) {
		idx = len(replies) - 1
	}
	p.counts[role]++
	return &providers.Completion{Content: replies[idx]}, nil
}

func extractRole(systemPrompt string) string {
	start := strings.Index(systemPrompt, "[role:")
	if start < 0 {
		return ""
	}
	end := strings.Index(systemPrompt[start:], "]")
	if end < 0 {
		return ""
	}
	return systemPrompt[start+len("[role:") : start+end]
}

func testTemplates(t *testing.T) Templates {
	t.Helper()
	build := func(raw string, required []string) *agentruntime.Template {
		tmpl, err := agentruntime.NewTemplate(raw, required)
		require.NoError(t, err)
		return tmpl
	}
	return Templates{
		MemoryManager: build("[role:memory-manager]\noutline: {MEMORY_OUTLINE}", []string{"MEMORY_OUTLINE"}),
		MemoryRouter:  build("[role:memory-router]\nindex: {CATEGORY_INDEX}", []string{"CATEGORY_INDEX"}),
		Planner:       build("[role:planner]\nmemory: {USER_MEMORY}\ntools: {MCP_TOOLS}", []string{"USER_MEMORY", "MCP_TOOLS"}),
		Supervisor:    build("[role:supervisor]\nmemory: {USER_MEMORY}", []string{"USER_MEMORY"}),
		Router:        build("[role:router]\ntools: {MCP_TOOLS}", []string{"MCP_TOOLS"}),
		Executor:      build("[role:executor]\nplugins: {PLUGINS_INFO}\nmemory: {USER_MEMORY}", []string{"PLUGINS_INFO", "USER_MEMORY"}),
		MemoryShards:  build("[role:memory-shards]\nmemory: {USER_MEMORY}", []string{"USER_MEMORY"}),
	}
}

func newTestOrchestrator(t *testing.T, provider providers.Provider, pool *mcp.Manager) *Orchestrator {
	t.Helper()
	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	memStore, err := memory.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	if pool == nil {
		pool = mcp.NewManager(nil)
	}
	return New(testTemplates(t), provider, store, memStore, pool, agentruntime.SystemClock{}, nil)
}

func collectEvents(o *Orchestrator, cid, userInput string) ([]Event, error) {
	var events []Event
	err := o.RunTurn(context.Background(), cid, userInput, func(e Event) { events = append(events, e) })
	return events, err
}

func weatherToolServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var result any
		switch req["method"] {
		case "ping":
			result = map[string]any{"ok": true}
		case "initialize":
			result = map[string]any{"serverInfo": map[string]any{"name": "weather-tool", "description": "weather lookups", "version": "1.0"}}
		case "tools/list":
			result = map[string]any{"tools": []map[string]any{{"name": "weather.get", "description": "get current weather"}}}
		case "tools/call":
			result = map[string]any{"content": []map[string]any{{"type": "text", "text": `{"temp":22}`}}, "isError": false}
		}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req["id"], "result": result}))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestRunTurn_PlainReplyNoTools(t *testing.T) {
	provider := newRoleScriptProvider(map[string][]string{
		"memory-manager": {`[]`},
		"memory-router":  {`[]`},
		"planner":        {`{"actions":[{"type":"reply","payload":"hello"}]}`},
		"memory-shards":  {`[]`},
	})
	o := newTestOrchestrator(t, provider, nil)

	events, err := collectEvents(o, "cid1", "hi")
	require.NoError(t, err)

	var sawReply, sawResponse bool
	for _, e := range events {
		if e.Type == EventChatCallback && e.CallbackType == CallbackReply {
			require.Equal(t, "hello", e.Content)
			sawReply = true
		}
		if e.Type == EventResponse {
			sawResponse = true
		}
	}
	require.True(t, sawReply)
	require.True(t, sawResponse)

	memoryShardsCalls := 0
	for _, role := range provider.log {
		if role == "supervisor" || role == "router" || role == "executor" {
			t.Fatalf("unexpected agent role invoked for a plain reply turn: %s", role)
		}
		if role == "memory-shards" {
			memoryShardsCalls++
		}
	}
	require.Equal(t, 1, memoryShardsCalls)
}

func TestRunTurn_RejectedThenApprovedPlan(t *testing.T) {
	provider := newRoleScriptProvider(map[string][]string{
		"memory-manager": {`[]`},
		"memory-router":  {`[]`},
		"planner": {
			`{"actions":[{"type":"task","payload":"delete everything"}]}`,
			`{"actions":[{"type":"reply","payload":"I won't do that"}]}`,
		},
		"supervisor":    {`{"decision":"REJECT","reason":"destructive"}`},
		"memory-shards": {`[]`},
	})
	o := newTestOrchestrator(t, provider, nil)

	events, err := collectEvents(o, "cid2", "delete my data")
	require.NoError(t, err)

	var reply string
	for _, e := range events {
		if e.Type == EventChatCallback && e.CallbackType == CallbackReply {
			reply = e.Content
		}
	}
	require.Equal(t, "I won't do that", reply)

	supervisorInvocations := 0
	for _, role := range provider.log {
		require.NotEqual(t, "router", role)
		require.NotEqual(t, "executor", role)
		if role == "supervisor" {
			supervisorInvocations++
		}
	}
	require.Equal(t, 1, supervisorInvocations)
}

func TestRunTurn_SingleStepToolCall(t *testing.T) {
	server := weatherToolServer(t)
	pool := mcp.NewManager(nil)
	require.NoError(t, pool.InitializeAll(context.Background(), mcp.Config{
		MCPServers: map[string]mcp.ServerDescriptor{"weather-tool": {URL: server.URL}},
	}))

	provider := newRoleScriptProvider(map[string][]string{
		"memory-manager": {`[]`},
		"memory-router":  {`[]`},
		"planner": {
			`{"actions":[{"type":"task","payload":"fetch weather for Tokyo"}]}`,
			`{"actions":[{"type":"reply","payload":"It's 22°C in Tokyo."}]}`,
		},
		"supervisor": {`{"decision":"APPROVE"}`},
		"router":     {`["weather-tool"]`},
		"executor": {
			`{"action":"call","calls":[{"tool":"weather.get","input":{"city":"Tokyo"}}]}`,
			`{"action":"finish","summary":"22°C in Tokyo","extracted_data":{"temp":22}}`,
		},
		"memory-shards": {`[]`},
	})
	o := newTestOrchestrator(t, provider, pool)

	events, err := collectEvents(o, "cid3", "what's the weather in Tokyo")
	require.NoError(t, err)

	var reply string
	for _, e := range events {
		if e.Type == EventChatCallback && e.CallbackType == CallbackReply {
			reply = e.Content
		}
	}
	require.Equal(t, "It's 22°C in Tokyo.", reply)
}

func TestRunTurn_BoundedExecutorTerminatesWithStageLimitError(t *testing.T) {
	server := weatherToolServer(t)
	pool := mcp.NewManager(nil)
	require.NoError(t, pool.InitializeAll(context.Background(), mcp.Config{
		MCPServers: map[string]mcp.ServerDescriptor{"weather-tool": {URL: server.URL}},
	}))

	callEveryTurn := make([]string, 0, executor.MaxStages+1)
	for i := 0; i < executor.MaxStages+1; i++ {
		callEveryTurn = append(callEveryTurn, `{"action":"call","calls":[{"tool":"weather.get","input":{}}]}`)
	}

	provider := newRoleScriptProvider(map[string][]string{
		"memory-manager": {`[]`},
		"memory-router":  {`[]`},
		"planner":        {`{"actions":[{"type":"task","payload":"loop forever"}]}`},
		"supervisor":     {`{"decision":"APPROVE"}`},
		"router":         {`["weather-tool"]`},
		"executor":       callEveryTurn,
		"memory-shards":  {`[]`},
	})
	o := newTestOrchestrator(t, provider, pool)

	events, err := collectEvents(o, "cid4", "loop forever")
	require.Error(t, err)

	var sawErrorEvent bool
	for _, e := range events {
		if e.Type == EventError {
			sawErrorEvent = true
		}
	}
	require.True(t, sawErrorEvent)
}

func TestRunTurn_MemoryShardsAppliedAfterReply(t *testing.T) {
	provider := newRoleScriptProvider(map[string][]string{
		"memory-manager": {`[]`},
		"memory-router":  {`[]`},
		"planner":        {`{"actions":[{"type":"reply","payload":"noted"}]}`},
		"memory-shards":  {`[{"action":"add","key":"k1","category":"prefs","payload":"dark mode","importance":5,"source":"user"}]`},
	})
	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	memStore, err := memory.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	o := New(testTemplates(t), provider, store, memStore, mcp.NewManager(nil), agentruntime.SystemClock{}, nil)

	_, err = collectEvents(o, "cid5", "remember I like dark mode")
	require.NoError(t, err)

	shards := memStore.LoadCategory("cid5", "prefs")
	require.Len(t, shards, 1)
	require.Equal(t, "k1", shards[0].Key)
	require.Equal(t, 1, shards[0].TriggerCount)
}
