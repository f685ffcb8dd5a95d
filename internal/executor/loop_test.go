package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cih1996/AI-intelligent-agent-system/internal/agentruntime"
	"github.com/cih1996/AI-intelligent-agent-system/internal/mcp"
	"github.com/cih1996/AI-intelligent-agent-system/internal/providers"
	"github.com/cih1996/AI-intelligent-agent-system/internal/session"
)

type scriptedProvider struct {
	replies []string
	calls   int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, _ []providers.Message, _ providers.Options, _ providers.StreamCallback) (*providers.Completion, error) {
	idx := p.calls
	if idx >= len(p.replies) {
		idx = len(p.replies) - 1
	}
	p.calls++
	return &providers.Completion{Content: p.replies[idx]}, nil
}

type fakePool struct {
	results map[string]mcp.ToolResult
	calls   []string
}

func (f *fakePool) Invoke(_ context.Context, toolName string, _ map[string]any) (mcp.ToolResult, error) {
	f.calls = append(f.calls, toolName)
	if result, ok := f.results[toolName]; ok {
		return result, nil
	}
	return mcp.ToolResult{Success: false, Error: "tool not found: " + toolName}, nil
}

func newTestLoop(t *testing.T, provider providers.Provider, pool ToolInvoker) *Loop {
	t.Helper()
	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	template, err := agentruntime.NewTemplate("plugins: {PLUGINS_INFO}\nmemory: {USER_MEMORY}", []string{"PLUGINS_INFO", "USER_MEMORY"})
	require.NoError(t, err)
	agent, err := agentruntime.New("executor", "cid1", template, provider, store, agentruntime.SystemClock{}, agentruntime.WithCompressionDisabled())
	require.NoError(t, err)
	return New(agent, pool)
}

func TestExecutePlugins_FinishOnFirstReply(t *testing.T) {
	provider := &scriptedProvider{replies: []string{`{"action":"finish","summary":"done","extracted_data":{"x":1}}`}}
	loop := newTestLoop(t, provider, &fakePool{})

	result, err := loop.ExecutePlugins(context.Background(), nil, "no memory", "say hi")
	require.NoError(t, err)
	require.Equal(t, "done", result.Summary)
	require.Empty(t, result.AggregateResults)
}

func TestExecutePlugins_SingleStepToolCall(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		`{"action":"call","calls":[{"tool":"weather.get","input":{"city":"Tokyo"}}]}`,
		`{"action":"finish","summary":"22°C in Tokyo","extracted_data":{"temp":22}}`,
	}}
	pool := &fakePool{results: map[string]mcp.ToolResult{
		"weather.get": {Success: true, Content: map[string]any{"temp": float64(22)}},
	}}
	loop := newTestLoop(t, provider, pool)

	result, err := loop.ExecutePlugins(context.Background(), nil, "no memory", "fetch weather for Tokyo")
	require.NoError(t, err)
	require.Equal(t, "22°C in Tokyo", result.Summary)
	require.Len(t, result.AggregateResults, 1)
	require.True(t, result.AggregateResults[0].Success)
	require.Equal(t, []string{"weather.get"}, pool.calls)
}

func TestExecutePlugins_BatchContinuesPastFailureButAggregatesIt(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		`{"action":"call","calls":[{"tool":"a"},{"tool":"b"}]}`,
		`{"action":"finish","summary":"done","extracted_data":{}}`,
	}}
	pool := &fakePool{results: map[string]mcp.ToolResult{
		"a": {Success: false, Error: "boom"},
		"b": {Success: true, Content: "ok"},
	}}
	loop := newTestLoop(t, provider, pool)

	result, err := loop.ExecutePlugins(context.Background(), nil, "no memory", "task")
	require.NoError(t, err)
	require.Len(t, result.AggregateResults, 2)
	require.False(t, result.AggregateResults[0].Success)
	require.True(t, result.AggregateResults[1].Success)
	require.Equal(t, []string{"a", "b"}, pool.calls)
}

func TestExecutePlugins_EmptyCallsIsProtocolError(t *testing.T) {
	provider := &scriptedProvider{replies: []string{`{"action":"call","calls":[]}`}}
	loop := newTestLoop(t, provider, &fakePool{})

	_, err := loop.ExecutePlugins(context.Background(), nil, "no memory", "task")
	require.ErrorIs(t, err, ErrEmptyCallBatch)
}

func TestExecutePlugins_StageLimitExceeded(t *testing.T) {
	replies := make([]string, 0, MaxStages+1)
	for i := 0; i < MaxStages+1; i++ {
		replies = append(replies, `{"action":"call","calls":[{"tool":"noop"}]}`)
	}
	provider := &scriptedProvider{replies: replies}
	pool := &fakePool{results: map[string]mcp.ToolResult{"noop": {Success: true, Content: "ok"}}}
	loop := newTestLoop(t, provider, pool)

	_, err := loop.ExecutePlugins(context.Background(), nil, "no memory", "task")
	var limitErr *ErrStageLimitExceeded
	require.ErrorAs(t, err, &limitErr)
	require.Len(t, limitErr.AggregateResults, MaxStages)
	require.Len(t, pool.calls, MaxStages)
}

func TestFormatPluginsInfo_EnumeratesToolsAndParameters(t *testing.T) {
	plugins := []mcp.PluginDescriptor{{
		Name:        "weather",
		Description: "weather lookups",
		Tools: []mcp.ToolDescriptor{{
			Name:        "weather.get",
			Description: "get current weather",
			InputSchema: []byte(`{"properties":{"city":{"type":"string","description":"city name"}},"required":["city"]}`),
		}},
	}}
	out := FormatPluginsInfo(plugins)
	require.Contains(t, out, "weather.get")
	require.Contains(t, out, "city")
	require.Contains(t, out, "required")
}
