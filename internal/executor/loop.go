package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cih1996/AI-intelligent-agent-system/internal/agentruntime"
	"github.com/cih1996/AI-intelligent-agent-system/internal/jsonlenient"
	"github.com/cih1996/AI-intelligent-agent-system/internal/mcp"
	"github.com/cih1996/AI-intelligent-agent-system/internal/observability"
	"github.com/cih1996/AI-intelligent-agent-system/internal/providers"
)

// ToolInvoker is the pool surface the sub-loop dispatches calls through;
// satisfied by *mcp.Manager.
type ToolInvoker interface {
	Invoke(ctx context.Context, toolName string, arguments map[string]any) (mcp.ToolResult, error)
}

// Loop drives one executor agent through the CALLING/FEEDBACK state
// machine of spec §4.6.
type Loop struct {
	agent   *agentruntime.Runtime
	pool    ToolInvoker
	metrics *observability.Metrics
}

// New builds a sub-loop bound to one executor agent instance and the
// pool it dispatches tool calls through.
func New(agent *agentruntime.Runtime, pool ToolInvoker) *Loop {
	return &Loop{agent: agent, pool: pool}
}

// SetMetrics attaches a metrics sink; nil disables instrumentation.
func (l *Loop) SetMetrics(m *observability.Metrics) {
	l.metrics = m
}

// ClearAgentHistory empties the executor agent's persisted history,
// called by the orchestrator once per turn, before the first task's
// ExecutePlugins call (spec §4.5 stage 5).
func (l *Loop) ClearAgentHistory() error {
	return l.agent.ClearHistory()
}

// ExecutePlugins renders the executor's template with the plugin catalog
// and user-memory markdown, sends the first task prompt, and runs the
// bounded CALLING/FEEDBACK loop to completion (spec §4.6).
func (l *Loop) ExecutePlugins(ctx context.Context, plugins []mcp.PluginDescriptor, memoryMD string, taskPayload string) (*FinishResult, error) {
	l.agent.UpdateSystemPrompt(map[string]string{
		"PLUGINS_INFO": FormatPluginsInfo(plugins),
		"USER_MEMORY":  memoryMD,
	})

	first := fmt.Sprintf("本轮任务需求: %s", taskPayload)
	completion, err := l.agent.Chat(ctx, first, providers.Options{ResponseFormat: providers.ResponseFormatJSON})
	if err != nil {
		return nil, fmt.Errorf("executor: first call: %w", err)
	}

	return l.runLoop(ctx, completion.Content, plugins, taskPayload)
}

// runLoop implements the state machine starting immediately in FEEDBACK
// (spec §4.6: "Initial state: FEEDBACK immediately after the first
// reply"), bounded at MaxStages transitions.
func (l *Loop) runLoop(ctx context.Context, firstReply string, plugins []mcp.PluginDescriptor, taskPayload string) (*FinishResult, error) {
	var aggregate []CallResult
	reply := firstReply

	for stage := 0; stage < MaxStages; stage++ {
		var decision Decision
		if err := jsonlenient.Parse(reply, jsonlenient.ShapeObject, &decision); err != nil {
			return nil, fmt.Errorf("executor: parse decision: %w", err)
		}

		switch decision.Action {
		case ActionFinish:
			l.metrics.RecordExecutorStages(stage + 1)
			return &FinishResult{
				Summary:          decision.Summary,
				ExtractedData:    decision.ExtractedData,
				AggregateResults: aggregate,
			}, nil

		case ActionCall:
			if len(decision.Calls) == 0 {
				return nil, ErrEmptyCallBatch
			}

			feedback, results := l.dispatchBatch(ctx, decision.Calls)
			aggregate = append(aggregate, results...)

			next, err := l.agent.Chat(ctx, feedback, providers.Options{ResponseFormat: providers.ResponseFormatJSON})
			if err != nil {
				return nil, fmt.Errorf("executor: continue call: %w", err)
			}
			reply = next.Content

		default:
			return nil, fmt.Errorf("executor: unknown decision action %q", decision.Action)
		}
	}

	l.metrics.RecordExecutorStages(MaxStages)
	return nil, &ErrStageLimitExceeded{AggregateResults: aggregate}
}

// dispatchBatch executes every call in array order. A failing call does
// not short-circuit its siblings in the same batch (spec §4.6, §9
// resolved ambiguity) — the orchestrator decides whether to abort the
// turn at the batch boundary once all results are in.
func (l *Loop) dispatchBatch(ctx context.Context, calls []Call) (string, []CallResult) {
	var sb strings.Builder
	results := make([]CallResult, 0, len(calls))

	for _, call := range calls {
		outcome, err := l.pool.Invoke(ctx, call.Tool, call.Input)
		if err != nil {
			outcome = mcp.ToolResult{Success: false, Error: err.Error()}
		}

		if outcome.Success {
			raw, _ := json.Marshal(outcome.Content)
			fmt.Fprintf(&sb, "%s 执行结果:\n%s\n", call.Tool, string(raw))
			results = append(results, CallResult{Tool: call.Tool, Result: outcome.Content, Success: true})
		} else {
			fmt.Fprintf(&sb, "%s 错误结果:\n%s\n", call.Tool, outcome.Error)
			results = append(results, CallResult{Tool: call.Tool, Error: outcome.Error, Success: false})
		}
	}

	return sb.String(), results
}

// FormatPluginsInfo enumerates each plugin, its tools, and each tool's
// parameters (type, required?, enum?, items?, description) for the
// {PLUGINS_INFO} placeholder (spec §4.6).
func FormatPluginsInfo(plugins []mcp.PluginDescriptor) string {
	var sb strings.Builder
	for _, plugin := range plugins {
		fmt.Fprintf(&sb, "## %s\n%s\n", plugin.Name, plugin.Description)
		for _, tool := range plugin.Tools {
			fmt.Fprintf(&sb, "- %s: %s\n", tool.Name, tool.Description)
			for _, line := range formatParameters(tool.InputSchema) {
				sb.WriteString("  " + line + "\n")
			}
		}
	}
	return sb.String()
}

// formatParameters decodes a JSON-Schema-shaped input_schema
// ({properties, required}) into one descriptive line per parameter.
func formatParameters(schema json.RawMessage) []string {
	if len(schema) == 0 {
		return nil
	}

	var parsed struct {
		Properties map[string]struct {
			Type        string   `json:"type"`
			Enum        []any    `json:"enum"`
			Items       any      `json:"items"`
			Description string   `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &parsed); err != nil {
		return nil
	}

	required := make(map[string]bool, len(parsed.Required))
	for _, name := range parsed.Required {
		required[name] = true
	}

	names := make([]string, 0, len(parsed.Properties))
	for name := range parsed.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		prop := parsed.Properties[name]
		parts := []string{fmt.Sprintf("type=%s", prop.Type)}
		if required[name] {
			parts = append(parts, "required")
		}
		if len(prop.Enum) > 0 {
			parts = append(parts, fmt.Sprintf("enum=%v", prop.Enum))
		}
		if prop.Items != nil {
			parts = append(parts, fmt.Sprintf("items=%v", prop.Items))
		}
		if prop.Description != "" {
			parts = append(parts, prop.Description)
		}
		lines = append(lines, fmt.Sprintf("%s (%s)", name, strings.Join(parts, ", ")))
	}
	return lines
}
