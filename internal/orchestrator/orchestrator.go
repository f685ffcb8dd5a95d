package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cih1996/AI-intelligent-agent-system/internal/agentruntime"
	"github.com/cih1996/AI-intelligent-agent-system/internal/executor"
	"github.com/cih1996/AI-intelligent-agent-system/internal/jsonlenient"
	"github.com/cih1996/AI-intelligent-agent-system/internal/mcp"
	"github.com/cih1996/AI-intelligent-agent-system/internal/memory"
	"github.com/cih1996/AI-intelligent-agent-system/internal/observability"
	"github.com/cih1996/AI-intelligent-agent-system/internal/providers"
	"github.com/cih1996/AI-intelligent-agent-system/internal/session"
)

// ErrMissingActions is a protocol error: a planner reply lacking the
// required actions key (spec §3, §4.5 stage 2).
var ErrMissingActions = errors.New("orchestrator: planner reply missing actions")

// ErrUnknownPlugin is a routing error: the router named a plugin the pool
// does not know (spec §4.5 stage 4, §7).
var ErrUnknownPlugin = errors.New("orchestrator: router named an unknown plugin")

// ErrToolExecutionFailed aborts the turn when any call within a task's
// aggregate results failed (spec §4.5 stage 5, §7).
var ErrToolExecutionFailed = errors.New("orchestrator: tool execution failed")

// Orchestrator drives the seven-stage pipeline of spec §4.5 for one
// conversation at a time, caching live agent bundles per cid.
type Orchestrator struct {
	templates Templates
	provider  providers.Provider
	store     session.Store
	memory    *memory.Store
	pool      *mcp.Manager
	clock     agentruntime.Clock
	logger    *slog.Logger
	cache     *bundleCache
	metrics   *observability.Metrics
}

// SetMetrics attaches a metrics sink; nil is safe and disables
// instrumentation (observability is an ambient concern, not required for
// correctness).
func (o *Orchestrator) SetMetrics(m *observability.Metrics) {
	o.metrics = m
}

// New builds an Orchestrator. The process-wide agent cache starts empty.
func New(templates Templates, provider providers.Provider, store session.Store, memStore *memory.Store, pool *mcp.Manager, clock agentruntime.Clock, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = agentruntime.SystemClock{}
	}
	return &Orchestrator{
		templates: templates,
		provider:  provider,
		store:     store,
		memory:    memStore,
		pool:      pool,
		clock:     clock,
		logger:    logger,
		cache:     newBundleCache(),
	}
}

// EvictConversation drops a cid's cached agent bundle (spec §4.9, DELETE
// /api/conversations/<cid>).
func (o *Orchestrator) EvictConversation(cid string) {
	o.cache.evict(cid)
	o.metrics.SetActiveConversations(o.cache.size())
}

// RunTurn processes one user message end to end, emitting streaming
// events as each stage completes (spec §4.5, §4.8).
func (o *Orchestrator) RunTurn(ctx context.Context, cid, userInput string, emit Emitter) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		o.metrics.RecordTurn(outcome, time.Since(start).Seconds())
	}()

	bundle, err := o.cache.getOrCreate(cid, o.templates, o.provider, o.store, o.clock, o.pool)
	if err != nil {
		emit(Event{Type: EventError, Message: err.Error()})
		return err
	}
	bundle.ExecutorLoop.SetMetrics(o.metrics)
	o.metrics.SetActiveConversations(o.cache.size())

	// Stage 1 — memory retrieval: one Memory Manager call shared by both
	// downstream agents, then one Memory Router call per agent.
	categories, err := o.selectCategories(ctx, bundle, cid, userInput, memoryLabelPlannerSupervisor)
	if err != nil {
		return o.fail(emit, err)
	}
	plannerMemoryMD, err := o.routeMemory(ctx, bundle, cid, categories, userInput, "planner")
	if err != nil {
		return o.fail(emit, err)
	}
	supervisorMemoryMD, err := o.routeMemory(ctx, bundle, cid, categories, userInput, "supervisor")
	if err != nil {
		return o.fail(emit, err)
	}

	outlineCount, _ := o.memory.ScanOutlines(cid)
	emit(Event{Type: EventChatCallback, CallbackType: CallbackThinking, Content: fmt.Sprintf("读取到%d条用户记忆索引", totalShards(outlineCount))})
	emit(Event{Type: EventChatCallback, CallbackType: CallbackThinking, Content: "正在思考.."})

	// Stage 2 — planner.
	bundle.Planner.UpdateSystemPrompt(map[string]string{
		"USER_MEMORY": plannerMemoryMD,
		"MCP_TOOLS":   o.pool.SummarisePlugins(),
	})
	plannerHistoryBefore, _ := bundle.Planner.GetHistoryCount()
	plan, err := o.chatAndParseActions(ctx, bundle.Planner, userInput)
	if err != nil {
		return o.fail(emit, err)
	}

	hasTask := planHasTask(plan)

	// Stage 3 — supervision (conditional).
	if hasTask {
		plan, err = o.superviseLoop(ctx, bundle, userInput, supervisorMemoryMD, plan, emit)
		if err != nil {
			return o.fail(emit, err)
		}
		hasTask = planHasTask(plan)
	}

	var taskActions []ActionItem
	var matchedPlugins []mcp.PluginDescriptor

	// Stage 4 — tool routing (conditional).
	if hasTask {
		taskActions = filterActions(plan, ActionTask)
		matchedPlugins, err = o.routeTools(ctx, bundle, plan)
		if err != nil {
			return o.fail(emit, err)
		}
	}

	// Stage 5 — execution.
	if hasTask {
		mcpHistory, err := o.executeTasks(ctx, bundle, cid, userInput, plan, taskActions, matchedPlugins)
		if err != nil {
			return o.fail(emit, err)
		}

		// Stage 6 — planner re-entry.
		feedback := mcpHistory + "\n(以上为MCP执行结果)"
		plan, err = o.chatAndParseActions(ctx, bundle.Planner, feedback)
		if err != nil {
			return o.fail(emit, err)
		}
	}

	// Stage 7 — reply & memory update.
	var replies []ActionItem
	for _, action := range plan.Actions {
		if action.Type == ActionReply {
			emit(Event{Type: EventChatCallback, CallbackType: CallbackReply, Content: action.Payload})
			replies = append(replies, action)
		}
	}

	plannerHistoryAfter, _ := bundle.Planner.GetHistoryCount()
	if err := o.updateMemoryShards(ctx, bundle, cid, plannerMemoryMD, plannerHistoryBefore, plannerHistoryAfter); err != nil {
		o.logger.Warn("memory shards update failed", "cid", cid, "error", err)
	}

	emit(Event{Type: EventResponse, Data: &ResponseData{Success: true, Actions: plan.Actions}})
	return nil
}

func (o *Orchestrator) fail(emit Emitter, err error) error {
	emit(Event{Type: EventError, Message: err.Error()})
	return err
}

// chatAndParseActions sends content to the planner and parses its reply
// as an Action Spec (spec §4.5 stage 2, §4.7).
func (o *Orchestrator) chatAndParseActions(ctx context.Context, planner *agentruntime.Runtime, content string) (ActionSpec, error) {
	completion, err := planner.Chat(ctx, content, providers.Options{ResponseFormat: providers.ResponseFormatJSON})
	if err != nil {
		return ActionSpec{}, fmt.Errorf("orchestrator: planner chat: %w", err)
	}

	var spec ActionSpec
	if err := jsonlenient.Parse(completion.Content, jsonlenient.ShapeObject, &spec); err != nil {
		return ActionSpec{}, fmt.Errorf("%w: %v", ErrMissingActions, err)
	}
	if spec.Actions == nil {
		return ActionSpec{}, ErrMissingActions
	}
	for _, action := range spec.Actions {
		if action.Type != ActionReply && action.Type != ActionTask {
			o.logger.Warn("planner emitted unknown action type, ignoring", "type", action.Type)
		}
	}
	return spec, nil
}

func planHasTask(plan ActionSpec) bool {
	for _, action := range plan.Actions {
		if action.Type == ActionTask {
			return true
		}
	}
	return false
}

func filterActions(plan ActionSpec, actionType ActionType) []ActionItem {
	var out []ActionItem
	for _, action := range plan.Actions {
		if action.Type == actionType {
			out = append(out, action)
		}
	}
	return out
}

// superviseLoop implements spec §4.5 stage 3: up to maxSupervisorRetries
// rejections, re-prompting the planner each time; after exhausting
// retries it proceeds with the latest plan (logged warning). A revised
// plan that still contains a task is supervised again on the next
// iteration; a revised plan with no task ends the loop without another
// supervisor call, and the revision that follows the last permitted
// rejection is not supervised.
func (o *Orchestrator) superviseLoop(ctx context.Context, bundle *AgentBundle, userInput, supervisorMemoryMD string, plan ActionSpec, emit Emitter) (ActionSpec, error) {
	if err := bundle.Supervisor.ClearHistory(); err != nil {
		return plan, fmt.Errorf("orchestrator: clear supervisor history: %w", err)
	}
	bundle.Supervisor.UpdateSystemPrompt(map[string]string{"USER_MEMORY": supervisorMemoryMD})

	for attempt := 1; attempt <= maxSupervisorRetries; attempt++ {
		planJSON, err := json.Marshal(plan)
		if err != nil {
			return plan, fmt.Errorf("orchestrator: marshal plan for supervisor: %w", err)
		}

		prompt := fmt.Sprintf("%s\n\n%s", userInput, string(planJSON))
		completion, err := bundle.Supervisor.Chat(ctx, prompt, providers.Options{ResponseFormat: providers.ResponseFormatJSON})
		if err != nil {
			return plan, fmt.Errorf("orchestrator: supervisor chat: %w", err)
		}

		var decision SuperviseDecision
		if err := jsonlenient.Parse(completion.Content, jsonlenient.ShapeObject, &decision); err != nil {
			return plan, fmt.Errorf("orchestrator: parse supervisor decision: %w", err)
		}

		o.metrics.RecordSupervisorDecision(decision.Decision)

		if decision.Decision != DecisionReject {
			return plan, nil
		}

		decisionJSON, _ := json.Marshal(decision)
		feedback := fmt.Sprintf("[监督反馈 - 第%d次] %s\n\n请根据上述反馈，重新优化你的输出。", attempt, string(decisionJSON))
		revised, err := o.chatAndParseActions(ctx, bundle.Planner, feedback)
		if err != nil {
			return plan, err
		}
		plan = revised
		if !planHasTask(plan) {
			return plan, nil
		}
	}

	o.logger.Warn("supervisor rejected plan 3 times, proceeding anyway")
	return plan, nil
}

// routeTools implements spec §4.5 stage 4.
func (o *Orchestrator) routeTools(ctx context.Context, bundle *AgentBundle, plan ActionSpec) ([]mcp.PluginDescriptor, error) {
	bundle.Router.UpdateSystemPrompt(map[string]string{"MCP_TOOLS": o.pool.SummarisePlugins()})

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: marshal plan for router: %w", err)
	}

	completion, err := bundle.Router.Chat(ctx, string(planJSON), providers.Options{ResponseFormat: providers.ResponseFormatJSON})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: router chat: %w", err)
	}

	var names []string
	if err := jsonlenient.Parse(completion.Content, jsonlenient.ShapeArray, &names); err != nil {
		return nil, fmt.Errorf("orchestrator: parse router reply: %w", err)
	}

	plugins := make([]mcp.PluginDescriptor, 0, len(names))
	for _, name := range names {
		plugin, ok := o.pool.Plugin(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
		}
		plugins = append(plugins, plugin)
	}
	return plugins, nil
}

// executeTasks implements spec §4.5 stage 5: a second Memory Manager /
// Memory Router pass labeled 执行AI, then one executor sub-loop run per
// task action in order, aborting the turn on the first task whose
// aggregate results contain a failure.
func (o *Orchestrator) executeTasks(ctx context.Context, bundle *AgentBundle, cid, userInput string, plan ActionSpec, taskActions []ActionItem, plugins []mcp.PluginDescriptor) (string, error) {
	planJSON, err := json.Marshal(plan.Actions)
	if err != nil {
		return "", fmt.Errorf("orchestrator: marshal actions: %w", err)
	}
	combined := fmt.Sprintf("%s\n(以上为用户描述)\n%s\n(以上为MCP任务需求)", userInput, string(planJSON))

	executorMemoryMD, err := o.memoryMarkdownFor(ctx, bundle, cid, combined, memoryLabelExecutor)
	if err != nil {
		return "", err
	}

	if err := bundle.ExecutorLoop.ClearAgentHistory(); err != nil {
		return "", fmt.Errorf("orchestrator: clear executor history: %w", err)
	}

	var history strings.Builder
	for _, action := range taskActions {
		result, err := bundle.ExecutorLoop.ExecutePlugins(ctx, plugins, executorMemoryMD, action.Payload)
		if err != nil {
			return "", fmt.Errorf("orchestrator: execute task: %w", err)
		}

		for _, call := range result.AggregateResults {
			if !call.Success {
				return "", fmt.Errorf("%w: %s: %s", ErrToolExecutionFailed, call.Tool, call.Error)
			}
		}

		resultJSON, _ := json.Marshal(result)
		fmt.Fprintf(&history, "%s\n", string(resultJSON))
	}

	return history.String(), nil
}

// updateMemoryShards implements spec §4.5 stage 7's memory update: the
// planner's newly-added history slice (captured by count-before vs
// count-after) plus its current memory markdown are handed to the Memory
// Shards agent, whose reply is parsed as a Change Op list and applied.
func (o *Orchestrator) updateMemoryShards(ctx context.Context, bundle *AgentBundle, cid, plannerMemoryMD string, before, after int) error {
	if after <= before {
		return nil
	}

	history, err := bundle.Planner.GetHistory(0)
	if err != nil {
		return fmt.Errorf("load planner history: %w", err)
	}
	if after > len(history) {
		after = len(history)
	}
	slice := history[before:after]

	sliceJSON, err := json.Marshal(slice)
	if err != nil {
		return fmt.Errorf("marshal history slice: %w", err)
	}

	bundle.MemoryShards.UpdateSystemPrompt(map[string]string{"USER_MEMORY": plannerMemoryMD})
	completion, err := bundle.MemoryShards.Chat(ctx, string(sliceJSON), providers.Options{ResponseFormat: providers.ResponseFormatJSON})
	if err != nil {
		return fmt.Errorf("memory shards chat: %w", err)
	}

	var ops []memory.ChangeOp
	if err := jsonlenient.Parse(completion.Content, jsonlenient.ShapeArray, &ops); err != nil {
		return fmt.Errorf("parse memory shards reply: %w", err)
	}

	_, err = o.memory.ApplyChanges(cid, ops)
	return err
}

func totalShards(outlines map[string]int) int {
	total := 0
	for _, count := range outlines {
		total += count
	}
	return total
}

var _ executor.ToolInvoker = (*mcp.Manager)(nil)
