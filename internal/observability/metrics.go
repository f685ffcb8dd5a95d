// Package observability centralizes the ambient Prometheus metrics
// surface for the orchestration core: turn/stage counters, provider and
// tool-call latency histograms, and HTTP request instrumentation.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a centralized collection of Prometheus instruments covering
// the orchestrator's seven-stage pipeline (spec §4.5), the MCP tool pool
// (spec §4.4), and the HTTP surface (spec §4.8/§4.9).
//
// Usage:
//
//	m := observability.NewMetrics()
//	start := time.Now()
//	defer func() { m.RecordTurn("ok", time.Since(start).Seconds()) }()
type Metrics struct {
	// TurnCounter counts orchestrator turns by outcome.
	// Labels: outcome (ok|error)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures a full RunTurn call, memory retrieval
	// through reply/memory-update, in seconds.
	// Labels: outcome (ok|error)
	TurnDuration *prometheus.HistogramVec

	// SupervisorDecisionCounter counts supervisor decisions by value.
	// Labels: decision (APPROVE|REJECT|unknown)
	SupervisorDecisionCounter *prometheus.CounterVec

	// ToolCallCounter counts individual MCP tool invocations.
	// Labels: tool, status (success|error)
	ToolCallCounter *prometheus.CounterVec

	// ToolCallDuration measures one MCP tools/call round trip.
	// Labels: tool
	// Buckets: 0.05s, 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s
	ToolCallDuration *prometheus.HistogramVec

	// ExecutorStagesUsed records how many CALLING/FEEDBACK stages the
	// tool-execution sub-loop consumed before finishing (spec §4.6).
	// Buckets: one bucket per stage, 1..MAX_STAGES.
	ExecutorStagesUsed prometheus.Histogram

	// LLMRequestCounter counts provider completions by provider and
	// status.
	// Labels: provider, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures one provider Complete call.
	// Labels: provider
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// MemoryChangeCounter counts applied memory change operations by
	// action and outcome.
	// Labels: action (add|del), outcome (applied|dropped)
	MemoryChangeCounter *prometheus.CounterVec

	// HTTPRequestCounter counts HTTP requests by route and status.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP handler latency.
	// Labels: method, path
	// Buckets: 0.001s, 0.01s, 0.1s, 0.5s, 1s, 5s, 30s
	HTTPRequestDuration *prometheus.HistogramVec

	// ActiveConversations is a gauge of cached agent bundles, i.e. live
	// conversations held in the process-wide orchestrator cache.
	ActiveConversations prometheus.Gauge
}

// NewMetrics constructs and registers every instrument against
// Prometheus's default registry. Call once at process startup.
func NewMetrics() *Metrics {
	return &Metrics{
		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_turns_total",
				Help: "Total number of orchestrator turns by outcome",
			},
			[]string{"outcome"},
		),

		TurnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_turn_duration_seconds",
				Help:    "Duration of a full orchestrator turn in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),

		SupervisorDecisionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_supervisor_decisions_total",
				Help: "Total number of supervisor decisions by value",
			},
			[]string{"decision"},
		),

		ToolCallCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcp_tool_calls_total",
				Help: "Total number of MCP tool invocations by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcp_tool_call_duration_seconds",
				Help:    "Duration of an MCP tools/call round trip",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"tool"},
		),

		ExecutorStagesUsed: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "executor_stages_used",
				Help:    "Number of CALLING/FEEDBACK stages consumed before the executor sub-loop finished",
				Buckets: prometheus.LinearBuckets(1, 1, 10),
			},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of provider completion requests by provider and status",
			},
			[]string{"provider", "status"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of provider completion requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),

		MemoryChangeCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memory_change_ops_total",
				Help: "Total number of memory change operations by action and outcome",
			},
			[]string{"action", "outcome"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status code",
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"method", "path"},
		),

		ActiveConversations: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_active_conversations",
				Help: "Current number of cached conversation agent bundles",
			},
		),
	}
}

// RecordTurn records the outcome and duration of one orchestrator turn.
func (m *Metrics) RecordTurn(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TurnCounter.WithLabelValues(outcome).Inc()
	m.TurnDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordSupervisorDecision records one supervisor verdict.
func (m *Metrics) RecordSupervisorDecision(decision string) {
	if m == nil {
		return
	}
	m.SupervisorDecisionCounter.WithLabelValues(decision).Inc()
}

// RecordToolCall records one MCP tool invocation.
func (m *Metrics) RecordToolCall(tool, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolCallCounter.WithLabelValues(tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordExecutorStages records how many stages the sub-loop used.
func (m *Metrics) RecordExecutorStages(stages int) {
	if m == nil {
		return
	}
	m.ExecutorStagesUsed.Observe(float64(stages))
}

// RecordLLMRequest records one provider completion call.
func (m *Metrics) RecordLLMRequest(provider, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.LLMRequestCounter.WithLabelValues(provider, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordMemoryChange records one applied or dropped change op.
func (m *Metrics) RecordMemoryChange(action, outcome string) {
	if m == nil {
		return
	}
	m.MemoryChangeCounter.WithLabelValues(action, outcome).Inc()
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

// SetActiveConversations sets the cached-bundle gauge.
func (m *Metrics) SetActiveConversations(n int) {
	if m == nil {
		return
	}
	m.ActiveConversations.Set(float64(n))
}
