// Package executor implements the Tool-Execution Sub-loop (spec §4.6):
// a bounded CALLING/FEEDBACK state machine in which an executor agent
// emits batches of tool calls, receives their aggregated results, and
// decides whether to continue or finish.
package executor

import "fmt"

// MaxStages bounds the number of state transitions per tool task (spec
// §4.6, §5) — independently arrived at in the source spec as the same
// constant the teacher's own agent loop uses as its default iteration cap.
const MaxStages = 10

// Action is the Executor Decision's discriminant (spec §3).
type Action string

const (
	ActionCall   Action = "call"
	ActionFinish Action = "finish"
)

// Call is one entry of a "call" decision's calls[] (spec §3).
type Call struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input"`
}

// Decision is the executor agent's parsed reply (spec §3).
type Decision struct {
	Action        Action         `json:"action"`
	Calls         []Call         `json:"calls,omitempty"`
	Summary       string         `json:"summary,omitempty"`
	ExtractedData map[string]any `json:"extracted_data,omitempty"`
}

// CallResult is one tool invocation's outcome, recorded regardless of
// success so aggregate_results reflects every call made (spec §4.6).
type CallResult struct {
	Tool    string `json:"tool"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
	Success bool   `json:"success"`
}

// FinishResult is the sub-loop's successful terminal value (spec §4.6).
type FinishResult struct {
	Summary          string         `json:"summary"`
	ExtractedData    map[string]any `json:"extracted_data"`
	AggregateResults []CallResult   `json:"aggregate_results"`
}

// ErrStageLimitExceeded is returned when MaxStages transitions elapse
// without a "finish" decision (spec §7, §8 "Bounded loops").
type ErrStageLimitExceeded struct {
	AggregateResults []CallResult
}

func (e *ErrStageLimitExceeded) Error() string {
	return fmt.Sprintf("executor: stage limit (%d) exceeded without finish, %d calls made", MaxStages, len(e.AggregateResults))
}

// ErrEmptyCallBatch is a protocol error: a "call" decision with no calls.
var ErrEmptyCallBatch = protocolError("executor: call decision has no calls")

type protocolError string

func (e protocolError) Error() string { return string(e) }
