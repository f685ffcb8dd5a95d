// Package agentruntime implements the Agent Runtime component (spec
// §4.2): per-agent prompt template rendering, per-session history,
// context-summary compaction, and provider dispatch.
package agentruntime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cih1996/AI-intelligent-agent-system/internal/providers"
	"github.com/cih1996/AI-intelligent-agent-system/internal/session"
)

// StreamCallback fires for each streamed fragment of a Chat call. It
// receives the owning agent's name, the fragment, and the text
// accumulated so far. The runtime never blocks waiting on it.
type StreamCallback func(agentName, fragment, accumulated string)

// compressorSystemPrompt is the fixed instruction given to the secondary
// compression pass. It is not one of the seven external prompt-template
// files (those are out of scope per spec §1); the compressor is internal
// plumbing, not a user-facing agent persona.
const compressorSystemPrompt = "You compress a conversation transcript into a concise context summary. " +
	"Preserve named entities, decisions, and open tasks. Respond with plain text only, no JSON."

// Runtime binds one agent role within one conversation: a name, a
// rendered prompt template, a provider, and a persisted history path
// (cid, agentName) in the session Store.
type Runtime struct {
	name     string
	cid      string
	template *Template
	provider providers.Provider
	store    session.Store
	clock    Clock
	compact  CompactionConfig

	compressionEnabled bool
	stream             StreamCallback

	systemPrompt  string
	summary       string
	summaryLoaded bool
}

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithCompactionConfig overrides the default compaction thresholds.
func WithCompactionConfig(cfg CompactionConfig) Option {
	return func(r *Runtime) { r.compact = cfg }
}

// WithStreamCallback installs a per-fragment streaming callback.
func WithStreamCallback(cb StreamCallback) Option {
	return func(r *Runtime) { r.stream = cb }
}

// WithCompressionDisabled turns off the context-compression pass for this
// runtime instance. The compression pass itself calls the provider
// directly rather than through a Runtime, so it never recurses.
func WithCompressionDisabled() Option {
	return func(r *Runtime) { r.compressionEnabled = false }
}

// New constructs a Runtime for (cid, name) bound to template and
// provider, loading any previously persisted context summary.
func New(name, cid string, template *Template, provider providers.Provider, store session.Store, clock Clock, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		name:               name,
		cid:                cid,
		template:           template,
		provider:           provider,
		store:              store,
		clock:              clock,
		compact:            DefaultCompactionConfig(),
		compressionEnabled: true,
	}
	for _, opt := range opts {
		opt(r)
	}

	summary, ok, err := store.LoadSummary(cid, name)
	if err != nil {
		return nil, fmt.Errorf("agentruntime: load summary: %w", err)
	}
	r.summary = summary
	r.summaryLoaded = ok

	return r, nil
}

// Name returns the agent's human-readable name.
func (r *Runtime) Name() string { return r.name }

// UpdateSystemPrompt renders the template against replacements and
// applies the context-summary substitution/append rule, storing the
// result as the runtime's current system message. Because Render always
// starts from the immutable raw template text, repeated calls never
// double-append the summary heading (spec §8).
func (r *Runtime) UpdateSystemPrompt(replacements map[string]string) string {
	rendered := r.template.Render(replacements)
	rendered = injectSummary(rendered, r.summary, r.template.HasPlaceholder("CONTEXT_SUMMARY") && r.summaryLoaded)
	r.systemPrompt = rendered
	return rendered
}

// GetHistory returns the persisted non-system messages, optionally
// limited to the most recent limit entries (limit<=0 means no limit).
func (r *Runtime) GetHistory(limit int) ([]providers.Message, error) {
	history, err := r.store.LoadHistory(r.cid, r.name)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

// GetHistoryCount returns the number of persisted messages.
func (r *Runtime) GetHistoryCount() (int, error) {
	history, err := r.store.LoadHistory(r.cid, r.name)
	if err != nil {
		return 0, err
	}
	return len(history), nil
}

// SetHistory overwrites the persisted history.
func (r *Runtime) SetHistory(history []providers.Message) error {
	return r.store.SetHistory(r.cid, r.name, history)
}

// ClearHistory empties the persisted history.
func (r *Runtime) ClearHistory() error {
	return r.store.ClearHistory(r.cid, r.name)
}

// Chat implements spec §4.2's chat(content, options) -> Completion.
// History is only mutated on success (spec §8, "Session append-only on
// success").
func (r *Runtime) Chat(ctx context.Context, content string, opts providers.Options) (*providers.Completion, error) {
	if r.compressionEnabled {
		if err := r.maybeCompress(ctx); err != nil {
			return nil, fmt.Errorf("agentruntime: compression pass: %w", err)
		}
	}

	history, err := r.store.LoadHistory(r.cid, r.name)
	if err != nil {
		return nil, err
	}

	userContent := defaultContextHeader(r.clock) + content

	messages := make([]providers.Message, 0, len(history)+2)
	messages = append(messages, providers.Message{Role: providers.RoleSystem, Content: r.systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, providers.Message{Role: providers.RoleUser, Content: userContent})

	var cb providers.StreamCallback
	if r.stream != nil {
		cb = func(fragment, accumulated string) {
			r.stream(r.name, fragment, accumulated)
		}
	}

	completion, err := r.provider.Complete(ctx, messages, opts, cb)
	if err != nil {
		return nil, err
	}

	if err := r.store.AppendHistory(r.cid, r.name,
		providers.Message{Role: providers.RoleUser, Content: userContent},
		providers.Message{Role: providers.RoleAssistant, Content: completion.Content},
	); err != nil {
		return nil, fmt.Errorf("agentruntime: persist history: %w", err)
	}

	return completion, nil
}

// maybeCompress runs the context-compression pass of spec §4.2 when
// either threshold is crossed: the history (with any over-threshold
// message truncated in place) is serialized as JSON and sent straight to
// this runtime's provider under compressorSystemPrompt, with no Runtime
// or history of its own; the reply becomes the new summary, persisted
// and injected, and live
// history is floored to the last postCompactionFloor messages.
func (r *Runtime) maybeCompress(ctx context.Context) error {
	history, err := r.store.LoadHistory(r.cid, r.name)
	if err != nil {
		return err
	}
	if !r.compact.shouldCompress(history) {
		return nil
	}

	serialized, err := json.Marshal(truncatedHistoryForSummary(history))
	if err != nil {
		return fmt.Errorf("marshal history for compression: %w", err)
	}

	completion, err := r.provider.Complete(ctx, []providers.Message{
		{Role: providers.RoleSystem, Content: compressorSystemPrompt},
		{Role: providers.RoleUser, Content: string(serialized)},
	}, providers.Options{MaxTokens: 1024}, nil)
	if err != nil {
		return fmt.Errorf("compressor completion: %w", err)
	}

	r.summary = completion.Content
	r.summaryLoaded = true
	if err := r.store.SaveSummary(r.cid, r.name, r.summary); err != nil {
		return fmt.Errorf("persist summary: %w", err)
	}

	return r.store.SetHistory(r.cid, r.name, tailFloor(history))
}
