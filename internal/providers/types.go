// Package providers implements the Model Provider Client of the
// orchestration core: one HTTP call in, one chat completion out, with
// transport-level retry and an optional streaming delta callback.
//
// Each concrete provider (Anthropic, OpenAI, DeepSeek) implements the
// single-operation Provider interface; everything above this package only
// ever calls Complete.
package providers

import "context"

// Role is the role of a single message in a completion request.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the ordered message list sent to a provider.
type Message struct {
	Role    Role
	Content string
}

// ResponseFormat constrains how the provider should format its reply.
type ResponseFormat string

const (
	ResponseFormatText ResponseFormat = "text"
	ResponseFormatJSON ResponseFormat = "json_object"
)

// Thinking toggles extended/deliberate reasoning where the provider
// supports it.
type Thinking string

const (
	ThinkingEnabled  Thinking = "enabled"
	ThinkingDisabled Thinking = "disabled"
)

// StreamOptions mirrors the provider wire option of the same name.
type StreamOptions struct {
	IncludeUsage bool
}

// Options is the enumerated completion configuration of spec §4.1.
type Options struct {
	MaxTokens        int
	Temperature      float64
	Stream           bool
	StreamOptions    StreamOptions
	ResponseFormat   ResponseFormat
	FrequencyPenalty float64
	PresencePenalty  float64
	TopP             float64
	Thinking         Thinking
}

// Usage reports token accounting, attached to the terminal delta of a
// streamed completion and always present on a non-streamed one.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the result of one successful Complete call.
type Completion struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// StreamCallback receives one delta fragment and the content accumulated
// so far, including this fragment. It is invoked synchronously from the
// provider's read loop and must return quickly — the provider never
// blocks independently waiting for it.
type StreamCallback func(fragment string, accumulated string)

// Provider is the single operation every model-provider backend exposes.
type Provider interface {
	// Name identifies the provider for logging and error messages.
	Name() string
	// Complete performs one chat completion. If opts.Stream is true and
	// onFragment is non-nil, onFragment is invoked once per delta before
	// Complete returns the final accumulated Completion.
	Complete(ctx context.Context, messages []Message, opts Options, onFragment StreamCallback) (*Completion, error)
}
