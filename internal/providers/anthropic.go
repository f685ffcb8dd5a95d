package providers

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures an AnthropicProvider.
//
// Example:
//
//	p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
//	    APIKey:       os.Getenv("ANTHROPIC_API_KEY"),
//	    DefaultModel: "claude-sonnet-4-20250514",
//	})
type AnthropicConfig struct {
	// APIKey is required.
	APIKey string
	// BaseURL overrides the default Anthropic API endpoint; set from
	// ANTHROPIC_BASE_URL.
	BaseURL string
	// DefaultModel is used when a caller does not specify one.
	DefaultModel string
}

// AnthropicProvider implements Provider against Anthropic's messages API.
type AnthropicProvider struct {
	BaseProvider
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicProvider constructs an AnthropicProvider from config.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("providers: anthropic API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	model := config.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	return &AnthropicProvider{
		BaseProvider: NewBaseProvider("anthropic"),
		client:       anthropic.NewClient(opts...),
		defaultModel: model,
	}, nil
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete implements Provider.
func (p *AnthropicProvider) Complete(ctx context.Context, messages []Message, opts Options, onFragment StreamCallback) (*Completion, error) {
	system, msgs := splitSystemMessage(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.defaultModel),
		MaxTokens: int64(maxTokensOrDefault(opts.MaxTokens)),
		Messages:  toAnthropicMessages(msgs),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = anthropic.Float(opts.TopP)
	}

	if opts.Stream {
		return p.completeStreaming(ctx, params, onFragment)
	}
	return p.completeOnce(ctx, params)
}

func (p *AnthropicProvider) completeOnce(ctx context.Context, params anthropic.MessageNewParams) (*Completion, error) {
	return p.retryTransport(ctx, func(int) (*Completion, error) {
		msg, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return nil, classifyAnthropicError(err)
		}
		return &Completion{
			Content:      concatTextBlocks(msg),
			FinishReason: string(msg.StopReason),
			Usage: Usage{
				PromptTokens:     int(msg.Usage.InputTokens),
				CompletionTokens: int(msg.Usage.OutputTokens),
				TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
			},
		}, nil
	})
}

func (p *AnthropicProvider) completeStreaming(ctx context.Context, params anthropic.MessageNewParams, onFragment StreamCallback) (*Completion, error) {
	return p.retryTransport(ctx, func(int) (*Completion, error) {
		stream := p.client.Messages.NewStreaming(ctx, params)
		var accumulated string
		var finishReason string
		var usage Usage

		for stream.Next() {
			event := stream.Current()
			switch delta := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta.Delta.Text != "" {
					accumulated += delta.Delta.Text
					if onFragment != nil {
						onFragment(delta.Delta.Text, accumulated)
					}
				}
			case anthropic.MessageDeltaEvent:
				finishReason = string(delta.Delta.StopReason)
				usage.CompletionTokens = int(delta.Usage.OutputTokens)
			}
		}
		if err := stream.Err(); err != nil {
			return nil, classifyAnthropicError(err)
		}

		return &Completion{
			Content:      accumulated,
			FinishReason: finishReason,
			Usage:        usage,
		}, nil
	})
}

func splitSystemMessage(messages []Message) (string, []Message) {
	var system string
	var rest []Message
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func concatTextBlocks(msg *anthropic.Message) string {
	var text string
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += tb.Text
		}
	}
	return text
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &HTTPError{Provider: "anthropic", StatusCode: apiErr.StatusCode, Message: apiErr.Error()}
	}
	return &TransportError{Provider: "anthropic", Err: err}
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}
