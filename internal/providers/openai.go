package providers

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAIProvider. The same config shape backs
// the DeepSeek provider, since DeepSeek's chat API is OpenAI-wire
// compatible — only BaseURL and DefaultModel differ.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// OpenAIProvider implements Provider against the OpenAI (or an
// OpenAI-compatible) chat completions API.
type OpenAIProvider struct {
	BaseProvider
	client       *openai.Client
	name         string
	defaultModel string
}

// NewOpenAIProvider constructs an OpenAIProvider.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	return newOpenAICompatibleProvider("openai", config, "gpt-4o")
}

// NewDeepSeekProvider constructs a provider against DeepSeek's
// OpenAI-compatible endpoint (DEEPSEEK_BASE_URL, default
// https://api.deepseek.com).
func NewDeepSeekProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.deepseek.com"
	}
	return newOpenAICompatibleProvider("deepseek", config, "deepseek-chat")
}

func newOpenAICompatibleProvider(name string, config OpenAIConfig, defaultModel string) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("providers: " + name + " API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	model := config.DefaultModel
	if model == "" {
		model = defaultModel
	}

	return &OpenAIProvider{
		BaseProvider: NewBaseProvider(name),
		client:       openai.NewClientWithConfig(clientConfig),
		name:         name,
		defaultModel: model,
	}, nil
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return p.name }

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message, opts Options, onFragment StreamCallback) (*Completion, error) {
	req := openai.ChatCompletionRequest{
		Model:            p.defaultModel,
		Messages:         toOpenAIMessages(messages),
		MaxTokens:        maxTokensOrDefault(opts.MaxTokens),
		Temperature:      float32(opts.Temperature),
		TopP:             float32(opts.TopP),
		FrequencyPenalty: float32(opts.FrequencyPenalty),
		PresencePenalty:  float32(opts.PresencePenalty),
	}
	if opts.ResponseFormat == ResponseFormatJSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	if opts.Stream {
		req.Stream = true
		if opts.StreamOptions.IncludeUsage {
			req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
		}
		return p.completeStreaming(ctx, req, onFragment)
	}
	return p.completeOnce(ctx, req)
}

func (p *OpenAIProvider) completeOnce(ctx context.Context, req openai.ChatCompletionRequest) (*Completion, error) {
	return p.retryTransport(ctx, func(int) (*Completion, error) {
		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, classifyOpenAIError(p.name, err)
		}
		if len(resp.Choices) == 0 {
			return nil, &ProtocolError{Provider: p.name, Err: errors.New("empty choices array")}
		}
		choice := resp.Choices[0]
		return &Completion{
			Content:      choice.Message.Content,
			FinishReason: string(choice.FinishReason),
			Usage: Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}, nil
	})
}

func (p *OpenAIProvider) completeStreaming(ctx context.Context, req openai.ChatCompletionRequest, onFragment StreamCallback) (*Completion, error) {
	return p.retryTransport(ctx, func(int) (*Completion, error) {
		stream, err := p.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return nil, classifyOpenAIError(p.name, err)
		}
		defer stream.Close()

		var accumulated string
		var finishReason string
		var usage Usage

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, classifyOpenAIError(p.name, err)
			}
			if resp.Usage != nil {
				usage = Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			if choice.Delta.Content != "" {
				accumulated += choice.Delta.Content
				if onFragment != nil {
					onFragment(choice.Delta.Content, accumulated)
				}
			}
			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
			}
		}

		return &Completion{
			Content:      accumulated,
			FinishReason: finishReason,
			Usage:        usage,
		}, nil
	})
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return out
}

func classifyOpenAIError(name string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &HTTPError{Provider: name, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	return &TransportError{Provider: name, Err: err}
}
