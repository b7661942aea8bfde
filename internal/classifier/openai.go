package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"alertrelay/internal/domain"

	"github.com/sashabaranov/go-openai"
)

const openAISystemPrompt = `You triage monitoring alerts for an on-call team.
Answer with one JSON object only:
{"severity":"critical|warning|info","category":"<short lowercase word>","confidence":<0..1>,"recommendations":["<action>", "..."]}
Use critical only for user-facing outages or imminent data loss.`

// OpenAIOptions configures the OpenAI-compatible provider.
type OpenAIOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	HTTPClient  *http.Client
}

// OpenAIProvider classifies alerts with a chat completion model.
type OpenAIProvider struct {
	client *openai.Client
	opts   OpenAIOptions
}

// NewOpenAIProvider builds a provider from options.
// Params: API credentials, model settings, and optional HTTP client.
// Returns: provider or validation error.
func NewOpenAIProvider(opts OpenAIOptions) (*OpenAIProvider, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), opts: opts}, nil
}

// Name returns provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Classify asks the model for a JSON verdict.
// Params: ctx, alert, and per-call timeout.
// Returns: parsed verdict or API/answer error.
func (p *OpenAIProvider) Classify(ctx context.Context, alert domain.Alert, timeout time.Duration) (ProviderResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(newPromptPayload(alert))
	if err != nil {
		return ProviderResult{}, fmt.Errorf("encode alert: %w", err)
	}

	resp, err := p.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       p.opts.Model,
		MaxTokens:   p.opts.MaxTokens,
		Temperature: p.opts.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: openAISystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(body)},
		},
	})
	if err != nil {
		return ProviderResult{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ProviderResult{}, fmt.Errorf("%w: no choices returned", ErrInvalidAnswer)
	}
	return parseProviderAnswer(resp.Choices[0].Message.Content)
}
