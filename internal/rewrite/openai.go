package rewrite

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const openRouterBase = "https://openrouter.ai/api/v1"

// OpenAIProvider drives any OpenAI-compatible chat endpoint. OpenRouter
// is the same protocol behind a different base URL, so both backends
// share this implementation.
type OpenAIProvider struct {
	name   string
	model  string
	client *openai.Client
}

// NewOpenRouter returns a provider talking to OpenRouter's
// OpenAI-compatible API.
func NewOpenRouter(apiKey, model string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = openRouterBase
	return &OpenAIProvider{
		name:   "openrouter",
		model:  model,
		client: openai.NewClientWithConfig(cfg),
	}
}

// NewOpenAI returns a provider talking to OpenAI directly.
func NewOpenAI(apiKey, model string) *OpenAIProvider {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIProvider{
		name:   "openai",
		model:  model,
		client: openai.NewClient(apiKey),
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Rewrite(ctx context.Context, title, text, targetLang string) (*Result, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPrompt(title, text, targetLang),
			},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices in completion response")
	}
	return parseReply(strings.TrimSpace(resp.Choices[0].Message.Content))
}
