package scanning

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LLM implements Completer on top of a langchaingo chat model
type LLM struct {
	provider string
	model    llms.Model
	timeout  time.Duration
}

// NewLLM wraps an already constructed langchaingo model
func NewLLM(provider string, model llms.Model, timeout time.Duration) *LLM {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LLM{
		provider: provider,
		model:    model,
		timeout:  timeout,
	}
}

// NewOpenAI creates a Completer backed by the OpenAI chat completions API.
// baseURL may be empty to use the public endpoint.
func NewOpenAI(apiKey, modelName, baseURL string, timeout time.Duration) (*LLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	opts := []openai.Option{
		openai.WithModel(modelName),
		openai.WithToken(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return NewLLM("openai", model, timeout), nil
}

// NewOllama creates a Completer backed by a local Ollama server
func NewOllama(serverURL, modelName string, timeout time.Duration) (*LLM, error) {
	if serverURL == "" {
		serverURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llama3.1"
	}
	model, err := ollama.New(
		ollama.WithModel(modelName),
		ollama.WithServerURL(serverURL),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	return NewLLM("ollama", model, timeout), nil
}

// Complete sends a system message plus the text as a user message at
// temperature zero
func (l *LLM) Complete(ctx context.Context, instruction, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resp, err := l.model.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, instruction),
			llms.TextParts(llms.ChatMessageTypeHuman, text),
		},
		llms.WithTemperature(0),
	)
	if err != nil {
		return "", fmt.Errorf("calling %s: %w", l.provider, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in %s response", l.provider)
	}
	return resp.Choices[0].Content, nil
}
