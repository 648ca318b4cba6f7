package llm

import (
	"context"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/agentd/pkg/models"
)

// OpenAIConfig configures an OpenAI-compatible backend. BaseURL points it at
// LM Studio, llama.cpp server, vLLM or any other server speaking the
// chat-completions API.
type OpenAIConfig struct {
	Name         string
	BaseURL      string
	APIKey       string
	DefaultModel string
}

// OpenAI streams chat completions through go-openai.
type OpenAI struct {
	name         string
	client       *openai.Client
	defaultModel string
}

var (
	_ Backend = (*OpenAI)(nil)
	_ Pinger  = (*OpenAI)(nil)
)

// NewOpenAI creates an OpenAI-compatible backend.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		clientCfg.BaseURL = base
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	return &OpenAI{
		name:         name,
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: strings.TrimSpace(cfg.DefaultModel),
	}
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) Send(ctx context.Context, msgs []models.Message, cfg ProviderConfig) (string, error) {
	return send(ctx, o, msgs, cfg)
}

// Ping lists models.
func (o *OpenAI) Ping(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return o.wrap(o.defaultModel, err)
	}
	return nil
}

func (o *OpenAI) Stream(ctx context.Context, msgs []models.Message, cfg ProviderConfig) (<-chan Chunk, error) {
	if len(msgs) == 0 {
		return nil, ErrEmptyConversation
	}
	model := pickModel(cfg.Model, o.defaultModel)
	if model == "" {
		model = openai.GPT4oMini
	}

	req := openai.ChatCompletionRequest{
		Model:  model,
		Stream: true,
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	if cfg.MaxTokens > 0 {
		req.MaxTokens = cfg.MaxTokens
	}
	if cfg.Temperature != nil {
		req.Temperature = float32(*cfg.Temperature)
	}

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, o.wrap(model, err)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				emit(ctx, out, Chunk{Done: true})
				return
			}
			if err != nil {
				emit(ctx, out, Chunk{Err: o.wrap(model, err), Done: true})
				return
			}
			if resp.Usage != nil {
				if !emit(ctx, out, Chunk{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}) {
					return
				}
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if !emit(ctx, out, Chunk{Text: resp.Choices[0].Delta.Content}) {
				return
			}
		}
	}()
	return out, nil
}

func (o *OpenAI) wrap(model string, err error) error {
	pe := NewProviderError(o.name, model, err)
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		pe.Message = apiErr.Message
		pe.WithStatus(apiErr.HTTPStatusCode)
	case errors.As(err, &reqErr):
		pe.WithStatus(reqErr.HTTPStatusCode)
	}
	return pe
}
