package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/agentd/pkg/models"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 4096
)

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// Anthropic streams completions from the Messages API.
type Anthropic struct {
	client       anthropic.Client
	defaultModel string
}

var _ Backend = (*Anthropic)(nil)

// NewAnthropic creates an Anthropic backend.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := strings.TrimSpace(cfg.DefaultModel)
	if model == "" {
		model = defaultAnthropicModel
	}
	return &Anthropic{client: anthropic.NewClient(opts...), defaultModel: model}, nil
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Send(ctx context.Context, msgs []models.Message, cfg ProviderConfig) (string, error) {
	return send(ctx, a, msgs, cfg)
}

func (a *Anthropic) Stream(ctx context.Context, msgs []models.Message, cfg ProviderConfig) (<-chan Chunk, error) {
	system, convo := splitSystem(msgs)
	if len(convo) == 0 {
		return nil, ErrEmptyConversation
	}
	model := pickModel(cfg.Model, a.defaultModel)
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	for _, m := range convo {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == models.RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if cfg.Temperature != nil {
		params.Temperature = anthropic.Float(*cfg.Temperature)
	}

	stream := a.client.Messages.NewStreaming(ctx, params)
	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer stream.Close()
		var inputTokens, outputTokens int
		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				inputTokens = int(event.AsMessageStart().Message.Usage.InputTokens)
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				if delta.Type == "text_delta" && delta.Text != "" {
					if !emit(ctx, out, Chunk{Text: delta.Text}) {
						return
					}
				}
			case "message_delta":
				outputTokens = int(event.AsMessageDelta().Usage.OutputTokens)
			}
		}
		if err := stream.Err(); err != nil {
			emit(ctx, out, Chunk{Err: a.wrap(model, err), Done: true})
			return
		}
		emit(ctx, out, Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
	}()
	return out, nil
}

func (a *Anthropic) wrap(model string, err error) error {
	pe := NewProviderError("anthropic", model, err)
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		pe.WithStatus(apiErr.StatusCode)
	}
	return pe
}
