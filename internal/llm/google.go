package llm

import (
	"context"
	"errors"
	"math"
	"strings"

	"google.golang.org/genai"

	"github.com/haasonsaas/agentd/pkg/models"
)

const defaultGoogleModel = "gemini-2.0-flash"

// GoogleConfig configures the Gemini backend.
type GoogleConfig struct {
	APIKey       string
	DefaultModel string
}

// Google streams completions from the Gemini API.
type Google struct {
	client       *genai.Client
	defaultModel string
}

var _ Backend = (*Google)(nil)

// NewGoogle creates a Gemini backend.
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("google: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, NewProviderError("google", cfg.DefaultModel, err)
	}
	model := strings.TrimSpace(cfg.DefaultModel)
	if model == "" {
		model = defaultGoogleModel
	}
	return &Google{client: client, defaultModel: model}, nil
}

func (g *Google) Name() string { return "google" }

func (g *Google) Send(ctx context.Context, msgs []models.Message, cfg ProviderConfig) (string, error) {
	return send(ctx, g, msgs, cfg)
}

func (g *Google) Stream(ctx context.Context, msgs []models.Message, cfg ProviderConfig) (<-chan Chunk, error) {
	system, convo := splitSystem(msgs)
	if len(convo) == 0 {
		return nil, ErrEmptyConversation
	}
	model := pickModel(cfg.Model, g.defaultModel)

	contents := make([]*genai.Content, 0, len(convo))
	for _, m := range convo {
		role := genai.RoleUser
		if m.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: m.Content}}})
	}
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if cfg.MaxTokens > 0 {
		// #nosec G115 -- bounded by min
		config.MaxOutputTokens = int32(min(cfg.MaxTokens, math.MaxInt32))
	}
	if cfg.Temperature != nil {
		t := float32(*cfg.Temperature)
		config.Temperature = &t
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		var inputTokens, outputTokens int
		for resp, err := range g.client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				emit(ctx, out, Chunk{Err: NewProviderError("google", model, err), Done: true})
				return
			}
			if resp == nil {
				continue
			}
			if resp.UsageMetadata != nil {
				inputTokens = int(resp.UsageMetadata.PromptTokenCount)
				outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}
			for _, cand := range resp.Candidates {
				if cand == nil || cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part == nil || part.Text == "" || part.Thought {
						continue
					}
					if !emit(ctx, out, Chunk{Text: part.Text}) {
						return
					}
				}
			}
		}
		emit(ctx, out, Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
	}()
	return out, nil
}
