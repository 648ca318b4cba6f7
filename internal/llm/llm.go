// Package llm is the language-model backend abstraction used by the agent
// loop, plus concrete backends for Ollama, OpenAI-compatible servers,
// Anthropic and Gemini.
package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/haasonsaas/agentd/pkg/models"
)

// ErrEmptyConversation is returned when Send or Stream receive no messages.
var ErrEmptyConversation = errors.New("llm: no messages to send")

// ProviderConfig selects the backend and model for one request. Empty
// fields fall back to the router and backend defaults.
type ProviderConfig struct {
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Chunk is one increment of a streamed completion. The final chunk has Done
// set and carries token usage when the backend reports it.
type Chunk struct {
	Text         string
	Done         bool
	Err          error
	InputTokens  int
	OutputTokens int
}

// Backend turns role-tagged messages into model text.
type Backend interface {
	Name() string
	Send(ctx context.Context, msgs []models.Message, cfg ProviderConfig) (string, error)
	Stream(ctx context.Context, msgs []models.Message, cfg ProviderConfig) (<-chan Chunk, error)
}

// Pinger is implemented by backends that can report readiness without
// running a completion.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Collect drains a chunk stream into a single string.
func Collect(ctx context.Context, chunks <-chan Chunk) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case c, ok := <-chunks:
			if !ok {
				return sb.String(), nil
			}
			if c.Err != nil {
				return sb.String(), c.Err
			}
			sb.WriteString(c.Text)
			if c.Done {
				return sb.String(), nil
			}
		}
	}
}

// splitSystem separates system messages, which several APIs take as a
// separate field, from the alternating conversation.
func splitSystem(msgs []models.Message) (string, []models.Message) {
	var system []string
	rest := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			if s := strings.TrimSpace(m.Content); s != "" {
				system = append(system, s)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

func pickModel(requested, fallback string) string {
	if m := strings.TrimSpace(requested); m != "" {
		return m
	}
	return strings.TrimSpace(fallback)
}

// send implements Backend.Send for streaming-first backends.
func send(ctx context.Context, b Backend, msgs []models.Message, cfg ProviderConfig) (string, error) {
	chunks, err := b.Stream(ctx, msgs, cfg)
	if err != nil {
		return "", err
	}
	return Collect(ctx, chunks)
}

// emit delivers c unless ctx is done first.
func emit(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
