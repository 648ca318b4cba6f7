// Package llmtest provides scripted llm.Backend implementations for tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/agentd/internal/llm"
	"github.com/haasonsaas/agentd/pkg/models"
)

// ErrExhausted is returned once every scripted reply has been used.
var ErrExhausted = errors.New("llmtest: script exhausted")

type reply struct {
	text string
	err  error
}

// Scripted replays canned replies in order and records every request.
type Scripted struct {
	mu      sync.Mutex
	replies []reply
	next    int
	calls   [][]models.Message
	configs []llm.ProviderConfig
	// Block, when set, is received from before each reply.
	Block chan struct{}
	// Delay is waited out before each reply.
	Delay time.Duration
}

var _ llm.Backend = (*Scripted)(nil)

// New returns a backend that answers with replies in order.
func New(replies ...string) *Scripted {
	s := &Scripted{}
	for _, r := range replies {
		s.Then(r)
	}
	return s
}

// Then appends a text reply.
func (s *Scripted) Then(text string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, reply{text: text})
	return s
}

// ThenError appends a failing reply.
func (s *Scripted) ThenError(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, reply{err: err})
	return s
}

func (s *Scripted) Name() string { return "scripted" }

// Calls returns the messages of every request so far.
func (s *Scripted) Calls() [][]models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]models.Message, len(s.calls))
	for i, c := range s.calls {
		out[i] = models.CloneMessages(c)
	}
	return out
}

// Configs returns the provider config of every request so far.
func (s *Scripted) Configs() []llm.ProviderConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.ProviderConfig(nil), s.configs...)
}

func (s *Scripted) take(ctx context.Context, msgs []models.Message, cfg llm.ProviderConfig) (string, error) {
	if s.Block != nil {
		select {
		case <-s.Block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, models.CloneMessages(msgs))
	s.configs = append(s.configs, cfg)
	if s.next >= len(s.replies) {
		return "", ErrExhausted
	}
	r := s.replies[s.next]
	s.next++
	return r.text, r.err
}

func (s *Scripted) Send(ctx context.Context, msgs []models.Message, cfg llm.ProviderConfig) (string, error) {
	return s.take(ctx, msgs, cfg)
}

// Stream delivers the reply split at spaces.
func (s *Scripted) Stream(ctx context.Context, msgs []models.Message, cfg llm.ProviderConfig) (<-chan llm.Chunk, error) {
	text, err := s.take(ctx, msgs, cfg)
	if err != nil {
		return nil, err
	}
	out := make(chan llm.Chunk, 1)
	go func() {
		defer close(out)
		for _, piece := range strings.SplitAfter(text, " ") {
			if piece == "" {
				continue
			}
			select {
			case out <- llm.Chunk{Text: piece}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- llm.Chunk{Done: true}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// Call is a JSON tool call in the function dialect, for building scripts.
func Call(name string, args map[string]string) string {
	var sb strings.Builder
	sb.WriteString(`{"name":`)
	sb.WriteString(quote(name))
	sb.WriteString(`,"arguments":{`)
	first := true
	for _, k := range sortedKeys(args) {
		if !first {
			sb.WriteByte(',')
		}
		first = false
		sb.WriteString(quote(k))
		sb.WriteByte(':')
		sb.WriteString(quote(args[k]))
	}
	sb.WriteString("}}")
	return sb.String()
}

// Respond is a response tool call carrying message.
func Respond(message string) string {
	return Call("response", map[string]string{"message": message})
}
