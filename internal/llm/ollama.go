package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/agentd/pkg/models"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaConfig configures the Ollama backend.
type OllamaConfig struct {
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
}

// Ollama talks to a local Ollama server over its NDJSON chat API.
type Ollama struct {
	client       *http.Client
	baseURL      string
	defaultModel string
}

var (
	_ Backend = (*Ollama)(nil)
	_ Pinger  = (*Ollama)(nil)
)

// NewOllama creates an Ollama backend.
func NewOllama(cfg OllamaConfig) *Ollama {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Ollama{
		client:       &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		defaultModel: strings.TrimSpace(cfg.DefaultModel),
	}
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Send(ctx context.Context, msgs []models.Message, cfg ProviderConfig) (string, error) {
	return send(ctx, o, msgs, cfg)
}

// Ping checks that the server answers its model listing.
func (o *Ollama) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return NewProviderError("ollama", o.defaultModel, err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return NewProviderError("ollama", o.defaultModel, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= http.StatusBadRequest {
		return NewProviderError("ollama", o.defaultModel, fmt.Errorf("ollama status %d", resp.StatusCode)).WithStatus(resp.StatusCode)
	}
	return nil
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         *ollamaMessage `json:"message,omitempty"`
	Done            bool           `json:"done"`
	Error           string         `json:"error,omitempty"`
	PromptEvalCount int            `json:"prompt_eval_count,omitempty"`
	EvalCount       int            `json:"eval_count,omitempty"`
}

func (o *Ollama) Stream(ctx context.Context, msgs []models.Message, cfg ProviderConfig) (<-chan Chunk, error) {
	if len(msgs) == 0 {
		return nil, ErrEmptyConversation
	}
	model := pickModel(cfg.Model, o.defaultModel)
	if model == "" {
		return nil, NewProviderError("ollama", "", errors.New("model is required")).WithStatus(http.StatusBadRequest)
	}

	payload := ollamaChatRequest{Model: model, Stream: true}
	for _, m := range msgs {
		payload.Messages = append(payload.Messages, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	options := map[string]any{}
	if cfg.MaxTokens > 0 {
		options["num_predict"] = cfg.MaxTokens
	}
	if cfg.Temperature != nil {
		options["temperature"] = *cfg.Temperature
	}
	if len(options) > 0 {
		payload.Options = options
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewProviderError("ollama", model, fmt.Errorf("marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, NewProviderError("ollama", model, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, NewProviderError("ollama", model, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, NewProviderError("ollama", model,
			fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))).WithStatus(resp.StatusCode)
	}

	out := make(chan Chunk)
	go o.read(ctx, resp.Body, out, model)
	return out, nil
}

func (o *Ollama) read(ctx context.Context, body io.ReadCloser, out chan<- Chunk, model string) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp ollamaChatResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			emit(ctx, out, Chunk{Err: NewProviderError("ollama", model, fmt.Errorf("decode response: %w", err)), Done: true})
			return
		}
		if resp.Error != "" {
			emit(ctx, out, Chunk{Err: NewProviderError("ollama", model, errors.New(resp.Error)), Done: true})
			return
		}
		if resp.Message != nil && resp.Message.Content != "" {
			if !emit(ctx, out, Chunk{Text: resp.Message.Content}) {
				return
			}
		}
		if resp.Done {
			emit(ctx, out, Chunk{Done: true, InputTokens: resp.PromptEvalCount, OutputTokens: resp.EvalCount})
			return
		}
	}
	if err := scanner.Err(); err != nil {
		emit(ctx, out, Chunk{Err: NewProviderError("ollama", model, err), Done: true})
		return
	}
	emit(ctx, out, Chunk{Done: true})
}
