package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/agentd/internal/backoff"
	"github.com/haasonsaas/agentd/pkg/models"
)

type stubBackend struct {
	name  string
	reply string
	pings atomic.Int32
	ready int32
	auth  bool
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Send(ctx context.Context, msgs []models.Message, cfg ProviderConfig) (string, error) {
	return s.reply + ":" + cfg.Model, nil
}

func (s *stubBackend) Stream(ctx context.Context, msgs []models.Message, cfg ProviderConfig) (<-chan Chunk, error) {
	ch := make(chan Chunk, 2)
	ch <- Chunk{Text: s.reply}
	ch <- Chunk{Done: true}
	close(ch)
	return ch, nil
}

func (s *stubBackend) Ping(ctx context.Context) error {
	n := s.pings.Add(1)
	if s.auth {
		return NewProviderError(s.name, "", errors.New("unauthorized"))
	}
	if n < s.ready {
		return NewProviderError(s.name, "", errors.New("connection refused"))
	}
	return nil
}

func TestCollect(t *testing.T) {
	ch := make(chan Chunk, 4)
	ch <- Chunk{Text: "a"}
	ch <- Chunk{Text: "b"}
	ch <- Chunk{Done: true}
	ch <- Chunk{Text: "ignored"}
	out, err := Collect(context.Background(), ch)
	if err != nil || out != "ab" {
		t.Fatalf("Collect = %q, %v", out, err)
	}

	boom := errors.New("boom")
	ch = make(chan Chunk, 2)
	ch <- Chunk{Text: "partial"}
	ch <- Chunk{Err: boom, Done: true}
	out, err = Collect(context.Background(), ch)
	if !errors.Is(err, boom) || out != "partial" {
		t.Fatalf("Collect = %q, %v", out, err)
	}
}

func TestSplitSystem(t *testing.T) {
	sys, rest := splitSystem([]models.Message{
		models.SystemMessage("one"),
		models.UserMessage("u"),
		models.SystemMessage("  "),
		models.AssistantMessage("a"),
		models.SystemMessage("two"),
	})
	if sys != "one\n\ntwo" {
		t.Fatalf("system = %q", sys)
	}
	if len(rest) != 2 || rest[0].Role != models.RoleUser || rest[1].Role != models.RoleAssistant {
		t.Fatalf("rest = %+v", rest)
	}
}

func TestRouter(t *testing.T) {
	r := NewRouter("")
	r.Register("local", &stubBackend{name: "local", reply: "L"})
	r.Register("cloud", &stubBackend{name: "cloud", reply: "C"})

	if r.Default() != "local" {
		t.Fatalf("default = %s", r.Default())
	}
	if got := r.Names(); len(got) != 2 || got[0] != "cloud" {
		t.Fatalf("names = %v", got)
	}
	out, err := r.Send(context.Background(), nil, ProviderConfig{Model: "m"})
	if err != nil || out != "L:m" {
		t.Fatalf("default Send = %q, %v", out, err)
	}
	out, err = r.Send(context.Background(), nil, ProviderConfig{Provider: "cloud"})
	if err != nil || out != "C:" {
		t.Fatalf("cloud Send = %q, %v", out, err)
	}
	if _, err := r.Stream(context.Background(), nil, ProviderConfig{Provider: "nope"}); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("unknown = %v", err)
	}
}

func TestNewBackendKinds(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		s       Settings
		want    string
		wantErr bool
	}{
		{name: "ollama", want: "ollama"},
		{name: "lmstudio", s: Settings{Kind: "openai", BaseURL: "http://127.0.0.1:1234/v1"}, want: "lmstudio"},
		{name: "anthropic", wantErr: true},
		{name: "google", wantErr: true},
		{name: "anthropic", s: Settings{APIKey: "sk-test"}, want: "anthropic"},
		{name: "custom", s: Settings{Kind: "telepathy"}, wantErr: true},
	}
	for _, tt := range tests {
		b, err := New(ctx, tt.name, tt.s)
		if tt.wantErr {
			if err == nil {
				t.Errorf("New(%s, %+v) expected error", tt.name, tt.s)
			}
			continue
		}
		if err != nil {
			t.Errorf("New(%s): %v", tt.name, err)
			continue
		}
		if b.Name() != tt.want {
			t.Errorf("New(%s).Name() = %s, want %s", tt.name, b.Name(), tt.want)
		}
	}
}

func TestProviderErrorClassification(t *testing.T) {
	tests := []struct {
		err       error
		status    int
		want      Reason
		retryable bool
	}{
		{err: errors.New("dial tcp: connection refused"), want: ReasonUnreachable, retryable: true},
		{err: context.DeadlineExceeded, want: ReasonTimeout, retryable: true},
		{err: io.ErrUnexpectedEOF, want: ReasonUnreachable, retryable: true},
		{err: errors.New("Too Many Requests"), want: ReasonRateLimit, retryable: true},
		{err: errors.New("invalid api key"), want: ReasonAuth},
		{err: errors.New("whatever"), status: 503, want: ReasonServerError, retryable: true},
		{err: errors.New("whatever"), status: 422, want: ReasonInvalidRequest},
		{err: errors.New("whatever"), want: ReasonUnknown},
	}
	for _, tt := range tests {
		pe := NewProviderError("p", "m", tt.err)
		if tt.status != 0 {
			pe.WithStatus(tt.status)
		}
		if pe.Reason != tt.want {
			t.Errorf("%v/%d: reason = %s, want %s", tt.err, tt.status, pe.Reason, tt.want)
		}
		if IsRetryable(pe) != tt.retryable {
			t.Errorf("%v: retryable = %v", tt.err, IsRetryable(pe))
		}
		if !errors.Is(pe, tt.err) {
			t.Errorf("%v: cause not unwrapped", tt.err)
		}
	}

	inner := NewProviderError("a", "m", errors.New("x")).WithStatus(401)
	wrapped := fmt.Errorf("outer: %w", inner)
	if NewProviderError("b", "n", wrapped) != inner {
		t.Fatal("existing ProviderError should be reused")
	}
	if ErrorCode(wrapped) != "backend_auth" || ErrorCode(errors.New("plain")) != "backend_error" {
		t.Fatal("ErrorCode mismatch")
	}
	if got := inner.Error(); got != "[auth] a model=m status=401: x" {
		t.Fatalf("Error() = %q", got)
	}
}

func fastReady() backoff.Policy {
	return backoff.Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2}
}

func TestWaitReady(t *testing.T) {
	b := &stubBackend{name: "s", ready: 3}
	r := NewRouter("s")
	r.Register("s", b)
	if err := WaitReady(context.Background(), r, fastReady(), nil); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if b.pings.Load() != 3 {
		t.Fatalf("pings = %d", b.pings.Load())
	}

	auth := &stubBackend{name: "a", auth: true}
	if err := WaitReady(context.Background(), auth, fastReady(), nil); err == nil {
		t.Fatal("auth failure should stop waiting")
	}
	if auth.pings.Load() != 1 {
		t.Fatalf("auth pings = %d", auth.pings.Load())
	}

	never := &stubBackend{name: "n", ready: 1 << 30}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := WaitReady(ctx, never, fastReady(), nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}
