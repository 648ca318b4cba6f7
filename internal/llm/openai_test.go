package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/agentd/pkg/models"
)

func TestOpenAIStream(t *testing.T) {
	var req struct {
		Model    string `json:"model"`
		Stream   bool   `json:"stream"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"list", "ing"} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", piece)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{Name: "lmstudio", BaseURL: srv.URL + "/v1", APIKey: "k", DefaultModel: "qwen"})
	if o.Name() != "lmstudio" {
		t.Fatalf("Name = %s", o.Name())
	}
	out, err := o.Send(context.Background(), []models.Message{models.SystemMessage("s"), models.UserMessage("u")}, ProviderConfig{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out != "listing" {
		t.Fatalf("out = %q", out)
	}
	if req.Model != "qwen" || !req.Stream || len(req.Messages) != 2 || req.Messages[1].Content != "u" {
		t.Fatalf("request = %+v", req)
	}
}

func TestOpenAIStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, APIKey: "k", DefaultModel: "m"})
	_, err := o.Send(context.Background(), []models.Message{models.UserMessage("u")}, ProviderConfig{})
	pe, ok := AsProviderError(err)
	if !ok || pe.Reason != ReasonAuth || pe.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v", err)
	}
	if pe.Code() != "backend_auth" {
		t.Fatalf("code = %s", pe.Code())
	}
}
