package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"

	"github.com/augurhq/augur/internal/config"
)

func testClient(baseURL string) *Client {
	return New(config.CompletionConfig{
		BaseURL:            baseURL,
		Model:              "standard-32b",
		ReasoningModel:     "qwq-32b",
		MaxTokens:          4096,
		ReasoningMaxTokens: 32768,
		TimeoutSec:         5,
	}, func() float64 { return 0.4 }, nil)
}

func TestBuildRequestStandardMode(t *testing.T) {
	c := testClient("")
	tools := []map[string]any{{"type": "function"}}

	req := c.BuildRequest([]Message{{Role: "user", Content: "hi"}}, tools, false, nil)

	if req.Model != "standard-32b" {
		t.Errorf("model = %q", req.Model)
	}
	if req.MaxTokens != 4096 {
		t.Errorf("max_tokens = %d", req.MaxTokens)
	}
	if len(req.Tools) != 1 {
		t.Error("tools missing from standard request")
	}
	if req.Temperature != 0.4 {
		t.Errorf("temperature = %v, want source value", req.Temperature)
	}
}

func TestBuildRequestReasoningOmitsTools(t *testing.T) {
	c := testClient("")
	tools := []map[string]any{{"type": "function"}}

	req := c.BuildRequest(nil, tools, true, nil)

	if req.Model != "qwq-32b" {
		t.Errorf("model = %q, want reasoning model", req.Model)
	}
	if req.MaxTokens != 32768 {
		t.Errorf("max_tokens = %d, want reasoning ceiling", req.MaxTokens)
	}
	if req.Tools != nil {
		t.Error("tools must be omitted in reasoning mode")
	}

	// Payload must not even carry the key.
	data, _ := json.Marshal(req)
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	if _, ok := m["tools"]; ok {
		t.Error("tools key present in serialized reasoning request")
	}
}

func TestBuildRequestReasoningModelNameOmitsTools(t *testing.T) {
	c := New(config.CompletionConfig{
		Model:     "deepseek-r1-distill",
		MaxTokens: 4096,
	}, nil, nil)

	req := c.BuildRequest(nil, []map[string]any{{"type": "function"}}, false, nil)
	if req.Tools != nil {
		t.Error("tools must be omitted when the model name matches the reasoning pattern")
	}
}

func TestBuildRequestTemperatureOverride(t *testing.T) {
	c := testClient("")
	override := 1.2
	req := c.BuildRequest(nil, nil, false, &override)
	if req.Temperature != 1.2 {
		t.Errorf("temperature = %v, want override", req.Temperature)
	}
}

func TestSendParsesContentToolCallsAndArtifacts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "standard-32b",
			"choices": []map[string]any{{
				"message": map[string]any{
					"role":              "assistant",
					"content":           "thinking done",
					"reasoning_content": "private chain",
					"tool_calls": []map[string]any{{
						"id": "call_1",
						"function": map[string]any{
							"name":      "read_file",
							"arguments": `{"path":"a.rb"}`,
						},
					}},
				},
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5},
		})
	}))
	defer srv.Close()

	c := New(config.CompletionConfig{
		BaseURL: srv.URL, APIKey: "sk-test", Model: "standard-32b", TimeoutSec: 5,
	}, nil, nil)

	resp, err := c.Send(context.Background(), c.BuildRequest([]Message{{Role: "user", Content: "go"}}, nil, false, nil))
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if resp.Content != "thinking done" {
		t.Errorf("content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.ToolCalls))
	}
	if resp.Artifacts["reasoning_content"] != "private chain" {
		t.Errorf("artifacts = %v", resp.Artifacts)
	}
	if resp.InputTokens != 10 || resp.OutputTokens != 5 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestSendClassifiesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "slow down"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Send(context.Background(), c.BuildRequest(nil, nil, false, nil))

	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("error type = %T", err)
	}
	if terr.Kind != FailRateLimit {
		t.Errorf("kind = %q, want rate_limit", terr.Kind)
	}
}

func TestSendClassifiesContextLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "This model's maximum context length is 4096 tokens"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Send(context.Background(), c.BuildRequest(nil, nil, false, nil))

	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("error type = %T", err)
	}
	if terr.Kind != FailContextLength {
		t.Errorf("kind = %q, want context_length_exceeded", terr.Kind)
	}
}

func TestClassifyTable(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		detail string
		want   FailureKind
	}{
		{"deadline", context.DeadlineExceeded, "", FailTimeout},
		{"read timed out text", errors.New("read timed out"), "", FailTimeout},
		{"refused", syscall.ECONNREFUSED, "", FailConnection},
		{"rate limit text", nil, "rate_limit_exceeded", FailRateLimit},
		{"context text", nil, "context length exceeded for model", FailContextLength},
		{"mystery", errors.New("weird"), "", FailGeneric},
	}

	for _, tt := range tests {
		got := classify(tt.err, tt.detail)
		if got.Kind != tt.want {
			t.Errorf("%s: kind = %q, want %q", tt.name, got.Kind, tt.want)
		}
	}
}
