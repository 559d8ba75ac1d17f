// Package llm provides the transport client for the remote
// chat-completion service. It builds request payloads, selects model
// and parameters per mode, performs the network call, and classifies
// transport failures into a small structured taxonomy.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/augurhq/augur/internal/config"
	"github.com/augurhq/augur/internal/httpkit"
)

// Message is a chat message on the completion wire.
type Message struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []map[string]any `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// Request is a chat-completion request payload. Tools is omitted
// entirely for reasoning-mode requests.
type Request struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature float64          `json:"temperature"`
	Tools       []map[string]any `json:"tools,omitempty"`
}

// Response is the extracted result of a completion call: the assistant
// content, the raw tool-call entries (normalization is the tool layer's
// concern), and any artifacts such as reasoning content.
type Response struct {
	Content   string
	ToolCalls []map[string]any
	Artifacts map[string]any

	Model        string
	InputTokens  int
	OutputTokens int
}

// wire types for the completion endpoint.

type wireResponse struct {
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   wireUsage    `json:"usage"`
}

type wireChoice struct {
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type wireMessage struct {
	Role             string           `json:"role"`
	Content          string           `json:"content"`
	ToolCalls        []map[string]any `json:"tool_calls,omitempty"`
	ReasoningContent string           `json:"reasoning_content,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// reasoningModelPattern matches model names that are reasoning-capable
// and therefore cannot accept tool schemas in this integration.
var reasoningModelPattern = regexp.MustCompile(`(?i)(^o[0-9])|reason|qwq|r1|think`)

// TemperatureSource supplies the sampling temperature for requests that
// do not override it. Wired to the store's current aegis snapshot.
type TemperatureSource func() float64

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	baseURL            string
	apiKey             string
	model              string
	reasoningModel     string
	maxTokens          int
	reasoningMaxTokens int
	temperature        TemperatureSource
	httpClient         *http.Client
	logger             *slog.Logger
}

// New creates a transport client. temp supplies the default sampling
// temperature (nil falls back to 0.7).
func New(cfg config.CompletionConfig, temp TemperatureSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if temp == nil {
		temp = func() float64 { return 0.7 }
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &Client{
		baseURL:            cfg.BaseURL,
		apiKey:             cfg.APIKey,
		model:              cfg.Model,
		reasoningModel:     cfg.ReasoningModel,
		maxTokens:          cfg.MaxTokens,
		reasoningMaxTokens: cfg.ReasoningMaxTokens,
		temperature:        temp,
		logger:             logger.With("component", "llm"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			// Completion services can think for a long time before
			// sending headers.
			httpkit.WithResponseHeaderTimeout(timeout),
			httpkit.WithRetry(2, 2*time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

// BuildRequest assembles a request payload. Reasoning mode selects the
// reasoning model and its larger token ceiling; in that mode — or when
// the resolved model name itself looks like a reasoning model — tools
// are omitted entirely, because reasoning-capable models in this
// integration cannot accept tool schemas. tempOverride, when non-nil,
// replaces the temperature from the configured source.
func (c *Client) BuildRequest(messages []Message, tools []map[string]any, reasoning bool, tempOverride *float64) Request {
	model := c.model
	maxTokens := c.maxTokens
	if reasoning {
		model = c.reasoningModel
		maxTokens = c.reasoningMaxTokens
	}

	temp := c.temperature()
	if tempOverride != nil {
		temp = *tempOverride
	}

	req := Request{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temp,
	}
	if !reasoning && !reasoningModelPattern.MatchString(model) {
		req.Tools = tools
	}
	return req
}

// Send performs the completion call. Failures come back as a
// *TransportError with a single, final classification.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, classify(fmt.Errorf("marshal request: %w", err), "")
	}

	c.logger.Log(ctx, config.LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST",
		c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, classify(fmt.Errorf("create request: %w", err), "")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(err, "")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("completion API error", "status", resp.StatusCode, "body", body)
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, &TransportError{Kind: FailRateLimit, Message: body}
		}
		return nil, classify(fmt.Errorf("API error %d", resp.StatusCode), body)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, classify(fmt.Errorf("decode response: %w", err), "")
	}

	result := extract(&wire)
	c.logger.Debug("completion received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.ToolCalls),
		"content_len", len(result.Content),
	)
	c.logger.Log(ctx, config.LevelTrace, "response content", "content", result.Content)

	return result, nil
}

// extract pulls content, raw tool calls, and artifacts out of a wire
// response. Reasoning content is folded into artifacts rather than the
// answer text.
func extract(wire *wireResponse) *Response {
	resp := &Response{
		Model:        wire.Model,
		InputTokens:  wire.Usage.PromptTokens,
		OutputTokens: wire.Usage.CompletionTokens,
	}
	if len(wire.Choices) == 0 {
		return resp
	}

	msg := wire.Choices[0].Message
	resp.Content = msg.Content
	resp.ToolCalls = msg.ToolCalls
	if msg.ReasoningContent != "" {
		resp.Artifacts = map[string]any{"reasoning_content": msg.ReasoningContent}
	}
	return resp
}
