package divine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/augurhq/augur/internal/config"
	"github.com/augurhq/augur/internal/llm"
	"github.com/augurhq/augur/internal/prompts"
	"github.com/augurhq/augur/internal/toolcall"
)

// scriptedSender replays a fixed response sequence and records every
// request it was asked to send.
type scriptedSender struct {
	responses []*llm.Response
	errs      []error
	requests  []llm.Request
}

func (s *scriptedSender) BuildRequest(messages []llm.Message, tools []map[string]any, reasoning bool, tempOverride *float64) llm.Request {
	req := llm.Request{Model: "test-model", Messages: messages, MaxTokens: 256, Temperature: 0.7}
	if !reasoning {
		req.Tools = tools
	}
	return req
}

func (s *scriptedSender) Send(ctx context.Context, req llm.Request) (*llm.Response, error) {
	i := len(s.requests)
	s.requests = append(s.requests, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.responses) {
		return &llm.Response{}, nil
	}
	return s.responses[i], nil
}

func structuredCall(id, name, args string) map[string]any {
	return map[string]any{
		"id": id,
		"function": map[string]any{
			"name":      name,
			"arguments": args,
		},
	}
}

func newTestLoop(t *testing.T, sender Sender, dispatch toolcall.Dispatcher, temp llm.TemperatureSource, cfg config.LoopConfig) *Loop {
	t.Helper()
	exec := toolcall.NewExecutor(dispatch, nil)
	exec.SetBounds(1, time.Second, time.Second)
	return New(sender, exec, temp, cfg, nil)
}

func TestNoToolsSingleTurn(t *testing.T) {
	sender := &scriptedSender{responses: []*llm.Response{{Content: "4"}}}
	loop := newTestLoop(t, sender, nil, nil, config.LoopConfig{MaxTurns: 25})

	out := loop.Run(context.Background(), Params{Prompt: "What is 2+2?"})
	answer, ok := out.(Answer)
	if !ok {
		t.Fatalf("outcome = %T, want Answer", out)
	}
	if answer.Text != "4" {
		t.Errorf("answer = %q, want %q", answer.Text, "4")
	}
	if len(sender.requests) != 1 {
		t.Errorf("sent %d requests, want 1", len(sender.requests))
	}
	last := sender.requests[0].Messages
	if last[len(last)-1].Content != "What is 2+2?" {
		t.Errorf("prompt not last message: %+v", last[len(last)-1])
	}
}

func TestSingleToolRoundTrip(t *testing.T) {
	sender := &scriptedSender{responses: []*llm.Response{
		{Content: "reading the file", Model: "test-model", InputTokens: 100, OutputTokens: 20, ToolCalls: []map[string]any{
			structuredCall("call_1", "read_file", `{"path": "a.rb"}`),
		}},
		{Content: "it prints 1", Model: "test-model", InputTokens: 150, OutputTokens: 10},
	}}
	var dispatched []string
	dispatch := func(ctx context.Context, name string, args map[string]any) (any, error) {
		dispatched = append(dispatched, name)
		if args["path"] != "a.rb" {
			t.Errorf("args = %v", args)
		}
		return map[string]any{"ok": true, "content": "puts 1"}, nil
	}
	loop := newTestLoop(t, sender, dispatch, nil, config.LoopConfig{MaxTurns: 25})

	out := loop.Run(context.Background(), Params{Prompt: "what does a.rb do?"})
	answer, ok := out.(Answer)
	if !ok {
		t.Fatalf("outcome = %T, want Answer", out)
	}
	if answer.Text != "it prints 1" {
		t.Errorf("answer = %q", answer.Text)
	}
	if !reflect.DeepEqual(dispatched, []string{"read_file"}) {
		t.Errorf("dispatched = %v", dispatched)
	}
	if len(sender.requests) != 2 {
		t.Fatalf("sent %d requests, want 2", len(sender.requests))
	}

	// Turn 2 must carry the tool-role result back to the model.
	var toolMsg *llm.Message
	for i, m := range sender.requests[1].Messages {
		if m.Role == "tool" {
			toolMsg = &sender.requests[1].Messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool-role message in second request")
	}
	if toolMsg.ToolCallID != "call_1" || !strings.Contains(toolMsg.Content, "puts 1") {
		t.Errorf("tool message = %+v", toolMsg)
	}

	if len(answer.ToolResults) != 1 || answer.ToolResults[0].Name != "read_file" {
		t.Errorf("tool results = %+v", answer.ToolResults)
	}
	if !reflect.DeepEqual(answer.Prelude, []string{"reading the file", "it prints 1"}) {
		t.Errorf("prelude = %v", answer.Prelude)
	}
	want := Usage{Model: "test-model", Turns: 2, InputTokens: 250, OutputTokens: 30}
	if answer.Usage != want {
		t.Errorf("usage = %+v, want %+v", answer.Usage, want)
	}
}

func TestInterruptionShortCircuitsBatch(t *testing.T) {
	sender := &scriptedSender{responses: []*llm.Response{
		{ToolCalls: []map[string]any{
			structuredCall("c1", "first", `{}`),
			structuredCall("c2", "interrupting", `{}`),
			structuredCall("c3", "never_runs", `{}`),
		}},
	}}
	var dispatched []string
	dispatch := func(ctx context.Context, name string, args map[string]any) (any, error) {
		dispatched = append(dispatched, name)
		if name == "interrupting" {
			return map[string]any{toolcall.InterruptKey: "step_completed", "result": "done"}, nil
		}
		return "ok", nil
	}
	loop := newTestLoop(t, sender, dispatch, nil, config.LoopConfig{MaxTurns: 25})

	out := loop.Run(context.Background(), Params{Prompt: "go"})
	interrupted, ok := out.(Interrupted)
	if !ok {
		t.Fatalf("outcome = %T, want Interrupted", out)
	}
	if interrupted.Marker[toolcall.InterruptKey] != "step_completed" {
		t.Errorf("marker = %v", interrupted.Marker)
	}
	if !reflect.DeepEqual(dispatched, []string{"first", "interrupting"}) {
		t.Errorf("dispatched = %v, tool after the marker must not run", dispatched)
	}
	if len(sender.requests) != 1 {
		t.Errorf("sent %d requests, want 1 (no further turns)", len(sender.requests))
	}
}

func TestReminderExhaustion(t *testing.T) {
	sender := &scriptedSender{responses: []*llm.Response{
		{Content: "draft one"},
		{Content: "draft two"},
		{Content: "final"},
	}}
	loop := newTestLoop(t, sender, nil, nil, config.LoopConfig{MaxTurns: 25})

	out := loop.Run(context.Background(), Params{
		Prompt:    "write the report",
		Reminders: []string{"include the totals", "cite the sources"},
	})
	answer, ok := out.(Answer)
	if !ok {
		t.Fatalf("outcome = %T, want Answer", out)
	}
	if answer.Text != "final" {
		t.Errorf("answer = %q, want the K+1th content", answer.Text)
	}
	if len(sender.requests) != 3 {
		t.Fatalf("sent %d requests, want K+1 = 3", len(sender.requests))
	}

	for i, want := range []string{"include the totals", "cite the sources"} {
		msgs := sender.requests[i+1].Messages
		last := msgs[len(msgs)-1]
		if last.Role != "system" || !strings.Contains(last.Content, want) {
			t.Errorf("request %d last message = %+v, want reminder %q", i+1, last, want)
		}
		if !strings.HasPrefix(last.Content, prompts.ReminderPreamble) {
			t.Errorf("reminder missing preamble: %q", last.Content)
		}
	}
}

func TestRestartResendsOriginals(t *testing.T) {
	sender := &scriptedSender{responses: []*llm.Response{
		{ToolCalls: []map[string]any{structuredCall("c1", "set_temperature", `{}`)}},
		{Content: "4"},
	}}
	temp := 0.7
	dispatch := func(ctx context.Context, name string, args map[string]any) (any, error) {
		temp = 0.9
		return "ok", nil
	}
	loop := newTestLoop(t, sender, dispatch, func() float64 { return temp }, config.LoopConfig{MaxTurns: 25, MaxRestarts: 3})

	out := loop.Run(context.Background(), Params{Prompt: "What is 2+2?"})
	answer, ok := out.(Answer)
	if !ok {
		t.Fatalf("outcome = %T, want Answer", out)
	}
	if answer.Text != "4" {
		t.Errorf("answer = %q", answer.Text)
	}
	if len(sender.requests) != 2 {
		t.Fatalf("sent %d requests, want 2 (one per attempt)", len(sender.requests))
	}
	// The second attempt restarts from turn 1 with the original
	// messages, not the accumulated stream of the discarded attempt.
	if !reflect.DeepEqual(sender.requests[1].Messages, sender.requests[0].Messages) {
		t.Errorf("restart did not resend originals:\nfirst:  %+v\nsecond: %+v",
			sender.requests[0].Messages, sender.requests[1].Messages)
	}
}

func TestRestartBudgetExhausted(t *testing.T) {
	sender := &scriptedSender{responses: []*llm.Response{
		{ToolCalls: []map[string]any{structuredCall("c1", "spin", `{}`)}},
		{ToolCalls: []map[string]any{structuredCall("c2", "spin", `{}`)}},
	}}
	calls := 0
	dispatch := func(ctx context.Context, name string, args map[string]any) (any, error) {
		calls++
		return "ok", nil
	}
	// Temperature differs on every read, so each attempt restarts.
	reads := 0
	temp := func() float64 {
		reads++
		return float64(reads)
	}
	loop := newTestLoop(t, sender, dispatch, temp, config.LoopConfig{MaxTurns: 25, MaxRestarts: 1})

	out := loop.Run(context.Background(), Params{Prompt: "go"})
	failed, ok := out.(Failed)
	if !ok {
		t.Fatalf("outcome = %T, want Failed", out)
	}
	if failed.Status.Kind != StatusGeneric {
		t.Errorf("kind = %q", failed.Status.Kind)
	}
}

func TestTurnBudgetReturnsLastContent(t *testing.T) {
	sender := &scriptedSender{responses: []*llm.Response{
		{Content: "step one", ToolCalls: []map[string]any{structuredCall("c1", "work", `{}`)}},
		{Content: "step two", ToolCalls: []map[string]any{structuredCall("c2", "work", `{}`)}},
	}}
	dispatch := func(ctx context.Context, name string, args map[string]any) (any, error) {
		return "ok", nil
	}
	loop := newTestLoop(t, sender, dispatch, nil, config.LoopConfig{MaxTurns: 2})

	out := loop.Run(context.Background(), Params{Prompt: "go"})
	answer, ok := out.(Answer)
	if !ok {
		t.Fatalf("outcome = %T, want Answer", out)
	}
	if answer.Text != "step two" {
		t.Errorf("answer = %q, want last observed content", answer.Text)
	}
}

func TestEmptySentinel(t *testing.T) {
	sender := &scriptedSender{responses: []*llm.Response{{Content: ""}}}
	loop := newTestLoop(t, sender, nil, nil, config.LoopConfig{MaxTurns: 25})

	out := loop.Run(context.Background(), Params{Prompt: "say nothing"})
	answer, ok := out.(Answer)
	if !ok {
		t.Fatalf("outcome = %T, want Answer", out)
	}
	if answer.Text != prompts.EmptySentinel {
		t.Errorf("answer = %q, want sentinel", answer.Text)
	}
	if len(answer.Prelude) != 0 {
		t.Errorf("prelude = %v, want empty", answer.Prelude)
	}
}

func TestFallbackContentCalls(t *testing.T) {
	sender := &scriptedSender{responses: []*llm.Response{
		{Content: "I'll read it:\n```json\n{\"name\": \"read_file\", \"arguments\": {\"path\": \"a.rb\"}}\n```"},
		{Content: "done"},
	}}
	var dispatched []string
	dispatch := func(ctx context.Context, name string, args map[string]any) (any, error) {
		dispatched = append(dispatched, name)
		return "contents", nil
	}
	loop := newTestLoop(t, sender, dispatch, nil, config.LoopConfig{MaxTurns: 25})

	out := loop.Run(context.Background(), Params{Prompt: "go"})
	if answer, ok := out.(Answer); !ok || answer.Text != "done" {
		t.Fatalf("outcome = %+v", out)
	}
	if !reflect.DeepEqual(dispatched, []string{"read_file"}) {
		t.Errorf("dispatched = %v", dispatched)
	}
}

func TestReasoningModeNeverDispatches(t *testing.T) {
	sender := &scriptedSender{responses: []*llm.Response{
		{Content: "analysis with ```json\n{\"name\": \"read_file\"}\n``` inside"},
	}}
	dispatch := func(ctx context.Context, name string, args map[string]any) (any, error) {
		t.Fatal("dispatcher must not run in reasoning mode")
		return nil, nil
	}
	tools := []map[string]any{{"type": "function"}}
	loop := newTestLoop(t, sender, dispatch, nil, config.LoopConfig{MaxTurns: 25})

	out := loop.Run(context.Background(), Params{Prompt: "think", Reasoning: true, Tools: tools})
	if _, ok := out.(Answer); !ok {
		t.Fatalf("outcome = %T, want Answer", out)
	}
	if sender.requests[0].Tools != nil {
		t.Error("tools sent on a reasoning request")
	}
	sys := sender.requests[0].Messages[0]
	if !strings.Contains(sys.Content, "deep-reasoning") {
		t.Errorf("reasoning system prompt not used: %q", sys.Content)
	}
}

func TestTransportFailureOutcome(t *testing.T) {
	sender := &scriptedSender{errs: []error{
		&llm.TransportError{Kind: llm.FailRateLimit, Message: "slow down"},
	}}
	loop := newTestLoop(t, sender, nil, nil, config.LoopConfig{MaxTurns: 25})

	out := loop.Run(context.Background(), Params{Prompt: "go"})
	failed, ok := out.(Failed)
	if !ok {
		t.Fatalf("outcome = %T, want Failed", out)
	}
	if failed.Status.Kind != string(llm.FailRateLimit) {
		t.Errorf("kind = %q, want rate_limit", failed.Status.Kind)
	}
	if failed.Status.Message != "slow down" {
		t.Errorf("message = %q", failed.Status.Message)
	}
}

func TestStepTerminationBecomesInterruption(t *testing.T) {
	sender := &scriptedSender{responses: []*llm.Response{
		{ToolCalls: []map[string]any{structuredCall("c1", "finish_step", `{}`)}},
	}}
	dispatch := func(ctx context.Context, name string, args map[string]any) (any, error) {
		return nil, fmt.Errorf("step done: %w", toolcall.ErrStepTermination)
	}
	loop := newTestLoop(t, sender, dispatch, nil, config.LoopConfig{MaxTurns: 25})

	out := loop.Run(context.Background(), Params{Prompt: "go"})
	interrupted, ok := out.(Interrupted)
	if !ok {
		t.Fatalf("outcome = %T, want Interrupted", out)
	}
	if interrupted.Marker[toolcall.InterruptKey] != "step_termination" {
		t.Errorf("marker = %v", interrupted.Marker)
	}
}

func TestToolFailureOutcome(t *testing.T) {
	sender := &scriptedSender{responses: []*llm.Response{
		{ToolCalls: []map[string]any{structuredCall("c1", "broken", `{}`)}},
	}}
	dispatch := func(ctx context.Context, name string, args map[string]any) (any, error) {
		return nil, errors.New("disk on fire")
	}
	loop := newTestLoop(t, sender, dispatch, nil, config.LoopConfig{MaxTurns: 25})

	out := loop.Run(context.Background(), Params{Prompt: "go"})
	failed, ok := out.(Failed)
	if !ok {
		t.Fatalf("outcome = %T, want Failed", out)
	}
	if failed.Status.Kind != StatusToolExecution {
		t.Errorf("kind = %q", failed.Status.Kind)
	}
	if !strings.Contains(failed.Status.Message, "disk on fire") {
		t.Errorf("message = %q", failed.Status.Message)
	}
}

func TestPanicBecomesGenericFailure(t *testing.T) {
	sender := &scriptedSender{responses: []*llm.Response{
		{ToolCalls: []map[string]any{structuredCall("c1", "boom", `{}`)}},
	}}
	dispatch := func(ctx context.Context, name string, args map[string]any) (any, error) {
		panic("unexpected nil")
	}
	loop := newTestLoop(t, sender, dispatch, nil, config.LoopConfig{MaxTurns: 25})

	out := loop.Run(context.Background(), Params{Prompt: "go"})
	failed, ok := out.(Failed)
	if !ok {
		t.Fatalf("outcome = %T, want Failed", out)
	}
	if failed.Status.Kind != StatusGeneric {
		t.Errorf("kind = %q", failed.Status.Kind)
	}
	if !strings.Contains(failed.Status.Message, "unexpected nil") {
		t.Errorf("message = %q", failed.Status.Message)
	}
}

func TestCustomMessagesReplacePrompt(t *testing.T) {
	sender := &scriptedSender{responses: []*llm.Response{{Content: "ok"}}}
	loop := newTestLoop(t, sender, nil, nil, config.LoopConfig{MaxTurns: 25})

	custom := []llm.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "noted"},
		{Role: "user", Content: "second"},
	}
	out := loop.Run(context.Background(), Params{Messages: custom})
	if _, ok := out.(Answer); !ok {
		t.Fatalf("outcome = %T, want Answer", out)
	}
	msgs := sender.requests[0].Messages
	if msgs[len(msgs)-1].Content != "second" || msgs[len(msgs)-3].Content != "first" {
		t.Errorf("custom messages not used verbatim: %+v", msgs)
	}
}
