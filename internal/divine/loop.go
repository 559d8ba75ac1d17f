// Package divine runs the turn-taking loop against the completion
// service: send messages, process the response, dispatch tool calls,
// repeat until the model answers, a tool interrupts, or a bound is hit.
package divine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/augurhq/augur/internal/config"
	"github.com/augurhq/augur/internal/llm"
	"github.com/augurhq/augur/internal/prompts"
	"github.com/augurhq/augur/internal/toolcall"
)

// Sender is the transport surface the loop drives. *llm.Client
// satisfies it; tests substitute a scripted implementation.
type Sender interface {
	BuildRequest(messages []llm.Message, tools []map[string]any, reasoning bool, tempOverride *float64) llm.Request
	Send(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Params describes one divination. Prompt and Messages are mutually
// exclusive: a non-empty Messages list is used verbatim in place of a
// single user prompt. History and ExtraContext come from the context
// assembler. Reminders guard against premature termination: each is
// injected once, as a system message, when a turn produces no tool
// calls.
type Params struct {
	Prompt   string
	Messages []llm.Message

	History      []llm.Message
	ExtraContext string

	Tools     []map[string]any
	Reminders []string
	Reasoning bool

	// TempOverride pins the sampling temperature, bypassing the
	// orientation-derived value and the restart-on-change check.
	TempOverride *float64
}

// Loop is a divination runner. One Loop serves many Run calls; all
// per-run state lives on the session.
type Loop struct {
	sender   Sender
	executor *toolcall.Executor
	temp     llm.TemperatureSource
	logger   *slog.Logger

	maxTurns    int
	maxRestarts int
}

// New creates a Loop over sender and executor with cfg's bounds. temp
// supplies the current orientation temperature; nil disables the
// restart-on-temperature-change check.
func New(sender Sender, executor *toolcall.Executor, temp llm.TemperatureSource, cfg config.LoopConfig, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 25
	}
	maxRestarts := cfg.MaxRestarts
	if maxRestarts < 0 {
		maxRestarts = 0
	}
	return &Loop{
		sender:      sender,
		executor:    executor,
		temp:        temp,
		logger:      logger.With("component", "divine"),
		maxTurns:    maxTurns,
		maxRestarts: maxRestarts,
	}
}

// Run performs one divination. A temperature change mid-attempt
// discards the attempt and retries from turn 1 with the original
// prompt and messages, up to the restart bound. Run never panics and
// never returns an error: every failure mode is a Failed outcome.
func (l *Loop) Run(ctx context.Context, p Params) Outcome {
	for attempt := 0; ; attempt++ {
		out := l.attempt(ctx, p)
		if _, isRestart := out.(restart); !isRestart {
			return out
		}
		if attempt >= l.maxRestarts {
			return Failed{Status: newStatus(StatusGeneric, "restart budget exhausted")}
		}
		l.logger.Info("restarting divination", "attempt", attempt+1)
	}
}

func (l *Loop) attempt(ctx context.Context, p Params) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("divination panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			out = Failed{Status: newStatus(StatusGeneric, fmt.Sprint(r))}
		}
	}()

	sess := newSession(p.Reminders)
	messages := l.assemble(p)

	var tempAtEntry float64
	if l.temp != nil {
		tempAtEntry = l.temp()
	}

	for turn := 1; turn <= l.maxTurns; turn++ {
		req := l.sender.BuildRequest(messages, l.requestTools(p), p.Reasoning, p.TempOverride)
		resp, err := l.sender.Send(ctx, req)
		if err != nil {
			return l.failTransport(err)
		}

		sess.observe(resp.Content)
		sess.absorb(resp.Model, resp.InputTokens, resp.OutputTokens, resp.Artifacts)
		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if !p.Reasoning {
			calls, fallback := l.findCalls(resp)
			if len(calls) > 0 {
				marker, err := l.dispatch(ctx, calls, fallback, &messages, sess)
				if err != nil {
					return l.failTools(err)
				}
				if marker != nil {
					return Interrupted{Marker: marker}
				}
				if l.temp != nil && p.TempOverride == nil && l.temp() != tempAtEntry {
					return restart{}
				}
				// Calls ran without interruption: not a final answer.
				continue
			}
		}

		if reminder, ok := sess.nextReminder(); ok {
			l.logger.Debug("injecting reminder", "turn", turn)
			messages = append(messages, llm.Message{
				Role:    "system",
				Content: prompts.ReminderPreamble + reminder,
			})
			continue
		}

		return l.accept(resp.Content, sess)
	}

	l.logger.Warn("turn budget exhausted", "max_turns", l.maxTurns)
	return l.accept(sess.lastContent, sess)
}

// assemble builds the initial message list: the mode's system prompt,
// history, the one-shot briefing in standard mode, then the prompt or
// the caller's custom messages.
func (l *Loop) assemble(p Params) []llm.Message {
	system := prompts.SystemPrompt(p.ExtraContext)
	if p.Reasoning {
		system = prompts.ReasoningPrompt(p.ExtraContext)
	}

	messages := make([]llm.Message, 0, len(p.History)+len(p.Messages)+3)
	messages = append(messages, llm.Message{Role: "system", Content: system})
	messages = append(messages, p.History...)
	if !p.Reasoning {
		messages = append(messages, llm.Message{Role: "system", Content: prompts.Briefing})
	}
	if len(p.Messages) > 0 {
		messages = append(messages, p.Messages...)
	} else {
		messages = append(messages, llm.Message{Role: "user", Content: p.Prompt})
	}
	return messages
}

func (l *Loop) requestTools(p Params) []map[string]any {
	if p.Reasoning {
		return nil
	}
	return p.Tools
}

// findCalls prefers structured tool calls; absent those it scans the
// content for fenced call blocks. fallback reports which path hit.
func (l *Loop) findCalls(resp *llm.Response) (calls []toolcall.Call, fallback bool) {
	if calls = toolcall.NormalizeBatch(resp.ToolCalls); len(calls) > 0 {
		return calls, false
	}
	return toolcall.ExtractFromContent(resp.Content), true
}

// dispatch executes calls in order. The first interruption marker stops
// the batch immediately; calls after it never run.
func (l *Loop) dispatch(ctx context.Context, calls []toolcall.Call, fallback bool, messages *[]llm.Message, sess *session) (map[string]any, error) {
	for _, call := range calls {
		var marker map[string]any
		var err error
		if fallback {
			marker, err = l.executor.ExecuteFallback(ctx, call, messages, &sess.results)
		} else {
			marker, err = l.executor.ExecuteStandard(ctx, call, messages, &sess.results)
		}
		if err != nil {
			if errors.Is(err, toolcall.ErrStepTermination) {
				return map[string]any{
					toolcall.InterruptKey: "step_termination",
					"reason":              err.Error(),
				}, nil
			}
			return nil, err
		}
		if marker != nil {
			return marker, nil
		}
	}
	return nil, nil
}

func (l *Loop) accept(content string, sess *session) Outcome {
	text := content
	if text == "" {
		text = sess.lastContent
	}
	if text == "" {
		text = prompts.EmptySentinel
	}
	return Answer{
		Text:        text,
		Artifacts:   sess.artifacts,
		ToolResults: sess.results,
		Prelude:     sess.prelude,
		Usage: Usage{
			Model:        sess.model,
			Turns:        sess.turns,
			InputTokens:  sess.inputTokens,
			OutputTokens: sess.outputTokens,
		},
	}
}

// failTransport maps a transport error to a Failed outcome. The kind is
// whatever the client classified; no re-classification here.
func (l *Loop) failTransport(err error) Outcome {
	var terr *llm.TransportError
	if errors.As(err, &terr) {
		l.logger.Error("transport failure", "kind", terr.Kind, "error", terr.Message)
		return Failed{Status: newStatus(string(terr.Kind), terr.Message)}
	}
	l.logger.Error("unclassified transport failure", "error", err)
	return Failed{Status: newStatus(StatusGeneric, err.Error())}
}

func (l *Loop) failTools(err error) Outcome {
	var execErr *toolcall.ExecError
	if errors.As(err, &execErr) {
		l.logger.Error("tool execution failure", "tool", execErr.Tool, "attempts", execErr.Attempts, "error", execErr.Err)
		return Failed{Status: newStatus(StatusToolExecution, execErr.Error())}
	}
	l.logger.Error("tool failure", "error", err)
	return Failed{Status: newStatus(StatusGeneric, err.Error())}
}
