package toolcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/augurhq/augur/internal/llm"
)

// Execution sandbox defaults. Fallback calls were parsed out of free
// text and get a short leash; structured calls may legitimately run
// long (shell commands, searches).
const (
	DefaultRetries  = 2
	StandardTimeout = 10 * time.Minute
	FallbackTimeout = 15 * time.Second

	retryBackoff = 500 * time.Millisecond
)

// InterruptKey marks a tool result as a deliberate interruption of the
// divination loop. The loop never interprets tool results beyond
// checking for this key.
const InterruptKey = "divine_interrupt"

// ErrStepTermination is the dedicated step-termination signal. A
// dispatcher returning an error wrapping it is asking the loop to stop
// on purpose; the sandbox propagates it unmodified, with no retries.
var ErrStepTermination = errors.New("step termination")

// Dispatcher executes one named tool. Supplied by the caller; the
// executor never interprets the result beyond the interruption check.
type Dispatcher func(ctx context.Context, name string, args map[string]any) (any, error)

// Result is the accumulated record of one executed call.
type Result struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    any            `json:"result"`
}

// ExecError is returned after the sandbox exhausts its retry budget.
type ExecError struct {
	Tool     string
	Attempts int
	Err      error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("tool %q failed after %d attempts: %v", e.Tool, e.Attempts, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Interruption reports whether a tool result carries the interruption
// marker, returning the marker map when it does.
func Interruption(result any) (map[string]any, bool) {
	m, ok := result.(map[string]any)
	if !ok {
		return nil, false
	}
	if _, ok := m[InterruptKey]; !ok {
		return nil, false
	}
	return m, true
}

// Executor wraps a dispatcher in a bounded-retry, bounded-timeout
// sandbox and accumulates results into the message stream.
type Executor struct {
	dispatch Dispatcher
	logger   *slog.Logger

	retries         int
	standardTimeout time.Duration
	fallbackTimeout time.Duration
}

// NewExecutor creates an executor around dispatch with the default
// sandbox bounds.
func NewExecutor(dispatch Dispatcher, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		dispatch:        dispatch,
		logger:          logger.With("component", "toolcall"),
		retries:         DefaultRetries,
		standardTimeout: StandardTimeout,
		fallbackTimeout: FallbackTimeout,
	}
}

// SetBounds overrides the sandbox retry count and timeouts. Zero values
// keep the current setting.
func (e *Executor) SetBounds(retries int, standard, fallback time.Duration) {
	if retries > 0 {
		e.retries = retries
	}
	if standard > 0 {
		e.standardTimeout = standard
	}
	if fallback > 0 {
		e.fallbackTimeout = fallback
	}
}

// ExecuteStandard runs a structured tool call under the standard
// timeout, appending a tool-role message and a result record. A non-nil
// marker means the tool requested an interruption; the caller must stop
// processing the batch immediately.
func (e *Executor) ExecuteStandard(ctx context.Context, call Call, messages *[]llm.Message, results *[]Result) (map[string]any, error) {
	return e.run(ctx, call, e.standardTimeout, messages, results)
}

// ExecuteFallback runs a call recovered from free text under the much
// shorter fallback timeout. Accumulation semantics match
// ExecuteStandard.
func (e *Executor) ExecuteFallback(ctx context.Context, call Call, messages *[]llm.Message, results *[]Result) (map[string]any, error) {
	return e.run(ctx, call, e.fallbackTimeout, messages, results)
}

func (e *Executor) run(ctx context.Context, call Call, timeout time.Duration, messages *[]llm.Message, results *[]Result) (map[string]any, error) {
	result, err := e.sandbox(ctx, call, timeout)
	if err != nil {
		return nil, err
	}

	payload, merr := json.Marshal(result)
	if merr != nil {
		payload = []byte(fmt.Sprintf("%q", fmt.Sprint(result)))
	}

	*messages = append(*messages, llm.Message{
		Role:       "tool",
		Content:    string(payload),
		ToolCallID: call.ID,
	})
	*results = append(*results, Result{ID: call.ID, Name: call.Name, Arguments: call.Arguments, Result: result})

	if marker, ok := Interruption(result); ok {
		e.logger.Info("tool requested interruption", "tool", call.Name)
		return marker, nil
	}
	return nil, nil
}

// sandbox invokes the dispatcher with an explicit bounded attempt loop
// and per-attempt timeout. Step-termination signals pass through
// unmodified; everything else is retried up to the budget and then
// wrapped in an ExecError.
func (e *Executor) sandbox(ctx context.Context, call Call, timeout time.Duration) (any, error) {
	if e.dispatch == nil {
		return nil, &ExecError{Tool: call.Name, Attempts: 0, Err: errors.New("no dispatcher configured")}
	}

	attempts := e.retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := e.dispatch(attemptCtx, call.Name, call.Arguments)
		cancel()

		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrStepTermination) {
			return nil, err
		}
		lastErr = err

		e.logger.Warn("tool execution failed",
			"tool", call.Name,
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err,
		)

		if attempt < attempts {
			timer := time.NewTimer(time.Duration(attempt) * retryBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, &ExecError{Tool: call.Name, Attempts: attempt, Err: ctx.Err()}
			case <-timer.C:
			}
		}
	}

	return nil, &ExecError{Tool: call.Name, Attempts: attempts, Err: lastErr}
}
