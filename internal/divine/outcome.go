package divine

import (
	"fmt"

	"github.com/augurhq/augur/internal/toolcall"
)

// Outcome is the terminal result of one divination. Exactly one of the
// three exported variants is returned: Answer, Interrupted, or Failed.
// Callers must type-switch and check for Interrupted before treating
// the result as text.
type Outcome interface {
	outcome()
}

// Answer is a normal completion: the final content (or the empty
// sentinel), accumulated artifacts, executed tool results, and the
// prelude trace of intermediate commentary.
type Answer struct {
	Text        string
	Artifacts   map[string]any
	ToolResults []toolcall.Result
	Prelude     []string
	Usage       Usage
}

// Usage is the token accounting accumulated across the winning
// attempt's turns. Discarded restart attempts are not counted.
type Usage struct {
	Model        string
	Turns        int
	InputTokens  int
	OutputTokens int
}

// Interrupted carries the raw interruption marker a tool returned. The
// loop stopped immediately when it appeared; no further tools in the
// batch ran and no further turns were taken.
type Interrupted struct {
	Marker map[string]any
}

// Failed is a terminal failure with a short classification tag and a
// length-capped human message. Stack traces are logged, never carried.
type Failed struct {
	Status Status
}

func (Answer) outcome()      {}
func (Interrupted) outcome() {}
func (Failed) outcome()      {}

// restart is the internal outcome raised when the sampling temperature
// changes mid-session. Run consumes it and retries from turn 1; it
// never reaches the caller.
type restart struct{}

func (restart) outcome() {}

// Status classification tags beyond the transport kinds.
const (
	StatusToolExecution = "tool_execution"
	StatusGeneric       = "generic_failure"
)

const maxStatusMessageLen = 500

// Status is the caller-visible shape of a terminal failure.
type Status struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (s Status) String() string {
	return fmt.Sprintf("%s: %s", s.Kind, s.Message)
}

func newStatus(kind, message string) Status {
	if len(message) > maxStatusMessageLen {
		message = message[:maxStatusMessageLen] + "…"
	}
	return Status{Kind: kind, Message: message}
}
