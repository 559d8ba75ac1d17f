package divine

import "github.com/augurhq/augur/internal/toolcall"

// session is the per-attempt loop state: the reminder queue, the
// accumulated message stream, tool results, artifacts, and the prelude
// trace. Each restart attempt gets a fresh session, so a discarded
// attempt leaves nothing behind.
type session struct {
	reminders []string
	prelude   []string
	results   []toolcall.Result
	artifacts map[string]any

	lastContent string

	turns        int
	model        string
	inputTokens  int
	outputTokens int
}

func newSession(reminders []string) *session {
	// Copy: the queue is consumed in place and the caller's slice must
	// survive a restart.
	queue := make([]string, len(reminders))
	copy(queue, reminders)
	return &session{reminders: queue}
}

// nextReminder pops the next pending reminder, if any.
func (s *session) nextReminder() (string, bool) {
	if len(s.reminders) == 0 {
		return "", false
	}
	r := s.reminders[0]
	s.reminders = s.reminders[1:]
	return r, true
}

// observe records one turn's content into the session trace.
func (s *session) observe(content string) {
	if content == "" {
		return
	}
	s.prelude = append(s.prelude, content)
	s.lastContent = content
}

// absorb folds one response's artifacts and usage into the session,
// last write winning per artifact key.
func (s *session) absorb(model string, inputTokens, outputTokens int, artifacts map[string]any) {
	s.turns++
	if model != "" {
		s.model = model
	}
	s.inputTokens += inputTokens
	s.outputTokens += outputTokens

	if len(artifacts) == 0 {
		return
	}
	if s.artifacts == nil {
		s.artifacts = make(map[string]any, len(artifacts))
	}
	for k, v := range artifacts {
		s.artifacts[k] = v
	}
}
