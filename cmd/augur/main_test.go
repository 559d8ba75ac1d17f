package main

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/augurhq/augur/internal/divine"
	"github.com/augurhq/augur/internal/store"
	"github.com/augurhq/augur/internal/toolcall"
)

func TestRecordExchangePersistsArguments(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "augur.db"), nil, 0)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	answer := divine.Answer{
		Text: "the file holds one method",
		ToolResults: []toolcall.Result{
			{
				ID:        "call_1",
				Name:      "read_file",
				Arguments: map[string]any{"path": "lib/omen.rb"},
				Result:    "def omen; end",
			},
		},
	}
	if err := recordExchange(st, "what does omen.rb do?", answer, 2*time.Second); err != nil {
		t.Fatalf("recordExchange: %v", err)
	}

	entries, err := st.History(1, 0, true)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}

	var calls []store.ToolCallRecord
	if err := json.Unmarshal([]byte(entries[0].ToolCallsJSON), &calls); err != nil {
		t.Fatalf("decode stored calls: %v", err)
	}
	if len(calls) != 1 || calls[0].Name != "read_file" {
		t.Fatalf("stored calls = %+v", calls)
	}
	if calls[0].Arguments["path"] != "lib/omen.rb" {
		t.Errorf("stored arguments = %v", calls[0].Arguments)
	}
}
