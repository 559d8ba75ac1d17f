package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	records := []Record{
		{Model: "gpt-4o", Mode: "standard", Turns: 3, InputTokens: 1000, OutputTokens: 200},
		{Model: "gpt-4o", Mode: "standard", Turns: 1, InputTokens: 500, OutputTokens: 100},
		{Model: "o3-mini", Mode: "reasoning", Turns: 1, InputTokens: 2000, OutputTokens: 800},
	}
	for _, rec := range records {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 3 {
		t.Errorf("records = %d, want 3", sum.TotalRecords)
	}
	if sum.TotalInputTokens != 3500 || sum.TotalOutputTokens != 1100 {
		t.Errorf("tokens = %d/%d, want 3500/1100", sum.TotalInputTokens, sum.TotalOutputTokens)
	}
	if sum.TotalTurns != 5 {
		t.Errorf("turns = %d, want 5", sum.TotalTurns)
	}
}

func TestSummaryByModel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, rec := range []Record{
		{Model: "gpt-4o", Turns: 1, InputTokens: 100, OutputTokens: 10},
		{Model: "o3-mini", Mode: "reasoning", Turns: 1, InputTokens: 900, OutputTokens: 300},
	} {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	byModel, err := s.SummaryByModel(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SummaryByModel: %v", err)
	}
	if len(byModel) != 2 {
		t.Fatalf("models = %d, want 2", len(byModel))
	}
	if byModel["o3-mini"].TotalInputTokens != 900 {
		t.Errorf("o3-mini input = %d", byModel["o3-mini"].TotalInputTokens)
	}
}

func TestSummaryWindowExcludesOutside(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := Record{Model: "gpt-4o", Turns: 1, InputTokens: 100, OutputTokens: 10,
		Timestamp: time.Now().Add(-48 * time.Hour)}
	if err := s.Record(ctx, old); err != nil {
		t.Fatalf("Record: %v", err)
	}

	sum, err := s.Summary(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 0 {
		t.Errorf("records = %d, want 0 (outside window)", sum.TotalRecords)
	}
}

func TestRecordDefaultsMode(t *testing.T) {
	s := newTestStore(t)
	if err := s.Record(context.Background(), Record{Model: "gpt-4o", Turns: 1}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	byMode, err := s.SummaryByMode(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("SummaryByMode: %v", err)
	}
	if _, ok := byMode["standard"]; !ok {
		t.Errorf("mode groups = %v, want standard", byMode)
	}
}
