package model

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestApplyAppendsCallsInOrder(t *testing.T) {
	s := &TurnState{}
	s.Apply(&Delta{Calls: []ToolCall{{Function: "retrieve_tables", Arguments: map[string]any{"query": "a"}}}})
	s.Apply(&Delta{Calls: []ToolCall{{Function: "extract_table"}, {Function: "retrieve_wiki_passages"}}})

	var got []string
	for _, c := range s.FunctionsCalled {
		got = append(got, c.Function)
	}
	want := []string{"retrieve_tables", "extract_table", "retrieve_wiki_passages"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("functions_called mismatch (-want +got):\n%s", diff)
	}
}

func TestViewIsDeepCopy(t *testing.T) {
	s := &TurnState{}
	s.Apply(&Delta{
		Calls:     []ToolCall{{Function: "retrieve_tables", Result: map[string]any{"ok": true, "table_ids": []any{"t1"}}, IDs: []string{"t1"}}},
		Fragments: []TableFragment{{TableID: "t1", Columns: []string{"Name"}, Rows: [][]string{{"x"}}}},
	})

	v := s.View()
	v.FunctionsCalled[0].Result["ok"] = false
	v.FunctionsCalled[0].Result["table_ids"].([]any)[0] = "mutated"
	v.Fragments[0].Rows[0][0] = "mutated"

	if ok, _ := s.FunctionsCalled[0].Result["ok"].(bool); !ok {
		t.Fatal("view mutation leaked into state result")
	}
	if got := s.FunctionsCalled[0].Result["table_ids"].([]any)[0]; got != "t1" {
		t.Fatalf("nested result mutated: %v", got)
	}
	if got := s.Fragments[0].Rows[0][0]; got != "x" {
		t.Fatalf("fragment mutated: %v", got)
	}
}

func TestApplyPendingQueue(t *testing.T) {
	s := &TurnState{}
	s.Apply(&Delta{Queued: []ExtractionRequest{{TableID: "a"}, {TableID: "b"}}})
	s.Apply(&Delta{Consumed: 1, Queued: []ExtractionRequest{{TableID: "c"}}})
	want := []ExtractionRequest{{TableID: "b"}, {TableID: "c"}}
	if diff := cmp.Diff(want, s.Pending); diff != "" {
		t.Fatalf("pending mismatch (-want +got):\n%s", diff)
	}
	s.Apply(&Delta{Consumed: 10})
	if len(s.Pending) != 0 {
		t.Fatalf("pending = %v", s.Pending)
	}
}

func TestSufficiencyIsTerminal(t *testing.T) {
	s := &TurnState{}
	s.Apply(&Delta{Sufficient: true, Answer: "first", Sources: []string{"t1"}})
	s.Apply(&Delta{Sufficient: true, Answer: "second"})
	if !s.Sufficient || s.Answer != "first" {
		t.Fatalf("got sufficient=%v answer=%q", s.Sufficient, s.Answer)
	}
}

func TestApplyDedupesPassagesAndCandidates(t *testing.T) {
	s := &TurnState{}
	s.Apply(&Delta{Passages: []Passage{{ID: "/wiki/A"}}, Candidates: []TableCandidate{{ID: "t1"}}})
	s.Apply(&Delta{Passages: []Passage{{ID: "/wiki/A"}, {ID: "/wiki/B"}}, Candidates: []TableCandidate{{ID: "t1"}}})
	if len(s.Passages) != 2 || len(s.Candidates) != 1 {
		t.Fatalf("passages=%d candidates=%d", len(s.Passages), len(s.Candidates))
	}
	if !s.HasEvidence() {
		t.Fatal("expected evidence")
	}
}

func TestRouteValid(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"extract", true},
		{" Analyze ", true},
		{"DONE", true},
		{"finish", false},
		{"table_agent", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ParseRoute(tt.in).Valid(); got != tt.valid {
			t.Errorf("ParseRoute(%q).Valid() = %v, want %v", tt.in, got, tt.valid)
		}
	}
}

func TestClampHops(t *testing.T) {
	c := OrchestratorConfig{MaxHops: 8, MaxHopsCeiling: 32}
	tests := map[int]int{0: 8, -1: 8, 1: 1, 12: 12, 100: 32}
	for in, want := range tests {
		if got := c.ClampHops(in); got != want {
			t.Errorf("ClampHops(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestClampHopsWithoutCeiling(t *testing.T) {
	tests := []struct {
		name    string
		cfg     OrchestratorConfig
		in      int
		want    int
		ceiling int
	}{
		{"no ceiling caps at max hops", OrchestratorConfig{MaxHops: 8}, 20, 8, 8},
		{"ceiling below max hops", OrchestratorConfig{MaxHops: 8, MaxHopsCeiling: 4}, 6, 6, 8},
		{"nothing configured", OrchestratorConfig{}, 0, DefaultMaxHops, DefaultMaxHops},
		{"nothing configured request too high", OrchestratorConfig{}, 50, DefaultMaxHops, DefaultMaxHops},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Ceiling(); got != tt.ceiling {
				t.Fatalf("Ceiling() = %d, want %d", got, tt.ceiling)
			}
			if got := tt.cfg.ClampHops(tt.in); got != tt.want {
				t.Fatalf("ClampHops(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
