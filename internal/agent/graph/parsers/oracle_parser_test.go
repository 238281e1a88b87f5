package parsers

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"

	"github.com/hybridqa-core/server/internal/agent/model"
	errx "github.com/hybridqa-core/server/internal/core/error"
)

func TestParsePlanDecision(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    *model.PlanDecision
	}{
		{
			name:    "plain",
			content: `{"next":"analyze","rationale":"no evidence yet"}`,
			want:    &model.PlanDecision{Next: model.RouteAnalyze, Rationale: "no evidence yet"},
		},
		{
			name:    "fenced with prose",
			content: "Sure.\n```json\n{\"next\": \" Extract \", \"rationale\": \"pending {request}\"}\n```",
			want:    &model.PlanDecision{Next: model.RouteExtract, Rationale: "pending {request}"},
		},
		{
			name:    "next_agent alias",
			content: `{"next_agent":"done","rationale":"answered"}`,
			want:    &model.PlanDecision{Next: model.RouteDone, Rationale: "answered"},
		},
		{
			name:    "unknown route is kept for the orchestrator",
			content: `{"next":"search","rationale":""}`,
			want:    &model.PlanDecision{Next: model.Route("search")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePlanDecision(tt.content)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("plan mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseAnalysis(t *testing.T) {
	content := `{
		"sufficient": false,
		"rationale": "need the mosque table",
		"retrievals": [{"function": "Retrieve_Tables", "query": " mosques in Herat "}],
		"extractions": [{"table_id": "t1", "selector": "columns: Name"}],
		"metrics": [{"name": "n", "op": "COUNT", "values": ["a", "b"]}],
		"sources": ["t1", " "]
	}`
	got, err := ParseAnalysis(content)
	if err != nil {
		t.Fatal(err)
	}
	want := &model.Analysis{
		Rationale:   "need the mosque table",
		Retrievals:  []model.RetrievalRequest{{Function: "retrieve_tables", Query: "mosques in Herat"}},
		Extractions: []model.ExtractionRequest{{TableID: "t1", Selector: "columns: Name"}},
		Metrics:     []model.MetricRequest{{Name: "n", Op: "count", Values: []string{"a", "b"}}},
		Sources:     []string{"t1"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("analysis mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
		plan    bool
	}{
		{"plan without json", "I think we should analyze", true},
		{"plan missing next", `{"rationale":"x"}`, true},
		{"plan unterminated", `{"next":"analyze"`, true},
		{"analysis missing sufficient", `{"answer":"x"}`, false},
		{"analysis unknown retrieval", `{"sufficient":false,"retrievals":[{"function":"web_search","query":"x"}]}`, false},
		{"analysis empty query", `{"sufficient":false,"retrievals":[{"function":"retrieve_tables","query":""}]}`, false},
		{"analysis empty table", `{"sufficient":false,"extractions":[{"selector":"x"}]}`, false},
		{"analysis metric without op", `{"sufficient":true,"answer":"x","metrics":[{"name":"n"}]}`, false},
		{"analysis wrong type", `{"sufficient":"yes"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.plan {
				_, err = ParsePlanDecision(tt.content)
			} else {
				_, err = ParseAnalysis(tt.content)
			}
			var e *errx.Error
			if !errors.As(err, &e) {
				t.Fatalf("expected *errx.Error, got %v", err)
			}
			if e.Code != errx.CodeSchemaViolation || !errx.IsFatal(err) {
				t.Fatalf("expected fatal schema violation, got %+v", e)
			}
		})
	}
}

func TestExtractObjectIgnoresBracesInStrings(t *testing.T) {
	got, err := extractObject(`prefix {"a":"}{\"","b":{"c":1}} suffix {"x":2}`)
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"a":"}{\"","b":{"c":1}}`; got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestParseOversizedReplyCutsOnRuneBoundary(t *testing.T) {
	obj := `{"next":"analyze","rationale":"ok"}`
	// The byte limit falls inside a two-byte rune of the padding.
	content := obj + strings.Repeat("é", maxContentLen)
	if utf8.RuneStart(content[maxContentLen]) {
		t.Fatal("padding should straddle the size limit")
	}
	got, err := ParsePlanDecision(content)
	if err != nil {
		t.Fatalf("oversized but valid reply rejected: %v", err)
	}
	if got.Next != model.RouteAnalyze {
		t.Fatalf("next = %q", got.Next)
	}
	if s := clip(content, maxContentLen); !utf8.ValidString(s) || len(s) != maxContentLen-1 {
		t.Fatalf("clip returned %d bytes, valid=%v", len(s), utf8.ValidString(s))
	}
}
