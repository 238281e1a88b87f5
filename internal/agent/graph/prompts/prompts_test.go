package prompts

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/hybridqa-core/server/internal/agent/model"
)

func TestRenderPlannerMessages(t *testing.T) {
	view := model.TurnView{
		Question: model.Question{Text: "Who built the mosque in Herat?"},
		Turn:     1,
		MaxHops:  6,
	}
	msgs, err := RenderPlannerMessages(context.Background(), view)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != schema.System || msgs[1].Role != schema.User {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	for _, want := range []string{`"extract"`, `"analyze"`, `"done"`, "after 6 turns"} {
		if !strings.Contains(msgs[0].Content, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if strings.Contains(msgs[0].Content, "{{") {
		t.Errorf("unrendered template action in system prompt")
	}
}

func TestRenderAnalysisMessages(t *testing.T) {
	msgs, err := RenderAnalysisMessages(context.Background(), model.TurnView{}, 4)
	if err != nil {
		t.Fatal(err)
	}
	sys := msgs[0].Content
	for _, want := range []string{"at most 4 requests", "retrieve_wiki_passages", "count_distinct", "intersection"} {
		if !strings.Contains(sys, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestTurnContextKeepsRecentCalls(t *testing.T) {
	view := model.TurnView{Question: model.Question{Text: "q", TableID: "t1"}, Turn: 3}
	for i := 0; i < maxCallsInContext+3; i++ {
		view.FunctionsCalled = append(view.FunctionsCalled, model.ToolCall{
			Function:  "retrieve_tables",
			Arguments: map[string]any{"query": string(rune('a' + i))},
			Result:    map[string]any{"ok": true},
		})
	}
	out, err := TurnContext(view)
	if err != nil {
		t.Fatal(err)
	}
	var d turnDigest
	if err := json.Unmarshal([]byte(out), &d); err != nil {
		t.Fatal(err)
	}
	if d.Question != "q" || d.TableID != "t1" || d.Turn != 3 {
		t.Fatalf("unexpected digest header: %+v", d)
	}
	if d.OmittedCalls != 3 || len(d.FunctionsCalled) != maxCallsInContext {
		t.Fatalf("omitted=%d kept=%d", d.OmittedCalls, len(d.FunctionsCalled))
	}
	if got := d.FunctionsCalled[0].Arguments["query"]; got != "d" {
		t.Fatalf("oldest kept call = %v, want d", got)
	}
	if !strings.Contains(out, `"pending_extractions": []`) {
		t.Fatalf("empty lists should render as []: %s", out)
	}
}
