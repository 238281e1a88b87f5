package prompts

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/hybridqa-core/server/internal/agent/graph/tools"
	"github.com/hybridqa-core/server/internal/agent/model"
	"github.com/hybridqa-core/server/internal/metrics"
)

//go:embed template/planner_prompt.txt
var plannerSystemPrompt string

//go:embed template/analysis_prompt.txt
var analysisSystemPrompt string

// maxCallsInContext bounds how many recent tool calls are shown to an oracle.
const maxCallsInContext = 12

func baseVars() map[string]any {
	return map[string]any{
		"RouteAnalyze":     string(model.RouteAnalyze),
		"RouteExtract":     string(model.RouteExtract),
		"RouteDone":        string(model.RouteDone),
		"RetrieveTables":   tools.ToolRetrieveTables,
		"RetrievePassages": tools.ToolRetrieveWikiPassages,
	}
}

// RenderPlannerMessages renders the planner prompt via the Eino prompt
// component, which triggers prompt callbacks.
func RenderPlannerMessages(ctx context.Context, view model.TurnView) ([]*schema.Message, error) {
	vars := baseVars()
	vars["MaxHops"] = view.MaxHops
	return render(ctx, "planner", plannerSystemPrompt, vars, view)
}

// RenderAnalysisMessages renders the analysis prompt.
func RenderAnalysisMessages(ctx context.Context, view model.TurnView, maxRequests int) ([]*schema.Message, error) {
	vars := baseVars()
	vars["MaxRequests"] = maxRequests
	vars["MetricOps"] = strings.Join(metrics.Ops(), ", ")
	return render(ctx, "analysis", analysisSystemPrompt, vars, view)
}

func render(ctx context.Context, name, system string, vars map[string]any, view model.TurnView) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(system),
	)
	ctx = callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{Name: name, Type: "ChatTemplate", Component: components.ComponentOfPrompt})
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("%s prompt render: %w", name, err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return nil, fmt.Errorf("%s prompt render: empty result", name)
	}
	turn, err := TurnContext(view)
	if err != nil {
		return nil, err
	}
	return []*schema.Message{msgs[0], schema.UserMessage(turn)}, nil
}

type callDigest struct {
	Function  string         `json:"function"`
	Arguments map[string]any `json:"arguments"`
	Result    map[string]any `json:"result"`
}

type turnDigest struct {
	Question           string                    `json:"question"`
	TableID            string                    `json:"table_id,omitempty"`
	Turn               int                       `json:"turn"`
	MaxHops            int                       `json:"max_hops"`
	Sufficient         bool                      `json:"sufficient"`
	Reasoning          []string                  `json:"reasoning"`
	FunctionsCalled    []callDigest              `json:"functions_called"`
	OmittedCalls       int                       `json:"omitted_calls,omitempty"`
	Candidates         []model.TableCandidate    `json:"candidates"`
	Fragments          []model.TableFragment     `json:"fragments"`
	Passages           []model.Passage           `json:"passages"`
	PendingExtractions []model.ExtractionRequest `json:"pending_extractions"`
	LastAnalysis       string                    `json:"last_analysis,omitempty"`
}

// TurnContext renders the read view handed to an oracle as JSON.
func TurnContext(view model.TurnView) (string, error) {
	d := turnDigest{
		Question:           view.Question.Text,
		TableID:            view.Question.TableID,
		Turn:               view.Turn,
		MaxHops:            view.MaxHops,
		Sufficient:         view.Sufficient,
		Reasoning:          nonNil(view.Reasoning),
		Candidates:         view.Candidates,
		Fragments:          view.Fragments,
		Passages:           view.Passages,
		PendingExtractions: view.Pending,
	}
	calls := view.FunctionsCalled
	if len(calls) > maxCallsInContext {
		d.OmittedCalls = len(calls) - maxCallsInContext
		calls = calls[len(calls)-maxCallsInContext:]
	}
	d.FunctionsCalled = make([]callDigest, 0, len(calls))
	for _, c := range calls {
		d.FunctionsCalled = append(d.FunctionsCalled, callDigest{Function: c.Function, Arguments: c.Arguments, Result: c.Result})
	}
	if d.Candidates == nil {
		d.Candidates = []model.TableCandidate{}
	}
	if d.Fragments == nil {
		d.Fragments = []model.TableFragment{}
	}
	if d.Passages == nil {
		d.Passages = []model.Passage{}
	}
	if d.PendingExtractions == nil {
		d.PendingExtractions = []model.ExtractionRequest{}
	}
	if view.Analysis != nil {
		d.LastAnalysis = view.Analysis.Rationale
	}
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal turn context: %w", err)
	}
	return string(b), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
