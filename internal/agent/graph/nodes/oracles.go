package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/hybridqa-core/server/internal/agent/graph/parsers"
	"github.com/hybridqa-core/server/internal/agent/graph/prompts"
	"github.com/hybridqa-core/server/internal/agent/model"
	logx "github.com/hybridqa-core/server/pkg/logger"
)

// ChatPlanner is the language-model backed Planner.
type ChatPlanner struct {
	chat      einomodel.BaseChatModel
	modelName string
}

var _ model.Planner = (*ChatPlanner)(nil)

func NewChatPlanner(chat einomodel.BaseChatModel, modelName string) *ChatPlanner {
	return &ChatPlanner{chat: chat, modelName: modelName}
}

func (p *ChatPlanner) Plan(ctx context.Context, view model.TurnView) (*model.PlanDecision, error) {
	msgs, err := prompts.RenderPlannerMessages(ctx, view)
	if err != nil {
		return nil, err
	}
	out, err := p.chat.Generate(withModelCallbacks(ctx, p.modelName), msgs)
	if err != nil {
		return nil, fmt.Errorf("planner generate: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("planner generate: empty reply")
	}
	cost := logUsage(view, NodePlanner, p.modelName, out)
	dec, err := parsers.ParsePlanDecision(out.Content)
	if err != nil {
		return nil, err
	}
	dec.CostUSD = cost
	return dec, nil
}

// ChatAnalyst is the language-model backed Analysis Agent.
type ChatAnalyst struct {
	chat        einomodel.BaseChatModel
	modelName   string
	maxRequests int
}

var _ model.Analyst = (*ChatAnalyst)(nil)

func NewChatAnalyst(chat einomodel.BaseChatModel, modelName string, maxRequests int) *ChatAnalyst {
	return &ChatAnalyst{chat: chat, modelName: modelName, maxRequests: maxRequests}
}

func (a *ChatAnalyst) Analyze(ctx context.Context, view model.TurnView) (*model.Analysis, error) {
	msgs, err := prompts.RenderAnalysisMessages(ctx, view, a.maxRequests)
	if err != nil {
		return nil, err
	}
	out, err := a.chat.Generate(withModelCallbacks(ctx, a.modelName), msgs)
	if err != nil {
		return nil, fmt.Errorf("analysis generate: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("analysis generate: empty reply")
	}
	cost := logUsage(view, NodeAnalyzer, a.modelName, out)
	res, err := parsers.ParseAnalysis(out.Content)
	if err != nil {
		return nil, err
	}
	res.CostUSD = cost
	return res, nil
}

// withModelCallbacks makes the graph's callback handlers observe a chat
// model called from inside a lambda node.
func withModelCallbacks(ctx context.Context, modelName string) context.Context {
	return callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{Name: modelName, Type: "Gemini", Component: components.ComponentOfChatModel})
}

// logUsage logs token usage and returns the reply's total cost in USD.
func logUsage(view model.TurnView, node, modelName string, out *schema.Message) float64 {
	u, ok := model.MessageCost(out, modelName)
	if !ok {
		return 0
	}
	logx.Debug().
		Str("session_id", view.SessionID).
		Int("turn", view.Turn).
		Str("node", node).
		Str("model", modelName).
		Int("prompt_tokens", u.PromptTokens).
		Int("completion_tokens", u.CompletionTokens).
		Int("total_tokens", u.TotalTokens).
		Float64("input_cost_usd", u.InputCost).
		Float64("output_cost_usd", u.OutputCost).
		Float64("total_cost_usd", u.TotalCost).
		Msg("LLM usage")
	return u.TotalCost
}
