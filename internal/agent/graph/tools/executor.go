package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/hybridqa-core/server/internal/agent/model"
	logx "github.com/hybridqa-core/server/pkg/logger"
)

// Request is one tool invocation issued by an agent.
type Request struct {
	Name      string
	Arguments map[string]any
}

// Evidence is what a batch of tool calls contributed to the session.
type Evidence struct {
	Calls      []model.ToolCall
	Fragments  []model.TableFragment
	Passages   []model.Passage
	Candidates []model.TableCandidate
}

// Executor runs agent requests through an eino ToolsNode, sequentially and in
// request order.
type Executor struct {
	node *compose.ToolsNode
}

func NewExecutor(ctx context.Context, reg *Registry) (*Executor, error) {
	node, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               reg.Tools(),
		ExecuteSequentially: true,
		UnknownToolsHandler: func(ctx context.Context, name, input string) (string, error) {
			logx.Warn().Str("function", name).Msg("Unknown tool requested")
			b, _ := json.Marshal(unknownToolResult(name))
			return string(b), nil
		},
		ToolArgumentsHandler: func(ctx context.Context, name, arguments string) (string, error) {
			return sanitizeArguments(name, arguments), nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create tools node: %w", err)
	}
	return &Executor{node: node}, nil
}

// Run executes reqs and converts every result into a ToolCall plus the
// evidence it carries. Only context cancellation is returned as an error.
func (e *Executor) Run(ctx context.Context, view model.TurnView, reqs []Request) (*Evidence, error) {
	out := &Evidence{}
	if len(reqs) == 0 {
		return out, nil
	}

	calls := make([]schema.ToolCall, len(reqs))
	for i, req := range reqs {
		args, err := json.Marshal(req.Arguments)
		if err != nil {
			return nil, fmt.Errorf("marshal %s arguments: %w", req.Name, err)
		}
		calls[i] = schema.ToolCall{
			ID:       fmt.Sprintf("call_%d_%d", view.Turn, i+1),
			Type:     "function",
			Function: schema.FunctionCall{Name: req.Name, Arguments: string(args)},
		}
	}

	msgs, err := e.node.Invoke(WithView(ctx, view), schema.AssistantMessage("", calls))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("tools node: %w", err)
	}
	byID := make(map[string]string, len(msgs))
	for _, m := range msgs {
		byID[m.ToolCallID] = m.Content
	}

	for i, req := range reqs {
		content, ok := byID[calls[i].ID]
		var result map[string]any
		if !ok {
			result = model.ErrorResult("tool produced no result", req.Arguments)
		} else if result, err = model.DecodePayload(content); err != nil {
			result = model.ErrorResult(err.Error(), req.Arguments)
		}
		call := model.ToolCall{
			Function:  req.Name,
			Arguments: model.CloneMap(req.Arguments),
			Result:    result,
			IDs:       ResultIDs(result),
		}
		out.Calls = append(out.Calls, call)
		out.collect(call, view.Turn)

		logx.Debug().
			Str("session_id", view.SessionID).
			Int("turn", view.Turn).
			Str("function", req.Name).
			Bool("ok", call.OK()).
			Strs("ids", call.IDs).
			Msg("Tool call recorded")
	}
	return out, nil
}

func (e *Evidence) collect(call model.ToolCall, turn int) {
	if !call.OK() {
		return
	}
	res := call.Result
	switch call.Function {
	case ToolRetrieveTables:
		for _, t := range anySlice(res["tables"]) {
			m, _ := t.(map[string]any)
			e.Candidates = append(e.Candidates, model.TableCandidate{
				ID:      str(m["id"]),
				Title:   str(m["title"]),
				Columns: strs(m["columns"]),
				Score:   num(m["score"]),
			})
		}
	case ToolRetrieveWikiPassages:
		for _, p := range anySlice(res["passages"]) {
			m, _ := p.(map[string]any)
			e.Passages = append(e.Passages, model.Passage{
				ID:       str(m["id"]),
				Text:     str(m["text"]),
				TableIDs: strs(m["table_ids"]),
				Score:    num(m["score"]),
			})
		}
	case ToolGetTableMetadata:
		e.Candidates = append(e.Candidates, model.TableCandidate{
			ID:      str(res["table_id"]),
			Title:   str(res["title"]),
			Columns: strs(res["columns"]),
		})
	case ToolExtractTable:
		f := model.TableFragment{
			TableID:  str(res["table_id"]),
			Title:    str(res["title"]),
			Columns:  strs(res["columns"]),
			Selector: str(call.Arguments["selector"]),
			Turn:     turn,
		}
		for _, n := range anySlice(res["row_indices"]) {
			f.RowIndices = append(f.RowIndices, int(num(n)))
		}
		for _, row := range anySlice(res["rows"]) {
			f.Rows = append(f.Rows, strs(row))
		}
		e.Fragments = append(e.Fragments, f)
	}
}

// ResultIDs lists the table and passage identifiers a success payload surfaces.
func ResultIDs(result map[string]any) []string {
	if ok, _ := result["ok"].(bool); !ok {
		return nil
	}
	var ids []string
	seen := map[string]bool{}
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	add(str(result["table_id"]))
	for _, key := range []string{"table_ids", "passage_ids"} {
		for _, id := range strs(result[key]) {
			add(id)
		}
	}
	return ids
}

// sanitizeArguments trims identifiers and coerces row_index into an integer,
// leaving unparseable input for the tool to reject.
func sanitizeArguments(name, arguments string) string {
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil || args == nil {
		return arguments
	}
	for _, key := range []string{"query", "table_id", "selector", "column_name"} {
		if v, ok := args[key]; ok {
			args[key] = trimString(v)
		}
	}
	if v, ok := args["row_index"]; ok {
		switch t := v.(type) {
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
				args["row_index"] = n
			}
		case float64:
			args["row_index"] = int(t)
		}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return arguments
	}
	return string(b)
}

func anySlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) float64 {
	f, _ := v.(float64)
	return f
}

func strs(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
