package tools

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/hybridqa-core/server/internal/agent/model"
	"github.com/hybridqa-core/server/internal/core/retry"
)

// ===================================
// Retrieval Tools
// ===================================

type RetrieveInput struct {
	Query string `json:"query"`
}

func queryParams(what string) *schema.ParamsOneOf {
	return schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"query": {
			Type:     "string",
			Desc:     "Natural-language description of the " + what + " being sought.",
			Required: true,
		},
	})
}

func (r *Registry) createRetrieveTablesTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name:        ToolRetrieveTables,
			Desc:        "Retrieve candidate tables relevant to a natural-language query. Returns table ids ordered by relevance with their titles and column names.",
			ParamsOneOf: queryParams("table"),
		},
		func(ctx context.Context, in *RetrieveInput) (map[string]any, error) {
			args := map[string]any{"query": in.Query}
			if strings.TrimSpace(in.Query) == "" {
				return model.ErrorResult("query is required", args), nil
			}
			docs, err := retry.Do(ctx, r.policy, ToolRetrieveTables, func(ctx context.Context) ([]*schema.Document, error) {
				idx, err := r.index.Get(ctx)
				if err != nil {
					return nil, err
				}
				return idx.RetrieveTables(ctx, in.Query, r.topK)
			})
			if err != nil {
				return model.ErrorResult(err.Error(), args), nil
			}
			ids := make([]any, 0, len(docs))
			tables := make([]any, 0, len(docs))
			for _, d := range docs {
				ids = append(ids, d.ID)
				cols, _ := d.MetaData["columns"].([]string)
				tables = append(tables, map[string]any{
					"id":      d.ID,
					"title":   d.Content,
					"columns": toAny(cols),
					"score":   d.Score(),
				})
			}
			out := map[string]any{"ok": true, "table_ids": ids, "tables": tables}
			if len(ids) == 0 {
				out["ok"] = false
				out["error"] = "no tables matched the query"
				out["query"] = in.Query
			}
			return out, nil
		},
	)
}

func (r *Registry) createRetrieveWikiPassagesTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name:        ToolRetrieveWikiPassages,
			Desc:        "Retrieve Wikipedia passages relevant to a natural-language query. Use it when table cells are not enough: definitions, background or facts about linked entities.",
			ParamsOneOf: queryParams("passage"),
		},
		func(ctx context.Context, in *RetrieveInput) (map[string]any, error) {
			args := map[string]any{"query": in.Query}
			if strings.TrimSpace(in.Query) == "" {
				return model.ErrorResult("query is required", args), nil
			}
			docs, err := retry.Do(ctx, r.policy, ToolRetrieveWikiPassages, func(ctx context.Context) ([]*schema.Document, error) {
				idx, err := r.index.Get(ctx)
				if err != nil {
					return nil, err
				}
				return idx.RetrieveWikiPassages(ctx, in.Query, r.topK)
			})
			if err != nil {
				return model.ErrorResult(err.Error(), args), nil
			}
			ids := make([]any, 0, len(docs))
			passages := make([]any, 0, len(docs))
			for _, d := range docs {
				ids = append(ids, d.ID)
				linked, _ := d.MetaData["table_ids"].([]string)
				passages = append(passages, map[string]any{
					"id":        d.ID,
					"text":      d.Content,
					"table_ids": toAny(linked),
					"score":     d.Score(),
				})
			}
			out := map[string]any{"ok": true, "passage_ids": ids, "passages": passages}
			if len(ids) == 0 {
				out["ok"] = false
				out["error"] = "no passages matched the query"
				out["query"] = in.Query
			}
			return out, nil
		},
	)
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
