package tools

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/hybridqa-core/server/internal/agent/model"
)

// ===================================
// Table Tools
// ===================================

type ExtractTableInput struct {
	TableID  string `json:"table_id"`
	Selector string `json:"selector"`
}

type TableInput struct {
	TableID string `json:"table_id"`
}

type ColumnInput struct {
	TableID    string `json:"table_id"`
	ColumnName string `json:"column_name"`
}

type RowInput struct {
	TableID  string `json:"table_id"`
	RowIndex int    `json:"row_index"`
}

type CellInput struct {
	TableID    string `json:"table_id"`
	RowIndex   int    `json:"row_index"`
	ColumnName string `json:"column_name"`
}

type FindRowsInput struct {
	TableID    string            `json:"table_id"`
	Conditions map[string]string `json:"conditions"`
}

var tableIDParam = &schema.ParameterInfo{
	Type:     "string",
	Desc:     "Identifier of the table, as returned by retrieve_tables.",
	Required: true,
}

var rowIndexParam = &schema.ParameterInfo{
	Type:     "integer",
	Desc:     "Zero-based index of the row.",
	Required: true,
}

var columnNameParam = &schema.ParameterInfo{
	Type:     "string",
	Desc:     "Exact column name from get_table_metadata.",
	Required: true,
}

func (r *Registry) createExtractTableTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolExtractTable,
			Desc: "Extract the rows and cells of one table matching a selector. Selector syntax: " +
				"'columns: A, B; rows: key1, key2; where: Column=Value; index: 0, 3'. Plain text is a single row reference. " +
				"Returns not_found when a column or row cannot be resolved.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"table_id": tableIDParam,
				"selector": {
					Type:     "string",
					Desc:     "Which rows and columns to extract.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *ExtractTableInput) (map[string]any, error) {
			view, _ := ViewFromContext(ctx)
			out, err := r.extractor.Extract(ctx, in.TableID, in.Selector, view)
			if err != nil {
				return model.ErrorResult(err.Error(), map[string]any{"table_id": in.TableID, "selector": in.Selector}), nil
			}
			return out.Payload(in.TableID, in.Selector), nil
		},
	)
}

func (r *Registry) createTableMetadataTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name:        ToolGetTableMetadata,
			Desc:        "Get a table's title, column names and row count without loading its data.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{"table_id": tableIDParam}),
		},
		func(ctx context.Context, in *TableInput) (map[string]any, error) {
			t, err := r.repo.Table(in.TableID)
			if err != nil {
				return model.ErrorResult(err.Error(), map[string]any{"table_id": in.TableID}), nil
			}
			return map[string]any{
				"ok":       true,
				"table_id": t.ID,
				"title":    t.Title,
				"columns":  toAny(t.Header),
				"num_rows": float64(t.NumRows()),
			}, nil
		},
	)
}

func (r *Registry) createGetColumnTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolGetColumn,
			Desc: "Get every cell of one column.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"table_id":    tableIDParam,
				"column_name": columnNameParam,
			}),
		},
		func(ctx context.Context, in *ColumnInput) (map[string]any, error) {
			args := map[string]any{"table_id": in.TableID, "column_name": in.ColumnName}
			t, err := r.repo.Table(in.TableID)
			if err != nil {
				return model.ErrorResult(err.Error(), args), nil
			}
			cells, err := t.Column(in.ColumnName)
			if err != nil {
				return model.ErrorResult(err.Error(), args), nil
			}
			return map[string]any{"ok": true, "table_id": t.ID, "cells": toAny(cells)}, nil
		},
	)
}

func (r *Registry) createGetRowTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolGetRowByIndex,
			Desc: "Get every cell of one row by its index.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"table_id":  tableIDParam,
				"row_index": rowIndexParam,
			}),
		},
		func(ctx context.Context, in *RowInput) (map[string]any, error) {
			args := map[string]any{"table_id": in.TableID, "row_index": float64(in.RowIndex)}
			t, err := r.repo.Table(in.TableID)
			if err != nil {
				return model.ErrorResult(err.Error(), args), nil
			}
			row, err := t.Row(in.RowIndex)
			if err != nil {
				return model.ErrorResult(err.Error(), args), nil
			}
			return map[string]any{"ok": true, "table_id": t.ID, "row": toAny(row)}, nil
		},
	)
}

func (r *Registry) createGetCellTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolGetCell,
			Desc: "Get the value at one row index and column.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"table_id":    tableIDParam,
				"row_index":   rowIndexParam,
				"column_name": columnNameParam,
			}),
		},
		func(ctx context.Context, in *CellInput) (map[string]any, error) {
			args := map[string]any{"table_id": in.TableID, "row_index": float64(in.RowIndex), "column_name": in.ColumnName}
			t, err := r.repo.Table(in.TableID)
			if err != nil {
				return model.ErrorResult(err.Error(), args), nil
			}
			cell, err := t.Cell(in.RowIndex, in.ColumnName)
			if err != nil {
				return model.ErrorResult(err.Error(), args), nil
			}
			return map[string]any{"ok": true, "table_id": t.ID, "cell": cell}, nil
		},
	)
}

func (r *Registry) createFindRowsTool() tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolFindRowsByValue,
			Desc: "Find the indices of rows whose cells equal every column=value condition.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"table_id": tableIDParam,
				"conditions": {
					Type:     "object",
					Desc:     "Column name to expected cell value. All conditions must hold.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *FindRowsInput) (map[string]any, error) {
			conds := make(map[string]any, len(in.Conditions))
			for k, v := range in.Conditions {
				conds[k] = v
			}
			args := map[string]any{"table_id": in.TableID, "conditions": conds}
			if len(in.Conditions) == 0 {
				return model.ErrorResult("conditions are required", args), nil
			}
			t, err := r.repo.Table(in.TableID)
			if err != nil {
				return model.ErrorResult(err.Error(), args), nil
			}
			rows, err := t.FindRows(in.Conditions)
			if err != nil {
				return model.ErrorResult(err.Error(), args), nil
			}
			indices := make([]any, len(rows))
			for i, n := range rows {
				indices[i] = float64(n)
			}
			return map[string]any{"ok": true, "table_id": t.ID, "row_indices": indices}, nil
		},
	)
}

func trimString(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
