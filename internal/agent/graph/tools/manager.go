package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/hybridqa-core/server/internal/agent/model"
	"github.com/hybridqa-core/server/internal/core/retry"
	"github.com/hybridqa-core/server/internal/corpus"
	"github.com/hybridqa-core/server/internal/extract"
	"github.com/hybridqa-core/server/internal/index"
)

const (
	ToolRetrieveTables       = "retrieve_tables"
	ToolRetrieveWikiPassages = "retrieve_wiki_passages"
	ToolExtractTable         = "extract_table"
	ToolGetTableMetadata     = "get_table_metadata"
	ToolGetColumn            = "get_column"
	ToolGetCell              = "get_cell"
	ToolGetRowByIndex        = "get_row_by_index"
	ToolFindRowsByValue      = "find_rows_by_value"

	// ToolComputeMetric is recorded by the analyzer; it is not an eino tool.
	ToolComputeMetric = "compute_metric"
)

// Deps wires the registry to the shared read-only corpus and index.
type Deps struct {
	Repo      *corpus.Repository
	Index     *index.Lazy
	Extractor *extract.Agent
	TopK      int
	Policy    retry.Policy
}

// Registry owns the tool set shared by the graph and the MCP server.
type Registry struct {
	repo      *corpus.Repository
	index     *index.Lazy
	extractor *extract.Agent
	topK      int
	policy    retry.Policy

	tools  []tool.BaseTool
	byName map[string]tool.InvokableTool
}

func NewRegistry(ctx context.Context, d Deps) (*Registry, error) {
	if d.Repo == nil || d.Index == nil || d.Extractor == nil {
		return nil, fmt.Errorf("tools: repo, index and extractor are required")
	}
	r := &Registry{
		repo:      d.Repo,
		index:     d.Index,
		extractor: d.Extractor,
		topK:      d.TopK,
		policy:    d.Policy,
	}
	if r.topK <= 0 {
		r.topK = 5
	}
	if r.policy.Attempts <= 0 {
		r.policy = retry.DefaultPolicy
	}

	r.tools = []tool.BaseTool{
		r.createRetrieveTablesTool(),
		r.createRetrieveWikiPassagesTool(),
		r.createExtractTableTool(),
		r.createTableMetadataTool(),
		r.createGetColumnTool(),
		r.createGetCellTool(),
		r.createGetRowTool(),
		r.createFindRowsTool(),
	}
	r.byName = make(map[string]tool.InvokableTool, len(r.tools))
	for _, t := range r.tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		inv, ok := t.(tool.InvokableTool)
		if !ok {
			return nil, fmt.Errorf("tool %s is not invokable", info.Name)
		}
		r.byName[info.Name] = inv
	}
	return r, nil
}

// Tools returns every registered tool.
func (r *Registry) Tools() []tool.BaseTool {
	return append([]tool.BaseTool(nil), r.tools...)
}

// ToolInfos returns the schema of every registered tool.
func (r *Registry) ToolInfos(ctx context.Context) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Invoke runs one tool by name with JSON arguments and returns the decoded
// payload. Unknown tools yield an error payload.
func (r *Registry) Invoke(ctx context.Context, name, arguments string) (map[string]any, error) {
	t, ok := r.byName[name]
	if !ok {
		return unknownToolResult(name), nil
	}
	out, err := t.InvokableRun(ctx, sanitizeArguments(name, arguments))
	if err != nil {
		return nil, err
	}
	return model.DecodePayload(out)
}

func unknownToolResult(name string) map[string]any {
	return model.ErrorResult("unknown tool", map[string]any{"name": name})
}

type viewKey struct{}

// WithView attaches the session view consumed by extract_table.
func WithView(ctx context.Context, view model.TurnView) context.Context {
	return context.WithValue(ctx, viewKey{}, view)
}

func ViewFromContext(ctx context.Context) (model.TurnView, bool) {
	v, ok := ctx.Value(viewKey{}).(model.TurnView)
	return v, ok
}
