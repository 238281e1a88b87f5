// Package extract implements the Table Extraction Agent: it resolves a
// selector against one table and returns the matched fragment or a
// recoverable not-found outcome.
package extract

import (
	"context"
	"fmt"
	"sort"

	"github.com/hybridqa-core/server/internal/agent/model"
	"github.com/hybridqa-core/server/internal/corpus"
	logx "github.com/hybridqa-core/server/pkg/logger"
)

// Resolution records how one selector reference was matched.
type Resolution struct {
	Ref      string    `json:"ref"`
	Resolved string    `json:"resolved"`
	Kind     MatchKind `json:"kind"`
	Score    float64   `json:"score"`
}

// Outcome is either a fragment or a not-found reason.
type Outcome struct {
	Fragment    *model.TableFragment
	NotFound    bool
	Reason      string
	Resolutions []Resolution
}

// Payload renders the outcome as a functions_called result.
func (o *Outcome) Payload(tableID, selector string) map[string]any {
	if o.NotFound {
		out := model.ErrorResult(o.Reason, map[string]any{"table_id": tableID, "selector": selector})
		out["not_found"] = true
		return out
	}
	f := o.Fragment
	rows := make([]any, len(f.Rows))
	for i, r := range f.Rows {
		cells := make([]any, len(r))
		for j, c := range r {
			cells[j] = c
		}
		rows[i] = cells
	}
	indices := make([]any, len(f.RowIndices))
	for i, n := range f.RowIndices {
		indices[i] = float64(n)
	}
	columns := make([]any, len(f.Columns))
	for i, c := range f.Columns {
		columns[i] = c
	}
	resolved := make([]any, 0, len(o.Resolutions))
	for _, r := range o.Resolutions {
		resolved = append(resolved, map[string]any{
			"ref": r.Ref, "resolved": r.Resolved, "kind": string(r.Kind), "score": r.Score,
		})
	}
	return map[string]any{
		"ok":          true,
		"table_id":    f.TableID,
		"title":       f.Title,
		"columns":     columns,
		"row_indices": indices,
		"rows":        rows,
		"resolved":    resolved,
	}
}

// Agent extracts table fragments from the injected corpus.
type Agent struct {
	repo    *corpus.Repository
	matcher Matcher
}

func NewAgent(repo *corpus.Repository, cfg model.ExtractConfig) *Agent {
	return &Agent{repo: repo, matcher: Matcher{Threshold: cfg.FuzzyThreshold}}
}

// Extract resolves selector against tableID. Unknown tables, unknown
// columns and unmatched rows are NotFound outcomes, never errors.
func (a *Agent) Extract(ctx context.Context, tableID, selector string, view model.TurnView) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := logx.Debug().Str("session_id", view.SessionID).Int("turn", view.Turn).Str("table_id", tableID)

	table, err := a.repo.Table(tableID)
	if err != nil {
		log.Err(err).Msg("Extraction target missing")
		return notFound(err.Error()), nil
	}
	sel, err := ParseSelector(selector)
	if err != nil {
		return notFound(err.Error()), nil
	}

	out, reason := a.resolve(table, sel)
	if out == nil {
		log.Str("reason", reason).Msg("Selector not found")
		return notFound(reason), nil
	}
	out.Fragment.Selector = selector
	out.Fragment.Turn = view.Turn
	log.Int("rows", len(out.Fragment.Rows)).Int("columns", len(out.Fragment.Columns)).Msg("Table fragment extracted")
	return out, nil
}

func notFound(reason string) *Outcome {
	return &Outcome{NotFound: true, Reason: reason}
}

func (a *Agent) resolve(table *corpus.Table, sel Selector) (*Outcome, string) {
	out := &Outcome{}

	cols := make([]int, 0, len(sel.Columns))
	if len(sel.Columns) == 0 {
		for i := range table.Header {
			cols = append(cols, i)
		}
	}
	for _, ref := range sel.Columns {
		m, ok := a.matcher.Resolve(ref, table.Header)
		if !ok {
			return nil, fmt.Sprintf("column %q not found in table %q", ref, table.ID)
		}
		out.Resolutions = append(out.Resolutions, Resolution{Ref: ref, Resolved: table.Header[m.Index], Kind: m.Kind, Score: m.Score})
		cols = appendIndex(cols, m.Index)
	}

	var rows []int
	explicit := len(sel.Rows) > 0 || len(sel.Indices) > 0
	for _, ref := range sel.Rows {
		idx, m, ok := a.resolveRow(table, ref)
		if !ok {
			return nil, fmt.Sprintf("row %q not found in table %q", ref, table.ID)
		}
		out.Resolutions = append(out.Resolutions, Resolution{Ref: ref, Resolved: table.Rows[idx][m.Index], Kind: m.Kind, Score: m.Score})
		rows = appendIndex(rows, idx)
	}
	for _, idx := range sel.Indices {
		if idx < 0 || idx >= table.NumRows() {
			return nil, fmt.Sprintf("row index %d out of range for table %q (%d rows)", idx, table.ID, table.NumRows())
		}
		rows = appendIndex(rows, idx)
	}
	if !explicit {
		for i := range table.Rows {
			rows = append(rows, i)
		}
	}

	// Conditions in sorted column order keep resolution deterministic.
	conds := make([]string, 0, len(sel.Where))
	for col := range sel.Where {
		conds = append(conds, col)
	}
	sort.Strings(conds)
	for _, ref := range conds {
		m, ok := a.matcher.Resolve(ref, table.Header)
		if !ok {
			return nil, fmt.Sprintf("column %q not found in table %q", ref, table.ID)
		}
		out.Resolutions = append(out.Resolutions, Resolution{Ref: ref, Resolved: table.Header[m.Index], Kind: m.Kind, Score: m.Score})
		cells := make([]string, len(rows))
		for i, r := range rows {
			cells[i] = cell(table.Rows[r], m.Index)
		}
		hits, _ := a.matcher.Filter(sel.Where[ref], cells)
		kept := make([]int, 0, len(hits))
		for _, h := range hits {
			kept = append(kept, rows[h])
		}
		rows = kept
		if len(rows) == 0 {
			return nil, fmt.Sprintf("no rows where %s=%s in table %q", ref, sel.Where[ref], table.ID)
		}
	}
	sort.Ints(rows)

	f := &model.TableFragment{
		TableID:    table.ID,
		Title:      table.Title,
		RowIndices: rows,
	}
	for _, c := range cols {
		f.Columns = append(f.Columns, table.Header[c])
	}
	for _, r := range rows {
		projected := make([]string, len(cols))
		for i, c := range cols {
			projected[i] = cell(table.Rows[r], c)
		}
		f.Rows = append(f.Rows, projected)
	}
	out.Fragment = f
	return out, ""
}

// resolveRow matches a row reference against every cell in row-major order,
// so the exact stage over the whole table runs before the normalized one.
func (a *Agent) resolveRow(table *corpus.Table, ref string) (int, Match, bool) {
	var flat []string
	var owners []int
	var offsets []int
	for r, row := range table.Rows {
		for c, v := range row {
			flat = append(flat, v)
			owners = append(owners, r)
			offsets = append(offsets, c)
		}
	}
	m, ok := a.matcher.Resolve(ref, flat)
	if !ok {
		return 0, Match{}, false
	}
	row := owners[m.Index]
	m.Index = offsets[m.Index]
	return row, m, true
}

func appendIndex(dst []int, idx int) []int {
	for _, have := range dst {
		if have == idx {
			return dst
		}
	}
	return append(dst, idx)
}

func cell(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}
