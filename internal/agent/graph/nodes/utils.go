package nodes

import (
	"context"
	"errors"
	"time"

	"github.com/hybridqa-core/server/internal/agent/graph/tools"
	"github.com/hybridqa-core/server/internal/agent/model"
	errx "github.com/hybridqa-core/server/internal/core/error"
	"github.com/hybridqa-core/server/internal/core/retry"
	"github.com/hybridqa-core/server/internal/metrics"
)

// Graph node keys.
const (
	NodeValidator = "validator"
	NodeGate      = "gate"
	NodePlanner   = "planner"
	NodeExtractor = "extractor"
	NodeAnalyzer  = "analyzer"
	NodeFinalizer = "finalizer"
)

// Recoverable oracle failures are logged under these pseudo-functions.
const (
	FunctionPlan    = "plan"
	FunctionAnalyze = "analyze"
)

const DefaultMaxRequestsPerTurn = 6

// ===== Small helpers to keep handlers simple/readable =====
// normalizeMaxRequests returns a sane default when the provided value is invalid.
func normalizeMaxRequests(n int) int {
	if n <= 0 {
		return DefaultMaxRequestsPerTurn
	}
	return n
}

// withDeadline bounds an oracle call by the session deadline, if any.
func withDeadline(ctx context.Context, deadline time.Time) (context.Context, context.CancelFunc) {
	if deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline)
}

// asFatal returns the contract violation carried by err, if any.
func asFatal(err error) *errx.Error {
	var e *errx.Error
	if errors.As(err, &e) && e.Fatal() {
		return e
	}
	return nil
}

// oracleFailure records a recoverable oracle failure as an error-shaped call.
func oracleFailure(function string, turn int, err error) model.ToolCall {
	return model.ToolCall{
		Function:  function,
		Arguments: map[string]any{"turn": float64(turn)},
		Result:    model.ErrorResult(err.Error(), map[string]any{"timeout": retry.IsTimeout(err)}),
	}
}

// Reasons recorded for requests that were issued but never executed.
const (
	reasonRequestLimit = "request limit per turn exceeded"
	reasonSessionEnded = "session ended before execution"
)

// unexecutedCall records an issued request that never ran.
func unexecutedCall(function string, args map[string]any, reason string) model.ToolCall {
	return model.ToolCall{
		Function:  function,
		Arguments: args,
		Result:    model.ErrorResult(reason, model.CloneMap(args)),
	}
}

func retrievalArguments(r model.RetrievalRequest) map[string]any {
	return map[string]any{"query": r.Query}
}

func extractionArguments(r model.ExtractionRequest) map[string]any {
	return map[string]any{"table_id": r.TableID, "selector": r.Selector}
}

// filterSources keeps the ids surfaced by earlier results, deduplicated and in
// the order given.
func filterSources(ids []string, known map[string]bool) (kept, dropped []string) {
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if known[id] {
			kept = append(kept, id)
		} else {
			dropped = append(dropped, id)
		}
	}
	return kept, dropped
}

// computeMetrics evaluates every metric request as a compute_metric call.
// Only successful values reach the metrics map.
func computeMetrics(calc *metrics.Calculator, reqs []model.MetricRequest, fragments []model.TableFragment) ([]model.ToolCall, map[string]any) {
	out := map[string]any{}
	calls := make([]model.ToolCall, 0, len(reqs))
	for _, req := range reqs {
		args := metricArguments(req)
		var values []string
		if len(req.Left) == 0 && len(req.Right) == 0 {
			values = metrics.ValuesFrom(req, fragments)
		}
		v, err := calc.Compute(req, values)
		if err != nil {
			calls = append(calls, model.ToolCall{
				Function:  tools.ToolComputeMetric,
				Arguments: args,
				Result:    model.ErrorResult(err.Error(), map[string]any{"name": req.Name, "op": req.Op}),
			})
			continue
		}
		out[req.Name] = v
		calls = append(calls, model.ToolCall{
			Function:  tools.ToolComputeMetric,
			Arguments: args,
			Result:    map[string]any{"ok": true, "name": req.Name, "value": v},
		})
	}
	return calls, out
}

func metricArguments(req model.MetricRequest) map[string]any {
	args := map[string]any{"name": req.Name, "op": req.Op}
	if len(req.Values) > 0 {
		args["values"] = toAny(req.Values)
	}
	if req.TableID != "" {
		args["table_id"] = req.TableID
	}
	if req.Column != "" {
		args["column"] = req.Column
	}
	if len(req.Left) > 0 {
		args["left"] = toAny(req.Left)
	}
	if len(req.Right) > 0 {
		args["right"] = toAny(req.Right)
	}
	return args
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
