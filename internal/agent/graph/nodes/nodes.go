package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"

	"github.com/hybridqa-core/server/internal/agent/graph/tools"
	"github.com/hybridqa-core/server/internal/agent/graph/transcripts"
	"github.com/hybridqa-core/server/internal/agent/model"
	errx "github.com/hybridqa-core/server/internal/core/error"
	"github.com/hybridqa-core/server/internal/core/retry"
	"github.com/hybridqa-core/server/internal/metrics"
	logx "github.com/hybridqa-core/server/pkg/logger"
)

// Deps are the collaborators shared by every node of one compiled graph.
type Deps struct {
	Planner      model.Planner
	Analyst      model.Analyst
	Executor     *tools.Executor
	Metrics      *metrics.Calculator
	Transcripts  *transcripts.TranscriptManager
	Orchestrator model.OrchestratorConfig
	OraclePolicy retry.Policy
	Now          func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// readState snapshots the fields a node needs from the graph state.
func readState(ctx context.Context) (model.TurnView, time.Time, error) {
	var view model.TurnView
	var deadline time.Time
	err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
		view = s.View()
		deadline = s.Deadline
		return nil
	})
	if err != nil {
		return view, deadline, fmt.Errorf("failed to access state: %w", err)
	}
	return view, deadline, nil
}

// NewApplyStepPostHandler merges a node's delta into the state.
func NewApplyStepPostHandler() func(context.Context, *model.Step, *model.TurnState) (*model.Step, error) {
	return func(ctx context.Context, out *model.Step, s *model.TurnState) (*model.Step, error) {
		if out != nil {
			s.Apply(out.Delta)
		}
		return out, nil
	}
}

// NewStepCondition routes on the node key chosen by the previous node.
func NewStepCondition() func(context.Context, *model.Step) (string, error) {
	return func(ctx context.Context, in *model.Step) (string, error) {
		if in == nil || in.Next == "" {
			return "", fmt.Errorf("step without a routing target")
		}
		return in.Next, nil
	}
}

// ===================================
// Validator
// ===================================

// NewValidatorPreHandler initialises the session state from the input.
func NewValidatorPreHandler(d *Deps) func(context.Context, model.QueryInput, *model.TurnState) (model.QueryInput, error) {
	return func(ctx context.Context, in model.QueryInput, s *model.TurnState) (model.QueryInput, error) {
		in.SessionID = strings.TrimSpace(in.SessionID)
		if in.SessionID == "" {
			in.SessionID = uuid.NewString()
		} else {
			// A reused id must not mix two runs in one transcript.
			d.Transcripts.Reset(ctx, in.SessionID)
		}
		in.Question.Text = strings.TrimSpace(in.Question.Text)
		in.Question.TableID = strings.TrimSpace(in.Question.TableID)

		s.SessionID = in.SessionID
		s.Question = in.Question
		s.MaxHops = d.Orchestrator.ClampHops(in.MaxHops)
		s.StartedAt = d.now()
		budget := in.TimeBudget
		if budget <= 0 {
			budget = d.Orchestrator.TimeBudget
		}
		if budget > 0 {
			s.Deadline = s.StartedAt.Add(budget)
		}

		logx.Info().
			Str("session_id", s.SessionID).
			Int("max_hops", s.MaxHops).
			Dur("time_budget", budget).
			Str("table_id", s.Question.TableID).
			Msg("Session started")
		return in, nil
	}
}

// NewValidatorNode rejects empty questions and seeds an initial table as a
// candidate through get_table_metadata.
func NewValidatorNode(d *Deps) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.QueryInput) (*model.Step, error) {
		if in.Question.Text == "" {
			return &model.Step{
				Next:  NodeGate,
				Delta: &model.Delta{Fatal: errx.Fatalf(errx.CodeInvalidInput, "question is empty")},
			}, nil
		}
		if in.Question.TableID == "" {
			return &model.Step{Next: NodeGate, Delta: &model.Delta{}}, nil
		}

		view, _, err := readState(ctx)
		if err != nil {
			return nil, err
		}
		ev, err := d.Executor.Run(ctx, view, []tools.Request{{
			Name:      tools.ToolGetTableMetadata,
			Arguments: map[string]any{"table_id": in.Question.TableID},
		}})
		if err != nil {
			return nil, err
		}
		d.Transcripts.RecordCalls(ctx, view.SessionID, 0, NodeValidator, ev.Calls)
		return &model.Step{
			Next:  NodeGate,
			Delta: &model.Delta{Calls: ev.Calls, Candidates: ev.Candidates},
		}, nil
	})
}

// ===================================
// Gate
// ===================================

// NewGateNode checks the termination conditions at the top of every PLAN
// transition: a fatal error, sufficiency, the hop bound, then the time budget.
func NewGateNode(d *Deps) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ *model.Step) (*model.Step, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		step := &model.Step{Next: NodePlanner, Delta: &model.Delta{}}
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			log := logx.Debug().Str("session_id", s.SessionID).Int("turn", s.Turn).Str("node", NodeGate)
			switch {
			case s.Fatal != nil:
				step.Next = NodeFinalizer
				log.Str("code", string(s.Fatal.Code)).Msg("Fatal error recorded - finalizing")
			case s.Sufficient:
				step.Next = NodeFinalizer
				log.Msg("Evidence sufficient - finalizing")
			case s.Turn >= s.MaxHops:
				step.Next = NodeFinalizer
				step.Delta.Termination = model.TerminationMaxHops
				log.Int("max_hops", s.MaxHops).Msg("Hop bound reached - finalizing")
			case !s.Deadline.IsZero() && !d.now().Before(s.Deadline):
				step.Next = NodeFinalizer
				step.Delta.Termination = model.TerminationTimeBudget
				log.Time("deadline", s.Deadline).Msg("Time budget exhausted - finalizing")
			default:
				log.Msg("Routing to planner")
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}
		return step, nil
	})
}

// ===================================
// Planner
// ===================================

// NewPlannerNode asks the Planner for the next route. Every invocation is one
// turn. An unknown route, or done before sufficiency, is fatal.
func NewPlannerNode(d *Deps) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ *model.Step) (*model.Step, error) {
		view, deadline, err := readState(ctx)
		if err != nil {
			return nil, err
		}
		turn := view.Turn + 1
		view.Turn = turn
		delta := &model.Delta{AdvanceTurn: true}
		step := &model.Step{Next: NodeGate, Delta: delta}

		callCtx, cancel := withDeadline(ctx, deadline)
		dec, err := retry.Do(callCtx, d.OraclePolicy, NodePlanner, func(ctx context.Context) (*model.PlanDecision, error) {
			return d.Planner.Plan(ctx, view)
		})
		cancel()
		d.Transcripts.RecordPlan(ctx, view.SessionID, turn, dec, err)

		log := logx.Debug().Str("session_id", view.SessionID).Int("turn", turn).Str("node", NodePlanner)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if fatal := asFatal(err); fatal != nil {
				delta.Fatal = fatal
				log.Err(err).Msg("Planner contract violation")
				return step, nil
			}
			delta.Reasoning = fmt.Sprintf("[turn %d] planner unavailable: %v", turn, err)
			delta.Calls = []model.ToolCall{oracleFailure(FunctionPlan, turn, err)}
			logx.Warn().Err(err).Str("session_id", view.SessionID).Int("turn", turn).Msg("Planner failed - retrying next turn")
			return step, nil
		}

		delta.CostUSD = dec.CostUSD
		delta.Reasoning = fmt.Sprintf("[turn %d] %s: %s", turn, dec.Next, dec.Rationale)
		step.Route = dec.Next
		step.Rationale = dec.Rationale

		switch dec.Next {
		case model.RouteExtract:
			step.Next = NodeExtractor
		case model.RouteAnalyze:
			step.Next = NodeAnalyzer
		case model.RouteDone:
			if view.Sufficient {
				step.Next = NodeFinalizer
			} else {
				delta.Fatal = errx.Fatalf(errx.CodePrematureDone, "planner chose done at turn %d before sufficiency", turn)
			}
		default:
			delta.Fatal = errx.Fatalf(errx.CodeInvalidRoute, "planner chose unknown route %q", string(dec.Next))
		}
		log.Str("route", string(dec.Next)).Str("next", step.Next).Msg("Plan step")
		return step, nil
	})
}

// ===================================
// Extractor
// ===================================

// NewExtractorNode runs the pending extraction requests, one table per call.
func NewExtractorNode(d *Deps) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ *model.Step) (*model.Step, error) {
		view, _, err := readState(ctx)
		if err != nil {
			return nil, err
		}
		delta := &model.Delta{}
		step := &model.Step{Next: NodeGate, Delta: delta}

		if len(view.Pending) == 0 {
			delta.Calls = []model.ToolCall{{
				Function:  tools.ToolExtractTable,
				Arguments: map[string]any{},
				Result:    model.ErrorResult("no pending extraction request", nil),
			}}
			d.Transcripts.RecordCalls(ctx, view.SessionID, view.Turn, NodeExtractor, delta.Calls)
			logx.Warn().Str("session_id", view.SessionID).Int("turn", view.Turn).Msg("Extractor routed with nothing pending")
			return step, nil
		}

		pending := view.Pending
		if limit := normalizeMaxRequests(d.Orchestrator.MaxRequestsPerTurn); len(pending) > limit {
			pending = pending[:limit]
		}
		reqs := make([]tools.Request, 0, len(pending))
		for _, p := range pending {
			reqs = append(reqs, tools.Request{Name: tools.ToolExtractTable, Arguments: extractionArguments(p)})
		}
		ev, err := d.Executor.Run(ctx, view, reqs)
		if err != nil {
			return nil, err
		}
		delta.Calls = ev.Calls
		delta.Fragments = ev.Fragments
		delta.Consumed = len(pending)
		d.Transcripts.RecordCalls(ctx, view.SessionID, view.Turn, NodeExtractor, ev.Calls)

		logx.Debug().
			Str("session_id", view.SessionID).
			Int("turn", view.Turn).
			Int("requests", len(reqs)).
			Int("fragments", len(ev.Fragments)).
			Int("still_pending", len(view.Pending)-len(pending)).
			Msg("Extraction round done")
		return step, nil
	})
}

// ===================================
// Analyzer
// ===================================

// NewAnalyzerNode asks the Analyst whether the evidence suffices. When it does,
// metrics are computed and the answer is recorded; otherwise retrievals run
// now and extractions are queued for the extractor.
func NewAnalyzerNode(d *Deps) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ *model.Step) (*model.Step, error) {
		view, deadline, err := readState(ctx)
		if err != nil {
			return nil, err
		}
		delta := &model.Delta{}
		step := &model.Step{Next: NodeGate, Delta: delta}

		callCtx, cancel := withDeadline(ctx, deadline)
		a, err := retry.Do(callCtx, d.OraclePolicy, NodeAnalyzer, func(ctx context.Context) (*model.Analysis, error) {
			return d.Analyst.Analyze(ctx, view)
		})
		cancel()
		d.Transcripts.RecordAnalysis(ctx, view.SessionID, view.Turn, a, err)

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if fatal := asFatal(err); fatal != nil {
				delta.Fatal = fatal
				return step, nil
			}
			delta.Calls = []model.ToolCall{oracleFailure(FunctionAnalyze, view.Turn, err)}
			logx.Warn().Err(err).Str("session_id", view.SessionID).Int("turn", view.Turn).Msg("Analyst failed - continuing")
			return step, nil
		}
		delta.Analysis = a
		delta.CostUSD = a.CostUSD
		known := view.FunctionsCalled

		if a.Sufficient {
			if a.Answer == "" {
				delta.Fatal = errx.Fatalf(errx.CodeMissingAnswer, "analysis marked sufficient at turn %d without an answer", view.Turn)
				return step, nil
			}
			calls, values := computeMetrics(d.Metrics, a.Metrics, view.Fragments)
			sources, dropped := filterSources(a.Sources, model.KnownIDs(known))
			if len(dropped) > 0 {
				logx.Warn().Str("session_id", view.SessionID).Strs("dropped", dropped).Msg("Sources not surfaced by any call were dropped")
			}
			delta.Calls = calls
			delta.Sufficient = true
			delta.Answer = a.Answer
			delta.Sources = sources
			delta.Metrics = values
			d.Transcripts.RecordCalls(ctx, view.SessionID, view.Turn, NodeAnalyzer, calls)
			step.Next = NodeFinalizer

			logx.Info().Str("session_id", view.SessionID).Int("turn", view.Turn).Strs("sources", sources).Msg("Evidence sufficient")
			return step, nil
		}

		limit := normalizeMaxRequests(d.Orchestrator.MaxRequestsPerTurn)
		retrievals := a.Retrievals
		if len(retrievals) > limit {
			retrievals = retrievals[:limit]
		}
		extractions := a.Extractions
		if room := limit - len(retrievals); len(extractions) > room {
			extractions = extractions[:room]
		}
		var skipped []model.ToolCall
		for _, r := range a.Retrievals[len(retrievals):] {
			skipped = append(skipped, unexecutedCall(r.Function, retrievalArguments(r), reasonRequestLimit))
		}
		for _, r := range a.Extractions[len(extractions):] {
			skipped = append(skipped, unexecutedCall(tools.ToolExtractTable, extractionArguments(r), reasonRequestLimit))
		}
		if len(skipped) > 0 {
			logx.Warn().Str("session_id", view.SessionID).Int("skipped", len(skipped)).Int("limit", limit).Msg("Requests over the per-turn limit were not executed")
		}

		reqs := make([]tools.Request, 0, len(retrievals))
		for _, r := range retrievals {
			reqs = append(reqs, tools.Request{Name: r.Function, Arguments: retrievalArguments(r)})
		}
		ev, err := d.Executor.Run(ctx, view, reqs)
		if err != nil {
			return nil, err
		}
		delta.Calls = append(ev.Calls, skipped...)
		delta.Passages = ev.Passages
		delta.Candidates = ev.Candidates
		delta.Queued = extractions
		d.Transcripts.RecordCalls(ctx, view.SessionID, view.Turn, NodeAnalyzer, delta.Calls)

		if a.Answer != "" {
			all := append(append([]model.ToolCall(nil), known...), ev.Calls...)
			delta.PartialAnswer = a.Answer
			delta.PartialSources, _ = filterSources(a.Sources, model.KnownIDs(all))
		}

		logx.Debug().
			Str("session_id", view.SessionID).
			Int("turn", view.Turn).
			Int("retrievals", len(retrievals)).
			Int("queued_extractions", len(extractions)).
			Msg("Evidence insufficient")
		return step, nil
	})
}

// ===================================
// Finalizer
// ===================================

// NewFinalizerNode assembles the schema-exact answer, or surfaces the fatal
// error that ended the session.
func NewFinalizerNode(d *Deps) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, _ *model.Step) (*model.Outcome, error) {
		var out *model.Outcome
		var sessionID string
		var turn int
		var abandoned []model.ToolCall
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.TurnState) error {
			if s.Fatal == nil {
				abandoned = abandonPending(s)
			}
			out = finalize(s, d.now())
			sessionID, turn = s.SessionID, s.Turn
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access state: %w", err)
		}
		if len(abandoned) > 0 {
			d.Transcripts.RecordCalls(ctx, sessionID, turn, NodeFinalizer, abandoned)
		}
		if out.Fatal != nil {
			logx.Warn().Err(out.Fatal).Str("session_id", sessionID).Int("turn", turn).Str("code", string(out.Fatal.Code)).Msg("Session ended by contract violation")
			d.Transcripts.RecordError(ctx, sessionID, turn, out.Fatal)
		} else {
			d.Transcripts.RecordResult(ctx, out.Result)
		}
		return out, nil
	})
}
