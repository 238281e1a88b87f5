package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"
	"google.golang.org/genai"

	"github.com/hybridqa-core/server/internal/agent/graph/nodes"
	"github.com/hybridqa-core/server/internal/agent/graph/observers"
	"github.com/hybridqa-core/server/internal/agent/graph/tools"
	"github.com/hybridqa-core/server/internal/agent/graph/transcripts"
	"github.com/hybridqa-core/server/internal/agent/model"
	"github.com/hybridqa-core/server/internal/core/retry"
	"github.com/hybridqa-core/server/internal/metrics"
	logx "github.com/hybridqa-core/server/pkg/logger"
)

// Runner executes one question session on the compiled graph. It is safe
// for concurrent use: every Invoke gets its own TurnState.
type Runner interface {
	// Invoke returns the session Result, or a *errx.Error when a collaborator
	// violated its contract.
	Invoke(ctx context.Context, in model.QueryInput) (*model.Result, error)
}

// Config holds everything needed to compose the reasoning graph end-to-end
// over Gemini oracles. This is a convenience layer over GraphConfig that
// also constructs the chat models.
type Config struct {
	Client        *genai.Client
	PlannerModel  model.PlannerModelConfig
	AnalysisModel model.AnalysisModelConfig
	Orchestrator  model.OrchestratorConfig
	Oracle        model.OracleConfig
	Metrics       model.MetricsConfig

	Registry       *tools.Registry
	TranscriptRepo model.TranscriptRepository
}

// GraphConfig holds all configuration needed to build the graph
type GraphConfig struct {
	Planner      model.Planner
	Analyst      model.Analyst
	Registry     *tools.Registry
	Metrics      *metrics.Calculator
	Transcripts  *transcripts.TranscriptManager
	Orchestrator model.OrchestratorConfig
	OraclePolicy retry.Policy
	// Now is the session clock; defaults to time.Now.
	Now func() time.Time
}

// GraphBuilder handles the construction of the reasoning graph
type GraphBuilder struct {
	deps  *nodes.Deps
	graph *compose.Graph[model.QueryInput, *model.Outcome]
}

type graphRunner struct {
	runnable compose.Runnable[model.QueryInput, *model.Outcome]
}

func (r *graphRunner) Invoke(ctx context.Context, in model.QueryInput) (*model.Result, error) {
	out, err := r.runnable.Invoke(ctx, in, compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("reasoning graph: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("reasoning graph: no outcome")
	}
	if out.Fatal != nil {
		return nil, out.Fatal
	}
	return out.Result, nil
}

// BuildReasoningGraph creates the Gemini oracles, builds the graph, and returns a Runner.
func BuildReasoningGraph(ctx context.Context, cfg Config) (Runner, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("gemini client is nil")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is nil")
	}

	cms, err := nodes.NewChatModels(ctx, cfg.Client, nodes.ChatModelConfig{
		Planner:  &cfg.PlannerModel,
		Analysis: &cfg.AnalysisModel,
	})
	if err != nil {
		return nil, err
	}

	policy, err := metrics.ParsePolicy(cfg.Metrics.MissingValues)
	if err != nil {
		return nil, err
	}

	runner, err := NewRunner(ctx, &GraphConfig{
		Planner:      nodes.NewChatPlanner(cms.Planner, cms.PlannerModelName),
		Analyst:      nodes.NewChatAnalyst(cms.Analysis, cms.AnalysisModelName, cfg.Orchestrator.MaxRequestsPerTurn),
		Registry:     cfg.Registry,
		Metrics:      metrics.New(policy),
		Transcripts:  transcripts.NewTranscriptManager(cfg.TranscriptRepo),
		Orchestrator: cfg.Orchestrator,
		OraclePolicy: cfg.Oracle.Policy(),
	})
	if err != nil {
		return nil, err
	}

	logx.Debug().Msg("Reasoning graph built successfully")
	return runner, nil
}

// NewRunner compiles the graph for the given oracles.
func NewRunner(ctx context.Context, config *GraphConfig) (Runner, error) {
	runnable, err := BuildGraph(ctx, config)
	if err != nil {
		return nil, err
	}
	return &graphRunner{runnable: runnable}, nil
}

// BuildGraph constructs and returns the compiled reasoning graph
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.QueryInput, *model.Outcome], error) {
	// Basic config validation
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.Planner == nil || config.Analyst == nil {
		return nil, fmt.Errorf("planner and analyst are required")
	}
	if config.Registry == nil {
		return nil, fmt.Errorf("tool registry is nil")
	}

	executor, err := tools.NewExecutor(ctx, config.Registry)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to create tool executor")
		return nil, err
	}
	calc := config.Metrics
	if calc == nil {
		calc = metrics.New(metrics.MissingSkip)
	}
	policy := config.OraclePolicy
	if policy.Attempts <= 0 {
		policy = retry.DefaultPolicy
	}

	builder := &GraphBuilder{
		deps: &nodes.Deps{
			Planner:      config.Planner,
			Analyst:      config.Analyst,
			Executor:     executor,
			Metrics:      calc,
			Transcripts:  config.Transcripts,
			Orchestrator: config.Orchestrator,
			OraclePolicy: policy,
			Now:          config.Now,
		},
		graph: compose.NewGraph[model.QueryInput, *model.Outcome](
			compose.WithGenLocalState(func(ctx context.Context) *model.TurnState {
				return &model.TurnState{}
			}),
		),
	}

	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}
	if err := builder.addBranches(); err != nil {
		return nil, err
	}

	return builder.compile(ctx)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	apply := compose.WithStatePostHandler(nodes.NewApplyStepPostHandler())

	steps := []struct {
		key    string
		lambda *compose.Lambda
		opts   []compose.GraphAddNodeOpt
	}{
		{nodes.NodeValidator, nodes.NewValidatorNode(b.deps), []compose.GraphAddNodeOpt{
			compose.WithStatePreHandler(nodes.NewValidatorPreHandler(b.deps)),
			apply,
		}},
		{nodes.NodeGate, nodes.NewGateNode(b.deps), []compose.GraphAddNodeOpt{apply}},
		{nodes.NodePlanner, nodes.NewPlannerNode(b.deps), []compose.GraphAddNodeOpt{apply}},
		{nodes.NodeExtractor, nodes.NewExtractorNode(b.deps), []compose.GraphAddNodeOpt{apply}},
		{nodes.NodeAnalyzer, nodes.NewAnalyzerNode(b.deps), []compose.GraphAddNodeOpt{apply}},
		{nodes.NodeFinalizer, nodes.NewFinalizerNode(b.deps), nil},
	}
	for _, s := range steps {
		if err := b.graph.AddLambdaNode(s.key, s.lambda, s.opts...); err != nil {
			logx.Error().Err(err).Str("node", s.key).Msg("Error adding node")
			return fmt.Errorf("error adding node %s: %w", s.key, err)
		}
	}
	return nil
}

// addEdges creates the unconditional connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeValidator},
		{nodes.NodeValidator, nodes.NodeGate},
		{nodes.NodeExtractor, nodes.NodeGate},
		{nodes.NodeFinalizer, compose.END},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			return fmt.Errorf("error adding edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches creates the routing branches. Each enumerates its legal
// targets, so a step naming any other node fails the run.
func (b *GraphBuilder) addBranches() error {
	branches := []struct {
		from    string
		targets []string
	}{
		{nodes.NodeGate, []string{nodes.NodePlanner, nodes.NodeFinalizer}},
		{nodes.NodePlanner, []string{nodes.NodeExtractor, nodes.NodeAnalyzer, nodes.NodeGate, nodes.NodeFinalizer}},
		{nodes.NodeAnalyzer, []string{nodes.NodeGate, nodes.NodeFinalizer}},
	}
	for _, br := range branches {
		ends := make(map[string]bool, len(br.targets))
		for _, t := range br.targets {
			ends[t] = true
		}
		if err := b.graph.AddBranch(br.from, compose.NewGraphBranch(nodes.NewStepCondition(), ends)); err != nil {
			logx.Error().Err(err).Str("node", br.from).Msg("Error adding branch")
			return fmt.Errorf("error adding %s branch: %w", br.from, err)
		}
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.QueryInput, *model.Outcome], error) {
	// Each turn is gate, planner and one agent. The step limit backs up the
	// gate's hop check.
	// ClampHops never exceeds Ceiling, so no session outruns this limit.
	maxSteps := 3*b.deps.Orchestrator.Ceiling() + 8

	runnable, err := b.graph.Compile(ctx,
		compose.WithGraphName("hybridqa_reasoning"),
		compose.WithNodeTriggerMode(compose.AnyPredecessor),
		compose.WithMaxRunSteps(maxSteps),
	)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Int("max_run_steps", maxSteps).Msg("Graph compiled successfully")
	return runnable, nil
}
