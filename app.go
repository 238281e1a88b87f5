package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/genai"

	"github.com/hybridqa-core/server/internal/agent/graph"
	"github.com/hybridqa-core/server/internal/agent/graph/nodes"
	"github.com/hybridqa-core/server/internal/agent/graph/tools"
	"github.com/hybridqa-core/server/internal/agent/model"
	"github.com/hybridqa-core/server/internal/agent/repo"
	"github.com/hybridqa-core/server/internal/corpus"
	"github.com/hybridqa-core/server/internal/extract"
	"github.com/hybridqa-core/server/internal/index"
	logx "github.com/hybridqa-core/server/pkg/logger"
)

// app holds the process-wide collaborators shared by every session.
type app struct {
	cfg AppConfig

	corpus      *corpus.Repository
	rdb         *redis.Client
	client      *genai.Client
	index       *index.Lazy
	registry    *tools.Registry
	transcripts model.TranscriptRepository
}

// newApp loads the corpus and connects the optional services. Redis is used
// when REDIS_URL is set and the Gemini client when GEMINI_API_KEY is set.
func newApp(ctx context.Context, cfg AppConfig) (*app, error) {
	a := &app{cfg: cfg}

	corp, err := corpus.Load(cfg.Corpus)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	a.corpus = corp

	if cfg.Redis.Enabled() {
		rdb, err := cfg.Redis.New()
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.rdb = rdb
		a.transcripts = repo.NewRedisTranscriptRepository(rdb, cfg.Transcript.TTL)
		logx.Info().Msg("Connected to Redis successfully")
	}

	if cfg.APIKey != "" {
		client, err := nodes.NewGeminiClient(ctx, cfg.APIKey, cfg.BaseURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.client = client
	}

	embedders, err := index.NewEmbedders(cfg.Embedding, a.client)
	if err != nil {
		a.Close()
		return nil, err
	}
	opts := index.BuildOptions{Embedders: embedders}
	if a.rdb != nil {
		opts.Cache = index.NewRedisVectorCache(a.rdb)
	}
	a.index = index.NewLazy(func(ctx context.Context) (*index.Index, error) {
		return index.Build(ctx, corp, opts)
	})

	a.registry, err = tools.NewRegistry(ctx, tools.Deps{
		Repo:      corp,
		Index:     a.index,
		Extractor: extract.NewAgent(corp, cfg.Extract),
		TopK:      cfg.Orchestrator.TopK,
		Policy:    cfg.Oracle.Policy(),
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// warmIndex builds the retrieval index before sessions start, so the first
// retrieval does not pay for the build under a tool call deadline.
func (a *app) warmIndex(ctx context.Context) error {
	start := time.Now()
	idx, err := a.index.Get(ctx)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	logx.Info().
		Str("generation", idx.Generation()).
		Dur("took", time.Since(start)).
		Msg("Retrieval index ready")
	return nil
}

// runner builds the reasoning graph over Gemini oracles.
func (a *app) runner(ctx context.Context) (graph.Runner, error) {
	if a.client == nil {
		return nil, fmt.Errorf("GEMINI_API_KEY is required to answer questions")
	}
	if err := a.warmIndex(ctx); err != nil {
		return nil, err
	}
	return graph.BuildReasoningGraph(ctx, graph.Config{
		Client:         a.client,
		PlannerModel:   a.cfg.Planner,
		AnalysisModel:  a.cfg.Analysis,
		Orchestrator:   a.cfg.Orchestrator,
		Oracle:         a.cfg.Oracle,
		Metrics:        a.cfg.Metrics,
		Registry:       a.registry,
		TranscriptRepo: a.transcripts,
	})
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}
