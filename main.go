package main

import (
	"fmt"
	"os"

	"github.com/hybridqa-core/server/internal/agent/model"
	"github.com/hybridqa-core/server/internal/core"
	pkgredis "github.com/hybridqa-core/server/pkg/redis"
)

// AppConfig defines all configurable parameters of the service,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Redis pkgredis.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Agent configs
	Planner      model.PlannerModelConfig
	Analysis     model.AnalysisModelConfig
	Orchestrator model.OrchestratorConfig
	Oracle       model.OracleConfig
	Extract      model.ExtractConfig
	Metrics      model.MetricsConfig

	// Retrieval
	Embedding  model.EmbeddingConfig
	Corpus     model.CorpusConfig
	Transcript model.TranscriptConfig
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
