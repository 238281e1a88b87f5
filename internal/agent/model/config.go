package model

import (
	"time"

	"github.com/hybridqa-core/server/internal/core/retry"
)

// ================ Config ================
type PlannerModelConfig struct {
	Model       string  `envconfig:"PLANNER_MODEL" default:"gemini-2.5-flash-lite"`
	MaxTokens   int     `envconfig:"PLANNER_MAX_TOKENS" default:"1024"`
	Temperature float32 `envconfig:"PLANNER_TEMPERATURE" default:"0"`
}

type AnalysisModelConfig struct {
	Model       string  `envconfig:"ANALYSIS_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"ANALYSIS_MAX_TOKENS" default:"4096"`
	Temperature float32 `envconfig:"ANALYSIS_TEMPERATURE" default:"0.1"`
}

// OrchestratorConfig bounds a single question session.
type OrchestratorConfig struct {
	MaxHops            int           `envconfig:"ORCHESTRATOR_MAX_HOPS" default:"8"`
	MaxHopsCeiling     int           `envconfig:"ORCHESTRATOR_MAX_HOPS_CEILING" default:"32"`
	TimeBudget         time.Duration `envconfig:"ORCHESTRATOR_TIME_BUDGET" default:"3m"`
	MaxRequestsPerTurn int           `envconfig:"ORCHESTRATOR_MAX_REQUESTS_PER_TURN" default:"6"`
	TopK               int           `envconfig:"RETRIEVAL_TOP_K" default:"5"`
}

// DefaultMaxHops applies when neither the session nor the config sets a bound.
const DefaultMaxHops = 8

// Ceiling is the largest hop bound any session may run with. It never drops
// below MaxHops, and a non-positive ceiling means MaxHops.
func (c OrchestratorConfig) Ceiling() int {
	ceiling := max(c.MaxHopsCeiling, c.MaxHops)
	if ceiling <= 0 {
		ceiling = DefaultMaxHops
	}
	return ceiling
}

// ClampHops resolves the hop bound for one session: zero or negative falls
// back to MaxHops and anything above Ceiling is cut to it.
func (c OrchestratorConfig) ClampHops(requested int) int {
	hops := requested
	if hops <= 0 {
		hops = c.MaxHops
	}
	if hops <= 0 {
		hops = DefaultMaxHops
	}
	return min(hops, c.Ceiling())
}

type OracleConfig struct {
	Timeout     time.Duration `envconfig:"ORACLE_TIMEOUT" default:"45s"`
	MaxAttempts int           `envconfig:"ORACLE_MAX_ATTEMPTS" default:"3"`
	BackoffBase time.Duration `envconfig:"ORACLE_BACKOFF_BASE" default:"500ms"`
	BackoffMax  time.Duration `envconfig:"ORACLE_BACKOFF_MAX" default:"8s"`
}

// Policy converts the oracle settings into a retry policy.
func (c OracleConfig) Policy() retry.Policy {
	return retry.Policy{
		Attempts:  c.MaxAttempts,
		Timeout:   c.Timeout,
		BaseDelay: c.BackoffBase,
		MaxDelay:  c.BackoffMax,
	}
}

type ExtractConfig struct {
	FuzzyThreshold float64 `envconfig:"EXTRACT_FUZZY_THRESHOLD" default:"0.8"`
}

type MetricsConfig struct {
	MissingValues string `envconfig:"METRICS_MISSING_VALUES" default:"skip"`
}

type EmbeddingConfig struct {
	Provider   string `envconfig:"EMBEDDING_PROVIDER" default:"hash"`
	Model      string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	Dimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"256"`
}

type CorpusConfig struct {
	Dir        string `envconfig:"CORPUS_DIR" default:"data"`
	Format     string `envconfig:"CORPUS_FORMAT" default:"hybridqa"`
	Generation string `envconfig:"CORPUS_GENERATION" default:"v1"`
}

type TranscriptConfig struct {
	TTL time.Duration `envconfig:"TRANSCRIPT_TTL" default:"24h"`
}
