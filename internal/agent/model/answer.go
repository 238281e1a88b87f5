package model

import (
	"time"

	errx "github.com/hybridqa-core/server/internal/core/error"
)

// FinalAnswer is the schema-exact session output.
type FinalAnswer struct {
	Reasoning       []string       `json:"reasoning"`
	FunctionsCalled []ToolCall     `json:"functions_called"`
	Metrics         map[string]any `json:"metrics"`
	Answer          string         `json:"answer"`
	Sources         []string       `json:"sources"`
}

// Status tells how a session ended.
type Status string

const (
	StatusAnswered Status = "answered"
	StatusBounded  Status = "bounded"
	StatusFailed   Status = "failed"
)

// Termination reasons recorded in metrics on bounded failure.
const (
	TerminationMaxHops    = "max_hops"
	TerminationTimeBudget = "time_budget"
)

// Result wraps the FinalAnswer with session bookkeeping.
type Result struct {
	SessionID string        `json:"session_id"`
	Status    Status        `json:"status"`
	Turns     int           `json:"turns"`
	Elapsed   time.Duration `json:"elapsed"`
	CostUSD   float64       `json:"cost_usd"`
	Answer    FinalAnswer   `json:"final_answer"`
}

// Outcome is the orchestrator graph output: a Result, or the fatal error
// that ended the session.
type Outcome struct {
	Result *Result
	Fatal  *errx.Error
}
