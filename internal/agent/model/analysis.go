package model

import "context"

// PlanDecision is the Planner output. Next is validated by the orchestrator.
type PlanDecision struct {
	Next      Route  `json:"next"`
	Rationale string `json:"rationale"`

	CostUSD float64 `json:"-"`
}

// MetricRequest asks for one derived value. Values are taken verbatim when
// given, otherwise from the extracted cells of TableID/Column. Set operations
// use Left and Right.
type MetricRequest struct {
	Name    string   `json:"name"`
	Op      string   `json:"op"`
	Values  []string `json:"values,omitempty"`
	TableID string   `json:"table_id,omitempty"`
	Column  string   `json:"column,omitempty"`
	Left    []string `json:"left,omitempty"`
	Right   []string `json:"right,omitempty"`
}

// Analysis is the Analysis Agent output for one turn.
type Analysis struct {
	Sufficient  bool                `json:"sufficient"`
	Rationale   string              `json:"rationale"`
	Retrievals  []RetrievalRequest  `json:"retrievals,omitempty"`
	Extractions []ExtractionRequest `json:"extractions,omitempty"`
	Metrics     []MetricRequest     `json:"metrics,omitempty"`
	Answer      string              `json:"answer,omitempty"`
	Sources     []string            `json:"sources,omitempty"`

	CostUSD float64 `json:"-"`
}

func (a *Analysis) clone() *Analysis {
	if a == nil {
		return nil
	}
	c := *a
	c.Retrievals = append([]RetrievalRequest(nil), a.Retrievals...)
	c.Extractions = append([]ExtractionRequest(nil), a.Extractions...)
	c.Sources = append([]string(nil), a.Sources...)
	c.Metrics = make([]MetricRequest, len(a.Metrics))
	for i, m := range a.Metrics {
		m.Values = append([]string(nil), m.Values...)
		m.Left = append([]string(nil), m.Left...)
		m.Right = append([]string(nil), m.Right...)
		c.Metrics[i] = m
	}
	return &c
}

// Planner picks the next agent from a read view of the session.
type Planner interface {
	Plan(ctx context.Context, view TurnView) (*PlanDecision, error)
}

// Analyst judges sufficiency and issues evidence requests.
type Analyst interface {
	Analyze(ctx context.Context, view TurnView) (*Analysis, error)
}
