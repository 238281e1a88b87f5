package model

import (
	"strings"
	"time"

	errx "github.com/hybridqa-core/server/internal/core/error"
)

// Route is the closed set of Planner routing targets.
type Route string

const (
	RouteExtract Route = "extract"
	RouteAnalyze Route = "analyze"
	RouteDone    Route = "done"
)

// ParseRoute normalises case and whitespace only. Callers must check Valid.
func ParseRoute(s string) Route {
	return Route(strings.ToLower(strings.TrimSpace(s)))
}

// Valid reports whether r is one of the three routing targets.
func (r Route) Valid() bool {
	switch r {
	case RouteExtract, RouteAnalyze, RouteDone:
		return true
	}
	return false
}

// QueryInput represents the input for one question session.
type QueryInput struct {
	SessionID  string        `json:"session_id,omitempty"`
	Question   Question      `json:"question"`
	MaxHops    int           `json:"max_hops,omitempty"`
	TimeBudget time.Duration `json:"time_budget,omitempty"`
}

// TurnState stores per-session state for the Eino Graph.
// Concurrency model:
//   - This struct is registered as Graph Local State via compose.WithGenLocalState.
//   - All reads/writes happen only inside Eino state handlers:
//     WithStatePreHandler, WithStatePostHandler, or compose.ProcessState.
//   - Eino serializes access to state within these handlers, so no additional
//     mutex/atomic is required as long as you never touch it outside handlers.
//   - Agents never see TurnState. They get a TurnView copy and return a Delta
//     that a post-handler merges through Apply.
type TurnState struct {
	SessionID string
	Question  Question
	MaxHops   int
	StartedAt time.Time
	Deadline  time.Time

	Turn            int
	Reasoning       []string
	FunctionsCalled []ToolCall // append-only

	Fragments  []TableFragment
	Passages   []Passage
	Candidates []TableCandidate
	Pending    []ExtractionRequest

	Analysis   *Analysis
	Sufficient bool // terminal once set
	Answer     string
	Sources    []string
	Metrics    map[string]any

	PartialAnswer  string
	PartialSources []string

	Fatal       *errx.Error
	Termination string

	// Accumulated total LLM cost (USD) across oracle invocations for this session
	CostUSD float64
}

// Delta is what one node contributes to TurnState.
type Delta struct {
	AdvanceTurn bool
	Reasoning   string

	Calls      []ToolCall
	Fragments  []TableFragment
	Passages   []Passage
	Candidates []TableCandidate

	// Consumed pending extraction requests are dropped from the front of the queue.
	Consumed int
	Queued   []ExtractionRequest

	Analysis *Analysis

	Sufficient bool
	Answer     string
	Sources    []string
	Metrics    map[string]any

	PartialAnswer  string
	PartialSources []string

	Fatal       *errx.Error
	Termination string
	CostUSD     float64
}

// Step is passed between graph nodes. Next names the node a branch routes to.
type Step struct {
	Next      string
	Route     Route
	Rationale string
	Delta     *Delta
}

// Apply merges a delta. It is only called from state handlers.
func (s *TurnState) Apply(d *Delta) {
	if d == nil {
		return
	}
	s.CostUSD += d.CostUSD
	if d.AdvanceTurn {
		s.Turn++
	}
	if d.Reasoning != "" {
		s.Reasoning = append(s.Reasoning, d.Reasoning)
	}
	s.FunctionsCalled = append(s.FunctionsCalled, cloneCalls(d.Calls)...)

	for _, f := range d.Fragments {
		s.Fragments = append(s.Fragments, f.clone())
	}
	for _, p := range d.Passages {
		if !s.hasPassage(p.ID) {
			p.TableIDs = append([]string(nil), p.TableIDs...)
			s.Passages = append(s.Passages, p)
		}
	}
	for _, c := range d.Candidates {
		if !s.hasCandidate(c.ID) {
			c.Columns = append([]string(nil), c.Columns...)
			s.Candidates = append(s.Candidates, c)
		}
	}

	if d.Consumed > 0 {
		n := min(d.Consumed, len(s.Pending))
		s.Pending = append([]ExtractionRequest(nil), s.Pending[n:]...)
	}
	s.Pending = append(s.Pending, d.Queued...)

	if d.Analysis != nil {
		s.Analysis = d.Analysis.clone()
	}
	if d.PartialAnswer != "" {
		s.PartialAnswer = d.PartialAnswer
		s.PartialSources = append([]string(nil), d.PartialSources...)
	}
	if d.Sufficient && !s.Sufficient {
		s.Sufficient = true
		s.Answer = d.Answer
		s.Sources = append([]string(nil), d.Sources...)
		s.Metrics = CloneMap(d.Metrics)
	}
	if d.Fatal != nil && s.Fatal == nil {
		s.Fatal = d.Fatal
	}
	if d.Termination != "" && s.Termination == "" {
		s.Termination = d.Termination
	}
}

func (s *TurnState) hasPassage(id string) bool {
	for _, p := range s.Passages {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (s *TurnState) hasCandidate(id string) bool {
	for _, c := range s.Candidates {
		if c.ID == id {
			return true
		}
	}
	return false
}

// HasEvidence reports whether any table, fragment or passage was gathered.
func (s *TurnState) HasEvidence() bool {
	return len(s.Fragments) > 0 || len(s.Passages) > 0 || len(s.Candidates) > 0
}

// KnownIDs returns every identifier surfaced by a functions_called result.
func (s *TurnState) KnownIDs() map[string]bool {
	return KnownIDs(s.FunctionsCalled)
}

// KnownIDs collects the identifiers surfaced by the given calls.
func KnownIDs(calls []ToolCall) map[string]bool {
	out := map[string]bool{}
	for _, c := range calls {
		for _, id := range c.IDs {
			out[id] = true
		}
	}
	return out
}

// TurnView is the read-only snapshot handed to agents.
type TurnView struct {
	SessionID       string
	Question        Question
	Turn            int
	MaxHops         int
	Reasoning       []string
	FunctionsCalled []ToolCall
	Fragments       []TableFragment
	Passages        []Passage
	Candidates      []TableCandidate
	Pending         []ExtractionRequest
	Analysis        *Analysis
	Sufficient      bool
}

// View deep copies the state for an agent.
func (s *TurnState) View() TurnView {
	v := TurnView{
		SessionID:       s.SessionID,
		Question:        s.Question,
		Turn:            s.Turn,
		MaxHops:         s.MaxHops,
		Reasoning:       append([]string(nil), s.Reasoning...),
		FunctionsCalled: cloneCalls(s.FunctionsCalled),
		Pending:         append([]ExtractionRequest(nil), s.Pending...),
		Analysis:        s.Analysis.clone(),
		Sufficient:      s.Sufficient,
	}
	for _, f := range s.Fragments {
		v.Fragments = append(v.Fragments, f.clone())
	}
	for _, p := range s.Passages {
		p.TableIDs = append([]string(nil), p.TableIDs...)
		v.Passages = append(v.Passages, p)
	}
	for _, c := range s.Candidates {
		c.Columns = append([]string(nil), c.Columns...)
		v.Candidates = append(v.Candidates, c)
	}
	return v
}
