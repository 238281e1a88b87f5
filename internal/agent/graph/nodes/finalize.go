package nodes

import (
	"fmt"
	"strings"
	"time"

	"github.com/hybridqa-core/server/internal/agent/graph/tools"
	"github.com/hybridqa-core/server/internal/agent/model"
	logx "github.com/hybridqa-core/server/pkg/logger"
)

const (
	maxBestEffortRunes = 300
	noEvidenceAnswer   = "No evidence was gathered before the session ended."
)

// finalize turns the state into the session outcome. It runs inside a state
// handler.
func finalize(s *model.TurnState, now time.Time) *model.Outcome {
	if s.Fatal != nil {
		return &model.Outcome{Fatal: s.Fatal}
	}
	view := s.View()
	answer := model.FinalAnswer{
		Reasoning:       view.Reasoning,
		FunctionsCalled: view.FunctionsCalled,
		Metrics:         map[string]any{},
		Sources:         []string{},
	}
	if answer.Reasoning == nil {
		answer.Reasoning = []string{}
	}
	if answer.FunctionsCalled == nil {
		answer.FunctionsCalled = []model.ToolCall{}
	}

	res := &model.Result{
		SessionID: s.SessionID,
		Turns:     s.Turn,
		Elapsed:   now.Sub(s.StartedAt),
		CostUSD:   s.CostUSD,
	}

	if s.Sufficient {
		res.Status = model.StatusAnswered
		for k, v := range model.CloneMap(s.Metrics) {
			answer.Metrics[k] = v
		}
		answer.Answer = s.Answer
		answer.Sources = append(answer.Sources, s.Sources...)
	} else {
		termination := s.Termination
		if termination == "" {
			termination = model.TerminationMaxHops
		}
		res.Status = model.StatusFailed
		if s.HasEvidence() {
			res.Status = model.StatusBounded
		}
		answer.Metrics["confidence"] = "low"
		answer.Metrics["partial"] = true
		answer.Metrics["termination"] = termination
		answer.Answer = bestEffortAnswer(s)
		answer.Sources = append(answer.Sources, bestEffortSources(s)...)
	}
	res.Answer = answer

	logx.Info().
		Str("session_id", s.SessionID).
		Str("status", string(res.Status)).
		Int("turns", res.Turns).
		Int("functions_called", len(answer.FunctionsCalled)).
		Dur("elapsed", res.Elapsed).
		Float64("cost_usd", res.CostUSD).
		Msg("Session finished")
	return &model.Outcome{Result: res}
}

// abandonPending logs every queued extraction that the session ended before
// running and empties the queue.
func abandonPending(s *model.TurnState) []model.ToolCall {
	if len(s.Pending) == 0 {
		return nil
	}
	calls := make([]model.ToolCall, 0, len(s.Pending))
	for _, p := range s.Pending {
		calls = append(calls, unexecutedCall(tools.ToolExtractTable, extractionArguments(p), reasonSessionEnded))
	}
	s.Apply(&model.Delta{Calls: calls, Consumed: len(s.Pending)})
	return calls
}

func bestEffortAnswer(s *model.TurnState) string {
	if s.PartialAnswer != "" {
		return s.PartialAnswer
	}
	if n := len(s.Fragments); n > 0 {
		f := s.Fragments[n-1]
		name := f.Title
		if name == "" {
			name = f.TableID
		}
		if len(f.Rows) > 0 {
			return clipRunes(fmt.Sprintf("Partial evidence from %s: %s", name, strings.Join(f.Rows[0], ", ")))
		}
	}
	if len(s.Passages) > 0 {
		return clipRunes("Partial evidence: " + s.Passages[0].Text)
	}
	if len(s.Candidates) > 0 {
		names := make([]string, 0, len(s.Candidates))
		for _, c := range s.Candidates {
			name := c.Title
			if name == "" {
				name = c.ID
			}
			names = append(names, name)
		}
		return clipRunes("Candidate tables: " + strings.Join(names, "; "))
	}
	return noEvidenceAnswer
}

// bestEffortSources prefers the analyst's partial sources, then the tables
// and passages evidence came from.
func bestEffortSources(s *model.TurnState) []string {
	known := s.KnownIDs()
	if len(s.PartialSources) > 0 {
		kept, _ := filterSources(s.PartialSources, known)
		return kept
	}
	var ids []string
	for _, f := range s.Fragments {
		ids = append(ids, f.TableID)
	}
	for _, p := range s.Passages {
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 && len(s.Candidates) > 0 {
		ids = append(ids, s.Candidates[0].ID)
	}
	kept, _ := filterSources(ids, known)
	return kept
}

func clipRunes(s string) string {
	r := []rune(s)
	if len(r) <= maxBestEffortRunes {
		return s
	}
	return string(r[:maxBestEffortRunes]) + "..."
}
