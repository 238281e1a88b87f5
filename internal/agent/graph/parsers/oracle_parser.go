package parsers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/hybridqa-core/server/internal/agent/model"
	errx "github.com/hybridqa-core/server/internal/core/error"
	logx "github.com/hybridqa-core/server/pkg/logger"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 128 * 1024 // 128KB
	maxRequests   = 32
	maxRationale  = 4 * 1024
	maxErrSnippet = 200
)

type rawPlan struct {
	Next      *string `json:"next"`
	NextAgent *string `json:"next_agent"`
	Rationale string  `json:"rationale"`
}

type rawAnalysis struct {
	Sufficient  *bool                     `json:"sufficient"`
	Rationale   string                    `json:"rationale"`
	Retrievals  []model.RetrievalRequest  `json:"retrievals"`
	Extractions []model.ExtractionRequest `json:"extractions"`
	Metrics     []model.MetricRequest     `json:"metrics"`
	Answer      *string                   `json:"answer"`
	Sources     []string                  `json:"sources"`
}

// ParsePlanDecision decodes a planner reply. The route is returned as given;
// validating it against the closed set is the orchestrator's job.
func ParsePlanDecision(content string) (out *model.PlanDecision, err error) {
	defer recoverInto("plan_parser", &err, func() { out = nil })

	obj, err := extractObject(content)
	if err != nil {
		return nil, violation("plan", err)
	}
	var raw rawPlan
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, violation("plan", err)
	}
	next := raw.Next
	if next == nil {
		next = raw.NextAgent
	}
	if next == nil {
		return nil, violation("plan", fmt.Errorf("missing field next"))
	}
	return &model.PlanDecision{
		Next:      model.ParseRoute(*next),
		Rationale: clip(strings.TrimSpace(raw.Rationale), maxRationale),
	}, nil
}

// ParseAnalysis decodes an analyst reply and checks its shape.
func ParseAnalysis(content string) (out *model.Analysis, err error) {
	defer recoverInto("analysis_parser", &err, func() { out = nil })

	obj, err := extractObject(content)
	if err != nil {
		return nil, violation("analysis", err)
	}
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, violation("analysis", err)
	}
	if raw.Sufficient == nil {
		return nil, violation("analysis", fmt.Errorf("missing field sufficient"))
	}
	if n := len(raw.Retrievals) + len(raw.Extractions) + len(raw.Metrics); n > maxRequests {
		return nil, violation("analysis", fmt.Errorf("%d requests exceed the limit of %d", n, maxRequests))
	}

	a := &model.Analysis{
		Sufficient: *raw.Sufficient,
		Rationale:  clip(strings.TrimSpace(raw.Rationale), maxRationale),
	}
	if raw.Answer != nil {
		a.Answer = strings.TrimSpace(*raw.Answer)
	}
	for i, r := range raw.Retrievals {
		r.Function = strings.ToLower(strings.TrimSpace(r.Function))
		r.Query = strings.TrimSpace(r.Query)
		switch r.Function {
		case "retrieve_tables", "retrieve_wiki_passages":
		default:
			return nil, violation("analysis", fmt.Errorf("retrievals[%d]: unknown function %q", i, r.Function))
		}
		if r.Query == "" {
			return nil, violation("analysis", fmt.Errorf("retrievals[%d]: empty query", i))
		}
		a.Retrievals = append(a.Retrievals, r)
	}
	for i, e := range raw.Extractions {
		e.TableID = strings.TrimSpace(e.TableID)
		if e.TableID == "" {
			return nil, violation("analysis", fmt.Errorf("extractions[%d]: empty table_id", i))
		}
		if !utf8.ValidString(e.Selector) {
			return nil, violation("analysis", fmt.Errorf("extractions[%d]: invalid utf8 selector", i))
		}
		a.Extractions = append(a.Extractions, e)
	}
	for i, m := range raw.Metrics {
		m.Name = strings.TrimSpace(m.Name)
		m.Op = strings.ToLower(strings.TrimSpace(m.Op))
		if m.Name == "" || m.Op == "" {
			return nil, violation("analysis", fmt.Errorf("metrics[%d]: name and op are required", i))
		}
		a.Metrics = append(a.Metrics, m)
	}
	for _, s := range raw.Sources {
		if s = strings.TrimSpace(s); s != "" {
			a.Sources = append(a.Sources, s)
		}
	}
	return a, nil
}

// extractObject returns the outermost JSON object in content, skipping
// markdown fences and surrounding prose.
func extractObject(content string) (string, error) {
	if len(content) > maxContentLen {
		logx.Warn().
			Str("component", "oracle_parser").
			Int("max_len", maxContentLen).
			Int("orig_len", len(content)).
			Msg("content truncated due to size limit")
		content = clip(content, maxContentLen)
	}
	if !utf8.ValidString(content) {
		return "", fmt.Errorf("content is not valid utf8")
	}
	start := strings.Index(content, "{")
	if start < 0 {
		return "", fmt.Errorf("no json object in %q", safeSnippet(content))
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return content[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated json object in %q", safeSnippet(content[start:]))
}

func violation(what string, err error) error {
	return errx.NewFatal(errx.CodeSchemaViolation, fmt.Errorf("%s output: %w", what, err))
}

func recoverInto(component string, err *error, reset func()) {
	if r := recover(); r != nil {
		logx.Error().Str("component", component).Msgf("panic recovered: %v", r)
		*err = errx.New(fmt.Errorf("%s panic", component), http.StatusInternalServerError, errx.SystemErrorMessage)
		reset()
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return clip(s, maxErrSnippet)
}
