package transcripts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hybridqa-core/server/internal/agent/model"
	logx "github.com/hybridqa-core/server/pkg/logger"
)

// TranscriptManager records the replayable events of a session. Recording
// is best-effort: a repository failure is logged and never ends a session.
// A nil manager or repository records nothing.
type TranscriptManager struct {
	repo model.TranscriptRepository
	now  func() time.Time
}

func NewTranscriptManager(repo model.TranscriptRepository) *TranscriptManager {
	return &TranscriptManager{repo: repo, now: time.Now}
}

// Reset starts a fresh transcript for a session id a caller reuses. It
// returns the number of entries it dropped.
func (m *TranscriptManager) Reset(ctx context.Context, sessionID string) int {
	if m == nil || m.repo == nil || sessionID == "" {
		return 0
	}
	n, err := m.repo.Count(ctx, sessionID)
	if err != nil {
		logx.Warn().Err(err).Str("session_id", sessionID).Msg("Transcript count failed")
		return 0
	}
	if n == 0 {
		return 0
	}
	if err := m.repo.Clear(ctx, sessionID); err != nil {
		logx.Warn().Err(err).Str("session_id", sessionID).Msg("Transcript reset failed")
		return 0
	}
	logx.Info().Str("session_id", sessionID).Int("entries", n).Msg("Previous transcript replaced")
	return n
}

// =========== Oracle calls ===========
func (m *TranscriptManager) RecordPlan(ctx context.Context, sessionID string, turn int, dec *model.PlanDecision, err error) {
	payload := map[string]any{"decision": dec}
	if err != nil {
		payload["error"] = err.Error()
	}
	m.record(ctx, sessionID, model.EntryPlan, turn, "planner", payload)
}

func (m *TranscriptManager) RecordAnalysis(ctx context.Context, sessionID string, turn int, a *model.Analysis, err error) {
	payload := map[string]any{"analysis": a}
	if err != nil {
		payload["error"] = err.Error()
	}
	m.record(ctx, sessionID, model.EntryAnalysis, turn, "analyzer", payload)
}

// =========== Tool calls and outcome ===========
func (m *TranscriptManager) RecordCalls(ctx context.Context, sessionID string, turn int, node string, calls []model.ToolCall) {
	for _, c := range calls {
		m.record(ctx, sessionID, model.EntryTool, turn, node, c)
	}
}

func (m *TranscriptManager) RecordResult(ctx context.Context, res *model.Result) {
	if res == nil {
		return
	}
	m.record(ctx, res.SessionID, model.EntryFinal, res.Turns, "finalizer", res)
}

func (m *TranscriptManager) RecordError(ctx context.Context, sessionID string, turn int, err error) {
	if err == nil {
		return
	}
	m.record(ctx, sessionID, model.EntryError, turn, "", map[string]any{"error": err.Error()})
}

func (m *TranscriptManager) record(ctx context.Context, sessionID, kind string, turn int, node string, payload any) {
	if m == nil || m.repo == nil || sessionID == "" {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		logx.Warn().Err(err).Str("session_id", sessionID).Str("kind", kind).Msg("Transcript payload not serialisable")
		return
	}
	entry := model.TranscriptEntry{Kind: kind, Turn: turn, Node: node, Payload: b, At: m.now().UTC()}
	// Recording must not inherit a cancelled session context.
	if err := m.repo.Append(context.WithoutCancel(ctx), sessionID, entry); err != nil {
		logx.Warn().Err(err).Str("session_id", sessionID).Str("kind", kind).Msg("Transcript append failed")
	}
}
