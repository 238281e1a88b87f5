package model

import (
	"context"
	"encoding/json"
	"time"
)

// Transcript entry kinds.
const (
	EntryPlan     = "plan"
	EntryAnalysis = "analysis"
	EntryTool     = "tool"
	EntryFinal    = "final"
	EntryError    = "error"
)

type TranscriptRepository interface {
	// Append adds one entry to the session transcript
	Append(ctx context.Context, sessionID string, entry TranscriptEntry) error

	// Load retrieves the full transcript of a session in append order
	Load(ctx context.Context, sessionID string) (*Transcript, error)

	// Clear removes the transcript of a session
	Clear(ctx context.Context, sessionID string) error

	// Count returns the number of entries recorded for the session
	Count(ctx context.Context, sessionID string) (int, error)
}

// TranscriptEntry is one replayable event of a session: an oracle call,
// a tool call or the final result.
type TranscriptEntry struct {
	Kind    string          `json:"kind"`
	Turn    int             `json:"turn"`
	Node    string          `json:"node,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// Transcript represents loaded session entries.
type Transcript struct {
	SessionID string
	Entries   []TranscriptEntry
}
