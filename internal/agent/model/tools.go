package model

import (
	"encoding/json"
	"fmt"
)

// ToolCall records one invocation in functions_called. Arguments and Result
// hold plain JSON values only, so a view can deep copy them.
type ToolCall struct {
	Function  string         `json:"function"`
	Arguments map[string]any `json:"arguments"`
	Result    map[string]any `json:"result"`

	// IDs lists the table and passage identifiers surfaced by Result.
	IDs []string `json:"-"`
}

// OK reports whether the result is a success payload.
func (c ToolCall) OK() bool {
	ok, _ := c.Result["ok"].(bool)
	return ok
}

// ExtractionRequest asks the extraction agent for a subset of one table.
type ExtractionRequest struct {
	TableID  string `json:"table_id"`
	Selector string `json:"selector"`
}

// RetrievalRequest asks the retrieval index for candidates.
type RetrievalRequest struct {
	Function string `json:"function"`
	Query    string `json:"query"`
}

// ErrorResult builds an error-shaped payload echoing the call arguments.
func ErrorResult(msg string, args map[string]any) map[string]any {
	out := map[string]any{"ok": false, "error": msg}
	for k, v := range args {
		if _, taken := out[k]; !taken {
			out[k] = v
		}
	}
	return out
}

// ToPayload normalises any JSON-serialisable value into a plain map.
func ToPayload(v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return CloneMap(t), nil
	case string:
		return DecodePayload(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return DecodePayload(string(b))
}

// DecodePayload parses a JSON object string; anything else is wrapped under "value".
func DecodePayload(s string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		var v any
		if err2 := json.Unmarshal([]byte(s), &v); err2 != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return map[string]any{"value": v}, nil
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// CloneMap deep copies a JSON-shaped map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

func cloneCalls(calls []ToolCall) []ToolCall {
	if calls == nil {
		return nil
	}
	out := make([]ToolCall, len(calls))
	for i, c := range calls {
		out[i] = ToolCall{
			Function:  c.Function,
			Arguments: CloneMap(c.Arguments),
			Result:    CloneMap(c.Result),
			IDs:       append([]string(nil), c.IDs...),
		}
	}
	return out
}
