package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Selector is the parsed form of a natural-language extraction request.
// An empty Selector selects the whole table.
type Selector struct {
	Columns []string          `json:"columns,omitempty"`
	Rows    []string          `json:"rows,omitempty"`
	Where   map[string]string `json:"where,omitempty"`
	Indices []int             `json:"indices,omitempty"`
}

// IsZero reports whether no clause was given.
func (s Selector) IsZero() bool {
	return len(s.Columns) == 0 && len(s.Rows) == 0 && len(s.Where) == 0 && len(s.Indices) == 0
}

// ParseSelector accepts a JSON object or the clause form
// "columns: A, B; rows: r1; where: Col=Val; index: 0, 3". Values holding a
// comma or semicolon are written in double quotes, as in
// `rows: "Herat, Afghanistan"`. Text without any recognised clause is a
// single row reference.
func ParseSelector(raw string) (Selector, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Selector{}, nil
	}
	if strings.HasPrefix(raw, "{") {
		var s Selector
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return Selector{}, fmt.Errorf("selector json: %w", err)
		}
		return s.clean(), nil
	}

	var (
		s       Selector
		clauses int
	)
	for _, part := range splitQuoted(raw, ';') {
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		values := splitList(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "columns", "column", "cols", "col":
			s.Columns = append(s.Columns, values...)
		case "rows", "row":
			s.Rows = append(s.Rows, values...)
		case "where":
			if s.Where == nil {
				s.Where = map[string]string{}
			}
			for _, cond := range splitQuoted(value, ',') {
				if strings.TrimSpace(cond) == "" {
					continue
				}
				col, val, ok := strings.Cut(cond, "=")
				if !ok {
					return Selector{}, fmt.Errorf("where condition %q has no '='", strings.TrimSpace(cond))
				}
				s.Where[unquote(col)] = unquote(val)
			}
		case "index", "indices", "rows_index":
			for _, v := range values {
				n, err := strconv.Atoi(v)
				if err != nil {
					return Selector{}, fmt.Errorf("row index %q: %w", v, err)
				}
				s.Indices = append(s.Indices, n)
			}
		default:
			continue
		}
		clauses++
	}
	if clauses == 0 {
		return Selector{Rows: []string{raw}}, nil
	}
	return s.clean(), nil
}

func (s Selector) clean() Selector {
	s.Columns = trimAll(s.Columns)
	s.Rows = trimAll(s.Rows)
	if len(s.Where) == 0 {
		s.Where = nil
	}
	return s
}

func splitList(v string) []string {
	parts := splitQuoted(v, ',')
	for i, p := range parts {
		parts[i] = unquote(p)
	}
	return trimAll(parts)
}

// splitQuoted splits v on sep, ignoring separators inside double quotes.
// The quotes are kept for unquote.
func splitQuoted(v string, sep rune) []string {
	var (
		out    []string
		quoted bool
		start  int
	)
	for i, r := range v {
		switch {
		case r == '"':
			quoted = !quoted
		case r == sep && !quoted:
			out = append(out, v[start:i])
			start = i + 1
		}
	}
	return append(out, v[start:])
}

// unquote trims v and strips one pair of surrounding double quotes.
func unquote(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}

func trimAll(in []string) []string {
	var out []string
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
