package model

// Question is the immutable session input.
type Question struct {
	Text    string `json:"question" yaml:"question"`
	TableID string `json:"table_id,omitempty" yaml:"table_id,omitempty"`
}

// TableFragment is the subset of one table matched by a selector.
type TableFragment struct {
	TableID    string     `json:"table_id"`
	Title      string     `json:"title,omitempty"`
	Columns    []string   `json:"columns"`
	RowIndices []int      `json:"row_indices"`
	Rows       [][]string `json:"rows"`
	Selector   string     `json:"selector"`
	Turn       int        `json:"turn"`
}

// Cells returns the values of a column across the fragment rows.
func (f TableFragment) Cells(column string) ([]string, bool) {
	idx := -1
	for i, c := range f.Columns {
		if c == column {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	out := make([]string, 0, len(f.Rows))
	for _, row := range f.Rows {
		if idx < len(row) {
			out = append(out, row[idx])
		}
	}
	return out, true
}

func (f TableFragment) clone() TableFragment {
	rows := make([][]string, len(f.Rows))
	for i, r := range f.Rows {
		rows[i] = append([]string(nil), r...)
	}
	f.Columns = append([]string(nil), f.Columns...)
	f.RowIndices = append([]int(nil), f.RowIndices...)
	f.Rows = rows
	return f
}

// Passage is a retrieved span of free text linked to tables.
type Passage struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	TableIDs []string `json:"table_ids,omitempty"`
	Score    float64  `json:"score"`
}

// TableCandidate is a retrieved table with enough shape to pick it without another call.
type TableCandidate struct {
	ID      string   `json:"id"`
	Title   string   `json:"title,omitempty"`
	Columns []string `json:"columns,omitempty"`
	Score   float64  `json:"score"`
}
