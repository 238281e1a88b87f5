// Package corpus holds the static table and passage corpus. A Repository is
// built once at startup and is read-only afterwards, so it is safe for
// unbounded concurrent reads.
package corpus

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrTableNotFound   = errors.New("table not found")
	ErrPassageNotFound = errors.New("passage not found")
	ErrColumnNotFound  = errors.New("column not found")
	ErrRowOutOfRange   = errors.New("row index out of range")
)

// Table is one structured table. Links holds the passage ids referenced by
// each cell, parallel to Rows.
type Table struct {
	ID     string
	Title  string
	URL    string
	Header []string
	Rows   [][]string
	Links  [][][]string
}

// NumRows returns the number of data rows.
func (t *Table) NumRows() int {
	return len(t.Rows)
}

// ColumnIndex returns the index of an exactly named column.
func (t *Table) ColumnIndex(name string) (int, error) {
	for i, h := range t.Header {
		if h == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
}

// Column returns every cell of an exactly named column.
func (t *Table) Column(name string) ([]string, error) {
	idx, err := t.ColumnIndex(name)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		out = append(out, cellAt(row, idx))
	}
	return out, nil
}

// Row returns a copy of one data row.
func (t *Table) Row(i int) ([]string, error) {
	if i < 0 || i >= len(t.Rows) {
		return nil, fmt.Errorf("%w: %d", ErrRowOutOfRange, i)
	}
	return append([]string(nil), t.Rows[i]...), nil
}

// Cell returns the value at row i of an exactly named column.
func (t *Table) Cell(i int, column string) (string, error) {
	idx, err := t.ColumnIndex(column)
	if err != nil {
		return "", err
	}
	if i < 0 || i >= len(t.Rows) {
		return "", fmt.Errorf("%w: %d", ErrRowOutOfRange, i)
	}
	return cellAt(t.Rows[i], idx), nil
}

// FindRows returns the indices of rows whose cells equal every condition.
func (t *Table) FindRows(conditions map[string]string) ([]int, error) {
	cols := make(map[int]string, len(conditions))
	for name, value := range conditions {
		idx, err := t.ColumnIndex(name)
		if err != nil {
			return nil, err
		}
		cols[idx] = value
	}
	out := []int{}
	for i, row := range t.Rows {
		match := true
		for idx, value := range cols {
			if cellAt(row, idx) != value {
				match = false
				break
			}
		}
		if match {
			out = append(out, i)
		}
	}
	return out, nil
}

// Text flattens the title and header for embedding.
func (t *Table) Text() string {
	return t.Title + " | " + strings.Join(t.Header, " | ")
}

// PassageIDs returns the distinct passage ids referenced by the table cells.
func (t *Table) PassageIDs() []string {
	seen := map[string]bool{}
	var out []string
	for _, row := range t.Links {
		for _, cell := range row {
			for _, link := range cell {
				if link != "" && !seen[link] {
					seen[link] = true
					out = append(out, link)
				}
			}
		}
	}
	return out
}

func cellAt(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}

// Passage is a span of free text linked to one or more tables.
type Passage struct {
	ID       string
	Text     string
	TableIDs []string
}

// Repository is the injected, read-only corpus.
type Repository struct {
	generation string
	tables     map[string]*Table
	tableIDs   []string
	passages   map[string]*Passage
	passageIDs []string
}

// New validates and indexes a corpus. Passages are linked to every table
// whose cells reference them, in addition to their declared tables.
func New(generation string, tables []Table, passages []Passage) (*Repository, error) {
	r := &Repository{
		generation: generation,
		tables:     make(map[string]*Table, len(tables)),
		passages:   make(map[string]*Passage, len(passages)),
	}
	for i := range tables {
		t := tables[i]
		if strings.TrimSpace(t.ID) == "" {
			return nil, fmt.Errorf("table %d has an empty id", i)
		}
		if _, dup := r.tables[t.ID]; dup {
			return nil, fmt.Errorf("duplicate table id %q", t.ID)
		}
		r.tables[t.ID] = &t
		r.tableIDs = append(r.tableIDs, t.ID)
	}
	for i := range passages {
		p := passages[i]
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("passage %d has an empty id", i)
		}
		if existing, dup := r.passages[p.ID]; dup {
			existing.TableIDs = appendUnique(existing.TableIDs, p.TableIDs...)
			continue
		}
		p.TableIDs = appendUnique(nil, p.TableIDs...)
		r.passages[p.ID] = &p
		r.passageIDs = append(r.passageIDs, p.ID)
	}

	sort.Strings(r.tableIDs)
	sort.Strings(r.passageIDs)

	for _, id := range r.tableIDs {
		for _, link := range r.tables[id].PassageIDs() {
			if p, ok := r.passages[link]; ok {
				p.TableIDs = appendUnique(p.TableIDs, id)
			}
		}
	}
	for _, p := range r.passages {
		sort.Strings(p.TableIDs)
	}
	return r, nil
}

// Generation identifies the corpus build for index caching.
func (r *Repository) Generation() string {
	return r.generation
}

// Table returns a table by id. The result must not be mutated.
func (r *Repository) Table(id string) (*Table, error) {
	t, ok := r.tables[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, id)
	}
	return t, nil
}

// Passage returns a passage by id. The result must not be mutated.
func (r *Repository) Passage(id string) (*Passage, error) {
	p, ok := r.passages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPassageNotFound, id)
	}
	return p, nil
}

// TableIDs returns every table id in ascending order.
func (r *Repository) TableIDs() []string {
	return append([]string(nil), r.tableIDs...)
}

// PassageIDs returns every passage id in ascending order.
func (r *Repository) PassageIDs() []string {
	return append([]string(nil), r.passageIDs...)
}

func appendUnique(dst []string, ids ...string) []string {
	for _, id := range ids {
		if id == "" {
			continue
		}
		found := false
		for _, have := range dst {
			if have == id {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, id)
		}
	}
	return dst
}
