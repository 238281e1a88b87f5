// Package metrics computes the derived values an answer needs: counts,
// numeric aggregates, differences and set operations over extracted cells.
package metrics

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hybridqa-core/server/internal/agent/model"
	"github.com/hybridqa-core/server/internal/core/textnorm"
)

// Supported operations.
const (
	OpCount         = "count"
	OpCountDistinct = "count_distinct"
	OpSum           = "sum"
	OpAvg           = "avg"
	OpMin           = "min"
	OpMax           = "max"
	OpDiff          = "diff"
	OpUnion         = "union"
	OpIntersection  = "intersection"
	OpDifference    = "difference"
)

// Ops lists the supported operations.
func Ops() []string {
	return []string{
		OpCount, OpCountDistinct, OpSum, OpAvg, OpMin, OpMax,
		OpDiff, OpUnion, OpIntersection, OpDifference,
	}
}

// MissingPolicy decides what happens to empty or malformed numeric cells.
type MissingPolicy string

const (
	MissingSkip  MissingPolicy = "skip"
	MissingZero  MissingPolicy = "zero"
	MissingError MissingPolicy = "error"
)

var (
	ErrUnknownOp = errors.New("unknown metric op")
	ErrMissing   = errors.New("missing or malformed value")
	ErrNoValues  = errors.New("no values")
)

// ParsePolicy validates a METRICS_MISSING_VALUES setting.
func ParsePolicy(s string) (MissingPolicy, error) {
	switch p := MissingPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case MissingSkip, MissingZero, MissingError:
		return p, nil
	case "":
		return MissingSkip, nil
	default:
		return "", fmt.Errorf("unknown missing-value policy %q", s)
	}
}

// Calculator evaluates metric requests under one missing-value policy.
type Calculator struct {
	policy MissingPolicy
}

func New(policy MissingPolicy) *Calculator {
	if policy == "" {
		policy = MissingSkip
	}
	return &Calculator{policy: policy}
}

// Policy returns the active missing-value policy.
func (c *Calculator) Policy() MissingPolicy {
	return c.policy
}

// Compute evaluates req against the given cell values. Set operations use
// req.Left and req.Right instead.
func (c *Calculator) Compute(req model.MetricRequest, values []string) (any, error) {
	switch strings.ToLower(strings.TrimSpace(req.Op)) {
	case OpCount:
		return c.count(values)
	case OpCountDistinct:
		return c.countDistinct(values)
	case OpSum, OpAvg, OpMin, OpMax:
		nums, err := c.numbers(values)
		if err != nil {
			return nil, err
		}
		if len(nums) == 0 {
			return nil, ErrNoValues
		}
		return aggregate(strings.ToLower(req.Op), nums), nil
	case OpDiff:
		nums, err := c.numbers(values)
		if err != nil {
			return nil, err
		}
		if len(nums) != 2 {
			return nil, fmt.Errorf("diff needs exactly 2 numeric values, got %d", len(nums))
		}
		return nums[0] - nums[1], nil
	case OpUnion:
		return union(req.Left, req.Right), nil
	case OpIntersection:
		return intersection(req.Left, req.Right), nil
	case OpDifference:
		return difference(req.Left, req.Right), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOp, req.Op)
	}
}

func (c *Calculator) count(values []string) (any, error) {
	n := 0
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			switch c.policy {
			case MissingError:
				return nil, ErrMissing
			case MissingZero:
				n++
			}
			continue
		}
		n++
	}
	return float64(n), nil
}

func (c *Calculator) countDistinct(values []string) (any, error) {
	seen := map[string]bool{}
	for _, v := range values {
		key := textnorm.Normalize(v)
		if key == "" {
			switch c.policy {
			case MissingError:
				return nil, ErrMissing
			case MissingZero:
				seen[""] = true
			}
			continue
		}
		seen[key] = true
	}
	return float64(len(seen)), nil
}

func (c *Calculator) numbers(values []string) ([]float64, error) {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		n, ok := ParseNumber(v)
		if ok {
			out = append(out, n)
			continue
		}
		switch c.policy {
		case MissingError:
			return nil, fmt.Errorf("%w: %q", ErrMissing, v)
		case MissingZero:
			out = append(out, 0)
		}
	}
	return out, nil
}

func aggregate(op string, nums []float64) float64 {
	switch op {
	case OpSum, OpAvg:
		sum := 0.0
		for _, n := range nums {
			sum += n
		}
		if op == OpAvg {
			return sum / float64(len(nums))
		}
		return sum
	case OpMin:
		m := math.Inf(1)
		for _, n := range nums {
			m = math.Min(m, n)
		}
		return m
	default:
		m := math.Inf(-1)
		for _, n := range nums {
			m = math.Max(m, n)
		}
		return m
	}
}

var numberCleaner = strings.NewReplacer(",", "", "$", "", "€", "", "£", "", "¥", "", "%", "", " ", "", "\u00a0", "")

// ParseNumber reads a cell as a number, ignoring thousands separators,
// currency symbols and a percent sign.
func ParseNumber(s string) (float64, bool) {
	s = numberCleaner.Replace(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// Set results keep first-occurrence order, left before right.
func union(left, right []string) []any {
	seen := map[string]bool{}
	out := []any{}
	for _, v := range append(append([]string(nil), left...), right...) {
		key := textnorm.Normalize(v)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

func intersection(left, right []string) []any {
	in := setOf(right)
	seen := map[string]bool{}
	out := []any{}
	for _, v := range left {
		key := textnorm.Normalize(v)
		if key == "" || seen[key] || !in[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

func difference(left, right []string) []any {
	in := setOf(right)
	seen := map[string]bool{}
	out := []any{}
	for _, v := range left {
		key := textnorm.Normalize(v)
		if key == "" || seen[key] || in[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

func setOf(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[textnorm.Normalize(v)] = true
	}
	return out
}

// ValuesFrom collects the cells a request refers to: its literal Values, or
// the named column across the extracted fragments of its table. A row seen
// in several fragments is counted once.
func ValuesFrom(req model.MetricRequest, fragments []model.TableFragment) []string {
	if len(req.Values) > 0 {
		return append([]string(nil), req.Values...)
	}
	if req.Column == "" {
		return nil
	}
	want := textnorm.Normalize(req.Column)
	type rowKey struct {
		table string
		row   int
	}
	seen := map[rowKey]bool{}
	var out []string
	for _, f := range fragments {
		if req.TableID != "" && f.TableID != req.TableID {
			continue
		}
		col := -1
		for i, c := range f.Columns {
			if c == req.Column || textnorm.Normalize(c) == want {
				col = i
				break
			}
		}
		if col < 0 {
			continue
		}
		for i, row := range f.Rows {
			key := rowKey{f.TableID, i}
			if i < len(f.RowIndices) {
				key.row = f.RowIndices[i]
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			if col < len(row) {
				out = append(out, row[col])
			}
		}
	}
	return out
}
