package extract

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/hybridqa-core/server/internal/core/textnorm"
)

// MatchKind tells which stage resolved a reference.
type MatchKind string

const (
	MatchExact      MatchKind = "exact"
	MatchNormalized MatchKind = "normalized"
	MatchFuzzy      MatchKind = "fuzzy"
)

// DefaultThreshold is the minimum fuzzy similarity.
const DefaultThreshold = 0.8

// Match is one resolved reference.
type Match struct {
	Index int
	Kind  MatchKind
	Score float64
}

// Normalize is the comparison form used by every matching stage.
func Normalize(s string) string {
	return textnorm.Normalize(s)
}

// Similarity is 1 - levenshtein/maxlen over normalized forms, in [0, 1].
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1
	}
	la, lb := utf8.RuneCountInString(na), utf8.RuneCountInString(nb)
	longest := max(la, lb)
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(na, nb))/float64(longest)
}

// Matcher resolves free-text references against ordered candidates.
type Matcher struct {
	Threshold float64
}

func (m Matcher) threshold() float64 {
	if m.Threshold <= 0 || m.Threshold > 1 {
		return DefaultThreshold
	}
	return m.Threshold
}

// Resolve picks a candidate for ref: exact match first, then normalized, then
// the best fuzzy similarity at or above the threshold. Ties go to the first
// candidate in order.
func (m Matcher) Resolve(ref string, candidates []string) (Match, bool) {
	for i, c := range candidates {
		if c == ref {
			return Match{Index: i, Kind: MatchExact, Score: 1}, true
		}
	}
	nref := Normalize(ref)
	if nref == "" {
		return Match{}, false
	}
	for i, c := range candidates {
		if Normalize(c) == nref {
			return Match{Index: i, Kind: MatchNormalized, Score: 1}, true
		}
	}
	best := Match{Index: -1}
	for i, c := range candidates {
		score := Similarity(ref, c)
		if score > best.Score {
			best = Match{Index: i, Kind: MatchFuzzy, Score: score}
		}
	}
	if best.Index < 0 || best.Score < m.threshold() {
		return Match{}, false
	}
	return best, true
}

// Filter returns the indices of every candidate equal to value, using the
// first stage that yields any match.
func (m Matcher) Filter(value string, candidates []string) ([]int, MatchKind) {
	var out []int
	for i, c := range candidates {
		if c == value {
			out = append(out, i)
		}
	}
	if len(out) > 0 {
		return out, MatchExact
	}
	nv := Normalize(value)
	for i, c := range candidates {
		if nv != "" && Normalize(c) == nv {
			out = append(out, i)
		}
	}
	if len(out) > 0 {
		return out, MatchNormalized
	}
	for i, c := range candidates {
		if Similarity(value, c) >= m.threshold() {
			out = append(out, i)
		}
	}
	if len(out) > 0 {
		return out, MatchFuzzy
	}
	return nil, ""
}
