package search

import (
	"context"
	"sort"
)

// ResultSet is the outcome of one query. A negative Total means the count is
// a lower bound.
type ResultSet struct {
	Total   int                       `json:"total"`
	Matches []ScoredMatch             `json:"matches"`
	Facets  map[string]map[string]int `json:"facets,omitempty"`
}

// DocFilter restricts the documents a query may return. A nil filter accepts
// everything.
type DocFilter func(id DocID) bool

// Accepts reports whether id passes the filter.
func (f DocFilter) Accepts(id DocID) bool {
	return f == nil || f(id)
}

// Scorer turns a textual score into the final ranking score.
type Scorer interface {
	Score(id DocID, textScore float64) float64
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(id DocID, textScore float64) float64

func (f ScorerFunc) Score(id DocID, textScore float64) float64 { return f(id, textScore) }

// FacetProvider returns the category values of a document.
type FacetProvider func(id DocID) map[string]string

// QueryMatcher executes queries. Implementations: TermBasedMatcher over a
// single index, the durable segment set, and the blender.
type QueryMatcher interface {
	FindMatches(ctx context.Context, q Query, filter DocFilter, limit int, scorer Scorer) (*ResultSet, error)
	CountMatches(ctx context.Context, q Query, filter DocFilter) (int, error)
	HasChanges(id DocID) bool
}

// Abs returns the magnitude of a possibly approximate count.
func Abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// SortMatches orders by descending score, then ascending DocID.
func SortMatches(matches []ScoredMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].DocID < matches[j].DocID
	})
}

// MergeFacets adds the tallies of src into dst, allocating dst if needed.
func MergeFacets(dst, src map[string]map[string]int) map[string]map[string]int {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]map[string]int, len(src))
	}
	for field, values := range src {
		counts, ok := dst[field]
		if !ok {
			counts = make(map[string]int, len(values))
			dst[field] = counts
		}
		for value, n := range values {
			counts[value] += n
		}
	}
	return dst
}

// Page cuts the window [offset, offset+length) out of a result set fetched
// with limit offset+length.
func Page(rs *ResultSet, offset, length int) *ResultSet {
	out := &ResultSet{Total: rs.Total, Facets: rs.Facets}
	if offset >= len(rs.Matches) {
		out.Matches = []ScoredMatch{}
		return out
	}
	end := offset + length
	if end > len(rs.Matches) {
		end = len(rs.Matches)
	}
	out.Matches = rs.Matches[offset:end]
	return out
}
